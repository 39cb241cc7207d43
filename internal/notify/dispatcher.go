package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Sink delivers a message to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Dispatcher drains a Queue into sinks in FIFO order.
type Dispatcher struct {
	queue  *Queue
	sinks  []Sink
	logger Logger
}

// NewDispatcher creates a dispatcher for q.
func NewDispatcher(q *Queue, logger Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{queue: q, sinks: sinks, logger: logger}
}

// Run delivers messages until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.Flush(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.queue.Ready():
		}
	}
}

// Flush delivers every queued message and returns how many were sent.
func (d *Dispatcher) Flush(ctx context.Context) int {
	n := 0
	for {
		msg, ok := d.queue.Pop()
		if !ok {
			return n
		}
		for _, s := range d.sinks {
			if err := s.Send(ctx, msg); err != nil {
				d.logger.Warn("notification sink failed", "sink", s.Name(), "id", msg.ID, "error", err)
			}
		}
		n++
	}
}

// LogSink writes notifications to the service log.
type LogSink struct {
	Logger Logger
}

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Send implements Sink.
func (s LogSink) Send(_ context.Context, msg Message) error {
	args := []any{"id", msg.ID, "text", msg.Text}
	if msg.DeleteAt != nil {
		args = append(args, "delete_at", msg.DeleteAt.UTC())
	}
	s.Logger.Info("notification", args...)
	return nil
}

// Publisher publishes raw payloads to an MQTT topic.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes notifications as JSON to one topic at QoS 1.
type MQTTSink struct {
	Publisher Publisher
	Topic     string
}

// Name implements Sink.
func (MQTTSink) Name() string { return "mqtt" }

// Send implements Sink.
func (s MQTTSink) Send(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}
	return s.Publisher.Publish(s.Topic, payload, 1, false)
}

// Broadcaster fans a payload out to WebSocket subscribers of a channel.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubChannel is the WebSocket channel notifications are broadcast on.
const HubChannel = "notification"

// HubSink broadcasts notifications to WebSocket clients.
type HubSink struct {
	Hub Broadcaster
}

// Name implements Sink.
func (HubSink) Name() string { return "websocket" }

// Send implements Sink.
func (s HubSink) Send(_ context.Context, msg Message) error {
	s.Hub.Broadcast(HubChannel, msg)
	return nil
}
