package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/mqtt"
)

// Command is the MQTT payload published to {prefix}/command/{device_id}.
//
// Commands are always queued without waiting: a broker callback must not
// block on the remote service, so a full queue drops the command.
type Command struct {
	Capabilities []device.Capability `json:"capabilities"`
	Priority     int                 `json:"priority"`
	TTLSeconds   int                 `json:"ttl_seconds"`
	Check        bool                `json:"check"`
	Checkable    bool                `json:"checkable"`
	VerifyFirst  bool                `json:"verify_first"`
	Exclusions   device.Exclusions   `json:"exclusions,omitempty"`
}

var errBadCommand = errors.New("commands: bad command")

// enqueuer is the part of the engine that accepts queued work.
type enqueuer interface {
	TryEnqueueDispatch(job engine.Job) (string, error)
	TryEnqueueVerifyDispatch(job engine.Job) (string, error)
}

// deviceLookup reports whether a device is registered.
type deviceLookup interface {
	Get(id string) (device.Device, error)
}

// commandIntake turns MQTT command messages into engine jobs.
type commandIntake struct {
	engine   enqueuer
	registry deviceLookup
	topics   mqtt.Topics
	logger   *logging.Logger
}

func newCommandIntake(e enqueuer, r deviceLookup, topics mqtt.Topics, logger *logging.Logger) *commandIntake {
	return &commandIntake{engine: e, registry: r, topics: topics, logger: logger}
}

// Handle is an mqtt.MessageHandler for the command subtree.
// Errors are logged by the MQTT client's dispatcher.
func (c *commandIntake) Handle(topic string, payload []byte) error {
	id, ok := c.topics.DeviceFromCommand(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", errBadCommand, topic)
	}
	if _, err := c.registry.Get(id); err != nil {
		return fmt.Errorf("command for %s: %w", id, err)
	}

	job, verifyFirst, err := parseCommand(id, payload)
	if err != nil {
		return err
	}

	var jobID string
	if verifyFirst {
		jobID, err = c.engine.TryEnqueueVerifyDispatch(job)
	} else {
		jobID, err = c.engine.TryEnqueueDispatch(job)
	}
	if err != nil {
		return fmt.Errorf("queueing command for %s: %w", id, err)
	}

	c.logger.Debug("command queued", "device_id", id, "job_id", jobID, "verify_first", verifyFirst)
	return nil
}

// parseCommand decodes and validates a command payload for device id.
func parseCommand(id string, payload []byte) (engine.Job, bool, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return engine.Job{}, false, fmt.Errorf("%w: %w", errBadCommand, err)
	}
	if cmd.TTLSeconds < 0 {
		return engine.Job{}, false, fmt.Errorf("%w: negative ttl_seconds", errBadCommand)
	}

	action := device.Action{DeviceID: id, Capabilities: cmd.Capabilities}
	if err := device.ValidateAction(action); err != nil {
		return engine.Job{}, false, fmt.Errorf("%w: %w", errBadCommand, err)
	}

	return engine.Job{
		Actions:    []device.Action{action},
		Check:      cmd.Check,
		Checkable:  cmd.Checkable,
		Priority:   cmd.Priority,
		TTL:        time.Duration(cmd.TTLSeconds) * time.Second,
		Exclusions: cmd.Exclusions,
	}, cmd.VerifyFirst, nil
}
