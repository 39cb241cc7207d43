// Package notify carries human-readable notifications from the engine to
// whoever should read them.
//
// The engine appends messages to a Queue without blocking. A Dispatcher
// drains the queue in order and hands each message to every configured Sink
// (log, MQTT, WebSocket). A failing sink is logged and skipped; it never
// holds up the others.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the queue when none is given.
const DefaultCapacity = 1000

// ErrEmptyText is returned when publishing a message without text.
var ErrEmptyText = errors.New("notify: message text is empty")

// Message is one notification.
type Message struct {
	ID   string `json:"id"`
	Text string `json:"text"`

	// DeleteAt asks the consumer to remove the message at that time.
	DeleteAt *time.Time `json:"delete_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Logger defines the logging interface used by the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Queue is an in-memory FIFO of messages. When full, the oldest message is
// dropped to make room. Safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	dropped  int
	ready    chan struct{}
	now      func() time.Time
}

// NewQueue creates a queue holding at most capacity messages.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Publish appends a message, filling in its ID and creation time when unset.
func (q *Queue) Publish(_ context.Context, msg Message) error {
	if msg.Text == "" {
		return ErrEmptyText
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = q.now().UTC()
	}

	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Notify publishes text with an optional auto-delete time.
func (q *Queue) Notify(ctx context.Context, text string, deleteAt *time.Time) error {
	return q.Publish(ctx, Message{Text: text, DeleteAt: deleteAt})
}

// Pop removes and returns the oldest message.
func (q *Queue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Message{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg, true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many messages were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after each Publish.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
