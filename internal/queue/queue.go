// Package queue provides bounded FIFO work queues drained by worker pools.
//
// Producers hand work to a Queue and return immediately; a Pool of workers
// takes items off the queue and runs a handler for each. A failed item is
// logged and dropped, never requeued. A panicking handler is recovered so one
// bad job cannot take a worker down.
//
// Usage:
//
//	q := queue.New[Job]("dispatch", 1024)
//	pool := queue.NewPool(q, 10, handle, logger)
//	go pool.Run(ctx)
//	_ = q.Enqueue(ctx, job)
package queue

import (
	"context"
	"errors"
	"sync"
)

// Domain errors for the queue package.
var (
	// ErrFull is returned by TryEnqueue when the queue has no free slot.
	ErrFull = errors.New("queue: full")

	// ErrClosed is returned when enqueueing to a closed queue.
	ErrClosed = errors.New("queue: closed")
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1024

// Queue is a bounded FIFO backed by a buffered channel. Safe for concurrent use.
type Queue[T any] struct {
	name  string
	items chan T

	// closeMu is held for reading across sends so Close never races a send.
	closeMu sync.RWMutex
	closed  bool

	mu        sync.Mutex
	highWater int
}

// New creates a queue holding at most capacity items.
func New[T any](name string, capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{name: name, items: make(chan T, capacity)}
}

// Name returns the queue name used in logs and metrics.
func (q *Queue[T]) Name() string {
	return q.name
}

// Enqueue adds an item, waiting for space until ctx is done.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.items <- item:
		q.observe()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue adds an item without waiting. Returns ErrFull when no slot is free.
func (q *Queue[T]) TryEnqueue(item T) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.items <- item:
		q.observe()
		return nil
	default:
		return ErrFull
	}
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// HighWater returns the largest depth seen since the last reset.
func (q *Queue[T]) HighWater() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.highWater
}

// ResetHighWater returns the high-water mark and restarts it from the current depth.
func (q *Queue[T]) ResetHighWater() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	hw := q.highWater
	q.highWater = len(q.items)
	return hw
}

// Close stops accepting items. Workers drain what is already queued.
// Safe to call multiple times.
func (q *Queue[T]) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.items)
}

func (q *Queue[T]) observe() {
	depth := len(q.items)
	q.mu.Lock()
	if depth > q.highWater {
		q.highWater = depth
	}
	q.mu.Unlock()
}
