package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Logger defines the logging interface used by worker pools.
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

// Handler processes one queued item.
type Handler[T any] func(ctx context.Context, item T) error

// Pool runs a fixed number of workers draining one queue.
type Pool[T any] struct {
	queue   *Queue[T]
	workers int
	handle  Handler[T]
	logger  Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool of workers for q.
//
// Parameters:
//   - q: Queue to drain
//   - workers: Number of concurrent workers (minimum 1)
//   - handle: Function run for each item
//   - logger: Logger for dropped items and recovered panics (may be nil)
func NewPool[T any](q *Queue[T], workers int, handle Handler[T], logger Logger) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pool[T]{queue: q, workers: workers, handle: handle, logger: logger}
}

// Run starts the workers and blocks until ctx is cancelled or the queue is
// closed and drained. Item failures never stop the pool.
func (p *Pool[T]) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

// Processed returns how many items finished without error.
func (p *Pool[T]) Processed() int64 {
	return p.processed.Load()
}

// Failed returns how many items were dropped after an error or panic.
func (p *Pool[T]) Failed() int64 {
	return p.failed.Load()
}

func (p *Pool[T]) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue.items:
			if !ok {
				return
			}
			if err := p.run(ctx, item); err != nil {
				p.failed.Add(1)
				p.logger.Error("queued job dropped",
					"queue", p.queue.name,
					"worker", worker,
					"error", err,
				)
				continue
			}
			p.processed.Add(1)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.logger.Debug("recovered worker panic", "queue", p.queue.name, "stack", string(debug.Stack()))
		}
	}()
	return p.handle(ctx, item)
}
