package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_TryEnqueueFull(t *testing.T) {
	q := New[int]("test", 2)

	if err := q.TryEnqueue(1); err != nil {
		t.Fatalf("TryEnqueue(1) error = %v", err)
	}
	if err := q.TryEnqueue(2); err != nil {
		t.Fatalf("TryEnqueue(2) error = %v", err)
	}
	if err := q.TryEnqueue(3); !errors.Is(err, ErrFull) {
		t.Errorf("TryEnqueue(3) error = %v, want ErrFull", err)
	}
	if q.Len() != 2 || q.HighWater() != 2 {
		t.Errorf("Len() = %d, HighWater() = %d", q.Len(), q.HighWater())
	}
}

func TestQueue_EnqueueRespectsContext(t *testing.T) {
	q := New[int]("test", 1)
	_ = q.TryEnqueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue() error = %v, want deadline exceeded", err)
	}
}

func TestQueue_ResetHighWater(t *testing.T) {
	q := New[int]("test", 4)
	for i := 0; i < 3; i++ {
		_ = q.TryEnqueue(i)
	}
	<-q.items
	<-q.items

	if hw := q.ResetHighWater(); hw != 3 {
		t.Errorf("ResetHighWater() = %d, want 3", hw)
	}
	if hw := q.HighWater(); hw != 1 {
		t.Errorf("HighWater() after reset = %d, want current depth 1", hw)
	}
}

func TestQueue_Closed(t *testing.T) {
	q := New[int]("test", 1)
	q.Close()
	q.Close()

	if err := q.TryEnqueue(1); !errors.Is(err, ErrClosed) {
		t.Errorf("TryEnqueue() error = %v, want ErrClosed", err)
	}
	if err := q.Enqueue(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() error = %v, want ErrClosed", err)
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	if c := New[int]("test", 0).Cap(); c != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", c, DefaultCapacity)
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func TestPool_DrainsAndSurvivesFailures(t *testing.T) {
	q := New[int]("test", 16)
	logger := &recordingLogger{}

	var mu sync.Mutex
	seen := map[int]bool{}
	handle := func(_ context.Context, n int) error {
		switch n {
		case 2:
			return errors.New("bad item")
		case 3:
			panic("boom")
		}
		mu.Lock()
		seen[n] = true
		mu.Unlock()
		return nil
	}

	for i := 1; i <= 5; i++ {
		if err := q.TryEnqueue(i); err != nil {
			t.Fatal(err)
		}
	}
	q.Close()

	pool := NewPool(q, 3, handle, logger)
	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if pool.Processed() != 3 || pool.Failed() != 2 {
		t.Errorf("Processed() = %d, Failed() = %d", pool.Processed(), pool.Failed())
	}
	for _, n := range []int{1, 4, 5} {
		if !seen[n] {
			t.Errorf("item %d not processed", n)
		}
	}
	if len(logger.errors) != 2 {
		t.Errorf("logged %d errors, want 2", len(logger.errors))
	}
}

func TestPool_StopsOnCancel(t *testing.T) {
	q := New[int]("test", 1)
	pool := NewPool(q, 2, func(context.Context, int) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
