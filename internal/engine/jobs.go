package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/queue"
)

// Job is queued work for the dispatch or verify-then-dispatch workers.
type Job struct {
	ID         string            `json:"id"`
	Actions    []device.Action   `json:"actions"`
	Check      bool              `json:"check"`
	Checkable  bool              `json:"checkable"`
	Priority   int               `json:"priority"`
	TTL        time.Duration     `json:"ttl"`
	Exclusions device.Exclusions `json:"exclusions,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// QueueStats describes one work queue.
type QueueStats struct {
	Name      string `json:"name"`
	Depth     int    `json:"depth"`
	HighWater int    `json:"high_water"`
	Capacity  int    `json:"capacity"`
}

// EnqueueDispatch queues actions for ChangeDevicesCapabilities on a worker
// and returns the job ID without waiting for the result.
//
// When the job carries a TTL the lock is installed immediately, so later
// lower-priority callers are held off while the job waits in the queue.
func (e *Engine) EnqueueDispatch(ctx context.Context, job Job) (string, error) {
	return e.enqueue(ctx, e.dispatchQ, job, true)
}

// EnqueueVerifyDispatch queues actions that are compared with live state
// first; only devices that differ are dispatched.
func (e *Engine) EnqueueVerifyDispatch(ctx context.Context, job Job) (string, error) {
	return e.enqueue(ctx, e.verifyQ, job, true)
}

// TryEnqueueDispatch is EnqueueDispatch for callers that must not wait.
// A full queue returns ErrQueueFull immediately.
func (e *Engine) TryEnqueueDispatch(job Job) (string, error) {
	return e.enqueue(context.Background(), e.dispatchQ, job, false)
}

// TryEnqueueVerifyDispatch is EnqueueVerifyDispatch for callers that must
// not wait.
func (e *Engine) TryEnqueueVerifyDispatch(job Job) (string, error) {
	return e.enqueue(context.Background(), e.verifyQ, job, false)
}

func (e *Engine) enqueue(ctx context.Context, q *queue.Queue[Job], job Job, wait bool) (string, error) {
	if !e.isRunning() {
		return "", ErrNotRunning
	}
	if err := device.ValidateActions(job.Actions); err != nil {
		return "", err
	}

	job.Actions = device.CloneActions(job.Actions)
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = e.now()
	e.preLock(job)

	if err := q.TryEnqueue(job); err != nil {
		if errors.Is(err, queue.ErrFull) {
			if !wait {
				return "", fmt.Errorf("%w: %s", ErrQueueFull, q.Name())
			}
			e.logger.Warn("queue full, waiting", "queue", q.Name(), "job_id", job.ID)
			if err := q.Enqueue(ctx, job); err != nil {
				return "", fmt.Errorf("%w: %s: %v", ErrQueueFull, q.Name(), err)
			}
			return job.ID, nil
		}
		return "", fmt.Errorf("enqueue %s: %w", q.Name(), err)
	}
	return job.ID, nil
}

// preLock installs the job's lock on every device the lock table admits.
func (e *Engine) preLock(job Job) {
	if job.TTL <= 0 {
		return
	}
	now := e.now()
	for _, a := range job.Actions {
		if e.locks.admits(a.DeviceID, job.Priority, now) {
			e.locks.set(a.DeviceID, job.Priority, now.Add(job.TTL))
		}
	}
}

// runDispatch is the dispatch worker handler.
func (e *Engine) runDispatch(ctx context.Context, job Job) error {
	return e.ChangeDevicesCapabilities(ctx, job.Actions, ChangeOptions{
		Check:      job.Check,
		Checkable:  job.Checkable,
		Priority:   job.Priority,
		TTL:        job.TTL,
		Exclusions: job.Exclusions,
	})
}

// runVerifyDispatch is the verify-then-dispatch worker handler. Each device
// is read once without retry; devices that cannot be read or already match
// are left alone.
func (e *Engine) runVerifyDispatch(ctx context.Context, job Job) error {
	var stale []device.Action
	for _, a := range job.Actions {
		if e.quarantine.has(a.DeviceID) {
			continue
		}
		snap, err := e.read(ctx, a.DeviceID, readOptions{freshness: NoCache, probe: true})
		if err != nil {
			e.logger.Debug("verify-dispatch read failed", "device_id", a.DeviceID, "error", err)
			continue
		}
		excl := e.exclusionsFor(a.DeviceID, job.Exclusions)
		if _, diffs := compare(a, e.registry.Mutate(a), excl, snap); len(diffs) > 0 {
			stale = append(stale, a)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return e.ChangeDevicesCapabilities(ctx, stale, ChangeOptions{
		Check:      true,
		Priority:   job.Priority,
		TTL:        job.TTL,
		Exclusions: job.Exclusions,
	})
}

// QueueStats returns depth and high-water marks of both work queues.
func (e *Engine) QueueStats() []QueueStats {
	out := make([]QueueStats, 0, 2)
	for _, q := range []*queue.Queue[Job]{e.dispatchQ, e.verifyQ} {
		out = append(out, QueueStats{
			Name:      q.Name(),
			Depth:     q.Len(),
			HighWater: q.HighWater(),
			Capacity:  q.Cap(),
		})
	}
	return out
}
