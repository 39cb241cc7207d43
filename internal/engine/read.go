package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
	"github.com/nerrad567/gray-logic-arbiter/internal/retry"
)

// readOptions tunes a single read.
type readOptions struct {
	freshness time.Duration

	// probe reads ignore quarantine, run once and never notify. Recovery and
	// ping use them to test a device without side effects on success paths.
	probe bool
}

// Read returns the device's snapshot.
//
// Reads are memoized per (device, freshness) within time buckets of width
// freshness. A freshness of 0 uses the configured default; NoCache forces a
// live read and evicts the device's cached entries. Concurrent reads of the
// same bucket share one remote call.
//
// Returns:
//   - *device.Snapshot: A copy the caller may modify
//   - error: ErrQuarantined for a quarantined device, or the classified
//     remote failure (the device is quarantined as a side effect)
func (e *Engine) Read(ctx context.Context, id string, freshness time.Duration) (*device.Snapshot, error) {
	return e.read(ctx, id, readOptions{freshness: freshness})
}

func (e *Engine) read(ctx context.Context, id string, opts readOptions) (*device.Snapshot, error) {
	if !opts.probe && e.quarantine.has(id) {
		return nil, fmt.Errorf("%w: %s", ErrQuarantined, id)
	}

	width := opts.freshness
	if width == 0 {
		width = e.cfg.DefaultFreshness
	}
	if width < 0 {
		snap, err := e.live(ctx, id, opts)
		e.cache.invalidate(id)
		if err != nil {
			return nil, err
		}
		return snap.Clone(), nil
	}

	bucket := bucketOf(e.now(), width)
	if snap, ok := e.cache.get(id, width, bucket); ok {
		return snap.Clone(), nil
	}

	gen := e.cache.generation(id)
	v, err, _ := e.cache.flight.Do(flightKey(id, width, bucket, gen), func() (any, error) {
		snap, err := e.live(ctx, id, opts)
		if err != nil {
			return nil, err
		}
		e.cache.put(id, width, bucket, gen, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*device.Snapshot).Clone(), nil
}

// live performs the remote read and applies the failure policy.
func (e *Engine) live(ctx context.Context, id string, opts readOptions) (*device.Snapshot, error) {
	fetch := func(ctx context.Context) (*device.Snapshot, error) {
		return e.adapter.DeviceInfo(ctx, id)
	}

	var snap *device.Snapshot
	var err error
	if opts.probe {
		snap, err = fetch(ctx)
	} else {
		snap, err = retry.Value(ctx, e.retry, fetch)
	}
	if err != nil {
		e.readFailed(ctx, id, err, opts)
		return nil, err
	}

	e.setLast(snap)
	return snap, nil
}

// readFailed quarantines the device for classified remote failures.
// Cancellation and unclassified errors leave it alone.
func (e *Engine) readFailed(ctx context.Context, id string, err error, opts readOptions) {
	if ctx.Err() != nil {
		return
	}

	switch fault.KindOf(err) {
	case fault.KindOffline, fault.KindServer, fault.KindClient, fault.KindTimeout:
	default:
		e.logger.Warn("device read failed", "device_id", id, "error", err)
		return
	}

	e.expected.remove(id)
	e.quarantineDevice(ctx, id, nil, err)

	if !opts.probe && fault.ShouldNotify(err) {
		e.notify(ctx, fmt.Sprintf("%s: %v", e.registry.Name(id), err), nil)
	}
}
