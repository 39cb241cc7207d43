package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
	"github.com/nerrad567/gray-logic-arbiter/internal/retry"
)

// Candidate is one device asking for permission. A nil Payload is a
// check-only request that never installs a lock.
type Candidate struct {
	DeviceID string
	Payload  *device.Action
}

// AskPermissions returns the IDs of the candidates allowed to proceed.
//
// A quarantined candidate is denied; its payload, if any, replaces the
// quarantine's pending action for replay on recovery. Otherwise a candidate
// is admitted when its device has no lock, a level-0 lock, an expired lock,
// or a lock at or below priority. Admitting a payload with ttl > 0 installs
// Lock{priority, now+ttl}.
func (e *Engine) AskPermissions(candidates []Candidate, priority int, ttl time.Duration) []string {
	now := e.now()
	admitted := make([]string, 0, len(candidates))

	for _, c := range candidates {
		if e.quarantine.offer(c.DeviceID, c.Payload) {
			e.logger.Debug("permission denied: quarantined", "device_id", c.DeviceID)
			continue
		}
		if !e.locks.admits(c.DeviceID, priority, now) {
			e.logger.Debug("permission denied: locked", "device_id", c.DeviceID, "priority", priority)
			continue
		}
		if ttl > 0 && c.Payload != nil {
			e.locks.set(c.DeviceID, priority, now.Add(ttl))
		}
		admitted = append(admitted, c.DeviceID)
	}
	return admitted
}

// DispatchOptions controls DevicesAction.
type DispatchOptions struct {
	Priority int
	TTL      time.Duration

	// Checkable records the expected state before the write so a later
	// verification or drift pass has a baseline.
	Checkable bool

	// Exclusions are merged with each device's static exclusions.
	Exclusions device.Exclusions
}

// DevicesAction sends actions to the devices that pass AskPermissions.
//
// Each admitted action goes through the device's mutation hook just before
// the write. On a surfaced offline, server or timeout failure every device
// named by the error is quarantined with its action attached and loses its
// expected state.
//
// Returns:
//   - []device.ActionResult: Per-capability results of the last attempt
//   - error: nil when nothing was admitted or every result is DONE
func (e *Engine) DevicesAction(ctx context.Context, actions []device.Action, opts DispatchOptions) ([]device.ActionResult, error) {
	if err := device.ValidateActions(actions); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(actions))
	for i := range actions {
		a := actions[i]
		candidates[i] = Candidate{DeviceID: a.DeviceID, Payload: &a}
	}
	admitted := e.AskPermissions(candidates, opts.Priority, opts.TTL)
	if len(admitted) == 0 {
		return nil, nil
	}

	allowed := make(map[string]bool, len(admitted))
	for _, id := range admitted {
		allowed[id] = true
	}
	batch := make([]device.Action, 0, len(admitted))
	for _, a := range actions {
		if allowed[a.DeviceID] {
			batch = append(batch, a.Clone())
		}
	}

	if opts.Checkable {
		for _, a := range batch {
			e.expected.set(a.DeviceID, []device.Action{a}, e.exclusionsFor(a.DeviceID, opts.Exclusions), false, false)
		}
	}

	wire := e.registry.MutateAll(batch)
	results, err := retry.Value(ctx, e.retry, func(ctx context.Context) ([]device.ActionResult, error) {
		return e.adapter.Actions(ctx, wire)
	})
	for _, a := range batch {
		e.cache.invalidate(a.DeviceID)
	}
	if err != nil {
		e.dispatchFailed(ctx, batch, err)
		return results, err
	}

	e.logger.Debug("actions dispatched", "devices", admitted, "priority", opts.Priority)
	return results, nil
}

func (e *Engine) dispatchFailed(ctx context.Context, batch []device.Action, err error) {
	if ctx.Err() != nil {
		return
	}
	switch fault.KindOf(err) {
	case fault.KindOffline, fault.KindServer, fault.KindTimeout:
	default:
		return
	}

	byID := make(map[string]device.Action, len(batch))
	for _, a := range batch {
		byID[a.DeviceID] = a
	}
	ids := fault.DeviceIDs(err)
	if len(ids) == 0 {
		for _, a := range batch {
			ids = append(ids, a.DeviceID)
		}
	}

	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			continue
		}
		e.expected.remove(id)
		e.quarantineDevice(ctx, id, &a, err)
	}
	if fault.ShouldNotify(err) {
		e.notify(ctx, err.Error(), nil)
	}
}

// ChangeOptions controls ChangeDevicesCapabilities.
type ChangeOptions struct {
	// Check verifies the effect after dispatch and retries on mismatch.
	Check bool

	// Checkable records expected state without verifying now, leaving the
	// device to the drift detector.
	Checkable bool

	Priority   int
	TTL        time.Duration
	Exclusions device.Exclusions
}

// ChangeDevicesCapabilities dispatches actions and, when Check is set,
// verifies them, repeating the pair on mismatch.
//
// Dispatch failures are final here: DevicesAction already retried them.
// When mismatches survive every attempt, the mismatching devices lose their
// expected state and a notification names the differences.
func (e *Engine) ChangeDevicesCapabilities(ctx context.Context, actions []device.Action, opts ChangeOptions) error {
	dispatch := DispatchOptions{
		Priority:   opts.Priority,
		TTL:        opts.TTL,
		Checkable:  opts.Check || opts.Checkable,
		Exclusions: opts.Exclusions,
	}

	err := e.retry.Do(ctx, func(ctx context.Context) error {
		if _, err := e.DevicesAction(ctx, actions, dispatch); err != nil {
			return fault.Terminal(err)
		}
		if !opts.Check {
			return nil
		}
		return e.verify(ctx, actions, opts.Exclusions, VerifyCommanded, opts.Priority)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, fault.ErrMismatch) {
		fe, _ := fault.As(err)
		for _, id := range fe.DeviceIDs {
			e.expected.remove(id)
			e.record(ctx, id, journal.KindMismatch, fe.Message)
		}
		e.notify(ctx, fe.Message, nil)
	}
	return err
}

// SubmitAction sends one device's capabilities synchronously.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - id: Target device
//   - capabilities: Desired (type, instance, value) triples
//   - priority: Lock priority of the caller
//   - ttl: Lock duration to install (0 = none)
//   - checkable: Verify the effect now and track the device for drift
func (e *Engine) SubmitAction(ctx context.Context, id string, capabilities []device.Capability, priority int, ttl time.Duration, checkable bool) error {
	if _, err := e.registry.Get(id); err != nil {
		return err
	}
	a := device.Action{DeviceID: id, Capabilities: capabilities}
	if err := device.ValidateAction(a); err != nil {
		return fmt.Errorf("submit %s: %w", id, err)
	}
	return e.ChangeDevicesCapabilities(ctx, []device.Action{a}, ChangeOptions{
		Check:    checkable,
		Priority: priority,
		TTL:      ttl,
	})
}
