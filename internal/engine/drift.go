package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
)

// Phase is a device's position in the drift state machine.
type Phase int

// Drift phases.
const (
	PhaseUnchecked Phase = iota
	PhaseChecked
	PhaseSuspect
	PhaseOverrideConfirmed
)

// String returns the phase name used in logs and the API.
func (p Phase) String() string {
	switch p {
	case PhaseChecked:
		return "checked"
	case PhaseSuspect:
		return "suspect"
	case PhaseOverrideConfirmed:
		return "override_confirmed"
	default:
		return "unchecked"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Phase returns the device's drift phase. A device without a checked
// expected-state record is unchecked.
func (e *Engine) Phase(id string) Phase {
	rec, ok := e.expected.get(id)
	if !ok || !rec.Checked {
		return PhaseUnchecked
	}
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()
	if p, ok := e.phases[id]; ok {
		return p
	}
	return PhaseChecked
}

func (e *Engine) setPhase(id string, p Phase) {
	e.phaseMu.Lock()
	e.phases[id] = p
	e.phaseMu.Unlock()
}

// DriftCycle runs one pass of the human-override detector.
//
// Every checked, non-quarantined record is verified passively. A mismatch
// moves the device to Suspect and schedules a second opinion after the drift
// delay; second opinions run concurrently and the cycle waits for all of
// them. Only a second mismatch against the same, unchanged record confirms
// an override. Connectivity failures abort the device for this cycle.
func (e *Engine) DriftCycle(ctx context.Context) {
	var g errgroup.Group

	for _, rec := range e.expected.list() {
		if !rec.Checked || e.quarantine.has(rec.DeviceID) {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		err := e.verify(ctx, rec.Actions, rec.Exclusions, VerifyPassive, 0)
		switch {
		case err == nil:
			if e.expected.seqOf(rec.DeviceID) == rec.Seq {
				e.setPhase(rec.DeviceID, PhaseChecked)
			}
		case errors.Is(err, fault.ErrMismatch):
			e.setPhase(rec.DeviceID, PhaseSuspect)
			e.logger.Debug("drift suspected", "device_id", rec.DeviceID, "detail", err)
			g.Go(func() error {
				e.secondOpinion(ctx, rec)
				return nil
			})
		default:
			e.logger.Debug("drift check skipped", "device_id", rec.DeviceID, "error", err)
		}
	}
	_ = g.Wait()
}

func (e *Engine) secondOpinion(ctx context.Context, rec ExpectedState) {
	id := rec.DeviceID
	if err := e.sleep(ctx, e.cfg.DriftDelay); err != nil {
		return
	}
	if e.expected.seqOf(id) != rec.Seq || e.quarantine.has(id) {
		e.logger.Debug("drift check abandoned: record changed", "device_id", id)
		return
	}

	err := e.verify(ctx, rec.Actions, rec.Exclusions, VerifyPassive, 0)
	switch {
	case err == nil:
		e.setPhase(id, PhaseChecked)
	case errors.Is(err, fault.ErrMismatch):
		if e.expected.seqOf(id) != rec.Seq {
			return
		}
		e.setPhase(id, PhaseOverrideConfirmed)
		fe, _ := fault.As(err)
		e.RegisterOverride(ctx, id, fe.Observed, rec.Exclusions, e.now(), fe.Message)
	default:
		e.logger.Debug("drift second opinion skipped", "device_id", id, "error", err)
	}
}

// RegisterOverride hands a device to the human who changed it.
//
// Parameters:
//   - ctx: Context for persistence and notification
//   - id: Device operated by hand
//   - observed: Live state as reported by a mismatch (entries for other devices are ignored)
//   - excl: Exclusions carried into the new baseline
//   - detectedAt: When the human change was first seen
//   - reason: Operator-facing description of the difference
//
// Returns:
//   - bool: false when the device's human-control window has already passed
//
// An accepted override locks the device at the override priority until the
// window ends and adopts the observed state as a new checked baseline, so
// drift is not reported again for the same change.
func (e *Engine) RegisterOverride(ctx context.Context, id string, observed []device.Action, excl device.Exclusions, detectedAt time.Time, reason string) bool {
	until := e.registry.HumanControlUntil(id, detectedAt)
	if !until.After(e.now()) {
		e.logger.Debug("override window already passed", "device_id", id, "until", until)
		return false
	}

	e.locks.set(id, e.cfg.OverridePriority, until)

	var baseline []device.Action
	for _, a := range observed {
		if a.DeviceID == id {
			baseline = append(baseline, a)
		}
	}
	if len(baseline) > 0 {
		e.expected.set(id, baseline, excl, true, true)
	} else {
		e.expected.remove(id)
	}

	e.rememberHuman(ctx, id, detectedAt)
	e.record(ctx, id, journal.KindOverride, reason)
	e.logger.Info("human override detected", "device_id", id, "name", e.registry.Name(id), "until", until)

	text := "Detected human:"
	if reason != "" {
		text += "\n" + reason
	}
	e.notify(ctx, text, &until)
	return true
}

// LastHumanDetected returns when an override was last registered for the device.
func (e *Engine) LastHumanDetected(id string) (time.Time, bool) {
	e.humanMu.Lock()
	defer e.humanMu.Unlock()
	t, ok := e.humans[id]
	return t, ok
}

func (e *Engine) rememberHuman(ctx context.Context, id string, at time.Time) {
	e.humanMu.Lock()
	e.humans[id] = at.UTC()
	snapshot := make(map[string]time.Time, len(e.humans))
	for k, v := range e.humans {
		snapshot[k] = v
	}
	e.humanMu.Unlock()

	if e.journal == nil {
		return
	}
	if err := e.journal.Put(ctx, journal.KeyLastHumanDetected, snapshot); err != nil {
		e.logger.Warn("failed to persist human detection", "device_id", id, "error", err)
	}
}
