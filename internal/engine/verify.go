package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
)

// VerifyMode selects how Verify treats permissions and unreachable devices.
type VerifyMode int

const (
	// VerifyCommanded follows a real dispatch: devices the caller may not
	// touch are skipped, unreachable devices are skipped, and devices that
	// match are marked checked.
	VerifyCommanded VerifyMode = iota

	// VerifyPassive is a background consistency check: no permission check,
	// and an unreachable device aborts the pass with its error.
	VerifyPassive
)

// String returns the mode name used in logs.
func (m VerifyMode) String() string {
	if m == VerifyPassive {
		return "passive"
	}
	return "commanded"
}

// Verify re-reads each target device and compares the desired values with
// the live ones.
//
// Devices whose expected-state record no longer describes exactly these
// actions and exclusions are skipped: a newer command raced in and the
// comparison means nothing. Every difference across every device is
// collected into one mismatch error.
//
// Returns:
//   - error: nil when everything compared matches, a fault mismatch whose
//     Observed field holds the live state of each mismatching device, or
//     (passive mode only) the read failure of an unreachable device
func (e *Engine) Verify(ctx context.Context, actions []device.Action, excl device.Exclusions, mode VerifyMode) error {
	return e.verify(ctx, actions, excl, mode, 0)
}

type verifyTarget struct {
	action  device.Action
	compare device.Action
	excl    device.Exclusions
	snap    *device.Snapshot
	err     error
}

func (e *Engine) verify(ctx context.Context, actions []device.Action, extra device.Exclusions, mode VerifyMode, priority int) error {
	targets := make([]*verifyTarget, 0, len(actions))
	allowed := map[string]bool{}
	if mode == VerifyCommanded {
		candidates := make([]Candidate, len(actions))
		for i, a := range actions {
			candidates[i] = Candidate{DeviceID: a.DeviceID}
		}
		for _, id := range e.AskPermissions(candidates, priority, 0) {
			allowed[id] = true
		}
	}

	for _, a := range actions {
		if mode == VerifyCommanded && !allowed[a.DeviceID] {
			continue
		}
		t := &verifyTarget{action: a.Clone(), excl: e.exclusionsFor(a.DeviceID, extra)}
		if rec, ok := e.expected.get(a.DeviceID); ok && rec.Mutated {
			t.compare = a.Clone()
		} else {
			t.compare = e.registry.Mutate(a)
		}
		targets = append(targets, t)
	}

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			t.snap, t.err = e.read(ctx, t.action.DeviceID, readOptions{freshness: NoCache})
			return nil
		})
	}
	_ = g.Wait()

	var lines, ids []string
	var observed []device.Action
	for _, t := range targets {
		id := t.action.DeviceID
		if t.err != nil {
			if mode == VerifyPassive {
				return t.err
			}
			e.logger.Debug("verify skipped unreachable device", "device_id", id, "error", t.err)
			continue
		}

		one := []device.Action{t.action}
		if !e.expected.matches(id, one, t.excl) {
			if mode == VerifyCommanded {
				e.logger.Debug("verify aborted: newer command for device", "device_id", id)
			}
			continue
		}

		obs, diffs := compare(t.action, t.compare, t.excl, t.snap)
		if len(diffs) == 0 {
			if mode == VerifyCommanded && e.expected.markChecked(id, one, t.excl) {
				e.setPhase(id, PhaseChecked)
			}
			continue
		}

		name := e.registry.Name(id)
		for _, d := range diffs {
			lines = append(lines, fmt.Sprintf("%s: %s", name, d))
		}
		ids = append(ids, id)
		observed = append(observed, obs)
	}

	if len(ids) == 0 {
		return nil
	}
	return fault.Mismatch(strings.Join(lines, "\n"), ids, observed)
}

// compare checks want (the post-mutation action) against snap. It returns
// the unmutated action with live values substituted and one line per
// difference. Capabilities the device does not report pass.
func compare(orig, want device.Action, excl device.Exclusions, snap *device.Snapshot) (device.Action, []string) {
	obs := orig.Clone()
	var diffs []string

	for j, c := range want.Capabilities {
		live, ok := liveCapability(snap, c.Type, c.Instance)
		if !ok {
			continue
		}
		if j < len(obs.Capabilities) {
			obs.Capabilities[j] = device.Capability{Type: c.Type, Instance: live.Instance, Value: live.Value}
		}
		if live.Instance != c.Instance {
			diffs = append(diffs, fmt.Sprintf("%s %s -> %s", c.Type, c.Instance, live.Instance))
			continue
		}
		if excl.Has(c.Type, c.Instance) || device.Accepts(c.Value, live.Value) {
			continue
		}
		diffs = append(diffs, fmt.Sprintf("%s %s %s -> %s",
			c.Type, c.Instance, device.FormatValue(c.Value), device.FormatValue(live.Value)))
	}
	return obs, diffs
}

// liveCapability finds the reported capability for (typ, instance), falling
// back to the first one of the same type so an instance change is visible.
func liveCapability(snap *device.Snapshot, typ, instance string) (device.CapabilityState, bool) {
	for _, c := range snap.Capabilities {
		if c.Type == typ && c.Instance == instance {
			return c, true
		}
	}
	return snap.Capability(typ)
}
