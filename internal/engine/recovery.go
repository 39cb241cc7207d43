package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
)

// maxNoticeShift caps the reminder backoff exponent.
const maxNoticeShift = 16

// RecoveryCycle probes every quarantined, pinged device once.
//
// A device that answers leaves quarantine. Then exactly one of these
// happens: a recent pending action is replayed (checked); an existing
// expected-state record is verified passively; or a record is seeded from
// the live state. A device that still fails gets a reminder notification
// once its quarantine is older than NoticeBase doubled per earlier reminder.
func (e *Engine) RecoveryCycle(ctx context.Context) {
	for _, rec := range e.quarantine.list() {
		if ctx.Err() != nil {
			return
		}
		if !e.registry.IsPinged(rec.DeviceID) {
			continue
		}
		e.recover(ctx, rec)
	}
}

func (e *Engine) recover(ctx context.Context, rec QuarantineRecord) {
	id := rec.DeviceID

	snap, err := e.read(ctx, id, readOptions{freshness: NoCache, probe: true})
	if err != nil {
		e.logger.Debug("quarantined device still failing", "device_id", id, "error", err)
		e.remindQuarantine(ctx, rec)
		return
	}

	e.resetNotices(ctx, id)
	released, ok := e.releaseDevice(ctx, id)
	if !ok {
		return
	}

	switch {
	case released.Pending != nil && e.now().Sub(released.Since) < e.cfg.ReplayWindow:
		e.record(ctx, id, journal.KindReplayed, "")
		pending := *released.Pending
		if err := e.ChangeDevicesCapabilities(ctx, []device.Action{pending}, ChangeOptions{Check: true}); err != nil {
			e.logger.Warn("replay after quarantine failed", "device_id", id, "error", err)
		}

	case e.expected.has(id):
		cur, ok := e.expected.get(id)
		if !ok {
			return
		}
		err := e.verify(ctx, cur.Actions, cur.Exclusions, VerifyPassive, 0)
		switch {
		case err == nil:
		case errors.Is(err, fault.ErrOffline):
			e.quarantineDevice(ctx, id, nil, err)
		case errors.Is(err, fault.ErrMismatch):
			fe, _ := fault.As(err)
			e.RegisterOverride(ctx, id, fe.Observed, cur.Exclusions, released.Since, fe.Message)
		default:
			e.logger.Debug("post-recovery check failed", "device_id", id, "error", err)
		}

	default:
		e.expected.seed(id, []device.Action{snap.Observed()}, e.exclusionsFor(id, nil))
	}
}

// remindQuarantine notifies when the quarantine has outlived the current
// reminder threshold, then doubles the threshold.
func (e *Engine) remindQuarantine(ctx context.Context, rec QuarantineRecord) {
	id := rec.DeviceID
	now := e.now()
	age := now.Sub(rec.Since)

	e.noticeMu.Lock()
	n := e.notices[id]
	shift := n
	if shift > maxNoticeShift {
		shift = maxNoticeShift
	}
	if age <= e.cfg.NoticeBase*time.Duration(1<<shift) {
		e.noticeMu.Unlock()
		return
	}
	e.notices[id] = n + 1
	counters := e.copyNoticesLocked()
	e.noticeMu.Unlock()

	e.persistNotices(ctx, counters)
	deleteAt := now.Add(e.cfg.NoticeTTL)
	e.notify(ctx, fmt.Sprintf("%s: %dh", e.registry.Name(id), int(age.Hours())), &deleteAt)
}

// NoticeCount returns how many quarantine reminders were sent for the device
// in its current quarantine.
func (e *Engine) NoticeCount(id string) int {
	e.noticeMu.Lock()
	defer e.noticeMu.Unlock()
	return e.notices[id]
}

func (e *Engine) resetNotices(ctx context.Context, id string) {
	e.noticeMu.Lock()
	if _, ok := e.notices[id]; !ok {
		e.noticeMu.Unlock()
		return
	}
	delete(e.notices, id)
	counters := e.copyNoticesLocked()
	e.noticeMu.Unlock()

	e.persistNotices(ctx, counters)
}

// loadNotices restores reminder counters saved by a previous run.
func (e *Engine) loadNotices(ctx context.Context) {
	if e.journal == nil {
		return
	}
	var counters map[string]int
	if err := e.journal.Get(ctx, journal.KeyQuarantineNotices, &counters); err != nil {
		if !errors.Is(err, journal.ErrKeyNotFound) {
			e.logger.Warn("failed to load quarantine notices", "error", err)
		}
		return
	}

	e.noticeMu.Lock()
	for id, n := range counters {
		e.notices[id] = n
	}
	e.noticeMu.Unlock()
}

func (e *Engine) copyNoticesLocked() map[string]int {
	out := make(map[string]int, len(e.notices))
	for k, v := range e.notices {
		out[k] = v
	}
	return out
}

func (e *Engine) persistNotices(ctx context.Context, counters map[string]int) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Put(ctx, journal.KeyQuarantineNotices, counters); err != nil {
		e.logger.Warn("failed to persist quarantine notices", "error", err)
	}
}

// PingCycle reads every pinged device, spacing reads by PingSpacing, and
// starts tracking reachable devices that have no expected state yet.
// Read failures quarantine the device as any read does.
func (e *Engine) PingCycle(ctx context.Context) {
	for i, id := range e.registry.Pinged() {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.PingSpacing); err != nil {
				return
			}
		}
		snap, err := e.Read(ctx, id, 0)
		if err != nil {
			continue
		}
		if !e.quarantine.has(id) {
			e.expected.seed(id, []device.Action{snap.Observed()}, e.exclusionsFor(id, nil))
		}
	}
}
