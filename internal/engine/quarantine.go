package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/gapstat"
)

// QuarantineRecord marks a device excluded from automation.
type QuarantineRecord struct {
	DeviceID string `json:"device_id"`

	// Pending is the latest action denied while quarantined, replayed on
	// recovery when still recent. Nil when the failure came from a read.
	Pending *device.Action `json:"pending,omitempty"`

	// Since is when the record was created or last given a pending action.
	Since time.Time `json:"since"`
}

// quarantineStore owns quarantine records and the per-device gap statistics
// they feed.
type quarantineStore struct {
	mu      sync.Mutex
	records map[string]QuarantineRecord
	gaps    map[string]*gapstat.Stat
	window  time.Duration
	now     func() time.Time
}

func newQuarantineStore(window time.Duration, now func() time.Time) *quarantineStore {
	return &quarantineStore{
		records: make(map[string]QuarantineRecord),
		gaps:    make(map[string]*gapstat.Stat),
		window:  window,
		now:     now,
	}
}

// set quarantines a device. A nil pending action keeps an existing record
// untouched; a non-nil one replaces it and restarts its clock.
//
// Returns true when the device was not quarantined before.
func (q *quarantineStore) set(id string, pending *device.Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, existed := q.records[id]
	if pending != nil || !existed {
		rec := QuarantineRecord{DeviceID: id, Since: q.now()}
		if pending != nil {
			p := pending.Clone()
			rec.Pending = &p
		}
		q.records[id] = rec
	}
	q.gap(id).Add(true)
	return !existed
}

// offer records a denied action on an already quarantined device.
// Returns false, touching nothing, when the device is not quarantined.
func (q *quarantineStore) offer(id string, pending *device.Action) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.records[id]; !ok {
		return false
	}
	if pending != nil {
		p := pending.Clone()
		q.records[id] = QuarantineRecord{DeviceID: id, Pending: &p, Since: q.now()}
		q.gap(id).Add(true)
	}
	return true
}

// remove releases a device. Returns the removed record.
func (q *quarantineStore) remove(id string) (QuarantineRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[id]
	if !ok {
		return QuarantineRecord{}, false
	}
	delete(q.records, id)
	q.gap(id).Add(false)
	return rec, true
}

func (q *quarantineStore) has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.records[id]
	return ok
}

func (q *quarantineStore) get(id string) (QuarantineRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[id]
	if ok && rec.Pending != nil {
		p := rec.Pending.Clone()
		rec.Pending = &p
	}
	return rec, ok
}

// list returns all records ordered by device ID.
func (q *quarantineStore) list() []QuarantineRecord {
	q.mu.Lock()
	ids := make([]string, 0, len(q.records))
	for id := range q.records {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	sort.Strings(ids)
	out := make([]QuarantineRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := q.get(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// ratios returns the failing share of the window for every device seen.
func (q *quarantineStore) ratios() map[string]float64 {
	q.mu.Lock()
	stats := make(map[string]*gapstat.Stat, len(q.gaps))
	for id, s := range q.gaps {
		stats[id] = s
	}
	q.mu.Unlock()

	out := make(map[string]float64, len(stats))
	for id, s := range stats {
		out[id] = s.Ratio()
	}
	return out
}

// gap returns the device's statistic, creating it. Caller holds q.mu.
func (q *quarantineStore) gap(id string) *gapstat.Stat {
	s, ok := q.gaps[id]
	if !ok {
		s = gapstat.New(q.window, gapstat.WithClock(q.now))
		q.gaps[id] = s
	}
	return s
}
