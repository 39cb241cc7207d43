package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

// ExpectedState is what the engine believes it last commanded a device to be.
type ExpectedState struct {
	DeviceID   string            `json:"device_id"`
	Actions    []device.Action   `json:"actions"`
	Exclusions device.Exclusions `json:"exclusions,omitempty"`

	// Checked is set once a verification pass confirmed the record.
	Checked bool `json:"checked"`

	// Mutated means Actions already hold post-mutation (or observed) values.
	Mutated bool `json:"mutated"`

	// Seq increases with every replacement, so a holder can tell whether the
	// record changed underneath it.
	Seq   uint64    `json:"seq"`
	SetAt time.Time `json:"set_at"`

	fingerprint string
}

// Matches reports whether the record describes exactly these actions and exclusions.
func (s *ExpectedState) Matches(actions []device.Action, excl device.Exclusions) bool {
	return s.fingerprint == device.Fingerprint(actions, excl)
}

func (s ExpectedState) clone() ExpectedState {
	s.Actions = device.CloneActions(s.Actions)
	s.Exclusions = append(device.Exclusions(nil), s.Exclusions...)
	return s
}

// expectedStore holds at most one ExpectedState per device.
type expectedStore struct {
	mu      sync.Mutex
	records map[string]*ExpectedState
	seq     uint64
	now     func() time.Time
}

func newExpectedStore(now func() time.Time) *expectedStore {
	return &expectedStore{records: make(map[string]*ExpectedState), now: now}
}

// set replaces the device's record and returns its sequence number.
func (s *expectedStore) set(id string, actions []device.Action, excl device.Exclusions, checked, mutated bool) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.records[id] = &ExpectedState{
		DeviceID:    id,
		Actions:     device.CloneActions(actions),
		Exclusions:  append(device.Exclusions(nil), excl...),
		Checked:     checked,
		Mutated:     mutated,
		Seq:         s.seq,
		SetAt:       s.now(),
		fingerprint: device.Fingerprint(actions, excl),
	}
	return s.seq
}

// seed installs a checked, mutated record only when the device has none.
func (s *expectedStore) seed(id string, actions []device.Action, excl device.Exclusions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		return false
	}
	s.seq++
	s.records[id] = &ExpectedState{
		DeviceID:    id,
		Actions:     device.CloneActions(actions),
		Exclusions:  append(device.Exclusions(nil), excl...),
		Checked:     true,
		Mutated:     true,
		Seq:         s.seq,
		SetAt:       s.now(),
		fingerprint: device.Fingerprint(actions, excl),
	}
	return true
}

func (s *expectedStore) get(id string) (ExpectedState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ExpectedState{}, false
	}
	return rec.clone(), true
}

func (s *expectedStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// matches reports whether the device's record describes these actions.
func (s *expectedStore) matches(id string, actions []device.Action, excl device.Exclusions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	return ok && rec.Matches(actions, excl)
}

// markChecked sets Checked when the record still describes these actions.
func (s *expectedStore) markChecked(id string, actions []device.Action, excl device.Exclusions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || !rec.Matches(actions, excl) {
		return false
	}
	rec.Checked = true
	return true
}

func (s *expectedStore) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[id]
	delete(s.records, id)
	return ok
}

// removeIf deletes the record only if it still has sequence seq.
func (s *expectedStore) removeIf(id string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Seq != seq {
		return false
	}
	delete(s.records, id)
	return true
}

// seqOf returns the current sequence number, or 0 when untracked.
func (s *expectedStore) seqOf(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		return rec.Seq
	}
	return 0
}

// list returns copies of all records ordered by device ID.
func (s *expectedStore) list() []ExpectedState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ExpectedState, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
