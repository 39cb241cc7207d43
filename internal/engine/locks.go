package engine

import (
	"sort"
	"sync"
	"time"
)

// Lock is a temporary priority claim on a device.
type Lock struct {
	DeviceID string    `json:"device_id"`
	Level    int       `json:"level"`
	Expires  time.Time `json:"expires"`
}

// lockTable holds at most one Lock per device. Expired locks are treated as
// absent on access; nothing sweeps them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]Lock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]Lock)}
}

// admits reports whether a request at priority may touch the device.
func (t *lockTable) admits(id string, priority int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[id]
	if !ok || l.Level == 0 || priority >= l.Level {
		return true
	}
	return !now.Before(l.Expires)
}

func (t *lockTable) set(id string, level int, expires time.Time) {
	t.mu.Lock()
	t.locks[id] = Lock{DeviceID: id, Level: level, Expires: expires}
	t.mu.Unlock()
}

func (t *lockTable) get(id string, now time.Time) (Lock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[id]
	if !ok || !now.Before(l.Expires) {
		return Lock{}, false
	}
	return l, true
}

func (t *lockTable) reset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.locks)
	t.locks = make(map[string]Lock)
	return n
}

// active returns unexpired locks ordered by device ID.
func (t *lockTable) active(now time.Time) []Lock {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Lock, 0, len(t.locks))
	for _, l := range t.locks {
		if now.Before(l.Expires) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
