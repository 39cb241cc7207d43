package engine

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

func TestLockTable_Admits(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lt := newLockTable()

	lt.set("a", 5, now.Add(time.Minute))
	lt.set("b", 0, now.Add(time.Hour))
	lt.set("c", 9, now.Add(-time.Second))

	tests := []struct {
		id       string
		priority int
		want     bool
	}{
		{"none", 0, true},
		{"a", 4, false},
		{"a", 5, true},
		{"b", 0, true},
		{"c", 0, true},
	}
	for _, tt := range tests {
		if got := lt.admits(tt.id, tt.priority, now); got != tt.want {
			t.Errorf("admits(%q, %d) = %v, want %v", tt.id, tt.priority, got, tt.want)
		}
	}

	if got := lt.active(now); len(got) != 2 || got[0].DeviceID != "a" {
		t.Errorf("active() = %+v, want a and b", got)
	}
	if n := lt.reset(); n != 3 {
		t.Errorf("reset() = %d, want 3", n)
	}
	if !lt.admits("a", 0, now) {
		t.Error("reset left a lock behind")
	}
}

func TestQuarantineStore_OfferAndRemove(t *testing.T) {
	clock := newFakeClock()
	q := newQuarantineStore(time.Minute, clock.Now)

	if q.offer("lamp", nil) {
		t.Error("offer() on healthy device = true")
	}
	if !q.set("lamp", nil) {
		t.Error("first set() = false, want newly quarantined")
	}
	if q.set("lamp", nil) {
		t.Error("second set() = true")
	}

	on := device.On("lamp")
	if !q.offer("lamp", &on) {
		t.Error("offer() on quarantined device = false")
	}
	rec, _ := q.get("lamp")
	if rec.Pending == nil || rec.Pending.DeviceID != "lamp" {
		t.Fatalf("pending = %+v, want lamp action", rec.Pending)
	}

	// get returns a copy.
	rec.Pending.Capabilities[0].Value = "x"
	again, _ := q.get("lamp")
	if again.Pending.Capabilities[0].Value != true {
		t.Error("get() exposed the stored action")
	}

	clock.Advance(30 * time.Second)
	if _, ok := q.remove("lamp"); !ok {
		t.Error("remove() = false")
	}
	if q.has("lamp") {
		t.Error("device still quarantined after remove")
	}
	if r := q.ratios()["lamp"]; r < 0.49 || r > 0.51 {
		t.Errorf("failure ratio = %v, want 0.5", r)
	}
}

func TestExpectedStore_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	s := newExpectedStore(clock.Now)
	on := []device.Action{device.On("lamp")}

	seq := s.set("lamp", on, nil, false, false)
	if !s.matches("lamp", on, nil) {
		t.Error("matches() = false for the stored actions")
	}
	if s.matches("lamp", []device.Action{device.Off("lamp")}, nil) {
		t.Error("matches() = true for different actions")
	}
	if s.matches("lamp", on, device.Exclusions{{Type: "range", Instance: "brightness"}}) {
		t.Error("matches() = true for different exclusions")
	}

	if !s.markChecked("lamp", on, nil) {
		t.Error("markChecked() = false")
	}
	if rec, _ := s.get("lamp"); !rec.Checked {
		t.Error("record not checked")
	}

	if s.seed("lamp", []device.Action{device.Off("lamp")}, nil) {
		t.Error("seed() replaced an existing record")
	}

	if s.removeIf("lamp", seq+1) {
		t.Error("removeIf() with stale seq removed the record")
	}
	if !s.removeIf("lamp", seq) {
		t.Error("removeIf() with current seq kept the record")
	}
	if s.has("lamp") {
		t.Error("record still present")
	}
}

func TestBucketOf(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if bucketOf(base, time.Second) == bucketOf(base.Add(time.Second), time.Second) {
		t.Error("adjacent seconds share a one-second bucket")
	}
	if bucketOf(base, time.Minute) != bucketOf(base.Add(59*time.Second), time.Minute) {
		t.Error("same minute split across buckets")
	}
}

func TestStateCache_InvalidateRejectsOlderGeneration(t *testing.T) {
	c := newStateCache()
	snap := &device.Snapshot{ID: "lamp"}

	gen := c.generation("lamp")
	c.invalidate("lamp")
	if c.put("lamp", time.Second, 1, gen, snap) {
		t.Error("put() stored a snapshot fetched before invalidate")
	}
	if _, ok := c.get("lamp", time.Second, 1); ok {
		t.Error("get() found an entry from an older generation")
	}

	gen = c.generation("lamp")
	if !c.put("lamp", time.Second, 1, gen, snap) {
		t.Error("put() with current generation = false")
	}
	if _, ok := c.get("lamp", time.Second, 1); !ok {
		t.Error("get() missed a current entry")
	}
	if flightKey("lamp", time.Second, 1, gen) == flightKey("lamp", time.Second, 1, gen-1) {
		t.Error("flight keys of different generations collide")
	}
}
