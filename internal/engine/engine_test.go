package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
	"github.com/nerrad567/gray-logic-arbiter/internal/remote"
	"github.com/nerrad567/gray-logic-arbiter/internal/retry"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// mockNotifier records notifications.
type mockNotifier struct {
	mu       sync.Mutex
	texts    []string
	deleteAt []*time.Time
}

func (n *mockNotifier) Notify(_ context.Context, text string, deleteAt *time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	n.deleteAt = append(n.deleteAt, deleteAt)
	return nil
}

func (n *mockNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// mockJournal is an in-memory Journal.
type mockJournal struct {
	mu     sync.Mutex
	events []journal.Event
	kv     map[string][]byte
}

func newMockJournal() *mockJournal {
	return &mockJournal{kv: make(map[string][]byte)}
}

func (j *mockJournal) Record(_ context.Context, e journal.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *mockJournal) Put(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.kv[key] = data
	return nil
}

func (j *mockJournal) Get(_ context.Context, key string, dst any) error {
	j.mu.Lock()
	data, ok := j.kv[key]
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", journal.ErrKeyNotFound, key)
	}
	return json.Unmarshal(data, dst)
}

func (j *mockJournal) kinds(id string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.events {
		if e.DeviceID == id {
			out = append(out, e.Kind)
		}
	}
	return out
}

type testEnv struct {
	engine   *Engine
	sim      *remote.Simulator
	clock    *fakeClock
	notifier *mockNotifier
	journal  *mockJournal
	registry *device.Registry
}

// newTestEnv builds an engine over a simulator with two devices:
// "lamp" (on_off=false, brightness=50) and "plug" (on_off=false).
// Retry sleeps are skipped; engine sleeps advance the fake clock.
func newTestEnv(t *testing.T, opts ...func(*Config, *Deps)) *testEnv {
	t.Helper()

	clock := newFakeClock()
	sim := remote.NewSimulator()
	sim.SetClock(clock.Now)
	sim.AddDevice("lamp", "Lamp",
		device.Capability{Type: device.CapabilityOnOff, Instance: device.InstanceOn, Value: false},
		device.Capability{Type: device.CapabilityRange, Instance: device.InstanceBrightness, Value: 50},
	)
	sim.AddDevice("plug", "Plug",
		device.Capability{Type: device.CapabilityOnOff, Instance: device.InstanceOn, Value: false},
	)

	reg := device.NewRegistry(0)
	for _, d := range []device.Device{
		{ID: "lamp", Name: "Lamp", Ping: true},
		{ID: "plug", Name: "Plug", Ping: true},
	} {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.ID, err)
		}
	}

	policy := retry.DefaultPolicy()
	policy.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	notifier := &mockNotifier{}
	jr := newMockJournal()
	cfg := DefaultConfig()
	deps := Deps{
		Registry: reg,
		Adapter:  sim,
		Retry:    policy,
		Notifier: notifier,
		Journal:  jr,
		Clock:    clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			clock.Advance(d)
			return ctx.Err()
		},
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	e, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{engine: e, sim: sim, clock: clock, notifier: notifier, journal: jr, registry: reg}
}

func gets(sim *remote.Simulator, id string) int {
	for _, d := range sim.Stats().Snapshot().Devices {
		if d.DeviceID == id {
			return d.Gets
		}
	}
	return 0
}

func containsText(texts []string, sub string) bool {
	for _, t := range texts {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Config{}, Deps{Adapter: remote.NewSimulator()}); err == nil {
		t.Error("New() without registry should fail")
	}
	if _, err := New(Config{}, Deps{Registry: device.NewRegistry(0)}); err == nil {
		t.Error("New() without adapter should fail")
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	e, err := New(Config{}, Deps{Registry: device.NewRegistry(0), Adapter: remote.NewSimulator()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, want := e.Config(), DefaultConfig()
	if got.DefaultFreshness != want.DefaultFreshness || got.QueueCapacity != want.QueueCapacity ||
		got.OverridePriority != want.OverridePriority || got.ReplayWindow != want.ReplayWindow {
		t.Errorf("Config() = %+v, want defaults", got)
	}
	// Zero delays are valid and kept.
	if got.DriftDelay != 0 || got.PingSpacing != 0 {
		t.Errorf("DriftDelay, PingSpacing = %v, %v; want 0, 0", got.DriftDelay, got.PingSpacing)
	}
}
