package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
)

func TestAskPermissions_LockPriority(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	on := device.On("lamp")

	got := e.AskPermissions([]Candidate{{DeviceID: "lamp", Payload: &on}}, 5, time.Minute)
	if len(got) != 1 {
		t.Fatalf("first ask admitted %v, want [lamp]", got)
	}
	lock, ok := e.Lock("lamp")
	if !ok || lock.Level != 5 {
		t.Fatalf("Lock() = %+v, %v; want level 5", lock, ok)
	}

	tests := []struct {
		name     string
		priority int
		want     int
	}{
		{"lower priority denied", 3, 0},
		{"equal priority admitted", 5, 1},
		{"higher priority admitted", 7, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.AskPermissions([]Candidate{{DeviceID: "lamp"}}, tt.priority, 0)
			if len(got) != tt.want {
				t.Errorf("AskPermissions(priority=%d) = %v, want %d admitted", tt.priority, got, tt.want)
			}
		})
	}

	env.clock.Advance(61 * time.Second)
	if got := e.AskPermissions([]Candidate{{DeviceID: "lamp"}}, 0, 0); len(got) != 1 {
		t.Errorf("expired lock should admit priority 0, got %v", got)
	}
}

func TestAskPermissions_CheckOnlyNeverLocks(t *testing.T) {
	e := newTestEnv(t).engine

	e.AskPermissions([]Candidate{{DeviceID: "lamp"}}, 9, time.Hour)
	if _, ok := e.Lock("lamp"); ok {
		t.Error("check-only candidate installed a lock")
	}
}

func TestAskPermissions_QuarantineStoresPending(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	env.sim.SetOffline("lamp", true)
	if _, err := e.Read(ctx, "lamp", NoCache); err == nil {
		t.Fatal("Read() of offline device should fail")
	}
	if !e.IsQuarantined("lamp") {
		t.Fatal("offline device not quarantined")
	}

	on := device.OnBrightness("lamp", 70)
	if got := e.AskPermissions([]Candidate{{DeviceID: "lamp", Payload: &on}}, 100, 0); len(got) != 0 {
		t.Errorf("quarantined device admitted: %v", got)
	}
	rec, ok := e.Quarantine("lamp")
	if !ok || rec.Pending == nil {
		t.Fatalf("Quarantine() = %+v, %v; want pending action", rec, ok)
	}
	if rec.Pending.Capabilities[1].Value != 70 {
		t.Errorf("pending brightness = %v, want 70", rec.Pending.Capabilities[1].Value)
	}

	// A check-only request keeps the stored payload.
	if got := e.AskPermissions([]Candidate{{DeviceID: "lamp"}}, 100, 0); len(got) != 0 {
		t.Errorf("quarantined check-only candidate admitted: %v", got)
	}
	if rec, _ := e.Quarantine("lamp"); rec.Pending == nil {
		t.Error("check-only request cleared the pending action")
	}
}

func TestChangeDevicesCapabilities_MarksChecked(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	err := e.SubmitAction(ctx, "lamp", device.OnBrightness("lamp", 80).Capabilities, 0, 0, true)
	if err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}

	if v, _ := env.sim.Value("lamp", device.InstanceBrightness); v != 80 {
		t.Errorf("brightness = %v, want 80", v)
	}
	rec, ok := e.Expected("lamp")
	if !ok || !rec.Checked {
		t.Fatalf("Expected() = %+v, %v; want checked record", rec, ok)
	}
	if got := e.Phase("lamp"); got != PhaseChecked {
		t.Errorf("Phase() = %v, want checked", got)
	}
}

func TestChangeDevicesCapabilities_MismatchNotifies(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	env.sim.Stick("lamp", device.InstanceOn, false)

	err := e.ChangeDevicesCapabilities(ctx, []device.Action{device.On("lamp")}, ChangeOptions{Check: true})
	if !errors.Is(err, fault.ErrMismatch) {
		t.Fatalf("ChangeDevicesCapabilities() error = %v, want mismatch", err)
	}
	if ids := fault.DeviceIDs(err); len(ids) != 1 || ids[0] != "lamp" {
		t.Errorf("mismatch devices = %v, want [lamp]", ids)
	}
	if _, ok := e.Expected("lamp"); ok {
		t.Error("expected state kept after exhausted mismatch")
	}
	if !containsText(env.notifier.all(), "Lamp: on_off on true -> false") {
		t.Errorf("notifications = %q, want the mismatch line", env.notifier.all())
	}
	kinds := env.journal.kinds("lamp")
	if len(kinds) == 0 || kinds[len(kinds)-1] != journal.KindMismatch {
		t.Errorf("journal kinds = %v, want trailing %q", kinds, journal.KindMismatch)
	}

	// Once the device behaves, the same command verifies.
	env.sim.Unstick("lamp", device.InstanceOn)
	if err := e.ChangeDevicesCapabilities(ctx, []device.Action{device.On("lamp")}, ChangeOptions{Check: true}); err != nil {
		t.Fatalf("second ChangeDevicesCapabilities() error = %v", err)
	}
	if rec, ok := e.Expected("lamp"); !ok || !rec.Checked {
		t.Errorf("Expected() = %+v, %v; want checked", rec, ok)
	}
}

func TestChangeDevicesCapabilities_LockedDeviceUntouched(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	on := device.On("lamp")
	e.AskPermissions([]Candidate{{DeviceID: "lamp", Payload: &on}}, 10, time.Hour)

	err := e.ChangeDevicesCapabilities(ctx, []device.Action{device.Off("lamp"), device.On("plug")}, ChangeOptions{Check: true, Priority: 1})
	if err != nil {
		t.Fatalf("ChangeDevicesCapabilities() error = %v", err)
	}
	if v, _ := env.sim.Value("plug", device.InstanceOn); v != true {
		t.Errorf("plug on = %v, want true", v)
	}
	if _, ok := e.Expected("lamp"); ok {
		t.Error("locked device got an expected-state record")
	}
}

func TestVerify_SkipsRacedRecord(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	if _, err := e.DevicesAction(ctx, []device.Action{device.On("lamp")}, DispatchOptions{Checkable: true}); err != nil {
		t.Fatalf("DevicesAction() error = %v", err)
	}

	// The record describes "on"; verifying "off" must be skipped, not failed.
	if err := e.Verify(ctx, []device.Action{device.Off("lamp")}, nil, VerifyPassive); err != nil {
		t.Errorf("Verify() of superseded action error = %v, want nil", err)
	}
	if err := e.Verify(ctx, []device.Action{device.On("lamp")}, nil, VerifyCommanded); err != nil {
		t.Errorf("Verify() of current action error = %v", err)
	}
}

func TestVerify_PassiveReturnsReadError(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	if _, err := e.DevicesAction(ctx, []device.Action{device.On("lamp")}, DispatchOptions{Checkable: true}); err != nil {
		t.Fatalf("DevicesAction() error = %v", err)
	}
	env.sim.SetOffline("lamp", true)

	err := e.Verify(ctx, []device.Action{device.On("lamp")}, nil, VerifyPassive)
	if !errors.Is(err, fault.ErrOffline) {
		t.Errorf("passive Verify() error = %v, want offline", err)
	}
}

func TestDevicesAction_OfflineQuarantinesWithPending(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	env.sim.SetOffline("lamp", true)
	_, err := e.DevicesAction(ctx, []device.Action{device.On("lamp")}, DispatchOptions{Checkable: true})
	if !errors.Is(err, fault.ErrOffline) {
		t.Fatalf("DevicesAction() error = %v, want offline", err)
	}

	rec, ok := e.Quarantine("lamp")
	if !ok || rec.Pending == nil {
		t.Fatalf("Quarantine() = %+v, %v; want pending action", rec, ok)
	}
	if _, ok := e.Expected("lamp"); ok {
		t.Error("expected state kept for quarantined device")
	}
	if len(env.notifier.all()) != 0 {
		t.Errorf("offline dispatch notified: %q", env.notifier.all())
	}
}

func TestDevicesAction_AppliesMutation(t *testing.T) {
	env := newTestEnv(t)
	e := env.engine
	ctx := context.Background()

	if err := env.registry.SetMutation("lamp", device.BrightnessTolerance); err != nil {
		t.Fatalf("SetMutation() error = %v", err)
	}
	// The lamp reports one step above what it was told.
	env.sim.Stick("lamp", device.InstanceBrightness, 41)

	err := e.ChangeDevicesCapabilities(ctx, []device.Action{device.OnBrightness("lamp", 40)}, ChangeOptions{Check: true})
	if err != nil {
		t.Fatalf("ChangeDevicesCapabilities() error = %v", err)
	}
	if rec, ok := e.Expected("lamp"); !ok || !rec.Checked {
		t.Errorf("Expected() = %+v, %v; want checked", rec, ok)
	}
}

func TestSubmitAction_Validation(t *testing.T) {
	e := newTestEnv(t).engine
	ctx := context.Background()

	if err := e.SubmitAction(ctx, "missing", device.On("missing").Capabilities, 0, 0, false); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
	if err := e.SubmitAction(ctx, "lamp", nil, 0, 0, false); err == nil {
		t.Error("empty capabilities should fail validation")
	}
}

func TestServerFailures_Threshold(t *testing.T) {
	tests := []struct {
		name       string
		threshold  int
		quarantine bool
	}{
		{"below threshold recovers", 4, false},
		{"at threshold quarantines", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(_ *Config, d *Deps) {
				d.Retry = d.Retry.WithThreshold(fault.KindServer, tt.threshold)
			})
			env.sim.FailNext("lamp",
				fault.Server("status 502"), fault.Server("status 502"), fault.Server("status 502"))

			_, err := env.engine.Read(context.Background(), "lamp", NoCache)
			if got := env.engine.IsQuarantined("lamp"); got != tt.quarantine {
				t.Errorf("IsQuarantined() = %v, want %v (err = %v)", got, tt.quarantine, err)
			}
			if tt.quarantine && len(env.notifier.all()) != 1 {
				t.Errorf("notifications = %q, want one server failure", env.notifier.all())
			}
		})
	}
}
