package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
)

func onAction(v any) ActionRequest {
	return ActionRequest{Capabilities: []device.Capability{{Type: device.CapabilityOnOff, Instance: device.InstanceOn, Value: v}}}
}

// quarantine takes a device offline and fails a live read so the engine
// quarantines it, then brings it back online.
func quarantine(t *testing.T, env *testEnv, id string) {
	t.Helper()
	env.sim.SetOffline(id, true)
	if _, err := env.engine.Read(context.Background(), id, engine.NoCache); err == nil {
		t.Fatalf("Read(%s) of offline device should fail", id)
	}
	if !env.engine.IsQuarantined(id) {
		t.Fatalf("%s not quarantined", id)
	}
	env.sim.SetOffline(id, false)
}

func TestListDevices(t *testing.T) {
	env := testServer(t)
	quarantine(t, env, "plug")

	w := env.do(t, http.MethodGet, "/api/v1/devices", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Devices []struct {
			ID          string `json:"id"`
			Quarantined bool   `json:"quarantined"`
			Phase       string `json:"phase"`
		} `json:"devices"`
		Count int `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	for _, d := range resp.Devices {
		if d.Quarantined != (d.ID == "plug") {
			t.Errorf("%s quarantined = %v", d.ID, d.Quarantined)
		}
		if d.Phase == "" {
			t.Errorf("%s has no phase", d.ID)
		}
	}
}

func TestGetDevice(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/lamp", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["id"] != "lamp" || resp["name"] != "Lamp" {
		t.Errorf("device = %v", resp)
	}
	if _, ok := resp["snapshot"]; ok {
		t.Error("snapshot present before any read")
	}

	if _, err := env.engine.Read(context.Background(), "lamp", engine.NoCache); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/devices/lamp", nil, ""), &resp)
	if _, ok := resp["snapshot"]; !ok {
		t.Error("snapshot missing after a successful read")
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := testServer(t)
	for _, path := range []string{
		"/api/v1/devices/ghost",
		"/api/v1/devices/ghost/state",
		"/api/v1/devices/ghost/capabilities/on_off",
		"/api/v1/devices/ghost/properties/temperature",
	} {
		if w := env.do(t, http.MethodGet, path, nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, w.Code)
		}
	}
	if w := env.do(t, http.MethodPost, "/api/v1/devices/ghost/actions", onAction(true), ""); w.Code != http.StatusNotFound {
		t.Errorf("POST actions on unknown device = %d, want 404", w.Code)
	}
}

func TestGetDeviceState(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/lamp/state?freshness=live", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var snap device.Snapshot
	decode(t, w, &snap)
	if snap.ID != "lamp" || len(snap.Capabilities) != 2 {
		t.Errorf("snapshot = %+v", snap)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/devices/lamp/state?freshness=soon", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad freshness = %d, want 400", w.Code)
	}

	quarantine(t, env, "plug")
	if w := env.do(t, http.MethodGet, "/api/v1/devices/plug/state", nil, ""); w.Code != http.StatusConflict {
		t.Errorf("quarantined state = %d, want 409", w.Code)
	}
}

func TestQueryCapability(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/devices/lamp/capabilities/range", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["value"] != 50.0 || resp["instance"] != device.InstanceBrightness {
		t.Errorf("range = %v", resp)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/devices/lamp/capabilities/mode", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("unreported capability = %d, want 404", w.Code)
	}
}

func TestQueryCapability_QuarantinedDefault(t *testing.T) {
	env := testServer(t)
	quarantine(t, env, "plug")

	w := env.do(t, http.MethodGet, "/api/v1/devices/plug/capabilities/on_off", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["value"] != false {
		t.Errorf("default on_off = %v, want false", resp["value"])
	}
}

func TestQueryProperty(t *testing.T) {
	env := testServer(t)
	at := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	env.sim.SetProperty("lamp", device.PropertyTemperature, 21.5, at)

	w := env.do(t, http.MethodGet, "/api/v1/devices/lamp/properties/temperature?freshness=live", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Value     float64   `json:"value"`
		UpdatedAt time.Time `json:"updated_at"`
	}
	decode(t, w, &resp)
	if resp.Value != 21.5 || !resp.UpdatedAt.Equal(at) {
		t.Errorf("property = %+v, want 21.5 at %v", resp, at)
	}
}

func TestSubmitAction_Sync(t *testing.T) {
	env := testServer(t)
	req := onAction(true)
	req.Check = true
	req.Priority = 3
	req.TTLSeconds = 60

	w := env.do(t, http.MethodPost, "/api/v1/devices/lamp/actions", req, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	var resp ActionResponse
	decode(t, w, &resp)
	if resp.Status != ActionDone {
		t.Errorf("status = %q, want done", resp.Status)
	}

	if v, _ := env.sim.Value("lamp", device.InstanceOn); v != true {
		t.Errorf("lamp on = %v, want true", v)
	}
	if rec, ok := env.engine.Expected("lamp"); !ok || !rec.Checked {
		t.Errorf("expected record = %+v, %v; want checked", rec, ok)
	}
	if lock, ok := env.engine.Lock("lamp"); !ok || lock.Level != 3 {
		t.Errorf("lock = %+v, %v; want level 3", lock, ok)
	}
}

func TestSubmitAction_AnyOf(t *testing.T) {
	env := testServer(t)
	body := `{"capabilities":[{"type":"range","instance":"brightness","value":{"any_of":[80,81]}}],"check":true}`

	w := env.do(t, http.MethodPost, "/api/v1/devices/lamp/actions", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if v, _ := env.sim.Value("lamp", device.InstanceBrightness); !device.Equal(v, 80) {
		t.Errorf("brightness = %v, want 80", v)
	}
}

func TestSubmitAction_Locked(t *testing.T) {
	env := testServer(t)
	on := device.On("lamp")
	env.engine.AskPermissions([]engine.Candidate{{DeviceID: "lamp", Payload: &on}}, 10, time.Hour)

	req := onAction(false)
	req.Priority = 1
	w := env.do(t, http.MethodPost, "/api/v1/devices/lamp/actions", req, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var resp ActionResponse
	decode(t, w, &resp)
	if resp.Status != ActionDenied || resp.Lock == nil || resp.Lock.Level != 10 {
		t.Errorf("response = %+v, want denied with level 10 lock", resp)
	}
}

func TestSubmitAction_QuarantinedIsHeld(t *testing.T) {
	env := testServer(t)
	quarantine(t, env, "plug")

	w := env.do(t, http.MethodPost, "/api/v1/devices/plug/actions", onAction(true), "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
	}
	var resp ActionResponse
	decode(t, w, &resp)
	if resp.Status != ActionHeld {
		t.Errorf("status = %q, want held", resp.Status)
	}
	rec, ok := env.engine.Quarantine("plug")
	if !ok || rec.Pending == nil {
		t.Errorf("quarantine record = %+v, want the action kept for replay", rec)
	}
}

func TestSubmitAction_Queued(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*ActionRequest)
		wantQueue string
	}{
		{"async", func(r *ActionRequest) { r.Async = true }, "dispatch"},
		{"verify first", func(r *ActionRequest) { r.VerifyFirst = true }, "verify_dispatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			req := onAction(true)
			tt.mutate(&req)

			w := env.do(t, http.MethodPost, "/api/v1/devices/lamp/actions", req, "")
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202; body: %s", w.Code, w.Body.String())
			}
			var resp ActionResponse
			decode(t, w, &resp)
			if resp.Status != ActionQueued || resp.JobID == "" || resp.Queue != tt.wantQueue {
				t.Errorf("response = %+v, want queued on %s", resp, tt.wantQueue)
			}

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				if v, _ := env.sim.Value("lamp", device.InstanceOn); v == true {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
			t.Error("queued action never reached the device")
		})
	}
}

func TestSubmitAction_Invalid(t *testing.T) {
	env := testServer(t)
	tests := []struct {
		name string
		body any
	}{
		{"malformed JSON", "{"},
		{"no capabilities", ActionRequest{}},
		{"negative ttl", ActionRequest{
			Capabilities: onAction(true).Capabilities,
			TTLSeconds:   -1,
		}},
		{"empty capability type", ActionRequest{Capabilities: []device.Capability{{Instance: "on", Value: true}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, http.MethodPost, "/api/v1/devices/lamp/actions", tt.body, ""); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestParseFreshness(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"live", engine.NoCache, false},
		{"NONE", engine.NoCache, false},
		{"5s", 5 * time.Second, false},
		{"0s", 0, true},
		{"-1s", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFreshness(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFreshness(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseFreshness(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
