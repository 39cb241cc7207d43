package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
)

// mockHistory is an in-memory History.
type mockHistory struct {
	mu       sync.Mutex
	events   []journal.Event
	err      error
	lastID   string
	lastSize int
}

func (m *mockHistory) History(_ context.Context, deviceID string, limit int) ([]journal.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID, m.lastSize = deviceID, limit
	if m.err != nil {
		return nil, m.err
	}
	var out []journal.Event
	for _, e := range m.events {
		if deviceID == "" || e.DeviceID == deviceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestListQuarantine(t *testing.T) {
	env := testServer(t)
	quarantine(t, env, "plug")

	w := env.do(t, http.MethodGet, "/api/v1/quarantine", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Quarantined []struct {
			DeviceID string `json:"device_id"`
			Name     string `json:"name"`
		} `json:"quarantined"`
		Count int `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Quarantined[0].DeviceID != "plug" || resp.Quarantined[0].Name != "Plug" {
		t.Errorf("quarantine = %+v", resp)
	}
}

func TestLocks_ListAndReset(t *testing.T) {
	env := testServer(t)
	on := device.On("lamp")
	env.engine.AskPermissions([]engine.Candidate{{DeviceID: "lamp", Payload: &on}}, 7, time.Hour)

	var list struct {
		Locks []engine.Lock `json:"locks"`
		Count int           `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/locks", nil, ""), &list)
	if list.Count != 1 || list.Locks[0].DeviceID != "lamp" || list.Locks[0].Level != 7 {
		t.Fatalf("locks = %+v", list)
	}

	w := env.do(t, http.MethodPost, "/api/v1/locks/reset", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", w.Code)
	}
	var reset struct {
		Cleared int `json:"cleared"`
	}
	decode(t, w, &reset)
	if reset.Cleared != 1 {
		t.Errorf("cleared = %d, want 1", reset.Cleared)
	}
	if _, ok := env.engine.Lock("lamp"); ok {
		t.Error("lock survived reset")
	}
}

func TestListExpected(t *testing.T) {
	env := testServer(t)
	if err := env.engine.ChangeDevicesCapabilities(context.Background(), []device.Action{device.On("lamp")},
		engine.ChangeOptions{Check: true}); err != nil {
		t.Fatalf("ChangeDevicesCapabilities() error = %v", err)
	}

	var resp struct {
		Expected []engine.ExpectedState `json:"expected"`
		Count    int                    `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/expected", nil, ""), &resp)
	if resp.Count != 1 || resp.Expected[0].DeviceID != "lamp" || !resp.Expected[0].Checked {
		t.Errorf("expected = %+v", resp)
	}
}

func TestQueues(t *testing.T) {
	env := testServer(t)
	var resp struct {
		Queues []engine.QueueStats `json:"queues"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/queues", nil, ""), &resp)
	if len(resp.Queues) != 2 || resp.Queues[0].Name != "dispatch" {
		t.Errorf("queues = %+v", resp.Queues)
	}
}

func TestHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	history := &mockHistory{events: []journal.Event{
		{ID: 2, DeviceID: "plug", Kind: journal.KindReleased, CreatedAt: now},
		{ID: 1, DeviceID: "plug", Kind: journal.KindQuarantined, CreatedAt: now.Add(-time.Minute)},
		{ID: 3, DeviceID: "lamp", Kind: journal.KindOverride, CreatedAt: now},
	}}
	env := testServer(t, func(d *Deps) { d.Journal = history })

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
		wantLimit int
	}{
		{"all", "", http.StatusOK, 3, defaultHistoryLimit},
		{"one device", "?device_id=plug", http.StatusOK, 2, defaultHistoryLimit},
		{"limit", "?limit=10", http.StatusOK, 3, 10},
		{"limit capped", "?limit=5000", http.StatusOK, 3, maxHistoryLimit},
		{"bad limit", "?limit=zero", http.StatusBadRequest, 0, 0},
		{"negative limit", "?limit=-1", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/history"+tt.query, nil, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp struct {
				Events []journal.Event `json:"events"`
				Count  int             `json:"count"`
			}
			decode(t, w, &resp)
			if resp.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", resp.Count, tt.wantCount)
			}
			if history.lastSize != tt.wantLimit {
				t.Errorf("limit passed = %d, want %d", history.lastSize, tt.wantLimit)
			}
		})
	}
}

func TestHistory_Errors(t *testing.T) {
	env := testServer(t)
	if w := env.do(t, http.MethodGet, "/api/v1/history", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("no journal = %d, want 503", w.Code)
	}

	failing := &mockHistory{err: errors.New("disk full")}
	env = testServer(t, func(d *Deps) { d.Journal = failing })
	if w := env.do(t, http.MethodGet, "/api/v1/history", nil, ""); w.Code != http.StatusInternalServerError {
		t.Errorf("failing journal = %d, want 500", w.Code)
	}
}
