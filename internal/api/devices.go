package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
)

// deviceView is a registry entry annotated with the engine's view of it.
type deviceView struct {
	device.Device
	Quarantined bool                  `json:"quarantined"`
	Phase       engine.Phase          `json:"phase"`
	Lock        *engine.Lock          `json:"lock,omitempty"`
	Expected    *engine.ExpectedState `json:"expected,omitempty"`
	Snapshot    *device.Snapshot      `json:"snapshot,omitempty"`
}

func (s *Server) viewOf(d device.Device) deviceView {
	v := deviceView{
		Device:      d,
		Quarantined: s.engine.IsQuarantined(d.ID),
		Phase:       s.engine.Phase(d.ID),
	}
	if lock, ok := s.engine.Lock(d.ID); ok {
		v.Lock = &lock
	}
	if rec, ok := s.engine.Expected(d.ID); ok {
		v.Expected = &rec
	}
	return v
}

// handleListDevices returns every registered device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.engine.Registry().List()
	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, s.viewOf(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views, "count": len(views)})
}

// handleGetDevice returns one device with its last successful snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	v := s.viewOf(d)
	if snap, err := s.engine.Last(d.ID); err == nil {
		v.Snapshot = snap
	}
	writeJSON(w, http.StatusOK, v)
}

// handleGetDeviceState reads the device through the engine's cache.
//
// Query parameters:
//   - freshness: bucket width as a Go duration ("5s"), or "live" to bypass
//     the cache; empty uses the configured default
func (s *Server) handleGetDeviceState(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	freshness, err := parseFreshness(r.URL.Query().Get("freshness"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	snap, err := s.engine.Read(r.Context(), d.ID, freshness)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleQueryCapability returns the value and active instance of the
// device's first capability of the given type. Quarantined devices answer
// with documented defaults where one exists.
func (s *Server) handleQueryCapability(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	typ := chi.URLParam(r, "type")
	freshness, err := parseFreshness(r.URL.Query().Get("freshness"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	value, err := s.engine.QueryCapability(r.Context(), d.ID, typ, freshness)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := map[string]any{"device_id": d.ID, "type": typ, "value": value}
	// The instance is informational; a missing one is not an error.
	if inst, err := s.engine.QueryCapabilityInstance(r.Context(), d.ID, typ, freshness); err == nil {
		resp["instance"] = inst
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQueryProperty returns a sensor reading and when it was taken.
func (s *Server) handleQueryProperty(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	instance := chi.URLParam(r, "instance")
	freshness, err := parseFreshness(r.URL.Query().Get("freshness"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	pv, err := s.engine.QueryProperty(r.Context(), d.ID, instance, freshness)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  d.ID,
		"instance":   instance,
		"value":      pv.Value,
		"updated_at": pv.UpdatedAt,
	})
}

// ActionRequest is the body of POST /devices/{id}/actions.
type ActionRequest struct {
	Capabilities []device.Capability `json:"capabilities"`
	Priority     int                 `json:"priority"`
	TTLSeconds   int                 `json:"ttl_seconds"`

	// Check verifies the effect and retries on mismatch.
	Check bool `json:"check"`

	// Checkable tracks the device for drift without verifying now.
	Checkable bool `json:"checkable"`

	// Async queues the action on the dispatch workers.
	Async bool `json:"async"`

	// VerifyFirst queues the action on the verify workers, which only
	// dispatch when the device differs. Implies Async.
	VerifyFirst bool `json:"verify_first"`

	Exclusions device.Exclusions `json:"exclusions,omitempty"`
}

// ActionResponse reports what happened to a submitted action.
type ActionResponse struct {
	Status string       `json:"status"`
	JobID  string       `json:"job_id,omitempty"`
	Queue  string       `json:"queue,omitempty"`
	Lock   *engine.Lock `json:"lock,omitempty"`
}

// Action statuses.
const (
	ActionDone   = "done"
	ActionQueued = "queued"
	ActionHeld   = "held"
	ActionDenied = "denied"
)

// handleSubmitAction dispatches capabilities to one device.
//
// A synchronous request answers 200 once the write (and verification when
// check is set) finished, 409 when a higher-priority lock holds the device,
// and 202 "held" when the device is quarantined and the action was kept for
// replay. Queued requests answer 202 with the job ID.
func (s *Server) handleSubmitAction(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TTLSeconds < 0 {
		writeBadRequest(w, "ttl_seconds must not be negative")
		return
	}
	action := device.Action{DeviceID: d.ID, Capabilities: req.Capabilities}
	if err := device.ValidateAction(action); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second

	if req.Async || req.VerifyFirst {
		s.enqueueAction(w, r, action, req, ttl)
		return
	}

	if lock, ok := s.engine.Lock(d.ID); ok && req.Priority < lock.Level {
		writeJSON(w, http.StatusConflict, ActionResponse{Status: ActionDenied, Lock: &lock})
		return
	}
	quarantined := s.engine.IsQuarantined(d.ID)

	err := s.engine.ChangeDevicesCapabilities(r.Context(), []device.Action{action}, engine.ChangeOptions{
		Check:      req.Check,
		Checkable:  req.Checkable,
		Priority:   req.Priority,
		TTL:        ttl,
		Exclusions: req.Exclusions,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if quarantined {
		writeJSON(w, http.StatusAccepted, ActionResponse{Status: ActionHeld})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: ActionDone})
}

func (s *Server) enqueueAction(w http.ResponseWriter, r *http.Request, action device.Action, req ActionRequest, ttl time.Duration) {
	job := engine.Job{
		Actions:    []device.Action{action},
		Check:      req.Check,
		Checkable:  req.Checkable,
		Priority:   req.Priority,
		TTL:        ttl,
		Exclusions: req.Exclusions,
	}

	var (
		id    string
		err   error
		queue = "dispatch"
	)
	if req.VerifyFirst {
		queue = "verify_dispatch"
		id, err = s.engine.EnqueueVerifyDispatch(r.Context(), job)
	} else {
		id, err = s.engine.EnqueueDispatch(r.Context(), job)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ActionResponse{Status: ActionQueued, JobID: id, Queue: queue})
}

// lookupDevice resolves the {id} URL parameter, writing a 404 when unknown.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (device.Device, bool) {
	id := chi.URLParam(r, "id")
	d, err := s.engine.Registry().Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return device.Device{}, false
		}
		writeInternalError(w, "failed to get device")
		return device.Device{}, false
	}
	return d, true
}

// parseFreshness turns a freshness query value into a read bucket width.
func parseFreshness(v string) (time.Duration, error) {
	switch strings.ToLower(v) {
	case "":
		return 0, nil
	case "live", "none":
		return engine.NoCache, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid freshness %q: want a positive duration or \"live\"", v)
	}
	return d, nil
}
