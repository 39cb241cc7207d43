package remote

import (
	"math"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

const (
	capabilityPrefix = "devices.capabilities."
	propertyPrefix   = "devices.properties."

	statusOK    = "ok"
	stateOnline = "online"
)

// deviceInfoResponse is GET /v1.0/devices/{id}.
type deviceInfoResponse struct {
	Status       string           `json:"status"`
	RequestID    string           `json:"request_id"`
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	State        string           `json:"state"`
	Capabilities []wireCapability `json:"capabilities"`
	Properties   []wireProperty   `json:"properties"`
	Message      string           `json:"message,omitempty"`
}

type wireCapability struct {
	Retrievable bool           `json:"retrievable"`
	Type        string         `json:"type"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	State       *wireState     `json:"state"`
	LastUpdated float64        `json:"last_updated"`
}

type wireProperty struct {
	Retrievable bool           `json:"retrievable"`
	Type        string         `json:"type"`
	Parameters  map[string]any `json:"parameters"`
	State       *wireState     `json:"state"`
	LastUpdated float64        `json:"last_updated"`
}

type wireState struct {
	Instance string `json:"instance,omitempty"`
	Value    any    `json:"value"`
}

// actionRequest is POST /v1.0/devices/actions.
type actionRequest struct {
	Devices []actionDevice `json:"devices"`
}

type actionDevice struct {
	ID      string       `json:"id"`
	Actions []wireAction `json:"actions"`
}

type wireAction struct {
	Type  string    `json:"type"`
	State wireState `json:"state"`
}

type actionResponse struct {
	Status    string               `json:"status"`
	RequestID string               `json:"request_id"`
	Devices   []actionResultDevice `json:"devices"`
}

type actionResultDevice struct {
	ID           string                   `json:"id"`
	Capabilities []actionResultCapability `json:"capabilities"`
}

type actionResultCapability struct {
	Type  string `json:"type"`
	State struct {
		Instance     string `json:"instance"`
		ActionResult struct {
			Status       string `json:"status"`
			ErrorMessage string `json:"error_message,omitempty"`
		} `json:"action_result"`
	} `json:"state"`
}

func encodeActions(actions []device.Action) actionRequest {
	req := actionRequest{Devices: make([]actionDevice, 0, len(actions))}
	for _, a := range actions {
		d := actionDevice{ID: a.DeviceID, Actions: make([]wireAction, 0, len(a.Capabilities))}
		for _, c := range a.Capabilities {
			d.Actions = append(d.Actions, wireAction{
				Type:  capabilityPrefix + c.Type,
				State: wireState{Instance: c.Instance, Value: device.Preferred(c.Value)},
			})
		}
		req.Devices = append(req.Devices, d)
	}
	return req
}

func (r *deviceInfoResponse) snapshot(fetchedAt time.Time) *device.Snapshot {
	s := &device.Snapshot{
		ID:        r.ID,
		Name:      r.Name,
		Type:      r.Type,
		Online:    r.State == stateOnline,
		FetchedAt: fetchedAt,
	}
	for _, c := range r.Capabilities {
		if c.State == nil {
			continue
		}
		s.Capabilities = append(s.Capabilities, device.CapabilityState{
			Type:        strings.TrimPrefix(c.Type, capabilityPrefix),
			Instance:    c.State.Instance,
			Value:       c.State.Value,
			LastUpdated: fromEpoch(c.LastUpdated),
		})
	}
	for _, p := range r.Properties {
		instance, _ := p.Parameters["instance"].(string)
		var value any
		if p.State != nil {
			value = p.State.Value
		}
		s.Properties = append(s.Properties, device.PropertyState{
			Type:        strings.TrimPrefix(p.Type, propertyPrefix),
			Instance:    instance,
			Value:       value,
			LastUpdated: fromEpoch(p.LastUpdated),
		})
	}
	return s
}

func (r *actionResponse) results() []device.ActionResult {
	var out []device.ActionResult
	for _, d := range r.Devices {
		for _, c := range d.Capabilities {
			out = append(out, device.ActionResult{
				DeviceID:     d.ID,
				Type:         strings.TrimPrefix(c.Type, capabilityPrefix),
				Instance:     c.State.Instance,
				Status:       c.State.ActionResult.Status,
				ErrorMessage: c.State.ActionResult.ErrorMessage,
			})
		}
	}
	return out
}

// fromEpoch converts fractional Unix seconds; zero stays the zero time.
func fromEpoch(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// toEpoch is the inverse of fromEpoch.
func toEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
