package device

import (
	"encoding/json"
	"time"
)

// Capability types as they appear after the "devices.capabilities." wire prefix.
const (
	CapabilityOnOff        = "on_off"
	CapabilityRange        = "range"
	CapabilityColorSetting = "color_setting"
	CapabilityMode         = "mode"
	CapabilityToggle       = "toggle"
)

// Well-known capability and property instances.
const (
	InstanceOn           = "on"
	InstanceBrightness   = "brightness"
	InstanceOpen         = "open"
	InstanceTemperatureK = "temperature_k"
	InstanceHSV          = "hsv"
	InstanceRGB          = "rgb"
	InstanceWorkSpeed    = "work_speed"
	InstanceFanSpeed     = "fan_speed"

	PropertyTemperature  = "temperature"
	PropertyHumidity     = "humidity"
	PropertyIllumination = "illumination"
	PropertyBatteryLevel = "battery_level"
	PropertyWaterLevel   = "water_level"
	PropertyMotion       = "motion"
	PropertyOpen         = "open"
	PropertyButton       = "button"
)

// Capability is one (type, instance, value) triple of a desired action.
//
// Value is a plain JSON-compatible value, or an AnyOf listing every value
// that counts as a successful application.
type Capability struct {
	Type     string `json:"type"`
	Instance string `json:"instance"`
	Value    any    `json:"value"`
}

// AnyOf is an ordered set of acceptable values for one capability.
// The first element is the value sent to the device.
type AnyOf []any

// MarshalJSON keeps AnyOf distinguishable from a plain list value.
func (a AnyOf) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AnyOf []any `json:"any_of"`
	}{AnyOf: []any(a)})
}

// UnmarshalJSON restores an {"any_of": [...]} value as AnyOf.
func (c *Capability) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string          `json:"type"`
		Instance string          `json:"instance"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Type, c.Instance, c.Value = raw.Type, raw.Instance, nil
	if len(raw.Value) == 0 {
		return nil
	}

	var set struct {
		AnyOf []any `json:"any_of"`
	}
	if raw.Value[0] == '{' && json.Unmarshal(raw.Value, &set) == nil && set.AnyOf != nil {
		c.Value = AnyOf(set.AnyOf)
		return nil
	}
	return json.Unmarshal(raw.Value, &c.Value)
}

// Action is the desired outcome for one device.
type Action struct {
	DeviceID     string       `json:"device_id"`
	Capabilities []Capability `json:"capabilities"`
}

// Add appends a capability and returns the action for chaining.
func (a Action) Add(typ, instance string, value any) Action {
	caps := make([]Capability, len(a.Capabilities), len(a.Capabilities)+1)
	copy(caps, a.Capabilities)
	a.Capabilities = append(caps, Capability{Type: typ, Instance: instance, Value: value})
	return a
}

// Clone returns a copy whose capability slice can be modified independently.
func (a Action) Clone() Action {
	caps := make([]Capability, len(a.Capabilities))
	copy(caps, a.Capabilities)
	return Action{DeviceID: a.DeviceID, Capabilities: caps}
}

// CloneActions copies a slice of actions.
func CloneActions(actions []Action) []Action {
	if actions == nil {
		return nil
	}
	out := make([]Action, len(actions))
	for i := range actions {
		out[i] = actions[i].Clone()
	}
	return out
}

// Exclusion marks a (type, instance) pair whose value is not compared during
// verification. The instance itself is still compared.
type Exclusion struct {
	Type     string `json:"type" yaml:"type"`
	Instance string `json:"instance" yaml:"instance"`
}

// Exclusions is a small set of Exclusion entries.
type Exclusions []Exclusion

// Has reports whether (typ, instance) is excluded.
func (e Exclusions) Has(typ, instance string) bool {
	for _, x := range e {
		if x.Type == typ && x.Instance == instance {
			return true
		}
	}
	return false
}

// Merge returns the union of e and other, preserving first-seen order.
func (e Exclusions) Merge(other Exclusions) Exclusions {
	if len(other) == 0 {
		return e
	}
	out := make(Exclusions, 0, len(e)+len(other))
	out = append(out, e...)
	for _, x := range other {
		if !out.Has(x.Type, x.Instance) {
			out = append(out, x)
		}
	}
	return out
}

// CapabilityState is one capability as reported by the remote service.
type CapabilityState struct {
	Type        string    `json:"type"`
	Instance    string    `json:"instance"`
	Value       any       `json:"value"`
	LastUpdated time.Time `json:"last_updated"`
}

// PropertyState is one sensor reading as reported by the remote service.
type PropertyState struct {
	Type        string    `json:"type"`
	Instance    string    `json:"instance"`
	Value       any       `json:"value"`
	LastUpdated time.Time `json:"last_updated"`
}

// Snapshot is the remote service's view of a device at one moment.
type Snapshot struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type,omitempty"`
	Online       bool              `json:"online"`
	Capabilities []CapabilityState `json:"capabilities"`
	Properties   []PropertyState   `json:"properties"`
	FetchedAt    time.Time         `json:"fetched_at"`
}

// Capability returns the first reported capability of the given type.
func (s *Snapshot) Capability(typ string) (CapabilityState, bool) {
	for _, c := range s.Capabilities {
		if c.Type == typ {
			return c, true
		}
	}
	return CapabilityState{}, false
}

// CapabilityInstance returns the first reported capability with the given instance.
func (s *Snapshot) CapabilityInstance(instance string) (CapabilityState, bool) {
	for _, c := range s.Capabilities {
		if c.Instance == instance {
			return c, true
		}
	}
	return CapabilityState{}, false
}

// Property returns the reported property with the given instance.
func (s *Snapshot) Property(instance string) (PropertyState, bool) {
	for _, p := range s.Properties {
		if p.Instance == instance {
			return p, true
		}
	}
	return PropertyState{}, false
}

// Observed builds an action describing every capability as currently reported.
func (s *Snapshot) Observed() Action {
	a := Action{DeviceID: s.ID, Capabilities: make([]Capability, 0, len(s.Capabilities))}
	for _, c := range s.Capabilities {
		a.Capabilities = append(a.Capabilities, Capability{Type: c.Type, Instance: c.Instance, Value: c.Value})
	}
	return a
}

// Clone returns a deep enough copy for callers to modify slices safely.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Capabilities = append([]CapabilityState(nil), s.Capabilities...)
	out.Properties = append([]PropertyState(nil), s.Properties...)
	return &out
}

// ActionResult is the per-capability outcome reported for a dispatched action.
type ActionResult struct {
	DeviceID     string `json:"device_id"`
	Type         string `json:"type"`
	Instance     string `json:"instance"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// StatusDone is the only action status that counts as success.
const StatusDone = "DONE"

// Done reports whether the capability was applied.
func (r ActionResult) Done() bool {
	return r.Status == StatusDone
}
