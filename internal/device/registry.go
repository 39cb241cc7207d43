package device

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Device is the static identity of a remote device.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Ping includes the device in periodic liveness reads and quarantine recovery.
	Ping bool `json:"ping"`

	// HumanControl is how long a detected manual override keeps automation
	// away. Zero means the registry default.
	HumanControl time.Duration `json:"human_control,omitempty"`

	// SlowLink selects the long remote timeout for this device.
	SlowLink bool `json:"slow_link,omitempty"`

	// Exclusions lists capabilities whose values are never compared.
	Exclusions Exclusions `json:"exclusions,omitempty"`
}

// HumanControlFunc maps the moment an override was detected to the moment
// automation may resume.
type HumanControlFunc func(detectedAt time.Time) time.Time

// Mutation rewrites a desired action before dispatch and comparison.
type Mutation func(Action) Action

// Registry is the in-memory catalogue of known devices together with their
// per-device hooks. All public methods are thread-safe.
type Registry struct {
	mu           sync.RWMutex
	devices      map[string]Device
	humanControl map[string]HumanControlFunc
	mutations    map[string]Mutation

	defaultHumanControl time.Duration
	logger              Logger
}

// DefaultHumanControl is the override window used when none is configured.
const DefaultHumanControl = 15 * time.Minute

// NewRegistry creates an empty registry.
//
// Parameters:
//   - defaultHumanControl: override window for devices without their own (0 = 15m)
func NewRegistry(defaultHumanControl time.Duration) *Registry {
	if defaultHumanControl <= 0 {
		defaultHumanControl = DefaultHumanControl
	}
	return &Registry{
		devices:             make(map[string]Device),
		humanControl:        make(map[string]HumanControlFunc),
		mutations:           make(map[string]Mutation),
		defaultHumanControl: defaultHumanControl,
		logger:              noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a device. Returns ErrDeviceExists for duplicate IDs.
func (r *Registry) Register(d Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if d.Name == "" {
		d.Name = d.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
	}
	d.Exclusions = append(Exclusions(nil), d.Exclusions...)
	r.devices[d.ID] = d

	r.logger.Debug("device registered", "device_id", d.ID, "name", d.Name, "ping", d.Ping)
	return nil
}

// SetHumanControl installs a custom override-window function for a device.
func (r *Registry) SetHumanControl(id string, fn HumanControlFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if fn == nil {
		delete(r.humanControl, id)
		return nil
	}
	r.humanControl[id] = fn
	return nil
}

// SetMutation installs the action rewrite hook for a device.
func (r *Registry) SetMutation(id string, m Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	if m == nil {
		delete(r.mutations, id)
		return nil
	}
	r.mutations[id] = m
	return nil
}

// Get returns the device with the given ID.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// Name returns the display name of a device, falling back to its ID.
func (r *Registry) Name(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.devices[id]; ok && d.Name != "" {
		return d.Name
	}
	return id
}

// List returns all devices ordered by ID.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pinged returns the IDs of devices included in liveness pings, ordered by ID.
func (r *Registry) Pinged() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.devices))
	for id, d := range r.devices {
		if d.Ping {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsPinged reports whether a device takes part in liveness pings.
func (r *Registry) IsPinged(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id].Ping
}

// IsSlowLink reports whether a device needs the long remote timeout.
func (r *Registry) IsSlowLink(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id].SlowLink
}

// Exclusions returns the device's static exclusions.
func (r *Registry) Exclusions(id string) Exclusions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(Exclusions(nil), r.devices[id].Exclusions...)
}

// HumanControlUntil returns when automation may resume after an override
// detected at detectedAt.
func (r *Registry) HumanControlUntil(id string, detectedAt time.Time) time.Time {
	r.mu.RLock()
	fn, custom := r.humanControl[id]
	window := r.devices[id].HumanControl
	r.mu.RUnlock()

	if custom {
		return fn(detectedAt)
	}
	if window <= 0 {
		window = r.defaultHumanControl
	}
	return detectedAt.Add(window)
}

// Mutate applies the device's registered mutation. The input is not modified.
func (r *Registry) Mutate(a Action) Action {
	r.mu.RLock()
	m, ok := r.mutations[a.DeviceID]
	r.mu.RUnlock()

	if !ok {
		return a.Clone()
	}
	return m(a.Clone())
}

// MutateAll applies Mutate to every action.
func (r *Registry) MutateAll(actions []Action) []Action {
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = r.Mutate(a)
	}
	return out
}
