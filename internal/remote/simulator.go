package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
)

// Simulator is an in-memory Adapter used for development and tests.
// Devices hold plain capability and property values that actions overwrite.
// Failures can be scripted per device. Safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	devices map[string]*simDevice
	stats   *Stats
	now     func() time.Time
}

type simDevice struct {
	name         string
	offline      bool
	capabilities []device.CapabilityState
	properties   []device.PropertyState
	failures     []error
	rejects      map[string]string
	sticky       map[string]any
}

// NewSimulator creates an empty simulator.
func NewSimulator() *Simulator {
	return &Simulator{
		devices: make(map[string]*simDevice),
		stats:   NewStats(),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Simulator) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Stats returns the request statistics collector.
func (s *Simulator) Stats() *Stats {
	return s.stats
}

// AddDevice creates or replaces a simulated device with the given capabilities.
func (s *Simulator) AddDevice(id, name string, caps ...device.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := &simDevice{name: name, rejects: map[string]string{}, sticky: map[string]any{}}
	now := s.now()
	for _, c := range caps {
		d.capabilities = append(d.capabilities, device.CapabilityState{
			Type: c.Type, Instance: c.Instance, Value: device.Preferred(c.Value), LastUpdated: now,
		})
	}
	s.devices[id] = d
}

// SetProperty sets a sensor reading.
func (s *Simulator) SetProperty(id, instance string, value any, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.ensure(id)
	for i := range d.properties {
		if d.properties[i].Instance == instance {
			d.properties[i].Value = value
			d.properties[i].LastUpdated = at
			return
		}
	}
	d.properties = append(d.properties, device.PropertyState{
		Type: "float", Instance: instance, Value: value, LastUpdated: at,
	})
}

// Set changes a capability value as if someone operated the device by hand.
func (s *Simulator) Set(id, typ, instance string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id).set(typ, instance, value, s.now())
}

// Stick makes the device ignore writes to one instance and keep reporting value.
func (s *Simulator) Stick(id, instance string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id).sticky[instance] = value
}

// Unstick removes a Stick override.
func (s *Simulator) Unstick(id, instance string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ensure(id).sticky, instance)
}

// SetOffline marks a device unreachable (or reachable again).
func (s *Simulator) SetOffline(id string, offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id).offline = offline
}

// FailNext queues errors returned by the next calls touching the device,
// one per call, before normal behaviour resumes.
func (s *Simulator) FailNext(id string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.ensure(id)
	d.failures = append(d.failures, errs...)
}

// Reject makes writes to one instance report an error status.
func (s *Simulator) Reject(id, instance, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(id).rejects[instance] = status
}

// Value returns the current value of a capability instance.
func (s *Simulator) Value(id, instance string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, false
	}
	for _, c := range d.capabilities {
		if c.Instance == instance {
			return c.Value, true
		}
	}
	return nil, false
}

// IDs lists simulated devices.
func (s *Simulator) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeviceInfo implements Adapter.
func (s *Simulator) DeviceInfo(ctx context.Context, id string) (*device.Snapshot, error) {
	s.stats.CountGet(id)
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.KindTimeout, err, "simulator", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, fault.Offline("404 from device service", id)
	}
	if err := d.popFailure(); err != nil {
		return nil, withDevices(err, id)
	}
	if d.offline {
		return nil, fault.Offline("device is offline", id)
	}

	snap := &device.Snapshot{
		ID:           id,
		Name:         d.name,
		Online:       true,
		Capabilities: append([]device.CapabilityState(nil), d.capabilities...),
		Properties:   append([]device.PropertyState(nil), d.properties...),
		FetchedAt:    s.now(),
	}
	for i, c := range snap.Capabilities {
		if v, stuck := d.sticky[c.Instance]; stuck {
			snap.Capabilities[i].Value = v
		}
	}
	return snap, nil
}

// Actions implements Adapter.
func (s *Simulator) Actions(ctx context.Context, actions []device.Action) ([]device.ActionResult, error) {
	ids := make([]string, 0, len(actions))
	for _, a := range actions {
		ids = append(ids, a.DeviceID)
		s.stats.CountPost(a.DeviceID)
	}
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.KindTimeout, err, "simulator", ids...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range actions {
		if d, ok := s.devices[a.DeviceID]; ok {
			if err := d.popFailure(); err != nil {
				return nil, withDevices(err, ids...)
			}
		}
	}

	now := s.now()
	var results []device.ActionResult
	for _, a := range actions {
		d, ok := s.devices[a.DeviceID]
		for _, c := range a.Capabilities {
			r := device.ActionResult{DeviceID: a.DeviceID, Type: c.Type, Instance: c.Instance, Status: device.StatusDone}
			switch {
			case !ok:
				r.Status, r.ErrorMessage = "ERROR", "DEVICE_NOT_FOUND"
			case d.offline:
				r.Status, r.ErrorMessage = "ERROR", "DEVICE_UNREACHABLE"
			case d.rejects[c.Instance] != "":
				r.Status, r.ErrorMessage = "ERROR", d.rejects[c.Instance]
			default:
				d.set(c.Type, c.Instance, device.Preferred(c.Value), now)
			}
			results = append(results, r)
		}
	}
	return results, FailedResults(results)
}

func (s *Simulator) ensure(id string) *simDevice {
	d, ok := s.devices[id]
	if !ok {
		d = &simDevice{name: id, rejects: map[string]string{}, sticky: map[string]any{}}
		s.devices[id] = d
	}
	return d
}

func (d *simDevice) set(typ, instance string, value any, at time.Time) {
	for i := range d.capabilities {
		c := &d.capabilities[i]
		// A colour lamp reports a single color_setting whose instance follows
		// the last colour mode used.
		if c.Type == typ && (c.Instance == instance || typ == device.CapabilityColorSetting) {
			c.Instance = instance
			c.Value = value
			c.LastUpdated = at
			return
		}
	}
	d.capabilities = append(d.capabilities, device.CapabilityState{
		Type: typ, Instance: instance, Value: value, LastUpdated: at,
	})
}

func (d *simDevice) popFailure() error {
	if len(d.failures) == 0 {
		return nil
	}
	err := d.failures[0]
	d.failures = d.failures[1:]
	if _, ok := fault.As(err); !ok {
		return fault.Wrap(fault.KindUnknown, err, fmt.Sprintf("simulated failure: %v", err))
	}
	return err
}
