package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

// PropertyValue is a sensor reading with the time the device reported it.
type PropertyValue struct {
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// capabilityDefaults are returned when a capability cannot be read.
var capabilityDefaults = map[string]any{
	device.CapabilityOnOff: false,
}

// instanceDefaults are returned when a capability's instance cannot be read.
var instanceDefaults = map[string]string{
	device.CapabilityColorSetting: device.InstanceHSV,
}

// propertyDefault is a fallback reading and how long before now it claims
// to have been taken.
type propertyDefault struct {
	value any
	age   time.Duration
}

// propertyDefaults are returned when a property cannot be read. Event-like
// properties carry old timestamps so they never look like fresh events.
var propertyDefaults = map[string]propertyDefault{
	device.PropertyTemperature:  {value: 20.0},
	device.PropertyBatteryLevel: {value: 20.0},
	device.PropertyHumidity:     {value: 35.0},
	device.PropertyIllumination: {value: 0.0},
	device.PropertyWaterLevel:   {value: 70.0},
	device.PropertyMotion:       {value: 0.0, age: 100000 * time.Second},
	device.PropertyOpen:         {value: "closed", age: 500000 * time.Second},
	device.PropertyButton:       {value: "click", age: 1e9 * time.Second},
}

// QueryCapability returns the value of the device's first capability of type typ.
// When the device is quarantined or unreadable, documented defaults are
// returned instead of the error.
func (e *Engine) QueryCapability(ctx context.Context, id, typ string, freshness time.Duration) (any, error) {
	snap, err := e.Read(ctx, id, freshness)
	if err == nil {
		if c, ok := snap.Capability(typ); ok {
			return c.Value, nil
		}
	}
	if v, ok := capabilityDefaults[typ]; ok {
		return v, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotReported, id, typ)
}

// QueryCapabilityInstance returns which instance the device's capability of
// type typ currently reports, e.g. the active colour mode.
func (e *Engine) QueryCapabilityInstance(ctx context.Context, id, typ string, freshness time.Duration) (string, error) {
	snap, err := e.Read(ctx, id, freshness)
	if err == nil {
		if c, ok := snap.Capability(typ); ok {
			return c.Instance, nil
		}
	}
	if v, ok := instanceDefaults[typ]; ok {
		return v, nil
	}
	if err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %s %s", ErrNotReported, id, typ)
}

// QueryProperty returns a sensor reading.
func (e *Engine) QueryProperty(ctx context.Context, id, instance string, freshness time.Duration) (PropertyValue, error) {
	snap, err := e.Read(ctx, id, freshness)
	if err == nil {
		if p, ok := snap.Property(instance); ok {
			return PropertyValue{Value: p.Value, UpdatedAt: p.LastUpdated}, nil
		}
	}
	if d, ok := propertyDefaults[instance]; ok {
		return PropertyValue{Value: d.value, UpdatedAt: e.now().Add(-d.age)}, nil
	}
	if err != nil {
		return PropertyValue{}, err
	}
	return PropertyValue{}, fmt.Errorf("%w: %s %s", ErrNotReported, id, instance)
}
