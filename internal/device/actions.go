package device

// Colour temperature and brightness limits accepted by the remote service.
const (
	MinTemperatureK = 1500
	MaxTemperatureK = 6500
	MaxBrightness   = 100
)

// NewAction starts an empty action for a device.
func NewAction(id string) Action {
	return Action{DeviceID: id}
}

// On switches a device on.
func On(id string) Action {
	return NewAction(id).Add(CapabilityOnOff, InstanceOn, true)
}

// Off switches a device off.
func Off(id string) Action {
	return NewAction(id).Add(CapabilityOnOff, InstanceOn, false)
}

// OnBrightness switches a lamp on at a brightness percentage.
// Zero or less turns it off; values above 100 are clamped.
func OnBrightness(id string, brightness int) Action {
	brightness = clamp(brightness, 0, MaxBrightness)
	if brightness == 0 {
		return Off(id)
	}
	return On(id).Add(CapabilityRange, InstanceBrightness, brightness)
}

// OnTemperature switches a lamp on with a white colour temperature in kelvin.
func OnTemperature(id string, kelvin, brightness int) Action {
	a := OnBrightness(id, brightness)
	if clamp(brightness, 0, MaxBrightness) == 0 {
		return a
	}
	return a.Add(CapabilityColorSetting, InstanceTemperatureK, clamp(kelvin, MinTemperatureK, MaxTemperatureK))
}

// HSV is a colour in hue/saturation/value form as the remote service encodes it.
type HSV struct {
	H int `json:"h"`
	S int `json:"s"`
	V int `json:"v"`
}

// OnHSV switches a colour lamp on with an HSV colour.
func OnHSV(id string, colour HSV, brightness int) Action {
	a := OnBrightness(id, brightness)
	if clamp(brightness, 0, MaxBrightness) == 0 {
		return a
	}
	return a.Add(CapabilityColorSetting, InstanceHSV, map[string]any{"h": colour.H, "s": colour.S, "v": colour.V})
}

// OnRGB switches a colour lamp on with a packed 0xRRGGBB colour.
func OnRGB(id string, rgb, brightness int) Action {
	a := OnBrightness(id, brightness)
	if clamp(brightness, 0, MaxBrightness) == 0 {
		return a
	}
	return a.Add(CapabilityColorSetting, InstanceRGB, rgb)
}

// SetMode sets a mode capability such as work_speed or fan_speed.
func SetMode(id, instance, mode string) Action {
	return NewAction(id).Add(CapabilityMode, instance, mode)
}

// OpenTo sets a curtain or valve opening percentage.
func OpenTo(id string, percent int) Action {
	return NewAction(id).Add(CapabilityRange, InstanceOpen, clamp(percent, 0, 100))
}

// BrightnessTolerance is a Mutation for lamps that report a brightness one
// step above the commanded value. Desired brightness b becomes the set
// {b, min(b+1, 100)}.
func BrightnessTolerance(a Action) Action {
	for i, c := range a.Capabilities {
		if c.Instance != InstanceBrightness {
			continue
		}
		b, ok := asInt(c.Value)
		if !ok {
			continue
		}
		a.Capabilities[i].Value = AnyOf{b, min(b+1, MaxBrightness)}
	}
	return a
}

// mutationsByName lists the mutations a device catalogue may reference.
var mutationsByName = map[string]Mutation{
	"brightness_tolerance": BrightnessTolerance,
}

// LookupMutation returns a named mutation.
func LookupMutation(name string) (Mutation, bool) {
	m, ok := mutationsByName[name]
	return m, ok
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	}
	return 0, false
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
