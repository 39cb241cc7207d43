package device

import (
	"encoding/json"
	"testing"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int vs float", 50, 50.0, true},
		{"int vs json number", 50, json.Number("50"), true},
		{"different numbers", 50, 51, false},
		{"bools", true, true, true},
		{"bool vs string", true, "true", false},
		{"strings", "hsv", "hsv", true},
		{"hsv map from ints", map[string]any{"h": 10, "s": 20, "v": 30}, map[string]any{"h": 10.0, "s": 20.0, "v": 30.0}, true},
		{"hsv struct vs map", HSV{H: 1, S: 2, V: 3}, map[string]any{"h": 1, "s": 2, "v": 3}, true},
		{"nil vs nil", nil, nil, true},
		{"nil vs zero", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		name    string
		desired any
		live    any
		want    bool
	}{
		{"plain match", 40, 40.0, true},
		{"plain mismatch", 40, 41.0, false},
		{"set first member", AnyOf{40, 41}, 40.0, true},
		{"set second member", AnyOf{40, 41}, 41.0, true},
		{"set miss", AnyOf{40, 41}, 42.0, false},
		{"empty set", AnyOf{}, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accepts(tt.desired, tt.live); got != tt.want {
				t.Errorf("Accepts(%v, %v) = %v, want %v", tt.desired, tt.live, got, tt.want)
			}
		})
	}
}

func TestPreferred(t *testing.T) {
	if got := Preferred(AnyOf{7, 8}); got != 7 {
		t.Errorf("Preferred(AnyOf{7, 8}) = %v, want 7", got)
	}
	if got := Preferred("x"); got != "x" {
		t.Errorf("Preferred(x) = %v, want x", got)
	}
	if got := Preferred(AnyOf{}); got != nil {
		t.Errorf("Preferred(empty) = %v, want nil", got)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{true, "true"},
		{"hsv", "hsv"},
		{50, "50"},
		{AnyOf{50, 51}, "(50, 51)"},
		{nil, "null"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	a := []Action{OnBrightness("lamp", 50)}
	b := []Action{On("lamp").Add(CapabilityRange, InstanceBrightness, 50.0)}

	if Fingerprint(a, nil) != Fingerprint(b, nil) {
		t.Error("Fingerprint differs for numerically equal actions")
	}

	x1 := Exclusions{{Type: "on_off", Instance: "on"}, {Type: "range", Instance: "brightness"}}
	x2 := Exclusions{{Type: "range", Instance: "brightness"}, {Type: "on_off", Instance: "on"}}
	if Fingerprint(a, x1) != Fingerprint(a, x2) {
		t.Error("Fingerprint depends on exclusion order")
	}

	if Fingerprint(a, nil) == Fingerprint(a, x1) {
		t.Error("Fingerprint ignores exclusions")
	}

	if Fingerprint(a, nil) == Fingerprint([]Action{OnBrightness("lamp", 51)}, nil) {
		t.Error("Fingerprint ignores values")
	}

	set := []Action{BrightnessTolerance(OnBrightness("lamp", 50))}
	if Fingerprint(set, nil) == Fingerprint(a, nil) {
		t.Error("Fingerprint does not distinguish AnyOf from plain value")
	}
}

func TestCapability_UnmarshalAnyOf(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(any) bool
	}{
		{"any_of", `{"type":"mode","instance":"fan_speed","value":{"any_of":["auto","high"]}}`, func(v any) bool {
			set, ok := v.(AnyOf)
			return ok && len(set) == 2 && set[0] == "auto"
		}},
		{"hsv object", `{"type":"color_setting","instance":"hsv","value":{"h":1,"s":2,"v":3}}`, func(v any) bool {
			m, ok := v.(map[string]any)
			return ok && m["h"] == 1.0
		}},
		{"bool", `{"type":"on_off","instance":"on","value":true}`, func(v any) bool { return v == true }},
		{"missing value", `{"type":"on_off","instance":"on"}`, func(v any) bool { return v == nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Capability
			if err := json.Unmarshal([]byte(tt.input), &c); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if c.Type == "" || c.Instance == "" {
				t.Errorf("type/instance lost: %+v", c)
			}
			if !tt.check(c.Value) {
				t.Errorf("Value = %#v", c.Value)
			}
		})
	}

	// AnyOf survives a round trip through the wire form.
	data, err := json.Marshal(Capability{Type: "range", Instance: "brightness", Value: AnyOf{10, 20}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back Capability
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if set, ok := back.Value.(AnyOf); !ok || len(set) != 2 {
		t.Errorf("round trip Value = %#v, want AnyOf", back.Value)
	}
}
