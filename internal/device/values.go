package device

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Normalize converts a value into its canonical JSON shape so that values
// produced by different decoders compare equal (all numbers become float64,
// structs become maps).
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// Equal reports whether two plain values are equal after normalisation.
func Equal(a, b any) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// Accepts reports whether live satisfies desired. An AnyOf desired value
// accepts any of its members.
func Accepts(desired, live any) bool {
	if set, ok := desired.(AnyOf); ok {
		for _, v := range set {
			if Equal(v, live) {
				return true
			}
		}
		return false
	}
	return Equal(desired, live)
}

// Preferred returns the value to transmit for a desired value.
func Preferred(desired any) any {
	if set, ok := desired.(AnyOf); ok {
		if len(set) == 0 {
			return nil
		}
		return set[0]
	}
	return desired
}

// FormatValue renders a value for operator-facing messages.
func FormatValue(v any) string {
	if set, ok := v.(AnyOf); ok {
		parts := make([]string, len(set))
		for i, x := range set {
			parts[i] = FormatValue(x)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	}
	data, err := json.Marshal(Normalize(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Fingerprint returns a canonical encoding of an action sequence and its
// exclusions. Two expected-state records describe the same intent exactly
// when their fingerprints are equal.
func Fingerprint(actions []Action, excl Exclusions) string {
	sorted := append(Exclusions(nil), excl...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].Instance < sorted[j].Instance
	})

	type capability struct {
		Type     string `json:"t"`
		Instance string `json:"i"`
		Value    any    `json:"v"`
	}
	type action struct {
		DeviceID     string       `json:"d"`
		Capabilities []capability `json:"c"`
	}

	encoded := struct {
		Actions    []action   `json:"a"`
		Exclusions Exclusions `json:"x"`
	}{Exclusions: sorted}

	for _, a := range actions {
		ea := action{DeviceID: a.DeviceID, Capabilities: make([]capability, len(a.Capabilities))}
		for i, c := range a.Capabilities {
			v := c.Value
			if set, ok := v.(AnyOf); ok {
				norm := make([]any, len(set))
				for k, x := range set {
					norm[k] = Normalize(x)
				}
				v = map[string]any{"any_of": norm}
			} else {
				v = Normalize(v)
			}
			ea.Capabilities[i] = capability{Type: c.Type, Instance: c.Instance, Value: v}
		}
		encoded.Actions = append(encoded.Actions, ea)
	}

	data, err := json.Marshal(encoded)
	if err != nil {
		return fmt.Sprintf("%v|%v", actions, sorted)
	}
	return string(data)
}
