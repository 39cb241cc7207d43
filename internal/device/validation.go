package device

import (
	"fmt"
	"strings"
)

// Validation constants.
const (
	maxIDLength     = 128
	maxNameLength   = 100
	maxCapabilities = 20
	maxActions      = 50
)

var validCapabilityTypes = map[string]struct{}{
	CapabilityOnOff:        {},
	CapabilityRange:        {},
	CapabilityColorSetting: {},
	CapabilityMode:         {},
	CapabilityToggle:       {},
}

// ValidateDevice checks a device definition before registration.
func ValidateDevice(d Device) error {
	if err := validateID(d.ID); err != nil {
		return err
	}
	if len(d.Name) > maxNameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if d.HumanControl < 0 {
		return fmt.Errorf("%w: human control window must not be negative", ErrInvalidDevice)
	}
	for _, x := range d.Exclusions {
		if x.Type == "" || x.Instance == "" {
			return fmt.Errorf("%w: exclusion needs type and instance", ErrInvalidDevice)
		}
	}
	return nil
}

// ValidateAction checks that an action names a device and carries well-formed
// capability triples.
func ValidateAction(a Action) error {
	if err := validateID(a.DeviceID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	if len(a.Capabilities) == 0 {
		return fmt.Errorf("%w: no capabilities", ErrInvalidAction)
	}
	if len(a.Capabilities) > maxCapabilities {
		return fmt.Errorf("%w: more than %d capabilities", ErrInvalidAction, maxCapabilities)
	}
	for _, c := range a.Capabilities {
		if err := ValidateCapability(c); err != nil {
			return err
		}
	}
	return nil
}

// ValidateActions validates a batch and rejects duplicate device IDs.
func ValidateActions(actions []Action) error {
	if len(actions) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidAction)
	}
	if len(actions) > maxActions {
		return fmt.Errorf("%w: more than %d actions", ErrInvalidAction, maxActions)
	}
	seen := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if err := ValidateAction(a); err != nil {
			return err
		}
		if _, dup := seen[a.DeviceID]; dup {
			return fmt.Errorf("%w: device %s appears twice", ErrInvalidAction, a.DeviceID)
		}
		seen[a.DeviceID] = struct{}{}
	}
	return nil
}

// ValidateCapability checks a single capability triple.
func ValidateCapability(c Capability) error {
	if _, ok := validCapabilityTypes[c.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCapability, c.Type)
	}
	if strings.TrimSpace(c.Instance) == "" {
		return fmt.Errorf("%w: %s has no instance", ErrInvalidCapability, c.Type)
	}
	if c.Value == nil {
		return fmt.Errorf("%w: %s %s has no value", ErrInvalidCapability, c.Type, c.Instance)
	}
	if set, ok := c.Value.(AnyOf); ok && len(set) == 0 {
		return fmt.Errorf("%w: %s %s has an empty value set", ErrInvalidCapability, c.Type, c.Instance)
	}
	return nil
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	return nil
}
