package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering an ID twice.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidAction is returned when an action is malformed.
	ErrInvalidAction = errors.New("device: invalid action")

	// ErrInvalidCapability is returned when a capability triple is malformed.
	ErrInvalidCapability = errors.New("device: invalid capability")

	// ErrUnknownMutation is returned when a catalogue entry names a mutation
	// that is not registered.
	ErrUnknownMutation = errors.New("device: unknown mutation")

	// ErrUnknownKind is returned when a catalogue entry names an unknown kind.
	ErrUnknownKind = errors.New("device: unknown kind")
)
