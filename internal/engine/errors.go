package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrQuarantined is returned by reads of a quarantined device.
	ErrQuarantined = errors.New("engine: device quarantined")

	// ErrNoSnapshot is returned when no last-known-good snapshot exists.
	ErrNoSnapshot = errors.New("engine: no snapshot")

	// ErrNotTracked is returned when a device has no expected-state record.
	ErrNotTracked = errors.New("engine: device not tracked")

	// ErrMissingDependency is returned by New when a required dependency is nil.
	ErrMissingDependency = errors.New("engine: missing dependency")

	// ErrQueueFull is returned when a job cannot be queued without blocking.
	ErrQueueFull = errors.New("engine: queue full")

	// ErrNotRunning is returned when queued work is submitted before Start
	// or after Stop.
	ErrNotRunning = errors.New("engine: not running")
)

// ErrNotReported is returned by queries for a value the device does not
// report and that has no fallback.
var ErrNotReported = errors.New("engine: value not reported")
