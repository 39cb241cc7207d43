package remote

import (
	"context"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

// Adapter performs the actual network read and write against the device
// service. Implementations classify every failure as a *fault.Error.
//
// Actions returns the per-capability results it could decode. When any
// result is not DONE it also returns an offline fault naming every failing
// device, so a partial failure is both inspectable and retryable.
type Adapter interface {
	DeviceInfo(ctx context.Context, id string) (*device.Snapshot, error)
	Actions(ctx context.Context, actions []device.Action) ([]device.ActionResult, error)
}

// Logger defines the logging interface used by adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
