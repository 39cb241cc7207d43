// Package fault classifies failures of the remote device service.
//
// Every failure surfaced by the remote adapter, the arbitration core and the
// verifier is a *Error carrying a Kind. Callers branch on the kind with
// errors.Is against the sentinel for that kind, or with KindOf:
//
//	if errors.Is(err, fault.ErrOffline) {
//	    // quarantine fault.DeviceIDs(err)
//	}
//
// The Notify and Quiet flags travel with the error so that the layer that
// finally gives up knows whether to tell a human and whether to log loudly.
package fault

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
)

// Kind is the failure category.
type Kind int

const (
	// KindUnknown is any failure that is not otherwise classified.
	KindUnknown Kind = iota

	// KindTimeout is a request that exceeded its deadline.
	KindTimeout

	// KindServer is a remote 5xx, a transport failure or an unreadable response.
	KindServer

	// KindClient is a rejected request (4xx other than 404, or status != ok).
	KindClient

	// KindOffline is a device the remote service reports as unreachable.
	KindOffline

	// KindMismatch is a verification failure: the device is reachable but its
	// state differs from the desired action.
	KindMismatch
)

// String returns the lowercase kind name used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindOffline:
		return "offline"
	case KindMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrUnknown  = &Error{Kind: KindUnknown}
	ErrTimeout  = &Error{Kind: KindTimeout}
	ErrServer   = &Error{Kind: KindServer}
	ErrClient   = &Error{Kind: KindClient}
	ErrOffline  = &Error{Kind: KindOffline}
	ErrMismatch = &Error{Kind: KindMismatch}
)

// Error is a classified remote failure.
type Error struct {
	Kind    Kind
	Message string

	// Retryable is false when repeating the operation cannot help.
	Retryable bool

	// Notify asks the layer that gives up to send an operator notification.
	Notify bool

	// Quiet suppresses error-level logging on give-up.
	Quiet bool

	// Debug holds extra diagnostic text (request path, response body excerpt).
	Debug string

	// DeviceIDs names the devices the failure applies to.
	DeviceIDs []string

	// Observed holds, for mismatches, the checked actions with the live values
	// substituted in. It is the state a detected override is adopted from.
	Observed []device.Action

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.DeviceIDs) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.DeviceIDs, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error with the default flags for its kind.
func New(kind Kind, msg string, deviceIDs ...string) *Error {
	e := &Error{
		Kind:      kind,
		Message:   msg,
		Retryable: true,
		DeviceIDs: deviceIDs,
	}
	switch kind {
	case KindServer, KindClient:
		e.Notify = true
	}
	return e
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, msg string, deviceIDs ...string) *Error {
	e := New(kind, msg, deviceIDs...)
	e.Err = err
	return e
}

// Timeout creates a timeout error.
func Timeout(msg string, deviceIDs ...string) *Error { return New(KindTimeout, msg, deviceIDs...) }

// Server creates a server error.
func Server(msg string, deviceIDs ...string) *Error { return New(KindServer, msg, deviceIDs...) }

// Client creates a client error.
func Client(msg string, deviceIDs ...string) *Error { return New(KindClient, msg, deviceIDs...) }

// Offline creates an offline error.
func Offline(msg string, deviceIDs ...string) *Error { return New(KindOffline, msg, deviceIDs...) }

// Mismatch creates a verification error.
func Mismatch(msg string, deviceIDs []string, observed []device.Action) *Error {
	e := New(KindMismatch, msg, deviceIDs...)
	e.Observed = observed
	return e
}

// WithNotify sets the notify flag and returns the error for chaining.
func (e *Error) WithNotify(notify bool) *Error {
	e.Notify = notify
	return e
}

// WithRetryable sets the retryable flag and returns the error for chaining.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithQuiet sets the quiet flag and returns the error for chaining.
func (e *Error) WithQuiet(quiet bool) *Error {
	e.Quiet = quiet
	return e
}

// WithDebug attaches diagnostic text and returns the error for chaining.
func (e *Error) WithDebug(debug string) *Error {
	e.Debug = debug
	return e
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of a classified error, or KindUnknown.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindUnknown
}

// DeviceIDs returns the device IDs carried by a classified error.
func DeviceIDs(err error) []string {
	if fe, ok := As(err); ok {
		return fe.DeviceIDs
	}
	return nil
}

// IsRetryable reports whether an error may succeed on repetition.
// Unclassified errors are retryable.
func IsRetryable(err error) bool {
	if fe, ok := As(err); ok {
		return fe.Retryable
	}
	return true
}

// ShouldNotify reports whether the error asks for an operator notification.
func ShouldNotify(err error) bool {
	if fe, ok := As(err); ok {
		return fe.Notify
	}
	return false
}

// IsConnectivity reports whether the error means the device could not be
// reached (offline or server failure).
func IsConnectivity(err error) bool {
	k := KindOf(err)
	return k == KindOffline || k == KindServer
}

// Terminal returns err marked non-retryable. A classified error is copied so
// the original keeps its flags; anything else is wrapped as unknown.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := As(err); ok {
		cp := *fe
		cp.Retryable = false
		return &cp
	}
	return Wrap(KindUnknown, err, "").WithRetryable(false)
}
