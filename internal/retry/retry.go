// Package retry repeats remote operations with independent per-category
// counters.
//
// Each fault.Kind has its own give-up threshold and backoff shape. A failure
// only advances the counter of its own kind, so a burst of server errors does
// not eat into the timeout budget and vice versa. When any counter reaches
// its threshold, or the optional global attempt cap is hit, the most
// specific error seen so far is returned.
//
// Usage:
//
//	p := retry.DefaultPolicy()
//	snap, err := retry.Value(ctx, p, func(ctx context.Context) (*device.Snapshot, error) {
//	    return adapter.DeviceInfo(ctx, id)
//	})
package retry

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
)

// Logger defines the logging interface used by the policy.
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

// Backoff returns the wait after the n-th failure (1-based) of one category.
type Backoff func(n int) time.Duration

// Rule is the threshold and backoff for one category.
type Rule struct {
	// MaxAttempts is the failure count at which the category gives up.
	MaxAttempts int
	Backoff     Backoff
}

// Policy holds one Rule per fault kind.
type Policy struct {
	Rules map[fault.Kind]Rule

	// MaxTotal caps attempts across all categories. Zero disables the cap.
	MaxTotal int

	// Sleep waits between attempts; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger Logger
}

// Default thresholds per category.
const (
	DefaultTimeoutAttempts  = 10
	DefaultServerAttempts   = 100
	DefaultClientAttempts   = 10
	DefaultOfflineAttempts  = 10
	DefaultMismatchAttempts = 10
	DefaultUnknownAttempts  = 10
	DefaultMaxTotal         = 150
)

const shortPause = 100 * time.Millisecond

// TimeoutBackoff does not wait after the first two timeouts, then waits
// 1s + (n-3)*0.5s.
func TimeoutBackoff(n int) time.Duration {
	if n < 3 {
		return 0
	}
	return time.Second + time.Duration(n-3)*500*time.Millisecond
}

// ServerBackoff retries immediately until the 30th failure, then pauses 100ms.
func ServerBackoff(n int) time.Duration {
	if n < 30 {
		return 0
	}
	return shortPause
}

// AfterThird retries immediately twice, then pauses 100ms.
func AfterThird(n int) time.Duration {
	if n < 3 {
		return 0
	}
	return shortPause
}

// Constant always pauses 100ms.
func Constant(int) time.Duration {
	return shortPause
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() *Policy {
	return &Policy{
		Rules: map[fault.Kind]Rule{
			fault.KindTimeout:  {MaxAttempts: DefaultTimeoutAttempts, Backoff: TimeoutBackoff},
			fault.KindServer:   {MaxAttempts: DefaultServerAttempts, Backoff: ServerBackoff},
			fault.KindClient:   {MaxAttempts: DefaultClientAttempts, Backoff: AfterThird},
			fault.KindOffline:  {MaxAttempts: DefaultOfflineAttempts, Backoff: Constant},
			fault.KindMismatch: {MaxAttempts: DefaultMismatchAttempts, Backoff: Constant},
			fault.KindUnknown:  {MaxAttempts: DefaultUnknownAttempts, Backoff: AfterThird},
		},
		MaxTotal: DefaultMaxTotal,
		Sleep:    sleepContext,
		Logger:   noopLogger{},
	}
}

// WithThreshold returns a copy of the policy with one category's threshold replaced.
func (p *Policy) WithThreshold(kind fault.Kind, maxAttempts int) *Policy {
	cp := p.clone()
	r := cp.Rules[kind]
	r.MaxAttempts = maxAttempts
	cp.Rules[kind] = r
	return cp
}

func (p *Policy) clone() *Policy {
	cp := *p
	cp.Rules = make(map[fault.Kind]Rule, len(p.Rules))
	for k, r := range p.Rules {
		cp.Rules[k] = r
	}
	return &cp
}

// Do runs fn until it succeeds, fails non-retryably, or a cap is reached.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	counts := make(map[fault.Kind]int, len(p.Rules))
	var specific error
	total := 0

	for {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		total++

		kind := fault.KindOf(err)
		counts[kind]++
		if kind != fault.KindUnknown || specific == nil {
			specific = err
		}

		if !fault.IsRetryable(err) {
			p.giveUp(err, counts[kind], total)
			return zero, err
		}

		rule, ok := p.Rules[kind]
		if !ok {
			rule = p.Rules[fault.KindUnknown]
		}
		if rule.MaxAttempts > 0 && counts[kind] >= rule.MaxAttempts {
			p.giveUp(err, counts[kind], total)
			return zero, err
		}
		if p.MaxTotal > 0 && total >= p.MaxTotal {
			p.giveUp(specific, counts[kind], total)
			return zero, specific
		}

		var wait time.Duration
		if rule.Backoff != nil {
			wait = rule.Backoff(counts[kind])
		}
		if err := p.sleep(ctx, wait); err != nil {
			return zero, specific
		}
	}
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func (p *Policy) giveUp(err error, count, total int) {
	logger := p.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	fe, classified := fault.As(err)
	if classified && fe.Debug != "" {
		logger.Debug("retry gave up", "debug", fe.Debug)
	}
	if classified && fe.Quiet {
		return
	}
	logger.Error("retry gave up",
		"kind", fault.KindOf(err).String(),
		"attempts", count,
		"total_attempts", total,
		"error", err,
	)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
