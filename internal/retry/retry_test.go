package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
)

// testPolicy returns the default policy with a recording, non-blocking sleep.
func testPolicy(waits *[]time.Duration) *Policy {
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return p
}

// failN returns an operation that fails n times with err and then succeeds.
func failN(n int, err error) (func(context.Context) error, *int) {
	calls := 0
	return func(context.Context) error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func TestDo_ThresholdPerCategory(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		threshold int
	}{
		{"timeout", fault.Timeout("t"), DefaultTimeoutAttempts},
		{"server", fault.Server("s"), DefaultServerAttempts},
		{"client", fault.Client("c"), DefaultClientAttempts},
		{"offline", fault.Offline("o"), DefaultOfflineAttempts},
		{"mismatch", fault.Mismatch("m", nil, nil), DefaultMismatchAttempts},
		{"unknown", errors.New("u"), DefaultUnknownAttempts},
	}

	for _, tt := range tests {
		t.Run(tt.name+" gives up at threshold", func(t *testing.T) {
			var waits []time.Duration
			fn, calls := failN(tt.threshold, tt.err)
			err := testPolicy(&waits).Do(context.Background(), fn)
			if err == nil {
				t.Fatal("Do() = nil, want error")
			}
			if fault.KindOf(err) != fault.KindOf(tt.err) {
				t.Errorf("kind = %v, want %v", fault.KindOf(err), fault.KindOf(tt.err))
			}
			if *calls != tt.threshold {
				t.Errorf("calls = %d, want %d", *calls, tt.threshold)
			}
		})

		t.Run(tt.name+" succeeds below threshold", func(t *testing.T) {
			var waits []time.Duration
			fn, calls := failN(tt.threshold-1, tt.err)
			if err := testPolicy(&waits).Do(context.Background(), fn); err != nil {
				t.Fatalf("Do() = %v, want nil", err)
			}
			if *calls != tt.threshold {
				t.Errorf("calls = %d, want %d", *calls, tt.threshold)
			}
		})
	}
}

func TestDo_NonRetryableShortCircuits(t *testing.T) {
	var waits []time.Duration
	fn, calls := failN(5, fault.Server("s").WithRetryable(false))
	err := testPolicy(&waits).Do(context.Background(), fn)
	if !errors.Is(err, fault.ErrServer) {
		t.Fatalf("Do() = %v, want server error", err)
	}
	if *calls != 1 {
		t.Errorf("calls = %d, want 1", *calls)
	}
}

func TestDo_IndependentCounters(t *testing.T) {
	// Alternate timeout and offline failures: each category counts on its own,
	// so 9 of each (18 calls) is still below both thresholds.
	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls > 18 {
			return nil
		}
		if calls%2 == 0 {
			return fault.Offline("o")
		}
		return fault.Timeout("t")
	}

	var waits []time.Duration
	if err := testPolicy(&waits).Do(context.Background(), fn); err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
}

func TestDo_GlobalCapReturnsMostSpecific(t *testing.T) {
	var waits []time.Duration
	p := testPolicy(&waits)
	p.MaxTotal = 4

	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls == 2 {
			return fault.Offline("o")
		}
		return errors.New("opaque")
	}

	err := p.Do(context.Background(), fn)
	if !errors.Is(err, fault.ErrOffline) {
		t.Errorf("Do() = %v, want the offline error", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDo_Backoff(t *testing.T) {
	var waits []time.Duration
	fn, _ := failN(4, fault.Timeout("t"))
	if err := testPolicy(&waits).Do(context.Background(), fn); err != nil {
		t.Fatal(err)
	}

	want := []time.Duration{0, 0, time.Second, 1500 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestBackoffShapes(t *testing.T) {
	if ServerBackoff(29) != 0 || ServerBackoff(30) != shortPause {
		t.Error("ServerBackoff should pause from the 30th failure")
	}
	if AfterThird(2) != 0 || AfterThird(3) != shortPause {
		t.Error("AfterThird should pause from the 3rd failure")
	}
	if Constant(1) != shortPause {
		t.Error("Constant should always pause")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := DefaultPolicy()
	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return fault.Offline("o")
	})
	if err == nil {
		t.Fatal("Do() = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestValue(t *testing.T) {
	var waits []time.Duration
	calls := 0
	v, err := Value(context.Background(), testPolicy(&waits), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, fault.Server("s")
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("Value() = %d, %v; want 42, nil", v, err)
	}
}

func TestWithThreshold(t *testing.T) {
	base := DefaultPolicy()
	p := base.WithThreshold(fault.KindServer, 3)
	if p.Rules[fault.KindServer].MaxAttempts != 3 {
		t.Error("threshold not applied")
	}
	if base.Rules[fault.KindServer].MaxAttempts != DefaultServerAttempts {
		t.Error("WithThreshold modified the original policy")
	}
}
