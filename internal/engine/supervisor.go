package engine

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/queue"
)

// Start launches the worker pools and the drift, recovery, ping and stats
// supervisors. Call Stop to shut them down.
//
// Parameters:
//   - ctx: Context for cancellation (loops stop when cancelled)
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return
	}
	e.running = true
	e.runMu.Unlock()

	e.loadNotices(ctx)

	ctx, cancel := context.WithCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		select {
		case <-ctx.Done():
			// Workers are gone; refuse new jobs.
			e.runMu.Lock()
			e.running = false
			e.runMu.Unlock()
		case <-e.done:
		}
	}()

	dispatch := queue.NewPool(e.dispatchQ, e.cfg.DispatchWorkers, e.runDispatch, e.logger)
	verify := queue.NewPool(e.verifyQ, e.cfg.VerifyWorkers, e.runVerifyDispatch, e.logger)
	for _, run := range []func(context.Context) error{dispatch.Run, verify.Run} {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			_ = run(ctx)
		}()
	}

	e.every(ctx, "drift", e.cfg.DriftInterval, e.DriftCycle)
	e.every(ctx, "recovery", e.cfg.RecoveryInterval, e.RecoveryCycle)
	e.every(ctx, "ping", e.cfg.PingInterval, e.PingCycle)
	e.every(ctx, "stats", e.cfg.StatsInterval, e.StatsCycle)

	e.logger.Info("engine started",
		"dispatch_workers", e.cfg.DispatchWorkers,
		"verify_workers", e.cfg.VerifyWorkers,
	)
}

// Stop signals every loop and worker to finish and waits for them.
// Queued jobs that have not started are dropped.
// Safe to call multiple times (uses sync.Once).
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.runMu.Lock()
		e.running = false
		e.runMu.Unlock()

		close(e.done)
		e.wg.Wait()
		e.logger.Info("engine stopped")
	})
}

func (e *Engine) isRunning() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// every runs fn each interval until ctx is cancelled. A slow cycle delays
// the next one rather than overlapping it.
func (e *Engine) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.runCycle(ctx, name, fn)
			}
		}
	}()
}

func (e *Engine) runCycle(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("supervisor cycle panicked", "supervisor", name, "panic", r)
		}
	}()
	fn(ctx)
}
