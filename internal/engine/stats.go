package engine

import (
	"context"

	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
)

// heavyHitters is how many paths and devices are logged per stats cycle.
const heavyHitters = 5

// StatsCycle collects request statistics, queue depths and failure ratios,
// writes them to the metrics backend when one is configured, logs the
// busiest paths and devices, persists queue high-water marks and resets the
// counters for the next period.
func (e *Engine) StatsCycle(ctx context.Context) {
	if src, ok := e.adapter.(statsSource); ok {
		snap := src.Stats().Snapshot()
		src.Stats().Reset()

		for i, p := range snap.Paths {
			if e.metrics != nil {
				e.metrics.WriteRequestLatency(p.Path, p.Total)
			}
			if i < heavyHitters {
				e.logger.Debug("remote path latency", "path", p.Path, "total", p.Total)
			}
		}
		for i, d := range snap.Devices {
			if e.metrics != nil {
				e.metrics.WriteDeviceCalls(d.DeviceID, d.Gets, d.Posts)
			}
			if i < heavyHitters {
				e.logger.Debug("remote device calls", "device_id", d.DeviceID, "gets", d.Gets, "posts", d.Posts)
			}
		}
	}

	for id, ratio := range e.FailureRatios() {
		if e.metrics != nil {
			e.metrics.WriteFailureRatio(id, ratio)
		}
		if ratio > 0 {
			e.logger.Debug("device failure ratio", "device_id", id, "ratio", ratio)
		}
	}

	marks := make(map[string]int, 2)
	for _, qs := range e.QueueStats() {
		if e.metrics != nil {
			e.metrics.WriteQueue(qs.Name, qs.Depth, qs.HighWater)
		}
		e.logger.Debug("queue depth", "queue", qs.Name, "depth", qs.Depth, "high_water", qs.HighWater)
		marks[qs.Name] = qs.HighWater
	}
	e.dispatchQ.ResetHighWater()
	e.verifyQ.ResetHighWater()

	if e.journal != nil {
		if err := e.journal.Put(ctx, journal.KeyQueueHighWater, marks); err != nil {
			e.logger.Warn("failed to persist queue high-water marks", "error", err)
		}
	}
}
