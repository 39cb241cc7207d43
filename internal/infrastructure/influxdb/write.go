package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementFailureRatio   = "arbiter_failure_ratio"
	MeasurementRequestLatency = "arbiter_request_latency"
	MeasurementDeviceCalls    = "arbiter_device_calls"
	MeasurementQueue          = "arbiter_queue"
	MeasurementEvent          = "arbiter_event"
)

// WriteFailureRatio records the share of the gap window a device spent
// quarantined.
func (c *Client) WriteFailureRatio(deviceID string, ratio float64) {
	c.writePoint(MeasurementFailureRatio,
		map[string]string{"device_id": deviceID},
		map[string]any{"ratio": ratio},
	)
}

// WriteRequestLatency records the summed time spent on one API path since
// the last statistics cycle.
func (c *Client) WriteRequestLatency(path string, total time.Duration) {
	c.writePoint(MeasurementRequestLatency,
		map[string]string{"path": path},
		map[string]any{"total_ms": float64(total) / float64(time.Millisecond)},
	)
}

// WriteDeviceCalls records per-device read and write counts.
func (c *Client) WriteDeviceCalls(deviceID string, gets, posts int) {
	c.writePoint(MeasurementDeviceCalls,
		map[string]string{"device_id": deviceID},
		map[string]any{"gets": gets, "posts": posts},
	)
}

// WriteQueue records a work queue's depth and high-water mark.
func (c *Client) WriteQueue(name string, depth, highWater int) {
	c.writePoint(MeasurementQueue,
		map[string]string{"queue": name},
		map[string]any{"depth": depth, "high_water": highWater},
	)
}

// WriteEvent counts an engine event (quarantined, released, override...).
func (c *Client) WriteEvent(kind, deviceID string) {
	c.writePoint(MeasurementEvent,
		map[string]string{"kind": kind, "device_id": deviceID},
		map[string]any{"count": 1},
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
