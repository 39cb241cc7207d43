package influxdb

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/config"
)

// fakeWriter captures points as line protocol.
type fakeWriter struct {
	mu      sync.Mutex
	lines   []string
	flushes int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, write.PointToLineProtocol(p, time.Second))
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestClient() (*Client, *fakeWriter) {
	w := &fakeWriter{}
	c := newClient(config.InfluxDBConfig{Enabled: true, Bucket: "arbiter"}, w)
	c.now = func() time.Time { return fixedNow }
	return c, w
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1",
		Token:   "t",
	})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name          string
		batch, flush  int
		wantB, wantFl int
	}{
		{"explicit", 50, 2, 50, 2},
		{"zero uses defaults", 0, 0, defaultBatchSize, defaultFlushInterval},
		{"negative uses defaults", -5, -1, defaultBatchSize, defaultFlushInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, f := batchSettings(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if b != tt.wantB || f != tt.wantFl {
				t.Errorf("batchSettings() = %d, %d; want %d, %d", b, f, tt.wantB, tt.wantFl)
			}
		})
	}
}

func TestMetricsWriters(t *testing.T) {
	c, w := newTestClient()

	c.WriteFailureRatio("lamp", 0.25)
	c.WriteRequestLatency("/v1.0/devices/actions", 1500*time.Millisecond)
	c.WriteDeviceCalls("lamp", 3, 1)
	c.WriteQueue("dispatch", 2, 7)
	c.WriteEvent("quarantined", "plug")

	want := []struct {
		prefix string
		fields []string
	}{
		{"arbiter_failure_ratio,device_id=lamp ", []string{"ratio=0.25"}},
		{"arbiter_request_latency,path=/v1.0/devices/actions ", []string{"total_ms=1500"}},
		{"arbiter_device_calls,device_id=lamp ", []string{"gets=3i", "posts=1i"}},
		{"arbiter_queue,queue=dispatch ", []string{"depth=2i", "high_water=7i"}},
		{"arbiter_event,device_id=plug,kind=quarantined ", []string{"count=1i"}},
	}
	if len(w.lines) != len(want) {
		t.Fatalf("wrote %d points, want %d: %q", len(w.lines), len(want), w.lines)
	}
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	for i, wp := range want {
		line := w.lines[i]
		if !strings.HasPrefix(line, wp.prefix) {
			t.Errorf("point %d = %q, want prefix %q", i, line, wp.prefix)
		}
		for _, f := range wp.fields {
			if !strings.Contains(line, f) {
				t.Errorf("point %d = %q, missing field %q", i, line, f)
			}
		}
		if !strings.Contains(line, ts) {
			t.Errorf("point %d = %q, missing timestamp %s", i, line, ts)
		}
	}
}

func TestWrites_AfterCloseAreDropped(t *testing.T) {
	c, w := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("Close() flushed %d times, want 1", w.flushes)
	}

	c.WriteQueue("dispatch", 1, 1)
	c.Flush()

	if len(w.lines) != 0 {
		t.Errorf("points written after Close: %q", w.lines)
	}
	if w.flushes != 1 {
		t.Error("Flush() after Close reached the writer")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestHealthCheck_NotConnected(t *testing.T) {
	c, _ := newTestClient()
	if err := c.HealthCheck(t.Context()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() without server client error = %v, want ErrNotConnected", err)
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _ := newTestClient()

	var mu sync.Mutex
	var got []error
	c.SetOnError(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	})

	ch := make(chan error, 2)
	ch <- errors.New("bucket not found")
	close(ch)
	c.handleWriteErrors(ch)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !errors.Is(got[0], ErrWriteFailed) || !strings.Contains(got[0].Error(), "bucket not found") {
		t.Errorf("callback errors = %v", got)
	}
}
