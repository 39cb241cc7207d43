package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
	"github.com/nerrad567/gray-logic-arbiter/internal/queue"
	"github.com/nerrad567/gray-logic-arbiter/internal/remote"
	"github.com/nerrad567/gray-logic-arbiter/internal/retry"
)

// Logger defines the logging interface used by the engine.
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

// Notifier receives human-readable notifications.
type Notifier interface {
	// Notify queues text; deleteAt, when set, asks the consumer to remove it then.
	Notify(ctx context.Context, text string, deleteAt *time.Time) error
}

// Journal persists engine events and small system values.
type Journal interface {
	Record(ctx context.Context, e journal.Event) error
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dst any) error
}

// EventPublisher forwards engine events to live subscribers (MQTT, WebSocket).
type EventPublisher interface {
	PublishEvent(kind string, payload any)
}

// MetricsWriter receives the periodic statistics.
type MetricsWriter interface {
	WriteFailureRatio(deviceID string, ratio float64)
	WriteRequestLatency(path string, total time.Duration)
	WriteDeviceCalls(deviceID string, gets, posts int)
	WriteQueue(name string, depth, highWater int)
}

// statsSource is implemented by adapters that count their requests.
type statsSource interface {
	Stats() *remote.Stats
}

// Event is published for every quarantine change and detected override.
type Event struct {
	Kind     string    `json:"kind"`
	DeviceID string    `json:"device_id"`
	Name     string    `json:"name"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Config holds engine timing and sizing.
type Config struct {
	// DefaultFreshness is the bucket width used when a read passes 0.
	DefaultFreshness time.Duration

	// ReplayWindow is how old a pending action may be and still replay on recovery.
	ReplayWindow time.Duration

	DriftInterval time.Duration
	DriftDelay    time.Duration

	RecoveryInterval time.Duration
	PingInterval     time.Duration
	PingSpacing      time.Duration
	StatsInterval    time.Duration

	// OverridePriority is the lock level installed when a human takes over.
	OverridePriority int

	GapWindow time.Duration

	// NoticeBase is the quarantine age of the first reminder; each later
	// reminder waits twice as long.
	NoticeBase time.Duration
	NoticeTTL  time.Duration

	DispatchWorkers int
	VerifyWorkers   int
	QueueCapacity   int
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		DefaultFreshness: time.Second,
		ReplayWindow:     10 * time.Minute,
		DriftInterval:    10 * time.Second,
		DriftDelay:       12 * time.Second,
		RecoveryInterval: 10 * time.Second,
		PingInterval:     time.Minute,
		PingSpacing:      time.Second,
		StatsInterval:    time.Minute,
		OverridePriority: 10,
		GapWindow:        20 * time.Minute,
		NoticeBase:       time.Hour,
		NoticeTTL:        10 * time.Minute,
		DispatchWorkers:  10,
		VerifyWorkers:    3,
		QueueCapacity:    queue.DefaultCapacity,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultFreshness <= 0 {
		c.DefaultFreshness = d.DefaultFreshness
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = d.ReplayWindow
	}
	if c.DriftInterval <= 0 {
		c.DriftInterval = d.DriftInterval
	}
	if c.DriftDelay < 0 {
		c.DriftDelay = d.DriftDelay
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = d.RecoveryInterval
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingSpacing < 0 {
		c.PingSpacing = d.PingSpacing
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = d.StatsInterval
	}
	if c.OverridePriority <= 0 {
		c.OverridePriority = d.OverridePriority
	}
	if c.GapWindow <= 0 {
		c.GapWindow = d.GapWindow
	}
	if c.NoticeBase <= 0 {
		c.NoticeBase = d.NoticeBase
	}
	if c.NoticeTTL <= 0 {
		c.NoticeTTL = d.NoticeTTL
	}
	if c.DispatchWorkers <= 0 {
		c.DispatchWorkers = d.DispatchWorkers
	}
	if c.VerifyWorkers <= 0 {
		c.VerifyWorkers = d.VerifyWorkers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	return c
}

// Deps holds the engine's collaborators. Registry and Adapter are required.
type Deps struct {
	Registry *device.Registry
	Adapter  remote.Adapter

	// Retry defaults to retry.DefaultPolicy().
	Retry *retry.Policy

	Notifier Notifier
	Journal  Journal
	Events   EventPublisher
	Metrics  MetricsWriter
	Logger   Logger

	// Clock and Sleep are replaced in tests.
	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine arbitrates device actions and verifies their effect.
//
// It owns the state cache, quarantine store, lock table and expected-state
// records, and runs the drift, recovery, ping and stats supervisors.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	registry *device.Registry
	adapter  remote.Adapter
	retry    *retry.Policy
	notifier Notifier
	journal  Journal
	events   EventPublisher
	metrics  MetricsWriter
	logger   Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	cache      *stateCache
	quarantine *quarantineStore
	locks      *lockTable
	expected   *expectedStore

	lastMu sync.RWMutex
	last   map[string]*device.Snapshot

	phaseMu sync.Mutex
	phases  map[string]Phase

	noticeMu sync.Mutex
	notices  map[string]int

	humanMu sync.Mutex
	humans  map[string]time.Time

	dispatchQ *queue.Queue[Job]
	verifyQ   *queue.Queue[Job]

	// Shutdown coordination (stopOnce prevents double-close panics)
	runMu    sync.Mutex
	running  bool
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an engine.
//
// Parameters:
//   - cfg: Timing and sizing (zero fields take defaults)
//   - deps: Collaborators; Registry and Adapter must be set
//
// Returns:
//   - *Engine: Ready for synchronous use; call Start to run supervisors and queues
//   - error: ErrMissingDependency if a required collaborator is nil
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("%w: registry", ErrMissingDependency)
	}
	if deps.Adapter == nil {
		return nil, fmt.Errorf("%w: adapter", ErrMissingDependency)
	}
	cfg = cfg.withDefaults()

	if deps.Retry == nil {
		deps.Retry = retry.DefaultPolicy()
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}

	return &Engine{
		cfg:        cfg,
		registry:   deps.Registry,
		adapter:    deps.Adapter,
		retry:      deps.Retry,
		notifier:   deps.Notifier,
		journal:    deps.Journal,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Clock,
		sleep:      deps.Sleep,
		cache:      newStateCache(),
		quarantine: newQuarantineStore(cfg.GapWindow, deps.Clock),
		locks:      newLockTable(),
		expected:   newExpectedStore(deps.Clock),
		last:       make(map[string]*device.Snapshot),
		phases:     make(map[string]Phase),
		notices:    make(map[string]int),
		humans:     make(map[string]time.Time),
		dispatchQ:  queue.New[Job]("dispatch", cfg.QueueCapacity),
		verifyQ:    queue.New[Job]("verify_dispatch", cfg.QueueCapacity),
		done:       make(chan struct{}),
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Registry returns the device registry.
func (e *Engine) Registry() *device.Registry {
	return e.registry
}

// IsQuarantined reports whether the device is excluded from automation.
func (e *Engine) IsQuarantined(id string) bool {
	return e.quarantine.has(id)
}

// Quarantine returns the device's quarantine record, if any.
func (e *Engine) Quarantine(id string) (QuarantineRecord, bool) {
	return e.quarantine.get(id)
}

// Quarantined returns every quarantine record ordered by device ID.
func (e *Engine) Quarantined() []QuarantineRecord {
	return e.quarantine.list()
}

// FailureRatios returns each device's failing share of the gap window.
func (e *Engine) FailureRatios() map[string]float64 {
	return e.quarantine.ratios()
}

// ResetLocks clears the lock table and returns how many locks were dropped.
func (e *Engine) ResetLocks() int {
	n := e.locks.reset()
	e.logger.Info("locks reset", "count", n)
	return n
}

// Lock returns the device's unexpired lock, if any.
func (e *Engine) Lock(id string) (Lock, bool) {
	return e.locks.get(id, e.now())
}

// Locks returns all unexpired locks.
func (e *Engine) Locks() []Lock {
	return e.locks.active(e.now())
}

// Expected returns the device's expected-state record, if any.
func (e *Engine) Expected(id string) (ExpectedState, bool) {
	return e.expected.get(id)
}

// ExpectedStates returns every expected-state record ordered by device ID.
func (e *Engine) ExpectedStates() []ExpectedState {
	return e.expected.list()
}

// Last returns the last snapshot fetched successfully, without a network call.
func (e *Engine) Last(id string) (*device.Snapshot, error) {
	e.lastMu.RLock()
	snap, ok := e.last[id]
	e.lastMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, id)
	}
	return snap.Clone(), nil
}

func (e *Engine) setLast(snap *device.Snapshot) {
	e.lastMu.Lock()
	e.last[snap.ID] = snap.Clone()
	e.lastMu.Unlock()
}

// quarantineDevice records a failure and announces new quarantines.
func (e *Engine) quarantineDevice(ctx context.Context, id string, pending *device.Action, cause error) {
	if !e.quarantine.set(id, pending) {
		return
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	e.logger.Warn("device quarantined", "device_id", id, "name", e.registry.Name(id), "error", cause)
	e.record(ctx, id, journal.KindQuarantined, detail)
}

// releaseDevice lifts a quarantine.
func (e *Engine) releaseDevice(ctx context.Context, id string) (QuarantineRecord, bool) {
	rec, ok := e.quarantine.remove(id)
	if !ok {
		return rec, false
	}
	e.logger.Info("device released from quarantine", "device_id", id, "name", e.registry.Name(id),
		"quarantined_for", e.now().Sub(rec.Since).Round(time.Second))
	e.record(ctx, id, journal.KindReleased, "")
	return rec, true
}

// record journals an event and publishes it to live subscribers.
func (e *Engine) record(ctx context.Context, id, kind, detail string) {
	if e.journal != nil {
		if err := e.journal.Record(ctx, journal.Event{DeviceID: id, Kind: kind, Detail: detail}); err != nil {
			e.logger.Warn("failed to journal event", "device_id", id, "kind", kind, "error", err)
		}
	}
	if e.events != nil {
		e.events.PublishEvent(kind, Event{
			Kind:     kind,
			DeviceID: id,
			Name:     e.registry.Name(id),
			Detail:   detail,
			At:       e.now().UTC(),
		})
	}
}

func (e *Engine) notify(ctx context.Context, text string, deleteAt *time.Time) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, text, deleteAt); err != nil {
		e.logger.Warn("failed to queue notification", "error", err)
	}
}

func (e *Engine) exclusionsFor(id string, extra device.Exclusions) device.Exclusions {
	return e.registry.Exclusions(id).Merge(extra)
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
