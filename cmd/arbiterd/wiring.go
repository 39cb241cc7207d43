package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-arbiter/internal/device"
	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
	"github.com/nerrad567/gray-logic-arbiter/internal/fault"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arbiter/internal/remote"
	"github.com/nerrad567/gray-logic-arbiter/internal/retry"
)

// buildRegistry loads the device catalogue into a new registry.
// An empty catalogue path yields an empty registry.
func buildRegistry(cfg *config.Config, log *logging.Logger) (*device.Registry, error) {
	registry := device.NewRegistry(cfg.Engine.DefaultHumanControl)
	registry.SetLogger(log.Component("registry"))

	if cfg.Devices.Catalog == "" {
		log.Warn("no device catalogue configured")
		return registry, nil
	}

	catalog, err := device.LoadCatalog(cfg.Devices.Catalog)
	if err != nil {
		return nil, fmt.Errorf("loading device catalogue: %w", err)
	}
	n, err := catalog.Apply(registry)
	if err != nil {
		return nil, fmt.Errorf("applying device catalogue: %w", err)
	}
	log.Info("device catalogue loaded", "path", cfg.Devices.Catalog, "devices", n)
	return registry, nil
}

// newAdapter returns the remote adapter selected by cfg.Remote.Mode.
// The simulator starts with every registered device switched off.
func newAdapter(cfg *config.Config, registry *device.Registry, log *logging.Logger) (remote.Adapter, error) {
	switch cfg.Remote.Mode {
	case config.RemoteModeHTTP:
		client := remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL:     cfg.Remote.BaseURL,
			Token:       cfg.Remote.Token,
			Timeout:     cfg.Remote.Timeout,
			SlowTimeout: cfg.Remote.SlowTimeout,
			SlowLink:    registry.IsSlowLink,
		})
		client.SetLogger(log.Component("remote"))
		return client, nil

	case config.RemoteModeSimulator:
		sim := remote.NewSimulator()
		for _, d := range registry.List() {
			sim.AddDevice(d.ID, d.Name, device.Off(d.ID).Capabilities...)
		}
		log.Warn("using simulated device service", "devices", len(registry.List()))
		return sim, nil

	default:
		return nil, fmt.Errorf("unknown remote mode %q", cfg.Remote.Mode)
	}
}

// engineConfig maps the YAML sections onto the engine settings.
func engineConfig(cfg *config.Config) engine.Config {
	e := cfg.Engine
	return engine.Config{
		DefaultFreshness: e.DefaultFreshness,
		ReplayWindow:     e.ReplayWindow,
		DriftInterval:    e.DriftInterval,
		DriftDelay:       e.DriftDelay,
		RecoveryInterval: e.RecoveryInterval,
		PingInterval:     e.PingInterval,
		PingSpacing:      e.PingSpacing,
		StatsInterval:    e.StatsInterval,
		OverridePriority: e.OverridePriority,
		GapWindow:        e.GapWindow,
		NoticeBase:       e.NoticeBase,
		NoticeTTL:        e.NoticeTTL,
		DispatchWorkers:  cfg.Queues.DispatchWorkers,
		VerifyWorkers:    cfg.Queues.VerifyWorkers,
		QueueCapacity:    cfg.Queues.Capacity,
	}
}

// retryPolicy applies the configured per-category thresholds to the
// default backoffs.
func retryPolicy(cfg config.RetryConfig, logger retry.Logger) *retry.Policy {
	p := retry.DefaultPolicy().
		WithThreshold(fault.KindTimeout, cfg.Timeout).
		WithThreshold(fault.KindServer, cfg.Server).
		WithThreshold(fault.KindClient, cfg.Client).
		WithThreshold(fault.KindOffline, cfg.Offline).
		WithThreshold(fault.KindMismatch, cfg.Mismatch).
		WithThreshold(fault.KindUnknown, cfg.Unknown)
	p.MaxTotal = cfg.MaxTotal
	p.Logger = logger
	return p
}

// eventFanout forwards engine events to every live channel.
type eventFanout []engine.EventPublisher

// newEventFanout skips the optional clients that are not configured.
func newEventFanout(hub engine.EventPublisher, mqttClient *mqtt.Client, influxClient *influxdb.Client) eventFanout {
	out := eventFanout{hub}
	if mqttClient != nil {
		out = append(out, mqttClient)
	}
	if influxClient != nil {
		out = append(out, influxEvents{client: influxClient})
	}
	return out
}

// PublishEvent implements engine.EventPublisher.
func (f eventFanout) PublishEvent(kind string, payload any) {
	for _, p := range f {
		p.PublishEvent(kind, payload)
	}
}

// eventWriter is the part of the InfluxDB client that records events.
type eventWriter interface {
	WriteEvent(kind, deviceID string)
}

// influxEvents records each engine event as a point.
type influxEvents struct {
	client eventWriter
}

func (i influxEvents) PublishEvent(kind string, payload any) {
	var id string
	if ev, ok := payload.(engine.Event); ok {
		id = ev.DeviceID
	}
	i.client.WriteEvent(kind, id)
}

// pruner is the journal side of maintenance.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// maintainer is the database side of maintenance.
type maintainer interface {
	Maintain(ctx context.Context) error
}

var _ maintainer = (*database.DB)(nil)

// runMaintenance prunes old journal events and tidies SQLite until ctx ends.
func runMaintenance(ctx context.Context, every time.Duration, j pruner, db maintainer, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			maintain(ctx, j, db, retention, log)
		}
	}
}

func maintain(ctx context.Context, j pruner, db maintainer, retention time.Duration, log *logging.Logger) {
	if retention > 0 {
		n, err := j.Prune(ctx, retention)
		if err != nil {
			log.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			log.Info("journal pruned", "removed", n)
		}
	}
	if err := db.Maintain(ctx); err != nil {
		log.Warn("database maintenance failed", "error", err)
	}
}
