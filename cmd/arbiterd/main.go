// Gray Logic Arbiter - device action arbitration daemon
//
// The arbiter sits between automation and a cloud device API. It serialises
// competing actions with priority locks, verifies that dispatched state
// actually took effect, quarantines unreachable devices and detects manual
// overrides.
//
// Startup order: config, logging, database, MQTT, InfluxDB, remote adapter,
// engine, notifications, HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-arbiter/migrations"

	"github.com/nerrad567/gray-logic-arbiter/internal/api"
	"github.com/nerrad567/gray-logic-arbiter/internal/engine"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-arbiter/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-arbiter/internal/journal"
	"github.com/nerrad567/gray-logic-arbiter/internal/notify"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// maintenanceInterval is how often the journal is pruned and SQLite tidied.
const maintenanceInterval = 6 * time.Hour

// notifyFlushTimeout bounds the final notification drain on shutdown.
const notifyFlushTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring is linear
	log := logging.Default()
	log.Info("starting Gray Logic Arbiter",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"config_path", configPath,
		"site_id", cfg.Site.ID,
		"remote_mode", cfg.Remote.Mode,
	)

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	repo := journal.NewSQLiteRepository(db.DB)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected", "host", cfg.MQTT.Broker.Host)
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT connection lost", "error", err)
		})
		log.Info("MQTT connected", "host", cfg.MQTT.Broker.Host, "port", cfg.MQTT.Broker.Port)
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write failed", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Device registry and remote adapter
	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}
	adapter, err := newAdapter(cfg, registry, log)
	if err != nil {
		return err
	}

	// WebSocket hub, shared by the notification dispatcher, event fan-out and API.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	notifications := notify.NewQueue(cfg.Queues.NotifyCapacity)
	sinks := []notify.Sink{notify.LogSink{Logger: log.Component("notify")}, notify.HubSink{Hub: hub}}
	if mqttClient != nil {
		sinks = append(sinks, notify.MQTTSink{Publisher: mqttClient, Topic: mqttClient.Topics().Notification()})
	}
	dispatcher := notify.NewDispatcher(notifications, log.Component("notify"), sinks...)

	deps := engine.Deps{
		Registry: registry,
		Adapter:  adapter,
		Retry:    retryPolicy(cfg.Retry, log.Component("retry")),
		Notifier: notifications,
		Journal:  repo,
		Events:   newEventFanout(hub, mqttClient, influxClient),
		Logger:   log.Component("engine"),
	}
	if influxClient != nil {
		deps.Metrics = influxClient
	}

	eng, err := engine.New(engineConfig(cfg), deps)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	eng.Start(ctx)
	defer eng.Stop()

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()
	defer func() {
		stopDispatch()
		<-dispatchDone
		flushCtx, cancel := context.WithTimeout(context.Background(), notifyFlushTimeout)
		defer cancel()
		if n := dispatcher.Flush(flushCtx); n > 0 {
			log.Info("flushed pending notifications", "count", n)
		}
	}()

	if mqttClient != nil {
		intake := newCommandIntake(eng, registry, mqttClient.Topics(), log.Component("commands"))
		if err := mqttClient.Subscribe(mqttClient.Topics().AllCommands(), byte(cfg.MQTT.QoS), intake.Handle); err != nil { //nolint:gosec // QoS validated 0-2
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	go runMaintenance(ctx, maintenanceInterval, repo, db, cfg.Database.HistoryRetention, log.Component("maintenance"))

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Engine:      eng,
		Journal:     repo,
		DB:          db,
		MQTT:        mqttClient,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		log.Warn("initial health check failed", "error", err)
	}

	log.Info("Gray Logic Arbiter started",
		"devices", len(registry.List()),
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	// Deferred closes run in reverse: API, notifications, engine, InfluxDB,
	// MQTT, database.
	log.Info("shutting down Gray Logic Arbiter")
	return nil
}

// getConfigPath returns the configuration file path.
// It checks the GRAYLOGIC_CONFIG environment variable first.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all connected services are responding.
// Optional services that are nil are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
