package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic Arbiter.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Remote    RemoteConfig    `yaml:"remote"`
	Engine    EngineConfig    `yaml:"engine"`
	Retry     RetryConfig     `yaml:"retry"`
	Queues    QueuesConfig    `yaml:"queues"`
	Devices   DevicesConfig   `yaml:"devices"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetention is how long journal events are kept. Zero keeps them forever.
	HistoryRetention time.Duration `yaml:"history_retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
//
// An empty secret leaves the API unauthenticated, which suits a daemon bound
// to localhost. A non-empty secret must be at least 32 characters.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// RemoteConfig selects and configures the device service adapter.
type RemoteConfig struct {
	// Mode is "http" for the cloud API or "simulator" for an in-memory stand-in.
	Mode        string        `yaml:"mode"`
	BaseURL     string        `yaml:"base_url"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
	SlowTimeout time.Duration `yaml:"slow_timeout"`
}

// EngineConfig contains arbitration, drift and supervisor timing.
type EngineConfig struct {
	DefaultFreshness    time.Duration `yaml:"default_freshness"`
	ReplayWindow        time.Duration `yaml:"replay_window"`
	DriftInterval       time.Duration `yaml:"drift_interval"`
	DriftDelay          time.Duration `yaml:"drift_delay"`
	RecoveryInterval    time.Duration `yaml:"recovery_interval"`
	PingInterval        time.Duration `yaml:"ping_interval"`
	PingSpacing         time.Duration `yaml:"ping_spacing"`
	StatsInterval       time.Duration `yaml:"stats_interval"`
	OverridePriority    int           `yaml:"override_priority"`
	DefaultHumanControl time.Duration `yaml:"default_human_control"`
	GapWindow           time.Duration `yaml:"gap_window"`
	NoticeBase          time.Duration `yaml:"quarantine_notice_base"`
	NoticeTTL           time.Duration `yaml:"quarantine_notice_ttl"`
}

// RetryConfig holds per-category attempt thresholds.
type RetryConfig struct {
	Timeout  int `yaml:"timeout"`
	Server   int `yaml:"server"`
	Client   int `yaml:"client"`
	Offline  int `yaml:"offline"`
	Mismatch int `yaml:"mismatch"`
	Unknown  int `yaml:"unknown"`

	// MaxTotal caps attempts across categories. Zero disables the cap.
	MaxTotal int `yaml:"max_total"`
}

// QueuesConfig sizes the dispatch worker pools.
type QueuesConfig struct {
	DispatchWorkers int `yaml:"dispatch_workers"`
	VerifyWorkers   int `yaml:"verify_workers"`
	Capacity        int `yaml:"capacity"`

	// NotifyCapacity bounds the outbound notification FIFO.
	NotifyCapacity int `yaml:"notify_capacity"`
}

// DevicesConfig points at the device catalogue.
type DevicesConfig struct {
	Catalog string `yaml:"catalog"`
}

// Remote adapter modes.
const (
	RemoteModeHTTP      = "http"
	RemoteModeSimulator = "simulator"
)

// minJWTSecretLength is the shortest accepted JWT secret.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_REMOTE_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:             "./data/arbiter.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30 * 24 * time.Hour,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "graylogic/arbiter",
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-arbiter",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 90,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "arbiter",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{Issuer: "graylogic-arbiter"},
		},
		Remote: RemoteConfig{
			Mode:        RemoteModeHTTP,
			BaseURL:     "https://api.iot.yandex.net",
			Timeout:     3 * time.Second,
			SlowTimeout: 60 * time.Second,
		},
		Engine: EngineConfig{
			DefaultFreshness:    time.Second,
			ReplayWindow:        10 * time.Minute,
			DriftInterval:       10 * time.Second,
			DriftDelay:          12 * time.Second,
			RecoveryInterval:    10 * time.Second,
			PingInterval:        time.Minute,
			PingSpacing:         time.Second,
			StatsInterval:       time.Minute,
			OverridePriority:    10,
			DefaultHumanControl: 15 * time.Minute,
			GapWindow:           20 * time.Minute,
			NoticeBase:          time.Hour,
			NoticeTTL:           10 * time.Minute,
		},
		Retry: RetryConfig{
			Timeout:  10,
			Server:   100,
			Client:   10,
			Offline:  10,
			Mismatch: 10,
			Unknown:  10,
			MaxTotal: 150,
		},
		Queues: QueuesConfig{
			DispatchWorkers: 10,
			VerifyWorkers:   3,
			Capacity:        1024,
			NotifyCapacity:  1000,
		},
		Devices: DevicesConfig{
			Catalog: "configs/devices.yaml",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Remote device service
	if v := os.Getenv("GRAYLOGIC_REMOTE_MODE"); v != "" {
		cfg.Remote.Mode = v
	}
	if v := os.Getenv("GRAYLOGIC_REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("GRAYLOGIC_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}

	// Devices
	if v := os.Getenv("GRAYLOGIC_DEVICES_CATALOG"); v != "" {
		cfg.Devices.Catalog = v
	}

	// Security - JWT secret
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	switch c.Remote.Mode {
	case RemoteModeHTTP:
		if c.Remote.Token == "" {
			errs = append(errs, "remote.token is required in http mode (set GRAYLOGIC_REMOTE_TOKEN environment variable)")
		}
		if c.Remote.BaseURL == "" {
			errs = append(errs, "remote.base_url is required in http mode")
		}
	case RemoteModeSimulator:
	default:
		errs = append(errs, fmt.Sprintf("remote.mode must be %q or %q", RemoteModeHTTP, RemoteModeSimulator))
	}

	if c.Engine.DefaultFreshness <= 0 {
		errs = append(errs, "engine.default_freshness must be positive")
	}
	if c.Engine.DriftDelay < 0 || c.Engine.PingSpacing < 0 {
		errs = append(errs, "engine.drift_delay and engine.ping_spacing must not be negative")
	}
	if c.Engine.OverridePriority < 1 {
		errs = append(errs, "engine.override_priority must be at least 1")
	}

	for _, r := range []struct {
		name string
		n    int
	}{
		{"retry.timeout", c.Retry.Timeout},
		{"retry.server", c.Retry.Server},
		{"retry.client", c.Retry.Client},
		{"retry.offline", c.Retry.Offline},
		{"retry.mismatch", c.Retry.Mismatch},
		{"retry.unknown", c.Retry.Unknown},
	} {
		if r.n < 1 {
			errs = append(errs, r.name+" must be at least 1")
		}
	}

	if c.Queues.DispatchWorkers < 1 || c.Queues.VerifyWorkers < 1 {
		errs = append(errs, "queues.dispatch_workers and queues.verify_workers must be at least 1")
	}
	if c.Queues.Capacity < 1 {
		errs = append(errs, "queues.capacity must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
