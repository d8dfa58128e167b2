package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the node server.
// All configuration is loaded from YAML and can be overridden by environment variables.
// Connection endpoints (broker host, port, profile number) are not part of the
// file; they arrive once on stdin as StartupParams.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	// Namespace is the topic root shared with the gateway, e.g. "udi/polyglot".
	Namespace string `yaml:"namespace"`

	// RemoteService is the gateway's service name. It appears in the
	// "node" field of every message the gateway sends and names the
	// presence topic we watch.
	RemoteService string `yaml:"remote_service"`

	ClientIDPrefix string              `yaml:"client_id_prefix"`
	QoS            int                 `yaml:"qos"`
	TLS            MQTTTLSConfig       `yaml:"tls"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTTLSConfig contains transport encryption settings.
type MQTTTLSConfig struct {
	Enabled bool `yaml:"enabled"`

	// InsecureSkipVerify accepts the gateway's self-signed certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// CAFile is an optional PEM bundle used to verify the broker.
	CAFile string `yaml:"ca_file"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
// Credentials in StartupParams take precedence.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// SessionConfig contains message-layer tuning.
type SessionConfig struct {
	// RequestTimeoutMS is how long a correlated request waits for its result.
	RequestTimeoutMS int `yaml:"request_timeout_ms"`

	// LoopWindowSeconds is the sliding window of the config loop guard.
	LoopWindowSeconds int `yaml:"loop_window_seconds"`

	// LoopThreshold is the number of snapshots tolerated inside the window.
	LoopThreshold int `yaml:"loop_threshold"`

	// StartupTimeoutMS bounds how long we wait for the startup line on stdin.
	StartupTimeoutMS int `yaml:"startup_timeout_ms"`
}

// DatabaseConfig contains settings for the SQLite device cache.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for attribute telemetry.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. A .env file next to the working directory, if present
//  4. Environment variables (override file values)
//
// Environment variables follow the pattern: NODESERVER_SECTION_KEY
// For example: NODESERVER_MQTT_NAMESPACE, NODESERVER_LOG_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
// Variables already present in the environment are not overwritten.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Namespace:      "udi/polyglot",
			RemoteService:  "polyglot",
			ClientIDPrefix: "nodeserver",
			QoS:            0,
			TLS: MQTTTLSConfig{
				Enabled:            true,
				InsecureSkipVerify: true,
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Session: SessionConfig{
			RequestTimeoutMS:  15000,
			LoopWindowSeconds: 10,
			LoopThreshold:     30,
			StartupTimeoutMS:  2000,
		},
		Database: DatabaseConfig{
			Enabled:     false,
			Path:        "./data/nodeserver.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NODESERVER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("NODESERVER_MQTT_NAMESPACE"); v != "" {
		cfg.MQTT.Namespace = v
	}
	if v := os.Getenv("NODESERVER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NODESERVER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("NODESERVER_MQTT_TLS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.TLS.Enabled = b
		}
	}

	// Logging
	if v := os.Getenv("NODESERVER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Database
	if v := os.Getenv("NODESERVER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("NODESERVER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.MQTT.Namespace) == "" {
		errs = append(errs, "mqtt.namespace is required")
	}
	if strings.TrimSpace(c.MQTT.RemoteService) == "" {
		errs = append(errs, "mqtt.remote_service is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Session.RequestTimeoutMS <= 0 {
		errs = append(errs, "session.request_timeout_ms must be positive")
	}
	if c.Session.LoopWindowSeconds <= 0 {
		errs = append(errs, "session.loop_window_seconds must be positive")
	}
	if c.Session.LoopThreshold <= 0 {
		errs = append(errs, "session.loop_threshold must be positive")
	}
	if c.Session.StartupTimeoutMS <= 0 {
		errs = append(errs, "session.startup_timeout_ms must be positive")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the correlated request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Session.RequestTimeoutMS) * time.Millisecond
}

// GetLoopWindow returns the loop guard window as a Duration.
func (c *Config) GetLoopWindow() time.Duration {
	return time.Duration(c.Session.LoopWindowSeconds) * time.Second
}

// GetStartupTimeout returns the startup input deadline as a Duration.
func (c *Config) GetStartupTimeout() time.Duration {
	return time.Duration(c.Session.StartupTimeoutMS) * time.Millisecond
}
