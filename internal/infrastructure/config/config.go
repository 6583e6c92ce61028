package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Sumline Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Driver    DriverConfig    `yaml:"driver"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	Host      HostConfig      `yaml:"host"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Tariff    TariffConfig    `yaml:"tariff"`
}

// DriverConfig identifies the logical driver instance this Core supervises.
// Derived device names and tariff event scoping both use the driver ID.
type DriverConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// HostConfig contains connection settings for the external home-automation
// host that owns the source devices and executes device-level operations.
type HostConfig struct {
	// BaseURL is the root of the host's local REST API.
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token used to authenticate against the host API.
	// Should be provided via SUMLINE_HOST_TOKEN in production.
	Token string `yaml:"token"`

	// RequestTimeout is the per-request timeout in seconds for device
	// operations (poll, restart, availability writes).
	RequestTimeout int `yaml:"request_timeout"`

	// InventoryTimeout is the timeout in seconds for the full inventory
	// fetch used during discovery. Inventory enumeration walks every
	// device on the host and is markedly slower than single-device calls.
	InventoryTimeout int `yaml:"inventory_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for reconciliation history.
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

// ReconcileConfig contains settings for the hourly reconciliation pass.
type ReconcileConfig struct {
	// RestartDelaySourceMissing is the recovery delay in seconds applied
	// when a device's source has disappeared. Kept long so a source that
	// is merely rebooting can come back before the restart fires.
	RestartDelaySourceMissing int `yaml:"restart_delay_source_missing"`

	// RestartDelayStalled is the recovery delay in seconds applied when a
	// device should be polling or listening but is not. The device itself
	// is present, so a fast retry is safe.
	RestartDelayStalled int `yaml:"restart_delay_stalled"`
}

// DiscoveryConfig contains settings for source-device discovery.
type DiscoveryConfig struct {
	// OriginCapabilities are the capability names accepted as valid meter
	// sources. A descriptor qualifies when its capability set intersects
	// this list.
	OriginCapabilities []string `yaml:"origin_capabilities"`

	// DailyResetApps lists host app identifiers whose cumulative counters
	// reset at midnight. Devices derived from them get daily-reset
	// compensation enabled. Configuration data, not logic.
	DailyResetApps []string `yaml:"daily_reset_apps"`

	// OwnDriverURI is the driver URI namespace of this system's own
	// derived devices. Descriptors in this namespace are never offered as
	// sources (no summing a summed meter).
	OwnDriverURI string `yaml:"own_driver_uri"`
}

// TariffConfig contains settings for tariff broadcast dispatch.
type TariffConfig struct {
	// GraceDelay is the delay in seconds between receiving a tariff event
	// and applying it. Sequences tariff writes after any hourly pass that
	// was already in flight when the event arrived.
	GraceDelay int `yaml:"grace_delay"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SUMLINE_SECTION_KEY
// For example: SUMLINE_DATABASE_PATH, SUMLINE_HOST_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Driver: DriverConfig{
			ID:   "power_sum",
			Name: "Sumline",
		},
		Database: DatabaseConfig{
			Path:        "./data/sumline.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sumline-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8089,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Host: HostConfig{
			BaseURL:          "http://localhost:8008",
			RequestTimeout:   10,
			InventoryTimeout: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Reconcile: ReconcileConfig{
			RestartDelaySourceMissing: 600,
			RestartDelayStalled:       1,
		},
		Discovery: DiscoveryConfig{
			OriginCapabilities: []string{
				"measure_power", "meter_power",
				"measure_water", "meter_water",
				"measure_gas", "meter_gas",
			},
			DailyResetApps: []string{"com.tibber", "it.diederik.solar"},
			OwnDriverURI:   "homey:app:com.sumline",
		},
		Tariff: TariffConfig{
			GraceDelay: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SUMLINE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Driver
	if v := os.Getenv("SUMLINE_DRIVER_ID"); v != "" {
		cfg.Driver.ID = v
	}

	// Database
	if v := os.Getenv("SUMLINE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SUMLINE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SUMLINE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SUMLINE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Host API
	if v := os.Getenv("SUMLINE_HOST_URL"); v != "" {
		cfg.Host.BaseURL = v
	}
	if v := os.Getenv("SUMLINE_HOST_TOKEN"); v != "" {
		cfg.Host.Token = v
	}

	// InfluxDB
	if v := os.Getenv("SUMLINE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Driver validation
	if c.Driver.ID == "" {
		errs = append(errs, "driver.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Host validation
	if c.Host.BaseURL == "" {
		errs = append(errs, "host.base_url is required")
	}
	if c.Host.InventoryTimeout < 1 {
		errs = append(errs, "host.inventory_timeout must be at least 1 second")
	}

	// Reconcile validation - delays are seconds and must not be negative.
	// A zero stalled delay is valid (immediate restart).
	if c.Reconcile.RestartDelaySourceMissing < 0 {
		errs = append(errs, "reconcile.restart_delay_source_missing must not be negative")
	}
	if c.Reconcile.RestartDelayStalled < 0 {
		errs = append(errs, "reconcile.restart_delay_stalled must not be negative")
	}

	// Discovery validation
	if len(c.Discovery.OriginCapabilities) == 0 {
		errs = append(errs, "discovery.origin_capabilities must not be empty")
	}
	if c.Discovery.OwnDriverURI == "" {
		errs = append(errs, "discovery.own_driver_uri is required")
	}

	// Tariff validation
	if c.Tariff.GraceDelay < 0 {
		errs = append(errs, "tariff.grace_delay must not be negative")
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

// GetRequestTimeout returns the host request timeout as a Duration.
func (c *HostConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetInventoryTimeout returns the inventory fetch timeout as a Duration.
func (c *HostConfig) GetInventoryTimeout() time.Duration {
	return time.Duration(c.InventoryTimeout) * time.Second
}

// GetRestartDelaySourceMissing returns the source-missing restart delay as a Duration.
func (c *ReconcileConfig) GetRestartDelaySourceMissing() time.Duration {
	return time.Duration(c.RestartDelaySourceMissing) * time.Second
}

// GetRestartDelayStalled returns the stalled-device restart delay as a Duration.
func (c *ReconcileConfig) GetRestartDelayStalled() time.Duration {
	return time.Duration(c.RestartDelayStalled) * time.Second
}

// GetGraceDelay returns the tariff grace delay as a Duration.
func (c *TariffConfig) GetGraceDelay() time.Duration {
	return time.Duration(c.GraceDelay) * time.Second
}
