package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxbridge/internal/knx"
)

// Config is the root configuration structure for the KNX bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge   BridgeConfig   `yaml:"bridge"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Debug    DebugConfig    `yaml:"debug"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	Recorder RecorderConfig `yaml:"recorder"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`

	Accessories AccessoriesConfig `yaml:",inline"`
}

// BridgeConfig identifies this bridge instance on MQTT and in telemetry.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// GatewayConfig contains knxd connection settings.
type GatewayConfig struct {
	// URL, when set, takes precedence over Host and Port.
	// Accepted forms: "tcp://host:port", "unix:///run/knx".
	URL  string `yaml:"url"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Timeouts in seconds. ReadTimeout 0 disables read expiry.
	ConnectTimeout int `yaml:"connect_timeout"`
	RequestTimeout int `yaml:"request_timeout"`
	ReadTimeout    int `yaml:"read_timeout"`

	// ReconnectDelayMS is the fixed wait between reconnect attempts after the
	// monitor connection drops.
	ReconnectDelayMS int `yaml:"reconnect_delay_ms"`
}

// DebugConfig contains diagnostic switches.
type DebugConfig struct {
	LogBusTraffic bool `yaml:"log_bus_traffic"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RecorderConfig controls the group address recorder.
type RecorderConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the first level of every topic the bridge uses.
	TopicPrefix string `yaml:"topic_prefix"`
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
//
// InitialDelay and MaxAttempts govern the first connect only; after that
// paho reconnects on its own, backing off up to MaxDelay.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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

// HealthConfig controls the periodic health report.
type HealthConfig struct {
	// Interval in seconds between health publications.
	Interval int `yaml:"interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KNXBRIDGE_SECTION_KEY
// For example: KNXBRIDGE_GATEWAY_HOST, KNXBRIDGE_MQTT_PASSWORD
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:   "knxbridge",
			Name: "KNX Bridge",
		},
		Gateway: GatewayConfig{
			Host:             "localhost",
			Port:             knx.DefaultPort,
			ConnectTimeout:   10,
			RequestTimeout:   10,
			ReadTimeout:      10,
			ReconnectDelayMS: 100,
		},
		Database: DatabaseConfig{
			Path:        "./data/knxbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "knxbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  5,
			},
			TopicPrefix: "knxbridge",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Health: HealthConfig{
			Interval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("KNXBRIDGE_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("KNXBRIDGE_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = v
	}
	if v := os.Getenv("KNXBRIDGE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("KNXBRIDGE_DEBUG_LOG_BUS_TRAFFIC"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			cfg.Debug.LogBusTraffic = on
		}
	}

	// MQTT
	if v := os.Getenv("KNXBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KNXBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KNXBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("KNXBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("KNXBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("KNXBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	errs = append(errs, c.validateGateway()...)

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
			errs = append(errs, "mqtt.topic_prefix must be non-empty and free of wildcards")
		}
		if c.Health.Interval <= 0 {
			errs = append(errs, "health.interval must be positive")
		}
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Recorder.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the recorder is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	errs = append(errs, c.Accessories.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateGateway() []string {
	var errs []string
	g := c.Gateway
	if g.URL == "" && g.Host == "" {
		errs = append(errs, "gateway.host or gateway.url is required")
	}
	if g.URL == "" && (g.Port < 1 || g.Port > 65535) {
		errs = append(errs, "gateway.port must be between 1 and 65535")
	}
	if g.ConnectTimeout < 0 || g.RequestTimeout < 0 || g.ReadTimeout < 0 {
		errs = append(errs, "gateway timeouts must not be negative")
	}
	if g.ReconnectDelayMS <= 0 {
		errs = append(errs, "gateway.reconnect_delay_ms must be positive")
	}
	return errs
}

// GatewayURL returns the knxd address in URL form.
func (g GatewayConfig) GatewayURL() string {
	if g.URL != "" {
		return g.URL
	}
	return fmt.Sprintf("tcp://%s:%d", g.Host, g.Port)
}

// ReconnectDelay returns the reconnect delay as a Duration.
func (g GatewayConfig) ReconnectDelay() time.Duration {
	return time.Duration(g.ReconnectDelayMS) * time.Millisecond
}

// Timeouts returns connect, request and read timeouts as Durations.
func (g GatewayConfig) Timeouts() (connect, request, read time.Duration) {
	return time.Duration(g.ConnectTimeout) * time.Second,
		time.Duration(g.RequestTimeout) * time.Second,
		time.Duration(g.ReadTimeout) * time.Second
}

// GetHealthInterval returns the health report interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}
