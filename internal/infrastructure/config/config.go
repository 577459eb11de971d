package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v3"
)

// Driver names accepted in the devices section.
var knownDrivers = []string{"null", "ramdisk", "stream", "zero"}

// Config is the root configuration structure for devio.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Buffer    BufferConfig    `yaml:"buffer"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BufferConfig contains double buffer defaults for stream devices.
type BufferConfig struct {
	// DefaultCapacity is a byte size such as "64KB".
	DefaultCapacity string `yaml:"default_capacity"`
}

// DeviceConfig declares one device built at boot.
type DeviceConfig struct {
	Name   string `yaml:"name"`
	Major  uint32 `yaml:"major"`
	Minor  uint32 `yaml:"minor"`
	Driver string `yaml:"driver"`
	UID    uint32 `yaml:"uid"`
	GID    uint32 `yaml:"gid"`

	// Capacity is the stream buffer size; empty means buffer.default_capacity.
	Capacity string `yaml:"capacity,omitempty"`

	// Size is the ramdisk size, e.g. "1MB".
	Size string `yaml:"size,omitempty"`

	// BlockSize is the ramdisk transfer unit, e.g. "512B".
	BlockSize string `yaml:"block_size,omitempty"`

	// Latency is the simulated ramdisk time per block.
	Latency time.Duration `yaml:"latency,omitempty"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig controls the SQLite request journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// RetentionDays prunes entries older than this at startup. 0 keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
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
	Enabled  bool             `yaml:"enabled"`
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

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// TelemetryConfig controls the event fan-out from devices to sinks.
type TelemetryConfig struct {
	// QueueSize bounds the event queue; events beyond it are dropped and counted.
	QueueSize int `yaml:"queue_size"`

	// InventoryInterval is how often (seconds) the device inventory is
	// republished. 0 publishes only on change.
	InventoryInterval int `yaml:"inventory_interval"`
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
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVIO_SECTION_KEY
// For example: DEVIO_DATABASE_PATH, DEVIO_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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

// Default returns the built-in configuration: the standard character devices,
// no optional integrations. It is what the service runs with when no config
// file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Buffer: BufferConfig{
			DefaultCapacity: "64KB",
		},
		Devices: []DeviceConfig{
			{Name: "null", Major: 1, Minor: 3, Driver: "null"},
			{Name: "zero", Major: 1, Minor: 5, Driver: "zero"},
			{Name: "tty0", Major: 4, Minor: 0, Driver: "stream", GID: 5},
		},
		Database: DatabaseConfig{
			Path:        "./data/devio.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devio",
			},
			QoS:         1,
			TopicPrefix: "devio",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "devio",
			Bucket:        "devio",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Telemetry: TelemetryConfig{
			QueueSize:         1024,
			InventoryInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DEVIO_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("DEVIO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DEVIO_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = parseBool(v, cfg.Journal.Enabled)
	}

	// Buffer
	if v := os.Getenv("DEVIO_BUFFER_DEFAULT_CAPACITY"); v != "" {
		cfg.Buffer.DefaultCapacity = v
	}

	// MQTT
	if v := os.Getenv("DEVIO_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v, cfg.MQTT.Enabled)
	}
	if v := os.Getenv("DEVIO_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVIO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVIO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("DEVIO_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DEVIO_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("DEVIO_INFLUXDB_ENABLED"); v != "" {
		cfg.InfluxDB.Enabled = parseBool(v, cfg.InfluxDB.Enabled)
	}
	if v := os.Getenv("DEVIO_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("DEVIO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("DEVIO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// parseBool returns fallback when v is not a recognised boolean.
func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Buffer validation
	if _, err := ParseSize(c.Buffer.DefaultCapacity); err != nil {
		errs = append(errs, fmt.Sprintf("buffer.default_capacity: %v", err))
	}

	// Device validation
	ids := make(map[[2]uint32]string)
	names := make(map[string]bool)
	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[d.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, d.Name))
		}
		names[d.Name] = true

		key := [2]uint32{d.Major, d.Minor}
		if other, ok := ids[key]; ok {
			errs = append(errs, fmt.Sprintf("%s: %d:%d is already used by %q", prefix, d.Major, d.Minor, other))
		}
		ids[key] = d.Name

		if !slices.Contains(knownDrivers, d.Driver) {
			errs = append(errs, fmt.Sprintf("%s.driver %q must be one of %s", prefix, d.Driver, strings.Join(knownDrivers, ", ")))
		}
		if d.Capacity != "" {
			if _, err := ParseSize(d.Capacity); err != nil {
				errs = append(errs, fmt.Sprintf("%s.capacity: %v", prefix, err))
			}
		}
		if d.Driver == "ramdisk" {
			if _, err := ParseSize(d.Size); err != nil {
				errs = append(errs, fmt.Sprintf("%s.size: %v", prefix, err))
			}
		}
		if d.BlockSize != "" {
			if _, err := ParseSize(d.BlockSize); err != nil {
				errs = append(errs, fmt.Sprintf("%s.block_size: %v", prefix, err))
			}
		}
		if d.Latency < 0 {
			errs = append(errs, prefix+".latency must not be negative")
		}
	}

	// Database validation
	if c.Journal.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when journal.enabled is set")
	}
	if c.Journal.RetentionDays < 0 {
		errs = append(errs, "journal.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Telemetry validation
	if c.Telemetry.QueueSize < 1 {
		errs = append(errs, "telemetry.queue_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ParseSize converts a human byte size ("64KB", "1MB", "512B") to bytes.
// Sizes must be positive.
func ParseSize(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("size is required")
	}
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	n := int(b)
	if n <= 0 {
		return 0, fmt.Errorf("size %q must be positive", s)
	}
	return n, nil
}

// CapacityBytes returns the stream buffer capacity for d, falling back to the
// buffer default.
func (c *Config) CapacityBytes(d DeviceConfig) (int, error) {
	if d.Capacity != "" {
		return ParseSize(d.Capacity)
	}
	return ParseSize(c.Buffer.DefaultCapacity)
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
