package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink backend names accepted in sink.backends.
const (
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkInfluxDB = "influxdb"
	SinkMQTT     = "mqtt"
)

// Config is the root configuration structure for the serial bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Serial    SerialConfig    `yaml:"serial"`
	Routing   RoutingConfig   `yaml:"routing"`
	Sink      SinkConfig      `yaml:"sink"`
	Database  DatabaseConfig  `yaml:"database"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// SerialConfig contains the device list and line settings.
type SerialConfig struct {
	// BaudRate applies to every hardware port. Default: 9600.
	BaudRate int `yaml:"baud_rate"`

	// ReadTimeoutMS bounds a single port read. Default: 1000.
	ReadTimeoutMS int `yaml:"read_timeout_ms"`

	// Devices in the order used for target resolution.
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig maps a device ID to its port.
type DeviceConfig struct {
	// ID is the device identifier, e.g. "ele_001".
	ID string `yaml:"id"`

	// Port is the device path ("/dev/ttyACM0") or "sim://name" for a simulated device.
	Port string `yaml:"port"`
}

// RoutingConfig contains correlation engine settings.
type RoutingConfig struct {
	// DefaultTimeout is how long a routed command waits for its ACK. Default: 10s.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// SweepInterval is how often expired commands are swept. Default: 1s.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// AllowSelfTarget lets a local command be routed back to its origin device.
	AllowSelfTarget bool `yaml:"allow_self_target"`

	// MailboxSize is the engine inbound buffer. Default: 64.
	MailboxSize int `yaml:"mailbox_size"`

	// SinkTimeout bounds each reading write. Default: 5s.
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// SinkConfig selects where readings are stored.
type SinkConfig struct {
	// Backends lists the enabled sinks: sqlite, postgres, influxdb, mqtt.
	Backends []string `yaml:"backends"`
}

// Has reports whether a backend is enabled.
func (s SinkConfig) Has(backend string) bool {
	for _, b := range s.Backends {
		if b == backend {
			return true
		}
	}
	return false
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	SSLMode        string `yaml:"ssl_mode"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is the bridge health publish period in seconds. Default: 30.
	HealthInterval int `yaml:"health_interval"`
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

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// APIConfig contains the operations HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
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

// WebSocketConfig contains the live event feed settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_DB_PASSWORD
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Serial: SerialConfig{
			BaudRate:      9600,
			ReadTimeoutMS: 1000,
		},
		Routing: RoutingConfig{
			DefaultTimeout: 10 * time.Second,
			SweepInterval:  time.Second,
			MailboxSize:    64,
			SinkTimeout:    5 * time.Second,
		},
		Sink: SinkConfig{
			Backends: []string{SinkSQLite},
		},
		Database: DatabaseConfig{
			Path:        "./data/serial.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			SSLMode:        "disable",
			MaxConns:       4,
			MinConns:       1,
			ConnectTimeout: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-serial",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			HealthInterval: 30,
		},
		Metrics: MetricsConfig{
			Listen: ":9102",
			Path:   "/metrics",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// SQLite
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// PostgreSQL credentials, usually kept out of the config file
	if v := os.Getenv("GRAYLOGIC_DB_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_DB_NAME"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("GRAYLOGIC_DB_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("GRAYLOGIC_DB_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}

	// Sinks
	if v := os.Getenv("GRAYLOGIC_SINK_BACKENDS"); v != "" {
		var backends []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				backends = append(backends, b)
			}
		}
		cfg.Sink.Backends = backends
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Metrics
	if v := os.Getenv("GRAYLOGIC_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.validateSerial()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateSinks()...)

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			errs = append(errs, "metrics.listen is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, "metrics.path must start with /")
		}
	}

	if c.API.Enabled {
		errs = append(errs, c.validateAPI()...)
	}

	switch c.Logging.Output {
	case "stdout", "stderr", "":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr, or file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateSerial() []string {
	var errs []string
	if len(c.Serial.Devices) == 0 {
		errs = append(errs, "serial.devices must list at least one device")
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}
	if c.Serial.ReadTimeoutMS <= 0 {
		errs = append(errs, "serial.read_timeout_ms must be positive")
	}

	seen := make(map[string]bool, len(c.Serial.Devices))
	for i, d := range c.Serial.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("serial.devices[%d].id is required", i))
		case strings.ContainsAny(d.ID, ",\r\n"):
			errs = append(errs, fmt.Sprintf("serial.devices[%d].id must not contain commas or line breaks", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("serial.devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
		if d.Port == "" {
			errs = append(errs, fmt.Sprintf("serial.devices[%d].port is required", i))
		}
	}
	return errs
}

func (c *Config) validateRouting() []string {
	var errs []string
	if c.Routing.DefaultTimeout <= 0 {
		errs = append(errs, "routing.default_timeout must be positive")
	}
	if c.Routing.SweepInterval <= 0 {
		errs = append(errs, "routing.sweep_interval must be positive")
	}
	if c.Routing.MailboxSize < 0 {
		errs = append(errs, "routing.mailbox_size must not be negative")
	}
	return errs
}

func (c *Config) validateSinks() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Sink.Backends))
	for _, b := range c.Sink.Backends {
		if seen[b] {
			errs = append(errs, fmt.Sprintf("sink.backends lists %q twice", b))
		}
		seen[b] = true

		switch b {
		case SinkSQLite:
			if c.Database.Path == "" {
				errs = append(errs, "database.path is required for the sqlite sink")
			}
		case SinkPostgres:
			if c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "" {
				errs = append(errs, "postgres.host, postgres.database and postgres.user are required for the postgres sink")
			}
		case SinkInfluxDB:
			if !c.InfluxDB.Enabled {
				errs = append(errs, "influxdb.enabled must be true for the influxdb sink")
			}
		case SinkMQTT:
			if !c.MQTT.Enabled {
				errs = append(errs, "mqtt.enabled must be true for the mqtt sink")
			}
		default:
			errs = append(errs, fmt.Sprintf("sink.backends has unknown backend %q", b))
		}
	}
	return errs
}

func (c *Config) validateAPI() []string {
	var errs []string
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, "websocket.max_message_size must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongTimeout <= 0 {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be positive")
	}
	return errs
}

// GetReadTimeout returns the serial read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMS) * time.Millisecond
}

// GetHealthInterval returns the MQTT health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.MQTT.HealthInterval) * time.Second
}

// GetPostgresConnectTimeout returns the PostgreSQL connect timeout as a Duration.
func (c *Config) GetPostgresConnectTimeout() time.Duration {
	return time.Duration(c.Postgres.ConnectTimeout) * time.Second
}
