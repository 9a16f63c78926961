package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Dispatch.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Commands  CommandsConfig  `yaml:"commands"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
	Devices   DevicesConfig   `yaml:"devices"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StorageConfig selects the key-value backend used by the command state store.
type StorageConfig struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the command event stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	// Buffer is the per-client event buffer. Events beyond it are dropped.
	Buffer int `yaml:"buffer"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when Output is "file"; sizes are in megabytes and ages in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CommandsConfig contains command dispatch settings.
type CommandsConfig struct {
	// QueueCapacity bounds the number of queued commands across all priorities.
	QueueCapacity int `yaml:"queue_capacity"`

	// Workers is the number of concurrent dispatch workers.
	Workers int `yaml:"workers"`

	// SendTimeout bounds a single adapter send.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// Recovery decides what happens to non-terminal commands found at startup:
	// "requeue" or "expire".
	Recovery string `yaml:"recovery"`

	// Retention is how long terminal records are kept before cleanup.
	Retention time.Duration `yaml:"retention"`

	// CleanupInterval is how often the retention cleanup runs. Zero disables it.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// CheckTargets rejects submissions for unknown devices or protocols
	// instead of failing them at dispatch.
	CheckTargets bool `yaml:"check_targets"`

	Retry RetryConfig `yaml:"retry"`
	Ack   AckConfig   `yaml:"ack"`
}

// RetryConfig is the default retry policy applied to commands that do not carry one.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
}

// AckConfig contains acknowledgment tracking settings.
type AckConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AdaptersConfig contains downlink adapter settings.
type AdaptersConfig struct {
	MQTT   MQTTAdapterConfig `yaml:"mqtt"`
	Modbus ModbusConfig      `yaml:"modbus"`
	HTTP   HTTPAdapterConfig `yaml:"http"`
}

// MQTTAdapterConfig contains MQTT downlink settings.
type MQTTAdapterConfig struct {
	Enabled bool `yaml:"enabled"`
	QoS     int  `yaml:"qos"`
}

// ModbusConfig contains Modbus downlink settings.
// Per-device addresses override the host and unit defaults.
type ModbusConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Mode      string        `yaml:"mode"`
	TCPHost   string        `yaml:"tcp_host"`
	TCPPort   int           `yaml:"tcp_port"`
	RTUDevice string        `yaml:"rtu_device"`
	RTUBaud   int           `yaml:"rtu_baud"`
	UnitID    int           `yaml:"unit_id"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HTTPAdapterConfig contains HTTP downlink settings.
type HTTPAdapterConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// DevicesConfig points at the device definition file imported at startup.
type DevicesConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
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
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-dispatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-dispatch",
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
			Port: 8080,
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
			Buffer:         64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Commands: CommandsConfig{
			QueueCapacity:   1000,
			Workers:         4,
			SendTimeout:     5 * time.Second,
			Recovery:        RecoveryRequeue,
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
			CheckTargets:    true,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         time.Second,
				BackoffMultiplier: 2,
				MaxDelay:          30 * time.Second,
				AttemptTimeout:    10 * time.Second,
			},
			Ack: AckConfig{
				SweepInterval: time.Second,
			},
		},
		Adapters: AdaptersConfig{
			MQTT: MQTTAdapterConfig{
				Enabled: true,
				QoS:     1,
			},
			Modbus: ModbusConfig{
				Mode:    "tcp",
				TCPPort: 502,
				RTUBaud: 9600,
				UnitID:  1,
				Timeout: 2 * time.Second,
			},
			HTTP: HTTPAdapterConfig{
				Enabled: true,
				Timeout: 5 * time.Second,
			},
		},
	}
}

// Recovery policies for commands left non-terminal across a restart.
const (
	RecoveryRequeue = "requeue"
	RecoveryExpire  = "expire"
)

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Storage
	if v := os.Getenv("GRAYLOGIC_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("GRAYLOGIC_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
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

	// Commands
	if v := os.Getenv("GRAYLOGIC_COMMANDS_RECOVERY"); v != "" {
		cfg.Commands.Recovery = v
	}
	if v := os.Getenv("GRAYLOGIC_COMMANDS_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Commands.QueueCapacity = n
		}
	}

	// Devices
	if v := os.Getenv("GRAYLOGIC_DEVICES_FILE"); v != "" {
		cfg.Devices.File = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent field checks
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Devices and the audit trail always live in SQLite.
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	switch c.Storage.Driver {
	case "sqlite", "":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, "storage.postgres.dsn is required (set GRAYLOGIC_POSTGRES_DSN environment variable)")
		}
	case "memory":
	default:
		errs = append(errs, "storage.driver must be sqlite, postgres, or memory")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Adapters.MQTT.QoS < 0 || c.Adapters.MQTT.QoS > 2 {
		errs = append(errs, "adapters.mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	cmd := c.Commands
	if cmd.QueueCapacity < 1 {
		errs = append(errs, "commands.queue_capacity must be at least 1")
	}
	if cmd.Workers < 1 {
		errs = append(errs, "commands.workers must be at least 1")
	}
	if cmd.SendTimeout <= 0 {
		errs = append(errs, "commands.send_timeout must be positive")
	}
	if cmd.Recovery != RecoveryRequeue && cmd.Recovery != RecoveryExpire {
		errs = append(errs, "commands.recovery must be requeue or expire")
	}
	if cmd.Retry.MaxAttempts < 1 {
		errs = append(errs, "commands.retry.max_attempts must be at least 1")
	}
	if cmd.Retry.BackoffMultiplier < 1 {
		errs = append(errs, "commands.retry.backoff_multiplier must be at least 1")
	}
	if cmd.Retry.MaxDelay < cmd.Retry.BaseDelay {
		errs = append(errs, "commands.retry.max_delay must not be less than base_delay")
	}
	if cmd.Retry.AttemptTimeout <= 0 {
		errs = append(errs, "commands.retry.attempt_timeout must be positive")
	}
	if cmd.Ack.SweepInterval <= 0 {
		errs = append(errs, "commands.ack.sweep_interval must be positive")
	}

	if c.Adapters.Modbus.Enabled {
		switch c.Adapters.Modbus.Mode {
		case "tcp":
		case "rtu":
			if c.Adapters.Modbus.RTUDevice == "" {
				errs = append(errs, "adapters.modbus.rtu_device is required in rtu mode")
			}
		default:
			errs = append(errs, "adapters.modbus.mode must be tcp or rtu")
		}
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
