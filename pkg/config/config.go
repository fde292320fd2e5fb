// Package config loads and validates the s3db configuration from file,
// environment, and defaults, and parses database connection strings.
//
// Configuration sources, highest precedence first:
//  1. CLI flags
//  2. Environment variables (S3DB_*)
//  3. Configuration file (YAML)
//  4. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/s3db-io/s3db/internal/bytesize"
)

// Config is the full s3db process configuration.
type Config struct {
	// Connection selects the blob backend and database location.
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and pyroscope profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Blob tunes the blob client retry and concurrency behavior.
	Blob BlobConfig `mapstructure:"blob" yaml:"blob"`

	// Coordinator tunes leader election and heartbeat timing.
	Coordinator CoordinatorConfig `mapstructure:"coordinator" yaml:"coordinator"`

	// API configures the ops HTTP server (health, metrics, status).
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Cache configures the optional read-through record cache.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Queue tunes queue-enabled resources.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Counter tunes the eventual-consistency counter engine.
	Counter CounterConfig `mapstructure:"counter" yaml:"counter"`

	// Replication tunes the replication fan-out workers.
	Replication ReplicationConfig `mapstructure:"replication" yaml:"replication"`

	// TTL configures the expired-record reaper.
	TTL TTLConfig `mapstructure:"ttl" yaml:"ttl"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// ConnectionConfig locates the database and carries its secrets.
//
// String takes precedence over the component fields when set. The
// passphrase is deliberately file/flag-only: secret-typed attributes
// refuse to load without it, and an env-only secret would silently
// decouple the config file from the data it can read.
type ConnectionConfig struct {
	// String is a connection string, e.g.
	// s3://ACCESS:SECRET@ENDPOINT/BUCKET/PREFIX or memory://bucket/prefix.
	String string `mapstructure:"string" yaml:"string"`

	// Region is the AWS region when no explicit endpoint is given.
	Region string `mapstructure:"region" yaml:"region"`

	// ForcePathStyle enables path-style addressing (MinIO, LocalStack).
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// Passphrase keys field-level encryption for secret-typed attributes.
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is pretty (color text) or json.
	Format string `mapstructure:"format" validate:"required,oneof=pretty json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing and continuous profiling.
type TelemetryConfig struct {
	// Enabled turns tracing on. Off by default.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS to the collector (local development).
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling ratio in (0, 1].
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`

	// Profiling enables pyroscope continuous profiling.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServerAddress is the pyroscope server URL.
	ServerAddress string `mapstructure:"server_address" yaml:"server_address"`

	// ProfileTypes selects which profiles to collect: cpu, alloc_space,
	// inuse_space, goroutines, and friends.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types,omitempty"`
}

// BlobConfig tunes the blob client.
type BlobConfig struct {
	// MaxAttempts is the total attempts for retryable failures,
	// including the first. 1 disables retries.
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1" yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`

	// Parallelism bounds concurrent in-flight requests.
	Parallelism int64 `mapstructure:"parallelism" validate:"gte=1" yaml:"parallelism"`
}

// CoordinatorConfig tunes the coordination service.
type CoordinatorConfig struct {
	// Namespace is the default coordination namespace; empty means the
	// database prefix.
	Namespace string `mapstructure:"namespace" yaml:"namespace"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatJitter   time.Duration `mapstructure:"heartbeat_jitter" yaml:"heartbeat_jitter"`

	// LeaseTimeout must be at least twice the heartbeat interval.
	LeaseTimeout  time.Duration `mapstructure:"lease_timeout" yaml:"lease_timeout"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout" yaml:"worker_timeout"`
}

// APIConfig configures the ops HTTP server.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" validate:"gte=0,lte=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// CacheConfig configures the read-through record cache.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Driver is memory or badger.
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=memory badger" yaml:"driver"`

	// Path is the badger data directory. Ignored by the memory driver.
	Path string `mapstructure:"path" yaml:"path"`

	// MaxBytes bounds the memory driver; accepts "64Mi", "1Gi", or bytes.
	MaxBytes bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes"`

	// TTL expires cached records. Zero means no expiry.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// QueueConfig tunes queue-enabled resources.
type QueueConfig struct {
	BatchSize         int           `mapstructure:"batch_size" validate:"gte=1" yaml:"batch_size"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" yaml:"visibility_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gte=1" yaml:"max_attempts"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ReapInterval      time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
}

// CounterConfig tunes the counter engine.
type CounterConfig struct {
	// Mode is sync (consolidate on write) or async (leader-scheduled).
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=sync async" yaml:"mode"`

	ConsolidateInterval time.Duration `mapstructure:"consolidate_interval" yaml:"consolidate_interval"`

	// Analytics enables daily cohort rollups.
	Analytics bool `mapstructure:"analytics" yaml:"analytics"`
}

// ReplicationConfig tunes the replication fan-out.
type ReplicationConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" validate:"gte=1" yaml:"max_attempts"`
	DrainInterval time.Duration `mapstructure:"drain_interval" yaml:"drain_interval"`

	// BatchBytes caps warehouse NDJSON batch size.
	BatchBytes bytesize.ByteSize `mapstructure:"batch_bytes" yaml:"batch_bytes"`
}

// TTLConfig configures the expired-record reaper.
type TTLConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// SweepInterval is the delay between reaper passes on the leader.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// Resources maps resource name to the date-typed field holding the
	// expiry instant.
	Resources map[string]string `mapstructure:"resources" yaml:"resources,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and turns a missing file into a
// user-friendly error with setup instructions.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  s3db init\n\n"+
				"Or specify a custom config file:\n"+
				"  s3db <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  s3db init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML. The file mode is
// 0600: the connection section may carry credentials and the passphrase.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration using validator tags plus the
// cross-field constraints tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if ok := isValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("field %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if cfg.Coordinator.LeaseTimeout < 2*cfg.Coordinator.HeartbeatInterval {
		return fmt.Errorf("coordinator.lease_timeout (%s) must be at least twice coordinator.heartbeat_interval (%s)",
			cfg.Coordinator.LeaseTimeout, cfg.Coordinator.HeartbeatInterval)
	}
	if cfg.Cache.Enabled && cfg.Cache.Driver == "badger" && cfg.Cache.Path == "" {
		return fmt.Errorf("cache.path is required for the badger cache driver")
	}
	return nil
}

func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

func setupViper(v *viper.Viper, configPath string) {
	// S3DB_LOGGING_LEVEL=DEBUG overrides logging.level, and so on.
	v.SetEnvPrefix("S3DB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks converts human-readable config values: byte sizes
// ("64Mi") and durations ("30s").
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/s3db, falling back to
// ~/.config/s3db, then the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "s3db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "s3db")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
