package config

import (
	"strings"
	"time"

	"github.com/s3db-io/s3db/internal/bytesize"
)

// ApplyDefaults fills unset fields with sensible defaults. Zero values
// are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyBlobDefaults(&cfg.Blob)
	applyCoordinatorDefaults(&cfg.Coordinator)
	applyAPIDefaults(&cfg.API)
	applyCacheDefaults(&cfg.Cache)
	applyQueueDefaults(&cfg.Queue)
	applyCounterDefaults(&cfg.Counter)
	applyReplicationDefaults(&cfg.Replication)
	applyTTLDefaults(&cfg.TTL)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "pretty"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.ServerAddress == "" {
		cfg.Profiling.ServerAddress = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space"}
	}
}

func applyBlobDefaults(cfg *BlobConfig) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 2 * time.Second
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = 10
	}
}

func applyCoordinatorDefaults(cfg *CoordinatorConfig) {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatJitter == 0 {
		cfg.HeartbeatJitter = 500 * time.Millisecond
	}
	if cfg.LeaseTimeout == 0 {
		cfg.LeaseTimeout = 15 * time.Second
	}
	if cfg.WorkerTimeout == 0 {
		cfg.WorkerTimeout = 20 * time.Second
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8472
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Driver == "" {
		cfg.Driver = "memory"
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 64 * bytesize.MiB
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = 30 * time.Second
	}
}

func applyCounterDefaults(cfg *CounterConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "async"
	}
	if cfg.ConsolidateInterval == 0 {
		cfg.ConsolidateInterval = 30 * time.Second
	}
}

func applyReplicationDefaults(cfg *ReplicationConfig) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = 5 * time.Second
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 4 * bytesize.MiB
	}
}

func applyTTLDefaults(cfg *TTLConfig) {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
}

// GetDefaultConfig returns a configuration with every default applied
// and an in-memory connection, suitable for tests and first runs.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Connection: ConnectionConfig{
			String: "memory://s3db/dev",
			Region: "us-east-1",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
