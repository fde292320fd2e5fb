package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3db-io/s3db/internal/bytesize"
)

// ============================================================================
// Defaults
// ============================================================================

func TestGetDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultConfig()

	assert.Equal(t, "memory://s3db/dev", cfg.Connection.String)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "pretty", cfg.Logging.Format)
	assert.Equal(t, 3, cfg.Blob.MaxAttempts)
	assert.Equal(t, int64(10), cfg.Blob.Parallelism)
	assert.Equal(t, 100*time.Millisecond, cfg.Blob.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Coordinator.LeaseTimeout)
	assert.Equal(t, 20*time.Second, cfg.Coordinator.WorkerTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, []string{"cpu", "alloc_space", "inuse_space"}, cfg.Telemetry.Profiling.ProfileTypes)

	require.NoError(t, Validate(cfg))
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Logging.Level = "debug"
	cfg.Blob.MaxAttempts = 7
	cfg.Queue.BatchSize = 25

	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized, not replaced")
	assert.Equal(t, 7, cfg.Blob.MaxAttempts)
	assert.Equal(t, 25, cfg.Queue.BatchSize)
	assert.Equal(t, "async", cfg.Counter.Mode)
}

// ============================================================================
// Load / Save
// ============================================================================

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
connection:
  string: s3://AKIA:shh@localhost:9000/my-bucket/apps/prod
logging:
  level: warn
  format: json
blob:
  max_attempts: 5
  initial_backoff: 250ms
cache:
  enabled: true
  driver: memory
  max_bytes: 16Mi
shutdown_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Blob.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Blob.InitialBackoff, "duration decode hook")
	assert.Equal(t, 16*bytesize.MiB, cfg.Cache.MaxBytes, "bytesize decode hook")
	assert.Equal(t, 45*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 2*time.Second, cfg.Blob.MaxBackoff, "defaults fill unset fields")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Connection.Passphrase = "hunter2"
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "config may hold secrets")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", loaded.Logging.Level)
	assert.Equal(t, "hunter2", loaded.Connection.Passphrase)
}

// ============================================================================
// Validation
// ============================================================================

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	t.Run("bad log level", func(t *testing.T) {
		t.Parallel()
		cfg := GetDefaultConfig()
		cfg.Logging.Level = "LOUD"
		assert.Error(t, Validate(cfg))
	})

	t.Run("lease shorter than two heartbeats", func(t *testing.T) {
		t.Parallel()
		cfg := GetDefaultConfig()
		cfg.Coordinator.HeartbeatInterval = 10 * time.Second
		cfg.Coordinator.LeaseTimeout = 15 * time.Second
		assert.Error(t, Validate(cfg))
	})

	t.Run("badger cache without path", func(t *testing.T) {
		t.Parallel()
		cfg := GetDefaultConfig()
		cfg.Cache.Enabled = true
		cfg.Cache.Driver = "badger"
		cfg.Cache.Path = ""
		assert.Error(t, Validate(cfg))
	})
}

// ============================================================================
// Connection strings
// ============================================================================

func TestParseConnectionString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Connection
		wantErr bool
	}{
		{
			name: "s3 with endpoint and prefix",
			raw:  "s3://AKIA:s3cr3t@localhost:9000/bucket/apps/prod",
			want: Connection{
				Driver:          DriverS3,
				AccessKeyID:     "AKIA",
				SecretAccessKey: "s3cr3t",
				Endpoint:        "http://localhost:9000",
				Bucket:          "bucket",
				Prefix:          "apps/prod",
			},
		},
		{
			name: "s3 aws without endpoint",
			raw:  "s3://AKIA:s3cr3t@/bucket/prefix",
			want: Connection{
				Driver:          DriverS3,
				AccessKeyID:     "AKIA",
				SecretAccessKey: "s3cr3t",
				Bucket:          "bucket",
				Prefix:          "prefix",
			},
		},
		{
			name: "s3 default credential chain",
			raw:  "s3://minio.internal/bucket",
			want: Connection{
				Driver:   DriverS3,
				Endpoint: "https://minio.internal",
				Bucket:   "bucket",
			},
		},
		{
			name: "memory",
			raw:  "memory://test/apps/dev",
			want: Connection{Driver: DriverMemory, Bucket: "test", Prefix: "apps/dev"},
		},
		{name: "missing bucket", raw: "s3://AKIA:x@localhost:9000/", wantErr: true},
		{name: "memory without bucket", raw: "memory://", wantErr: true},
		{name: "unknown scheme", raw: "redis://x/y", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseConnectionString(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestConnectionRedacted(t *testing.T) {
	t.Parallel()

	conn, err := ParseConnectionString("s3://AKIA:supersecret@localhost:9000/bucket/p")
	require.NoError(t, err)

	red := conn.Redacted()
	assert.NotContains(t, red, "supersecret")
	assert.Contains(t, red, "AKIA")
	assert.Contains(t, red, "bucket")
}
