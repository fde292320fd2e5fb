package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/internal/telemetry"
	"github.com/s3db-io/s3db/internal/version"
	"github.com/s3db-io/s3db/pkg/api"
	"github.com/s3db-io/s3db/pkg/config"
	"github.com/s3db-io/s3db/pkg/database"
	"github.com/s3db-io/s3db/pkg/metrics"
	"github.com/s3db-io/s3db/pkg/plugin"
	"github.com/s3db-io/s3db/pkg/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a long-lived s3db worker",
	Long: `Run a long-lived s3db worker process.

A worker connects to the database, joins the coordination namespace, and
runs the background maintenance that a short-lived client cannot: the
leader heartbeat, the queue message reaper, the TTL sweep, and the ops
HTTP API when enabled.

Examples:
  # Run with the default config location
  s3db worker

  # Run with a custom config file
  s3db worker --config /etc/s3db/config.yaml

  # Override config with environment variables
  S3DB_LOGGING_LEVEL=DEBUG s3db worker`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "s3db",
		ServiceVersion: version.Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "s3db",
		ServiceVersion: version.Version,
		Endpoint:       cfg.Telemetry.Profiling.ServerAddress,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.ServerAddress, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Metrics come up before the database so the blob client is
	// instrumented from the first request.
	metrics.InitRegistry()

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := db.Close(shutdownCtx); err != nil {
			logger.Error("database close error", "error", err)
		}
	}()

	// Joining the default namespace starts the heartbeat.
	svc, err := db.Coordinator(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to join coordination namespace: %w", err)
	}
	logger.Info("Coordination joined", "namespace", svc.Namespace(), "worker_id", svc.ID())

	reaper := plugin.NewScheduler("queue-reaper", svc, cfg.Queue.ReapInterval, queueReapTask(db))
	reaper.Start(ctx)
	defer reaper.Stop()

	if cfg.TTL.Enabled {
		if err := db.Use(ctx, plugin.NewTTLReaper(cfg.TTL)); err != nil {
			return fmt.Errorf("failed to install ttl reaper: %w", err)
		}
		logger.Info("TTL reaper enabled", "interval", cfg.TTL.SweepInterval, "resources", len(cfg.TTL.Resources))
	}

	// Live log reconfiguration on config file edits.
	if source := getConfigSource(GetConfigFile()); source != "defaults" {
		stopWatch, err := config.Watch(source, func(next *config.Config) {
			logger.SetLevel(next.Logging.Level)
			logger.SetFormat(next.Logging.Format)
		})
		if err != nil {
			logger.Warn("config watch unavailable", "error", err)
		} else {
			defer stopWatch()
		}
	}

	serverDone := make(chan error, 1)
	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, db)
		go func() {
			serverDone <- apiServer.Start(ctx)
		}()
		logger.Info("Ops API enabled", "addr", apiServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Worker is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if cfg.API.Enabled {
			if err := <-serverDone; err != nil {
				logger.Error("ops server shutdown error", "error", err)
				return err
			}
		}
		logger.Info("Worker stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("ops server error", "error", err)
			return err
		}
		logger.Info("Worker stopped")
	}

	return nil
}

// queueReapTask returns expired processing claims to pending across
// every queue-shaped resource in the catalog. The worker carries no
// handlers, so it discovers queues by their partition layout instead of
// by registration.
func queueReapTask(db *database.DB) plugin.Task {
	return func(ctx context.Context) error {
		snapshot := db.Catalog().Snapshot()
		var firstErr error
		for name, res := range snapshot.Resources {
			current := res.Current()
			if current == nil || current.Partitions[queue.PartitionByState] == nil {
				continue
			}
			r, err := db.Resource(name)
			if err != nil {
				continue
			}
			q, err := queue.New(queue.Config{Resource: r})
			if err != nil {
				continue
			}
			if _, err := q.Reap(ctx); err != nil {
				logger.Warn("queue reap failed", "resource", name, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}
}
