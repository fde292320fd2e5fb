package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/config"
	"github.com/s3db-io/s3db/pkg/database"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// connect loads configuration and opens the database for a one-shot
// command. Logs go to stderr at WARN so table output stays clean.
func connect(ctx context.Context) (*database.DB, *config.Config, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}
	logger.InitWithWriter(os.Stderr, "WARN", cfg.Logging.Format, false)

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	return db, cfg, nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
