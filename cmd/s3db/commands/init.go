package commands

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/s3db-io/s3db/internal/cli/prompt"
	"github.com/s3db-io/s3db/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file interactively",
	Long: `Initialize an s3db configuration file.

The command walks through the blob backend, optional field-level
encryption, the record cache, and the ops API, then writes the result
as YAML. By default the file is created at
$XDG_CONFIG_HOME/s3db/config.yaml; use --config for a custom path.

Examples:
  # Initialize with default location
  s3db init

  # Initialize with custom path
  s3db init --config /etc/s3db/config.yaml

  # Force overwrite existing config
  s3db init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()

	if err := promptConnection(cfg); err != nil {
		return initErr(err)
	}
	if err := promptEncryption(cfg); err != nil {
		return initErr(err)
	}
	if err := promptCache(cfg); err != nil {
		return initErr(err)
	}
	if err := promptAPI(cfg); err != nil {
		return initErr(err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start a worker with: s3db worker")
	fmt.Printf("  3. Or specify custom config: s3db worker --config %s\n", configPath)
	if cfg.Connection.Passphrase != "" {
		fmt.Println("\nSecurity note:")
		fmt.Println("  The encryption passphrase is stored in the config file (mode 0600).")
		fmt.Println("  Losing it makes secret-typed attributes unreadable; back it up.")
	}

	return nil
}

// initErr maps a Ctrl+C during a prompt to a quiet exit.
func initErr(err error) error {
	if prompt.IsAborted(err) {
		return fmt.Errorf("aborted")
	}
	return err
}

func promptConnection(cfg *config.Config) error {
	backend, err := prompt.Select("Blob backend", []prompt.SelectOption{
		{Label: "S3", Value: "s3", Description: "AWS S3 or any S3-compatible service (MinIO, LocalStack)"},
		{Label: "Memory", Value: "memory", Description: "In-process store, data lost on exit (development only)"},
	})
	if err != nil {
		return err
	}

	if backend == "memory" {
		bucket, err := prompt.Input("Bucket name", "s3db")
		if err != nil {
			return err
		}
		prefix, err := prompt.Input("Key prefix", "dev")
		if err != nil {
			return err
		}
		cfg.Connection.String = "memory://" + bucket + "/" + prefix
		return nil
	}

	endpoint, err := prompt.Input("Endpoint host (empty for AWS)", "")
	if err != nil {
		return err
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	region, err := prompt.Input("Region", cfg.Connection.Region)
	if err != nil {
		return err
	}
	cfg.Connection.Region = region

	useStaticCreds, err := prompt.Confirm("Provide static credentials (no for the AWS default chain)", endpoint != "")
	if err != nil {
		return err
	}
	var userinfo *url.Userinfo
	if useStaticCreds {
		access, err := prompt.InputRequired("Access key ID")
		if err != nil {
			return err
		}
		secret, err := prompt.Password("Secret access key")
		if err != nil {
			return err
		}
		userinfo = url.UserPassword(access, secret)
	}

	bucket, err := prompt.InputRequired("Bucket name")
	if err != nil {
		return err
	}
	prefix, err := prompt.Input("Key prefix", "s3db")
	if err != nil {
		return err
	}

	u := &url.URL{
		Scheme: "s3",
		User:   userinfo,
		Host:   endpoint,
		Path:   "/" + bucket + "/" + strings.Trim(prefix, "/"),
	}
	cfg.Connection.String = strings.TrimSuffix(u.String(), "/")

	if endpoint != "" {
		cfg.Connection.ForcePathStyle, err = prompt.Confirm("Use path-style addressing", true)
		if err != nil {
			return err
		}
	}
	return nil
}

func promptEncryption(cfg *config.Config) error {
	enable, err := prompt.Confirm("Enable field-level encryption for secret attributes", false)
	if err != nil {
		return err
	}
	if !enable {
		return nil
	}
	passphrase, err := prompt.PasswordWithConfirmation("Encryption passphrase", "Confirm passphrase", 8)
	if err != nil {
		return err
	}
	cfg.Connection.Passphrase = passphrase
	return nil
}

func promptCache(cfg *config.Config) error {
	enable, err := prompt.Confirm("Enable the read-through record cache", false)
	if err != nil {
		return err
	}
	if !enable {
		return nil
	}
	cfg.Cache.Enabled = true

	driver, err := prompt.Select("Cache driver", []prompt.SelectOption{
		{Label: "Memory", Value: "memory", Description: "Bounded in-process LRU"},
		{Label: "Badger", Value: "badger", Description: "On-disk cache, survives restarts"},
	})
	if err != nil {
		return err
	}
	cfg.Cache.Driver = driver

	if driver == "badger" {
		cfg.Cache.Path, err = prompt.InputRequired("Cache directory")
		if err != nil {
			return err
		}
	}
	return nil
}

func promptAPI(cfg *config.Config) error {
	enable, err := prompt.Confirm("Enable the ops HTTP API (health, metrics, status)", false)
	if err != nil {
		return err
	}
	if !enable {
		return nil
	}
	cfg.API.Enabled = true

	cfg.API.Port, err = prompt.InputPort("API port", cfg.API.Port)
	return err
}
