// Package commands implements the CLI commands for s3db management.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// cfgFile is the global --config flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "s3db",
	Short: "s3db - S3-backed document database",
	Long: `s3db is a document database that uses an S3 bucket (or any
S3-compatible store) as its only backend. Record metadata lives in object
metadata, schemas are versioned in a single JSON manifest, and leader
election, queues, counters, and replication all coordinate through the
bucket itself.

Use "s3db [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/s3db/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(resourceCmd)
	rootCmd.AddCommand(coordCmd)
	rootCmd.AddCommand(statusCmd)

	// Hide the default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
