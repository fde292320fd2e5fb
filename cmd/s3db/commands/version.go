package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/s3db-io/s3db/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("s3db %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
	},
}
