package main

import (
	"os"

	"github.com/s3db-io/s3db/cmd/s3db/commands"

	// Import prometheus metrics to register init() functions
	_ "github.com/s3db-io/s3db/pkg/metrics/prometheus"
)

func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintErr("Error: %v", err)
		os.Exit(1)
	}
}
