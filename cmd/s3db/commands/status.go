package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/s3db-io/s3db/internal/cli/output"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the database status",
	Long: `Show the database status: connection, declared resources, and the
request cost meter for this invocation.

Queue depths and replication lag only appear on a process that runs
those services; for a fleet view query a worker's ops API instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(ctx) }()

	doc, err := db.StatusDoc(ctx)
	if err != nil {
		return err
	}

	if format != output.FormatTable {
		return output.NewPrinter(os.Stdout, format).Print(doc)
	}

	pairs := [][2]string{
		{"Connection", doc.Connection},
		{"Ready", fmt.Sprintf("%t", db.Ready(ctx))},
		{"Resources", strings.Join(doc.Resources, ", ")},
		{"Requests", fmt.Sprintf("%d", doc.Costs.Total)},
		{"Estimated cost", fmt.Sprintf("$%.6f", doc.Costs.EstimatedUSD)},
	}
	if doc.Cache != nil {
		pairs = append(pairs, [2]string{"Cache", fmt.Sprintf("%d hits / %d misses", doc.Cache.Hits, doc.Cache.Misses)})
	}
	if err := output.SimpleTable(os.Stdout, pairs); err != nil {
		return err
	}

	if len(doc.Costs.Requests) > 0 {
		fmt.Println("\nRequests:")
		table := output.NewTableData("COMMAND", "COUNT")
		commands := make([]string, 0, len(doc.Costs.Requests))
		for command := range doc.Costs.Requests {
			commands = append(commands, command)
		}
		sort.Strings(commands)
		for _, command := range commands {
			table.AddRow(command, fmt.Sprintf("%d", doc.Costs.Requests[command]))
		}
		return output.PrintTable(os.Stdout, table)
	}
	return nil
}
