package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/s3db-io/s3db/internal/cli/output"
	"github.com/s3db-io/s3db/pkg/codec"
	"github.com/s3db-io/s3db/pkg/manifest"
)

var resourceOutput string

var resourceCmd = &cobra.Command{
	Use:   "resource",
	Short: "Inspect catalog resources",
}

var resourceLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the resources declared in the manifest",
	RunE:  runResourceLs,
}

var resourceDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Show a resource's schema, partitions, and version history",
	Args:  cobra.ExactArgs(1),
	RunE:  runResourceDescribe,
}

func init() {
	resourceCmd.PersistentFlags().StringVarP(&resourceOutput, "output", "o", "table", "Output format (table, json, yaml)")
	resourceCmd.AddCommand(resourceLsCmd)
	resourceCmd.AddCommand(resourceDescribeCmd)
}

func runResourceLs(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(resourceOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(ctx) }()

	snapshot := db.Catalog().Snapshot()
	names := make([]string, 0, len(snapshot.Resources))
	for name := range snapshot.Resources {
		names = append(names, name)
	}
	sort.Strings(names)

	if format != output.FormatTable {
		return output.NewPrinter(os.Stdout, format).Print(snapshot.Resources)
	}

	table := output.NewTableData("NAME", "VERSION", "BEHAVIOR", "ATTRIBUTES", "PARTITIONS")
	for _, name := range names {
		res := snapshot.Resources[name]
		current := res.Current()
		if current == nil {
			table.AddRow(name, res.CurrentVersion, "?", "?", "?")
			continue
		}
		table.AddRow(
			name,
			res.CurrentVersion,
			behaviorLabel(current.Behavior),
			fmt.Sprintf("%d", len(current.Attributes)),
			partitionNames(current.Partitions),
		)
	}
	return output.PrintTable(os.Stdout, table)
}

func runResourceDescribe(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(resourceOutput)
	if err != nil {
		return err
	}
	name := args[0]

	ctx := cmd.Context()
	db, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(ctx) }()

	res := db.Catalog().Resource(name)
	if res == nil {
		return fmt.Errorf("resource %q not found", name)
	}

	if format != output.FormatTable {
		return output.NewPrinter(os.Stdout, format).Print(res)
	}

	current := res.Current()
	pairs := [][2]string{
		{"Name", name},
		{"Current version", res.CurrentVersion},
		{"Versions", fmt.Sprintf("%d", len(res.Versions))},
	}
	if current != nil {
		pairs = append(pairs,
			[2]string{"Behavior", behaviorLabel(current.Behavior)},
			[2]string{"Schema hash", current.Hash},
		)
	}
	if err := output.SimpleTable(os.Stdout, pairs); err != nil {
		return err
	}
	if current == nil {
		return nil
	}

	fmt.Println("\nAttributes:")
	attrs := output.NewTableData("FIELD", "TYPE", "REQUIRED")
	fields := make([]string, 0, len(current.Attributes))
	for field := range current.Attributes {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		attr := current.Attributes[field]
		attrs.AddRow(field, string(attr.Type), fmt.Sprintf("%t", attr.Required))
	}
	if err := output.PrintTable(os.Stdout, attrs); err != nil {
		return err
	}

	if len(current.Partitions) > 0 {
		fmt.Println("\nPartitions:")
		parts := output.NewTableData("PARTITION", "FIELDS")
		partNames := make([]string, 0, len(current.Partitions))
		for pname := range current.Partitions {
			partNames = append(partNames, pname)
		}
		sort.Strings(partNames)
		for _, pname := range partNames {
			fields := make([]string, 0, len(current.Partitions[pname].Fields))
			for f := range current.Partitions[pname].Fields {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			parts.AddRow(pname, strings.Join(fields, ", "))
		}
		return output.PrintTable(os.Stdout, parts)
	}
	return nil
}

func behaviorLabel(b string) string {
	if b == "" {
		return string(codec.DefaultBehavior)
	}
	return b
}

func partitionNames(partitions map[string]*manifest.Partition) string {
	if len(partitions) == 0 {
		return "-"
	}
	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
