package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relata/tally/cmd/tally/commands"
	"github.com/relata/tally/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "tally - formula fields for CRM records",
	Long: `tally - a formula-field engine for CRM records.

Administrators define formula fields: typed values computed from an
expression over a record's columns, custom fields, and activity
aggregates. A background scheduler recomputes them on a cadence.

Examples:
  tally serve                        # Run migrations and start the scheduler
  tally formula ls                   # List formula definitions
  tally formula validate -m leads 'ROUND({score} / 10, 1)'
  tally formula trigger <id>         # Recompute one formula now
  tally fields ls leads              # Show the available-fields catalog
  tally record calc leads <record>   # Evaluate all formulas for one record`,
}

func main() {
	jsonLogs := os.Getenv("TALLY_LOG_JSON") == "true"
	if err := logger.Initialize(jsonLogs); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	defer logger.Cleanup()

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.FormulaCmd)
	rootCmd.AddCommand(commands.FieldsCmd)
	rootCmd.AddCommand(commands.RecordCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
