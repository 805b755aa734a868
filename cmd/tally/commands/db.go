package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relata/tally/sym"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the tally database",
	Long: sym.DB + ` db — Manage tally database operations

Examples:
  tally db migrate    # Apply pending migrations
  tally db stats      # Show table counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		fmt.Printf("%s Database %s is up to date\n", sym.DB, cfg.Database.Path)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	conn, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer conn.Close()

	tables := []struct {
		label string
		query string
	}{
		{"Records", "SELECT COUNT(*) FROM records"},
		{"Record values", "SELECT COUNT(*) FROM record_values"},
		{"Activities", "SELECT COUNT(*) FROM activities"},
		{"Products", "SELECT COUNT(*) FROM products"},
		{"Custom fields", "SELECT COUNT(*) FROM custom_fields"},
		{"Formula definitions", "SELECT COUNT(*) FROM formula_definitions"},
		{"Scheduled jobs", "SELECT COUNT(*) FROM scheduled_formula_jobs"},
		{"Executions", "SELECT COUNT(*) FROM formula_executions"},
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("Database Path: %s\n\n", cfg.Database.Path)
	for _, t := range tables {
		var n int
		if err := conn.QueryRow(t.query).Scan(&n); err != nil {
			return fmt.Errorf("failed to count %s: %w", t.label, err)
		}
		fmt.Printf("%-20s %d\n", t.label+":", n)
	}
	return nil
}
