package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/records"
	"github.com/relata/tally/sym"
)

// RecordCmd groups record operations used when exercising formulas.
var RecordCmd = &cobra.Command{
	Use:   "record",
	Short: sym.Field + " Work with records",
	Long: sym.Field + ` record — Create records and evaluate formulas against them

Examples:
  tally record add leads first_name=Ann score=80
  tally record calc leads 4f7c...`,
}

var recordAddCmd = &cobra.Command{
	Use:   "add <module> [field=value ...]",
	Short: "Create a record with field values",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, _, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()

		module, err := catalog.ParseModule(args[0])
		if err != nil {
			return err
		}

		values := make(map[string]string, len(args)-1)
		for _, pair := range args[1:] {
			name, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("expected field=value, got %q", pair)
			}
			values[name] = value
		}

		rec, err := records.NewStore(conn).CreateRecord(module, values)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Created record %s in %s", rec.ID, module)
		return nil
	},
}

var recordCalcCmd = &cobra.Command{
	Use:   "calc <module> <record-id>",
	Short: "Evaluate all active formulas for one record without persisting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		results, err := svc.CalculateForRecord(args[0], args[1])
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No active formulas in module")
			return nil
		}

		rows := pterm.TableData{{"Formula Field", "Value", "Error"}}
		for name, result := range results {
			rows = append(rows, []string{name, result.Value.Format(), result.Err})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	RecordCmd.AddCommand(recordAddCmd)
	RecordCmd.AddCommand(recordCalcCmd)
}
