package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/relata/tally/sym"
)

// FieldsCmd exposes the available-fields catalog.
var FieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: sym.Field + " Inspect the field catalog",
}

var fieldsLsCmd = &cobra.Command{
	Use:   "ls <module>",
	Short: "List the fields formulas can reference in a module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		fields, funcs, err := svc.ListAvailableFields(args[0])
		if err != nil {
			return err
		}

		rows := pterm.TableData{{"Field", "Label", "Type", "Origin", "Read-Only"}}
		for _, f := range fields {
			rows = append(rows, []string{
				f.FieldName,
				f.FieldLabel,
				string(f.FieldType),
				string(f.Origin),
				fmt.Sprintf("%t", f.IsReadOnly),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}

		fmt.Println("\nFunctions:")
		for _, name := range funcs {
			fmt.Printf("  %s\n", name)
		}
		return nil
	},
}

func init() {
	FieldsCmd.AddCommand(fieldsLsCmd)
}
