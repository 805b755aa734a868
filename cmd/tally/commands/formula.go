package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/engine"
	"github.com/relata/tally/formula"
	"github.com/relata/tally/sym"
)

// FormulaCmd groups formula-definition operations.
var FormulaCmd = &cobra.Command{
	Use:   "formula",
	Short: sym.Formula + " Manage formula fields",
	Long: sym.Formula + ` formula — Manage formula field definitions

Examples:
  tally formula ls
  tally formula validate -m leads 'IF({score} > 50, "A", "B")'
  tally formula create -m leads -l "Lead Grade" -r TEXT -s daily -t grade 'IF({score} > 50, "A", "B")'
  tally formula trigger 4f7c...
  tally formula schedule 4f7c... weekly
  tally formula status`,
}

var (
	formulaModuleFlag   string
	formulaLabelFlag    string
	formulaReturnFlag   string
	formulaScheduleFlag string
	formulaTargetFlag   string
	formulaDescFlag     string
)

var formulaLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List formula definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		defs, err := svc.ListFormulaFields(formulaModuleFlag)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			fmt.Println("No formula definitions")
			return nil
		}

		rows := pterm.TableData{{"ID", "Module", "Field", "Type", "Cadence", "Target", "Active", "Expression"}}
		for _, def := range defs {
			target := ""
			if def.TargetFieldName != nil {
				target = *def.TargetFieldName
			}
			rows = append(rows, []string{
				def.ID,
				string(def.Module),
				def.FieldName,
				string(def.ReturnType),
				string(def.UpdateSchedule),
				target,
				fmt.Sprintf("%t", def.IsActive),
				truncate(def.Expression, 40),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var formulaValidateCmd = &cobra.Command{
	Use:   "validate <expression>",
	Short: "Dry-validate an expression against a module's fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		if err := svc.ValidateFormula(args[0], formulaModuleFlag); err != nil {
			if verr := catalog.AsValidationError(err); verr != nil {
				if len(verr.MissingFields) > 0 {
					pterm.Error.Printfln("Unknown fields: %s", strings.Join(verr.MissingFields, ", "))
				} else if verr.Eval != nil {
					fmt.Println(verr.Eval.FormatError(formula.ErrorContextTerminal))
				}
				return fmt.Errorf("formula is invalid")
			}
			return err
		}
		pterm.Success.Println("Formula is valid")
		return nil
	},
}

var formulaCreateCmd = &cobra.Command{
	Use:   "create <expression>",
	Short: "Create a formula field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		def, err := svc.CreateFormulaField(engine.CreateParams{
			Module:          formulaModuleFlag,
			FieldLabel:      formulaLabelFlag,
			ReturnType:      formulaReturnFlag,
			Expression:      args[0],
			UpdateSchedule:  formulaScheduleFlag,
			TargetFieldName: formulaTargetFlag,
			Description:     formulaDescFlag,
		})
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Created formula %s (%s.%s)", def.ID, def.Module, def.FieldName)
		return nil
	},
}

var formulaRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a formula field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		if err := svc.DeleteFormulaField(args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("Deleted formula %s", args[0])
		return nil
	},
}

var formulaTriggerCmd = &cobra.Command{
	Use:   "trigger <id>",
	Short: "Recompute one formula's records now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		exec, err := svc.TriggerManualUpdate(args[0])
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Recompute %s: %d records, %d failed (%d ms)",
			exec.Status, deref(exec.RecordsTotal), deref(exec.RecordsFailed), deref(exec.DurationMs))
		return nil
	},
}

var formulaScheduleCmd = &cobra.Command{
	Use:   "schedule <id> <cadence>",
	Short: "Change a formula's cadence (manual|hourly|daily|weekly)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		if err := svc.UpdateSchedule(args[0], args[1]); err != nil {
			return err
		}
		pterm.Success.Printfln("Formula %s now runs %s", args[0], args[1])
		return nil
	},
}

var formulaStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduled jobs and their last results",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, cfg, err := openDatabase()
		if err != nil {
			return err
		}
		defer conn.Close()
		svc, _ := newEngine(cmd.Context(), conn, cfg)

		report, err := svc.GetScheduleStatus()
		if err != nil {
			return err
		}
		if len(report.Jobs) == 0 {
			fmt.Println("No scheduled jobs")
			return nil
		}

		rows := pterm.TableData{{"Formula", "Cadence", "Next Run", "Last Run", "Last Result", "In Flight"}}
		for _, job := range report.Jobs {
			lastRun := "-"
			if job.LastRunAt != nil {
				lastRun = job.LastRunAt.Format(time.RFC3339)
			}
			lastResult := job.LastStatus
			if lastResult == "" {
				lastResult = "-"
			}
			if job.LastError != nil {
				lastResult += ": " + truncate(*job.LastError, 30)
			}
			rows = append(rows, []string{
				shortID(job.FormulaID),
				string(job.Cadence),
				job.NextRunAt.Format(time.RFC3339),
				lastRun,
				lastResult,
				fmt.Sprintf("%t", job.InFlight),
			})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
		fmt.Printf("\nMemory: %.1f/%.1f GB (%.0f%%)\n",
			report.MemoryUsedGB, report.MemoryTotalGB, report.MemoryPercent)
		return nil
	},
}

func init() {
	FormulaCmd.PersistentFlags().StringVarP(&formulaModuleFlag, "module", "m", "", "Module (leads|accounts)")
	formulaCreateCmd.Flags().StringVarP(&formulaLabelFlag, "label", "l", "", "Field label")
	formulaCreateCmd.Flags().StringVarP(&formulaReturnFlag, "return-type", "r", "TEXT", "Return type (TEXT|NUMBER|DATE|BOOLEAN)")
	formulaCreateCmd.Flags().StringVarP(&formulaScheduleFlag, "schedule", "s", "manual", "Cadence (manual|hourly|daily|weekly)")
	formulaCreateCmd.Flags().StringVarP(&formulaTargetFlag, "target", "t", "", "Target custom field for computed values")
	formulaCreateCmd.Flags().StringVarP(&formulaDescFlag, "description", "d", "", "Description")

	FormulaCmd.AddCommand(formulaLsCmd)
	FormulaCmd.AddCommand(formulaValidateCmd)
	FormulaCmd.AddCommand(formulaCreateCmd)
	FormulaCmd.AddCommand(formulaRmCmd)
	FormulaCmd.AddCommand(formulaTriggerCmd)
	FormulaCmd.AddCommand(formulaScheduleCmd)
	FormulaCmd.AddCommand(formulaStatusCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
