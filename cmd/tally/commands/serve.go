package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/config"
	"github.com/relata/tally/logger"
	"github.com/relata/tally/sym"
)

// ServeCmd runs the scheduler daemon in the foreground.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Run the formula scheduler daemon",
	Long: sym.Pulse + ` Run the formula scheduler in the foreground.

Applies pending migrations, registers timers for every active non-manual
formula, and recomputes on cadence until interrupted. In-flight runs
complete before shutdown.`,
	RunE: runServe,
}

var configWatchFlag bool

func init() {
	ServeCmd.Flags().BoolVar(&configWatchFlag, "watch-config", true, "Reload log level when tally.toml changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	conn, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, sched := newEngine(ctx, conn, cfg)

	// Re-register timers from stored definitions so restarts pick up
	// existing schedules.
	for _, module := range catalog.Modules() {
		defs, err := svc.ListFormulaFields(string(module))
		if err != nil {
			return err
		}
		for _, def := range defs {
			if def.IsActive && !def.UpdateSchedule.IsManual() {
				if err := sched.Schedule(def.ID, def.UpdateSchedule); err != nil {
					return err
				}
			}
		}
	}

	sched.Start()

	var watcher *config.Watcher
	if configWatchFlag {
		watcher = watchConfig()
		if watcher != nil {
			defer watcher.Stop()
		}
	}

	fmt.Printf("%s tally scheduler running (db: %s, tick: %ds). Ctrl+C to stop.\n",
		sym.Pulse, cfg.Database.Path, cfg.Scheduler.TickIntervalSeconds)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Printf("\n%s Shutting down, waiting for in-flight runs...\n", sym.Pulse)
	sched.Stop()
	return nil
}

// watchConfig hot-reloads the log level on tally.toml edits. Absent
// config file just means nothing to watch.
func watchConfig() *config.Watcher {
	watcher, err := config.NewWatcher("tally.toml")
	if err != nil {
		logger.Debugw("Config watch disabled", logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *config.Config) error {
		logger.SetLevel(cfg.Logging.Level)
		return nil
	})
	watcher.Start()
	return watcher
}
