// Package commands implements the tally CLI.
package commands

import (
	"context"
	"database/sql"
	"time"

	"github.com/relata/tally/config"
	"github.com/relata/tally/db"
	"github.com/relata/tally/engine"
	"github.com/relata/tally/errors"
	"github.com/relata/tally/logger"
	"github.com/relata/tally/pulse/schedule"
)

// openDatabase loads config, opens the sqlite database, and applies
// pending migrations.
func openDatabase() (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	logger.SetLevel(cfg.Logging.Level)

	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

// newEngine wires the scheduler and service over an open database. The
// scheduler is returned unstarted; only serve starts it.
func newEngine(ctx context.Context, conn *sql.DB, cfg *config.Config) (*engine.Service, *schedule.Scheduler) {
	schedCfg := schedule.Config{
		TickInterval:      time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second,
		MaxConcurrentRuns: cfg.Scheduler.MaxConcurrentRuns,
		BatchDeadline:     time.Duration(cfg.Scheduler.BatchDeadlineSeconds) * time.Second,
	}
	sched := schedule.NewScheduler(ctx,
		schedule.NewStore(conn), schedule.NewExecutionStore(conn), schedCfg, logger.Logger)

	svc := engine.NewService(conn, sched, logger.Logger, engine.Options{
		RecomputeParallelism: cfg.Engine.RecomputeParallelism,
		WriteRatePerSecond:   cfg.Engine.WriteRatePerSecond,
	})
	sched.SetRunner(svc)
	return svc, sched
}
