package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/relata/tally/errors"
	"github.com/relata/tally/logger"
)

// RunStats summarizes one recompute batch.
type RunStats struct {
	RecordsTotal  int
	RecordsFailed int
}

// Runner executes the recompute path for one formula. Implemented by the
// engine service; defined here so schedule does not depend on it.
type Runner interface {
	Recompute(ctx context.Context, formulaID string) (RunStats, error)
}

// Config tunes the scheduler loop.
type Config struct {
	TickInterval      time.Duration
	MaxConcurrentRuns int
	BatchDeadline     time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:      1 * time.Second,
		MaxConcurrentRuns: 4,
		BatchDeadline:     10 * time.Minute,
	}
}

// Scheduler drives scheduled recomputes. Each active non-manual formula
// has one job row; a tick scans for due jobs and runs them on a bounded
// pool. The running guard is per formula id: a tick that fires while the
// same formula is still recomputing is skipped and logged, never queued.
type Scheduler struct {
	store  *Store
	execs  *ExecutionStore
	runner Runner
	cfg    Config

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sem      chan struct{}
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	running         map[string]chan struct{}
	lastTickAt      time.Time
	ticksSinceStart int64
}

// NewScheduler creates a scheduler. The runner is attached afterwards via
// SetRunner, which breaks the construction cycle with the engine service.
func NewScheduler(ctx context.Context, store *Store, execs *ExecutionStore, cfg Config, log *zap.SugaredLogger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 1 * time.Second
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	schedCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		store:    store,
		execs:    execs,
		cfg:      cfg,
		ctx:      schedCtx,
		cancel:   cancel,
		sem:      make(chan struct{}, cfg.MaxConcurrentRuns),
		pulseLog: logger.AddPulseSymbol(log),
		running:  make(map[string]chan struct{}),
	}
}

// SetRunner attaches the recompute implementation.
func (s *Scheduler) SetRunner(r Runner) {
	s.runner = r
}

// Start begins the tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.pulseLog.Infow("Scheduler started",
		"interval", s.cfg.TickInterval,
		"max_concurrent", s.cfg.MaxConcurrentRuns)
}

// Stop cancels future ticks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.pulseLog.Infow("Scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case tickTime := <-ticker.C:
			s.mu.Lock()
			s.lastTickAt = tickTime
			s.ticksSinceStart++
			s.mu.Unlock()

			if err := s.checkDueJobs(tickTime); err != nil {
				s.pulseLog.Warnw("Scheduler tick error", logger.FieldError, err)
			}
		}
	}
}

func (s *Scheduler) checkDueJobs(now time.Time) error {
	jobs, err := s.store.ListJobsDue(s.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list due jobs")
	}

	for _, job := range jobs {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}

		release, ok := s.tryAcquire(job.FormulaID)
		if !ok {
			s.pulseLog.Infow("Skipping tick, previous run still in flight",
				logger.FieldFormulaID, job.FormulaID,
				logger.FieldCadence, job.Cadence)
			continue
		}

		s.wg.Add(1)
		go s.runScheduled(job, now, release)
	}
	return nil
}

// runScheduled executes one due job and re-arms its timer. The guard is
// held for the whole run; the semaphore bounds runs across formulas.
func (s *Scheduler) runScheduled(job *Job, now time.Time, release func()) {
	defer s.wg.Done()
	defer release()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-s.ctx.Done():
		return
	}

	exec, err := s.execute(s.ctx, job.FormulaID, TriggerSchedule)
	if err != nil {
		s.pulseLog.Errorw("Scheduled recompute failed",
			logger.FieldFormulaID, job.FormulaID,
			logger.FieldError, err)
	}
	if exec == nil {
		return
	}

	// Re-read the job so a cadence edit mid-run arms the new interval; a
	// deleted job stays deleted.
	current, err := s.store.GetJob(job.FormulaID)
	if err != nil {
		if !errors.IsNotFoundError(err) {
			s.pulseLog.Warnw("Failed to re-arm timer",
				logger.FieldFormulaID, job.FormulaID,
				logger.FieldError, err)
		}
		return
	}
	nextRun := now.Add(time.Duration(current.IntervalSeconds) * time.Second)
	if err := s.store.UpdateJobAfterExecution(job.FormulaID, now, exec.ID, nextRun); err != nil {
		s.pulseLog.Warnw("Failed to update job after run",
			logger.FieldFormulaID, job.FormulaID,
			logger.FieldError, err)
		return
	}
	s.pulseLog.Infow("Pulse OK",
		logger.FieldFormulaID, job.FormulaID,
		logger.FieldExecutionID, exec.ID,
		logger.FieldNextRunAt, nextRun.Format(time.RFC3339),
		logger.FieldDurationMS, derefInt(exec.DurationMs))
}

// execute runs the recompute path once and records its execution row.
func (s *Scheduler) execute(ctx context.Context, formulaID, triggerKind string) (*Execution, error) {
	if s.runner == nil {
		return nil, errors.New("scheduler has no runner attached")
	}

	exec, err := s.execs.StartExecution(formulaID, triggerKind)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if s.cfg.BatchDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.BatchDeadline)
		defer cancel()
	}

	stats, runErr := s.runner.Recompute(runCtx, formulaID)
	if err := s.execs.FinishExecution(exec, stats, runErr); err != nil {
		s.pulseLog.Warnw("Failed to finalize execution record",
			logger.FieldExecutionID, exec.ID,
			logger.FieldError, err)
	}
	if runErr != nil {
		return exec, errors.Wrapf(runErr, "recompute of formula %s failed", formulaID)
	}
	return exec, nil
}

// TriggerManual runs the recompute path once, synchronously, regardless of
// cadence. It shares the running guard with scheduled ticks: if a run for
// the same formula is in flight the trigger is rejected, not queued.
func (s *Scheduler) TriggerManual(formulaID string) (*Execution, error) {
	release, ok := s.tryAcquire(formulaID)
	if !ok {
		return nil, errors.Newf("a run for formula %s is already in flight", formulaID)
	}
	defer release()

	return s.execute(context.Background(), formulaID, TriggerManual)
}

// Schedule registers or replaces the timer for a formula. Manual cadence
// removes any existing timer. Waits out an in-flight run first so a stale
// tick cannot race the new registration.
func (s *Scheduler) Schedule(formulaID string, cadence Cadence) error {
	if cadence.IsManual() {
		return s.Unschedule(formulaID)
	}
	s.waitIdle(formulaID)

	interval := cadence.Interval()
	return s.store.UpsertJob(&Job{
		FormulaID:       formulaID,
		Cadence:         cadence,
		IntervalSeconds: int(interval / time.Second),
		NextRunAt:       time.Now().UTC().Add(interval),
		State:           StateActive,
	})
}

// Unschedule cancels a formula's timer. Safe on a formula with no timer;
// an in-flight run completes but does not re-arm.
func (s *Scheduler) Unschedule(formulaID string) error {
	if err := s.store.DeleteJob(formulaID); err != nil {
		return err
	}
	s.waitIdle(formulaID)
	return nil
}

// tryAcquire claims the running guard for a formula. The second return is
// false when a run is already in flight.
func (s *Scheduler) tryAcquire(formulaID string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inFlight := s.running[formulaID]; inFlight {
		return nil, false
	}
	done := make(chan struct{})
	s.running[formulaID] = done
	return func() {
		s.mu.Lock()
		delete(s.running, formulaID)
		s.mu.Unlock()
		close(done)
	}, true
}

func (s *Scheduler) waitIdle(formulaID string) {
	s.mu.Lock()
	done, inFlight := s.running[formulaID]
	s.mu.Unlock()
	if inFlight {
		<-done
	}
}

func (s *Scheduler) isRunning(formulaID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, inFlight := s.running[formulaID]
	return inFlight
}

// JobStatus is the per-formula view returned by Status.
type JobStatus struct {
	FormulaID  string     `json:"formula_id"`
	Cadence    Cadence    `json:"cadence"`
	State      string     `json:"state"`
	NextRunAt  time.Time  `json:"next_run_at"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  *string    `json:"last_error,omitempty"`
	InFlight   bool       `json:"in_flight"`
}

// StatusReport combines job states with scheduler and host metrics.
type StatusReport struct {
	Jobs            []JobStatus `json:"jobs"`
	TicksSinceStart int64       `json:"ticks_since_start"`
	LastTickAt      time.Time   `json:"last_tick_at"`
	MemoryUsedGB    float64     `json:"memory_used_gb"`
	MemoryTotalGB   float64     `json:"memory_total_gb"`
	MemoryPercent   float64     `json:"memory_percent"`
}

// Status reports every scheduled job with its cadence, last run, last
// result, and in-flight flag, plus process host memory.
func (s *Scheduler) Status() (*StatusReport, error) {
	jobs, err := s.store.ListAllJobs()
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Jobs: make([]JobStatus, 0, len(jobs))}
	for _, job := range jobs {
		status := JobStatus{
			FormulaID: job.FormulaID,
			Cadence:   job.Cadence,
			State:     job.State,
			NextRunAt: job.NextRunAt,
			LastRunAt: job.LastRunAt,
			InFlight:  s.isRunning(job.FormulaID),
		}
		latest, err := s.execs.LatestExecution(job.FormulaID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			status.LastStatus = latest.Status
			status.LastError = latest.ErrorMessage
		}
		report.Jobs = append(report.Jobs, status)
	}

	s.mu.Lock()
	report.TicksSinceStart = s.ticksSinceStart
	report.LastTickAt = s.lastTickAt
	s.mu.Unlock()

	if vm, err := mem.VirtualMemory(); err == nil {
		report.MemoryUsedGB = float64(vm.Used) / (1024 * 1024 * 1024)
		report.MemoryTotalGB = float64(vm.Total) / (1024 * 1024 * 1024)
		report.MemoryPercent = vm.UsedPercent
	}
	return report, nil
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
