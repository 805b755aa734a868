package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/relata/tally/errors"
)

// Job states.
const (
	StateActive = "active"
	StatePaused = "paused"
)

// Job is one scheduled recompute timer, keyed by formula id.
type Job struct {
	FormulaID       string
	Cadence         Cadence
	IntervalSeconds int
	NextRunAt       time.Time
	LastRunAt       *time.Time
	LastExecutionID *string
	State           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store persists scheduled jobs.
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertJob registers or replaces the job row for a formula. Re-schedule
// on edit is an idempotent replace.
func (s *Store) UpsertJob(job *Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO scheduled_formula_jobs
			(formula_id, cadence, interval_seconds, next_run_at, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(formula_id) DO UPDATE SET
			cadence = excluded.cadence,
			interval_seconds = excluded.interval_seconds,
			next_run_at = excluded.next_run_at,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		job.FormulaID,
		string(job.Cadence),
		job.IntervalSeconds,
		job.NextRunAt.Format(time.RFC3339),
		job.State,
		now, now)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert scheduled job for formula %s", job.FormulaID)
	}
	return nil
}

// GetJob loads a job by formula id.
func (s *Store) GetJob(formulaID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT formula_id, cadence, interval_seconds, next_run_at,
		       last_run_at, last_execution_id, state, created_at, updated_at
		FROM scheduled_formula_jobs
		WHERE formula_id = ?`, formulaID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no scheduled job for formula %s", formulaID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query scheduled job")
	}
	return job, nil
}

// DeleteJob removes a formula's timer. Safe to call when none exists.
func (s *Store) DeleteJob(formulaID string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_formula_jobs WHERE formula_id = ?`, formulaID)
	if err != nil {
		return errors.Wrapf(err, "failed to delete scheduled job for formula %s", formulaID)
	}
	return nil
}

// ListJobsDue returns active jobs whose next_run_at has passed, soonest
// first.
func (s *Store) ListJobsDue(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT formula_id, cadence, interval_seconds, next_run_at,
		       last_run_at, last_execution_id, state, created_at, updated_at
		FROM scheduled_formula_jobs
		WHERE state = ? AND next_run_at <= ?
		ORDER BY next_run_at`,
		StateActive, now.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListAllJobs returns every job row, soonest next run first.
func (s *Store) ListAllJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT formula_id, cadence, interval_seconds, next_run_at,
		       last_run_at, last_execution_id, state, created_at, updated_at
		FROM scheduled_formula_jobs
		ORDER BY next_run_at`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled jobs")
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateJobAfterExecution records a completed run and re-arms the timer.
// If the job was unscheduled while the run was in flight this affects no
// rows and the timer stays gone.
func (s *Store) UpdateJobAfterExecution(formulaID string, ranAt time.Time, executionID string, nextRun time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_formula_jobs
		SET last_run_at = ?, last_execution_id = ?, next_run_at = ?, updated_at = ?
		WHERE formula_id = ?`,
		ranAt.Format(time.RFC3339),
		executionID,
		nextRun.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		formulaID)
	if err != nil {
		return errors.Wrapf(err, "failed to update scheduled job for formula %s", formulaID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*Job, error) {
	var job Job
	var cadence, nextRunAt, state, createdAt, updatedAt string
	var lastRunAt, lastExecutionID sql.NullString

	err := r.Scan(&job.FormulaID, &cadence, &job.IntervalSeconds, &nextRunAt,
		&lastRunAt, &lastExecutionID, &state, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.Cadence = Cadence(cadence)
	job.State = state
	job.NextRunAt, err = time.Parse(time.RFC3339, nextRunAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse next_run_at")
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse last_run_at")
		}
		job.LastRunAt = &t
	}
	if lastExecutionID.Valid {
		job.LastExecutionID = &lastExecutionID.String
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduled job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
