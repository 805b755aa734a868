package schedule

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/relata/tally/errors"
	"github.com/relata/tally/internal/util"
)

// Execution statuses.
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Trigger kinds.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Execution is one recompute run of a formula, scheduled or manual.
type Execution struct {
	ID            string
	FormulaID     string
	Status        string
	TriggerKind   string
	StartedAt     time.Time
	CompletedAt   *time.Time
	DurationMs    *int
	RecordsTotal  *int
	RecordsFailed *int
	ErrorMessage  *string
}

// ExecutionStore persists recompute history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates an execution store.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// StartExecution inserts a running execution row and returns it.
func (s *ExecutionStore) StartExecution(formulaID, triggerKind string) (*Execution, error) {
	exec := &Execution{
		ID:          uuid.New().String(),
		FormulaID:   formulaID,
		Status:      ExecutionStatusRunning,
		TriggerKind: triggerKind,
		StartedAt:   time.Now().UTC(),
	}
	now := exec.StartedAt.Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO formula_executions
			(id, formula_id, status, trigger_kind, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.FormulaID, exec.Status, exec.TriggerKind, now, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert execution")
	}
	return exec, nil
}

// FinishExecution records the outcome of a run.
func (s *ExecutionStore) FinishExecution(exec *Execution, stats RunStats, runErr error) error {
	completed := time.Now().UTC()
	durationMs := int(completed.Sub(exec.StartedAt).Milliseconds())

	exec.CompletedAt = &completed
	exec.DurationMs = &durationMs
	exec.RecordsTotal = util.Ptr(stats.RecordsTotal)
	exec.RecordsFailed = util.Ptr(stats.RecordsFailed)
	if runErr != nil {
		exec.Status = ExecutionStatusFailed
		exec.ErrorMessage = util.Ptr(runErr.Error())
	} else {
		exec.Status = ExecutionStatusCompleted
	}

	var errMsg sql.NullString
	if exec.ErrorMessage != nil {
		errMsg = sql.NullString{String: *exec.ErrorMessage, Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE formula_executions
		SET status = ?, completed_at = ?, duration_ms = ?,
		    records_total = ?, records_failed = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		exec.Status,
		completed.Format(time.RFC3339),
		durationMs,
		stats.RecordsTotal,
		stats.RecordsFailed,
		errMsg,
		completed.Format(time.RFC3339),
		exec.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update execution %s", exec.ID)
	}
	return nil
}

// LatestExecution returns the most recent run for a formula, or nil when
// it has never run.
func (s *ExecutionStore) LatestExecution(formulaID string) (*Execution, error) {
	row := s.db.QueryRow(`
		SELECT id, formula_id, status, trigger_kind, started_at,
		       completed_at, duration_ms, records_total, records_failed, error_message
		FROM formula_executions
		WHERE formula_id = ?
		ORDER BY started_at DESC
		LIMIT 1`, formulaID)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query latest execution")
	}
	return exec, nil
}

// ListExecutions returns up to limit recent runs for a formula, newest
// first.
func (s *ExecutionStore) ListExecutions(formulaID string, limit int) ([]*Execution, error) {
	rows, err := s.db.Query(`
		SELECT id, formula_id, status, trigger_kind, started_at,
		       completed_at, duration_ms, records_total, records_failed, error_message
		FROM formula_executions
		WHERE formula_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, formulaID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(r rowScanner) (*Execution, error) {
	var exec Execution
	var startedAt string
	var completedAt, errMsg sql.NullString
	var durationMs, recordsTotal, recordsFailed sql.NullInt64

	err := r.Scan(&exec.ID, &exec.FormulaID, &exec.Status, &exec.TriggerKind, &startedAt,
		&completedAt, &durationMs, &recordsTotal, &recordsFailed, &errMsg)
	if err != nil {
		return nil, err
	}

	exec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse started_at")
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse completed_at")
		}
		exec.CompletedAt = &t
	}
	if durationMs.Valid {
		exec.DurationMs = util.Ptr(int(durationMs.Int64))
	}
	if recordsTotal.Valid {
		exec.RecordsTotal = util.Ptr(int(recordsTotal.Int64))
	}
	if recordsFailed.Valid {
		exec.RecordsFailed = util.Ptr(int(recordsFailed.Int64))
	}
	if errMsg.Valid {
		exec.ErrorMessage = &errMsg.String
	}
	return &exec, nil
}
