package engine

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/errors"
	"github.com/relata/tally/formula"
	"github.com/relata/tally/logger"
	"github.com/relata/tally/pulse/schedule"
	"github.com/relata/tally/records"
)

// Options tunes the recompute path.
type Options struct {
	// Workers evaluating records in parallel during a batch recompute.
	RecomputeParallelism int
	// Ceiling on persistence writes per second across a batch.
	WriteRatePerSecond float64
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		RecomputeParallelism: 4,
		WriteRatePerSecond:   200,
	}
}

// Service is the formula-field engine's operation surface. It also
// implements schedule.Runner, so scheduled ticks and manual triggers
// share its recompute path.
type Service struct {
	db      *sql.DB
	defs    *Store
	fields  *catalog.Store
	records *records.Store
	sched   *schedule.Scheduler
	opts    Options
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	lockLog *zap.SugaredLogger
}

// NewService wires the engine over one database connection. Attach it to
// the scheduler with sched.SetRunner(svc) after construction.
func NewService(db *sql.DB, sched *schedule.Scheduler, log *zap.SugaredLogger, opts Options) *Service {
	if opts.RecomputeParallelism <= 0 {
		opts.RecomputeParallelism = 1
	}
	if opts.WriteRatePerSecond <= 0 {
		opts.WriteRatePerSecond = DefaultOptions().WriteRatePerSecond
	}
	return &Service{
		db:      db,
		defs:    NewStore(db),
		fields:  catalog.NewStore(db),
		records: records.NewStore(db),
		sched:   sched,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.WriteRatePerSecond), 1),
		log:     logger.AddFormulaSymbol(log),
		lockLog: logger.AddLockSymbol(log),
	}
}

// ListFormulaFields returns definitions, optionally filtered by module.
func (s *Service) ListFormulaFields(module string) ([]*FormulaDefinition, error) {
	if module == "" {
		return s.defs.ListDefinitions(nil)
	}
	m, err := catalog.ParseModule(module)
	if err != nil {
		return nil, err
	}
	return s.defs.ListDefinitions(&m)
}

// AvailableFields assembles the full field catalog for a module:
// compiled-in standard columns, admin-defined custom fields, and active
// formula fields.
func (s *Service) AvailableFields(module catalog.Module) ([]catalog.FieldDescriptor, error) {
	fields := catalog.StandardFields(module)

	custom, err := s.fields.ListFields(module)
	if err != nil {
		return nil, err
	}
	for _, cf := range custom {
		fields = append(fields, catalog.FieldDescriptor{
			FieldName:  cf.FieldName,
			FieldLabel: cf.FieldLabel,
			FieldType:  cf.FieldType,
			Origin:     catalog.OriginCustom,
			IsReadOnly: cf.IsReadOnly,
		})
	}

	defs, err := s.defs.ListActiveDefinitions(module)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		fields = append(fields, def.Descriptor())
	}
	return fields, nil
}

// ListAvailableFields returns the catalog for a module plus the function
// library names, for UI display.
func (s *Service) ListAvailableFields(module string) ([]catalog.FieldDescriptor, []string, error) {
	m, err := catalog.ParseModule(module)
	if err != nil {
		return nil, nil, err
	}
	fields, err := s.AvailableFields(m)
	if err != nil {
		return nil, nil, err
	}
	return fields, formula.FunctionNames(), nil
}

// ValidateFormula dry-runs an expression against a module's catalog
// without persisting anything.
func (s *Service) ValidateFormula(source, module string) error {
	m, err := catalog.ParseModule(module)
	if err != nil {
		return err
	}
	fields, err := s.AvailableFields(m)
	if err != nil {
		return err
	}
	return catalog.Validate(source, fields)
}

// CreateParams carries the inputs for a new formula field.
type CreateParams struct {
	Module          string
	FieldLabel      string
	ReturnType      string
	Expression      string
	UpdateSchedule  string
	TargetFieldName string
	Description     string
}

// CreateFormulaField validates and stores a new definition. When a
// target field is named, the read-only lock on it travels in the same
// transaction as the definition insert; a lock conflict or validation
// failure persists nothing.
func (s *Service) CreateFormulaField(p CreateParams) (*FormulaDefinition, error) {
	module, err := catalog.ParseModule(p.Module)
	if err != nil {
		return nil, err
	}
	returnType, err := parseReturnType(p.ReturnType)
	if err != nil {
		return nil, err
	}
	cadence, err := schedule.ParseCadence(p.UpdateSchedule)
	if err != nil {
		return nil, err
	}
	if p.FieldLabel == "" {
		return nil, errors.NewInvalidRequestError("field label is required")
	}

	fields, err := s.AvailableFields(module)
	if err != nil {
		return nil, err
	}
	if err := catalog.Validate(p.Expression, fields); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	def := &FormulaDefinition{
		ID:             uuid.New().String(),
		Module:         module,
		FieldName:      uniqueFieldName(p.FieldLabel, fields),
		FieldLabel:     p.FieldLabel,
		ReturnType:     returnType,
		Expression:     p.Expression,
		Description:    p.Description,
		UpdateSchedule: cadence,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.TargetFieldName != "" {
		def.TargetFieldName = &p.TargetFieldName
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if def.TargetFieldName != nil {
		if err := lockTarget(tx, module, *def.TargetFieldName); err != nil {
			return nil, err
		}
	}
	if err := insertDefinition(tx, def); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit formula definition")
	}
	if def.TargetFieldName != nil {
		s.lockLog.Infow("Target field locked",
			logger.FieldModule, def.Module,
			logger.FieldTargetField, *def.TargetFieldName,
			logger.FieldFormulaID, def.ID)
	}

	if !cadence.IsManual() {
		if err := s.sched.Schedule(def.ID, cadence); err != nil {
			return nil, err
		}
	}

	s.log.Infow("Formula field created",
		logger.FieldFormulaID, def.ID,
		logger.FieldModule, def.Module,
		logger.FieldFieldName, def.FieldName,
		logger.FieldTargetField, def.TargetSlot(),
		logger.FieldCadence, def.UpdateSchedule)
	return def, nil
}

// UpdateParams carries a partial definition edit; nil fields keep their
// current value.
type UpdateParams struct {
	FieldLabel  *string
	Expression  *string
	Description *string
	IsActive    *bool
}

// UpdateFormulaField re-validates and applies an edit. Activation flips
// carry the matching lock or unlock in the same transaction.
func (s *Service) UpdateFormulaField(id string, p UpdateParams) error {
	def, err := s.defs.GetDefinition(id)
	if err != nil {
		return err
	}

	wasActive := def.IsActive
	if p.FieldLabel != nil {
		def.FieldLabel = *p.FieldLabel
	}
	if p.Expression != nil {
		def.Expression = *p.Expression
	}
	if p.Description != nil {
		def.Description = *p.Description
	}
	if p.IsActive != nil {
		def.IsActive = *p.IsActive
	}

	fields, err := s.AvailableFields(def.Module)
	if err != nil {
		return err
	}
	if err := catalog.Validate(def.Expression, fields); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if def.TargetFieldName != nil && wasActive != def.IsActive {
		if def.IsActive {
			if err := lockTarget(tx, def.Module, *def.TargetFieldName); err != nil {
				return err
			}
		} else if err := releaseTarget(tx, def.Module, *def.TargetFieldName, def.ID); err != nil {
			return err
		}
	}
	if err := updateDefinition(tx, def); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit formula update")
	}

	return s.reconcileSchedule(def)
}

// DeleteFormulaField removes a definition, unlocking its target field if
// it was the last active formula targeting it, and cancels its timer.
func (s *Service) DeleteFormulaField(id string) error {
	def, err := s.defs.GetDefinition(id)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := deleteDefinition(tx, id); err != nil {
		return err
	}
	if def.TargetFieldName != nil && def.IsActive {
		if err := releaseTarget(tx, def.Module, *def.TargetFieldName, id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit formula delete")
	}
	if def.TargetFieldName != nil && def.IsActive {
		s.lockLog.Infow("Target field lock released",
			logger.FieldModule, def.Module,
			logger.FieldTargetField, *def.TargetFieldName,
			logger.FieldFormulaID, id)
	}

	if err := s.sched.Unschedule(id); err != nil {
		return err
	}
	s.log.Infow("Formula field deleted",
		logger.FieldFormulaID, id,
		logger.FieldModule, def.Module,
		logger.FieldFieldName, def.FieldName)
	return nil
}

// FieldResult is one formula's outcome for a single record.
type FieldResult struct {
	Value formula.Value `json:"value"`
	Err   string        `json:"error,omitempty"`
}

// CalculateForRecord evaluates every active formula of a module against
// one record and returns the results keyed by formula field name.
// Nothing is persisted.
func (s *Service) CalculateForRecord(module, recordID string) (map[string]FieldResult, error) {
	m, err := catalog.ParseModule(module)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.GetRecord(recordID)
	if err != nil {
		return nil, err
	}
	if rec.Module != m {
		return nil, errors.NewInvalidRequestError("record %s belongs to module %s", recordID, rec.Module)
	}

	defs, err := s.defs.ListActiveDefinitions(m)
	if err != nil {
		return nil, err
	}
	fields, err := s.AvailableFields(m)
	if err != nil {
		return nil, err
	}
	ctx, err := s.records.BuildContext(recordID, fields)
	if err != nil {
		return nil, err
	}

	results := make(map[string]FieldResult, len(defs))
	for _, def := range defs {
		value, err := formula.Evaluate(def.Expression, ctx)
		if err != nil {
			results[def.FieldName] = FieldResult{Err: err.Error()}
			continue
		}
		results[def.FieldName] = FieldResult{Value: value}
	}
	return results, nil
}

// TriggerManualUpdate runs the recompute path for one formula now,
// regardless of cadence. Rejected while a run for the same formula is in
// flight.
func (s *Service) TriggerManualUpdate(id string) (*schedule.Execution, error) {
	def, err := s.defs.GetDefinition(id)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, errors.NewInvalidRequestError("formula %s is inactive", id)
	}
	return s.sched.TriggerManual(id)
}

// GetScheduleStatus reports every scheduled job.
func (s *Service) GetScheduleStatus() (*schedule.StatusReport, error) {
	return s.sched.Status()
}

// UpdateSchedule changes a formula's cadence and reconciles its timer.
func (s *Service) UpdateSchedule(id, cadence string) error {
	c, err := schedule.ParseCadence(cadence)
	if err != nil {
		return err
	}
	def, err := s.defs.GetDefinition(id)
	if err != nil {
		return err
	}
	def.UpdateSchedule = c

	if err := updateDefinition(s.db, def); err != nil {
		return err
	}
	return s.reconcileSchedule(def)
}

// reconcileSchedule makes the timer table agree with a definition's
// current cadence and active flag.
func (s *Service) reconcileSchedule(def *FormulaDefinition) error {
	if def.IsActive && !def.UpdateSchedule.IsManual() {
		return s.sched.Schedule(def.ID, def.UpdateSchedule)
	}
	return s.sched.Unschedule(def.ID)
}

func parseReturnType(s string) (catalog.FieldType, error) {
	switch catalog.FieldType(s) {
	case catalog.FieldTypeText, catalog.FieldTypeNumber, catalog.FieldTypeDate, catalog.FieldTypeBoolean:
		return catalog.FieldType(s), nil
	default:
		return "", errors.NewInvalidRequestError("unsupported return type %q", s)
	}
}

// uniqueFieldName derives a field name from the label and suffixes it if
// the catalog already uses it.
func uniqueFieldName(label string, fields []catalog.FieldDescriptor) string {
	taken := make(map[string]bool, len(fields))
	for _, f := range fields {
		taken[f.FieldName] = true
	}
	name := FieldNameFromLabel(label)
	if !taken[name] {
		return name
	}
	for i := 2; ; i++ {
		candidate := name + "_" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

var _ schedule.Runner = (*Service)(nil)

// Recompute is the batch path shared by scheduled ticks and manual
// triggers: evaluate every record in the formula's module and persist
// each result into the target slot. Per-record failures are counted and
// the batch continues; hitting the context deadline defers the remaining
// records to the next tick.
func (s *Service) Recompute(ctx context.Context, formulaID string) (schedule.RunStats, error) {
	var stats schedule.RunStats

	def, err := s.defs.GetDefinition(formulaID)
	if err != nil {
		return stats, err
	}
	if !def.IsActive {
		return stats, errors.NewInvalidRequestError("formula %s is inactive", formulaID)
	}

	root, err := formula.Parse(def.Expression)
	if err != nil {
		return stats, errors.Wrapf(err, "formula %s failed to parse", formulaID)
	}

	fields, err := s.AvailableFields(def.Module)
	if err != nil {
		return stats, err
	}
	ids, err := s.records.ListRecordIDs(def.Module)
	if err != nil {
		return stats, err
	}

	target := def.TargetSlot()
	start := time.Now()

	var (
		mu       sync.Mutex
		failed   int
		done     int
		deferred int
	)
	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.RecomputeParallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for recordID := range work {
				if err := s.recomputeRecord(ctx, root, fields, recordID, target); err != nil {
					s.log.Debugw("Record recompute failed",
						logger.FieldFormulaID, formulaID,
						logger.FieldRecordID, recordID,
						logger.FieldError, err)
					mu.Lock()
					failed++
					mu.Unlock()
				}
				mu.Lock()
				done++
				mu.Unlock()
			}
		}()
	}

dispatch:
	for i, recordID := range ids {
		select {
		case <-ctx.Done():
			deferred = len(ids) - i
			break dispatch
		default:
		}
		select {
		case work <- recordID:
		case <-ctx.Done():
			deferred = len(ids) - i
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	stats.RecordsTotal = done
	stats.RecordsFailed = failed

	if deferred > 0 {
		s.log.Warnw("Batch deadline reached, deferring remaining records",
			logger.FieldFormulaID, formulaID,
			logger.FieldCount, deferred)
	}
	s.log.Infow("Recompute finished",
		logger.FieldFormulaID, formulaID,
		logger.FieldTargetField, target,
		logger.FieldRecordsTotal, stats.RecordsTotal,
		logger.FieldRecordsFail, stats.RecordsFailed,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	return stats, nil
}

// recomputeRecord evaluates one record and persists the scalar. The
// single upsert keeps the write atomic per record.
func (s *Service) recomputeRecord(ctx context.Context, root formula.Expr, fields []catalog.FieldDescriptor, recordID, target string) error {
	evalCtx, err := s.records.BuildContext(recordID, fields)
	if err != nil {
		return err
	}
	value, err := formula.EvaluateParsed(root, evalCtx)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return records.UpsertComputedValue(s.db, recordID, target, value)
}
