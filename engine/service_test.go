package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/errors"
	"github.com/relata/tally/formula"
	tallytest "github.com/relata/tally/internal/testing"
	"github.com/relata/tally/internal/util"
	"github.com/relata/tally/pulse/schedule"
	"github.com/relata/tally/records"
)

type testEngine struct {
	svc     *Service
	db      *sql.DB
	sched   *schedule.Scheduler
	fields  *catalog.Store
	records *records.Store
	jobs    *schedule.Store
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	conn := tallytest.CreateMigratedTestDB(t)

	cfg := schedule.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	sched := schedule.NewScheduler(context.Background(),
		schedule.NewStore(conn), schedule.NewExecutionStore(conn), cfg, zap.NewNop().Sugar())

	svc := NewService(conn, sched, zap.NewNop().Sugar(), DefaultOptions())
	sched.SetRunner(svc)

	return &testEngine{
		svc:     svc,
		db:      conn,
		sched:   sched,
		fields:  catalog.NewStore(conn),
		records: records.NewStore(conn),
		jobs:    schedule.NewStore(conn),
	}
}

func (e *testEngine) createCustomField(t *testing.T, name string, ft catalog.FieldType) {
	t.Helper()
	require.NoError(t, e.fields.CreateField(&catalog.CustomField{
		Module:     catalog.ModuleLeads,
		FieldName:  name,
		FieldLabel: name,
		FieldType:  ft,
	}))
}

func TestCreateFormulaFieldLocksTarget(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomField(t, "grade", catalog.FieldTypeText)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module:          "leads",
		FieldLabel:      "Lead Grade",
		ReturnType:      "TEXT",
		Expression:      `IF({score} > 50, "A", "B")`,
		UpdateSchedule:  "manual",
		TargetFieldName: "grade",
	})
	require.NoError(t, err)
	assert.Equal(t, "lead_grade", def.FieldName)
	assert.True(t, def.IsActive)

	field, err := e.fields.GetField(catalog.ModuleLeads, "grade")
	require.NoError(t, err)
	assert.True(t, field.IsReadOnly)

	fields, funcs, err := e.svc.ListAvailableFields("leads")
	require.NoError(t, err)
	assert.Contains(t, funcs, "CONCATENATE")
	var sawFormula bool
	for _, f := range fields {
		if f.FieldName == "lead_grade" {
			sawFormula = true
			assert.Equal(t, catalog.OriginFormula, f.Origin)
			assert.True(t, f.IsReadOnly)
		}
	}
	assert.True(t, sawFormula)
}

func TestSecondFormulaOnSameTargetConflicts(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomField(t, "grade", catalog.FieldTypeText)

	_, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "First", ReturnType: "TEXT",
		Expression: `"a"`, UpdateSchedule: "manual", TargetFieldName: "grade",
	})
	require.NoError(t, err)

	_, err = e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Second", ReturnType: "TEXT",
		Expression: `"b"`, UpdateSchedule: "manual", TargetFieldName: "grade",
	})
	require.Error(t, err)
	assert.True(t, errors.IsLockConflictError(err))

	// Nothing persisted for the rejected definition.
	defs, err := e.svc.ListFormulaFields("leads")
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}

func TestDeleteFormulaUnlocksTarget(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomField(t, "grade", catalog.FieldTypeText)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Lead Grade", ReturnType: "TEXT",
		Expression: `"a"`, UpdateSchedule: "hourly", TargetFieldName: "grade",
	})
	require.NoError(t, err)

	_, err = e.jobs.GetJob(def.ID)
	require.NoError(t, err)

	require.NoError(t, e.svc.DeleteFormulaField(def.ID))

	field, err := e.fields.GetField(catalog.ModuleLeads, "grade")
	require.NoError(t, err)
	assert.False(t, field.IsReadOnly)

	_, err = e.jobs.GetJob(def.ID)
	assert.True(t, errors.IsNotFoundError(err))

	err = e.svc.DeleteFormulaField(def.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCreateRejectsMissingTargetField(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Orphan", ReturnType: "TEXT",
		Expression: `"a"`, UpdateSchedule: "manual", TargetFieldName: "no_such_field",
	})
	assert.True(t, errors.IsNotFoundError(err))
}

func TestCreateRejectsInvalidCadence(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Bad", ReturnType: "TEXT",
		Expression: `"a"`, UpdateSchedule: "fortnightly",
	})
	assert.True(t, errors.IsInvalidScheduleError(err))
}

func TestCreateSurfacesValidationError(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Bad Refs", ReturnType: "NUMBER",
		Expression: `{ghost_one} + {ghost_two}`, UpdateSchedule: "manual",
	})
	require.Error(t, err)
	verr := catalog.AsValidationError(err)
	require.NotNil(t, verr)
	assert.ElementsMatch(t, []string{"ghost_one", "ghost_two"}, verr.MissingFields)

	defs, err := e.svc.ListFormulaFields("")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestUpdateRevalidatesBeforeApplying(t *testing.T) {
	e := newTestEngine(t)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Doubled", ReturnType: "NUMBER",
		Expression: `{score} * 2`, UpdateSchedule: "manual",
	})
	require.NoError(t, err)

	err = e.svc.UpdateFormulaField(def.ID, UpdateParams{
		Expression: util.Ptr(`{nonexistent} * 2`),
	})
	require.Error(t, err)
	require.NotNil(t, catalog.AsValidationError(err))

	kept, err := e.svc.ListFormulaFields("leads")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, `{score} * 2`, kept[0].Expression)
}

func TestDeactivateAndReactivateFlipLock(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomField(t, "grade", catalog.FieldTypeText)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Lead Grade", ReturnType: "TEXT",
		Expression: `"a"`, UpdateSchedule: "manual", TargetFieldName: "grade",
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.UpdateFormulaField(def.ID, UpdateParams{IsActive: util.Ptr(false)}))
	field, err := e.fields.GetField(catalog.ModuleLeads, "grade")
	require.NoError(t, err)
	assert.False(t, field.IsReadOnly)

	require.NoError(t, e.svc.UpdateFormulaField(def.ID, UpdateParams{IsActive: util.Ptr(true)}))
	field, err = e.fields.GetField(catalog.ModuleLeads, "grade")
	require.NoError(t, err)
	assert.True(t, field.IsReadOnly)
}

func TestFieldNameCollisionGetsSuffix(t *testing.T) {
	e := newTestEngine(t)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Score", ReturnType: "NUMBER",
		Expression: `1`, UpdateSchedule: "manual",
	})
	require.NoError(t, err)
	assert.Equal(t, "score_2", def.FieldName)
}

func TestCalculateForRecord(t *testing.T) {
	e := newTestEngine(t)

	rec, err := e.records.CreateRecord(catalog.ModuleLeads, map[string]string{
		"first_name": "Ann",
		"score":      "80",
	})
	require.NoError(t, err)

	_, err = e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Doubled", ReturnType: "NUMBER",
		Expression: `{score} * 2`, UpdateSchedule: "manual",
	})
	require.NoError(t, err)

	// Validates against synthetic values but fails on this record, where
	// email is absent and null arithmetic is a type error.
	_, err = e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Email Length", ReturnType: "NUMBER",
		Expression: `LEN({email}) + 1`, UpdateSchedule: "manual",
	})
	require.NoError(t, err)

	results, err := e.svc.CalculateForRecord("leads", rec.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, formula.Number(160), results["doubled"].Value)
	assert.Empty(t, results["doubled"].Err)
	assert.NotEmpty(t, results["email_length"].Err)

	// On-demand calculation persists nothing.
	ctx, err := e.records.BuildContext(rec.ID, []catalog.FieldDescriptor{
		{FieldName: "doubled", FieldType: catalog.FieldTypeNumber},
	})
	require.NoError(t, err)
	_, stored := ctx["doubled"]
	assert.False(t, stored)
}

func TestTriggerManualUpdatePersistsTargetValues(t *testing.T) {
	e := newTestEngine(t)
	e.createCustomField(t, "grade", catalog.FieldTypeText)

	recA, err := e.records.CreateRecord(catalog.ModuleLeads, map[string]string{"score": "80"})
	require.NoError(t, err)
	recB, err := e.records.CreateRecord(catalog.ModuleLeads, map[string]string{"score": "10"})
	require.NoError(t, err)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Lead Grade", ReturnType: "TEXT",
		Expression: `IF({score} > 50, "A", "B")`, UpdateSchedule: "manual",
		TargetFieldName: "grade",
	})
	require.NoError(t, err)

	exec, err := e.svc.TriggerManualUpdate(def.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.ExecutionStatusCompleted, exec.Status)
	require.NotNil(t, exec.RecordsTotal)
	assert.Equal(t, 2, *exec.RecordsTotal)

	fields := []catalog.FieldDescriptor{{FieldName: "grade", FieldType: catalog.FieldTypeText}}
	ctxA, err := e.records.BuildContext(recA.ID, fields)
	require.NoError(t, err)
	assert.Equal(t, formula.TextValue("A"), ctxA["grade"])
	ctxB, err := e.records.BuildContext(recB.ID, fields)
	require.NoError(t, err)
	assert.Equal(t, formula.TextValue("B"), ctxB["grade"])
}

func TestTriggerManualUpdateUnknownDefinition(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.svc.TriggerManualUpdate("no-such-id")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRecomputeContinuesPastRecordFailures(t *testing.T) {
	e := newTestEngine(t)

	good, err := e.records.CreateRecord(catalog.ModuleLeads, map[string]string{"score": "40"})
	require.NoError(t, err)
	_, err = e.records.CreateRecord(catalog.ModuleLeads, nil)
	require.NoError(t, err)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Halved", ReturnType: "NUMBER",
		Expression: `{score} / 2`, UpdateSchedule: "manual",
	})
	require.NoError(t, err)

	stats, err := e.svc.Recompute(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordsTotal)
	assert.Equal(t, 1, stats.RecordsFailed)

	ctx, err := e.records.BuildContext(good.ID, []catalog.FieldDescriptor{
		{FieldName: "halved", FieldType: catalog.FieldTypeNumber},
	})
	require.NoError(t, err)
	assert.Equal(t, formula.Number(20), ctx["halved"])
}

func TestRecomputeDefersRecordsAfterDeadline(t *testing.T) {
	e := newTestEngine(t)

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := e.records.CreateRecord(catalog.ModuleLeads, map[string]string{"score": "10"})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Tripled", ReturnType: "NUMBER",
		Expression: `{score} * 3`, UpdateSchedule: "manual",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// An expired deadline stops dispatch before any record is handed to
	// a worker. The remainder is deferred, not failed.
	stats, err := e.svc.Recompute(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordsTotal)
	assert.Equal(t, 0, stats.RecordsFailed)

	for _, id := range ids {
		evalCtx, err := e.records.BuildContext(id, []catalog.FieldDescriptor{
			{FieldName: "tripled", FieldType: catalog.FieldTypeNumber},
		})
		require.NoError(t, err)
		assert.NotContains(t, evalCtx, "tripled")
	}

	// The same batch completes in full on the next run.
	stats, err = e.svc.Recompute(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RecordsTotal)
	assert.Equal(t, 0, stats.RecordsFailed)
}

func TestUpdateScheduleReconcilesTimer(t *testing.T) {
	e := newTestEngine(t)

	def, err := e.svc.CreateFormulaField(CreateParams{
		Module: "leads", FieldLabel: "Doubled", ReturnType: "NUMBER",
		Expression: `{score} * 2`, UpdateSchedule: "manual",
	})
	require.NoError(t, err)

	_, err = e.jobs.GetJob(def.ID)
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, e.svc.UpdateSchedule(def.ID, "hourly"))
	job, err := e.jobs.GetJob(def.ID)
	require.NoError(t, err)
	assert.Equal(t, schedule.CadenceHourly, job.Cadence)

	require.NoError(t, e.svc.UpdateSchedule(def.ID, "manual"))
	_, err = e.jobs.GetJob(def.ID)
	assert.True(t, errors.IsNotFoundError(err))

	err = e.svc.UpdateSchedule(def.ID, "sometimes")
	assert.True(t, errors.IsInvalidScheduleError(err))
}

func TestValidateFormulaOperation(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.svc.ValidateFormula(`ROUND({score} / 10, 1)`, "leads"))

	err := e.svc.ValidateFormula(`{missing} + 1`, "leads")
	require.Error(t, err)
	verr := catalog.AsValidationError(err)
	require.NotNil(t, verr)
	assert.Equal(t, []string{"missing"}, verr.MissingFields)
}
