package logger

import (
	"go.uber.org/zap"

	"github.com/relata/tally/sym"
)

// Standard field names for consistent structured logging across tally.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldFormulaID   = "formula_id"
	FieldModule      = "module"
	FieldFieldName   = "field_name"
	FieldTargetField = "target_field"
	FieldRecordID    = "record_id"
	FieldExecutionID = "execution_id"

	// Operations
	FieldOperation = "operation"
	FieldCadence   = "cadence"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRunAt  = "next_run_at"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount        = "count"
	FieldRecordsTotal = "records_total"
	FieldRecordsFail  = "records_failed"
)

// AddPulseSymbol returns a child logger with the scheduler symbol attached.
func AddPulseSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return log.With("symbol", sym.Pulse)
}

// AddFormulaSymbol returns a child logger with the formula symbol attached.
func AddFormulaSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return log.With("symbol", sym.Formula)
}

// AddDBSymbol returns a child logger with the database symbol attached.
func AddDBSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return log.With("symbol", sym.DB)
}

// AddLockSymbol returns a child logger with the field-lock symbol attached.
func AddLockSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return log.With("symbol", sym.Lock)
}
