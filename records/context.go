package records

import (
	"database/sql"
	"time"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/errors"
	"github.com/relata/tally/formula"
)

// Aggregate field names derived at assembly time rather than stored.
const (
	fieldTaskCount    = "task_count"
	fieldCallCount    = "call_count"
	fieldProductTotal = "product_total"
	fieldCreatedDate  = "created_date"
)

// BuildContext assembles the evaluation context for one record. Each
// descriptor with a stored value is converted through its declared type;
// aggregate columns are computed from activities and products. Fields
// with no stored value stay absent from the context, which the evaluator
// reads as null.
func (s *Store) BuildContext(recordID string, fields []catalog.FieldDescriptor) (formula.Context, error) {
	rec, err := s.GetRecord(recordID)
	if err != nil {
		return nil, err
	}

	stored, err := s.loadValues(recordID)
	if err != nil {
		return nil, err
	}

	ctx := make(formula.Context, len(fields))
	for _, desc := range fields {
		switch desc.FieldName {
		case fieldTaskCount:
			n, err := s.activityCount(recordID, ActivityTask)
			if err != nil {
				return nil, err
			}
			ctx[desc.FieldName] = formula.Number(float64(n))
		case fieldCallCount:
			n, err := s.activityCount(recordID, ActivityCall)
			if err != nil {
				return nil, err
			}
			ctx[desc.FieldName] = formula.Number(float64(n))
		case fieldProductTotal:
			total, err := s.productTotal(recordID)
			if err != nil {
				return nil, err
			}
			ctx[desc.FieldName] = formula.Number(total)
		case fieldCreatedDate:
			ctx[desc.FieldName] = formula.DateValue(rec.CreatedAt)
		default:
			raw, ok := stored[desc.FieldName]
			if !ok {
				continue
			}
			ctx[desc.FieldName] = catalog.ValueForType(raw, desc.FieldType)
		}
	}
	return ctx, nil
}

func (s *Store) loadValues(recordID string) (map[string]string, error) {
	rows, err := s.db.Query(`
		SELECT field_name, value FROM record_values
		WHERE record_id = ?`, recordID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load record values")
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name string
		var value sql.NullString
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan record value")
		}
		if value.Valid {
			values[name] = value.String
		}
	}
	return values, rows.Err()
}

// UpsertComputedValue persists a formula result into a record's field
// slot. Null results clear the slot's text while keeping the row, so a
// later read still sees the field as blank rather than stale.
func UpsertComputedValue(q catalog.DBTX, recordID, fieldName string, v formula.Value) error {
	valueType := "TEXT"
	switch v.Kind {
	case formula.KindNumber:
		valueType = "NUMBER"
	case formula.KindBool:
		valueType = "BOOLEAN"
	case formula.KindDate:
		valueType = "DATE"
	}
	return setValue(q, recordID, fieldName, v.Format(), valueType, time.Now().UTC())
}
