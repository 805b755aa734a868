// Package records stores CRM records and their field values, and
// assembles the per-record evaluation context formulas read from. Field
// values are kept as typed text slots; aggregate columns are derived
// from activities and products on demand.
package records

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/errors"
)

// Record is one row of a module.
type Record struct {
	ID        string
	Module    catalog.Module
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Activity is a task or call logged against a record.
type Activity struct {
	ID        string
	RecordID  string
	Kind      string
	Subject   string
	CreatedAt time.Time
}

const (
	ActivityTask = "task"
	ActivityCall = "call"
)

// Store provides record persistence on a sqlite connection.
type Store struct {
	db *sql.DB
}

// NewStore creates a record store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRecord inserts a record with the given field values and returns
// its generated id.
func (s *Store) CreateRecord(module catalog.Module, values map[string]string) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.New().String(),
		Module:    module,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO records (id, module, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		rec.ID, string(rec.Module), rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert record")
	}

	for name, value := range values {
		if err := setValue(tx, rec.ID, name, value, "TEXT", now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit record")
	}
	return rec, nil
}

// GetRecord loads a record row by id.
func (s *Store) GetRecord(id string) (*Record, error) {
	var rec Record
	var module, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, module, created_at, updated_at
		FROM records WHERE id = ?`, id).
		Scan(&rec.ID, &module, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("record %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query record")
	}
	rec.Module = catalog.Module(module)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// ListRecordIDs returns the ids of every record in a module, oldest
// first. Batch recomputes walk this list.
func (s *Store) ListRecordIDs(module catalog.Module) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT id FROM records
		WHERE module = ?
		ORDER BY created_at, id`, string(module))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan record id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountRecords returns the number of records in a module.
func (s *Store) CountRecords(module catalog.Module) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM records WHERE module = ?`, string(module)).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count records")
	}
	return n, nil
}

// SetValue writes one field slot on a record. Slots owned by the
// formula engine reject manual writes: locked target fields and the
// formula fields themselves. Engine writes go through
// UpsertComputedValue instead.
func (s *Store) SetValue(recordID, fieldName, value string) error {
	rec, err := s.GetRecord(recordID)
	if err != nil {
		return err
	}
	if err := s.checkWritable(rec.Module, fieldName); err != nil {
		return err
	}
	return setValue(s.db, recordID, fieldName, value, "TEXT", time.Now().UTC())
}

func (s *Store) checkWritable(module catalog.Module, fieldName string) error {
	var locked bool
	err := s.db.QueryRow(`
		SELECT is_read_only FROM custom_fields
		WHERE module = ? AND field_name = ?`,
		string(module), fieldName).Scan(&locked)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to check field lock")
	}
	if locked {
		return errors.Wrapf(errors.ErrReadOnlyField, "%s is the target of an active formula", fieldName)
	}

	var computed bool
	err = s.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM formula_definitions
			WHERE module = ? AND field_name = ? AND is_active = 1)`,
		string(module), fieldName).Scan(&computed)
	if err != nil {
		return errors.Wrap(err, "failed to check formula slots")
	}
	if computed {
		return errors.Wrapf(errors.ErrReadOnlyField, "%s is computed by a formula", fieldName)
	}
	return nil
}

func setValue(q catalog.DBTX, recordID, fieldName, value, valueType string, now time.Time) error {
	_, err := q.Exec(`
		INSERT INTO record_values (record_id, field_name, value, value_type, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_id, field_name) DO UPDATE SET
			value = excluded.value,
			value_type = excluded.value_type,
			updated_at = excluded.updated_at`,
		recordID, fieldName, value, valueType, now.Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to set value %s on record %s", fieldName, recordID)
	}
	return nil
}

// AddActivity logs a task or call against a record.
func (s *Store) AddActivity(recordID, kind, subject string) (*Activity, error) {
	if kind != ActivityTask && kind != ActivityCall {
		return nil, errors.NewInvalidRequestError("unknown activity kind %q", kind)
	}
	act := &Activity{
		ID:        uuid.New().String(),
		RecordID:  recordID,
		Kind:      kind,
		Subject:   subject,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(`
		INSERT INTO activities (id, record_id, kind, subject, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		act.ID, act.RecordID, act.Kind, act.Subject, act.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert activity")
	}
	return act, nil
}

// AddProduct attaches a priced product line to a record.
func (s *Store) AddProduct(recordID, name string, amount float64) error {
	_, err := s.db.Exec(`
		INSERT INTO products (id, record_id, name, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), recordID, name, amount, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(err, "failed to insert product")
	}
	return nil
}

func (s *Store) activityCount(recordID, kind string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM activities
		WHERE record_id = ? AND kind = ?`, recordID, kind).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count %s activities", kind)
	}
	return n, nil
}

func (s *Store) productTotal(recordID string) (float64, error) {
	var total float64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM products
		WHERE record_id = ?`, recordID).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to total products")
	}
	return total, nil
}
