package catalog

import (
	"database/sql"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/relata/tally/errors"
)

// DBTX is the subset of database operations the catalog needs. Both
// *sql.DB and *sql.Tx satisfy it, so read-only flag writes can run
// inside the field-lock coordinator's transaction.
type DBTX interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// CustomField is an admin-defined field on a module.
type CustomField struct {
	Module     Module
	FieldName  string
	FieldLabel string
	FieldType  FieldType
	IsReadOnly bool
	CreatedAt  time.Time
}

// Store handles persistence of custom fields.
type Store struct {
	db *sql.DB
}

// NewStore creates a new custom-field store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateField registers a custom field on a module.
func (s *Store) CreateField(f *CustomField) error {
	if !IsValidFieldType(string(f.FieldType)) {
		return errors.NewInvalidRequestError("unknown field type %q", f.FieldType)
	}

	query := `
		INSERT INTO custom_fields (module, field_name, field_label, field_type, is_read_only, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		f.Module,
		f.FieldName,
		f.FieldLabel,
		f.FieldType,
		f.IsReadOnly,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return errors.Wrapf(errors.ErrConflict, "field %s already exists in %s", f.FieldName, f.Module)
		}
		return errors.Wrapf(err, "create custom field %s.%s", f.Module, f.FieldName)
	}
	return nil
}

// GetField retrieves one custom field.
func (s *Store) GetField(module Module, fieldName string) (*CustomField, error) {
	return getField(s.db, module, fieldName)
}

// GetFieldTx retrieves one custom field inside a transaction.
func (s *Store) GetFieldTx(tx *sql.Tx, module Module, fieldName string) (*CustomField, error) {
	return getField(tx, module, fieldName)
}

// GetFieldTx retrieves one custom field inside a transaction without
// requiring a Store.
func GetFieldTx(tx *sql.Tx, module Module, fieldName string) (*CustomField, error) {
	return getField(tx, module, fieldName)
}

func getField(q DBTX, module Module, fieldName string) (*CustomField, error) {
	query := `
		SELECT module, field_name, field_label, field_type, is_read_only, created_at
		FROM custom_fields
		WHERE module = ? AND field_name = ?
	`

	var f CustomField
	var createdAt string
	err := q.QueryRow(query, module, fieldName).Scan(
		&f.Module,
		&f.FieldName,
		&f.FieldLabel,
		&f.FieldType,
		&f.IsReadOnly,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("custom field %s.%s", module, fieldName)
		}
		return nil, errors.Wrapf(err, "get custom field %s.%s", module, fieldName)
	}

	f.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "parse created_at for field %s.%s", module, fieldName)
	}
	return &f, nil
}

// ListFields returns all custom fields for a module, ordered by name.
func (s *Store) ListFields(module Module) ([]*CustomField, error) {
	query := `
		SELECT module, field_name, field_label, field_type, is_read_only, created_at
		FROM custom_fields
		WHERE module = ?
		ORDER BY field_name ASC
	`

	rows, err := s.db.Query(query, module)
	if err != nil {
		return nil, errors.Wrapf(err, "list custom fields for %s", module)
	}
	defer rows.Close()

	var fields []*CustomField
	for rows.Next() {
		var f CustomField
		var createdAt string
		if err := rows.Scan(&f.Module, &f.FieldName, &f.FieldLabel, &f.FieldType, &f.IsReadOnly, &createdAt); err != nil {
			return nil, err
		}
		f.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, errors.Wrapf(err, "parse created_at for field %s.%s", module, f.FieldName)
		}
		fields = append(fields, &f)
	}

	return fields, rows.Err()
}

// SetFieldReadOnly flips the read-only flag on a custom field. Accepts a
// DBTX so the field-lock coordinator can run it inside the same
// transaction as the definition write it accompanies.
func SetFieldReadOnly(q DBTX, module Module, fieldName string, readOnly bool) error {
	result, err := q.Exec(
		"UPDATE custom_fields SET is_read_only = ? WHERE module = ? AND field_name = ?",
		readOnly, module, fieldName,
	)
	if err != nil {
		return errors.Wrapf(err, "set read-only on %s.%s", module, fieldName)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("custom field %s.%s", module, fieldName)
	}
	return nil
}
