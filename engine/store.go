package engine

import (
	"database/sql"
	"time"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/errors"
	"github.com/relata/tally/pulse/schedule"
)

// Store persists formula definitions. Writes that must travel with a
// lock update take the caller's transaction.
type Store struct {
	db *sql.DB
}

// NewStore creates a definition store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func insertDefinition(q catalog.DBTX, def *FormulaDefinition) error {
	var target sql.NullString
	if def.TargetFieldName != nil {
		target = sql.NullString{String: *def.TargetFieldName, Valid: true}
	}
	_, err := q.Exec(`
		INSERT INTO formula_definitions
			(id, module, field_name, field_label, return_type, formula_expression,
			 description, update_schedule, target_field_name, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID,
		string(def.Module),
		def.FieldName,
		def.FieldLabel,
		string(def.ReturnType),
		def.Expression,
		def.Description,
		string(def.UpdateSchedule),
		target,
		def.IsActive,
		def.CreatedAt.Format(time.RFC3339),
		def.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return errors.Wrapf(err, "failed to insert formula definition %s", def.FieldName)
	}
	return nil
}

func updateDefinition(q catalog.DBTX, def *FormulaDefinition) error {
	var target sql.NullString
	if def.TargetFieldName != nil {
		target = sql.NullString{String: *def.TargetFieldName, Valid: true}
	}
	result, err := q.Exec(`
		UPDATE formula_definitions
		SET field_label = ?, formula_expression = ?, description = ?,
		    update_schedule = ?, target_field_name = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		def.FieldLabel,
		def.Expression,
		def.Description,
		string(def.UpdateSchedule),
		target,
		def.IsActive,
		time.Now().UTC().Format(time.RFC3339),
		def.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update formula definition %s", def.ID)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("formula definition %s not found", def.ID)
	}
	return nil
}

func deleteDefinition(q catalog.DBTX, id string) error {
	result, err := q.Exec(`DELETE FROM formula_definitions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete formula definition %s", id)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("formula definition %s not found", id)
	}
	return nil
}

const definitionColumns = `id, module, field_name, field_label, return_type, formula_expression,
	description, update_schedule, target_field_name, is_active, created_at, updated_at`

// GetDefinition loads a definition by id.
func (s *Store) GetDefinition(id string) (*FormulaDefinition, error) {
	row := s.db.QueryRow(`
		SELECT `+definitionColumns+`
		FROM formula_definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("formula definition %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query formula definition")
	}
	return def, nil
}

// ListDefinitions returns definitions, optionally filtered to one module.
func (s *Store) ListDefinitions(module *catalog.Module) ([]*FormulaDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM formula_definitions`
	var args []interface{}
	if module != nil {
		query += ` WHERE module = ?`
		args = append(args, string(*module))
	}
	query += ` ORDER BY module, field_name`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list formula definitions")
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// ListActiveDefinitions returns the active definitions for a module.
func (s *Store) ListActiveDefinitions(module catalog.Module) ([]*FormulaDefinition, error) {
	rows, err := s.db.Query(`
		SELECT `+definitionColumns+`
		FROM formula_definitions
		WHERE module = ? AND is_active = 1
		ORDER BY field_name`, string(module))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active formula definitions")
	}
	defer rows.Close()
	return scanDefinitions(rows)
}

// countActiveTargeting counts active definitions in a module whose target
// is fieldName, excluding one definition id. The lock coordinator uses it
// to decide whether an unlock is safe.
func countActiveTargeting(q catalog.DBTX, module catalog.Module, fieldName, excludeID string) (int, error) {
	var n int
	err := q.QueryRow(`
		SELECT COUNT(*) FROM formula_definitions
		WHERE module = ? AND target_field_name = ? AND is_active = 1 AND id != ?`,
		string(module), fieldName, excludeID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count formulas targeting field")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(r rowScanner) (*FormulaDefinition, error) {
	var def FormulaDefinition
	var module, returnType, cadence, createdAt, updatedAt string
	var description, target sql.NullString

	err := r.Scan(&def.ID, &module, &def.FieldName, &def.FieldLabel, &returnType,
		&def.Expression, &description, &cadence, &target, &def.IsActive,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	def.Module = catalog.Module(module)
	def.ReturnType = catalog.FieldType(returnType)
	def.UpdateSchedule = schedule.Cadence(cadence)
	if description.Valid {
		def.Description = description.String
	}
	if target.Valid {
		def.TargetFieldName = &target.String
	}
	def.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	def.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &def, nil
}

func scanDefinitions(rows *sql.Rows) ([]*FormulaDefinition, error) {
	var defs []*FormulaDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan formula definition")
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}
