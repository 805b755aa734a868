package engine

import (
	"database/sql"

	"github.com/relata/tally/catalog"
	"github.com/relata/tally/errors"
)

// The field-lock coordinator keeps one invariant: a custom field's
// read-only flag is true iff at least one active formula targets it.
// Both sides run inside the transaction carrying the definition write,
// so a crash between statements cannot leave the flag and the
// definitions table disagreeing.

// lockTarget marks a target custom field read-only. Fails with
// ErrLockConflict when the field is already claimed by another active
// formula, before anything is written.
func lockTarget(tx *sql.Tx, module catalog.Module, fieldName string) error {
	field, err := catalog.GetFieldTx(tx, module, fieldName)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.NewNotFoundError("target field %s does not exist in module %s", fieldName, module)
		}
		return err
	}
	if field.IsReadOnly {
		return errors.Wrapf(errors.ErrLockConflict,
			"field %s in module %s is already the target of an active formula", fieldName, module)
	}
	return catalog.SetFieldReadOnly(tx, module, fieldName, true)
}

// releaseTarget unlocks a target custom field, but only when no other
// active formula in the module still targets it. excludeID is the
// definition being removed or deactivated.
func releaseTarget(tx *sql.Tx, module catalog.Module, fieldName, excludeID string) error {
	n, err := countActiveTargeting(tx, module, fieldName, excludeID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	err = catalog.SetFieldReadOnly(tx, module, fieldName, false)
	if errors.IsNotFoundError(err) {
		// Target field deleted out from under the definition; nothing to
		// unlock.
		return nil
	}
	return err
}
