package catalog

import (
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relata/tally/errors"
	tallytest "github.com/relata/tally/internal/testing"
)

func TestCreateAndGetField(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)
	store := NewStore(conn)

	field := &CustomField{
		Module:     ModuleLeads,
		FieldName:  "lead_grade",
		FieldLabel: "Lead Grade",
		FieldType:  FieldTypeText,
	}
	require.NoError(t, store.CreateField(field))

	got, err := store.GetField(ModuleLeads, "lead_grade")
	require.NoError(t, err)
	assert.Equal(t, "Lead Grade", got.FieldLabel)
	assert.Equal(t, FieldTypeText, got.FieldType)
	assert.False(t, got.IsReadOnly)
}

func TestCreateFieldRejectsUnknownType(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)
	store := NewStore(conn)

	err := store.CreateField(&CustomField{
		Module:     ModuleLeads,
		FieldName:  "weird",
		FieldLabel: "Weird",
		FieldType:  "GEOJSON",
	})
	assert.Error(t, err)
}

func TestCreateFieldDuplicateConflict(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)
	store := NewStore(conn)

	field := &CustomField{
		Module:     ModuleLeads,
		FieldName:  "lead_grade",
		FieldLabel: "Lead Grade",
		FieldType:  FieldTypeText,
	}
	require.NoError(t, store.CreateField(field))

	err := store.CreateField(field)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestGetFieldNotFound(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)
	store := NewStore(conn)

	_, err := store.GetField(ModuleLeads, "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListFieldsByModule(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)
	store := NewStore(conn)

	require.NoError(t, store.CreateField(&CustomField{
		Module: ModuleLeads, FieldName: "b_field", FieldLabel: "B", FieldType: FieldTypeNumber,
	}))
	require.NoError(t, store.CreateField(&CustomField{
		Module: ModuleLeads, FieldName: "a_field", FieldLabel: "A", FieldType: FieldTypeText,
	}))
	require.NoError(t, store.CreateField(&CustomField{
		Module: ModuleAccounts, FieldName: "c_field", FieldLabel: "C", FieldType: FieldTypeText,
	}))

	fields, err := store.ListFields(ModuleLeads)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "a_field", fields[0].FieldName)
	assert.Equal(t, "b_field", fields[1].FieldName)
}

func TestSetFieldReadOnly(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)
	store := NewStore(conn)

	require.NoError(t, store.CreateField(&CustomField{
		Module: ModuleLeads, FieldName: "grade", FieldLabel: "Grade", FieldType: FieldTypeText,
	}))

	require.NoError(t, SetFieldReadOnly(conn, ModuleLeads, "grade", true))
	got, err := store.GetField(ModuleLeads, "grade")
	require.NoError(t, err)
	assert.True(t, got.IsReadOnly)

	require.NoError(t, SetFieldReadOnly(conn, ModuleLeads, "grade", false))
	got, err = store.GetField(ModuleLeads, "grade")
	require.NoError(t, err)
	assert.False(t, got.IsReadOnly)
}

func TestSetFieldReadOnlyMissingField(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)

	err := SetFieldReadOnly(conn, ModuleLeads, "ghost", true)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSetFieldReadOnlyInsideTransaction(t *testing.T) {
	conn := tallytest.CreateMigratedTestDB(t)
	store := NewStore(conn)

	require.NoError(t, store.CreateField(&CustomField{
		Module: ModuleLeads, FieldName: "grade", FieldLabel: "Grade", FieldType: FieldTypeText,
	}))

	// Rolled-back transaction leaves the flag untouched
	tx, err := conn.Begin()
	require.NoError(t, err)
	require.NoError(t, SetFieldReadOnly(tx, ModuleLeads, "grade", true))
	require.NoError(t, tx.Rollback())

	got, err := store.GetField(ModuleLeads, "grade")
	require.NoError(t, err)
	assert.False(t, got.IsReadOnly)
}
