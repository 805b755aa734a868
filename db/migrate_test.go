package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateFreshDatabase(t *testing.T) {
	conn := openMemoryDB(t)

	err := Migrate(conn, nil)
	require.NoError(t, err)

	// All expected tables exist
	tables := []string{
		"schema_migrations",
		"records", "record_values", "activities", "products", "custom_fields",
		"formula_definitions", "scheduled_formula_jobs", "formula_executions",
	}
	for _, table := range tables {
		var name string
		err := conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	conn := openMemoryDB(t)

	require.NoError(t, Migrate(conn, nil))
	require.NoError(t, Migrate(conn, nil))

	var count int
	err := conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestModuleCheckConstraint(t *testing.T) {
	conn := openMemoryDB(t)
	require.NoError(t, Migrate(conn, nil))

	_, err := conn.Exec(
		"INSERT INTO records (id, module, created_at, updated_at) VALUES (?, ?, ?, ?)",
		"rec1", "campaigns", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z",
	)
	assert.Error(t, err)
}
