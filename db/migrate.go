package db

import (
	"database/sql"
	"embed"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/relata/tally/errors"
	"github.com/relata/tally/logger"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// Migrate applies pending migrations in filename order. Each migration
// runs in its own transaction and records its version row inside that
// transaction, so a failed migration leaves no partial state behind.
// A nil log applies migrations silently.
func Migrate(conn *sql.DB, log *zap.SugaredLogger) error {
	if log != nil {
		log = logger.AddDBSymbol(log)
	}

	files, err := listMigrationFiles()
	if err != nil {
		return err
	}

	applied := 0
	for _, filename := range files {
		version := strings.SplitN(filename, "_", 2)[0]

		done, err := migrationApplied(conn, version)
		if err != nil {
			// schema_migrations does not exist until 000 creates it.
			if version != "000" {
				return errors.Wrapf(err, "check migration %s", filename)
			}
		} else if done {
			continue
		}

		if log != nil {
			log.Infow("Applying migration", "migration", filename)
		}
		if err := applyMigration(conn, filename, version); err != nil {
			return err
		}
		applied++
	}

	if log != nil {
		log.Infow("Migrations complete", logger.FieldCount, applied)
	}
	return nil
}

func listMigrationFiles() ([]string, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func migrationApplied(conn *sql.DB, version string) (bool, error) {
	var exists bool
	err := conn.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).
		Scan(&exists)
	return exists, err
}

func applyMigration(conn *sql.DB, filename, version string) error {
	script, err := migrations.ReadFile(filepath.Join(migrationsDir, filename))
	if err != nil {
		return errors.Wrapf(err, "read %s", filename)
	}

	tx, err := conn.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", filename)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(script)); err != nil {
		return errors.Wrapf(err, "execute %s", filename)
	}
	// 000 creates schema_migrations, then records itself.
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return errors.Wrapf(err, "record %s", filename)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", filename)
}
