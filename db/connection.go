package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/relata/tally/errors"
	"github.com/relata/tally/logger"
)

// startupPragmas tune the connection for tally's access pattern:
// mostly reads, with short recompute write bursts.
var startupPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// Open opens the SQLite database at path and applies the startup
// pragmas. A nil log keeps the connection silent; tests open their
// throwaway databases that way.
func Open(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	if log != nil {
		log = logger.AddDBSymbol(log)
		log.Debugw("Opening database", "path", path)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}
	for _, pragma := range startupPragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "apply %q", pragma)
		}
	}

	if log != nil {
		log.Infow("Database opened", "path", path)
	}
	return conn, nil
}
