// Package sqlitestore implements the eventfold store interfaces on an embedded
// SQLite database, the default durable backend for single-process logs.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open creates a new SQLite database connection with settings suited to a
// single-writer append-only log.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// One connection keeps the single-writer assumption honest and sidesteps
	// SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

const eventsSchema = `
	CREATE TABLE IF NOT EXISTS %s (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		version        INTEGER NOT NULL,
		timestamp      INTEGER NOT NULL,
		user           TEXT NOT NULL DEFAULT '',
		ip             TEXT NOT NULL DEFAULT '',
		cmd            TEXT NOT NULL,
		data           BLOB,
		correlation_id TEXT NOT NULL DEFAULT '',
		causation_id   INTEGER NOT NULL DEFAULT 0,
		meta           BLOB
	);
	CREATE INDEX IF NOT EXISTS %s_by_correlation ON %s (correlation_id);
	CREATE INDEX IF NOT EXISTS %s_by_cmd ON %s (cmd);
	CREATE INDEX IF NOT EXISTS %s_by_causation ON %s (causation_id);`

const pendingSchema = `
	CREATE TABLE IF NOT EXISTS eventfold_pending (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		candidate  BLOB NOT NULL,
		wait_for   BLOB NOT NULL,
		status     INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS eventfold_pending_by_status ON eventfold_pending (status);`

const snapshotsSchema = `
	CREATE TABLE IF NOT EXISTS eventfold_snapshots (
		id         TEXT NOT NULL,
		model_name TEXT NOT NULL,
		event_id   INTEGER NOT NULL,
		state      BLOB NOT NULL,
		meta       BLOB,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (model_name, event_id)
	);`

func createEventsSchema(ctx context.Context, db *sql.DB, table string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(eventsSchema, table, table, table, table, table, table, table))
	if err != nil {
		return fmt.Errorf("create events schema: %w", err)
	}

	return nil
}
