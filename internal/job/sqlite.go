package job

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			payload      TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'queued',
			error        TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			callback_url TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_updated_at ON jobs(status, updated_at);
		CREATE TABLE IF NOT EXISTS job_queue (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id       TEXT NOT NULL,
			available_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS results (
			key        TEXT PRIMARY KEY,
			position   INTEGER NOT NULL,
			value      INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS dead_letters (
			job_id     TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			reason     TEXT NOT NULL,
			attempts   INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
	`,
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
// An in-memory database lives on a single connection, so the pool is pinned to one.
func NewSQLiteStore(dbPath string, maxOpenConns int) (*SQLStore, error) {
	dsn := dbPath
	if dbPath == ":memory:" {
		maxOpenConns = 1
	} else {
		// Writers take the lock at BEGIN and wait for each other instead of failing.
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	// WAL mode for better concurrent read performance.
	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s, err := newSQLStore(db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
