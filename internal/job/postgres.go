package job

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name:       "postgres",
	numbered:   true,
	skipLocked: " FOR UPDATE SKIP LOCKED",
	schema: `
		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			payload      TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'queued',
			error        TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			callback_url TEXT NOT NULL DEFAULT '',
			created_at   BIGINT NOT NULL,
			updated_at   BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_updated_at ON jobs(status, updated_at);
		CREATE TABLE IF NOT EXISTS job_queue (
			seq          BIGSERIAL PRIMARY KEY,
			job_id       TEXT NOT NULL,
			available_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS results (
			key        TEXT PRIMARY KEY,
			position   BIGINT NOT NULL,
			value      BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS dead_letters (
			job_id     TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			reason     TEXT NOT NULL,
			attempts   INTEGER NOT NULL,
			created_at BIGINT NOT NULL
		);
	`,
}

// NewPostgresStore connects to PostgreSQL and runs migrations. Concurrent
// workers pop with FOR UPDATE SKIP LOCKED, so they never wait on each other's row.
func NewPostgresStore(dsn string, maxOpenConns int) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := newSQLStore(db, postgresDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
