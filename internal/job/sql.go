package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect carries the few places SQLite and PostgreSQL disagree.
type dialect struct {
	name string
	// numbered switches ? placeholders to $1, $2, ...
	numbered bool
	// skipLocked is appended to the row-selecting subquery of Dequeue.
	skipLocked string
	schema     string
}

func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// SQLStore implements Store on database/sql. The *sql.DB pool is the only
// connection handling: operations borrow a connection and return it when done.
type SQLStore struct {
	db             *sql.DB
	d              dialect
	maxQueueLength int64
	now            func() time.Time
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d, now: time.Now}
	if _, err := db.Exec(d.schema); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", d.name, err)
	}
	return s, nil
}

// Open returns a store for driver "sqlite" (dsn is a file path) or
// "postgres" (dsn is a connection URL).
func Open(driver, dsn string, maxOpenConns int) (*SQLStore, error) {
	switch driver {
	case "sqlite":
		return NewSQLiteStore(dsn, maxOpenConns)
	case "postgres":
		return NewPostgresStore(dsn, maxOpenConns)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

// SetMaxQueueLength bounds the queue; Enqueue fails with ErrQueueFull once
// the bound is reached. Zero means unbounded.
func (s *SQLStore) SetMaxQueueLength(n int64) {
	s.maxQueueLength = n
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func (s *SQLStore) Enqueue(ctx context.Context, j *Job) (int64, error) {
	now := s.now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	j.Status = StatusQueued

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin enqueue", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var length int64
	if s.maxQueueLength > 0 {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_queue`).Scan(&length); err != nil {
			return 0, unavailable("count queue", err)
		}
		if length >= s.maxQueueLength {
			return 0, fmt.Errorf("%w: %d jobs waiting", ErrQueueFull, length)
		}
	}

	_, err = tx.ExecContext(ctx, s.d.rebind(`
		INSERT INTO jobs (id, payload, status, error, attempts, callback_url, created_at, updated_at)
		VALUES (?, ?, ?, '', ?, ?, ?, ?)
	`), j.ID, j.Payload, StatusQueued, j.Attempts, j.CallbackURL, j.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, unavailable("insert job "+j.ID, err)
	}

	_, err = tx.ExecContext(ctx, s.d.rebind(`INSERT INTO job_queue (job_id, available_at) VALUES (?, ?)`), j.ID, now.UnixMilli())
	if err != nil {
		return 0, unavailable("push job "+j.ID, err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_queue`).Scan(&length); err != nil {
		return 0, unavailable("count queue", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit enqueue", err)
	}
	return length, nil
}

func (s *SQLStore) Dequeue(ctx context.Context) (*Job, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin dequeue", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var id string
	err = tx.QueryRowContext(ctx, s.d.rebind(`
		DELETE FROM job_queue
		WHERE seq = (
			SELECT seq FROM job_queue
			WHERE available_at <= ?
			ORDER BY seq
			LIMIT 1`+s.d.skipLocked+`
		)
		RETURNING job_id
	`), now.UnixMilli()).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("pop queue", err)
	}

	row := tx.QueryRowContext(ctx, s.d.rebind(`
		UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ?
		RETURNING id, payload, status, error, attempts, callback_url, created_at, updated_at
	`), StatusComputing, now.UnixMilli(), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Receipt is gone; the entry is still consumed and parses as invalid.
		j = &Job{ID: id, Status: StatusComputing, CreatedAt: now, UpdatedAt: now, Attempts: 1}
	} else if err != nil {
		return nil, unavailable("mark computing "+id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit dequeue", err)
	}
	return j, nil
}

func (s *SQLStore) Requeue(ctx context.Context, j *Job, delay time.Duration) error {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin requeue", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, s.d.rebind(`
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`), StatusQueued, j.Error, now.UnixMilli(), j.ID)
	if err != nil {
		return unavailable("requeue job "+j.ID, err)
	}
	_, err = tx.ExecContext(ctx, s.d.rebind(`INSERT INTO job_queue (job_id, available_at) VALUES (?, ?)`),
		j.ID, now.Add(delay).UnixMilli())
	if err != nil {
		return unavailable("push job "+j.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit requeue", err)
	}
	j.Status = StatusQueued
	j.UpdatedAt = now
	return nil
}

func (s *SQLStore) QueueLength(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_queue`).Scan(&n); err != nil {
		return 0, unavailable("count queue", err)
	}
	return n, nil
}

func (s *SQLStore) PutResult(ctx context.Context, position, value int64) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		INSERT INTO results (key, position, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`), ResultKey(position), position, value, s.now().UTC().UnixMilli())
	if err != nil {
		return unavailable("put result "+ResultKey(position), err)
	}
	return nil
}

func (s *SQLStore) GetResult(ctx context.Context, position int64) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT value FROM results WHERE key = ?`), ResultKey(position)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("get result "+ResultKey(position), err)
	}
	return v, true, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(`
		SELECT id, payload, status, error, attempts, callback_url, created_at, updated_at
		FROM jobs WHERE id = ?
	`), id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get job "+id, err)
	}
	return j, nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(`
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`), status, errMsg, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return unavailable("update status for job "+id, err)
	}
	return nil
}

func (s *SQLStore) DeadLetter(ctx context.Context, j *Job, reason string) error {
	now := s.now().UTC().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin dead letter", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, s.d.rebind(`
		INSERT INTO dead_letters (job_id, payload, reason, attempts, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET reason = excluded.reason, attempts = excluded.attempts, created_at = excluded.created_at
	`), j.ID, j.Payload, reason, j.Attempts, now)
	if err != nil {
		return unavailable("dead letter job "+j.ID, err)
	}
	_, err = tx.ExecContext(ctx, s.d.rebind(`
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`), StatusDeadLettered, reason, now, j.ID)
	if err != nil {
		return unavailable("update status for job "+j.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit dead letter", err)
	}
	return nil
}

// ListDeadLetters returns the newest dead letters first.
func (s *SQLStore) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT job_id, payload, reason, attempts, created_at
		FROM dead_letters
		ORDER BY created_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, unavailable("list dead letters", err)
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		dl := &DeadLetter{}
		var created int64
		if err := rows.Scan(&dl.JobID, &dl.Payload, &dl.Reason, &dl.Attempts, &created); err != nil {
			return nil, unavailable("scan dead letter", err)
		}
		dl.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate dead letters", err)
	}
	return out, nil
}

func (s *SQLStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	args := make([]any, 0, len(terminalStatuses)+1)
	marks := make([]string, 0, len(terminalStatuses))
	for _, st := range terminalStatuses {
		args = append(args, st)
		marks = append(marks, "?")
	}
	args = append(args, before.UTC().UnixMilli())

	res, err := s.db.ExecContext(ctx, s.d.rebind(`
		DELETE FROM jobs
		WHERE status IN (`+strings.Join(marks, ", ")+`)
		AND updated_at < ?
	`), args...)
	if err != nil {
		return 0, unavailable("delete terminal jobs", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var created, updated int64
	if err := row.Scan(&j.ID, &j.Payload, &j.Status, &j.Error, &j.Attempts, &j.CallbackURL, &created, &updated); err != nil {
		return nil, err
	}
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return j, nil
}
