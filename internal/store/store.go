// Package store owns the engine's persistent state: a single SQLite database
// in WAL mode with FTS5, versioned migrations, and typed accessors per
// entity. All multi-row writes run inside one transaction.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// Store wraps the database handle. One Store per process; SQLite is opened
// with a single connection so every write is serialized.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path, applies pragmas and
// pending migrations, and returns the ready store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errs.New(errs.KindInvalidInput, "database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := "file:" + url.PathEscape(path) +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// DB exposes the raw handle for diagnostics (doctor command, tests).
func (s *Store) DB() *sql.DB { return s.db }

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLErr(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLErr(err)
	}
	return nil
}

// withRetry re-runs fn on write contention, up to 3 attempts with jittered
// backoff, then surfaces the conflict.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = fn()
		if err == nil || !errs.IsKind(err, errs.KindConflict) {
			return err
		}
		delay := time.Duration(20+rand.Intn(60)) * time.Millisecond << attempt
		slog.Debug("store.write_conflict", "attempt", attempt+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// mapSQLErr converts driver errors into engine error kinds. Missing rows are
// handled by callers (nil result, no error) and never reach here.
func mapSQLErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return errs.Wrap(errs.KindAlreadyExists, err, "row already exists")
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return errs.Wrap(errs.KindInvalidInput, err, "referenced row missing")
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return errs.Wrap(errs.KindConflict, err, "database busy")
	}
	return errs.Wrap(errs.KindInternal, err, "store")
}

// RecoverStartup finalizes state left over from a previous process: runs
// still marked running fail with reason "process restart", and workers stuck
// in a non-idle agent state reset to idle.
func (s *Store) RecoverStartup(ctx context.Context) error {
	now := NowMs()
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_runs
		 SET status = ?, error_message = 'process restart',
		     finished_at = ?, duration_ms = CASE WHEN started_at IS NULL THEN 0 ELSE ? - started_at END
		 WHERE status IN (?, ?)`,
		RunFailed, now, now, RunRunning, RunQueued)
	if err != nil {
		return mapSQLErr(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("store.recovered_stale_runs", "count", n)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE workers SET agent_state = ? WHERE agent_state != ?`,
		AgentIdle, AgentIdle); err != nil {
		return mapSQLErr(err)
	}
	return nil
}

// scanMs reads a nullable ms timestamp column.
func scanMs(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// nullID reads a nullable integer foreign key.
func nullID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// idArg converts a nullable id back into a driver argument.
func idArg(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
