package store

import (
	"context"
	"database/sql"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const runCols = `id, task_id, correlation_id, status, started_at, finished_at, duration_ms,
	exit_code, result, error_message, result_file, progress, progress_message, session_id,
	trigger, created_at`

func scanRun(row interface{ Scan(...any) error }) (*TaskRun, error) {
	var r TaskRun
	var started, finished, duration, exit sql.NullInt64
	err := row.Scan(&r.ID, &r.TaskID, &r.CorrelationID, &r.Status, &started, &finished,
		&duration, &exit, &r.Result, &r.ErrorMessage, &r.ResultFile, &r.Progress,
		&r.ProgressMessage, &r.SessionID, &r.Trigger, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.StartedAt = nullID(started)
	r.FinishedAt = nullID(finished)
	r.DurationMs = nullID(duration)
	r.ExitCode = nullID(exit)
	return &r, nil
}

// CreateRun enqueues a run for a task.
func (s *Store) CreateRun(ctx context.Context, r *TaskRun) error {
	now := NowMs()
	if r.Status == "" {
		r.Status = RunQueued
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs (task_id, correlation_id, status, trigger, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.TaskID, r.CorrelationID, r.Status, r.Trigger, now)
	if err != nil {
		return mapSQLErr(err)
	}
	r.ID, _ = res.LastInsertId()
	r.CreatedAt = now
	return nil
}

// GetRun returns the run or (nil, nil).
func (s *Store) GetRun(ctx context.Context, id int64) (*TaskRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runCols+` FROM task_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return r, nil
}

// MarkRunRunning flips queued -> running and stamps started_at. Losing the
// race (a canceled run, for instance) returns invalid_state.
func (s *Store) MarkRunRunning(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		RunRunning, NowMs(), id, RunQueued)
	if err != nil {
		return mapSQLErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindInvalidState, "run %d is not queued", id)
	}
	return nil
}

// SetRunProgress updates the in-flight progress gauge.
func (s *Store) SetRunProgress(ctx context.Context, id int64, progress float64, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_runs SET progress = ?, progress_message = ? WHERE id = ? AND status = ?`,
		progress, message, id, RunRunning)
	return mapSQLErr(err)
}

// RunOutcome carries everything FinalizeRun writes in its one transaction.
type RunOutcome struct {
	Status       string // completed, failed, timed_out, cancelled
	ExitCode     *int64
	Result       string
	ErrorMessage string
	ResultFile   string
	SessionID    string
	ErrorCap     int64 // pause the task at this many consecutive failures
}

// FinalizeRun closes a run and settles the owning task in the same
// transaction: successes bump run_count and reset error_count, failures bump
// error_count (pausing the task at the cap), and a task that reached its
// max_runs completes. Returns the finished run.
func (s *Store) FinalizeRun(ctx context.Context, id int64, out RunOutcome) (*TaskRun, error) {
	if !RunTerminal(out.Status) {
		return nil, errs.New(errs.KindInvalidInput, "status %q is not terminal", out.Status)
	}
	var finished *TaskRun
	err := s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			r, err := getRunTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if r == nil {
				return errs.New(errs.KindNotFound, "run %d not found", id)
			}
			if RunTerminal(r.Status) {
				return errs.New(errs.KindInvalidState, "run %d already %s", id, r.Status)
			}

			now := NowMs()
			var duration int64
			if r.StartedAt != nil {
				duration = now - *r.StartedAt
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE task_runs SET status = ?, finished_at = ?, duration_ms = ?, exit_code = ?,
				   result = ?, error_message = ?, result_file = ?, session_id = ?
				 WHERE id = ?`,
				out.Status, now, duration, idArg(out.ExitCode), out.Result,
				out.ErrorMessage, out.ResultFile, out.SessionID, id); err != nil {
				return mapSQLErr(err)
			}

			t, err := getTaskTx(ctx, tx, r.TaskID)
			if err != nil {
				return err
			}
			if t != nil {
				switch out.Status {
				case RunCompleted:
					t.RunCount++
					t.ErrorCount = 0
					if t.MaxRuns > 0 && t.RunCount >= t.MaxRuns {
						t.Status = TaskCompleted
					}
				case RunFailed, RunTimedOut:
					t.ErrorCount++
					if out.ErrorCap > 0 && t.ErrorCount >= out.ErrorCap && t.Status == TaskActive {
						t.Status = TaskPaused
					}
				}
				if t.TriggerType == TriggerOnce && out.Status == RunCompleted {
					t.Status = TaskCompleted
				}
				sessionID := t.SessionID
				if t.SessionContinuity && out.SessionID != "" {
					sessionID = out.SessionID
				}
				if _, err := tx.ExecContext(ctx,
					`UPDATE tasks SET run_count = ?, error_count = ?, status = ?, session_id = ?, updated_at = ?
					 WHERE id = ?`,
					t.RunCount, t.ErrorCount, t.Status, sessionID, now, t.ID); err != nil {
					return mapSQLErr(err)
				}
			}

			finished, err = getRunTx(ctx, tx, id)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return finished, nil
}

// ListRuns returns a task's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, taskID int64, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRuns(ctx,
		`SELECT `+runCols+` FROM task_runs WHERE task_id = ? ORDER BY id DESC LIMIT ?`,
		taskID, limit)
}

// ListRecentRuns returns recent terminal runs across a room for summaries.
func (s *Store) ListRecentRuns(ctx context.Context, roomID int64, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryRuns(ctx,
		`SELECT `+runColsPrefixed+` FROM task_runs tr
		 JOIN tasks t ON t.id = tr.task_id
		 WHERE t.room_id = ? AND tr.status IN (?, ?, ?, ?)
		 ORDER BY tr.id DESC LIMIT ?`,
		roomID, RunCompleted, RunFailed, RunTimedOut, RunCancelled, limit)
}

const runColsPrefixed = `tr.id, tr.task_id, tr.correlation_id, tr.status, tr.started_at,
	tr.finished_at, tr.duration_ms, tr.exit_code, tr.result, tr.error_message, tr.result_file,
	tr.progress, tr.progress_message, tr.session_id, tr.trigger, tr.created_at`

// CountActiveRuns reports how many runs are queued or running in the room,
// for the concurrency gate and status output.
func (s *Store) CountActiveRuns(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM task_runs tr JOIN tasks t ON t.id = tr.task_id
		 WHERE t.room_id = ? AND tr.status IN (?, ?)`,
		roomID, RunQueued, RunRunning).Scan(&n)
	if err != nil {
		return 0, mapSQLErr(err)
	}
	return n, nil
}

func (s *Store) queryRuns(ctx context.Context, q string, args ...any) ([]TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []TaskRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// AppendConsoleLog appends one entry to a run's console stream, sequenced
// inside a transaction so concurrent writers never collide.
func (s *Store) AppendConsoleLog(ctx context.Context, runID int64, entryType, content string) error {
	return s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var seq int64
			err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq), 0) + 1 FROM console_logs WHERE run_id = ?`, runID).Scan(&seq)
			if err != nil {
				return mapSQLErr(err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO console_logs (run_id, seq, entry_type, content, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				runID, seq, entryType, content, NowMs())
			return mapSQLErr(err)
		})
	})
}

// ListConsoleLogs returns a run's console entries in sequence order,
// optionally only those after a known seq (for tailing).
func (s *Store) ListConsoleLogs(ctx context.Context, runID, afterSeq int64) ([]ConsoleLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, entry_type, content, created_at
		 FROM console_logs WHERE run_id = ? AND seq > ? ORDER BY seq`, runID, afterSeq)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []ConsoleLog
	for rows.Next() {
		var c ConsoleLog
		if err := rows.Scan(&c.ID, &c.RunID, &c.Seq, &c.EntryType, &c.Content, &c.CreatedAt); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func getRunTx(ctx context.Context, tx *sql.Tx, id int64) (*TaskRun, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+runCols+` FROM task_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return r, nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, id int64) (*Task, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return t, nil
}
