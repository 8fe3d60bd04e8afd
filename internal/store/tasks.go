package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const taskCols = `id, room_id, worker_id, name, prompt, trigger_type, cron_expression, scheduled_at,
	trigger_config, executor, status, run_count, error_count, max_runs, session_continuity,
	session_id, learned_context, timeout_minutes, max_turns, allowed_tools, disallowed_tools,
	webhook_token, last_run_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var worker, scheduled, lastRun sql.NullInt64
	var continuity int
	err := row.Scan(&t.ID, &t.RoomID, &worker, &t.Name, &t.Prompt, &t.TriggerType,
		&t.CronExpression, &scheduled, &t.TriggerConfig, &t.Executor, &t.Status,
		&t.RunCount, &t.ErrorCount, &t.MaxRuns, &continuity, &t.SessionID,
		&t.LearnedContext, &t.TimeoutMinutes, &t.MaxTurns, &t.AllowedTools,
		&t.DisallowedTools, &t.WebhookToken, &lastRun, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.WorkerID = nullID(worker)
	t.ScheduledAt = nullID(scheduled)
	t.LastRunAt = nullID(lastRun)
	t.SessionContinuity = continuity != 0
	return &t, nil
}

// CreateTask inserts a task. Webhook tasks must already carry their token.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	now := NowMs()
	if t.Status == "" {
		t.Status = TaskActive
	}
	if t.TriggerConfig == "" {
		t.TriggerConfig = "{}"
	}
	continuity := 0
	if t.SessionContinuity {
		continuity = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (room_id, worker_id, name, prompt, trigger_type, cron_expression,
		   scheduled_at, trigger_config, executor, status, run_count, error_count, max_runs,
		   session_continuity, session_id, learned_context, timeout_minutes, max_turns,
		   allowed_tools, disallowed_tools, webhook_token, last_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		t.RoomID, idArg(t.WorkerID), t.Name, t.Prompt, t.TriggerType, t.CronExpression,
		idArg(t.ScheduledAt), t.TriggerConfig, t.Executor, t.Status, t.MaxRuns,
		continuity, t.SessionID, t.LearnedContext, t.TimeoutMinutes, t.MaxTurns,
		t.AllowedTools, t.DisallowedTools, t.WebhookToken, now, now)
	if err != nil {
		return mapSQLErr(err)
	}
	t.ID, _ = res.LastInsertId()
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

// GetTask returns the task or (nil, nil).
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return t, nil
}

// GetTaskByWebhookToken resolves the webhook routing token to its task.
func (s *Store) GetTaskByWebhookToken(ctx context.Context, token string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE webhook_token = ? AND webhook_token != ''`, token)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return t, nil
}

// ListTasks returns a room's tasks, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, roomID int64, status string) ([]Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks WHERE room_id = ?`
	args := []any{roomID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id`
	return s.queryTasks(ctx, q, args...)
}

// ListDueCandidates returns active cron and once tasks across all active
// rooms. The scheduler decides which are actually due.
func (s *Store) ListDueCandidates(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskCols+` FROM tasks t
		 JOIN rooms r ON r.id = t.room_id AND r.status = ?
		 WHERE t.status = ? AND t.trigger_type IN (?, ?)
		 ORDER BY t.id`,
		RoomActive, TaskActive, TriggerCron, TriggerOnce)
}

var taskUpdateCols = map[string]string{
	"name":               "name",
	"prompt":             "prompt",
	"worker_id":          "worker_id",
	"cron_expression":    "cron_expression",
	"scheduled_at":       "scheduled_at",
	"trigger_config":     "trigger_config",
	"executor":           "executor",
	"status":             "status",
	"max_runs":           "max_runs",
	"session_continuity": "session_continuity",
	"session_id":         "session_id",
	"learned_context":    "learned_context",
	"timeout_minutes":    "timeout_minutes",
	"max_turns":          "max_turns",
	"allowed_tools":      "allowed_tools",
	"disallowed_tools":   "disallowed_tools",
	"error_count":        "error_count",
}

// UpdateTask applies a partial update. Unknown columns are rejected rather
// than silently dropped.
func (s *Store) UpdateTask(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for k := range updates {
		if _, ok := taskUpdateCols[k]; !ok {
			return errs.New(errs.KindInvalidInput, "unknown task column %q", k)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	var sb strings.Builder
	sb.WriteString(`UPDATE tasks SET `)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		fmt.Fprintf(&sb, "%s = ?, ", c)
		v := updates[c]
		if b, ok := v.(bool); ok {
			if b {
				v = 1
			} else {
				v = 0
			}
		}
		args = append(args, v)
	}
	sb.WriteString(`updated_at = ? WHERE id = ?`)
	args = append(args, NowMs(), id)

	res, err := s.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return mapSQLErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindNotFound, "task %d not found", id)
	}
	return nil
}

// ClaimDueTask stamps last_run_at if and only if the task has not already
// been claimed for the given due instant. Duplicate scheduler passes over
// the same cron minute lose the claim and skip the run.
func (s *Store) ClaimDueTask(ctx context.Context, id int64, dueFloorMs, now int64) (bool, error) {
	var claimed bool
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET last_run_at = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND (last_run_at IS NULL OR last_run_at < ?)`,
			now, now, id, TaskActive, dueFloorMs)
		if err != nil {
			return mapSQLErr(err)
		}
		n, _ := res.RowsAffected()
		claimed = n > 0
		return nil
	})
	return claimed, err
}

// SetTaskSession persists the executor session for continuity tasks.
func (s *Store) SetTaskSession(ctx context.Context, id int64, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, NowMs(), id)
	return mapSQLErr(err)
}

func (s *Store) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeleteTask removes a task and its runs.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return mapSQLErr(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.KindNotFound, "task %d not found", id)
		}
		return nil
	})
}
