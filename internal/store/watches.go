package store

import (
	"context"
	"database/sql"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const watchCols = `id, room_id, path, action_prompt, description, status, trigger_count,
	last_triggered_at, created_at, updated_at`

func scanWatch(row interface{ Scan(...any) error }) (*Watch, error) {
	var w Watch
	var last sql.NullInt64
	err := row.Scan(&w.ID, &w.RoomID, &w.Path, &w.ActionPrompt, &w.Description,
		&w.Status, &w.TriggerCount, &last, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.LastTriggeredAt = nullID(last)
	return &w, nil
}

// CreateWatch registers a filesystem watch for a room.
func (s *Store) CreateWatch(ctx context.Context, w *Watch) error {
	now := NowMs()
	if w.Status == "" {
		w.Status = WatchActive
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watches (room_id, path, action_prompt, description, status, trigger_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		w.RoomID, w.Path, w.ActionPrompt, w.Description, w.Status, now, now)
	if err != nil {
		return mapSQLErr(err)
	}
	w.ID, _ = res.LastInsertId()
	w.CreatedAt, w.UpdatedAt = now, now
	return nil
}

// GetWatch returns the watch or (nil, nil).
func (s *Store) GetWatch(ctx context.Context, id int64) (*Watch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+watchCols+` FROM watches WHERE id = ?`, id)
	w, err := scanWatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return w, nil
}

// ListWatches returns a room's watches, or every active watch when roomID
// is zero (the watcher reconciles against this at startup).
func (s *Store) ListWatches(ctx context.Context, roomID int64, status string) ([]Watch, error) {
	q := `SELECT ` + watchCols + ` FROM watches WHERE 1=1`
	var args []any
	if roomID != 0 {
		q += ` AND room_id = ?`
		args = append(args, roomID)
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// SetWatchStatus pauses or resumes a watch.
func (s *Store) SetWatchStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watches SET status = ?, updated_at = ? WHERE id = ?`, status, NowMs(), id)
	if err != nil {
		return mapSQLErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindNotFound, "watch %d not found", id)
	}
	return nil
}

// TouchWatch bumps the trigger counter after a debounced fire.
func (s *Store) TouchWatch(ctx context.Context, id int64) error {
	now := NowMs()
	_, err := s.db.ExecContext(ctx,
		`UPDATE watches SET trigger_count = trigger_count + 1, last_triggered_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id)
	return mapSQLErr(err)
}

// DeleteWatch removes a watch.
func (s *Store) DeleteWatch(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watches WHERE id = ?`, id)
	if err != nil {
		return mapSQLErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindNotFound, "watch %d not found", id)
	}
	return nil
}
