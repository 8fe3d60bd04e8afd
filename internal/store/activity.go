package store

import (
	"context"
	"database/sql"
)

// AppendActivity records one event on the room's append-only feed.
func (s *Store) AppendActivity(ctx context.Context, a *Activity) error {
	now := NowMs()
	if a.Payload == "" {
		a.Payload = "{}"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activity (room_id, worker_id, event_type, summary, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.RoomID, idArg(a.WorkerID), a.EventType, a.Summary, a.Payload, now)
	if err != nil {
		return mapSQLErr(err)
	}
	a.ID, _ = res.LastInsertId()
	a.CreatedAt = now
	return nil
}

// ListActivity returns a room's feed, newest first, optionally only events
// after a known id (for tailing and cloud sync).
func (s *Store) ListActivity(ctx context.Context, roomID, afterID int64, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, worker_id, event_type, summary, payload, created_at
		 FROM activity WHERE room_id = ? AND id > ? ORDER BY id DESC LIMIT ?`,
		roomID, afterID, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListActivitySince returns events across every room after a watermark id,
// oldest first. The cloud sync loop pages through this.
func (s *Store) ListActivitySince(ctx context.Context, afterID int64, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, worker_id, event_type, summary, payload, created_at
		 FROM activity WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanActivity(row interface{ Scan(...any) error }) (*Activity, error) {
	var a Activity
	var worker sql.NullInt64
	if err := row.Scan(&a.ID, &a.RoomID, &worker, &a.EventType, &a.Summary, &a.Payload, &a.CreatedAt); err != nil {
		return nil, mapSQLErr(err)
	}
	a.WorkerID = nullID(worker)
	return &a, nil
}
