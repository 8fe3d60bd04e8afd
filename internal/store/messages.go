package store

import (
	"context"
	"database/sql"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const messageCols = `id, room_id, from_worker_id, to_worker_id, sender, content, read_at, created_at`

// Sender labels. Worker-to-worker mail leaves sender empty; external
// origins and keeper-bound mail carry a label so inbox queries can route.
const (
	SenderKeeper   = "keeper"    // inbound from the human keeper
	SenderWebhook  = "webhook"   // inbound from a queen webhook
	SenderCloud    = "cloud"     // inbound from the cloud relay
	SenderToKeeper = "to:keeper" // outbound, addressed to the keeper
)

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var from, to, readAt sql.NullInt64
	err := row.Scan(&m.ID, &m.RoomID, &from, &to, &m.Sender, &m.Content, &readAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.FromWorkerID = nullID(from)
	m.ToWorkerID = nullID(to)
	m.ReadAt = nullID(readAt)
	return &m, nil
}

// CreateMessage posts to a room's message board. A nil ToWorkerID is a
// broadcast every worker sees.
func (s *Store) CreateMessage(ctx context.Context, m *Message) error {
	if m.Content == "" {
		return errs.New(errs.KindInvalidInput, "message content is empty")
	}
	now := NowMs()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, from_worker_id, to_worker_id, sender, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.RoomID, idArg(m.FromWorkerID), idArg(m.ToWorkerID), m.Sender, m.Content, now)
	if err != nil {
		return mapSQLErr(err)
	}
	m.ID, _ = res.LastInsertId()
	m.CreatedAt = now
	return nil
}

// ListUnreadForWorker returns unread messages addressed to the worker or
// broadcast to its room, oldest first. Keeper-bound mail never lands in a
// worker inbox.
func (s *Store) ListUnreadForWorker(ctx context.Context, roomID, workerID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE room_id = ? AND read_at IS NULL
		   AND (to_worker_id = ? OR to_worker_id IS NULL)
		   AND (from_worker_id IS NULL OR from_worker_id != ?)
		   AND sender != ?
		 ORDER BY id LIMIT ?`,
		roomID, workerID, workerID, SenderToKeeper, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkMessagesRead stamps read_at on the given messages.
func (s *Store) MarkMessagesRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := NowMs()
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL`, now, id); err != nil {
			return mapSQLErr(err)
		}
	}
	return nil
}

// ListMessages returns a room's recent board history, newest first.
func (s *Store) ListMessages(ctx context.Context, roomID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE room_id = ? ORDER BY id DESC LIMIT ?`,
		roomID, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
