package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// CreateRoomBundle creates a room with its Queen worker, root goal, wallet
// row, and birth activity entry in a single transaction. IDs are written
// back into the passed structs. The wallet row arrives pre-built (address +
// encrypted key) so no key material is handled here.
func (s *Store) CreateRoomBundle(ctx context.Context, room *Room, queen *Worker, rootGoal *Goal, wallet *Wallet) error {
	return s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			now := NowMs()
			cfgJSON, err := json.Marshal(room.Config)
			if err != nil {
				return fmt.Errorf("marshal room config: %w", err)
			}

			res, err := tx.ExecContext(ctx,
				`INSERT INTO rooms (name, objective, status, visibility, config, webhook_token, referrer, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				room.Name, room.Objective, RoomActive, room.Visibility,
				string(cfgJSON), room.WebhookToken, room.Referrer, now, now)
			if err != nil {
				return mapSQLErr(err)
			}
			room.ID, _ = res.LastInsertId()
			room.Status = RoomActive
			room.CreatedAt, room.UpdatedAt = now, now

			res, err = tx.ExecContext(ctx,
				`INSERT INTO workers (room_id, name, role, system_prompt, model, is_default, agent_state, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
				room.ID, queen.Name, queen.Role, queen.SystemPrompt, queen.Model, AgentIdle, now, now)
			if err != nil {
				return mapSQLErr(err)
			}
			queen.ID, _ = res.LastInsertId()
			queen.RoomID = &room.ID
			queen.IsDefault = true
			queen.AgentState = AgentIdle

			if _, err := tx.ExecContext(ctx,
				`UPDATE rooms SET queen_worker_id = ? WHERE id = ?`, queen.ID, room.ID); err != nil {
				return mapSQLErr(err)
			}
			room.QueenWorkerID = &queen.ID

			res, err = tx.ExecContext(ctx,
				`INSERT INTO goals (room_id, description, status, progress, created_at, updated_at)
				 VALUES (?, ?, ?, 0, ?, ?)`,
				room.ID, rootGoal.Description, GoalActive, now, now)
			if err != nil {
				return mapSQLErr(err)
			}
			rootGoal.ID, _ = res.LastInsertId()
			rootGoal.RoomID = room.ID
			rootGoal.Status = GoalActive

			res, err = tx.ExecContext(ctx,
				`INSERT INTO wallets (room_id, address, encrypted_key, chain, identity_id, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				room.ID, wallet.Address, wallet.EncryptedKey, wallet.Chain, wallet.IdentityID, now)
			if err != nil {
				return mapSQLErr(err)
			}
			wallet.ID, _ = res.LastInsertId()
			wallet.RoomID = room.ID

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO activity (room_id, worker_id, event_type, summary, payload, created_at)
				 VALUES (?, ?, 'system', ?, '{}', ?)`,
				room.ID, queen.ID, fmt.Sprintf("room %q created", room.Name), now); err != nil {
				return mapSQLErr(err)
			}
			return nil
		})
	})
}

const roomCols = `id, name, objective, status, visibility, queen_worker_id, config, webhook_token, referrer, created_at, updated_at`

func scanRoom(row interface{ Scan(...any) error }) (*Room, error) {
	var r Room
	var queenID sql.NullInt64
	var cfgJSON string
	err := row.Scan(&r.ID, &r.Name, &r.Objective, &r.Status, &r.Visibility,
		&queenID, &cfgJSON, &r.WebhookToken, &r.Referrer, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.QueenWorkerID = nullID(queenID)
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return nil, fmt.Errorf("room %d config: %w", r.ID, err)
	}
	return &r, nil
}

// GetRoom returns the room or (nil, nil) when it does not exist.
func (s *Store) GetRoom(ctx context.Context, id int64) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = ?`, id)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return r, nil
}

// GetRoomByName returns the first room with the given name, or (nil, nil).
func (s *Store) GetRoomByName(ctx context.Context, name string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomCols+` FROM rooms WHERE name = ? ORDER BY id LIMIT 1`, name)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return r, nil
}

// GetRoomByWebhookToken resolves a queen-hook token, or (nil, nil).
func (s *Store) GetRoomByWebhookToken(ctx context.Context, token string) (*Room, error) {
	if token == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+roomCols+` FROM rooms WHERE webhook_token = ?`, token)
	r, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return r, nil
}

// ListRooms returns rooms, optionally filtered by status ("" = all).
func (s *Store) ListRooms(ctx context.Context, status string) ([]Room, error) {
	q := `SELECT ` + roomCols + ` FROM rooms`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpdateRoomStatus sets the room lifecycle status. Setting the current
// status again succeeds (pause is idempotent). Missing room → not_found.
func (s *Store) UpdateRoomStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET status = ?, updated_at = ? WHERE id = ?`, status, NowMs(), id)
	if err != nil {
		return mapSQLErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "room %d not found", id)
	}
	return nil
}

// UpdateRoomConfig replaces the room's config blob.
func (s *Store) UpdateRoomConfig(ctx context.Context, id int64, cfg RoomConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal room config: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET config = ?, updated_at = ? WHERE id = ?`, string(cfgJSON), NowMs(), id)
	if err != nil {
		return mapSQLErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "room %d not found", id)
	}
	return nil
}

// UpdateRoomVisibility flips a room between private and public.
func (s *Store) UpdateRoomVisibility(ctx context.Context, id int64, visibility string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET visibility = ?, updated_at = ? WHERE id = ?`, visibility, NowMs(), id)
	if err != nil {
		return mapSQLErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "room %d not found", id)
	}
	return nil
}

// DeleteRoom removes the room; foreign keys cascade to every owned row.
func (s *Store) DeleteRoom(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
		if err != nil {
			return mapSQLErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.New(errs.KindNotFound, "room %d not found", id)
		}
		return nil
	})
}
