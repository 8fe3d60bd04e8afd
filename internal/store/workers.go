package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const workerCols = `id, room_id, name, role, system_prompt, model, is_default, agent_state, cycle_gap_ms, max_turns, wip, votes_cast, votes_won, created_at, updated_at`

func scanWorker(row interface{ Scan(...any) error }) (*Worker, error) {
	var w Worker
	var roomID sql.NullInt64
	var isDefault int
	err := row.Scan(&w.ID, &roomID, &w.Name, &w.Role, &w.SystemPrompt, &w.Model,
		&isDefault, &w.AgentState, &w.CycleGapMs, &w.MaxTurns, &w.WIP,
		&w.VotesCast, &w.VotesWon, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	w.RoomID = nullID(roomID)
	w.IsDefault = isDefault == 1
	return &w, nil
}

// CreateWorker inserts a worker row. A second default worker in the same
// room fails with already_exists (partial unique index).
func (s *Store) CreateWorker(ctx context.Context, w *Worker) error {
	now := NowMs()
	isDefault := 0
	if w.IsDefault {
		isDefault = 1
	}
	if w.AgentState == "" {
		w.AgentState = AgentIdle
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workers (room_id, name, role, system_prompt, model, is_default, agent_state, cycle_gap_ms, max_turns, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idArg(w.RoomID), w.Name, w.Role, w.SystemPrompt, w.Model, isDefault,
		w.AgentState, w.CycleGapMs, w.MaxTurns, now, now)
	if err != nil {
		return mapSQLErr(err)
	}
	w.ID, _ = res.LastInsertId()
	w.CreatedAt, w.UpdatedAt = now, now
	return nil
}

// GetWorker returns the worker or (nil, nil).
func (s *Store) GetWorker(ctx context.Context, id int64) (*Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerCols+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return w, nil
}

// GetWorkerByName resolves a worker by name within a room, or (nil, nil).
func (s *Store) GetWorkerByName(ctx context.Context, roomID int64, name string) (*Worker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workerCols+` FROM workers WHERE room_id = ? AND name = ? ORDER BY id LIMIT 1`,
		roomID, name)
	w, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return w, nil
}

// ListWorkers returns all workers of a room ordered by id.
func (s *Store) ListWorkers(ctx context.Context, roomID int64) ([]Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workerCols+` FROM workers WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// workerUpdateCols whitelists columns UpdateWorker may touch.
var workerUpdateCols = map[string]bool{
	"name": true, "role": true, "system_prompt": true, "model": true,
	"cycle_gap_ms": true, "max_turns": true, "wip": true,
}

// UpdateWorker applies a column/value map. Unknown columns are rejected.
func (s *Store) UpdateWorker(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	cols := make([]string, 0, len(updates))
	for c := range updates {
		if !workerUpdateCols[c] {
			return errs.New(errs.KindInvalidInput, "worker column %q not updatable", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var sb strings.Builder
	args := make([]any, 0, len(cols)+2)
	sb.WriteString("UPDATE workers SET ")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s = ?", c)
		args = append(args, updates[c])
	}
	sb.WriteString(", updated_at = ? WHERE id = ?")
	args = append(args, NowMs(), id)

	res, err := s.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return mapSQLErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.KindNotFound, "worker %d not found", id)
	}
	return nil
}

// SetAgentState records the worker's loop state (idle/thinking/acting/waiting).
func (s *Store) SetAgentState(ctx context.Context, id int64, state string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workers SET agent_state = ?, updated_at = ? WHERE id = ?`, state, NowMs(), id)
	return mapSQLErr(err)
}

// SetWorkerWIP persists the worker's end-of-cycle note for the next envelope.
func (s *Store) SetWorkerWIP(ctx context.Context, id int64, wip string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE workers SET wip = ?, updated_at = ? WHERE id = ?`, wip, NowMs(), id)
	return mapSQLErr(err)
}

// BumpVoteStats increments a worker's ballots-cast count, and wins when the
// worker voted with the resolution.
func (s *Store) BumpVoteStats(ctx context.Context, id int64, won bool) error {
	wonInc := 0
	if won {
		wonInc = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE workers SET votes_cast = votes_cast + 1, votes_won = votes_won + ?, updated_at = ? WHERE id = ?`,
		wonInc, NowMs(), id)
	return mapSQLErr(err)
}

// DeleteWorker removes a worker. Tasks referencing it detach via the
// ON DELETE SET NULL foreign key; votes cascade away.
func (s *Store) DeleteWorker(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, id)
		if err != nil {
			return mapSQLErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.New(errs.KindNotFound, "worker %d not found", id)
		}
		return nil
	})
}
