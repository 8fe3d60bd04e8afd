package store

import (
	"context"
	"database/sql"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const goalCols = `id, room_id, parent_goal_id, worker_id, description, status, progress, created_at, updated_at`

func scanGoal(row interface{ Scan(...any) error }) (*Goal, error) {
	var g Goal
	var parent, worker sql.NullInt64
	err := row.Scan(&g.ID, &g.RoomID, &parent, &worker, &g.Description,
		&g.Status, &g.Progress, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.ParentGoalID = nullID(parent)
	g.WorkerID = nullID(worker)
	return &g, nil
}

// CreateGoal inserts a root goal (ParentGoalID nil) or a child.
func (s *Store) CreateGoal(ctx context.Context, g *Goal) error {
	now := NowMs()
	if g.Status == "" {
		g.Status = GoalActive
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (room_id, parent_goal_id, worker_id, description, status, progress, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.RoomID, idArg(g.ParentGoalID), idArg(g.WorkerID), g.Description, g.Status, g.Progress, now, now)
	if err != nil {
		return mapSQLErr(err)
	}
	g.ID, _ = res.LastInsertId()
	g.CreatedAt, g.UpdatedAt = now, now
	return nil
}

// GetGoal returns the goal or (nil, nil).
func (s *Store) GetGoal(ctx context.Context, id int64) (*Goal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return g, nil
}

// ListGoals returns a room's goals, optionally filtered by status.
func (s *Store) ListGoals(ctx context.Context, roomID int64, status string) ([]Goal, error) {
	q := `SELECT ` + goalCols + ` FROM goals WHERE room_id = ?`
	args := []any{roomID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id`
	return s.queryGoals(ctx, q, args...)
}

// ListOpenGoals returns active and in-progress goals for the envelope.
func (s *Store) ListOpenGoals(ctx context.Context, roomID int64) ([]Goal, error) {
	return s.queryGoals(ctx,
		`SELECT `+goalCols+` FROM goals WHERE room_id = ? AND status IN (?, ?) ORDER BY id`,
		roomID, GoalActive, GoalInProgress)
}

// ListChildGoals returns the direct children of a goal.
func (s *Store) ListChildGoals(ctx context.Context, parentID int64) ([]Goal, error) {
	return s.queryGoals(ctx,
		`SELECT `+goalCols+` FROM goals WHERE parent_goal_id = ? ORDER BY id`, parentID)
}

func (s *Store) queryGoals(ctx context.Context, q string, args ...any) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// GoalProgressUpdate mutates one goal and re-rolls its ancestors. Progress
// must arrive already normalized into [0,1].
type GoalProgressUpdate struct {
	GoalID      int64
	Progress    *float64
	Status      string // "" = derive from progress
	Observation string
	MetricValue *float64
	WorkerID    *int64
}

// ApplyGoalProgress applies the update, appends the goal_updates log row,
// and walks ancestors setting each interior's progress to the mean of its
// non-abandoned children (all-completed children promote the interior to
// completed). Returns every changed goal, the target first.
func (s *Store) ApplyGoalProgress(ctx context.Context, upd GoalProgressUpdate) ([]Goal, error) {
	var changed []Goal
	err := s.withRetry(ctx, func() error {
		changed = changed[:0]
		return s.withTx(ctx, func(tx *sql.Tx) error {
			g, err := getGoalTx(ctx, tx, upd.GoalID)
			if err != nil {
				return err
			}
			if g == nil {
				return errs.New(errs.KindNotFound, "goal %d not found", upd.GoalID)
			}

			now := NowMs()
			if upd.Progress != nil {
				g.Progress = *upd.Progress
			}
			switch {
			case upd.Status != "":
				g.Status = upd.Status
				if upd.Status == GoalCompleted {
					g.Progress = 1
				}
			case upd.Progress != nil && g.Status != GoalAbandoned:
				if g.Progress >= 1 {
					g.Progress = 1
					g.Status = GoalCompleted
				} else if g.Progress > 0 && g.Status == GoalActive {
					g.Status = GoalInProgress
				}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE goals SET status = ?, progress = ?, updated_at = ? WHERE id = ?`,
				g.Status, g.Progress, now, g.ID); err != nil {
				return mapSQLErr(err)
			}
			g.UpdatedAt = now
			changed = append(changed, *g)

			if upd.Observation != "" || upd.MetricValue != nil {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO goal_updates (goal_id, worker_id, observation, metric_value, created_at)
					 VALUES (?, ?, ?, ?, ?)`,
					g.ID, idArg(upd.WorkerID), upd.Observation, floatArg(upd.MetricValue), now); err != nil {
					return mapSQLErr(err)
				}
			}

			ancestors, err := rollupAncestors(ctx, tx, g.ParentGoalID)
			if err != nil {
				return err
			}
			changed = append(changed, ancestors...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// DecomposeGoal creates child goals under a parent in one transaction and
// re-rolls the tree. Decomposing a completed or abandoned goal is rejected.
func (s *Store) DecomposeGoal(ctx context.Context, parentID int64, descriptions []string, workerID *int64) ([]Goal, error) {
	if len(descriptions) == 0 {
		return nil, errs.New(errs.KindInvalidInput, "no subgoals given")
	}
	var created []Goal
	err := s.withRetry(ctx, func() error {
		created = created[:0]
		return s.withTx(ctx, func(tx *sql.Tx) error {
			parent, err := getGoalTx(ctx, tx, parentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return errs.New(errs.KindNotFound, "goal %d not found", parentID)
			}
			if parent.Status == GoalCompleted || parent.Status == GoalAbandoned {
				return errs.New(errs.KindInvalidState, "goal %d is %s", parentID, parent.Status)
			}

			now := NowMs()
			for _, desc := range descriptions {
				res, err := tx.ExecContext(ctx,
					`INSERT INTO goals (room_id, parent_goal_id, worker_id, description, status, progress, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
					parent.RoomID, parent.ID, idArg(workerID), desc, GoalActive, now, now)
				if err != nil {
					return mapSQLErr(err)
				}
				id, _ := res.LastInsertId()
				created = append(created, Goal{
					ID: id, RoomID: parent.RoomID, ParentGoalID: &parent.ID,
					WorkerID: workerID, Description: desc, Status: GoalActive,
					CreatedAt: now, UpdatedAt: now,
				})
			}

			if _, err := rollupAncestors(ctx, tx, &parent.ID); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteGoal removes a goal; children cascade away, then the ancestors
// re-roll without the deleted subtree.
func (s *Store) DeleteGoal(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			g, err := getGoalTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if g == nil {
				return errs.New(errs.KindNotFound, "goal %d not found", id)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id); err != nil {
				return mapSQLErr(err)
			}
			_, err = rollupAncestors(ctx, tx, g.ParentGoalID)
			return err
		})
	})
}

// ListGoalUpdates returns the append-only log for a goal, newest first.
func (s *Store) ListGoalUpdates(ctx context.Context, goalID int64, limit int) ([]GoalUpdate, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, goal_id, worker_id, observation, metric_value, created_at
		 FROM goal_updates WHERE goal_id = ? ORDER BY id DESC LIMIT ?`, goalID, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []GoalUpdate
	for rows.Next() {
		var u GoalUpdate
		var worker sql.NullInt64
		var metric sql.NullFloat64
		if err := rows.Scan(&u.ID, &u.GoalID, &worker, &u.Observation, &metric, &u.CreatedAt); err != nil {
			return nil, mapSQLErr(err)
		}
		u.WorkerID = nullID(worker)
		if metric.Valid {
			v := metric.Float64
			u.MetricValue = &v
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func getGoalTx(ctx context.Context, tx *sql.Tx, id int64) (*Goal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return g, nil
}

// rollupAncestors walks from the given parent to the root, recomputing each
// interior's progress as the mean of its non-abandoned children. When every
// child is completed the interior completes too. Goals whose children are
// all abandoned are left untouched.
func rollupAncestors(ctx context.Context, tx *sql.Tx, parentID *int64) ([]Goal, error) {
	var changed []Goal
	for cur := parentID; cur != nil; {
		g, err := getGoalTx(ctx, tx, *cur)
		if err != nil {
			return nil, err
		}
		if g == nil {
			break
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT status, progress FROM goals WHERE parent_goal_id = ? AND status != ?`,
			g.ID, GoalAbandoned)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		var sum float64
		var count int
		allCompleted := true
		for rows.Next() {
			var status string
			var progress float64
			if err := rows.Scan(&status, &progress); err != nil {
				rows.Close()
				return nil, mapSQLErr(err)
			}
			sum += progress
			count++
			if status != GoalCompleted {
				allCompleted = false
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, mapSQLErr(err)
		}

		if count > 0 && g.Status != GoalAbandoned {
			now := NowMs()
			if allCompleted {
				g.Status = GoalCompleted
				g.Progress = 1
			} else {
				g.Progress = sum / float64(count)
				if g.Status == GoalActive && g.Progress > 0 {
					g.Status = GoalInProgress
				}
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE goals SET status = ?, progress = ?, updated_at = ? WHERE id = ?`,
				g.Status, g.Progress, now, g.ID); err != nil {
				return nil, mapSQLErr(err)
			}
			g.UpdatedAt = now
			changed = append(changed, *g)
		}
		cur = g.ParentGoalID
	}
	return changed, nil
}

func floatArg(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
