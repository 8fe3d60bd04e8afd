package store

import (
	"context"
	"database/sql"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const decisionCols = `id, room_id, proposer_id, proposal, decision_type, threshold, min_voters,
	sealed, tie_break, status, result, vote_timeout_at, effective_at, created_at, updated_at`

func scanDecision(row interface{ Scan(...any) error }) (*Decision, error) {
	var d Decision
	var proposer sql.NullInt64
	var effective sql.NullInt64
	var sealed int
	err := row.Scan(&d.ID, &d.RoomID, &proposer, &d.Proposal, &d.DecisionType, &d.Threshold,
		&d.MinVoters, &sealed, &d.TieBreak, &d.Status, &d.Result, &d.VoteTimeoutAt,
		&effective, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.ProposerID = nullID(proposer)
	d.Sealed = sealed != 0
	d.EffectiveAt = nullID(effective)
	return &d, nil
}

// CreateDecision inserts a proposal in its initial status (voting, or
// announced for auto-approved low-impact ones).
func (s *Store) CreateDecision(ctx context.Context, d *Decision) error {
	now := NowMs()
	sealed := 0
	if d.Sealed {
		sealed = 1
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (room_id, proposer_id, proposal, decision_type, threshold, min_voters,
		   sealed, tie_break, status, result, vote_timeout_at, effective_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RoomID, idArg(d.ProposerID), d.Proposal, d.DecisionType, d.Threshold, d.MinVoters,
		sealed, d.TieBreak, d.Status, d.Result, d.VoteTimeoutAt, idArg(d.EffectiveAt), now, now)
	if err != nil {
		return mapSQLErr(err)
	}
	d.ID, _ = res.LastInsertId()
	d.CreatedAt, d.UpdatedAt = now, now
	return nil
}

// GetDecision returns the decision or (nil, nil).
func (s *Store) GetDecision(ctx context.Context, id int64) (*Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return d, nil
}

// ListDecisions returns a room's decisions, optionally filtered by status,
// newest first.
func (s *Store) ListDecisions(ctx context.Context, roomID int64, status string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + decisionCols + ` FROM decisions WHERE room_id = ?`
	args := []any{roomID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryDecisions(ctx, q, args...)
}

// ListOpenDecisionsForVoter returns voting decisions in the room the worker
// has not voted on yet. Used to build the agent envelope.
func (s *Store) ListOpenDecisionsForVoter(ctx context.Context, roomID, workerID int64) ([]Decision, error) {
	return s.queryDecisions(ctx,
		`SELECT `+decisionCols+` FROM decisions d
		 WHERE d.room_id = ? AND d.status = ?
		   AND NOT EXISTS (SELECT 1 FROM votes v WHERE v.decision_id = d.id AND v.worker_id = ?)
		 ORDER BY d.id`,
		roomID, DecisionVoting, workerID)
}

// ListDueDecisions returns non-terminal decisions whose next timer fired:
// voting rounds past their timeout and announced decisions past their grace.
func (s *Store) ListDueDecisions(ctx context.Context, now int64) ([]Decision, error) {
	return s.queryDecisions(ctx,
		`SELECT `+decisionCols+` FROM decisions
		 WHERE (status = ? AND vote_timeout_at > 0 AND vote_timeout_at <= ?)
		    OR (status = ? AND effective_at IS NOT NULL AND effective_at <= ?)
		 ORDER BY id`,
		DecisionVoting, now, DecisionAnnounced, now)
}

func (s *Store) queryDecisions(ctx context.Context, q string, args ...any) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpsertVote records or revises a ballot. The decision must still be open
// for voting; revising keeps the original created_at. Returns the stored
// vote and whether it was newly cast (false = revision).
func (s *Store) UpsertVote(ctx context.Context, decisionID, workerID int64, value, reasoning string) (*Vote, bool, error) {
	var vote *Vote
	var cast bool
	err := s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var status string
			err := tx.QueryRowContext(ctx,
				`SELECT status FROM decisions WHERE id = ?`, decisionID).Scan(&status)
			if err == sql.ErrNoRows {
				return errs.New(errs.KindNotFound, "decision %d not found", decisionID)
			}
			if err != nil {
				return mapSQLErr(err)
			}
			if status != DecisionVoting {
				return errs.New(errs.KindInvalidState, "decision %d is %s, not open for voting", decisionID, status)
			}

			now := NowMs()
			res, err := tx.ExecContext(ctx,
				`UPDATE votes SET value = ?, reasoning = ?, updated_at = ?
				 WHERE decision_id = ? AND worker_id = ?`,
				value, reasoning, now, decisionID, workerID)
			if err != nil {
				return mapSQLErr(err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				cast = true
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO votes (decision_id, worker_id, value, reasoning, created_at, updated_at)
					 VALUES (?, ?, ?, ?, ?, ?)`,
					decisionID, workerID, value, reasoning, now, now); err != nil {
					return mapSQLErr(err)
				}
			}

			row := tx.QueryRowContext(ctx,
				`SELECT id, decision_id, worker_id, value, reasoning, created_at, updated_at
				 FROM votes WHERE decision_id = ? AND worker_id = ?`, decisionID, workerID)
			var v Vote
			if err := row.Scan(&v.ID, &v.DecisionID, &v.WorkerID, &v.Value, &v.Reasoning,
				&v.CreatedAt, &v.UpdatedAt); err != nil {
				return mapSQLErr(err)
			}
			vote = &v
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return vote, cast, nil
}

// ListVotes returns all ballots on a decision in cast order.
func (s *Store) ListVotes(ctx context.Context, decisionID int64) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, worker_id, value, reasoning, created_at, updated_at
		 FROM votes WHERE decision_id = ? ORDER BY id`, decisionID)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ID, &v.DecisionID, &v.WorkerID, &v.Value, &v.Reasoning,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountVotes returns how many ballots a decision has.
func (s *Store) CountVotes(ctx context.Context, decisionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM votes WHERE decision_id = ?`, decisionID).Scan(&n)
	if err != nil {
		return 0, mapSQLErr(err)
	}
	return n, nil
}

// TransitionDecision moves a decision from one status to another, guarded so
// concurrent resolvers cannot double-fire. Returns invalid_state when the
// row is no longer in the expected status.
func (s *Store) TransitionDecision(ctx context.Context, id int64, from, to, result string, effectiveAt *int64) error {
	return s.withRetry(ctx, func() error {
		now := NowMs()
		res, err := s.db.ExecContext(ctx,
			`UPDATE decisions SET status = ?, result = ?, effective_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			to, result, idArg(effectiveAt), now, id, from)
		if err != nil {
			return mapSQLErr(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			d, err := s.GetDecision(ctx, id)
			if err != nil {
				return err
			}
			if d == nil {
				return errs.New(errs.KindNotFound, "decision %d not found", id)
			}
			return errs.New(errs.KindInvalidState, "decision %d is %s, expected %s", id, d.Status, from)
		}
		return nil
	})
}

// ExtendVoteTimeout pushes the voting deadline out, used by the queen
// tie-break re-evaluation round.
func (s *Store) ExtendVoteTimeout(ctx context.Context, id int64, timeoutAt int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET vote_timeout_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		timeoutAt, NowMs(), id, DecisionVoting)
	if err != nil {
		return mapSQLErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindInvalidState, "decision %d is not open for voting", id)
	}
	return nil
}
