package quorum

import (
	"context"
	"fmt"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// Tally re-evaluates a voting decision against its threshold. With final
// set (timeout fired) an unresolved count expires instead of staying open.
// Stale calls against already-resolved decisions are no-ops.
func (s *Service) Tally(ctx context.Context, decisionID int64, final bool) (*store.Decision, error) {
	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	if d.Status != store.DecisionVoting {
		return d, nil
	}

	workers, err := s.store.ListWorkers(ctx, d.RoomID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	room, err := s.store.GetRoom(ctx, d.RoomID)
	if err != nil {
		return nil, err
	}
	var queenID int64
	if room != nil && room.QueenWorkerID != nil {
		queenID = *room.QueenWorkerID
	}

	outcome := evaluate(d, votes, len(workers), queenID, final)
	if outcome.status == "" {
		return d, nil
	}

	err = s.store.TransitionDecision(ctx, d.ID, store.DecisionVoting, outcome.status, outcome.result, nil)
	if err != nil {
		// A concurrent tally won the transition; report what it decided.
		resolved, getErr := s.store.GetDecision(ctx, d.ID)
		if getErr == nil && resolved != nil && resolved.Status != store.DecisionVoting {
			return resolved, nil
		}
		return nil, err
	}
	d.Status = outcome.status
	d.Result = outcome.result

	s.settleVoteStats(ctx, d, votes)
	s.record(ctx, d, nil, fmt.Sprintf("decision %s: %s", d.Status, d.Proposal))
	s.broadcast(bus.EventDecisionResolved, d)
	return d, nil
}

type outcome struct {
	status string
	result string
}

// evaluate applies the threshold rules. Eligible voters are the room's
// current workers; abstentions shrink the denominator; workers who have not
// voted yet still count against it, so a decision only resolves early once
// the count is beyond doubt.
func evaluate(d *store.Decision, votes []store.Vote, eligible int, queenID int64, final bool) outcome {
	var yes, no, abstain int
	var queenVote string
	for _, v := range votes {
		switch v.Value {
		case store.VoteYes:
			yes++
		case store.VoteNo:
			no++
		case store.VoteAbstain:
			abstain++
		}
		if v.WorkerID == queenID {
			queenVote = v.Value
		}
	}

	if d.MinVoters > 0 && len(votes) < d.MinVoters {
		if final {
			return outcome{store.DecisionExpired, fmt.Sprintf("expired: %d of %d required voters", len(votes), d.MinVoters)}
		}
		return outcome{}
	}

	denom := eligible - abstain
	if denom <= 0 {
		if final {
			return outcome{store.DecisionExpired, "expired: no eligible voters"}
		}
		return outcome{}
	}
	remaining := denom - yes - no
	if remaining < 0 {
		remaining = 0
	}

	if approved(d.Threshold, yes, no, denom) {
		return outcome{store.DecisionApproved, tallyResult("approved", yes, no, abstain)}
	}

	// A tie belongs to the tie-break policy, so it is carved out before the
	// impossibility check. Anything else rejects as soon as approval is
	// impossible even if every remaining eligible voter votes yes.
	tie := yes == no
	if !tie && !approved(d.Threshold, yes+remaining, no, denom) {
		return outcome{store.DecisionRejected, tallyResult("rejected", yes, no, abstain)}
	}

	if tie && (final || remaining == 0) {
		if d.TieBreak == store.TieBreakQueen && (queenVote == store.VoteYes || queenVote == store.VoteNo) {
			tbYes, tbNo, tbDenom := yes, no, denom+1
			if queenVote == store.VoteYes {
				tbYes++
			} else {
				tbNo++
			}
			if approved(d.Threshold, tbYes, tbNo, tbDenom) {
				return outcome{store.DecisionApproved, tallyResult("approved on queen tie-break", yes, no, abstain)}
			}
			return outcome{store.DecisionRejected, tallyResult("rejected on queen tie-break", yes, no, abstain)}
		}
		// Under the expire policy a settled tie still waits out the window.
		if final {
			return outcome{store.DecisionExpired, tallyResult("expired: threshold not reached", yes, no, abstain)}
		}
		return outcome{}
	}

	if !final {
		return outcome{}
	}
	return outcome{store.DecisionExpired, tallyResult("expired: threshold not reached", yes, no, abstain)}
}

// approved reports whether yes ballots meet the threshold over denom
// eligible non-abstaining voters.
func approved(threshold string, yes, no, denom int) bool {
	switch threshold {
	case store.ThresholdSupermajority:
		return 3*yes >= 2*denom
	case store.ThresholdUnanimous:
		return yes == denom && no == 0
	default: // majority
		return 2*yes > denom
	}
}

func tallyResult(verdict string, yes, no, abstain int) string {
	return fmt.Sprintf("%s (%d yes, %d no, %d abstain)", verdict, yes, no, abstain)
}

// settleVoteStats credits each voter's ballot record once the decision
// resolves; a ballot on the winning side counts as won.
func (s *Service) settleVoteStats(ctx context.Context, d *store.Decision, votes []store.Vote) {
	for _, v := range votes {
		won := (v.Value == store.VoteYes && d.Status == store.DecisionApproved) ||
			(v.Value == store.VoteNo && d.Status == store.DecisionRejected)
		_ = s.store.BumpVoteStats(ctx, v.WorkerID, won)
	}
}
