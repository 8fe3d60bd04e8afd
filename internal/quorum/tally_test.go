package quorum

import (
	"testing"

	"github.com/quoroomlabs/quoroom/internal/store"
)

func votes(pairs ...[2]any) []store.Vote {
	out := make([]store.Vote, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, store.Vote{WorkerID: int64(p[0].(int)), Value: p[1].(string)})
	}
	return out
}

func TestEvaluate(t *testing.T) {
	const queenID = 1

	cases := []struct {
		name       string
		threshold  string
		tieBreak   string
		minVoters  int
		eligible   int
		votes      []store.Vote
		final      bool
		wantStatus string // "" = stays open
	}{
		{
			name:      "majority reached early",
			threshold: store.ThresholdMajority,
			eligible:  3,
			votes:     votes([2]any{1, store.VoteYes}, [2]any{2, store.VoteYes}),
			// 2 of 3: approval is beyond doubt before the third ballot.
			wantStatus: store.DecisionApproved,
		},
		{
			name:      "majority still in doubt stays open",
			threshold: store.ThresholdMajority,
			eligible:  3,
			votes:     votes([2]any{1, store.VoteYes}),
		},
		{
			name:       "rejection once approval impossible",
			threshold:  store.ThresholdMajority,
			eligible:   3,
			votes:      votes([2]any{1, store.VoteNo}, [2]any{2, store.VoteNo}),
			wantStatus: store.DecisionRejected,
		},
		{
			name:       "abstentions shrink the denominator",
			threshold:  store.ThresholdMajority,
			eligible:   4,
			votes:      votes([2]any{1, store.VoteYes}, [2]any{2, store.VoteYes}, [2]any{3, store.VoteAbstain}),
			wantStatus: store.DecisionApproved,
		},
		{
			name:       "supermajority needs two thirds",
			threshold:  store.ThresholdSupermajority,
			eligible:   3,
			votes:      votes([2]any{1, store.VoteYes}, [2]any{2, store.VoteYes}, [2]any{3, store.VoteNo}),
			wantStatus: store.DecisionApproved,
		},
		{
			name:       "unanimous blocked by one no",
			threshold:  store.ThresholdUnanimous,
			eligible:   3,
			votes:      votes([2]any{1, store.VoteYes}, [2]any{2, store.VoteYes}, [2]any{3, store.VoteNo}),
			wantStatus: store.DecisionRejected,
		},
		{
			name:       "timeout below min voters expires",
			threshold:  store.ThresholdMajority,
			minVoters:  3,
			eligible:   5,
			votes:      votes([2]any{1, store.VoteYes}),
			final:      true,
			wantStatus: store.DecisionExpired,
		},
		{
			name:      "below min voters stays open before timeout",
			threshold: store.ThresholdMajority,
			minVoters: 3,
			eligible:  5,
			votes:     votes([2]any{1, store.VoteYes}),
		},
		{
			name:       "tie expires under expire policy",
			threshold:  store.ThresholdMajority,
			tieBreak:   store.TieBreakExpire,
			eligible:   2,
			votes:      votes([2]any{1, store.VoteYes}, [2]any{2, store.VoteNo}),
			final:      true,
			wantStatus: store.DecisionExpired,
		},
		{
			name:       "queen tie-break approves",
			threshold:  store.ThresholdMajority,
			tieBreak:   store.TieBreakQueen,
			eligible:   2,
			votes:      votes([2]any{queenID, store.VoteYes}, [2]any{2, store.VoteNo}),
			final:      true,
			wantStatus: store.DecisionApproved,
		},
		{
			name:       "queen tie-break rejects",
			threshold:  store.ThresholdMajority,
			tieBreak:   store.TieBreakQueen,
			eligible:   2,
			votes:      votes([2]any{queenID, store.VoteNo}, [2]any{2, store.VoteYes}),
			final:      true,
			wantStatus: store.DecisionRejected,
		},
		{
			name:       "queen abstained tie expires even under queen policy",
			threshold:  store.ThresholdMajority,
			tieBreak:   store.TieBreakQueen,
			eligible:   3,
			votes:      votes([2]any{queenID, store.VoteAbstain}, [2]any{2, store.VoteYes}, [2]any{3, store.VoteNo}),
			final:      true,
			wantStatus: store.DecisionExpired,
		},
		{
			name:       "timeout with count open expires",
			threshold:  store.ThresholdSupermajority,
			eligible:   3,
			votes:      votes([2]any{1, store.VoteYes}),
			final:      true,
			wantStatus: store.DecisionExpired,
		},
		{
			name:       "everyone abstained expires on timeout",
			threshold:  store.ThresholdMajority,
			eligible:   2,
			votes:      votes([2]any{1, store.VoteAbstain}, [2]any{2, store.VoteAbstain}),
			final:      true,
			wantStatus: store.DecisionExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &store.Decision{
				Status:    store.DecisionVoting,
				Threshold: tc.threshold,
				TieBreak:  tc.tieBreak,
				MinVoters: tc.minVoters,
			}
			got := evaluate(d, tc.votes, tc.eligible, queenID, tc.final)
			if got.status != tc.wantStatus {
				t.Fatalf("status = %q (%s), want %q", got.status, got.result, tc.wantStatus)
			}
		})
	}
}
