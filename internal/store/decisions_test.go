package store

import (
	"context"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

func newTestDecision(t *testing.T, s *Store, roomID int64, proposer *int64) *Decision {
	t.Helper()
	d := &Decision{
		RoomID: roomID, ProposerID: proposer, Proposal: "switch strategy",
		DecisionType: DecisionStrategy, Threshold: ThresholdMajority,
		TieBreak: TieBreakExpire, Status: DecisionVoting,
		VoteTimeoutAt: NowMs() + 60*60*1000,
	}
	if err := s.CreateDecision(context.Background(), d); err != nil {
		t.Fatalf("CreateDecision: %v", err)
	}
	return d
}

func TestUpsertVote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")
	d := newTestDecision(t, s, room.ID, &queen.ID)

	v, cast, err := s.UpsertVote(ctx, d.ID, queen.ID, VoteYes, "looks right")
	if err != nil {
		t.Fatalf("UpsertVote: %v", err)
	}
	if !cast {
		t.Error("first ballot should report cast")
	}
	if v.Value != VoteYes {
		t.Errorf("value = %q, want %q", v.Value, VoteYes)
	}

	// Revising replaces the ballot instead of stacking a second one.
	v2, cast, err := s.UpsertVote(ctx, d.ID, queen.ID, VoteNo, "changed my mind")
	if err != nil {
		t.Fatalf("UpsertVote revise: %v", err)
	}
	if cast {
		t.Error("revision should not report cast")
	}
	if v2.ID != v.ID {
		t.Errorf("revision created new row: %d != %d", v2.ID, v.ID)
	}
	if v2.Value != VoteNo {
		t.Errorf("revised value = %q, want %q", v2.Value, VoteNo)
	}

	n, err := s.CountVotes(ctx, d.ID)
	if err != nil {
		t.Fatalf("CountVotes: %v", err)
	}
	if n != 1 {
		t.Fatalf("vote count = %d, want 1", n)
	}
}

func TestVoteOnResolvedDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")
	d := newTestDecision(t, s, room.ID, &queen.ID)

	if err := s.TransitionDecision(ctx, d.ID, DecisionVoting, DecisionExpired, "", nil); err != nil {
		t.Fatalf("TransitionDecision: %v", err)
	}
	_, _, err := s.UpsertVote(ctx, d.ID, queen.ID, VoteYes, "")
	if !errs.IsKind(err, errs.KindInvalidState) {
		t.Fatalf("err = %v, want invalid_state", err)
	}
}

func TestTransitionDecisionGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")
	d := newTestDecision(t, s, room.ID, &queen.ID)

	eff := NowMs() + 10*60*1000
	if err := s.TransitionDecision(ctx, d.ID, DecisionVoting, DecisionAnnounced, DecisionApproved, &eff); err != nil {
		t.Fatalf("voting -> announced: %v", err)
	}

	// Second resolver loses the race.
	err := s.TransitionDecision(ctx, d.ID, DecisionVoting, DecisionExpired, "", nil)
	if !errs.IsKind(err, errs.KindInvalidState) {
		t.Fatalf("err = %v, want invalid_state", err)
	}

	got, _ := s.GetDecision(ctx, d.ID)
	if got.Status != DecisionAnnounced || got.Result != DecisionApproved {
		t.Fatalf("decision = %q/%q, want announced/approved", got.Status, got.Result)
	}
	if got.EffectiveAt == nil || *got.EffectiveAt != eff {
		t.Fatalf("effective_at = %v, want %d", got.EffectiveAt, eff)
	}
}

func TestListDueDecisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")

	now := NowMs()
	past := &Decision{RoomID: room.ID, ProposerID: &queen.ID, Proposal: "overdue",
		DecisionType: DecisionStrategy, Threshold: ThresholdMajority,
		TieBreak: TieBreakExpire, Status: DecisionVoting, VoteTimeoutAt: now - 1000}
	future := &Decision{RoomID: room.ID, ProposerID: &queen.ID, Proposal: "not yet",
		DecisionType: DecisionStrategy, Threshold: ThresholdMajority,
		TieBreak: TieBreakExpire, Status: DecisionVoting, VoteTimeoutAt: now + 60_000}
	for _, d := range []*Decision{past, future} {
		if err := s.CreateDecision(ctx, d); err != nil {
			t.Fatalf("CreateDecision: %v", err)
		}
	}
	effPast := now - 500
	announced := &Decision{RoomID: room.ID, Proposal: "grace elapsed",
		DecisionType: DecisionStrategy, Threshold: ThresholdMajority,
		TieBreak: TieBreakExpire, Status: DecisionAnnounced, Result: DecisionApproved,
		EffectiveAt: &effPast}
	if err := s.CreateDecision(ctx, announced); err != nil {
		t.Fatalf("CreateDecision announced: %v", err)
	}

	due, err := s.ListDueDecisions(ctx, now)
	if err != nil {
		t.Fatalf("ListDueDecisions: %v", err)
	}
	ids := map[int64]bool{}
	for _, d := range due {
		ids[d.ID] = true
	}
	if !ids[past.ID] || !ids[announced.ID] {
		t.Errorf("due set %v missing overdue decisions %d/%d", ids, past.ID, announced.ID)
	}
	if ids[future.ID] {
		t.Errorf("future decision %d should not be due", future.ID)
	}
}

func TestListOpenDecisionsForVoter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")
	w := &Worker{RoomID: &room.ID, Name: "drone", Role: "worker"}
	if err := s.CreateWorker(ctx, w); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}
	d := newTestDecision(t, s, room.ID, &queen.ID)

	open, err := s.ListOpenDecisionsForVoter(ctx, room.ID, w.ID)
	if err != nil {
		t.Fatalf("ListOpenDecisionsForVoter: %v", err)
	}
	if len(open) != 1 || open[0].ID != d.ID {
		t.Fatalf("open = %+v, want just %d", open, d.ID)
	}

	if _, _, err := s.UpsertVote(ctx, d.ID, w.ID, VoteYes, ""); err != nil {
		t.Fatalf("UpsertVote: %v", err)
	}
	open, _ = s.ListOpenDecisionsForVoter(ctx, room.ID, w.ID)
	if len(open) != 0 {
		t.Fatalf("voted decision still listed: %+v", open)
	}
}
