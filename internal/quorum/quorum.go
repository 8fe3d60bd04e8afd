// Package quorum implements the proposal and voting protocol: one state
// machine per decision, tallied on every ballot and on timer expiry.
//
//	voting    -- yes reaches threshold  -> approved
//	voting    -- no blocks threshold    -> rejected
//	voting    -- timeout                -> expired
//	voting    -- veto                   -> vetoed
//	announced -- objection              -> voting
//	announced -- grace timer            -> effective
package quorum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// AnnounceGrace is how long an announced decision waits for objections
// before it becomes effective.
const AnnounceGrace = 10 * time.Minute

const defaultVoteTimeout = 60 * time.Minute

// Service mediates proposals, ballots, and tallies for every room.
type Service struct {
	store  *store.Store
	events bus.EventPublisher
	nudges *bus.NudgeRegistry
}

func New(st *store.Store, events bus.EventPublisher, nudges *bus.NudgeRegistry) *Service {
	return &Service{store: st, events: events, nudges: nudges}
}

// ProposeRequest opens a new decision. A nil ProposerID marks an external
// (keeper or webhook) proposal.
type ProposeRequest struct {
	RoomID       int64
	ProposerID   *int64
	Proposal     string
	DecisionType string
	Sealed       bool
}

func validDecisionType(t string) bool {
	switch t {
	case store.DecisionStrategy, store.DecisionResource, store.DecisionPersonnel,
		store.DecisionRuleChange, store.DecisionLowImpact:
		return true
	}
	return false
}

// Propose creates a decision in voting state, inheriting threshold,
// tie-break, participation floor, and timeout from the room config.
// Low-impact proposals are auto-approved when the room allows it.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*store.Decision, error) {
	if req.Proposal == "" {
		return nil, errs.New(errs.KindInvalidInput, "proposal text is empty")
	}
	if !validDecisionType(req.DecisionType) {
		return nil, errs.New(errs.KindInvalidInput, "unknown decision type %q", req.DecisionType)
	}
	room, err := s.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, errs.New(errs.KindNotFound, "room %d not found", req.RoomID)
	}

	cfg := room.Config
	timeout := time.Duration(cfg.VoteTimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = defaultVoteTimeout
	}
	d := &store.Decision{
		RoomID:        req.RoomID,
		ProposerID:    req.ProposerID,
		Proposal:      req.Proposal,
		DecisionType:  req.DecisionType,
		Threshold:     cfg.QuorumThreshold,
		MinVoters:     cfg.MinVoters,
		Sealed:        req.Sealed,
		TieBreak:      cfg.TieBreak,
		Status:        store.DecisionVoting,
		VoteTimeoutAt: store.NowMs() + timeout.Milliseconds(),
	}
	if req.DecisionType == store.DecisionLowImpact && cfg.AutoApproveLowImpact {
		d.Status = store.DecisionApproved
		d.Result = "auto-approved: low impact"
		d.VoteTimeoutAt = 0
	}
	if err := s.store.CreateDecision(ctx, d); err != nil {
		return nil, err
	}

	s.record(ctx, d, req.ProposerID, fmt.Sprintf("proposed: %s", req.Proposal))
	s.broadcast(bus.EventDecisionCreated, d)
	s.nudgeRoom(ctx, req.RoomID)
	return d, nil
}

// Announce publishes a decision that takes effect unless objected to within
// the grace window.
func (s *Service) Announce(ctx context.Context, req ProposeRequest) (*store.Decision, error) {
	if req.Proposal == "" {
		return nil, errs.New(errs.KindInvalidInput, "proposal text is empty")
	}
	room, err := s.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, errs.New(errs.KindNotFound, "room %d not found", req.RoomID)
	}
	effective := store.NowMs() + AnnounceGrace.Milliseconds()
	d := &store.Decision{
		RoomID:       req.RoomID,
		ProposerID:   req.ProposerID,
		Proposal:     req.Proposal,
		DecisionType: req.DecisionType,
		Threshold:    room.Config.QuorumThreshold,
		TieBreak:     room.Config.TieBreak,
		Sealed:       req.Sealed,
		Status:       store.DecisionAnnounced,
		EffectiveAt:  &effective,
	}
	if d.DecisionType == "" {
		d.DecisionType = store.DecisionStrategy
	}
	if err := s.store.CreateDecision(ctx, d); err != nil {
		return nil, err
	}
	s.record(ctx, d, req.ProposerID, fmt.Sprintf("announced: %s", req.Proposal))
	s.broadcast(bus.EventDecisionCreated, d)
	s.nudgeRoom(ctx, req.RoomID)
	return d, nil
}

// Vote records a ballot and re-tallies. A NO ballot on an announced decision
// counts as an objection and re-opens voting first. Voting on a terminal
// decision fails with invalid_state.
func (s *Service) Vote(ctx context.Context, roomID, decisionID, workerID int64, value, reasoning string) (*store.Decision, error) {
	switch value {
	case store.VoteYes, store.VoteNo, store.VoteAbstain:
	default:
		return nil, errs.New(errs.KindInvalidInput, "unknown vote value %q", value)
	}
	d, err := s.scopedDecision(ctx, roomID, decisionID)
	if err != nil {
		return nil, err
	}
	w, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if w == nil || w.RoomID == nil || *w.RoomID != roomID {
		return nil, errs.New(errs.KindScope, "worker %d is not a member of room %d", workerID, roomID)
	}

	if d.Status == store.DecisionAnnounced {
		if value != store.VoteNo {
			return nil, errs.New(errs.KindInvalidState,
				"decision %d is announced; only an objection (no) re-opens it", decisionID)
		}
		if err := s.object(ctx, d, &workerID); err != nil {
			return nil, err
		}
	}

	if _, _, err := s.store.UpsertVote(ctx, decisionID, workerID, value, reasoning); err != nil {
		return nil, err
	}
	s.broadcast(bus.EventVoteCast, d)
	return s.Tally(ctx, decisionID, false)
}

// Veto terminates a voting decision immediately. Reserved for the keeper
// and the Queen.
func (s *Service) Veto(ctx context.Context, roomID, decisionID int64, workerID *int64, reason string) error {
	d, err := s.scopedDecision(ctx, roomID, decisionID)
	if err != nil {
		return err
	}
	result := "vetoed"
	if reason != "" {
		result = "vetoed: " + reason
	}
	if err := s.store.TransitionDecision(ctx, d.ID, store.DecisionVoting, store.DecisionVetoed, result, nil); err != nil {
		return err
	}
	d.Status = store.DecisionVetoed
	d.Result = result
	s.record(ctx, d, workerID, result)
	s.broadcast(bus.EventDecisionResolved, d)
	return nil
}

// Object re-opens an announced decision for a full vote.
func (s *Service) Object(ctx context.Context, roomID, decisionID int64, workerID *int64) error {
	d, err := s.scopedDecision(ctx, roomID, decisionID)
	if err != nil {
		return err
	}
	return s.object(ctx, d, workerID)
}

func (s *Service) object(ctx context.Context, d *store.Decision, workerID *int64) error {
	if err := s.store.TransitionDecision(ctx, d.ID, store.DecisionAnnounced, store.DecisionVoting, "", nil); err != nil {
		return err
	}
	room, err := s.store.GetRoom(ctx, d.RoomID)
	if err != nil {
		return err
	}
	timeout := defaultVoteTimeout
	if room != nil && room.Config.VoteTimeoutMinutes > 0 {
		timeout = time.Duration(room.Config.VoteTimeoutMinutes) * time.Minute
	}
	if err := s.store.ExtendVoteTimeout(ctx, d.ID, store.NowMs()+timeout.Milliseconds()); err != nil {
		return err
	}
	d.Status = store.DecisionVoting
	s.record(ctx, d, workerID, "objection raised, voting re-opened")
	s.broadcast(bus.EventDecisionObjected, d)
	s.nudgeRoom(ctx, d.RoomID)
	return nil
}

// Ballots returns a decision's votes. Sealed decisions hide per-voter
// ballots while voting is open; only the count is visible.
func (s *Service) Ballots(ctx context.Context, roomID, decisionID int64) ([]store.Vote, int, error) {
	d, err := s.scopedDecision(ctx, roomID, decisionID)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.store.CountVotes(ctx, decisionID)
	if err != nil {
		return nil, 0, err
	}
	if d.Sealed && d.Status == store.DecisionVoting {
		return nil, count, nil
	}
	votes, err := s.store.ListVotes(ctx, decisionID)
	if err != nil {
		return nil, 0, err
	}
	return votes, count, nil
}

// OnWorkerDeleted re-evaluates every open decision in the room; eligibility
// shrank, so a pending tally may now resolve.
func (s *Service) OnWorkerDeleted(ctx context.Context, roomID int64) {
	open, err := s.store.ListDecisions(ctx, roomID, store.DecisionVoting, 0)
	if err != nil {
		slog.Warn("quorum.retally_failed", "room", roomID, "error", err)
		return
	}
	for _, d := range open {
		if _, err := s.Tally(ctx, d.ID, false); err != nil {
			slog.Warn("quorum.retally_failed", "decision", d.ID, "error", err)
		}
	}
}

func (s *Service) scopedDecision(ctx context.Context, roomID, decisionID int64) (*store.Decision, error) {
	d, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errs.New(errs.KindNotFound, "decision %d not found", decisionID)
	}
	if d.RoomID != roomID {
		return nil, errs.New(errs.KindScope, "decision %d belongs to another room", decisionID)
	}
	return d, nil
}

func (s *Service) nudgeRoom(ctx context.Context, roomID int64) {
	if s.nudges == nil {
		return
	}
	workers, err := s.store.ListWorkers(ctx, roomID)
	if err != nil {
		return
	}
	for _, w := range workers {
		s.nudges.Nudge(w.ID)
	}
}

func (s *Service) record(ctx context.Context, d *store.Decision, workerID *int64, summary string) {
	payload, _ := json.Marshal(map[string]any{"decisionId": d.ID, "status": d.Status})
	if err := s.store.AppendActivity(ctx, &store.Activity{
		RoomID:    d.RoomID,
		WorkerID:  workerID,
		EventType: "decision",
		Summary:   summary,
		Payload:   string(payload),
	}); err != nil {
		slog.Warn("quorum.activity_failed", "decision", d.ID, "error", err)
	}
}

func (s *Service) broadcast(name string, d *store.Decision) {
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: name, RoomID: d.RoomID, Payload: d.ID})
	}
}
