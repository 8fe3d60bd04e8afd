package quorum

import (
	"context"
	"log/slog"
	"time"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/store"
)

const defaultPollInterval = 5 * time.Second

// Run drives the decision timers: voting rounds past their deadline get a
// final tally, announced decisions past their grace window become
// effective. Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	return s.run(ctx, defaultPollInterval)
}

func (s *Service) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue resolves every decision whose timer has lapsed. The transition is
// status-guarded in the store, so a timer firing against a row that a
// concurrent vote already resolved is a no-op.
func (s *Service) fireDue(ctx context.Context) {
	due, err := s.store.ListDueDecisions(ctx, store.NowMs())
	if err != nil {
		slog.Warn("quorum.poll_failed", "error", err)
		return
	}
	for _, d := range due {
		switch d.Status {
		case store.DecisionVoting:
			if _, err := s.Tally(ctx, d.ID, true); err != nil {
				slog.Warn("quorum.timeout_tally_failed", "decision", d.ID, "error", err)
			}
		case store.DecisionAnnounced:
			if err := s.promoteEffective(ctx, &d); err != nil {
				slog.Warn("quorum.promote_failed", "decision", d.ID, "error", err)
			}
		}
	}
}

func (s *Service) promoteEffective(ctx context.Context, d *store.Decision) error {
	err := s.store.TransitionDecision(ctx, d.ID,
		store.DecisionAnnounced, store.DecisionEffective, "effective: no objections", d.EffectiveAt)
	if err != nil {
		return err
	}
	d.Status = store.DecisionEffective
	s.record(ctx, d, nil, "announcement effective: "+d.Proposal)
	s.broadcast(bus.EventDecisionResolved, d)
	return nil
}
