// Package goals is the goal-tree service: objectives, decomposition, and
// progress rollup over the store's goal tables.
package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// Service validates goal operations, applies them transactionally through
// the store, and reports changes on the event bus and activity trail.
type Service struct {
	store  *store.Store
	events bus.EventPublisher
}

func New(st *store.Store, events bus.EventPublisher) *Service {
	return &Service{store: st, events: events}
}

// SetObjective creates a new root goal in the room.
func (s *Service) SetObjective(ctx context.Context, roomID int64, description string, workerID *int64) (*store.Goal, error) {
	if description == "" {
		return nil, errs.New(errs.KindInvalidInput, "goal description is empty")
	}
	g := &store.Goal{RoomID: roomID, WorkerID: workerID, Description: description}
	if err := s.store.CreateGoal(ctx, g); err != nil {
		return nil, err
	}
	s.record(ctx, roomID, workerID, "goal", fmt.Sprintf("goal set: %s", description), g)
	return g, nil
}

// Decompose creates subgoals under a parent. The parent must belong to the
// room and still be open.
func (s *Service) Decompose(ctx context.Context, roomID, parentID int64, descriptions []string, workerID *int64) ([]store.Goal, error) {
	if err := s.checkScope(ctx, roomID, parentID); err != nil {
		return nil, err
	}
	created, err := s.store.DecomposeGoal(ctx, parentID, descriptions, workerID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, roomID, workerID, "goal",
		fmt.Sprintf("goal %d decomposed into %d subgoals", parentID, len(created)), created)
	return created, nil
}

// UpdateProgress records an observation against a goal and re-rolls the
// tree. Metric values above 1 are treated as percentages; anything outside
// [0,100] is rejected.
func (s *Service) UpdateProgress(ctx context.Context, roomID, goalID int64, observation string, metric *float64, workerID *int64) ([]store.Goal, error) {
	if err := s.checkScope(ctx, roomID, goalID); err != nil {
		return nil, err
	}
	upd := store.GoalProgressUpdate{
		GoalID:      goalID,
		Observation: observation,
		MetricValue: metric,
		WorkerID:    workerID,
	}
	if metric != nil {
		p, err := NormalizeMetric(*metric)
		if err != nil {
			return nil, err
		}
		upd.Progress = &p
	}
	changed, err := s.store.ApplyGoalProgress(ctx, upd)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.record(ctx, roomID, workerID, "goal",
			fmt.Sprintf("goal %d progress %.0f%%", goalID, changed[0].Progress*100), changed)
	}
	return changed, nil
}

// Complete marks a goal done (progress forced to 1) and rolls up.
func (s *Service) Complete(ctx context.Context, roomID, goalID int64, workerID *int64) ([]store.Goal, error) {
	return s.transition(ctx, roomID, goalID, store.GoalCompleted, workerID)
}

// Abandon closes a goal without success. Progress is left as-is and the
// goal drops out of its parent's mean.
func (s *Service) Abandon(ctx context.Context, roomID, goalID int64, workerID *int64) ([]store.Goal, error) {
	return s.transition(ctx, roomID, goalID, store.GoalAbandoned, workerID)
}

func (s *Service) transition(ctx context.Context, roomID, goalID int64, status string, workerID *int64) ([]store.Goal, error) {
	if err := s.checkScope(ctx, roomID, goalID); err != nil {
		return nil, err
	}
	changed, err := s.store.ApplyGoalProgress(ctx, store.GoalProgressUpdate{
		GoalID:   goalID,
		Status:   status,
		WorkerID: workerID,
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, roomID, workerID, "goal", fmt.Sprintf("goal %d %s", goalID, status), changed)
	return changed, nil
}

// NormalizeMetric maps a raw metric onto the [0,1] progress scale. Values
// above 1 are read as percentages (50 -> 0.5).
func NormalizeMetric(v float64) (float64, error) {
	if v < 0 || v > 100 {
		return 0, errs.New(errs.KindInvalidInput, "metric value %v out of range [0,100]", v)
	}
	if v > 1 {
		return v / 100, nil
	}
	return v, nil
}

func (s *Service) checkScope(ctx context.Context, roomID, goalID int64) error {
	g, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return err
	}
	if g == nil {
		return errs.New(errs.KindNotFound, "goal %d not found", goalID)
	}
	if g.RoomID != roomID {
		return errs.New(errs.KindScope, "goal %d belongs to another room", goalID)
	}
	return nil
}

func (s *Service) record(ctx context.Context, roomID int64, workerID *int64, eventType, summary string, payload any) {
	body, _ := json.Marshal(payload)
	if err := s.store.AppendActivity(ctx, &store.Activity{
		RoomID:    roomID,
		WorkerID:  workerID,
		EventType: eventType,
		Summary:   summary,
		Payload:   string(body),
	}); err != nil {
		slog.Warn("goals.activity_failed", "room", roomID, "error", err)
	}
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: bus.EventGoalProgress, RoomID: roomID, Payload: summary})
	}
}
