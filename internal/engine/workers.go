package engine

import (
	"context"
	"log/slog"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/tools"
)

// CreateWorker adds a worker to the room and starts its loop when the room
// is active. Implements the create_worker tool.
func (e *Engine) CreateWorker(ctx context.Context, roomID int64, spec tools.WorkerSpec) (*store.Worker, error) {
	room, err := e.requireRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == store.RoomStopped {
		return nil, errs.New(errs.KindInvalidState, "room %d is stopped", roomID)
	}
	if existing, err := e.store.GetWorkerByName(ctx, roomID, spec.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errs.New(errs.KindAlreadyExists, "worker %q already exists in room %d", spec.Name, roomID)
	}

	role := spec.Role
	if role == "" {
		role = "worker"
	}
	model := spec.Model
	if model == "" {
		model = e.cfg.Executor.Model
	}
	prompt := spec.SystemPrompt
	if prompt == "" {
		prompt = WorkerPrompt(spec.Name, role, room.Objective)
	}
	w := &store.Worker{
		RoomID:       &roomID,
		Name:         spec.Name,
		Role:         role,
		SystemPrompt: prompt,
		Model:        model,
		CycleGapMs:   spec.CycleGapMs,
		MaxTurns:     spec.MaxTurns,
	}
	if err := e.store.CreateWorker(ctx, w); err != nil {
		return nil, err
	}
	e.events.Broadcast(bus.Event{Name: bus.EventWorkerCreated, RoomID: roomID, WorkerID: w.ID})
	e.recordSystem(ctx, roomID, nil, "worker "+w.Name+" joined the room")

	if room.Status == store.RoomActive {
		if err := e.agents.StartWorker(ctx, w.ID); err != nil {
			slog.Warn("engine.worker_start_failed", "worker", w.ID, "error", err)
		}
	}
	return w, nil
}

// UpdateWorker patches a worker and bounces its loop so the new prompt,
// model, or pacing takes effect next cycle. Implements the update_worker
// tool.
func (e *Engine) UpdateWorker(ctx context.Context, roomID, workerID int64, updates map[string]any) (*store.Worker, error) {
	w, err := e.store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errs.New(errs.KindNotFound, "worker %d not found", workerID)
	}
	if w.RoomID == nil || *w.RoomID != roomID {
		return nil, errs.New(errs.KindScope, "worker %d belongs to another room", workerID)
	}
	if err := e.store.UpdateWorker(ctx, workerID, updates); err != nil {
		return nil, err
	}
	if e.agents.Running(workerID) {
		if err := e.agents.Restart(ctx, workerID); err != nil {
			slog.Warn("engine.worker_restart_failed", "worker", workerID, "error", err)
		}
	}
	return e.store.GetWorker(ctx, workerID)
}

// DeleteWorker removes a worker after stopping its loop. Open voting
// rounds re-tally since the electorate shrank.
func (e *Engine) DeleteWorker(ctx context.Context, roomID, workerID int64) error {
	w, err := e.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if w == nil {
		return errs.New(errs.KindNotFound, "worker %d not found", workerID)
	}
	if w.RoomID == nil || *w.RoomID != roomID {
		return errs.New(errs.KindScope, "worker %d belongs to another room", workerID)
	}
	room, err := e.requireRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.QueenWorkerID != nil && *room.QueenWorkerID == workerID {
		return errs.New(errs.KindInvalidState, "the queen cannot be deleted")
	}
	e.agents.StopWorker(workerID)
	if err := e.store.DeleteWorker(ctx, workerID); err != nil {
		return err
	}
	e.quorum.OnWorkerDeleted(ctx, roomID)
	e.recordSystem(ctx, roomID, nil, "worker "+w.Name+" left the room")
	return nil
}

func (e *Engine) recordSystem(ctx context.Context, roomID int64, workerID *int64, summary string) {
	if err := e.store.AppendActivity(ctx, &store.Activity{
		RoomID:    roomID,
		WorkerID:  workerID,
		EventType: "system",
		Summary:   summary,
	}); err != nil {
		slog.Debug("engine.activity_failed", "room", roomID, "error", err)
	}
}
