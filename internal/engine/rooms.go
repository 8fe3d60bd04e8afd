package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

const defaultChain = "base"

// CreateRoomRequest shapes a room birth. Zero values fall back to config
// and engine defaults.
type CreateRoomRequest struct {
	Name      string
	Objective string
	Model     string
	Chain     string
	Referrer  string
}

// CreateRoom births a room: the room row, its Queen worker, the root goal,
// and a funded-ready wallet land in one transaction, and the Queen's loop
// starts immediately.
func (e *Engine) CreateRoom(ctx context.Context, req CreateRoomRequest) (*store.Room, error) {
	if req.Name == "" {
		return nil, errs.New(errs.KindInvalidInput, "room name is required")
	}
	if req.Objective == "" {
		return nil, errs.New(errs.KindInvalidInput, "room objective is required")
	}
	if existing, err := e.store.GetRoomByName(ctx, req.Name); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errs.New(errs.KindAlreadyExists, "room %q already exists", req.Name)
	}

	chain := req.Chain
	if chain == "" {
		chain = defaultChain
	}
	walletRow, err := e.wallet.NewWalletRow(chain)
	if err != nil {
		return nil, fmt.Errorf("provision wallet: %w", err)
	}

	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("webhook token: %w", err)
	}

	cfg := e.roomDefaults()
	room := &store.Room{
		Name:         req.Name,
		Objective:    req.Objective,
		Visibility:   store.VisibilityPrivate,
		Config:       cfg,
		WebhookToken: hex.EncodeToString(token),
		Referrer:     req.Referrer,
	}
	model := req.Model
	if model == "" {
		model = e.cfg.Executor.Model
	}
	queen := &store.Worker{
		Name:         req.Name + " Queen",
		Role:         "queen",
		SystemPrompt: QueenPrompt(req.Name, req.Objective),
		Model:        model,
	}
	rootGoal := &store.Goal{Description: req.Objective}

	if err := e.store.CreateRoomBundle(ctx, room, queen, rootGoal, walletRow); err != nil {
		return nil, err
	}
	e.events.Broadcast(bus.Event{Name: bus.EventRoomCreated, RoomID: room.ID})
	e.cloudSync.EnsureRegistered(ctx, room)

	if err := e.agents.StartWorker(ctx, queen.ID); err != nil {
		slog.Warn("engine.queen_start_failed", "room", room.ID, "error", err)
	}
	slog.Info("room.created", "room", room.ID, "name", room.Name)
	return room, nil
}

func (e *Engine) roomDefaults() store.RoomConfig {
	cfg := store.DefaultRoomConfig()
	d := e.cfg.Rooms
	if d.QuorumThreshold != "" {
		cfg.QuorumThreshold = d.QuorumThreshold
	}
	if d.TieBreak != "" {
		cfg.TieBreak = d.TieBreak
	}
	if d.VoteTimeoutMinutes > 0 {
		cfg.VoteTimeoutMinutes = d.VoteTimeoutMinutes
	}
	if d.MinVoters > 0 {
		cfg.MinVoters = d.MinVoters
	}
	if d.CycleGapMs > 0 {
		cfg.CycleGapMs = d.CycleGapMs
	}
	if d.MaxTurnsPerCycle > 0 {
		cfg.MaxTurnsPerCycle = d.MaxTurnsPerCycle
	}
	if d.MaxConcurrentTasks > 0 {
		cfg.MaxConcurrentTasks = d.MaxConcurrentTasks
	}
	if d.QuietFrom != "" && d.QuietUntil != "" {
		cfg.QuietFrom, cfg.QuietUntil = d.QuietFrom, d.QuietUntil
	}
	if d.Autonomy != "" {
		cfg.Autonomy = d.Autonomy
	}
	cfg.AutoApproveLowImpact = d.AutoApproveLowImpact
	return cfg
}

// PauseRoom suspends the room's loops. Pausing a paused room is a no-op.
func (e *Engine) PauseRoom(ctx context.Context, roomID int64) error {
	room, err := e.requireRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == store.RoomPaused {
		return nil
	}
	if room.Status == store.RoomStopped {
		return errs.New(errs.KindInvalidState, "room %d is stopped", roomID)
	}
	if err := e.store.UpdateRoomStatus(ctx, roomID, store.RoomPaused); err != nil {
		return err
	}
	e.events.Broadcast(bus.Event{Name: bus.EventRoomStatus, RoomID: roomID, Payload: store.RoomPaused})
	slog.Info("room.paused", "room", roomID)
	return nil
}

// ResumeRoom reactivates a paused room and restarts its loops.
func (e *Engine) ResumeRoom(ctx context.Context, roomID int64) error {
	room, err := e.requireRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Status == store.RoomActive {
		return nil
	}
	if err := e.store.UpdateRoomStatus(ctx, roomID, store.RoomActive); err != nil {
		return err
	}
	if err := e.agents.StartRoom(ctx, roomID); err != nil {
		return err
	}
	e.scheduler.Rearm()
	e.events.Broadcast(bus.Event{Name: bus.EventRoomStatus, RoomID: roomID, Payload: store.RoomActive})
	slog.Info("room.resumed", "room", roomID)
	return nil
}

// StopRoom terminates the room's loops; the room's state stays readable.
func (e *Engine) StopRoom(ctx context.Context, roomID int64) error {
	if _, err := e.requireRoom(ctx, roomID); err != nil {
		return err
	}
	if err := e.store.UpdateRoomStatus(ctx, roomID, store.RoomStopped); err != nil {
		return err
	}
	e.agents.StopRoom(ctx, roomID)
	e.events.Broadcast(bus.Event{Name: bus.EventRoomStatus, RoomID: roomID, Payload: store.RoomStopped})
	slog.Info("room.stopped", "room", roomID)
	return nil
}

// DeleteRoom stops the loops and removes the room; the schema cascades to
// every owned row.
func (e *Engine) DeleteRoom(ctx context.Context, roomID int64) error {
	if _, err := e.requireRoom(ctx, roomID); err != nil {
		return err
	}
	e.agents.StopRoom(ctx, roomID)
	if err := e.store.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	slog.Info("room.deleted", "room", roomID)
	return nil
}

// ConfigureRoom applies a settings patch. Implements the configure_room
// tool; the quiet window is validated here so a from==until band (which
// would read as always-on) never lands in the config.
func (e *Engine) ConfigureRoom(ctx context.Context, roomID int64, patch map[string]any) (*store.RoomConfig, error) {
	room, err := e.requireRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	cfg := room.Config
	if err := applyConfigPatch(&cfg, patch); err != nil {
		return nil, err
	}
	if err := validateQuietWindow(cfg.QuietFrom, cfg.QuietUntil); err != nil {
		return nil, err
	}
	if err := e.store.UpdateRoomConfig(ctx, roomID, cfg); err != nil {
		return nil, err
	}
	// Pacing changes apply on each loop's next read of the room; no restart
	// needed.
	e.nudgeRoom(ctx, roomID)
	slog.Info("room.configured", "room", roomID)
	return &cfg, nil
}

// nudgeRoom wakes every worker loop in the room.
func (e *Engine) nudgeRoom(ctx context.Context, roomID int64) {
	workers, err := e.store.ListWorkers(ctx, roomID)
	if err != nil {
		slog.Warn("engine.nudge_room_failed", "room", roomID, "error", err)
		return
	}
	for _, w := range workers {
		e.nudges.Nudge(w.ID)
	}
}

func (e *Engine) requireRoom(ctx context.Context, roomID int64) (*store.Room, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, errs.New(errs.KindNotFound, "room %d not found", roomID)
	}
	return room, nil
}
