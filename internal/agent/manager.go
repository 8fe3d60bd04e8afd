// Package agent runs worker loops: the autonomous think-act cycles of every
// worker in every active room.
package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/executor"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// Manager owns one goroutine per running worker. Start and stop are
// idempotent; stopping waits for the current cycle to finish.
type Manager struct {
	store  *store.Store
	events bus.EventPublisher
	nudges *bus.NudgeRegistry
	exec   executor.Executor
	tools  executor.Dispatcher
	cfg    *config.Config

	mu      sync.Mutex
	running map[int64]*runningWorker
}

type runningWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(st *store.Store, events bus.EventPublisher, nudges *bus.NudgeRegistry,
	exec executor.Executor, tools executor.Dispatcher, cfg *config.Config) *Manager {
	return &Manager{
		store:   st,
		events:  events,
		nudges:  nudges,
		exec:    exec,
		tools:   tools,
		cfg:     cfg,
		running: make(map[int64]*runningWorker),
	}
}

// StartWorker launches the worker's loop. Already-running workers are left
// alone.
func (m *Manager) StartWorker(ctx context.Context, workerID int64) error {
	w, err := m.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if w == nil {
		return errs.New(errs.KindNotFound, "worker %d not found", workerID)
	}
	if w.RoomID == nil {
		return errs.New(errs.KindInvalidState, "worker %d is not attached to a room", workerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[workerID]; ok {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	rw := &runningWorker{cancel: cancel, done: make(chan struct{})}
	m.running[workerID] = rw

	go func() {
		defer close(rw.done)
		defer m.forget(workerID)
		m.runLoop(loopCtx, *w.RoomID, workerID)
	}()
	slog.Info("agent.worker_started", "worker", workerID, "name", w.Name)
	return nil
}

// StartRoom launches loops for every worker of the room.
func (m *Manager) StartRoom(ctx context.Context, roomID int64) error {
	workers, err := m.store.ListWorkers(ctx, roomID)
	if err != nil {
		return err
	}
	for _, w := range workers {
		if err := m.StartWorker(ctx, w.ID); err != nil {
			return err
		}
	}
	return nil
}

// StopWorker cancels the worker's loop and waits for the running cycle.
func (m *Manager) StopWorker(workerID int64) {
	m.mu.Lock()
	rw, ok := m.running[workerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	rw.cancel()
	<-rw.done
	slog.Info("agent.worker_stopped", "worker", workerID)
}

// StopRoom stops every running worker of the room.
func (m *Manager) StopRoom(ctx context.Context, roomID int64) {
	workers, err := m.store.ListWorkers(ctx, roomID)
	if err != nil {
		slog.Warn("agent.stop_room_list_failed", "room", roomID, "error", err)
		return
	}
	for _, w := range workers {
		m.StopWorker(w.ID)
	}
}

// Restart bounces a worker loop so config changes take effect.
func (m *Manager) Restart(ctx context.Context, workerID int64) error {
	m.StopWorker(workerID)
	return m.StartWorker(ctx, workerID)
}

// Running reports whether the worker's loop is up.
func (m *Manager) Running(workerID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[workerID]
	return ok
}

// Shutdown stops all loops.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.StopWorker(id)
	}
}

func (m *Manager) forget(workerID int64) {
	m.mu.Lock()
	delete(m.running, workerID)
	m.mu.Unlock()
}
