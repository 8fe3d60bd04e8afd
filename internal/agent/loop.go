package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quoroomlabs/quoroom/internal/executor"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/tools"
)

const (
	minCycleGap    = time.Second
	maxBackoffMult = 64
	readRetryGap   = 5 * time.Second
)

// runLoop is one worker's life: snapshot, think, act, sleep, repeat. It
// exits when the context is cancelled or the worker/room disappears.
func (m *Manager) runLoop(ctx context.Context, roomID, workerID int64) {
	nudgeCh := m.nudges.Register(workerID)
	defer m.nudges.Unregister(workerID)

	backoff := 1
	quietSkipLogged := false

	for {
		if ctx.Err() != nil {
			return
		}

		room, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			slog.Warn("agent.room_read_failed", "room", roomID, "error", err)
			if !sleepCtx(ctx, readRetryGap) {
				return
			}
			continue
		}
		if room == nil || room.Status == store.RoomStopped {
			return
		}
		w, err := m.store.GetWorker(ctx, workerID)
		if err != nil || w == nil {
			return
		}

		gap := cycleGap(room, w)

		if room.Status == store.RoomPaused {
			if !sleepCtx(ctx, gap) {
				return
			}
			continue
		}

		if inQuietWindow(time.Now(), room.Config.QuietFrom, room.Config.QuietUntil) {
			if !quietSkipLogged {
				m.recordCycle(ctx, room.ID, w.ID, "quiet hours: cycles suspended")
				quietSkipLogged = true
			}
			if !sleepCtx(ctx, gap) {
				return
			}
			continue
		}
		quietSkipLogged = false

		if err := m.cycle(ctx, room, w); err != nil {
			if ctx.Err() != nil {
				return
			}
			if backoff < maxBackoffMult {
				backoff *= 2
			}
			slog.Warn("agent.cycle_failed", "worker", w.ID, "backoff", backoff, "error", err)
		} else {
			backoff = 1
		}

		wait := gap * time.Duration(backoff)
		if backoff > 1 {
			// Backing off: ignore nudges so a failing executor is not hammered.
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-nudgeCh:
			// Early wake: something in the room wants attention.
		case <-time.After(wait):
		}
	}
}

// cycle runs one think-act iteration.
func (m *Manager) cycle(ctx context.Context, room *store.Room, w *store.Worker) error {
	if err := m.store.SetAgentState(ctx, w.ID, store.AgentThinking); err != nil {
		slog.Debug("agent.state_update_failed", "worker", w.ID, "error", err)
	}
	defer func() {
		if err := m.store.SetAgentState(context.Background(), w.ID, store.AgentIdle); err != nil {
			slog.Debug("agent.state_update_failed", "worker", w.ID, "error", err)
		}
	}()

	env, err := m.buildEnvelope(ctx, room.ID, w)
	if err != nil {
		return fmt.Errorf("build envelope: %w", err)
	}

	role := w.Role
	if room.QueenWorkerID != nil && *room.QueenWorkerID == w.ID {
		role = "queen"
	}
	scopeCtx := tools.WithScope(ctx, tools.Scope{RoomID: room.ID, WorkerID: &w.ID, Role: role})

	maxTurns := w.MaxTurns
	if maxTurns <= 0 {
		maxTurns = room.Config.MaxTurnsPerCycle
	}

	toolCalls := 0
	res, err := m.exec.Run(scopeCtx, executor.Request{
		Prompt:       env.render(room),
		SystemPrompt: w.SystemPrompt,
		Model:        w.Model,
		MaxTurns:     maxTurns,
		AllowedTools: tools.SurfaceForRole(role),
	}, executor.Callbacks{
		OnLog: func(entryType, content string) {
			slog.Debug("agent.cycle_log", "worker", w.ID, "type", entryType)
		},
		OnToolCall: func(name string, args map[string]any) {
			toolCalls++
			slog.Debug("agent.tool_call", "worker", w.ID, "tool", name)
		},
	})
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("cycle timed out after %s", res.Duration.Round(time.Second))
	}

	wip := res.Text
	if len(wip) > 2000 {
		wip = wip[:2000]
	}
	if err := m.store.SetWorkerWIP(ctx, w.ID, wip); err != nil {
		slog.Debug("agent.wip_update_failed", "worker", w.ID, "error", err)
	}
	m.recordCycle(ctx, room.ID, w.ID,
		fmt.Sprintf("cycle: %s, %s", formatToolCalls(toolCalls), res.Duration.Round(time.Millisecond)))
	return nil
}

func (m *Manager) recordCycle(ctx context.Context, roomID, workerID int64, summary string) {
	if err := m.store.AppendActivity(ctx, &store.Activity{
		RoomID:    roomID,
		WorkerID:  &workerID,
		EventType: "cycle",
		Summary:   summary,
	}); err != nil {
		slog.Debug("agent.activity_failed", "worker", workerID, "error", err)
	}
}

func formatToolCalls(n int) string {
	if n == 1 {
		return "1 tool call"
	}
	return fmt.Sprintf("%d tool calls", n)
}

// cycleGap resolves the worker's pacing: worker override, else room config,
// clamped to at least one second.
func cycleGap(room *store.Room, w *store.Worker) time.Duration {
	ms := w.CycleGapMs
	if ms <= 0 {
		ms = room.Config.CycleGapMs
	}
	gap := time.Duration(ms) * time.Millisecond
	if gap < minCycleGap {
		gap = minCycleGap
	}
	return gap
}

// inQuietWindow checks the wall clock against a HH:MM window, inclusive
// start, exclusive end, wrapping midnight when from > until.
func inQuietWindow(now time.Time, from, until string) bool {
	fromMin, okFrom := parseClock(from)
	untilMin, okUntil := parseClock(until)
	if !okFrom || !okUntil || fromMin == untilMin {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()
	if fromMin < untilMin {
		return nowMin >= fromMin && nowMin < untilMin
	}
	return nowMin >= fromMin || nowMin < untilMin
}

func parseClock(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
