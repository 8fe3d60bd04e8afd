package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/quoroomlabs/quoroom/internal/store"
)

const tickInterval = time.Second

// Run drives the trigger loop: every second, fire whatever became due.
// Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.dispatchDue(ctx)
		case <-s.rearm:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue claims and launches every due cron and once task. The claim
// is an atomic store update keyed on the due instant, so overlapping
// scheduler passes (or a restart mid-minute) fire each instant once.
func (s *Service) dispatchDue(ctx context.Context) {
	tasks, err := s.store.ListDueCandidates(ctx)
	if err != nil {
		slog.Warn("scheduler.poll_failed", "error", err)
		return
	}
	now := time.Now()
	nowMs := now.UnixMilli()

	for i := range tasks {
		task := tasks[i]
		var dueFloor int64

		switch task.TriggerType {
		case store.TriggerCron:
			due, err := s.gron.IsDue(task.CronExpression, now)
			if err != nil || !due {
				continue
			}
			dueFloor = now.Truncate(time.Minute).UnixMilli()
		case store.TriggerOnce:
			if task.ScheduledAt == nil || *task.ScheduledAt > nowMs {
				continue
			}
			dueFloor = *task.ScheduledAt
		default:
			continue
		}

		claimed, err := s.store.ClaimDueTask(ctx, task.ID, dueFloor, nowMs)
		if err != nil {
			slog.Warn("scheduler.claim_failed", "task", task.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		s.launcher.Launch(ctx, &task, task.TriggerType)
	}
}
