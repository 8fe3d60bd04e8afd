// Package scheduler owns task creation and trigger dispatch: cron ticks,
// once timers, manual fires, and webhook fires all funnel through here into
// the runner.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/tools"
)

// Launcher starts a run for a claimed task. Implemented by the runner.
type Launcher interface {
	Launch(ctx context.Context, task *store.Task, trigger string)
}

// Service validates and creates tasks and drives the trigger loops.
type Service struct {
	store    *store.Store
	events   bus.EventPublisher
	launcher Launcher
	gron     *gronx.Gronx
	source   string // deployment source tag stamped into new tasks

	rearm chan struct{}
}

func New(st *store.Store, events bus.EventPublisher, launcher Launcher, source string) *Service {
	return &Service{
		store:    st,
		events:   events,
		launcher: launcher,
		gron:     gronx.New(),
		source:   source,
		rearm:    make(chan struct{}, 1),
	}
}

// ScheduleTask validates the trigger shape and creates the task. Cron
// expressions must parse; once tasks must fire in the future; webhook tasks
// get a fresh token.
func (s *Service) ScheduleTask(ctx context.Context, spec tools.TaskSpec) (*store.Task, error) {
	if spec.Name == "" || spec.Prompt == "" {
		return nil, errs.New(errs.KindInvalidInput, "task name and prompt are required")
	}
	task := &store.Task{
		RoomID:            spec.RoomID,
		WorkerID:          spec.WorkerID,
		Name:              spec.Name,
		Prompt:            spec.Prompt,
		TriggerType:       spec.TriggerType,
		Executor:          spec.Executor,
		Status:            store.TaskActive,
		MaxRuns:           spec.MaxRuns,
		SessionContinuity: spec.SessionContinuity,
		TimeoutMinutes:    spec.TimeoutMinutes,
		MaxTurns:          spec.MaxTurns,
	}

	switch spec.TriggerType {
	case store.TriggerCron:
		if !s.gron.IsValid(spec.CronExpression) {
			return nil, errs.New(errs.KindInvalidInput, "invalid_cron: %q", spec.CronExpression)
		}
		task.CronExpression = spec.CronExpression
	case store.TriggerOnce:
		if spec.ScheduledAt == nil {
			return nil, errs.New(errs.KindInvalidInput, "once task needs scheduled_at")
		}
		if *spec.ScheduledAt <= store.NowMs() {
			return nil, errs.New(errs.KindInvalidInput, "scheduled_at is in the past")
		}
		task.ScheduledAt = spec.ScheduledAt
	case store.TriggerManual:
		// fired on demand only
	case store.TriggerWebhook:
		task.WebhookToken = uuid.NewString()
	default:
		return nil, errs.New(errs.KindInvalidInput, "unknown trigger type %q", spec.TriggerType)
	}

	if s.source != "" {
		task.TriggerConfig = mergeSource(task.TriggerConfig, s.source)
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.record(ctx, task, fmt.Sprintf("task scheduled: %s (%s)", task.Name, task.TriggerType))
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: bus.EventTaskCreated, RoomID: task.RoomID, Payload: task.ID})
	}
	s.Rearm()
	return task, nil
}

// FireManual runs a manual, cron, or webhook task right now, bypassing the
// schedule but not the concurrency gate.
func (s *Service) FireManual(ctx context.Context, roomID, taskID int64) (*store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, errs.New(errs.KindNotFound, "task %d not found", taskID)
	}
	if task.RoomID != roomID {
		return nil, errs.New(errs.KindScope, "task %d belongs to another room", taskID)
	}
	if task.Status != store.TaskActive {
		return nil, errs.New(errs.KindInvalidState, "task %d is %s", taskID, task.Status)
	}
	s.launcher.Launch(ctx, task, store.TriggerManual)
	return task, nil
}

// FireWebhook resolves a webhook token to its task and launches it. A
// non-empty payload is stored as the task's trigger config so the run sees
// the delivery body.
func (s *Service) FireWebhook(ctx context.Context, token, payload string) (*store.Task, error) {
	task, err := s.store.GetTaskByWebhookToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if task == nil || task.Status != store.TaskActive {
		return nil, errs.New(errs.KindNotFound, "no active task for token")
	}
	if payload != "" {
		if err := s.store.UpdateTask(ctx, task.ID, map[string]any{"trigger_config": payload}); err != nil {
			return nil, err
		}
		task.TriggerConfig = payload
	}
	s.launcher.Launch(ctx, task, store.TriggerWebhook)
	return task, nil
}

// PauseTask and ResumeTask flip the task status; paused tasks never fire.
func (s *Service) PauseTask(ctx context.Context, roomID, taskID int64) error {
	return s.setStatus(ctx, roomID, taskID, store.TaskPaused)
}

func (s *Service) ResumeTask(ctx context.Context, roomID, taskID int64) error {
	if err := s.setStatus(ctx, roomID, taskID, store.TaskActive); err != nil {
		return err
	}
	s.Rearm()
	return nil
}

func (s *Service) setStatus(ctx context.Context, roomID, taskID int64, status string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return errs.New(errs.KindNotFound, "task %d not found", taskID)
	}
	if task.RoomID != roomID {
		return errs.New(errs.KindScope, "task %d belongs to another room", taskID)
	}
	return s.store.UpdateTask(ctx, taskID, map[string]any{"status": status})
}

// Rearm pokes the dispatch loop so new or resumed tasks are reconsidered
// without waiting for the next tick.
func (s *Service) Rearm() {
	select {
	case s.rearm <- struct{}{}:
	default:
	}
}

// mergeSource stamps the deployment source into the trigger config JSON,
// preserving whatever keys are already there.
func mergeSource(raw, source string) string {
	obj := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			obj = map[string]any{}
		}
	}
	obj["source"] = source
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return string(out)
}

func (s *Service) record(ctx context.Context, task *store.Task, summary string) {
	payload, _ := json.Marshal(map[string]any{"taskId": task.ID, "trigger": task.TriggerType})
	if err := s.store.AppendActivity(ctx, &store.Activity{
		RoomID:    task.RoomID,
		WorkerID:  task.WorkerID,
		EventType: "task",
		Summary:   summary,
		Payload:   string(payload),
	}); err != nil {
		slog.Warn("scheduler.activity_failed", "task", task.ID, "error", err)
	}
}
