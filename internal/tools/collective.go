package tools

import (
	"context"
	"fmt"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// WorkerSpec is the shape of a create_worker call.
type WorkerSpec struct {
	Name         string
	Role         string
	SystemPrompt string
	Model        string
	CycleGapMs   int
	MaxTurns     int
}

// WorkerAdmin is the slice of the engine the worker-management tools need:
// creating a worker also starts its loop, updating one may restart it.
type WorkerAdmin interface {
	CreateWorker(ctx context.Context, roomID int64, spec WorkerSpec) (*store.Worker, error)
	UpdateWorker(ctx context.Context, roomID, workerID int64, updates map[string]any) (*store.Worker, error)
}

// TaskSpec is the shape of a schedule_task call.
type TaskSpec struct {
	RoomID            int64
	WorkerID          *int64
	Name              string
	Prompt            string
	TriggerType       string
	CronExpression    string
	ScheduledAt       *int64
	Executor          string
	MaxRuns           int64
	SessionContinuity bool
	TimeoutMinutes    int
	MaxTurns          int
}

// TaskAdmin schedules delegated work. Implemented by the scheduler service.
type TaskAdmin interface {
	ScheduleTask(ctx context.Context, spec TaskSpec) (*store.Task, error)
}

// RoomAdmin applies room configuration changes. Implemented by the engine,
// which owns validation and loop re-tuning.
type RoomAdmin interface {
	ConfigureRoom(ctx context.Context, roomID int64, patch map[string]any) (*store.RoomConfig, error)
}

// RegisterCollectiveTools wires the queen-only management tools.
func RegisterCollectiveTools(r *Registry, workers WorkerAdmin, tasks TaskAdmin, rooms RoomAdmin) {
	r.Register(&createWorkerTool{workers})
	r.Register(&updateWorkerTool{workers})
	r.Register(&scheduleTaskTool{tasks})
	r.Register(&configureRoomTool{rooms})
}

type createWorkerTool struct{ admin WorkerAdmin }

func (t *createWorkerTool) Name() string { return "create_worker" }
func (t *createWorkerTool) Description() string {
	return "Add a worker agent to the room and start its loop."
}
func (t *createWorkerTool) Parameters() map[string]any {
	return schema([]string{"name", "system_prompt"}, map[string]any{
		"name":          prop("string", "Unique worker name within the room."),
		"role":          prop("string", "Worker specialty, e.g. 'researcher'."),
		"system_prompt": prop("string", "The worker's standing instructions."),
		"model":         prop("string", "Model tag override; empty uses the room default."),
		"cycle_gap_ms":  prop("number", "Gap between loop cycles in milliseconds."),
		"max_turns":     prop("number", "Turn budget per cycle."),
	})
}

func (t *createWorkerTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return "", err
	}
	systemPrompt, err := requireString(args, "system_prompt")
	if err != nil {
		return "", err
	}
	w, err := t.admin.CreateWorker(ctx, sc.RoomID, WorkerSpec{
		Name:         name,
		Role:         stringArg(args, "role"),
		SystemPrompt: systemPrompt,
		Model:        stringArg(args, "model"),
		CycleGapMs:   intArg(args, "cycle_gap_ms", 0),
		MaxTurns:     intArg(args, "max_turns", 0),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("worker %d (%s) created and running", w.ID, w.Name), nil
}

type updateWorkerTool struct{ admin WorkerAdmin }

func (t *updateWorkerTool) Name() string { return "update_worker" }
func (t *updateWorkerTool) Description() string {
	return "Change a worker's prompt, model, role, or pacing. Provide only the fields to change."
}
func (t *updateWorkerTool) Parameters() map[string]any {
	return schema([]string{"worker_id"}, map[string]any{
		"worker_id":     prop("number", "Worker to update."),
		"role":          prop("string", "New role."),
		"system_prompt": prop("string", "New standing instructions."),
		"model":         prop("string", "New model tag."),
		"cycle_gap_ms":  prop("number", "New cycle gap in milliseconds."),
		"max_turns":     prop("number", "New per-cycle turn budget."),
	})
}

func (t *updateWorkerTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	workerID, err := int64Arg(args, "worker_id")
	if err != nil {
		return "", err
	}
	updates := make(map[string]any)
	for _, key := range []string{"role", "system_prompt", "model"} {
		if v, ok := args[key].(string); ok && v != "" {
			updates[key] = v
		}
	}
	for _, key := range []string{"cycle_gap_ms", "max_turns"} {
		if v, ok := args[key].(float64); ok {
			updates[key] = int(v)
		}
	}
	if len(updates) == 0 {
		return "", errs.New(errs.KindInvalidInput, "no fields to update")
	}
	w, err := t.admin.UpdateWorker(ctx, sc.RoomID, workerID, updates)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("worker %d (%s) updated", w.ID, w.Name), nil
}

type scheduleTaskTool struct{ admin TaskAdmin }

func (t *scheduleTaskTool) Name() string { return "schedule_task" }
func (t *scheduleTaskTool) Description() string {
	return "Delegate work as a task: cron for recurring, once for a single future run, manual for on-demand, webhook for externally triggered."
}
func (t *scheduleTaskTool) Parameters() map[string]any {
	return schema([]string{"name", "prompt", "trigger_type"}, map[string]any{
		"name":   prop("string", "Task name."),
		"prompt": prop("string", "Self-contained prompt the task runs with."),
		"trigger_type": map[string]any{
			"type":        "string",
			"enum":        []string{store.TriggerCron, store.TriggerOnce, store.TriggerManual, store.TriggerWebhook},
			"description": "How the task fires.",
		},
		"cron_expression":    prop("string", "Cron schedule, required for cron tasks."),
		"scheduled_at":       prop("number", "Unix ms fire time, required for once tasks. Must be in the future."),
		"executor":           prop("string", "Executor tag: 'api' or 'cli'. Empty uses the default."),
		"max_runs":           prop("number", "Stop the task after this many runs. 0 = unlimited."),
		"session_continuity": prop("boolean", "Resume the same conversation across runs."),
		"timeout_minutes":    prop("number", "Per-run timeout."),
		"max_turns":          prop("number", "Per-run turn budget."),
		"worker_id":          prop("number", "Worker the task is attributed to."),
	})
}

func (t *scheduleTaskTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return "", err
	}
	prompt, err := requireString(args, "prompt")
	if err != nil {
		return "", err
	}
	triggerType, err := requireString(args, "trigger_type")
	if err != nil {
		return "", err
	}
	spec := TaskSpec{
		RoomID:            sc.RoomID,
		Name:              name,
		Prompt:            prompt,
		TriggerType:       triggerType,
		CronExpression:    stringArg(args, "cron_expression"),
		Executor:          stringArg(args, "executor"),
		MaxRuns:           int64(intArg(args, "max_runs", 0)),
		SessionContinuity: boolArg(args, "session_continuity"),
		TimeoutMinutes:    intArg(args, "timeout_minutes", 0),
		MaxTurns:          intArg(args, "max_turns", 0),
	}
	if v, ok := args["scheduled_at"].(float64); ok {
		at := int64(v)
		spec.ScheduledAt = &at
	}
	if v, ok := args["worker_id"].(float64); ok {
		id := int64(v)
		spec.WorkerID = &id
	} else {
		spec.WorkerID = sc.WorkerID
	}
	task, err := t.admin.ScheduleTask(ctx, spec)
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("task %d (%s) scheduled, trigger %s", task.ID, task.Name, task.TriggerType)
	if task.TriggerType == store.TriggerWebhook {
		out += "; webhook token issued"
	}
	return out, nil
}

type configureRoomTool struct{ admin RoomAdmin }

func (t *configureRoomTool) Name() string { return "configure_room" }
func (t *configureRoomTool) Description() string {
	return "Change room settings: quorum threshold, vote timeout, cycle pacing, concurrency cap, quiet hours, autonomy."
}
func (t *configureRoomTool) Parameters() map[string]any {
	return schema(nil, map[string]any{
		"quorum_threshold": map[string]any{
			"type":        "string",
			"enum":        []string{store.ThresholdMajority, store.ThresholdSupermajority, store.ThresholdUnanimous},
			"description": "Voting threshold for new decisions.",
		},
		"tie_break": map[string]any{
			"type":        "string",
			"enum":        []string{store.TieBreakExpire, store.TieBreakQueen},
			"description": "Final-tie handling.",
		},
		"vote_timeout_minutes":    prop("number", "Voting round length."),
		"min_voters":              prop("number", "Participation floor for a valid round."),
		"cycle_gap_ms":            prop("number", "Default worker cycle gap."),
		"max_turns_per_cycle":     prop("number", "Default per-cycle turn budget."),
		"max_concurrent_tasks":    prop("number", "Task runs allowed at once."),
		"quiet_from":              prop("string", "Quiet hours start, HH:MM. Set with quiet_until."),
		"quiet_until":             prop("string", "Quiet hours end, HH:MM."),
		"autonomy":                prop("string", "Autonomy mode: full, semi, manual."),
		"auto_approve_low_impact": prop("boolean", "Skip voting for low_impact proposals."),
	})
}

func (t *configureRoomTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", errs.New(errs.KindInvalidInput, "no settings to change")
	}
	cfg, err := t.admin.ConfigureRoom(ctx, sc.RoomID, args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("room configured: threshold=%s timeout=%dm cycleGap=%dms quiet=%s..%s",
		cfg.QuorumThreshold, cfg.VoteTimeoutMinutes, cfg.CycleGapMs, cfg.QuietFrom, cfg.QuietUntil), nil
}
