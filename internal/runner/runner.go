// Package runner executes task runs: queued through the concurrency gate,
// into an executor, console streamed, finalized with task bookkeeping.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/executor"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/tools"
)

// Backends maps executor tags to live backends. Tasks pick a backend by
// tag; an empty or unknown tag falls back to the default.
type Backends struct {
	Default executor.Executor
	ByName  map[string]executor.Executor
}

func (b Backends) resolve(tag string) executor.Executor {
	if e, ok := b.ByName[tag]; ok {
		return e
	}
	return b.Default
}

// Runner owns run execution for all rooms.
type Runner struct {
	store    *store.Store
	events   bus.EventPublisher
	cfg      *config.Config
	backends Backends

	gates *gateSet

	mu      sync.Mutex
	active  map[int64]context.CancelFunc // runID -> cancel
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(st *store.Store, events bus.EventPublisher, cfg *config.Config, backends Backends) *Runner {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:    st,
		events:   events,
		cfg:      cfg,
		backends: backends,
		gates:    newGateSet(st),
		active:   make(map[int64]context.CancelFunc),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

// Launch enqueues a run for the task and executes it asynchronously. The
// run's lifetime is bound to the runner, not the caller's request context.
func (r *Runner) Launch(ctx context.Context, task *store.Task, trigger string) {
	run := &store.TaskRun{
		TaskID:        task.ID,
		CorrelationID: uuid.NewString(),
		Trigger:       trigger,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		slog.Error("runner.enqueue_failed", "task", task.ID, "error", err)
		return
	}

	runCtx, cancelRun := context.WithCancel(r.baseCtx)
	r.mu.Lock()
	r.active[run.ID] = cancelRun
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			cancelRun()
			r.mu.Lock()
			delete(r.active, run.ID)
			r.mu.Unlock()
		}()
		r.execute(runCtx, task, run)
	}()
}

// CancelRun aborts a queued or running run.
func (r *Runner) CancelRun(runID int64) error {
	r.mu.Lock()
	cancelRun, ok := r.active[runID]
	r.mu.Unlock()
	if !ok {
		return errs.New(errs.KindNotFound, "run %d is not active", runID)
	}
	cancelRun()
	return nil
}

// Shutdown cancels all in-flight runs and waits for their finalization.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) execute(ctx context.Context, task *store.Task, run *store.TaskRun) {
	// Hold a room slot before going anywhere near the executor.
	release, err := r.gates.acquire(ctx, task.RoomID)
	if err != nil {
		r.finalize(task, run, store.RunOutcome{Status: store.RunCancelled, ErrorMessage: "cancelled while queued"})
		return
	}
	defer release()

	if err := r.store.MarkRunRunning(ctx, run.ID); err != nil {
		slog.Warn("runner.start_failed", "run", run.ID, "error", err)
		return
	}
	r.broadcast(bus.EventRunStarted, task, run)

	timeout := time.Duration(task.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.Executor.TimeoutMinutes) * time.Minute
	}

	prompt := task.Prompt
	if task.LearnedContext != "" {
		prompt = "Learned context from earlier runs:\n" + task.LearnedContext + "\n\n" + prompt
	}
	if run.Trigger == store.TriggerWebhook && task.TriggerConfig != "" && task.TriggerConfig != "{}" {
		prompt += "\n\nWebhook payload:\n" + task.TriggerConfig
	}

	req := executor.Request{
		Prompt:          prompt,
		MaxTurns:        task.MaxTurns,
		Timeout:         timeout,
		AllowedTools:    decodeToolList(task.AllowedTools),
		DisallowedTools: decodeToolList(task.DisallowedTools),
	}
	if task.SessionContinuity && task.SessionID != "" {
		req.SessionID = task.SessionID
	}

	scope := tools.Scope{RoomID: task.RoomID, WorkerID: task.WorkerID, RunID: &run.ID}
	res, err := r.backends.resolve(task.Executor).Run(tools.WithScope(ctx, scope), req, r.callbacks(run.ID))

	outcome := r.classify(ctx, res, err)
	if res != nil {
		outcome.SessionID = res.SessionID
		if outcome.Status == store.RunCompleted {
			outcome.Result = res.Text
			outcome.ResultFile = r.writeResultFile(run.ID, res.Text)
		}
	}
	finished := r.finalize(task, run, outcome)
	r.broadcast(bus.EventRunFinished, task, run)

	if finished != nil && finished.Status == store.RunCompleted {
		r.maybeDistill(task.ID)
	}
}

// classify maps the executor outcome onto a terminal run status.
func (r *Runner) classify(ctx context.Context, res *executor.Result, err error) store.RunOutcome {
	switch {
	case ctx.Err() == context.Canceled:
		return store.RunOutcome{Status: store.RunCancelled, ErrorMessage: "cancelled"}
	case err != nil:
		return store.RunOutcome{Status: store.RunFailed, ErrorMessage: err.Error()}
	case res.TimedOut:
		exit := int64(res.ExitCode)
		return store.RunOutcome{Status: store.RunTimedOut, ExitCode: &exit, ErrorMessage: "run timed out"}
	case res.ExitCode != 0:
		exit := int64(res.ExitCode)
		return store.RunOutcome{
			Status:       store.RunFailed,
			ExitCode:     &exit,
			ErrorMessage: fmt.Sprintf("exit code %d", res.ExitCode),
		}
	default:
		exit := int64(0)
		return store.RunOutcome{Status: store.RunCompleted, ExitCode: &exit}
	}
}

func (r *Runner) finalize(task *store.Task, run *store.TaskRun, outcome store.RunOutcome) *store.TaskRun {
	outcome.ErrorCap = int64(r.cfg.Tasks.ErrorCountCap)
	// Finalization must land even when the run context is gone.
	finished, err := r.store.FinalizeRun(context.Background(), run.ID, outcome)
	if err != nil {
		slog.Error("runner.finalize_failed", "run", run.ID, "error", err)
		return nil
	}
	summary := fmt.Sprintf("run %d of task %q %s", run.ID, task.Name, finished.Status)
	payload, _ := json.Marshal(map[string]any{"runId": run.ID, "taskId": task.ID, "status": finished.Status})
	if err := r.store.AppendActivity(context.Background(), &store.Activity{
		RoomID:    task.RoomID,
		WorkerID:  task.WorkerID,
		EventType: "run",
		Summary:   summary,
		Payload:   string(payload),
	}); err != nil {
		slog.Warn("runner.activity_failed", "run", run.ID, "error", err)
	}
	return finished
}

// callbacks streams executor output into the run's console log.
func (r *Runner) callbacks(runID int64) executor.Callbacks {
	logLine := func(entryType, content string) {
		if err := r.store.AppendConsoleLog(context.Background(), runID, entryType, content); err != nil {
			slog.Debug("runner.console_append_failed", "run", runID, "error", err)
		}
	}
	return executor.Callbacks{
		OnLog: logLine,
		OnToolCall: func(name string, args map[string]any) {
			compact, _ := json.Marshal(args)
			logLine(store.EntryToolCall, fmt.Sprintf("%s %s", name, compact))
		},
	}
}

// writeResultFile persists the run output as a markdown artifact and
// returns its path, empty on failure.
func (r *Runner) writeResultFile(runID int64, text string) string {
	if text == "" {
		return ""
	}
	dir := r.cfg.ResultsPath()
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("runner.results_dir_failed", "error", err)
		return ""
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.md", runID))
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		slog.Warn("runner.result_write_failed", "run", runID, "error", err)
		return ""
	}
	return path
}

func (r *Runner) broadcast(name string, task *store.Task, run *store.TaskRun) {
	if r.events == nil {
		return
	}
	r.events.Broadcast(bus.Event{Name: name, RoomID: task.RoomID, Payload: run.ID})
}

func decodeToolList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}
