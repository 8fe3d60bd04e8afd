package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quoroomlabs/quoroom/internal/executor"
	"github.com/quoroomlabs/quoroom/internal/store"
)

const distillTimeout = 2 * time.Minute

// maybeDistill refreshes a recurring task's learned context after enough
// successful runs have accumulated. Runs after the configured warmup, then
// on a fixed cadence.
func (r *Runner) maybeDistill(taskID int64) {
	ctx, cancel := context.WithTimeout(r.baseCtx, distillTimeout)
	defer cancel()

	task, err := r.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return
	}
	after := int64(r.cfg.Tasks.LearnAfterRuns)
	every := int64(r.cfg.Tasks.LearnEveryRuns)
	if task.RunCount < after {
		return
	}
	if task.RunCount != after && (every <= 0 || task.RunCount%every != 0) {
		return
	}

	runs, err := r.store.ListRuns(ctx, taskID, r.cfg.Tasks.LearnWindow)
	if err != nil || len(runs) == 0 {
		return
	}

	memo, err := r.distill(ctx, task, runs)
	if err != nil {
		slog.Debug("runner.distill_failed", "task", taskID, "error", err)
		return
	}
	if memo == "" {
		return
	}
	if len(memo) > r.cfg.Tasks.LearnedMemoChars {
		memo = memo[:r.cfg.Tasks.LearnedMemoChars]
	}
	if err := r.store.UpdateTask(ctx, taskID, map[string]any{"learned_context": memo}); err != nil {
		slog.Warn("runner.learned_update_failed", "task", taskID, "error", err)
		return
	}
	slog.Info("runner.learned_context_updated", "task", taskID, "runs", task.RunCount)
}

// distill asks the executor for a compact memo over the recent run outputs.
// Single turn, no tools.
func (r *Runner) distill(ctx context.Context, task *store.Task, runs []store.TaskRun) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\nPrompt: %s\n\nRecent run results, newest first:\n", task.Name, task.Prompt)
	for _, run := range runs {
		result := run.Result
		if result == "" && run.ErrorMessage != "" {
			result = "(failed: " + run.ErrorMessage + ")"
		}
		if len(result) > 2000 {
			result = result[:2000]
		}
		fmt.Fprintf(&sb, "--- run %d (%s)\n%s\n", run.ID, run.Status, result)
	}
	fmt.Fprintf(&sb,
		"\nWrite a memo of at most %d characters with durable lessons for future runs of this task: "+
			"what worked, what to avoid, and any stable facts discovered. Output only the memo.",
		r.cfg.Tasks.LearnedMemoChars)

	res, err := r.backends.resolve(task.Executor).Run(ctx, executor.Request{
		Prompt:   sb.String(),
		MaxTurns: 1,
		Timeout:  distillTimeout,
	}, executor.Callbacks{})
	if err != nil {
		return "", err
	}
	if res.TimedOut || res.ExitCode != 0 {
		return "", fmt.Errorf("distillation run did not complete")
	}
	return strings.TrimSpace(res.Text), nil
}
