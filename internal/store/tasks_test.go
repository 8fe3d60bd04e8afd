package store

import (
	"context"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

func newTestTask(t *testing.T, s *Store, roomID int64, mutate func(*Task)) *Task {
	t.Helper()
	task := &Task{RoomID: roomID, Name: "check prices", Prompt: "check prices",
		TriggerType: TriggerManual}
	if mutate != nil {
		mutate(task)
	}
	if err := s.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func startRun(t *testing.T, s *Store, taskID int64) *TaskRun {
	t.Helper()
	ctx := context.Background()
	run := &TaskRun{TaskID: taskID, Trigger: TriggerManual}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.MarkRunRunning(ctx, run.ID); err != nil {
		t.Fatalf("MarkRunRunning: %v", err)
	}
	return run
}

func TestFinalizeRunSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, func(tk *Task) {
		tk.TriggerType = TriggerCron
		tk.CronExpression = "* * * * *"
		tk.SessionContinuity = true
	})
	run := startRun(t, s, task.ID)

	got, err := s.FinalizeRun(ctx, run.ID, RunOutcome{
		Status: RunCompleted, Result: "all good", SessionID: "sess-1", ErrorCap: 10,
	})
	if err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}
	if got.Status != RunCompleted || got.FinishedAt == nil || got.DurationMs == nil {
		t.Fatalf("run = %+v", got)
	}

	tk, _ := s.GetTask(ctx, task.ID)
	if tk.RunCount != 1 {
		t.Errorf("run_count = %d, want 1", tk.RunCount)
	}
	if tk.ErrorCount != 0 {
		t.Errorf("error_count = %d, want 0", tk.ErrorCount)
	}
	if tk.SessionID != "sess-1" {
		t.Errorf("session_id = %q, want sess-1", tk.SessionID)
	}
	if tk.Status != TaskActive {
		t.Errorf("status = %q, want active", tk.Status)
	}
}

func TestFinalizeRunFailureCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, func(tk *Task) {
		tk.TriggerType = TriggerCron
		tk.CronExpression = "* * * * *"
	})

	for i := 0; i < 3; i++ {
		run := startRun(t, s, task.ID)
		if _, err := s.FinalizeRun(ctx, run.ID, RunOutcome{
			Status: RunFailed, ErrorMessage: "boom", ErrorCap: 3,
		}); err != nil {
			t.Fatalf("FinalizeRun %d: %v", i, err)
		}
	}

	tk, _ := s.GetTask(ctx, task.ID)
	if tk.ErrorCount != 3 {
		t.Errorf("error_count = %d, want 3", tk.ErrorCount)
	}
	if tk.Status != TaskPaused {
		t.Errorf("status = %q, want paused at the error cap", tk.Status)
	}
}

func TestFinalizeRunSuccessResetsErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, func(tk *Task) {
		tk.TriggerType = TriggerCron
		tk.CronExpression = "* * * * *"
	})

	run := startRun(t, s, task.ID)
	if _, err := s.FinalizeRun(ctx, run.ID, RunOutcome{Status: RunFailed, ErrorCap: 10}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	run = startRun(t, s, task.ID)
	if _, err := s.FinalizeRun(ctx, run.ID, RunOutcome{Status: RunCompleted, ErrorCap: 10}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	tk, _ := s.GetTask(ctx, task.ID)
	if tk.ErrorCount != 0 {
		t.Errorf("error_count = %d, want reset to 0", tk.ErrorCount)
	}
}

func TestFinalizeRunMaxRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, func(tk *Task) {
		tk.TriggerType = TriggerCron
		tk.CronExpression = "* * * * *"
		tk.MaxRuns = 2
	})

	for i := 0; i < 2; i++ {
		run := startRun(t, s, task.ID)
		if _, err := s.FinalizeRun(ctx, run.ID, RunOutcome{Status: RunCompleted}); err != nil {
			t.Fatalf("FinalizeRun %d: %v", i, err)
		}
	}

	tk, _ := s.GetTask(ctx, task.ID)
	if tk.Status != TaskCompleted {
		t.Errorf("status = %q, want completed after max runs", tk.Status)
	}
	if tk.RunCount != 2 {
		t.Errorf("run_count = %d, want 2", tk.RunCount)
	}
}

func TestFinalizeRunOnceCompletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	at := NowMs()
	task := newTestTask(t, s, room.ID, func(tk *Task) {
		tk.TriggerType = TriggerOnce
		tk.ScheduledAt = &at
	})
	run := startRun(t, s, task.ID)

	if _, err := s.FinalizeRun(ctx, run.ID, RunOutcome{Status: RunCompleted}); err != nil {
		t.Fatalf("FinalizeRun: %v", err)
	}
	tk, _ := s.GetTask(ctx, task.ID)
	if tk.Status != TaskCompleted {
		t.Errorf("once task status = %q, want completed", tk.Status)
	}
}

func TestFinalizeRunTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, nil)
	run := startRun(t, s, task.ID)

	if _, err := s.FinalizeRun(ctx, run.ID, RunOutcome{Status: RunCompleted}); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	_, err := s.FinalizeRun(ctx, run.ID, RunOutcome{Status: RunFailed})
	if !errs.IsKind(err, errs.KindInvalidState) {
		t.Fatalf("err = %v, want invalid_state", err)
	}
}

func TestClaimDueTaskDedupes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, func(tk *Task) {
		tk.TriggerType = TriggerCron
		tk.CronExpression = "* * * * *"
	})

	now := NowMs()
	minuteFloor := now - now%60_000

	claimed, err := s.ClaimDueTask(ctx, task.ID, minuteFloor, now)
	if err != nil {
		t.Fatalf("ClaimDueTask: %v", err)
	}
	if !claimed {
		t.Fatal("first claim should win")
	}

	// Same minute, second scheduler pass.
	claimed, err = s.ClaimDueTask(ctx, task.ID, minuteFloor, now+1000)
	if err != nil {
		t.Fatalf("ClaimDueTask again: %v", err)
	}
	if claimed {
		t.Fatal("second claim in the same minute should lose")
	}

	// Next minute claims fine.
	claimed, err = s.ClaimDueTask(ctx, task.ID, minuteFloor+60_000, now+61_000)
	if err != nil {
		t.Fatalf("ClaimDueTask next minute: %v", err)
	}
	if !claimed {
		t.Fatal("next minute claim should win")
	}
}

func TestUpdateTaskUnknownColumn(t *testing.T) {
	s := newTestStore(t)
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, nil)

	err := s.UpdateTask(context.Background(), task.ID, map[string]any{"webhook_token": "nope"})
	if !errs.IsKind(err, errs.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestWebhookTokenLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, func(tk *Task) {
		tk.TriggerType = TriggerWebhook
		tk.WebhookToken = "tok-abc123"
	})

	got, err := s.GetTaskByWebhookToken(ctx, "tok-abc123")
	if err != nil {
		t.Fatalf("GetTaskByWebhookToken: %v", err)
	}
	if got == nil || got.ID != task.ID {
		t.Fatalf("got %+v, want task %d", got, task.ID)
	}

	missing, err := s.GetTaskByWebhookToken(ctx, "")
	if err != nil {
		t.Fatalf("empty token lookup: %v", err)
	}
	if missing != nil {
		t.Fatal("empty token must never match")
	}
}

func TestConsoleLogSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	task := newTestTask(t, s, room.ID, nil)
	run := startRun(t, s, task.ID)

	for _, entry := range []string{"starting", "tool: web_search", "finished"} {
		if err := s.AppendConsoleLog(ctx, run.ID, EntryStdout, entry); err != nil {
			t.Fatalf("AppendConsoleLog: %v", err)
		}
	}

	logs, err := s.ListConsoleLogs(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("ListConsoleLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("got %d entries, want 3", len(logs))
	}
	for i, l := range logs {
		if l.Seq != int64(i+1) {
			t.Errorf("entry %d seq = %d, want %d", i, l.Seq, i+1)
		}
	}

	tail, err := s.ListConsoleLogs(ctx, run.ID, 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 1 || tail[0].Content != "finished" {
		t.Fatalf("tail = %+v", tail)
	}
}
