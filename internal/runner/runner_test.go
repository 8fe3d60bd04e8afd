package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/executor"
	"github.com/quoroomlabs/quoroom/internal/store"
)

type stubExecutor struct {
	res   *executor.Result
	err   error
	block bool // wait for ctx cancellation instead of returning
}

func (s *stubExecutor) Run(ctx context.Context, req executor.Request, cb executor.Callbacks) (*executor.Result, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if cb.OnLog != nil {
		cb.OnLog(store.EntryStdout, "working")
	}
	return s.res, s.err
}

func (s *stubExecutor) Name() string { return "stub" }

func newTestRunner(t *testing.T, exec executor.Executor) (*Runner, *store.Store, *store.Task) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "quoroom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	room := &store.Room{Name: "apiary", Objective: "obj", Status: store.RoomActive, Config: store.DefaultRoomConfig()}
	queen := &store.Worker{Name: "queen", Role: "queen", IsDefault: true}
	if err := st.CreateRoomBundle(ctx, room, queen, &store.Goal{Description: "obj"}, &store.Wallet{Address: "0x01", Chain: "base"}); err != nil {
		t.Fatalf("CreateRoomBundle: %v", err)
	}
	task := &store.Task{RoomID: room.ID, Name: "job", Prompt: "do the job", TriggerType: store.TriggerManual, Status: store.TaskActive}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = dir
	r := New(st, nil, cfg, Backends{Default: exec})
	t.Cleanup(r.Shutdown)
	return r, st, task
}

func waitForSettled(t *testing.T, st *store.Store, taskID int64) *store.TaskRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := st.ListRuns(context.Background(), taskID, 1)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) == 1 && runs[0].FinishedAt != nil {
			return &runs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run never settled")
	return nil
}

func TestLaunchCompletedRun(t *testing.T) {
	exec := &stubExecutor{res: &executor.Result{Text: "all done", ExitCode: 0, SessionID: "sess-1"}}
	r, st, task := newTestRunner(t, exec)
	ctx := context.Background()

	r.Launch(ctx, task, store.TriggerManual)
	run := waitForSettled(t, st, task.ID)

	if run.Status != store.RunCompleted {
		t.Fatalf("status = %q, want %q (%s)", run.Status, store.RunCompleted, run.ErrorMessage)
	}
	if run.Result != "all done" {
		t.Errorf("result = %q", run.Result)
	}
	if run.ResultFile == "" {
		t.Fatal("no result file recorded")
	}
	raw, err := os.ReadFile(run.ResultFile)
	if err != nil || string(raw) != "all done" {
		t.Errorf("result file: %q, %v", raw, err)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("GetTask: %v, %v", got, err)
	}
	if got.RunCount != 1 {
		t.Errorf("run count = %d, want 1", got.RunCount)
	}
}

func TestLaunchFailedRun(t *testing.T) {
	exec := &stubExecutor{err: errors.New("model unavailable")}
	r, st, task := newTestRunner(t, exec)

	r.Launch(context.Background(), task, store.TriggerManual)
	run := waitForSettled(t, st, task.ID)

	if run.Status != store.RunFailed {
		t.Fatalf("status = %q, want %q", run.Status, store.RunFailed)
	}
	if run.ErrorMessage != "model unavailable" {
		t.Errorf("error = %q", run.ErrorMessage)
	}
}

func TestLaunchTimedOutRun(t *testing.T) {
	exec := &stubExecutor{res: &executor.Result{TimedOut: true, ExitCode: 124}}
	r, st, task := newTestRunner(t, exec)

	r.Launch(context.Background(), task, store.TriggerManual)
	run := waitForSettled(t, st, task.ID)

	if run.Status != store.RunTimedOut {
		t.Fatalf("status = %q, want %q", run.Status, store.RunTimedOut)
	}
}

func TestNonZeroExitFails(t *testing.T) {
	exec := &stubExecutor{res: &executor.Result{ExitCode: 3}}
	r, st, task := newTestRunner(t, exec)

	r.Launch(context.Background(), task, store.TriggerManual)
	run := waitForSettled(t, st, task.ID)

	if run.Status != store.RunFailed {
		t.Fatalf("status = %q, want %q", run.Status, store.RunFailed)
	}
	if run.ExitCode == nil || *run.ExitCode != 3 {
		t.Errorf("exit code = %v", run.ExitCode)
	}
}

func TestCancelRun(t *testing.T) {
	exec := &stubExecutor{block: true}
	r, st, task := newTestRunner(t, exec)
	ctx := context.Background()

	r.Launch(ctx, task, store.TriggerManual)

	// Wait until the run is in flight before cancelling it.
	var runID int64
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := st.ListRuns(ctx, task.ID, 1)
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if len(runs) == 1 && runs[0].Status == store.RunRunning {
			runID = runs[0].ID
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if runID == 0 {
		t.Fatal("run never started")
	}

	if err := r.CancelRun(runID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	run := waitForSettled(t, st, task.ID)
	if run.Status != store.RunCancelled {
		t.Fatalf("status = %q, want %q", run.Status, store.RunCancelled)
	}
}

func TestDecodeToolList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{`["web_search","remember"]`, []string{"web_search", "remember"}},
		{"not json", nil},
	}
	for _, tc := range cases {
		if got := decodeToolList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("decodeToolList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
