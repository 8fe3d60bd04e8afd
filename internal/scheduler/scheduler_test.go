package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/tools"
)

type fakeLauncher struct {
	mu       sync.Mutex
	launched []launchCall
}

type launchCall struct {
	taskID  int64
	trigger string
}

func (f *fakeLauncher) Launch(ctx context.Context, task *store.Task, trigger string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, launchCall{task.ID, trigger})
}

func (f *fakeLauncher) calls() []launchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]launchCall(nil), f.launched...)
}

func newTestService(t *testing.T) (*Service, *store.Store, *fakeLauncher, *store.Room) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "quoroom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	room := &store.Room{Name: "apiary", Objective: "obj", Status: store.RoomActive, Config: store.DefaultRoomConfig()}
	queen := &store.Worker{Name: "queen", Role: "queen", IsDefault: true}
	err = st.CreateRoomBundle(context.Background(), room, queen, &store.Goal{Description: "obj"}, &store.Wallet{Address: "0x01", Chain: "base"})
	if err != nil {
		t.Fatalf("CreateRoomBundle: %v", err)
	}

	launcher := &fakeLauncher{}
	return New(st, nil, launcher, ""), st, launcher, room
}

func TestScheduleTaskStampsSource(t *testing.T) {
	svc, st, _, room := newTestService(t)
	svc.source = "railway"
	ctx := context.Background()

	task, err := svc.ScheduleTask(ctx, tools.TaskSpec{
		RoomID:      room.ID,
		Name:        "tagged",
		Prompt:      "p",
		TriggerType: store.TriggerManual,
	})
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	got, err := st.GetTask(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("GetTask: %v, %v", got, err)
	}
	if got.TriggerConfig != `{"source":"railway"}` {
		t.Errorf("trigger config = %q", got.TriggerConfig)
	}
}

func TestScheduleTaskValidation(t *testing.T) {
	svc, _, _, room := newTestService(t)
	ctx := context.Background()
	past := store.NowMs() - 1000

	cases := []struct {
		name string
		spec tools.TaskSpec
	}{
		{"missing name", tools.TaskSpec{RoomID: room.ID, Prompt: "p", TriggerType: store.TriggerManual}},
		{"missing prompt", tools.TaskSpec{RoomID: room.ID, Name: "n", TriggerType: store.TriggerManual}},
		{"bad cron", tools.TaskSpec{RoomID: room.ID, Name: "n", Prompt: "p", TriggerType: store.TriggerCron, CronExpression: "not a cron"}},
		{"once without time", tools.TaskSpec{RoomID: room.ID, Name: "n", Prompt: "p", TriggerType: store.TriggerOnce}},
		{"once in the past", tools.TaskSpec{RoomID: room.ID, Name: "n", Prompt: "p", TriggerType: store.TriggerOnce, ScheduledAt: &past}},
		{"unknown trigger", tools.TaskSpec{RoomID: room.ID, Name: "n", Prompt: "p", TriggerType: "lunar"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ScheduleTask(ctx, tc.spec)
			if !errs.IsKind(err, errs.KindInvalidInput) {
				t.Fatalf("err = %v, want invalid_input", err)
			}
		})
	}
}

func TestScheduleCronTask(t *testing.T) {
	svc, st, _, room := newTestService(t)
	ctx := context.Background()

	task, err := svc.ScheduleTask(ctx, tools.TaskSpec{
		RoomID:         room.ID,
		Name:           "hourly report",
		Prompt:         "summarize activity",
		TriggerType:    store.TriggerCron,
		CronExpression: "0 * * * *",
	})
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	if task.Status != store.TaskActive {
		t.Errorf("status = %q, want %q", task.Status, store.TaskActive)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("GetTask: %v, %v", got, err)
	}
	if got.CronExpression != "0 * * * *" {
		t.Errorf("cron = %q", got.CronExpression)
	}
}

func TestScheduleWebhookTaskGetsToken(t *testing.T) {
	svc, _, _, room := newTestService(t)

	task, err := svc.ScheduleTask(context.Background(), tools.TaskSpec{
		RoomID:      room.ID,
		Name:        "on delivery",
		Prompt:      "process the delivery",
		TriggerType: store.TriggerWebhook,
	})
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	if task.WebhookToken == "" {
		t.Fatal("webhook task has no token")
	}
}

func TestFireWebhookStoresPayload(t *testing.T) {
	svc, st, launcher, room := newTestService(t)
	ctx := context.Background()

	task, err := svc.ScheduleTask(ctx, tools.TaskSpec{
		RoomID:      room.ID,
		Name:        "on delivery",
		Prompt:      "process the delivery",
		TriggerType: store.TriggerWebhook,
	})
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	fired, err := svc.FireWebhook(ctx, task.WebhookToken, `{"order":42}`)
	if err != nil {
		t.Fatalf("FireWebhook: %v", err)
	}
	if fired.ID != task.ID {
		t.Fatalf("fired task %d, want %d", fired.ID, task.ID)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil || got == nil {
		t.Fatalf("GetTask: %v, %v", got, err)
	}
	if got.TriggerConfig != `{"order":42}` {
		t.Errorf("trigger config = %q", got.TriggerConfig)
	}

	calls := launcher.calls()
	if len(calls) != 1 || calls[0].trigger != store.TriggerWebhook {
		t.Fatalf("launch calls = %+v", calls)
	}
}

func TestFireWebhookUnknownToken(t *testing.T) {
	svc, _, launcher, _ := newTestService(t)

	_, err := svc.FireWebhook(context.Background(), "nope", "")
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
	if len(launcher.calls()) != 0 {
		t.Fatal("unknown token launched a run")
	}
}

func TestFireManualScopeAndStatus(t *testing.T) {
	svc, _, launcher, room := newTestService(t)
	ctx := context.Background()

	task, err := svc.ScheduleTask(ctx, tools.TaskSpec{
		RoomID:      room.ID,
		Name:        "cleanup",
		Prompt:      "tidy up",
		TriggerType: store.TriggerManual,
	})
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}

	if _, err := svc.FireManual(ctx, room.ID+1, task.ID); !errs.IsKind(err, errs.KindScope) {
		t.Fatalf("cross-room fire err = %v, want scope", err)
	}

	if err := svc.PauseTask(ctx, room.ID, task.ID); err != nil {
		t.Fatalf("PauseTask: %v", err)
	}
	if _, err := svc.FireManual(ctx, room.ID, task.ID); !errs.IsKind(err, errs.KindInvalidState) {
		t.Fatalf("paused fire err = %v, want invalid_state", err)
	}

	if err := svc.ResumeTask(ctx, room.ID, task.ID); err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	if _, err := svc.FireManual(ctx, room.ID, task.ID); err != nil {
		t.Fatalf("FireManual after resume: %v", err)
	}
	if got := launcher.calls(); len(got) != 1 || got[0].trigger != store.TriggerManual {
		t.Fatalf("launch calls = %+v", got)
	}
}
