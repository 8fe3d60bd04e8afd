package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "quoroom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestRoom creates a room with its queen, root goal, and wallet, the way
// the engine births rooms.
func newTestRoom(t *testing.T, s *Store, name string) (*Room, *Worker) {
	t.Helper()
	ctx := context.Background()
	room := &Room{Name: name, Objective: "test objective", Status: RoomActive, Config: DefaultRoomConfig()}
	queen := &Worker{Name: "queen", Role: "queen", IsDefault: true, AgentState: AgentIdle}
	goal := &Goal{Description: "test objective"}
	wallet := &Wallet{Address: "0xabcdef0123456789abcdef0123456789abcdef01", Chain: "base", EncryptedKey: "enc"}
	if err := s.CreateRoomBundle(ctx, room, queen, goal, wallet); err != nil {
		t.Fatalf("CreateRoomBundle: %v", err)
	}
	return room, queen
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	version, dirty, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if dirty {
		t.Fatal("schema is dirty after migrate")
	}
	if version < 2 {
		t.Fatalf("schema version = %d, want >= 2", version)
	}

	// Reopening the same file must be a no-op, not a failure.
	s2, err := Open(s.Path())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s2.Close()
}

func TestCreateRoomBundle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")

	if room.ID == 0 || queen.ID == 0 {
		t.Fatalf("ids not assigned: room=%d queen=%d", room.ID, queen.ID)
	}

	got, err := s.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got == nil {
		t.Fatal("room not found after create")
	}
	if got.QueenWorkerID == nil || *got.QueenWorkerID != queen.ID {
		t.Fatalf("queen_worker_id = %v, want %d", got.QueenWorkerID, queen.ID)
	}

	w, err := s.GetWorker(ctx, queen.ID)
	if err != nil || w == nil {
		t.Fatalf("GetWorker: %v, %v", w, err)
	}
	if !w.IsDefault {
		t.Error("queen is not the default worker")
	}

	goals, err := s.ListGoals(ctx, room.ID, "")
	if err != nil {
		t.Fatalf("ListGoals: %v", err)
	}
	if len(goals) != 1 || goals[0].ParentGoalID != nil {
		t.Fatalf("want one root goal, got %+v", goals)
	}

	wallet, err := s.GetWalletByRoom(ctx, room.ID)
	if err != nil || wallet == nil {
		t.Fatalf("GetWalletByRoom: %v, %v", wallet, err)
	}

	feed, err := s.ListActivity(ctx, room.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(feed) == 0 {
		t.Error("room birth left no activity event")
	}
}

func TestDuplicateRoomName(t *testing.T) {
	s := newTestStore(t)
	newTestRoom(t, s, "apiary")

	room := &Room{Name: "apiary", Objective: "again", Status: RoomActive, Config: DefaultRoomConfig()}
	queen := &Worker{Name: "queen", Role: "queen", IsDefault: true}
	err := s.CreateRoomBundle(context.Background(), room, queen, &Goal{Description: "x"}, &Wallet{Address: "0xff", Chain: "base"})
	if !errs.IsKind(err, errs.KindAlreadyExists) {
		t.Fatalf("err = %v, want already_exists", err)
	}
}

func TestSecondDefaultWorkerRejected(t *testing.T) {
	s := newTestStore(t)
	room, _ := newTestRoom(t, s, "apiary")

	w := &Worker{RoomID: &room.ID, Name: "drone", Role: "worker", IsDefault: true}
	err := s.CreateWorker(context.Background(), w)
	if !errs.IsKind(err, errs.KindAlreadyExists) {
		t.Fatalf("err = %v, want already_exists", err)
	}
}

func TestDeleteRoomCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")

	task := &Task{RoomID: room.ID, WorkerID: &queen.ID, Name: "t", Prompt: "p", TriggerType: TriggerManual}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	run := &TaskRun{TaskID: task.ID, Trigger: TriggerManual}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.DeleteRoom(ctx, room.ID); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}

	if w, err := s.GetWorker(ctx, queen.ID); err != nil || w != nil {
		t.Errorf("worker survived room delete: %v, %v", w, err)
	}
	if tk, err := s.GetTask(ctx, task.ID); err != nil || tk != nil {
		t.Errorf("task survived room delete: %v, %v", tk, err)
	}
	if r, err := s.GetRun(ctx, run.ID); err != nil || r != nil {
		t.Errorf("run survived room delete: %v, %v", r, err)
	}
	if w, err := s.GetWalletByRoom(ctx, room.ID); err != nil || w != nil {
		t.Errorf("wallet survived room delete: %v, %v", w, err)
	}
}

func TestRecoverStartup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")

	task := &Task{RoomID: room.ID, Name: "t", Prompt: "p", TriggerType: TriggerManual}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	run := &TaskRun{TaskID: task.ID, Trigger: TriggerManual}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.MarkRunRunning(ctx, run.ID); err != nil {
		t.Fatalf("MarkRunRunning: %v", err)
	}
	if err := s.SetAgentState(ctx, queen.ID, AgentActing); err != nil {
		t.Fatalf("SetAgentState: %v", err)
	}

	if err := s.RecoverStartup(ctx); err != nil {
		t.Fatalf("RecoverStartup: %v", err)
	}

	r, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if r.Status != RunFailed {
		t.Errorf("run status = %q, want %q", r.Status, RunFailed)
	}
	if r.ErrorMessage == "" || r.FinishedAt == nil {
		t.Errorf("recovered run missing error/finished_at: %+v", r)
	}

	w, err := s.GetWorker(ctx, queen.ID)
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if w.AgentState != AgentIdle {
		t.Errorf("agent state = %q, want %q", w.AgentState, AgentIdle)
	}
}

func TestUpdateRoomStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateRoomStatus(context.Background(), 9999, RoomPaused)
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}
