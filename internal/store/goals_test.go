package store

import (
	"context"
	"math"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

func floatPtr(v float64) *float64 { return &v }

func rootGoal(t *testing.T, s *Store, roomID int64) *Goal {
	t.Helper()
	goals, err := s.ListGoals(context.Background(), roomID, "")
	if err != nil {
		t.Fatalf("ListGoals: %v", err)
	}
	for i := range goals {
		if goals[i].ParentGoalID == nil {
			return &goals[i]
		}
	}
	t.Fatal("no root goal")
	return nil
}

func TestGoalRollup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")
	root := rootGoal(t, s, room.ID)

	children, err := s.DecomposeGoal(ctx, root.ID, []string{"subgoal a", "subgoal b"}, &queen.ID)
	if err != nil {
		t.Fatalf("DecomposeGoal: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("created %d children, want 2", len(children))
	}

	g, err := s.GetGoal(ctx, root.ID)
	if err != nil {
		t.Fatalf("GetGoal: %v", err)
	}
	if g.Progress != 0 {
		t.Fatalf("root progress after decompose = %v, want 0", g.Progress)
	}

	// Completing the first child puts the parent at the mean of its children.
	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: children[0].ID, Progress: floatPtr(1), Observation: "done", WorkerID: &queen.ID,
	}); err != nil {
		t.Fatalf("ApplyGoalProgress(a): %v", err)
	}
	g, _ = s.GetGoal(ctx, root.ID)
	if math.Abs(g.Progress-0.5) > 1e-9 {
		t.Fatalf("root progress = %v, want 0.5", g.Progress)
	}
	if g.Status != GoalInProgress {
		t.Fatalf("root status = %q, want %q", g.Status, GoalInProgress)
	}

	a, _ := s.GetGoal(ctx, children[0].ID)
	if a.Status != GoalCompleted || a.Progress != 1 {
		t.Fatalf("child a = %q/%v, want completed/1", a.Status, a.Progress)
	}

	// Completing the second child completes the parent outright.
	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: children[1].ID, Progress: floatPtr(1),
	}); err != nil {
		t.Fatalf("ApplyGoalProgress(b): %v", err)
	}
	g, _ = s.GetGoal(ctx, root.ID)
	if g.Status != GoalCompleted || g.Progress != 1 {
		t.Fatalf("root = %q/%v, want completed/1", g.Status, g.Progress)
	}
}

func TestGoalRollupExcludesAbandoned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	root := rootGoal(t, s, room.ID)

	children, err := s.DecomposeGoal(ctx, root.ID, []string{"a", "b", "c"}, nil)
	if err != nil {
		t.Fatalf("DecomposeGoal: %v", err)
	}

	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: children[0].ID, Progress: floatPtr(1),
	}); err != nil {
		t.Fatalf("complete a: %v", err)
	}
	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: children[2].ID, Status: GoalAbandoned,
	}); err != nil {
		t.Fatalf("abandon c: %v", err)
	}

	// Mean over {a=1, b=0}; c no longer counts.
	g, _ := s.GetGoal(ctx, root.ID)
	if math.Abs(g.Progress-0.5) > 1e-9 {
		t.Fatalf("root progress = %v, want 0.5", g.Progress)
	}

	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: children[1].ID, Progress: floatPtr(1),
	}); err != nil {
		t.Fatalf("complete b: %v", err)
	}
	g, _ = s.GetGoal(ctx, root.ID)
	if g.Status != GoalCompleted {
		t.Fatalf("root status = %q, want completed with c abandoned", g.Status)
	}
}

func TestGoalRollupDeepTree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	root := rootGoal(t, s, room.ID)

	mids, err := s.DecomposeGoal(ctx, root.ID, []string{"mid"}, nil)
	if err != nil {
		t.Fatalf("decompose root: %v", err)
	}
	leaves, err := s.DecomposeGoal(ctx, mids[0].ID, []string{"leaf 1", "leaf 2"}, nil)
	if err != nil {
		t.Fatalf("decompose mid: %v", err)
	}

	changed, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: leaves[0].ID, Progress: floatPtr(0.5),
	})
	if err != nil {
		t.Fatalf("ApplyGoalProgress: %v", err)
	}
	// leaf, mid, root all changed
	if len(changed) != 3 {
		t.Fatalf("changed %d goals, want 3: %+v", len(changed), changed)
	}

	mid, _ := s.GetGoal(ctx, mids[0].ID)
	if math.Abs(mid.Progress-0.25) > 1e-9 {
		t.Errorf("mid progress = %v, want 0.25", mid.Progress)
	}
	g, _ := s.GetGoal(ctx, root.ID)
	if math.Abs(g.Progress-0.25) > 1e-9 {
		t.Errorf("root progress = %v, want 0.25", g.Progress)
	}
}

func TestDecomposeTerminalGoal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	root := rootGoal(t, s, room.ID)

	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: root.ID, Progress: floatPtr(1),
	}); err != nil {
		t.Fatalf("complete root: %v", err)
	}

	_, err := s.DecomposeGoal(ctx, root.ID, []string{"late"}, nil)
	if !errs.IsKind(err, errs.KindInvalidState) {
		t.Fatalf("err = %v, want invalid_state", err)
	}
}

func TestDecomposeEmptyList(t *testing.T) {
	s := newTestStore(t)
	room, _ := newTestRoom(t, s, "apiary")
	root := rootGoal(t, s, room.ID)

	_, err := s.DecomposeGoal(context.Background(), root.ID, nil, nil)
	if !errs.IsKind(err, errs.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestDeleteGoalRerolls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	root := rootGoal(t, s, room.ID)

	children, err := s.DecomposeGoal(ctx, root.ID, []string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("DecomposeGoal: %v", err)
	}
	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: children[0].ID, Progress: floatPtr(1),
	}); err != nil {
		t.Fatalf("complete a: %v", err)
	}

	// Dropping the unfinished child leaves only the completed one.
	if err := s.DeleteGoal(ctx, children[1].ID); err != nil {
		t.Fatalf("DeleteGoal: %v", err)
	}
	g, _ := s.GetGoal(ctx, root.ID)
	if g.Status != GoalCompleted || g.Progress != 1 {
		t.Fatalf("root = %q/%v after delete, want completed/1", g.Status, g.Progress)
	}
}

func TestGoalUpdateLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, queen := newTestRoom(t, s, "apiary")
	root := rootGoal(t, s, room.ID)

	if _, err := s.ApplyGoalProgress(ctx, GoalProgressUpdate{
		GoalID: root.ID, Progress: floatPtr(0.3),
		Observation: "30 of 100 signups", MetricValue: floatPtr(30), WorkerID: &queen.ID,
	}); err != nil {
		t.Fatalf("ApplyGoalProgress: %v", err)
	}

	updates, err := s.ListGoalUpdates(ctx, root.ID, 10)
	if err != nil {
		t.Fatalf("ListGoalUpdates: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	u := updates[0]
	if u.Observation != "30 of 100 signups" || u.MetricValue == nil || *u.MetricValue != 30 {
		t.Errorf("update = %+v", u)
	}
}
