package goals

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store, *store.Room, *store.Goal) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "quoroom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	room := &store.Room{Name: "apiary", Objective: "obj", Status: store.RoomActive, Config: store.DefaultRoomConfig()}
	queen := &store.Worker{Name: "queen", Role: "queen", IsDefault: true}
	root := &store.Goal{Description: "obj"}
	if err := st.CreateRoomBundle(context.Background(), room, queen, root, &store.Wallet{Address: "0x01", Chain: "base"}); err != nil {
		t.Fatalf("CreateRoomBundle: %v", err)
	}
	return New(st, nil), st, room, root
}

func TestNormalizeMetric(t *testing.T) {
	cases := []struct {
		in      float64
		want    float64
		wantErr bool
	}{
		{0, 0, false},
		{0.5, 0.5, false},
		{1, 1, false},
		{50, 0.5, false},
		{100, 1, false},
		{-1, 0, true},
		{101, 0, true},
	}
	for _, tc := range cases {
		got, err := NormalizeMetric(tc.in)
		if tc.wantErr {
			if !errs.IsKind(err, errs.KindInvalidInput) {
				t.Errorf("NormalizeMetric(%v) err = %v, want invalid_input", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("NormalizeMetric(%v) = %v, %v, want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestDecomposeAndRollup(t *testing.T) {
	svc, _, room, root := newTestService(t)
	ctx := context.Background()

	subs, err := svc.Decompose(ctx, room.ID, root.ID, []string{"research", "build"}, nil)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d subgoals, want 2", len(subs))
	}

	metric := 50.0
	changed, err := svc.UpdateProgress(ctx, room.ID, subs[0].ID, "halfway", &metric, nil)
	if err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	rolled := map[int64]float64{}
	for _, g := range changed {
		rolled[g.ID] = g.Progress
	}
	// Root rolls up to the mean of its children: (0.5 + 0) / 2.
	if math.Abs(rolled[root.ID]-0.25) > 1e-9 {
		t.Errorf("root progress = %v, want 0.25 (changed: %+v)", rolled[root.ID], changed)
	}

	if _, err := svc.Complete(ctx, room.ID, subs[0].ID, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := svc.Abandon(ctx, room.ID, subs[1].ID, nil); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
}

func TestScopeEnforced(t *testing.T) {
	svc, _, room, root := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Decompose(ctx, room.ID+1, root.ID, []string{"x"}, nil); !errs.IsKind(err, errs.KindScope) {
		t.Fatalf("cross-room decompose err = %v, want scope", err)
	}
	if _, err := svc.Complete(ctx, room.ID, 9999, nil); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("missing goal err = %v, want not_found", err)
	}
	if _, err := svc.SetObjective(ctx, room.ID, "", nil); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Fatalf("empty objective err = %v, want invalid_input", err)
	}
}
