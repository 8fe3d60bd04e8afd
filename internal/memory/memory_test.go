package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Room) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "quoroom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	room := &store.Room{Name: "apiary", Objective: "obj", Status: store.RoomActive, Config: store.DefaultRoomConfig()}
	queen := &store.Worker{Name: "queen", Role: "queen", IsDefault: true}
	if err := st.CreateRoomBundle(context.Background(), room, queen, &store.Goal{Description: "obj"}, &store.Wallet{Address: "0x01", Chain: "base"}); err != nil {
		t.Fatalf("CreateRoomBundle: %v", err)
	}
	return New(st, nil, Options{}), room
}

func TestRememberAndRecallFTSOnly(t *testing.T) {
	svc, room := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, RememberRequest{
		RoomID:       room.ID,
		Name:         "deployment pipeline",
		EntityType:   store.EntityProject,
		Observations: []string{"staging deploys run nightly", "production deploys need a quorum vote"},
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	hits, err := svc.Recall(ctx, room.ID, "production deploys", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no recall hits")
	}
	if hits[0].Content != "production deploys need a quorum vote" {
		t.Errorf("top hit = %q", hits[0].Content)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("hits not sorted by score: %+v", hits)
		}
	}
}

func TestRememberRejectsUnknownEntityType(t *testing.T) {
	svc, room := newTestService(t)
	_, err := svc.Remember(context.Background(), RememberRequest{
		RoomID: room.ID, Name: "x", EntityType: "vibe",
	})
	if !errs.IsKind(err, errs.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestRecallScopedToRoom(t *testing.T) {
	svc, room := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, RememberRequest{
		RoomID:       room.ID,
		Name:         "secret plan",
		EntityType:   store.EntityFact,
		Observations: []string{"the treasure is buried under the oak"},
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	hits, err := svc.Recall(ctx, room.ID+100, "treasure oak", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("cross-room recall leaked %d hits", len(hits))
	}
}

func TestForget(t *testing.T) {
	svc, room := newTestService(t)
	ctx := context.Background()

	_, err := svc.Remember(ctx, RememberRequest{
		RoomID:       room.ID,
		Name:         "old vendor",
		EntityType:   store.EntityFact,
		Observations: []string{"vendor contract expires in march"},
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}

	if err := svc.Forget(ctx, room.ID, "old vendor"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	hits, err := svc.Recall(ctx, room.ID, "vendor contract", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("forgotten entity still recalled: %+v", hits)
	}
	if err := svc.Forget(ctx, room.ID, "old vendor"); !errs.IsKind(err, errs.KindNotFound) {
		t.Fatalf("double forget err = %v, want not_found", err)
	}
}
