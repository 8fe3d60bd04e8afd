package store

import (
	"context"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

func TestUpsertEntityIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")

	e1, err := s.UpsertEntity(ctx, room.ID, "competitor-pricing", EntityFact, "market")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	e2, err := s.UpsertEntity(ctx, room.ID, "competitor-pricing", "", "other")
	if err != nil {
		t.Fatalf("UpsertEntity again: %v", err)
	}
	if e1.ID != e2.ID {
		t.Fatalf("upsert created duplicate: %d != %d", e1.ID, e2.ID)
	}
	if e2.Category != "market" {
		t.Errorf("category = %q, want original preserved", e2.Category)
	}
}

func TestUpsertEntityEmptyName(t *testing.T) {
	s := newTestStore(t)
	room, _ := newTestRoom(t, s, "apiary")
	_, err := s.UpsertEntity(context.Background(), room.ID, "  ", EntityFact, "")
	if !errs.IsKind(err, errs.KindInvalidInput) {
		t.Fatalf("err = %v, want invalid_input", err)
	}
}

func TestFTSSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	other, _ := newTestRoom(t, s, "hive")

	e, err := s.UpsertEntity(ctx, room.ID, "pricing", EntityFact, "")
	if err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}
	for _, content := range []string{
		"competitor raised subscription pricing by 10 percent",
		"our churn rate held steady through March",
	} {
		if _, err := s.AppendObservation(ctx, e.ID, content, "test"); err != nil {
			t.Fatalf("AppendObservation: %v", err)
		}
	}
	eo, err := s.UpsertEntity(ctx, other.ID, "pricing", EntityFact, "")
	if err != nil {
		t.Fatalf("UpsertEntity other: %v", err)
	}
	if _, err := s.AppendObservation(ctx, eo.ID, "competitor pricing notes from another room", "test"); err != nil {
		t.Fatalf("AppendObservation other: %v", err)
	}

	hits, err := s.SearchObservationsFTS(ctx, room.ID, "pricing", 8)
	if err != nil {
		t.Fatalf("SearchObservationsFTS: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 (room scoped)", len(hits))
	}
	if hits[0].EntityName != "pricing" {
		t.Errorf("entity name = %q", hits[0].EntityName)
	}

	// Porter stemming matches inflected forms.
	hits, err = s.SearchObservationsFTS(ctx, room.ID, "subscriptions", 8)
	if err != nil {
		t.Fatalf("stemmed search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("stemmed search hits = %d, want 1", len(hits))
	}

	if _, err := s.SearchObservationsFTS(ctx, room.ID, "  ", 8); !errs.IsKind(err, errs.KindInvalidInput) {
		t.Fatalf("empty query err = %v, want invalid_input", err)
	}
}

func TestFTSQuoteNeutralizesOperators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")

	e, _ := s.UpsertEntity(ctx, room.ID, "notes", EntityFact, "")
	if _, err := s.AppendObservation(ctx, e.ID, "plain text observation", "test"); err != nil {
		t.Fatalf("AppendObservation: %v", err)
	}

	// Raw fts5 operators in user text must not error out.
	for _, q := range []string{`NEAR(a b)`, `"unbalanced`, `col:value`, `text AND`} {
		if _, err := s.SearchObservationsFTS(ctx, room.ID, q, 8); err != nil {
			t.Errorf("query %q: %v", q, err)
		}
	}
}

func TestFTSFollowsDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")

	e, _ := s.UpsertEntity(ctx, room.ID, "ephemeral", EntityFact, "")
	if _, err := s.AppendObservation(ctx, e.ID, "soon to vanish entirely", "test"); err != nil {
		t.Fatalf("AppendObservation: %v", err)
	}
	if err := s.DeleteEntity(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}

	hits, err := s.SearchObservationsFTS(ctx, room.ID, "vanish", 8)
	if err != nil {
		t.Fatalf("SearchObservationsFTS: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("deleted observation still indexed: %+v", hits)
	}
}

func TestRelationsSameRoomOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	room, _ := newTestRoom(t, s, "apiary")
	other, _ := newTestRoom(t, s, "hive")

	a, _ := s.UpsertEntity(ctx, room.ID, "a", EntityFact, "")
	b, _ := s.UpsertEntity(ctx, room.ID, "b", EntityFact, "")
	c, _ := s.UpsertEntity(ctx, other.ID, "c", EntityFact, "")

	rel, err := s.CreateRelation(ctx, a.ID, b.ID, "depends_on")
	if err != nil {
		t.Fatalf("CreateRelation: %v", err)
	}
	if rel.RelationType != "depends_on" {
		t.Errorf("relation = %+v", rel)
	}

	if _, err := s.CreateRelation(ctx, a.ID, c.ID, "leaks"); !errs.IsKind(err, errs.KindScope) {
		t.Fatalf("cross-room relation err = %v, want scope", err)
	}

	rels, err := s.ListRelations(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRelations: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("got %d relations, want 1", len(rels))
	}
}
