// Package memory is the remember/recall service: entities with append-only
// observations and relations, recalled through hybrid FTS + semantic search.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/memsearch"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// Service fuses the relational memory tables with the optional semantic
// index. A nil Searcher means FTS-only recall.
type Service struct {
	store          *store.Store
	search         memsearch.Searcher
	ftsWeight      float64
	semanticWeight float64
	maxResults     int
}

// Options tune score fusion. Zero values fall back to the 0.6/0.4 split.
type Options struct {
	FTSWeight      float64
	SemanticWeight float64
	MaxResults     int
}

func New(st *store.Store, search memsearch.Searcher, opts Options) *Service {
	if opts.FTSWeight <= 0 {
		opts.FTSWeight = 0.6
	}
	if opts.SemanticWeight <= 0 {
		opts.SemanticWeight = 0.4
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 8
	}
	return &Service{
		store:          st,
		search:         search,
		ftsWeight:      opts.FTSWeight,
		semanticWeight: opts.SemanticWeight,
		maxResults:     opts.MaxResults,
	}
}

// RememberRequest upserts an entity and attaches observations; optional
// relations link it to other entities by name.
type RememberRequest struct {
	RoomID       int64
	Name         string
	EntityType   string // fact, preference, person, project, event
	Category     string
	Observations []string
	Source       string
	Relations    []RelationSpec
}

// RelationSpec names a directed edge to another entity. Missing targets are
// created as bare facts.
type RelationSpec struct {
	To   string
	Type string
}

func validEntityType(t string) bool {
	switch t {
	case "", store.EntityFact, store.EntityPreference, store.EntityPerson,
		store.EntityProject, store.EntityEvent:
		return true
	}
	return false
}

// Remember records knowledge. New observation text is indexed into the
// semantic backend best-effort; an index failure never fails the write.
func (s *Service) Remember(ctx context.Context, req RememberRequest) (*store.Entity, error) {
	if !validEntityType(req.EntityType) {
		return nil, errs.New(errs.KindInvalidInput, "unknown entity type %q", req.EntityType)
	}
	entity, err := s.store.UpsertEntity(ctx, req.RoomID, req.Name, req.EntityType, req.Category)
	if err != nil {
		return nil, err
	}

	for _, content := range req.Observations {
		if strings.TrimSpace(content) == "" {
			continue
		}
		obs, err := s.store.AppendObservation(ctx, entity.ID, content, req.Source)
		if err != nil {
			return nil, err
		}
		if s.search != nil {
			if err := s.search.Index(ctx, req.RoomID, obs.ID, content); err != nil {
				slog.Debug("memory.index_failed", "entity", entity.Name, "error", err)
			}
		}
	}

	for _, rel := range req.Relations {
		target, err := s.store.UpsertEntity(ctx, req.RoomID, rel.To, store.EntityFact, "")
		if err != nil {
			return nil, err
		}
		if _, err := s.store.CreateRelation(ctx, entity.ID, target.ID, rel.Type); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

// RecallHit is one fused recall result.
type RecallHit struct {
	EntityName    string
	ObservationID int64
	Content       string
	Score         float64
}

// Recall runs the hybrid query. FTS scores (bm25, lower is better) are
// min-max normalized into [0,1]; the semantic side already reports a
// similarity. The two fuse by weighted sum. A failing or absent semantic
// backend degrades to FTS alone, never an error.
func (s *Service) Recall(ctx context.Context, roomID int64, query string, limit int) ([]RecallHit, error) {
	if limit <= 0 || limit > s.maxResults {
		limit = s.maxResults
	}

	ftsHits, err := s.store.SearchObservationsFTS(ctx, roomID, query, limit)
	if err != nil && !errs.IsKind(err, errs.KindInvalidInput) {
		return nil, err
	}
	if errs.IsKind(err, errs.KindInvalidInput) {
		ftsHits = nil
	}

	type fused struct {
		hit RecallHit
		fts float64
		sem float64
	}
	byObs := make(map[int64]*fused)

	for i, h := range ftsHits {
		byObs[h.Observation.ID] = &fused{
			hit: RecallHit{
				EntityName:    h.EntityName,
				ObservationID: h.Observation.ID,
				Content:       h.Observation.Content,
			},
			fts: normalizeBM25(ftsHits, i),
		}
	}

	if s.search != nil {
		semHits, err := s.search.Query(ctx, roomID, query, limit)
		if err != nil {
			slog.Debug("memory.semantic_failed", "error", err)
		}
		for _, h := range semHits {
			f, ok := byObs[h.ObservationID]
			if !ok {
				f = &fused{hit: RecallHit{ObservationID: h.ObservationID, Content: h.Content}}
				byObs[h.ObservationID] = f
			}
			f.sem = h.Score
		}
	}

	out := make([]RecallHit, 0, len(byObs))
	for _, f := range byObs {
		f.hit.Score = s.ftsWeight*f.fts + s.semanticWeight*f.sem
		out = append(out, f.hit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// normalizeBM25 maps the i-th hit's bm25 rank onto [0,1], best hit first.
// The store returns hits already ordered by score, so rank position is the
// stable signal; raw bm25 magnitudes vary with corpus size.
func normalizeBM25(hits []store.FTSHit, i int) float64 {
	if len(hits) == 1 {
		return 1
	}
	return 1 - float64(i)/float64(len(hits))
}

// Forget deletes an entity with its observations and relations, and evicts
// the semantic documents best-effort.
func (s *Service) Forget(ctx context.Context, roomID int64, name string) error {
	entity, err := s.store.GetEntityByName(ctx, roomID, name)
	if err != nil {
		return err
	}
	if entity == nil {
		return errs.New(errs.KindNotFound, "entity %q not found", name)
	}
	var obsIDs []int64
	if s.search != nil {
		obs, err := s.store.ListObservations(ctx, entity.ID, 10000)
		if err == nil {
			for _, o := range obs {
				obsIDs = append(obsIDs, o.ID)
			}
		}
	}
	if err := s.store.DeleteEntity(ctx, entity.ID); err != nil {
		return err
	}
	if s.search != nil && len(obsIDs) > 0 {
		if err := s.search.Remove(ctx, roomID, obsIDs); err != nil {
			slog.Debug("memory.evict_failed", "entity", name, "error", err)
		}
	}
	return nil
}
