package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// UpsertEntity creates the named entity or returns the existing one.
// entity_type and category only apply on first creation.
func (s *Store) UpsertEntity(ctx context.Context, roomID int64, name, entityType, category string) (*Entity, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errs.New(errs.KindInvalidInput, "entity name is empty")
	}
	if entityType == "" {
		entityType = EntityFact
	}
	var e *Entity
	err := s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			existing, err := getEntityByNameTx(ctx, tx, roomID, name)
			if err != nil {
				return err
			}
			if existing != nil {
				e = existing
				return nil
			}
			now := NowMs()
			res, err := tx.ExecContext(ctx,
				`INSERT INTO entities (room_id, name, entity_type, category, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				roomID, name, entityType, category, now)
			if err != nil {
				return mapSQLErr(err)
			}
			id, _ := res.LastInsertId()
			e = &Entity{ID: id, RoomID: roomID, Name: name, EntityType: entityType,
				Category: category, CreatedAt: now}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetEntityByName returns the entity or (nil, nil).
func (s *Store) GetEntityByName(ctx context.Context, roomID int64, name string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, name, entity_type, category, created_at
		 FROM entities WHERE room_id = ? AND name = ?`, roomID, name)
	var e Entity
	err := row.Scan(&e.ID, &e.RoomID, &e.Name, &e.EntityType, &e.Category, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return &e, nil
}

func getEntityByNameTx(ctx context.Context, tx *sql.Tx, roomID int64, name string) (*Entity, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, room_id, name, entity_type, category, created_at
		 FROM entities WHERE room_id = ? AND name = ?`, roomID, name)
	var e Entity
	err := row.Scan(&e.ID, &e.RoomID, &e.Name, &e.EntityType, &e.Category, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return &e, nil
}

// ListEntities returns a room's entities, optionally by category.
func (s *Store) ListEntities(ctx context.Context, roomID int64, category string) ([]Entity, error) {
	q := `SELECT id, room_id, name, entity_type, category, created_at FROM entities WHERE room_id = ?`
	args := []any{roomID}
	if category != "" {
		q += ` AND category = ?`
		args = append(args, category)
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Name, &e.EntityType, &e.Category, &e.CreatedAt); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendObservation attaches a fact to an entity. The FTS index follows via
// triggers.
func (s *Store) AppendObservation(ctx context.Context, entityID int64, content, source string) (*Observation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errs.New(errs.KindInvalidInput, "observation content is empty")
	}
	now := NowMs()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (entity_id, content, source, created_at) VALUES (?, ?, ?, ?)`,
		entityID, content, source, now)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	id, _ := res.LastInsertId()
	return &Observation{ID: id, EntityID: entityID, Content: content, Source: source, CreatedAt: now}, nil
}

// ListObservations returns an entity's observations, newest first.
func (s *Store) ListObservations(ctx context.Context, entityID int64, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, content, source, created_at
		 FROM observations WHERE entity_id = ? ORDER BY id DESC LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Content, &o.Source, &o.CreatedAt); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateRelation links two entities. Both must belong to the same room.
func (s *Store) CreateRelation(ctx context.Context, fromID, toID int64, relationType string) (*Relation, error) {
	var rel *Relation
	err := s.withRetry(ctx, func() error {
		return s.withTx(ctx, func(tx *sql.Tx) error {
			var fromRoom, toRoom int64
			if err := tx.QueryRowContext(ctx,
				`SELECT room_id FROM entities WHERE id = ?`, fromID).Scan(&fromRoom); err != nil {
				if err == sql.ErrNoRows {
					return errs.New(errs.KindNotFound, "entity %d not found", fromID)
				}
				return mapSQLErr(err)
			}
			if err := tx.QueryRowContext(ctx,
				`SELECT room_id FROM entities WHERE id = ?`, toID).Scan(&toRoom); err != nil {
				if err == sql.ErrNoRows {
					return errs.New(errs.KindNotFound, "entity %d not found", toID)
				}
				return mapSQLErr(err)
			}
			if fromRoom != toRoom {
				return errs.New(errs.KindScope, "entities %d and %d belong to different rooms", fromID, toID)
			}
			now := NowMs()
			res, err := tx.ExecContext(ctx,
				`INSERT INTO relations (from_entity_id, to_entity_id, relation_type, created_at)
				 VALUES (?, ?, ?, ?)`, fromID, toID, relationType, now)
			if err != nil {
				return mapSQLErr(err)
			}
			id, _ := res.LastInsertId()
			rel = &Relation{ID: id, FromEntityID: fromID, ToEntityID: toID,
				RelationType: relationType, CreatedAt: now}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// ListRelations returns relations touching an entity in either direction.
func (s *Store) ListRelations(ctx context.Context, entityID int64) ([]Relation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_entity_id, to_entity_id, relation_type, created_at
		 FROM relations WHERE from_entity_id = ? OR to_entity_id = ? ORDER BY id`,
		entityID, entityID)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.ID, &r.FromEntityID, &r.ToEntityID, &r.RelationType, &r.CreatedAt); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteEntity removes an entity, its observations, and its relations.
func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
		if err != nil {
			return mapSQLErr(err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return errs.New(errs.KindNotFound, "entity %d not found", id)
		}
		return nil
	})
}

// FTSHit is one keyword match from the observations index.
type FTSHit struct {
	Observation Observation
	EntityID    int64
	EntityName  string
	Score       float64 // bm25, lower is better
}

// SearchObservationsFTS runs a keyword query against the porter-stemmed
// index, scoped to one room. Query syntax errors come back as invalid_input.
func (s *Store) SearchObservationsFTS(ctx context.Context, roomID int64, query string, limit int) ([]FTSHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.New(errs.KindInvalidInput, "search query is empty")
	}
	if limit <= 0 {
		limit = 8
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.entity_id, o.content, o.source, o.created_at, e.name, bm25(observations_fts) AS score
		 FROM observations_fts f
		 JOIN observations o ON o.id = f.rowid
		 JOIN entities e ON e.id = o.entity_id
		 WHERE observations_fts MATCH ? AND e.room_id = ?
		 ORDER BY score LIMIT ?`,
		ftsQuote(query), roomID, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5: syntax error") || strings.Contains(err.Error(), "malformed MATCH") {
			return nil, errs.New(errs.KindInvalidInput, "bad search query: %v", err)
		}
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.Observation.ID, &h.Observation.EntityID, &h.Observation.Content,
			&h.Observation.Source, &h.Observation.CreatedAt, &h.EntityName, &h.Score); err != nil {
			return nil, mapSQLErr(err)
		}
		h.EntityID = h.Observation.EntityID
		out = append(out, h)
	}
	return out, rows.Err()
}

// ftsQuote turns free text into a conjunction of quoted terms so user input
// cannot inject fts5 operators.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}
