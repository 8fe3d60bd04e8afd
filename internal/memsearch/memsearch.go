// Package memsearch is the semantic half of memory recall: an embedding
// index queried alongside the FTS index. The engine treats it as an optional
// collaborator; when no backend is configured recall degrades to FTS only.
package memsearch

import "context"

// Hit is one semantic match. Score is a similarity in [0,1], higher is
// better.
type Hit struct {
	ObservationID int64
	Content       string
	Score         float64
}

// Searcher indexes observation text and answers nearest-neighbour queries,
// scoped per room. Implementations must be safe for concurrent use.
type Searcher interface {
	Index(ctx context.Context, roomID, observationID int64, content string) error
	Remove(ctx context.Context, roomID int64, observationIDs []int64) error
	Query(ctx context.Context, roomID int64, query string, limit int) ([]Hit, error)
}
