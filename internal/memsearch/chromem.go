package memsearch

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemIndex is a Searcher over an embedded chromem-go vector store, one
// collection per room. Embeddings come from an OpenAI-compatible endpoint.
type ChromemIndex struct {
	mu    sync.Mutex
	db    *chromem.DB
	embed chromem.EmbeddingFunc
}

// Options configure the embedding backend and on-disk location.
type Options struct {
	Path    string // persistence directory; empty = in-memory
	APIBase string // OpenAI-compatible embeddings endpoint
	APIKey  string
	Model   string
}

// NewChromemIndex opens (or creates) the persistent index. Returns an error
// when the directory cannot be opened; embedding failures surface per call.
func NewChromemIndex(opts Options) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error
	if opts.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(opts.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	}
	normalized := true
	embed := chromem.NewEmbeddingFuncOpenAICompat(opts.APIBase, opts.APIKey, opts.Model, &normalized)
	return &ChromemIndex{db: db, embed: embed}, nil
}

func (c *ChromemIndex) collection(roomID int64) (*chromem.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db.GetOrCreateCollection("room-"+strconv.FormatInt(roomID, 10), nil, c.embed)
}

// Index adds or replaces one observation document.
func (c *ChromemIndex) Index(ctx context.Context, roomID, observationID int64, content string) error {
	col, err := c.collection(roomID)
	if err != nil {
		return err
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:      strconv.FormatInt(observationID, 10),
		Content: content,
	})
}

// Remove drops observation documents from the room's collection.
func (c *ChromemIndex) Remove(ctx context.Context, roomID int64, observationIDs []int64) error {
	if len(observationIDs) == 0 {
		return nil
	}
	col, err := c.collection(roomID)
	if err != nil {
		return err
	}
	ids := make([]string, len(observationIDs))
	for i, id := range observationIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return col.Delete(ctx, nil, nil, ids...)
}

// Query returns up to limit nearest observations. chromem rejects result
// counts above the collection size, so the limit is clamped first.
func (c *ChromemIndex) Query(ctx context.Context, roomID int64, query string, limit int) ([]Hit, error) {
	col, err := c.collection(roomID)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}
	results, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{
			ObservationID: id,
			Content:       r.Content,
			Score:         float64(r.Similarity),
		})
	}
	return hits, nil
}
