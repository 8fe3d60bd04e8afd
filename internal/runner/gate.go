package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/quoroomlabs/quoroom/internal/store"
)

// gateSet caps concurrent runs per room. Each room gets a weighted
// semaphore sized from its config; the size is fixed at first use, so a
// config change takes effect after restart.
type gateSet struct {
	store *store.Store

	mu    sync.Mutex
	gates map[int64]*semaphore.Weighted
}

func newGateSet(st *store.Store) *gateSet {
	return &gateSet{store: st, gates: make(map[int64]*semaphore.Weighted)}
}

// acquire blocks until the room has a free slot or ctx is cancelled.
func (g *gateSet) acquire(ctx context.Context, roomID int64) (func(), error) {
	sem, err := g.gate(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

func (g *gateSet) gate(ctx context.Context, roomID int64) (*semaphore.Weighted, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if sem, ok := g.gates[roomID]; ok {
		return sem, nil
	}
	limit := int64(store.DefaultRoomConfig().MaxConcurrentTasks)
	if room, err := g.store.GetRoom(ctx, roomID); err == nil && room != nil && room.Config.MaxConcurrentTasks > 0 {
		limit = int64(room.Config.MaxConcurrentTasks)
	}
	sem := semaphore.NewWeighted(limit)
	g.gates[roomID] = sem
	return sem, nil
}
