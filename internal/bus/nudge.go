package bus

import "sync"

// NudgeRegistry wakes sleeping agent loops. Each worker's cycler registers a
// one-slot channel; a nudge while one is already pending coalesces into it,
// so a loop never wakes more than once per sleep.
type NudgeRegistry struct {
	mu    sync.Mutex
	chans map[int64]chan struct{}
}

func NewNudgeRegistry() *NudgeRegistry {
	return &NudgeRegistry{chans: make(map[int64]chan struct{})}
}

// Register returns the worker's wake channel, creating it if needed.
func (r *NudgeRegistry) Register(workerID int64) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chans[workerID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.chans[workerID] = ch
	}
	return ch
}

// Unregister drops the worker's wake channel when its loop stops.
func (r *NudgeRegistry) Unregister(workerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chans, workerID)
}

// Nudge wakes one worker. No-op if the worker has no loop running or a
// nudge is already pending.
func (r *NudgeRegistry) Nudge(workerID int64) {
	r.mu.Lock()
	ch, ok := r.chans[workerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// NudgeAll wakes every registered worker.
func (r *NudgeRegistry) NudgeAll() {
	r.mu.Lock()
	chans := make([]chan struct{}, 0, len(r.chans))
	for _, ch := range r.chans {
		chans = append(chans, ch)
	}
	r.mu.Unlock()
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
