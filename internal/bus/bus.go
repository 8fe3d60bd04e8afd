package bus

import (
	"sync"
)

// Event is one in-process notification: a decision opened, a vote landed, a
// run finished. The activity table is the durable record; the bus only fans
// events out to live subscribers.
type Event struct {
	Name     string `json:"name"`
	RoomID   int64  `json:"room_id,omitempty"`
	WorkerID int64  `json:"worker_id,omitempty"`
	Payload  any    `json:"payload,omitempty"`
}

// Event names published by the engine.
const (
	EventRoomCreated      = "room.created"
	EventRoomStatus       = "room.status"
	EventWorkerCreated    = "worker.created"
	EventDecisionCreated  = "decision.created"
	EventDecisionObjected = "decision.objected"
	EventDecisionResolved = "decision.resolved"
	EventVoteCast         = "vote.cast"
	EventGoalProgress     = "goal.progress"
	EventTaskCreated      = "task.created"
	EventRunStarted       = "run.started"
	EventRunFinished      = "run.finished"
	EventWatchTriggered   = "watch.triggered"
	EventMessagePosted    = "message.posted"
	EventWalletSent       = "wallet.sent"
	EventUpdateAvailable  = "update.available"
)

// EventHandler handles a broadcast event. Handlers run on the publisher's
// goroutine and must not block.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so packages can
// publish without holding the concrete bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}

// Bus is the in-memory EventPublisher used by the engine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func New() *Bus {
	return &Bus{handlers: make(map[string]EventHandler)}
}

// Subscribe registers a handler under an id, replacing any previous handler
// with the same id.
func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers the event to every subscriber. The handler snapshot is
// taken under the lock; handlers run outside it so one can unsubscribe
// itself without deadlocking.
func (b *Bus) Broadcast(event Event) {
	b.mu.RLock()
	snapshot := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(event)
	}
}
