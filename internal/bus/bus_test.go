package bus

import (
	"testing"
)

func TestBroadcastReachesSubscribers(t *testing.T) {
	b := New()

	var got []string
	b.Subscribe("a", func(e Event) { got = append(got, "a:"+e.Name) })
	b.Subscribe("b", func(e Event) { got = append(got, "b:"+e.Name) })

	b.Broadcast(Event{Name: EventVoteCast, RoomID: 1})

	if len(got) != 2 {
		t.Fatalf("delivered to %d handlers, want 2: %v", len(got), got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	calls := 0
	b.Subscribe("a", func(Event) { calls++ })
	b.Broadcast(Event{Name: EventRunStarted})
	b.Unsubscribe("a")
	b.Broadcast(Event{Name: EventRunFinished})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSubscribeReplacesSameID(t *testing.T) {
	b := New()

	first, second := 0, 0
	b.Subscribe("x", func(Event) { first++ })
	b.Subscribe("x", func(Event) { second++ })
	b.Broadcast(Event{Name: EventGoalProgress})

	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d, want 0/1", first, second)
	}
}

func TestHandlerCanUnsubscribeItself(t *testing.T) {
	b := New()

	calls := 0
	b.Subscribe("once", func(Event) {
		calls++
		b.Unsubscribe("once")
	})
	b.Broadcast(Event{Name: EventRunFinished})
	b.Broadcast(Event{Name: EventRunFinished})

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestNudgeCoalesces(t *testing.T) {
	r := NewNudgeRegistry()
	ch := r.Register(7)

	r.Nudge(7)
	r.Nudge(7)
	r.Nudge(7)

	select {
	case <-ch:
	default:
		t.Fatal("expected a pending nudge")
	}
	select {
	case <-ch:
		t.Fatal("nudges did not coalesce")
	default:
	}
}

func TestNudgeUnknownWorker(t *testing.T) {
	r := NewNudgeRegistry()
	r.Nudge(99) // must not panic or block
}

func TestNudgeAll(t *testing.T) {
	r := NewNudgeRegistry()
	a := r.Register(1)
	b := r.Register(2)
	r.Unregister(2)
	c := r.Register(3)

	r.NudgeAll()

	if len(a) != 1 {
		t.Error("worker 1 not nudged")
	}
	if len(b) != 0 {
		t.Error("unregistered worker 2 was nudged")
	}
	if len(c) != 1 {
		t.Error("worker 3 not nudged")
	}
}
