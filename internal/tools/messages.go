package tools

import (
	"context"
	"fmt"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// RegisterMessageTools wires send_message.
func RegisterMessageTools(r *Registry, st *store.Store, nudges *bus.NudgeRegistry) {
	r.Register(&sendMessageTool{st: st, nudges: nudges})
}

type sendMessageTool struct {
	st     *store.Store
	nudges *bus.NudgeRegistry
}

func (t *sendMessageTool) Name() string { return "send_message" }
func (t *sendMessageTool) Description() string {
	return "Send a message to another worker by name, to 'keeper' for the human, or to 'room' for everyone."
}
func (t *sendMessageTool) Parameters() map[string]any {
	return schema([]string{"to", "content"}, map[string]any{
		"to":      prop("string", "Worker name, 'keeper', or 'room'."),
		"content": prop("string", "Message body."),
	})
}

func (t *sendMessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	to, err := requireString(args, "to")
	if err != nil {
		return "", err
	}
	content, err := requireString(args, "content")
	if err != nil {
		return "", err
	}

	msg := &store.Message{RoomID: sc.RoomID, FromWorkerID: sc.WorkerID, Content: content}
	switch to {
	case "keeper":
		msg.Sender = store.SenderToKeeper
	case "room":
		// broadcast: ToWorkerID stays nil
	default:
		w, err := t.st.GetWorkerByName(ctx, sc.RoomID, to)
		if err != nil {
			return "", err
		}
		if w == nil {
			return "", errs.New(errs.KindNotFound, "no worker named %q in this room", to)
		}
		msg.ToWorkerID = &w.ID
	}

	if err := t.st.CreateMessage(ctx, msg); err != nil {
		return "", err
	}
	if t.nudges != nil {
		if msg.ToWorkerID != nil {
			t.nudges.Nudge(*msg.ToWorkerID)
		} else if to == "room" {
			t.nudges.NudgeAll()
		}
	}
	return fmt.Sprintf("message %d delivered to %s", msg.ID, to), nil
}
