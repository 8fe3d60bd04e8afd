package cloud

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/store"
)

type fakeClient struct {
	inbox    []InboxMessage
	invites  []Invite
	acked    []string
	notified []string
}

func (f *fakeClient) RegisterRoom(ctx context.Context, roomID int64, name string) (string, error) {
	return "relay-token", nil
}

func (f *fakeClient) FetchInbox(ctx context.Context, token string) ([]InboxMessage, error) {
	return f.inbox, nil
}

func (f *fakeClient) AckMessage(ctx context.Context, token, messageID string) error {
	f.acked = append(f.acked, messageID)
	return nil
}

func (f *fakeClient) NotifyKeeper(ctx context.Context, token, content string) error {
	f.notified = append(f.notified, content)
	return nil
}

func (f *fakeClient) FetchInvites(ctx context.Context, token string) ([]Invite, error) {
	return f.invites, nil
}

func newTestSyncer(t *testing.T) (*Syncer, *store.Store, *fakeClient, *store.Room, *store.Worker) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "quoroom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	room := &store.Room{Name: "apiary", Objective: "obj", Status: store.RoomActive, Config: store.DefaultRoomConfig()}
	queen := &store.Worker{Name: "queen", Role: "queen", IsDefault: true}
	if err := st.CreateRoomBundle(context.Background(), room, queen, &store.Goal{Description: "obj"}, &store.Wallet{Address: "0x01", Chain: "base"}); err != nil {
		t.Fatalf("CreateRoomBundle: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = dir
	client := &fakeClient{}
	return NewSyncer(st, bus.NewNudgeRegistry(), client, cfg), st, client, room, queen
}

func TestEnsureRegisteredPersistsToken(t *testing.T) {
	syncer, _, _, room, _ := newTestSyncer(t)
	ctx := context.Background()

	syncer.EnsureRegistered(ctx, room)

	raw, err := os.ReadFile(syncer.cfg.SidecarPath(tokensSidecar))
	if err != nil {
		t.Fatalf("read tokens sidecar: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("tokens sidecar is empty")
	}

	// A second syncer over the same data dir picks the token back up and
	// does not re-register.
	again := NewSyncer(syncer.store, bus.NewNudgeRegistry(), &fakeClient{}, syncer.cfg)
	again.mu.Lock()
	tok := again.tokens[room.ID]
	again.mu.Unlock()
	if tok != "relay-token" {
		t.Fatalf("reloaded token = %q", tok)
	}
}

func TestSyncOnceDeliversInboxToQueen(t *testing.T) {
	syncer, st, client, room, queen := newTestSyncer(t)
	ctx := context.Background()

	syncer.EnsureRegistered(ctx, room)
	client.inbox = []InboxMessage{
		{ID: "m1", Sender: "keeper", Content: "status report please"},
		{ID: "m2", Sender: "keeper", Content: "and pause the spend"},
	}

	syncer.syncOnce(ctx)

	msgs, err := st.ListUnreadForWorker(ctx, room.ID, queen.ID, 10)
	if err != nil {
		t.Fatalf("ListUnreadForWorker: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Sender != store.SenderCloud {
			t.Errorf("sender = %q, want %q", m.Sender, store.SenderCloud)
		}
		if m.ToWorkerID == nil || *m.ToWorkerID != queen.ID {
			t.Errorf("message not addressed to queen: %+v", m)
		}
	}
	if len(client.acked) != 2 || client.acked[0] != "m1" || client.acked[1] != "m2" {
		t.Fatalf("acked = %v", client.acked)
	}
}

func TestInvitesDeliveredOnce(t *testing.T) {
	syncer, st, client, room, queen := newTestSyncer(t)
	ctx := context.Background()

	syncer.EnsureRegistered(ctx, room)
	client.invites = []Invite{{ID: "inv-1", RoomName: "garden", Message: "join our swarm"}}

	syncer.syncOnce(ctx)
	syncer.syncOnce(ctx)

	msgs, err := st.ListUnreadForWorker(ctx, room.ID, queen.ID, 10)
	if err != nil {
		t.Fatalf("ListUnreadForWorker: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d invite messages, want 1 (dedupe)", len(msgs))
	}
	if msgs[0].Sender != store.SenderCloud {
		t.Errorf("sender = %q", msgs[0].Sender)
	}
}

func TestNotifyKeeperNeedsRegistration(t *testing.T) {
	syncer, _, client, room, _ := newTestSyncer(t)
	ctx := context.Background()

	syncer.NotifyKeeper(ctx, room.ID, "ignored")
	if len(client.notified) != 0 {
		t.Fatal("notify went out without a relay token")
	}

	syncer.EnsureRegistered(ctx, room)
	syncer.NotifyKeeper(ctx, room.ID, "vote pending")
	if len(client.notified) != 1 || client.notified[0] != "vote pending" {
		t.Fatalf("notified = %v", client.notified)
	}
}
