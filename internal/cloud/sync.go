package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/store"
)

const defaultSyncInterval = 60 * time.Second

// Syncer mirrors the relay inbox into room message boards. Tokens are
// per-room bearer credentials persisted in a sidecar so re-registration
// survives restarts.
type Syncer struct {
	store  *store.Store
	nudges *bus.NudgeRegistry
	client Client
	cfg    *config.Config

	mu          sync.Mutex
	tokens      map[int64]string    // roomID -> bearer token
	seenInvites map[string]struct{} // invites have no ack endpoint
}

func NewSyncer(st *store.Store, nudges *bus.NudgeRegistry, client Client, cfg *config.Config) *Syncer {
	s := &Syncer{
		store:       st,
		nudges:      nudges,
		client:      client,
		cfg:         cfg,
		tokens:      make(map[int64]string),
		seenInvites: make(map[string]struct{}),
	}
	s.loadTokens()
	return s
}

// Run polls the relay inbox for every registered room until ctx is done.
// Disabled (nil client) syncers park.
func (s *Syncer) Run(ctx context.Context) error {
	if s.client == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	interval := defaultSyncInterval
	if s.cfg.Cloud.SyncSeconds > 0 {
		interval = time.Duration(s.cfg.Cloud.SyncSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// EnsureRegistered obtains a relay token for the room if it has none yet.
func (s *Syncer) EnsureRegistered(ctx context.Context, room *store.Room) {
	if s.client == nil {
		return
	}
	s.mu.Lock()
	_, ok := s.tokens[room.ID]
	s.mu.Unlock()
	if ok {
		return
	}
	token, err := s.client.RegisterRoom(ctx, room.ID, room.Name)
	if err != nil {
		slog.Debug("cloud.register_failed", "room", room.ID, "error", err)
		return
	}
	s.mu.Lock()
	s.tokens[room.ID] = token
	s.mu.Unlock()
	s.saveTokens()
}

// NotifyKeeper relays a message to the keeper's devices, best-effort.
func (s *Syncer) NotifyKeeper(ctx context.Context, roomID int64, content string) {
	if s.client == nil {
		return
	}
	s.mu.Lock()
	token := s.tokens[roomID]
	s.mu.Unlock()
	if token == "" {
		return
	}
	if err := s.client.NotifyKeeper(ctx, token, content); err != nil {
		slog.Debug("cloud.notify_failed", "room", roomID, "error", err)
	}
}

func (s *Syncer) syncOnce(ctx context.Context) {
	s.mu.Lock()
	snapshot := make(map[int64]string, len(s.tokens))
	for id, tok := range s.tokens {
		snapshot[id] = tok
	}
	s.mu.Unlock()

	for roomID, token := range snapshot {
		inbox, err := s.client.FetchInbox(ctx, token)
		if err != nil {
			slog.Debug("cloud.inbox_failed", "room", roomID, "error", err)
			continue
		}
		if len(inbox) == 0 {
			continue
		}
		room, err := s.store.GetRoom(ctx, roomID)
		if err != nil || room == nil {
			continue
		}
		for _, in := range inbox {
			msg := &store.Message{
				RoomID:     roomID,
				ToWorkerID: room.QueenWorkerID,
				Sender:     store.SenderCloud,
				Content:    in.Content,
			}
			if err := s.store.CreateMessage(ctx, msg); err != nil {
				slog.Debug("cloud.message_store_failed", "room", roomID, "error", err)
				continue
			}
			if err := s.client.AckMessage(ctx, token, in.ID); err != nil {
				slog.Debug("cloud.ack_failed", "room", roomID, "message", in.ID, "error", err)
			}
		}
		if room.QueenWorkerID != nil {
			s.nudges.Nudge(*room.QueenWorkerID)
		}
	}

	for roomID, token := range snapshot {
		s.deliverInvites(ctx, roomID, token)
	}
}

// deliverInvites posts unseen collaboration invites to the room's queen.
// There is no ack endpoint; delivered invite ids are tracked in memory, so
// a restart may repost, which the queen tolerates.
func (s *Syncer) deliverInvites(ctx context.Context, roomID int64, token string) {
	invites, err := s.client.FetchInvites(ctx, token)
	if err != nil {
		slog.Debug("cloud.invites_failed", "room", roomID, "error", err)
		return
	}
	if len(invites) == 0 {
		return
	}
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil || room == nil {
		return
	}
	for _, inv := range invites {
		s.mu.Lock()
		_, seen := s.seenInvites[inv.ID]
		if !seen {
			s.seenInvites[inv.ID] = struct{}{}
		}
		s.mu.Unlock()
		if seen {
			continue
		}
		msg := &store.Message{
			RoomID:     roomID,
			ToWorkerID: room.QueenWorkerID,
			Sender:     store.SenderCloud,
			Content:    fmt.Sprintf("Invite from room %q: %s", inv.RoomName, inv.Message),
		}
		if err := s.store.CreateMessage(ctx, msg); err != nil {
			slog.Debug("cloud.invite_store_failed", "room", roomID, "error", err)
			continue
		}
		if room.QueenWorkerID != nil {
			s.nudges.Nudge(*room.QueenWorkerID)
		}
	}
}

const tokensSidecar = "cloud-room-tokens.json"

func (s *Syncer) loadTokens() {
	raw, err := os.ReadFile(s.cfg.SidecarPath(tokensSidecar))
	if err != nil {
		return
	}
	tokens := make(map[int64]string)
	if err := json.Unmarshal(raw, &tokens); err != nil {
		slog.Debug("cloud.tokens_parse_failed", "error", err)
		return
	}
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

func (s *Syncer) saveTokens() {
	s.mu.Lock()
	raw, err := json.MarshalIndent(s.tokens, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return
	}
	if err := os.WriteFile(s.cfg.SidecarPath(tokensSidecar), raw, 0600); err != nil {
		slog.Debug("cloud.tokens_save_failed", "error", err)
	}
}
