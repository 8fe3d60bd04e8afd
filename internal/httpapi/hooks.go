package httpapi

import (
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

const (
	limiterCacheSize = 4096
	// 30 requests per rolling minute per token.
	limiterRate  = rate.Limit(0.5)
	limiterBurst = 30
	retryAfterS  = 2
)

// limiterSet hands out one token bucket per webhook token, LRU-bounded so
// a token-guessing client cannot grow the map without limit.
type limiterSet struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *rate.Limiter]
}

func newLimiterSet() *limiterSet {
	cache, _ := lru.New[string, *rate.Limiter](limiterCacheSize)
	return &limiterSet{cache: cache}
}

func (l *limiterSet) allow(token string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.cache.Get(token)
	if !ok {
		lim = rate.NewLimiter(limiterRate, limiterBurst)
		l.cache.Add(token, lim)
	}
	return lim.Allow()
}

func (s *Server) handleTaskHook(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if !s.limits.allow(token) {
		rateLimited(w)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	task, err := s.firer.FireWebhook(r.Context(), token, string(body))
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown token"})
			return
		}
		slog.Error("hooks.task_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delivery failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "taskId": task.ID})
}

func (s *Server) handleQueenHook(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if !s.limits.allow(token) {
		rateLimited(w)
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty body"})
		return
	}

	room, err := s.store.GetRoomByWebhookToken(r.Context(), token)
	if err != nil {
		slog.Error("hooks.queen_lookup_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delivery failed"})
		return
	}
	if room == nil || subtle.ConstantTimeCompare([]byte(room.WebhookToken), []byte(token)) != 1 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown token"})
		return
	}

	msg := &store.Message{
		RoomID:     room.ID,
		ToWorkerID: room.QueenWorkerID,
		Sender:     store.SenderWebhook,
		Content:    string(body),
	}
	if err := s.store.CreateMessage(r.Context(), msg); err != nil {
		slog.Error("hooks.queen_store_failed", "room", room.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delivery failed"})
		return
	}
	if room.QueenWorkerID != nil {
		s.nudges.Nudge(*room.QueenWorkerID)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "messageId": msg.ID})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	limit := int64(s.cfg.Tasks.WebhookBodyLimit)
	if limit <= 0 {
		limit = 64 << 10
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return nil, false
	}
	return body, true
}

func rateLimited(w http.ResponseWriter) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterS))
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
}
