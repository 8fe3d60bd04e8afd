package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/update"
)

type fakeFirer struct {
	token   string
	payload string
}

func (f *fakeFirer) FireWebhook(ctx context.Context, token, payload string) (*store.Task, error) {
	if token != f.token {
		return nil, errs.New(errs.KindNotFound, "no active task for token")
	}
	f.payload = payload
	return &store.Task{ID: 7}, nil
}

type fakeDiag struct{}

func (fakeDiag) Diagnostics() update.Diagnostics { return update.Diagnostics{} }

func newTestServer(t *testing.T) (*Server, *store.Store, *fakeFirer) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "quoroom.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.DataDir = dir
	firer := &fakeFirer{token: "good-token"}
	srv := NewServer(st, cfg, firer, bus.NewNudgeRegistry(), fakeDiag{}, "test")
	return srv, st, firer
}

func TestTaskHook(t *testing.T) {
	srv, _, firer := newTestServer(t)
	mux := srv.routes()

	req := httptest.NewRequest(http.MethodPost, "/api/hooks/task/good-token", strings.NewReader(`{"n":1}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if firer.payload != `{"n":1}` {
		t.Errorf("payload = %q", firer.payload)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/hooks/task/wrong", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token status = %d", rec.Code)
	}
}

func TestTaskHookBodyLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.cfg.Tasks.WebhookBodyLimit = 16
	mux := srv.routes()

	req := httptest.NewRequest(http.MethodPost, "/api/hooks/task/good-token", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestTaskHookRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.routes()

	var last *httptest.ResponseRecorder
	for i := 0; i < limiterBurst+1; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/hooks/task/good-token", nil)
		last = httptest.NewRecorder()
		mux.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status after burst = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestQueenHook(t *testing.T) {
	srv, st, _ := newTestServer(t)
	ctx := context.Background()

	room := &store.Room{Name: "apiary", Objective: "obj", Status: store.RoomActive, Config: store.DefaultRoomConfig(), WebhookToken: "room-token"}
	queen := &store.Worker{Name: "queen", Role: "queen", IsDefault: true}
	if err := st.CreateRoomBundle(ctx, room, queen, &store.Goal{Description: "obj"}, &store.Wallet{Address: "0x01", Chain: "base"}); err != nil {
		t.Fatalf("CreateRoomBundle: %v", err)
	}

	mux := srv.routes()
	req := httptest.NewRequest(http.MethodPost, "/api/hooks/queen/room-token", strings.NewReader("ship it"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	msgs, err := st.ListUnreadForWorker(ctx, room.ID, queen.ID, 10)
	if err != nil {
		t.Fatalf("ListUnreadForWorker: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != store.SenderWebhook || msgs[0].Content != "ship it" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestQueenHookRejectsEmptyAndUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := srv.routes()

	req := httptest.NewRequest(http.MethodPost, "/api/hooks/queen/whatever", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/hooks/queen/whatever", strings.NewReader("hello"))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token status = %d, want 404", rec.Code)
	}
}
