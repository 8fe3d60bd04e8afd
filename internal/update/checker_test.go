package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
)

type captureBus struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *captureBus) Broadcast(ev bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureBus) Subscribe(id string, handler bus.EventHandler) {}
func (c *captureBus) Unsubscribe(id string)                         {}

func TestCheckOnceSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"version":"1.2.0","url":"https://example.com/rel","notes":"fixes"}`))
	}))
	defer srv.Close()

	events := &captureBus{}
	c := New(config.UpdateConfig{SourceURL: srv.URL, SourceToken: "secret"}, "1.0.0", events)
	c.checkOnce(context.Background())

	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	diag := c.Diagnostics()
	if diag.LastSuccessAt == nil || diag.LastCheckAt == nil {
		t.Fatalf("timestamps missing: %+v", diag)
	}
	if diag.ConsecutiveFailures != 0 || diag.LastErrorCode != "" {
		t.Errorf("failure state after success: %+v", diag)
	}
	if diag.LatestVersion != "1.2.0" {
		t.Errorf("latest = %q", diag.LatestVersion)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.events) != 1 || events.events[0].Name != bus.EventUpdateAvailable {
		t.Fatalf("events = %+v", events.events)
	}
}

func TestCheckOnceSameVersionNoEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1.0.0"}`))
	}))
	defer srv.Close()

	events := &captureBus{}
	c := New(config.UpdateConfig{SourceURL: srv.URL}, "1.0.0", events)
	c.checkOnce(context.Background())

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.events) != 0 {
		t.Fatalf("events = %+v, want none", events.events)
	}
}

func TestCheckOnceFailures(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := New(config.UpdateConfig{SourceURL: srv.URL}, "1.0.0", nil)
	c.checkOnce(context.Background())
	c.checkOnce(context.Background())

	diag := c.Diagnostics()
	if diag.ConsecutiveFailures != 2 {
		t.Errorf("failures = %d, want 2", diag.ConsecutiveFailures)
	}
	if diag.LastErrorCode != "status_500" {
		t.Errorf("error code = %q", diag.LastErrorCode)
	}
	if diag.LastErrorAt == nil {
		t.Error("missing last error timestamp")
	}

	// Recovery resets the failure counter.
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"1.0.0"}`))
	}))
	defer srv2.Close()
	c.cfg.SourceURL = srv2.URL
	c.checkOnce(context.Background())

	diag = c.Diagnostics()
	if diag.ConsecutiveFailures != 0 || diag.LastErrorCode != "" {
		t.Errorf("post-recovery diag = %+v", diag)
	}
}
