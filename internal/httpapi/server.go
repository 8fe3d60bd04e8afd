// Package httpapi is the engine's local HTTP surface: webhook delivery
// endpoints and a status probe. Binds loopback only.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/update"
)

const shutdownGrace = 5 * time.Second

// WebhookFirer launches the task bound to a webhook token. Implemented by
// the scheduler.
type WebhookFirer interface {
	FireWebhook(ctx context.Context, token, payload string) (*store.Task, error)
}

// DiagnosticsSource reports update-checker state for /api/status.
type DiagnosticsSource interface {
	Diagnostics() update.Diagnostics
}

// Server hosts the hook and status endpoints.
type Server struct {
	store     *store.Store
	cfg       *config.Config
	firer     WebhookFirer
	nudges    *bus.NudgeRegistry
	updates   DiagnosticsSource
	version   string
	startedAt time.Time
	limits    *limiterSet
}

func NewServer(st *store.Store, cfg *config.Config, firer WebhookFirer, nudges *bus.NudgeRegistry, updates DiagnosticsSource, version string) *Server {
	return &Server{
		store:     st,
		cfg:       cfg,
		firer:     firer,
		nudges:    nudges,
		updates:   updates,
		version:   version,
		startedAt: time.Now(),
		limits:    newLimiterSet(),
	}
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/hooks/task/{token}", s.handleTaskHook)
	mux.HandleFunc("POST /api/hooks/queen/{token}", s.handleQueenHook)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return mux
}

// Run binds the listener, writes the port and token sidecars, and serves
// until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	host := s.cfg.API.Host
	if host == "" {
		host = "127.0.0.1"
	}
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, s.cfg.API.Port))
	if err != nil {
		return fmt.Errorf("bind api listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := s.writeSidecars(port); err != nil {
		ln.Close()
		return err
	}
	slog.Info("api.listening", "addr", ln.Addr().String())

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// writeSidecars records the bound port and ensures an API token exists so
// local clients can find and authenticate to the engine.
func (s *Server) writeSidecars(port int) error {
	portPath := s.cfg.SidecarPath("api.port")
	if err := os.WriteFile(portPath, []byte(fmt.Sprintf("%d\n", port)), 0600); err != nil {
		return fmt.Errorf("write api.port: %w", err)
	}
	if s.cfg.API.Token == "" {
		tokenPath := s.cfg.SidecarPath("api.token")
		if existing, err := os.ReadFile(tokenPath); err == nil && len(existing) > 0 {
			s.cfg.API.Token = string(existing)
			return nil
		}
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate api token: %w", err)
		}
		s.cfg.API.Token = hex.EncodeToString(buf)
		if err := os.WriteFile(tokenPath, []byte(s.cfg.API.Token), 0600); err != nil {
			return fmt.Errorf("write api.token: %w", err)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api.write_failed", "error", err)
	}
}
