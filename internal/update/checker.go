// Package update polls the configured update source and records
// diagnostics. It never applies an update; the keeper does that.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
)

const (
	defaultInterval = 6 * time.Hour
	checkTimeout    = 30 * time.Second
)

// Diagnostics is the checker state exposed on /api/status. Timestamps are
// Unix milliseconds.
type Diagnostics struct {
	LastCheckAt         *int64 `json:"lastCheckAt,omitempty"`
	LastSuccessAt       *int64 `json:"lastSuccessAt,omitempty"`
	LastErrorAt         *int64 `json:"lastErrorAt,omitempty"`
	LastErrorCode       string `json:"lastErrorCode,omitempty"`
	NextCheckAt         *int64 `json:"nextCheckAt,omitempty"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	UpdateSource        string `json:"updateSource,omitempty"`
	LatestVersion       string `json:"latestVersion,omitempty"`
}

type sourceResponse struct {
	Version string `json:"version"`
	URL     string `json:"url,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Checker polls the update source on a jittered interval.
type Checker struct {
	cfg     config.UpdateConfig
	version string
	events  bus.EventPublisher
	client  *http.Client

	mu   sync.Mutex
	diag Diagnostics
}

func New(cfg config.UpdateConfig, currentVersion string, events bus.EventPublisher) *Checker {
	return &Checker{
		cfg:     cfg,
		version: currentVersion,
		events:  events,
		client:  &http.Client{Timeout: checkTimeout},
		diag:    Diagnostics{UpdateSource: cfg.SourceURL},
	}
}

// Diagnostics returns a snapshot of the checker state.
func (c *Checker) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diag
}

// Run blocks until ctx is done. With no source configured it parks.
func (c *Checker) Run(ctx context.Context) error {
	if c.cfg.SourceURL == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	interval := defaultInterval
	if c.cfg.IntervalHours > 0 {
		interval = time.Duration(c.cfg.IntervalHours) * time.Hour
	}
	for {
		c.checkOnce(ctx)

		// Jitter up to 10% keeps a fleet of engines from thundering.
		wait := interval + time.Duration(rand.Int63n(int64(interval/10)+1))
		next := time.Now().Add(wait).UnixMilli()
		c.mu.Lock()
		c.diag.NextCheckAt = &next
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context) {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	c.diag.LastCheckAt = &now
	c.mu.Unlock()

	latest, err := c.fetch(ctx)
	if err != nil {
		c.recordFailure(err)
		return
	}

	c.mu.Lock()
	ts := time.Now().UnixMilli()
	c.diag.LastSuccessAt = &ts
	c.diag.LastErrorCode = ""
	c.diag.ConsecutiveFailures = 0
	c.diag.LatestVersion = latest.Version
	c.mu.Unlock()

	if latest.Version != "" && latest.Version != c.version {
		slog.Info("update.available", "current", c.version, "latest", latest.Version)
		if c.events != nil {
			c.events.Broadcast(bus.Event{Name: bus.EventUpdateAvailable, Payload: latest.Version})
		}
	}
}

func (c *Checker) fetch(ctx context.Context) (*sourceResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.SourceURL, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.SourceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.SourceToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status_%d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out sourceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("bad_response: %w", err)
	}
	return &out, nil
}

func (c *Checker) recordFailure(err error) {
	code := err.Error()
	if len(code) > 120 {
		code = code[:120]
	}
	now := time.Now().UnixMilli()
	c.mu.Lock()
	c.diag.LastErrorAt = &now
	c.diag.LastErrorCode = code
	c.diag.ConsecutiveFailures++
	failures := c.diag.ConsecutiveFailures
	c.mu.Unlock()
	slog.Debug("update.check_failed", "failures", failures, "error", err)
}
