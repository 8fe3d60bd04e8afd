// Package station abstracts remote compute provisioning for rooms. The
// engine only knows the lifecycle verbs; with no service configured every
// call reports stations unavailable.
package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
)

// Station is one provisioned compute instance.
type Station struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Host   string `json:"host,omitempty"`
}

// Provider provisions and tears down stations.
type Provider interface {
	Provision(ctx context.Context, roomID int64, spec map[string]any) (*Station, error)
	Status(ctx context.Context, stationID string) (*Station, error)
	Release(ctx context.Context, stationID string) error
}

// New returns the HTTP provider, or the unconfigured stub when no base URL
// is set.
func New(cfg config.StationConfig) Provider {
	if cfg.APIBase == "" {
		return unconfigured{}
	}
	return &httpProvider{
		base:   cfg.APIBase,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type unconfigured struct{}

func (unconfigured) Provision(context.Context, int64, map[string]any) (*Station, error) {
	return nil, errs.New(errs.KindInvalidState, "stations not configured")
}

func (unconfigured) Status(context.Context, string) (*Station, error) {
	return nil, errs.New(errs.KindInvalidState, "stations not configured")
}

func (unconfigured) Release(context.Context, string) error {
	return errs.New(errs.KindInvalidState, "stations not configured")
}

type httpProvider struct {
	base   string
	client *http.Client
}

func (p *httpProvider) Provision(ctx context.Context, roomID int64, spec map[string]any) (*Station, error) {
	body := map[string]any{"roomId": roomID, "spec": spec}
	var out Station
	if err := p.do(ctx, http.MethodPost, "/v1/stations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *httpProvider) Status(ctx context.Context, stationID string) (*Station, error) {
	var out Station
	if err := p.do(ctx, http.MethodGet, "/v1/stations/"+stationID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *httpProvider) Release(ctx context.Context, stationID string) error {
	return p.do(ctx, http.MethodDelete, "/v1/stations/"+stationID, nil, nil)
}

func (p *httpProvider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("station %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
