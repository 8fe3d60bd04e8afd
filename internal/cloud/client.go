// Package cloud talks to the optional relay service that carries keeper
// notifications and cross-host room mail. Everything here is best-effort;
// the engine runs fine with the relay unreachable or unconfigured.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// InboxMessage is one message waiting for a room on the relay.
type InboxMessage struct {
	ID      string `json:"id"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
	SentAt  int64  `json:"sentAt,omitempty"`
}

// Invite is a pending cross-room collaboration offer.
type Invite struct {
	ID       string `json:"id"`
	RoomName string `json:"roomName"`
	Message  string `json:"message,omitempty"`
}

// Client is the relay API surface the engine depends on.
type Client interface {
	RegisterRoom(ctx context.Context, roomID int64, name string) (token string, err error)
	FetchInbox(ctx context.Context, token string) ([]InboxMessage, error)
	AckMessage(ctx context.Context, token, messageID string) error
	NotifyKeeper(ctx context.Context, token, content string) error
	FetchInvites(ctx context.Context, token string) ([]Invite, error)
}

// HTTPClient is the production relay client.
type HTTPClient struct {
	base   string
	client *http.Client
}

func NewHTTPClient(apiBase string) *HTTPClient {
	return &HTTPClient{
		base:   apiBase,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) RegisterRoom(ctx context.Context, roomID int64, name string) (string, error) {
	body := map[string]any{"roomId": roomID, "name": name}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/rooms/register", "", body, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *HTTPClient) FetchInbox(ctx context.Context, token string) ([]InboxMessage, error) {
	var out struct {
		Messages []InboxMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/inbox", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *HTTPClient) AckMessage(ctx context.Context, token, messageID string) error {
	return c.do(ctx, http.MethodPost, "/v1/inbox/"+messageID+"/ack", token, nil, nil)
}

func (c *HTTPClient) NotifyKeeper(ctx context.Context, token, content string) error {
	return c.do(ctx, http.MethodPost, "/v1/keeper/notify", token, map[string]string{"content": content}, nil)
}

func (c *HTTPClient) FetchInvites(ctx context.Context, token string) ([]Invite, error) {
	var out struct {
		Invites []Invite `json:"invites"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/invites", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Invites, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("cloud %s %s: status %d", method, path, resp.StatusCode)
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
