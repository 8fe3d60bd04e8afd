package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Session is a persisted conversation transcript. The api backend reloads
// it on resume so the remote agent keeps conversational state across runs.
type Session struct {
	ID        string           `json:"id"`
	Messages  []SessionMessage `json:"messages"`
	UpdatedAt int64            `json:"updatedAt"`
}

// SessionMessage is one turn of the transcript, collapsed to text. Tool
// traffic is summarized rather than replayed verbatim.
type SessionMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// SessionStore keeps one JSON file per session under the data directory.
type SessionStore struct {
	dir string
}

func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

func (s *SessionStore) path(id string) string {
	// Session ids are uuids; reject anything that could escape the dir.
	clean := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '_'
	}, id)
	return filepath.Join(s.dir, clean+".json")
}

// Load returns the stored session, or nil when none exists.
func (s *SessionStore) Load(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &sess, nil
}

// Save writes the session transcript, mode 0600.
func (s *SessionStore) Save(sess *Session) error {
	sess.UpdatedAt = time.Now().UnixMilli()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(sess.ID), data, 0600)
}
