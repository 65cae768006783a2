package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/streamloop/chatrelay/internal/model/chat"
)

// BlobStore persists one JSON blob per key under a root directory:
// sessions/<id>.json holds the session record and messages/<id>.json holds
// the history array. This is the layout used by the single-invocation edge
// adapters, where no process state survives between requests. Deletion is
// intentionally not implemented.
type BlobStore struct {
	mu   sync.Mutex
	root string
}

// NewBlob opens a blob store rooted at dir, creating the key prefixes.
func NewBlob(dir string) (*BlobStore, error) {
	for _, sub := range []string{"sessions", "messages"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create blob directory: %w", err)
		}
	}
	return &BlobStore{root: dir}, nil
}

func (s *BlobStore) GetSession(_ context.Context, id string) (chat.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var session chat.Session
	ok, err := s.readJSON(s.sessionKey(id), &session)
	return session, ok, err
}

func (s *BlobStore) PutSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.sessionKey(session.ID), session)
}

func (s *BlobStore) GetMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []chat.Message
	if _, err := s.readJSON(s.messagesKey(sessionID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *BlobStore) PutMessages(_ context.Context, sessionID string, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messages == nil {
		messages = []chat.Message{}
	}
	return s.writeJSON(s.messagesKey(sessionID), messages)
}

func (s *BlobStore) Close() error { return nil }

func (s *BlobStore) sessionKey(id string) string {
	return filepath.Join(s.root, "sessions", sanitizeKey(id)+".json")
}

func (s *BlobStore) messagesKey(id string) string {
	return filepath.Join(s.root, "messages", sanitizeKey(id)+".json")
}

func (s *BlobStore) readJSON(path string, v any) (bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read blob %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("parse blob %s: %w", path, err)
	}
	return true, nil
}

func (s *BlobStore) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal blob: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace blob %s: %w", path, err)
	}
	return nil
}

// sanitizeKey keeps session ids from escaping the blob root. Ids are opaque
// strings chosen by clients, so path separators are replaced outright.
func sanitizeKey(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch r {
		case '/', '\\', '.':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
