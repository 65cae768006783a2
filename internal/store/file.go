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

// document is the on-disk layout of the file driver: a single JSON object
// holding every session and every history, rewritten wholesale on each
// mutation. Small and human-inspectable, not built for large histories.
type document struct {
	Sessions map[string]chat.Session   `json:"sessions"`
	Messages map[string][]chat.Message `json:"messages"`
}

// FileStore persists all state in one JSON document on disk.
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  document
}

// NewFile opens (or creates) the JSON document at path and loads it.
func NewFile(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		doc: document{
			Sessions: make(map[string]chat.Session),
			Messages: make(map[string][]chat.Message),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.doc); err != nil {
			return nil, fmt.Errorf("parse store file %s: %w", path, err)
		}
	}
	if s.doc.Sessions == nil {
		s.doc.Sessions = make(map[string]chat.Session)
	}
	if s.doc.Messages == nil {
		s.doc.Messages = make(map[string][]chat.Message)
	}
	return s, nil
}

func (s *FileStore) GetSession(_ context.Context, id string) (chat.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.doc.Sessions[id]
	return session, ok, nil
}

func (s *FileStore) PutSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Sessions[session.ID] = session
	return s.flushLocked()
}

func (s *FileStore) GetMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.doc.Messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *FileStore) PutMessages(_ context.Context, sessionID string, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	s.doc.Messages[sessionID] = copied
	return s.flushLocked()
}

func (s *FileStore) Close() error { return nil }

// flushLocked rewrites the whole document. Callers must hold s.mu.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store document: %w", err)
	}

	// Write to a sibling temp file then rename so a crash mid-write
	// cannot leave a truncated document behind.
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
