package store

import (
	"context"
	"sync"

	"github.com/streamloop/chatrelay/internal/model/chat"
)

// MemoryStore keeps all state in process memory. It backs tests and
// credential-free local runs; state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (chat.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok, nil
}

func (s *MemoryStore) PutSession(_ context.Context, session chat.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) GetMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := s.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

func (s *MemoryStore) PutMessages(_ context.Context, sessionID string, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	s.messages[sessionID] = copied
	return nil
}

func (s *MemoryStore) Close() error { return nil }
