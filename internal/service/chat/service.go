// Package chat manages conversation state: the session registry and the
// per-session append-only message log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/streamloop/chatrelay/internal/model/chat"
	"github.com/streamloop/chatrelay/internal/store"
)

var ErrSessionIDRequired = errors.New("sessionId required")

// Service encapsulates conversation state management over a Store.
type Service struct {
	store store.Store
}

// NewService wires the service to the supplied store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// EnsureSession makes the session id known before any message traffic.
// Idempotent: an existing session is left untouched, including its history.
// The session record and the empty history are two separate writes with no
// transaction between them; a partial failure leaves a session without a
// history key, which reads repair lazily.
func (s *Service) EnsureSession(ctx context.Context, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		return chat.Session{}, ErrSessionIDRequired
	}

	existing, ok, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, fmt.Errorf("lookup session: %w", err)
	}
	if ok {
		return existing, nil
	}

	session := chat.Session{
		ID:        sessionID,
		CreatedAt: time.Now().UTC().UnixMilli(),
	}
	if err := s.store.PutSession(ctx, session); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	if err := s.store.PutMessages(ctx, sessionID, []chat.Message{}); err != nil {
		return chat.Session{}, fmt.Errorf("create message log: %w", err)
	}
	return session, nil
}

// ListMessages returns the stored history in insertion order. An unknown
// session yields an empty slice; callers cannot distinguish "no messages"
// from "no session" through this read.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	messages, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	return messages, nil
}

// AppendMessage adds one entry to the session's history, lazily creating
// the log when absent. Entries are never rewritten or removed.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, role chat.Role, content string) error {
	if sessionID == "" {
		return ErrSessionIDRequired
	}

	messages, err := s.store.GetMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	messages = append(messages, chat.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC().UnixMilli(),
	})

	if err := s.store.PutMessages(ctx, sessionID, messages); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}
