// Package store provides key-value persistence for sessions and message
// histories. Values are JSON-typed blobs keyed by session id; reads of
// absent keys report absence rather than failing.
package store

import (
	"context"

	"github.com/streamloop/chatrelay/internal/model/chat"
)

// Store is the persistence contract shared by all drivers. Writes are
// last-write-wins per key; no cross-key transaction is provided.
type Store interface {
	// GetSession returns the session record for id, or ok=false when the
	// session has never been created.
	GetSession(ctx context.Context, id string) (chat.Session, bool, error)

	// PutSession writes the session record wholesale.
	PutSession(ctx context.Context, session chat.Session) error

	// GetMessages returns the ordered history for the session. An unknown
	// session yields an empty slice, not an error.
	GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error)

	// PutMessages replaces the session's history wholesale.
	PutMessages(ctx context.Context, sessionID string, messages []chat.Message) error

	// Close releases driver resources.
	Close() error
}
