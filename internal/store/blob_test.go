package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/streamloop/chatrelay/internal/model/chat"
)

func TestBlobStoreWritesOneBlobPerKey(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBlob(dir)
	if err != nil {
		t.Fatalf("NewBlob err: %v", err)
	}

	if err := s.PutSession(ctx, chat.Session{ID: "abc123", CreatedAt: 1}); err != nil {
		t.Fatalf("PutSession err: %v", err)
	}
	if err := s.PutMessages(ctx, "abc123", []chat.Message{{Role: chat.RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("PutMessages err: %v", err)
	}

	for _, p := range []string{
		filepath.Join(dir, "sessions", "abc123.json"),
		filepath.Join(dir, "messages", "abc123.json"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("expected blob at %s: %v", p, err)
		}
	}
}

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewBlob(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlob err: %v", err)
	}

	session := chat.Session{ID: "s1", CreatedAt: 42}
	if err := s.PutSession(ctx, session); err != nil {
		t.Fatalf("PutSession err: %v", err)
	}
	got, ok, err := s.GetSession(ctx, "s1")
	if err != nil || !ok || got != session {
		t.Fatalf("GetSession: %+v ok=%v err=%v", got, ok, err)
	}

	messages := []chat.Message{
		{ID: "a", Role: chat.RoleUser, Content: "q"},
		{ID: "b", Role: chat.RoleAssistant, Content: "a"},
	}
	if err := s.PutMessages(ctx, "s1", messages); err != nil {
		t.Fatalf("PutMessages err: %v", err)
	}
	gotMsgs, err := s.GetMessages(ctx, "s1")
	if err != nil || len(gotMsgs) != 2 {
		t.Fatalf("GetMessages: %+v err=%v", gotMsgs, err)
	}
}

func TestBlobStoreUnknownKeysReadEmpty(t *testing.T) {
	s, err := NewBlob(t.TempDir())
	if err != nil {
		t.Fatalf("NewBlob err: %v", err)
	}

	_, ok, err := s.GetSession(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected absent session: ok=%v err=%v", ok, err)
	}
	msgs, err := s.GetMessages(context.Background(), "missing")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty history: %v %v", msgs, err)
	}
}

func TestBlobStoreSanitizesPathHostileIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBlob(dir)
	if err != nil {
		t.Fatalf("NewBlob err: %v", err)
	}

	hostile := "../escape/attempt"
	if err := s.PutSession(context.Background(), chat.Session{ID: hostile, CreatedAt: 1}); err != nil {
		t.Fatalf("PutSession err: %v", err)
	}

	// The blob must land inside the sessions prefix, not above the root.
	entries, err := os.ReadDir(filepath.Join(dir, "sessions"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one blob under sessions: %v err=%v", entries, err)
	}

	got, ok, err := s.GetSession(context.Background(), hostile)
	if err != nil || !ok || got.ID != hostile {
		t.Fatalf("round trip through sanitized key failed: %+v ok=%v err=%v", got, ok, err)
	}
}
