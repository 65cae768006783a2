package edge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/streamloop/chatrelay/internal/config"
)

func setupFunctions(t *testing.T) (*chi.Mux, *Functions) {
	t.Helper()
	fns := &Functions{
		DataDir: t.TempDir(),
		Upstream: config.UpstreamConfig{
			BaseURL:     "http://unused",
			Model:       "gpt-4o-mini",
			ReadTimeout: time.Second,
		},
	}

	r := chi.NewRouter()
	r.HandleFunc("/session", fns.HandleSession)
	r.HandleFunc("/messages/{sessionID}", fns.HandleMessages)
	r.HandleFunc("/messages", fns.HandleMessages)
	r.HandleFunc("/chat/stream", fns.HandleChatStream)
	return r, fns
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSessionUpsertIsIdempotentAcrossInvocations(t *testing.T) {
	r, _ := setupFunctions(t)

	first := do(r, http.MethodPost, "/session", map[string]string{"sessionId": "abc"})
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", first.Code, first.Body.String())
	}

	// Seed a message, then upsert again; the history must survive since
	// every invocation reopens the same blob layout.
	post := do(r, http.MethodPost, "/messages", map[string]string{
		"sessionId": "abc", "role": "user", "content": "hello",
	})
	if post.Code != http.StatusOK {
		t.Fatalf("append failed: %d %s", post.Code, post.Body.String())
	}

	second := do(r, http.MethodPost, "/session", map[string]string{"sessionId": "abc"})
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", second.Code)
	}

	list := do(r, http.MethodGet, "/messages/abc", nil)
	var body struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &body); err != nil || len(body.Messages) != 1 {
		t.Fatalf("history lost across invocations: %s", list.Body.String())
	}
}

func TestSessionRejectsNonPost(t *testing.T) {
	r, _ := setupFunctions(t)

	resp := do(r, http.MethodGet, "/session", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestAppendMessageValidatesPayload(t *testing.T) {
	r, _ := setupFunctions(t)

	cases := []map[string]any{
		// everything missing
		{},
		// no role, no content
		{"sessionId": "s"},
		// role outside the vocabulary
		{"sessionId": "s", "role": "robot", "content": "x"},
		// content absent entirely
		{"sessionId": "s", "role": "user"},
	}
	for i, payload := range cases {
		resp := do(r, http.MethodPost, "/messages", payload)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, resp.Code)
		}
		var body map[string]string
		_ = json.Unmarshal(resp.Body.Bytes(), &body)
		if body["error"] != "invalid payload" {
			t.Fatalf("case %d: unexpected error body: %s", i, resp.Body.String())
		}
	}
}

func TestChatStreamRejectsMissingCredential(t *testing.T) {
	r, _ := setupFunctions(t)

	resp := do(r, http.MethodPost, "/chat/stream", map[string]any{
		"sessionId": "abc",
		"messages":  []map[string]string{{"role": "user", "content": "hi"}},
	})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without credential, got %d", resp.Code)
	}
}
