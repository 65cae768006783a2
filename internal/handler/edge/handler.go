// Package edge hosts the single-invocation variant of the API. Each
// handler builds its own blob store and services, serves one request, and
// releases everything — no state is shared between invocations, matching a
// function-per-request deployment. The relay itself is the same engine the
// long-lived server uses; only the bootstrap differs.
package edge

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamloop/chatrelay/internal/config"
	"github.com/streamloop/chatrelay/internal/model/chat"
	"github.com/streamloop/chatrelay/internal/store"

	chatservice "github.com/streamloop/chatrelay/internal/service/chat"
	"github.com/streamloop/chatrelay/internal/service/relay"
	"github.com/streamloop/chatrelay/internal/service/upstream"
	"github.com/streamloop/chatrelay/pkg/sse"
	"github.com/streamloop/chatrelay/pkg/utils"
)

// Functions groups the per-invocation handlers. Only the blob-store root
// and the upstream settings survive between requests.
type Functions struct {
	DataDir  string
	Upstream config.UpstreamConfig
}

// openService builds a fresh blob-backed chat service for one invocation.
func (f *Functions) openService() (*chatservice.Service, store.Store, error) {
	st, err := store.NewBlob(f.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return chatservice.NewService(st), st, nil
}

// HandleSession upserts a session. POST only.
func (f *Functions) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId required")
		return
	}

	svc, st, err := f.openService()
	if err != nil {
		log.Printf("[edge] store init failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	defer st.Close()

	session, err := svc.EnsureSession(r.Context(), payload.SessionID)
	if err != nil {
		log.Printf("[edge] ensure session failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"sessionId": session.ID,
	})
}

// HandleMessages reads or appends history entries. GET lists, POST appends.
func (f *Functions) HandleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f.listMessages(w, r)
	case http.MethodPost:
		f.appendMessage(w, r)
	default:
		utils.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

func (f *Functions) listMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	svc, st, err := f.openService()
	if err != nil {
		log.Printf("[edge] store init failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	defer st.Close()

	messages, err := svc.ListMessages(r.Context(), sessionID)
	if err != nil {
		log.Printf("[edge] list messages failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (f *Functions) appendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string    `json:"sessionId"`
		Role      chat.Role `json:"role"`
		Content   *string   `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil ||
		payload.SessionID == "" || !payload.Role.Valid() || payload.Content == nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	svc, st, err := f.openService()
	if err != nil {
		log.Printf("[edge] store init failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	defer st.Close()

	if err := svc.AppendMessage(r.Context(), payload.SessionID, payload.Role, *payload.Content); err != nil {
		log.Printf("[edge] append message failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleChatStream relays one turn over SSE, building the whole pipeline
// for this single invocation.
func (f *Functions) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	var req relay.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if !f.Upstream.Enabled() {
		utils.RespondError(w, http.StatusInternalServerError, "OPENAI_API_KEY not set")
		return
	}
	if req.Model == "" {
		req.Model = f.Upstream.Model
	}

	svc, st, err := f.openService()
	if err != nil {
		log.Printf("[edge] store init failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	defer st.Close()

	sink, err := sse.NewWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sse.SetupHeaders(w)

	client := upstream.NewClient(f.Upstream.BaseURL, f.Upstream.APIKey, f.Upstream.ReadTimeout)
	engine := relay.New(client, svc)
	if err := engine.Run(r.Context(), req, sink); err != nil {
		log.Printf("[edge] relay rejected turn: %v", err)
	}
}
