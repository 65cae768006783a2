// Package chat exposes the HTTP surface of the relay service.
package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamloop/chatrelay/internal/service/chat"
	"github.com/streamloop/chatrelay/internal/service/relay"
	"github.com/streamloop/chatrelay/pkg/sse"
	"github.com/streamloop/chatrelay/pkg/utils"
)

// Handler wires the chat routes to the conversation service and the relay
// engine.
type Handler struct {
	chatSvc      *chat.Service
	engine       *relay.Engine
	defaultModel string
	hasUpstream  bool
}

// New creates the handler. hasUpstream gates the stream endpoint on the
// presence of the upstream credential.
func New(chatSvc *chat.Service, engine *relay.Engine, defaultModel string, hasUpstream bool) *Handler {
	return &Handler{
		chatSvc:      chatSvc,
		engine:       engine,
		defaultModel: defaultModel,
		hasUpstream:  hasUpstream,
	}
}

// RegisterRoutes mounts the chat API.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/session", h.handleEnsureSession)
	r.Get("/messages/{sessionID}", h.handleListMessages)
	r.Post("/chat/stream", h.handleChatStream)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleEnsureSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "sessionId required")
		return
	}

	session, err := h.chatSvc.EnsureSession(r.Context(), payload.SessionID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionIDRequired) {
			utils.RespondError(w, http.StatusBadRequest, "sessionId required")
			return
		}
		log.Printf("[chat] failed to ensure session: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"sessionId": session.ID,
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	// Unknown sessions read as empty histories; this endpoint never 404s.
	messages, err := h.chatSvc.ListMessages(r.Context(), sessionID)
	if err != nil {
		log.Printf("[chat] failed to list messages: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req relay.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Both rejections happen before the response commits to an event
	// stream; afterwards failures can only travel in-band.
	if req.SessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId required")
		return
	}
	if !h.hasUpstream {
		utils.RespondError(w, http.StatusInternalServerError, "OPENAI_API_KEY not set")
		return
	}

	if req.Model == "" {
		req.Model = h.defaultModel
	}

	sink, err := sse.NewWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sse.SetupHeaders(w)

	if err := h.engine.Run(r.Context(), req, sink); err != nil {
		// Run only errors before the first event is written.
		log.Printf("[chat] relay rejected turn: %v", err)
	}
}
