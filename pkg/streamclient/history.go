package streamclient

import "sync"

// History is the client-local message store for one session. It mirrors
// the server's append-only log but is not synchronized with it.
type History struct {
	mu       sync.Mutex
	messages []Message
}

// NewHistory starts a history, optionally seeded with a system prompt.
func NewHistory(systemPrompt string) *History {
	h := &History{}
	if systemPrompt != "" {
		h.messages = append(h.messages, Message{Role: "system", Content: systemPrompt})
	}
	return h
}

// Append adds one entry.
func (h *History) Append(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, Message{Role: role, Content: content})
}

// Messages returns a copy of the current history in order.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	copied := make([]Message, len(h.messages))
	copy(copied, h.messages)
	return copied
}

// DropLastAssistant removes exactly the most recent assistant entry and
// reports whether one was found. This is the regeneration path: drop the
// last reply, then re-send the remaining history.
func (h *History) DropLastAssistant() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.messages) - 1; i >= 0; i-- {
		if h.messages[i].Role == "assistant" {
			h.messages = append(h.messages[:i], h.messages[i+1:]...)
			return true
		}
	}
	return false
}
