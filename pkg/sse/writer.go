// Package sse carries the Server-Sent-Events wire format in both
// directions: Writer emits event frames on an HTTP response, Parser
// reassembles frames from a byte stream on the consuming side.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SetupHeaders commits the response to an event stream. After this point
// failures can only be reported in-band, never as an HTTP status.
func SetupHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
}

// Writer emits SSE frames on an http.ResponseWriter, flushing each one so
// tokens reach the client as they arrive.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter wraps w. It fails when the transport cannot flush, since an
// unflushed token stream defeats the point.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one "event: <name>\ndata: <json>\n\n" frame and flushes.
func (s *Writer) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
