package sse

import (
	"encoding/json"
	"strings"
)

// Event is one parsed frame: its event type and the raw data payload.
type Event struct {
	Type string
	Data json.RawMessage
}

// Parser reassembles SSE frames from arbitrary byte chunks. Frames end at
// a blank line, so the split boundary is the double newline, not the
// single one: a frame itself spans an "event:" line and a "data:" line.
// Any trailing incomplete frame stays buffered for the next chunk.
type Parser struct {
	buf strings.Builder
}

// Feed appends a chunk and returns every frame it completed. Chunks may
// split a frame, a line, or a multi-byte character anywhere; the internal
// buffer carries the remainder across calls.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf.Write(chunk)

	text := p.buf.String()
	parts := strings.Split(text, "\n\n")
	if len(parts) == 1 {
		return nil
	}

	// The last part is either empty (the chunk ended exactly on a frame
	// boundary) or an incomplete frame; both stay buffered.
	p.buf.Reset()
	p.buf.WriteString(parts[len(parts)-1])

	var events []Event
	for _, frame := range parts[:len(parts)-1] {
		if evt, ok := parseFrame(frame); ok {
			events = append(events, evt)
		}
	}
	return events
}

// parseFrame extracts the event and data sub-lines of one frame. Frames
// with no data line default to an empty JSON object, matching the wire
// behavior of the end event.
func parseFrame(frame string) (Event, bool) {
	if strings.TrimSpace(frame) == "" {
		return Event{}, false
	}

	evt := Event{Data: json.RawMessage("{}")}
	for _, line := range strings.Split(frame, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			evt.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				evt.Data = json.RawMessage(data)
			}
		}
	}
	return evt, true
}
