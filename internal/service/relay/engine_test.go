package relay

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/streamloop/chatrelay/internal/model/chat"
	"github.com/streamloop/chatrelay/internal/service/upstream"
	"github.com/streamloop/chatrelay/internal/store"

	chatservice "github.com/streamloop/chatrelay/internal/service/chat"
)

type fakeStream struct {
	deltas []string
	err    error
	pos    int
}

func (f *fakeStream) Recv() (string, error) {
	if f.pos < len(f.deltas) {
		d := f.deltas[f.pos]
		f.pos++
		return d, nil
	}
	if f.err != nil {
		return "", f.err
	}
	return "", io.EOF
}

func (f *fakeStream) Close() error { return nil }

type sinkEvent struct {
	event string
	data  any
}

type recordSink struct {
	events  []sinkEvent
	failNow bool
}

func (s *recordSink) Send(event string, data any) error {
	if s.failNow {
		return io.ErrClosedPipe
	}
	s.events = append(s.events, sinkEvent{event: event, data: data})
	return nil
}

func newTestEngine(complete completerFunc) (*Engine, *chatservice.Service) {
	svc := chatservice.NewService(store.NewMemory())
	return newWithStreamFunc(complete, svc), svc
}

func streamOf(deltas ...string) completerFunc {
	return func(context.Context, string, []chat.Message) (DeltaStream, error) {
		return &fakeStream{deltas: deltas}, nil
	}
}

func userTurn(sessionID, content string) TurnRequest {
	return TurnRequest{
		SessionID: sessionID,
		Model:     "gpt-4o-mini",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: content},
		},
	}
}

func TestRunRelaysTokensAndPersistsAssistant(t *testing.T) {
	engine, svc := newTestEngine(streamOf("Hi", " there", "!"))
	sink := &recordSink{}

	if err := engine.Run(context.Background(), userTurn("abc123", "hello"), sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	want := []sinkEvent{
		{"token", "Hi"},
		{"token", " there"},
		{"token", "!"},
		{"end", map[string]any{}},
	}
	if len(sink.events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(sink.events), sink.events)
	}
	for i, evt := range want {
		if sink.events[i].event != evt.event {
			t.Fatalf("event %d: got %q want %q", i, sink.events[i].event, evt.event)
		}
	}

	messages, err := svc.ListMessages(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(messages))
	}
	if messages[0].Role != chat.RoleUser || messages[0].Content != "hello" {
		t.Fatalf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != chat.RoleAssistant || messages[1].Content != "Hi there!" {
		t.Fatalf("unexpected assistant message: %+v", messages[1])
	}
}

func TestRunTokenConcatMatchesPersistedText(t *testing.T) {
	deltas := []string{"str", "eam", "ed ", "ans", "wer"}
	engine, svc := newTestEngine(streamOf(deltas...))
	sink := &recordSink{}

	if err := engine.Run(context.Background(), userTurn("s1", "q"), sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	var concat strings.Builder
	for _, evt := range sink.events {
		if evt.event == "token" {
			concat.WriteString(evt.data.(string))
		}
	}

	messages, _ := svc.ListMessages(context.Background(), "s1")
	last := messages[len(messages)-1]
	if last.Content != concat.String() {
		t.Fatalf("round-trip mismatch: events %q vs stored %q", concat.String(), last.Content)
	}
}

func TestRunEmitsExactlyOneEndAndItIsLast(t *testing.T) {
	engine, _ := newTestEngine(streamOf("a", "b"))
	sink := &recordSink{}

	if err := engine.Run(context.Background(), userTurn("s1", "q"), sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	ends := 0
	for _, evt := range sink.events {
		if evt.event == "end" {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected exactly one end event, got %d", ends)
	}
	if sink.events[len(sink.events)-1].event != "end" {
		t.Fatal("end event was not last")
	}
}

func TestRunRejectsMissingSessionID(t *testing.T) {
	engine, _ := newTestEngine(streamOf("x"))
	sink := &recordSink{}

	err := engine.Run(context.Background(), TurnRequest{Model: "m"}, sink)
	if err != chatservice.ErrSessionIDRequired {
		t.Fatalf("expected ErrSessionIDRequired, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no events before validation, got %+v", sink.events)
	}
}

func TestRunFoldsUpstreamFailureIntoStream(t *testing.T) {
	complete := func(context.Context, string, []chat.Message) (DeltaStream, error) {
		return nil, &upstream.APIError{StatusCode: 401, Body: `{"error":"bad key"}`}
	}
	engine, svc := newTestEngine(complete)
	sink := &recordSink{}

	if err := engine.Run(context.Background(), userTurn("s1", "q"), sink); err != nil {
		t.Fatalf("upstream failure must not surface as transport error, got %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("expected error token + end, got %+v", sink.events)
	}
	if sink.events[0].event != "token" {
		t.Fatalf("first event should be a token, got %q", sink.events[0].event)
	}
	if text, ok := sink.events[0].data.(string); !ok || !strings.Contains(text, "[upstream error]") {
		t.Fatalf("expected error marker token, got %v", sink.events[0].data)
	}
	if sink.events[1].event != "end" {
		t.Fatalf("second event should be end, got %q", sink.events[1].event)
	}

	// The user message is still recorded; no assistant message is.
	messages, _ := svc.ListMessages(context.Background(), "s1")
	if len(messages) != 1 || messages[0].Role != chat.RoleUser {
		t.Fatalf("expected only the user message persisted, got %+v", messages)
	}
}

func TestRunMidStreamFaultEmitsServerErrorThenEnd(t *testing.T) {
	complete := func(context.Context, string, []chat.Message) (DeltaStream, error) {
		return &fakeStream{deltas: []string{"par", "tial"}, err: io.ErrUnexpectedEOF}, nil
	}
	engine, svc := newTestEngine(complete)
	sink := &recordSink{}

	if err := engine.Run(context.Background(), userTurn("s1", "q"), sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	last := sink.events[len(sink.events)-1]
	if last.event != "end" {
		t.Fatalf("stream must terminate with end, got %q", last.event)
	}
	prev := sink.events[len(sink.events)-2]
	if text, ok := prev.data.(string); !ok || !strings.Contains(text, "Server error") {
		t.Fatalf("expected server-error token before end, got %v", prev.data)
	}

	// The partial buffer is never persisted.
	messages, _ := svc.ListMessages(context.Background(), "s1")
	for _, m := range messages {
		if m.Role == chat.RoleAssistant {
			t.Fatalf("partial assistant text must not persist: %+v", m)
		}
	}
}

func TestRunDownstreamFailureDropsTurn(t *testing.T) {
	engine, svc := newTestEngine(streamOf("a", "b", "c"))
	sink := &recordSink{failNow: true}

	if err := engine.Run(context.Background(), userTurn("s1", "q"), sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	messages, _ := svc.ListMessages(context.Background(), "s1")
	for _, m := range messages {
		if m.Role == chat.RoleAssistant {
			t.Fatalf("assistant text must not persist after downstream failure: %+v", m)
		}
	}
}

func TestRunEmptyStreamPersistsNoAssistant(t *testing.T) {
	engine, svc := newTestEngine(streamOf())
	sink := &recordSink{}

	if err := engine.Run(context.Background(), userTurn("s1", "q"), sink); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	if sink.events[len(sink.events)-1].event != "end" {
		t.Fatal("expected terminating end event")
	}
	messages, _ := svc.ListMessages(context.Background(), "s1")
	if len(messages) != 1 {
		t.Fatalf("expected only the user message, got %+v", messages)
	}
}

func TestRunRecordsUserMessageBeforeUpstreamCall(t *testing.T) {
	var sawHistory []chat.Message
	complete := func(_ context.Context, _ string, messages []chat.Message) (DeltaStream, error) {
		sawHistory = messages
		return nil, &upstream.APIError{StatusCode: 500, Body: "boom"}
	}
	engine, svc := newTestEngine(complete)

	req := userTurn("s1", "remember me")
	if err := engine.Run(context.Background(), req, &recordSink{}); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	if len(sawHistory) != 1 || sawHistory[0].Content != "remember me" {
		t.Fatalf("upstream should receive the request history, got %+v", sawHistory)
	}
	messages, _ := svc.ListMessages(context.Background(), "s1")
	if len(messages) != 1 || messages[0].Content != "remember me" {
		t.Fatalf("user message should persist despite upstream failure, got %+v", messages)
	}
}

func TestTurnRequestDecodesWirePayload(t *testing.T) {
	raw := `{"sessionId":"abc123","model":"gpt-4o-mini","messages":[{"role":"user","content":"hello"}]}`

	var req TurnRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if req.SessionID != "abc123" || req.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != chat.RoleUser {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
}
