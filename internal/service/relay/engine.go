// Package relay implements the streaming relay: it turns one client turn
// request into an upstream completion call, reflects each upstream text
// delta to the client as a "token" event, and commits the assembled
// assistant reply to the message log exactly once at normal completion.
//
// The engine is transport-agnostic; the long-lived server, the
// single-invocation edge adapter and the test harness all drive it through
// the Sink and Completer interfaces.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/streamloop/chatrelay/internal/model/chat"
	chatservice "github.com/streamloop/chatrelay/internal/service/chat"
	"github.com/streamloop/chatrelay/internal/service/upstream"
)

// Sink receives the client-facing event stream. Send must deliver (and
// flush) one event before returning; a Send error means the downstream
// connection is gone and the relay stops without persisting.
type Sink interface {
	Send(event string, data any) error
}

// DeltaStream yields incremental text fragments until io.EOF.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}

// Completer issues the upstream completion request.
type Completer interface {
	StreamCompletion(ctx context.Context, model string, messages []chat.Message) (*upstream.Stream, error)
}

// completerFunc adapts the concrete upstream client to the DeltaStream
// interface the loop consumes.
type completerFunc func(ctx context.Context, model string, messages []chat.Message) (DeltaStream, error)

// TurnRequest is one client turn: the session it belongs to, the model to
// use, and the full ordered history including the new user message.
type TurnRequest struct {
	SessionID string         `json:"sessionId"`
	Model     string         `json:"model"`
	Messages  []chat.Message `json:"messages"`
}

// Engine drives one relay invocation at a time. It holds no per-turn
// state; concurrent invocations are independent and interleave their
// message-log appends in arrival order.
type Engine struct {
	complete completerFunc
	chat     *chatservice.Service
}

// New wires the engine to the upstream completer and the message log.
func New(completer Completer, chatSvc *chatservice.Service) *Engine {
	return &Engine{
		complete: func(ctx context.Context, model string, messages []chat.Message) (DeltaStream, error) {
			return completer.StreamCompletion(ctx, model, messages)
		},
		chat: chatSvc,
	}
}

// newWithStreamFunc is the seam used by tests to substitute the upstream.
func newWithStreamFunc(complete completerFunc, chatSvc *chatservice.Service) *Engine {
	return &Engine{complete: complete, chat: chatSvc}
}

// Run relays one turn. The returned error is only ever a pre-stream
// rejection (ErrSessionIDRequired); once the first event has been written
// every failure is folded into the event stream as a "token" carrying a
// human-readable message, followed by a terminating "end". The client-side
// consumer therefore needs exactly two event kinds.
func (e *Engine) Run(ctx context.Context, req TurnRequest, sink Sink) (err error) {
	if req.SessionID == "" {
		return chatservice.ErrSessionIDRequired
	}

	// A trailing user message is recorded before contacting upstream so
	// it survives even if the stream fails.
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == chat.RoleUser {
		if appendErr := e.chat.AppendMessage(ctx, req.SessionID, chat.RoleUser, req.Messages[n-1].Content); appendErr != nil {
			log.Printf("[relay] failed to record user message: %v", appendErr)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[relay] panic during relay: %v", r)
			e.sendFailure(sink, fmt.Sprintf("Server error: %v", r))
			err = nil
		}
	}()

	stream, upstreamErr := e.complete(ctx, req.Model, req.Messages)
	if upstreamErr != nil {
		var apiErr *upstream.APIError
		if errors.As(upstreamErr, &apiErr) {
			e.sendFailure(sink, "[upstream error] "+apiErr.Body)
		} else {
			log.Printf("[relay] upstream request failed: %v", upstreamErr)
			e.sendFailure(sink, "[upstream error] "+upstreamErr.Error())
		}
		return nil
	}
	defer stream.Close()

	var assistant string
	for {
		delta, recvErr := stream.Recv()
		if recvErr == io.EOF {
			break
		}
		if recvErr != nil {
			if ctx.Err() != nil {
				// Downstream disconnect or cancellation: stop relaying,
				// discard the partial buffer, persist nothing.
				log.Printf("[relay] turn cancelled for session=%s", req.SessionID)
				return nil
			}
			log.Printf("[relay] upstream read failed: %v", recvErr)
			e.sendFailure(sink, "Server error: "+recvErr.Error())
			return nil
		}

		assistant += delta
		if sendErr := sink.Send("token", delta); sendErr != nil {
			// The client went away; the partial buffer is never persisted.
			log.Printf("[relay] downstream write failed, dropping turn: %v", sendErr)
			return nil
		}
	}

	// The only persistence point for assistant output. Aborted or errored
	// streams never reach here with a buffer.
	if assistant != "" {
		if appendErr := e.chat.AppendMessage(ctx, req.SessionID, chat.RoleAssistant, assistant); appendErr != nil {
			log.Printf("[relay] failed to record assistant message: %v", appendErr)
		}
	}

	if sendErr := sink.Send("end", map[string]any{}); sendErr != nil {
		log.Printf("[relay] failed to send end event: %v", sendErr)
	}
	return nil
}

// sendFailure folds a failure into the event vocabulary: one token with
// the message, then the terminating end.
func (e *Engine) sendFailure(sink Sink, message string) {
	if err := sink.Send("token", message); err != nil {
		return
	}
	if err := sink.Send("end", map[string]any{}); err != nil {
		log.Printf("[relay] failed to send end event: %v", err)
	}
}
