// Package upstream issues streaming completion requests against an
// OpenAI-compatible chat completions endpoint and decodes the SSE-framed
// response body into incremental text deltas.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/streamloop/chatrelay/internal/model/chat"
)

const doneSentinel = "[DONE]"

// APIError reports a non-success response from the completion endpoint.
// The body is carried verbatim so callers can surface it to the client.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to one completion endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	readTimeout time.Duration
	maxRetries  uint64
}

// NewClient builds a client for the endpoint at baseURL. readTimeout bounds
// each read of the streaming body; the upstream protocol itself has no
// keepalive, so a stalled stream is only detected through this watchdog.
func NewClient(baseURL, apiKey string, readTimeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			// No overall timeout: the response body is a long-lived
			// stream. Per-read bounds come from the watchdog.
			Timeout: 0,
		},
		readTimeout: readTimeout,
		maxRetries:  2,
	}
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Stream   bool                `json:"stream"`
	Messages []completionMessage `json:"messages"`
}

// chunk mirrors one parsed frame of the upstream stream.
type chunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// StreamCompletion posts the message history and returns the response as a
// delta stream. Connection-level failures are retried with exponential
// backoff; a response, successful or not, is never retried. Non-success
// responses surface as *APIError with the body attached.
func (c *Client) StreamCompletion(ctx context.Context, model string, messages []chat.Message) (*Stream, error) {
	payload := completionRequest{
		Model:    model,
		Stream:   true,
		Messages: make([]completionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		payload.Messages = append(payload.Messages, completionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)

	var resp *http.Response
	operation := func() error {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		r, err := c.httpClient.Do(req)
		if err != nil {
			if reqCtx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		if r.StatusCode < 200 || r.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(r.Body, 64<<10))
			r.Body.Close()
			return backoff.Permanent(&APIError{
				StatusCode: r.StatusCode,
				Body:       strings.TrimSpace(string(raw)),
			})
		}

		resp = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), reqCtx)
	if err := backoff.Retry(operation, policy); err != nil {
		cancel()
		return nil, err
	}

	return newStream(resp.Body, cancel, c.readTimeout), nil
}

// Stream yields the text deltas of one completion response.
type Stream struct {
	body     io.ReadCloser
	reader   *bufio.Reader
	cancel   context.CancelFunc
	watchdog *time.Timer
	timeout  time.Duration
}

func newStream(body io.ReadCloser, cancel context.CancelFunc, timeout time.Duration) *Stream {
	s := &Stream{
		body:    body,
		reader:  bufio.NewReader(body),
		cancel:  cancel,
		timeout: timeout,
	}
	if timeout > 0 {
		s.watchdog = time.AfterFunc(timeout, cancel)
	}
	return s
}

// Recv returns the next non-empty text delta, or io.EOF at end-of-data.
// Frame rules: only "data:"-prefixed lines carry payload; the literal
// sentinel payload is skipped, not parsed; payloads that fail to parse are
// skipped without aborting the stream; frames without a delta yield nothing.
// Partial lines at chunk boundaries are carried by the buffered reader, so
// multi-byte characters split across reads reassemble transparently.
func (s *Stream) Recv() (string, error) {
	for {
		if s.watchdog != nil {
			s.watchdog.Reset(s.timeout)
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) == "" {
				return "", io.EOF
			}
			if err != io.EOF {
				return "", fmt.Errorf("read upstream stream: %w", err)
			}
			// Fall through: a final unterminated line may still carry
			// a payload.
		}

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "data:") {
			if err == io.EOF {
				return "", io.EOF
			}
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if payload == doneSentinel {
			if err == io.EOF {
				return "", io.EOF
			}
			continue
		}

		var c chunk
		if jsonErr := json.Unmarshal([]byte(payload), &c); jsonErr != nil {
			// Malformed frames are dropped, never fatal.
			if err == io.EOF {
				return "", io.EOF
			}
			continue
		}

		if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
			return c.Choices[0].Delta.Content, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
	}
}

// Close tears down the stream and the underlying request.
func (s *Stream) Close() error {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.cancel()
	return s.body.Close()
}
