// Package streamclient consumes the relay server's event stream: the same
// decode the engine applies to the upstream, run on the client side. It
// keeps its own local history, deliberately independent of the server's
// message log — both are written per turn and may diverge if one fails.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/streamloop/chatrelay/pkg/sse"
)

// Message is one entry of the client-side history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to one relay server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// EnsureSession registers the session id with the server.
func (c *Client) EnsureSession(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("ensure session: %s", strings.TrimSpace(string(raw)))
	}
	return nil
}

// turnRequest is the wire shape of one streamed turn.
type turnRequest struct {
	SessionID string    `json:"sessionId"`
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
}

// StreamTurn sends the history (whose last entry should be the new user
// message) and consumes the token stream. onToken runs for every delta as
// it arrives. On the "end" event the assembled reply is committed to
// history as a single assistant message.
//
// Cancelling ctx aborts the read but keeps whatever was already rendered:
// the partial text stands, no error is returned, and nothing is committed
// to history.
func (c *Client) StreamTurn(ctx context.Context, history *History, sessionID, model string, onToken func(string)) (string, error) {
	body, err := json.Marshal(turnRequest{
		SessionID: sessionID,
		Model:     model,
		Messages:  history.Messages(),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("stream request failed: %s", strings.TrimSpace(string(raw)))
	}

	var (
		parser sse.Parser
		full   strings.Builder
		buf    = make([]byte, 4096)
	)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, evt := range parser.Feed(buf[:n]) {
				switch evt.Type {
				case "token":
					var delta string
					if err := json.Unmarshal(evt.Data, &delta); err != nil {
						continue
					}
					full.WriteString(delta)
					if onToken != nil {
						onToken(delta)
					}
				case "end":
					history.Append("assistant", full.String())
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return full.String(), nil
			}
			if ctx.Err() != nil {
				// Client-initiated abort: keep the partial text, stay
				// silent about the broken transport.
				return full.String(), nil
			}
			return full.String(), fmt.Errorf("read event stream: %w", readErr)
		}
	}
}
