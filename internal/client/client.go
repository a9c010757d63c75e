// Package client provides an HTTP and WebSocket client for the mindmate server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/mindmate/internal/metrics"
)

// DefaultServerURL is used when neither an argument nor MINDMATE_SERVER_URL is set.
const DefaultServerURL = "http://localhost:5555"

// Client talks to a running mindmate-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses MINDMATE_SERVER_URL env var or defaults to localhost:5555.
// Timeout can be configured via MINDMATE_CLIENT_TIMEOUT env var (default 2m, one LLM turn).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("MINDMATE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultServerURL
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("MINDMATE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// do sends a request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Code, apiErr.Message = e.Code, e.Error
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// ChatInput is one message to the assistant.
type ChatInput struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatReply is the assistant's answer.
type ChatReply struct {
	Reply     string `json:"reply"`
	Emotion   string `json:"emotion"`
	Crisis    bool   `json:"crisis"`
	SessionID string `json:"session_id"`
}

// Chat sends one message and waits for the reply.
func (c *Client) Chat(ctx context.Context, in ChatInput) (*ChatReply, error) {
	var reply ChatReply
	if err := c.do(ctx, http.MethodPost, "/v1/chat", in, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Facts lists the facts known about user.
func (c *Client) Facts(ctx context.Context, user string) ([]string, error) {
	var result struct {
		Facts []string `json:"facts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/memory/"+url.PathEscape(user)+"/facts", nil, &result); err != nil {
		return nil, err
	}
	return result.Facts, nil
}

// Stats returns the server's in-memory runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Session is a WebSocket conversation. The server keeps the session id
// assigned by the first reply for the rest of the connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial opens a WebSocket chat session for user. session may be empty.
func (c *Client) Dial(ctx context.Context, user, session string) (*Session, error) {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/v1/chat/ws")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	if user != "" {
		q.Set("user_id", user)
	}
	if session != "" {
		q.Set("session_id", session)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Send writes one message and reads its reply. Cancelling ctx closes the session.
func (s *Session) Send(ctx context.Context, message string) (*ChatReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	if err := s.conn.WriteJSON(ChatInput{Message: message}); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	var frame struct {
		ChatReply
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := s.conn.ReadJSON(&frame); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if frame.Error != "" {
		return nil, &APIError{Code: frame.Code, Message: frame.Error}
	}
	return &frame.ChatReply, nil
}

// Close ends the session.
func (s *Session) Close() error {
	err := s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if cerr := s.conn.Close(); err == nil || errors.Is(err, websocket.ErrCloseSent) {
		err = cerr
	}
	return err
}
