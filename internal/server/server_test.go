package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindmate/internal/chat"
	"github.com/raphaelgruber/mindmate/internal/llm"
	"github.com/raphaelgruber/mindmate/internal/memory"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/server"
)

type fakeChat struct {
	mu   sync.Mutex
	err  error
	reqs []chat.Request
}

func (f *fakeChat) Reply(_ context.Context, req chat.Request) (chat.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if strings.TrimSpace(req.Message) == "" {
		return chat.Response{}, chat.ErrEmptyMessage
	}
	if f.err != nil {
		return chat.Response{}, f.err
	}
	session := req.SessionID
	if session == "" {
		session = "abcd1234"
	}
	return chat.Response{Reply: "echo: " + req.Message, Emotion: "neutral", SessionID: session}, nil
}

func (f *fakeChat) requests() []chat.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reqs)
}

type fakeFacts map[string][]string

func (f fakeFacts) RetrieveFacts(_ context.Context, ns string, _ memory.FactQuery) ([]string, error) {
	if ns == "broken" {
		return nil, errors.New("store down")
	}
	return f[ns], nil
}

func newTestServer(t *testing.T, c *fakeChat, opts server.Options) *httptest.Server {
	t.Helper()
	collector := metrics.NewCollector(metrics.NewPrometheus("mindmate_server_test"))
	srv := server.New(c, fakeFacts{"alice": {"Has a cat named Milo"}}, collector, opts, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res, out
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, server.Options{})

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "running")

	res, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestLegacyChat(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       map[string]string
		wantStatus int
		wantReply  string
	}{
		{"reply", nil, map[string]string{"message": "hello there"}, 200, "echo: hello there"},
		{"empty message", nil, map[string]string{"message": "  "}, 400, server.EmptyMessageReply},
		{"missing message", nil, map[string]string{}, 400, server.EmptyMessageReply},
		{"generation failure", llm.ErrGeneration, map[string]string{"message": "hello there"}, 200, chat.FailureMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeChat{err: tt.err}, server.Options{})
			res, out := post(t, ts.URL+"/chat", tt.body)
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			assert.Equal(t, tt.wantReply, out["reply"])
		})
	}
}

func TestLegacyChat_DefaultUser(t *testing.T) {
	c := &fakeChat{}
	ts := newTestServer(t, c, server.Options{})
	post(t, ts.URL+"/chat", map[string]string{"message": "hello there"})

	reqs := c.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, server.DefaultUser, reqs[0].UserID)
}

func TestChat(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		message    string
		wantStatus int
		wantCode   string
	}{
		{"ok", nil, "hi there", 200, ""},
		{"empty", nil, "", 400, "empty_message"},
		{"invalid user", fmt.Errorf("%w: bad", chat.ErrInvalidUser), "hi", 400, "invalid_user"},
		{"invalid session", fmt.Errorf("%w: bad", chat.ErrInvalidSession), "hi", 400, "invalid_session"},
		{"generation", fmt.Errorf("%w: boom", llm.ErrGeneration), "hi", 502, "generation_failed"},
		{"timeout", context.DeadlineExceeded, "hi", 504, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeChat{err: tt.err}, server.Options{})
			res, out := post(t, ts.URL+"/v1/chat", map[string]string{"message": tt.message, "user_id": "alice", "session_id": "s1"})
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, out["code"])
				return
			}
			assert.Equal(t, "echo: hi there", out["reply"])
			assert.Equal(t, "s1", out["session_id"])
			assert.Equal(t, false, out["crisis"])
		})
	}
}

func TestChat_BadJSON(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, server.Options{})
	res, err := http.Post(ts.URL+"/v1/chat", "application/json", strings.NewReader("{nope"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestFacts(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, server.Options{})

	tests := []struct {
		user       string
		wantStatus int
		wantFacts  int
	}{
		{"alice", 200, 1},
		{"bob", 200, 0},
		{"_corpus", 400, 0},
		{"broken", 500, 0},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			res, err := http.Get(ts.URL + "/v1/memory/" + tt.user + "/facts")
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tt.wantStatus, res.StatusCode)
			if tt.wantStatus != 200 {
				return
			}
			var out struct {
				Facts []string `json:"facts"`
			}
			require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
			assert.NotNil(t, out.Facts)
			assert.Len(t, out.Facts, tt.wantFacts)
		})
	}
}

func TestStatsAndMetrics(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, server.Options{})

	res, err := http.Get(ts.URL + "/v1/stats")
	require.NoError(t, err)
	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	res.Body.Close()
	assert.GreaterOrEqual(t, snap.UptimeSeconds, 0.0)

	res, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, &fakeChat{}, server.Options{CORSOrigin: "http://localhost:3000"})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "http://localhost:3000", res.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Empty(t, res.Header.Get("Access-Control-Allow-Origin"))
}

func TestChatWebSocket(t *testing.T) {
	c := &fakeChat{}
	ts := newTestServer(t, c, server.Options{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?user_id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var out map[string]any
	require.NoError(t, conn.WriteJSON(server.ChatRequest{Message: "first message"}))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "echo: first message", out["reply"])
	assert.Equal(t, "abcd1234", out["session_id"])

	require.NoError(t, conn.WriteJSON(server.ChatRequest{Message: ""}))
	out = nil
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "empty_message", out["code"])

	require.NoError(t, conn.WriteJSON(server.ChatRequest{Message: "second message"}))
	out = nil
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "echo: second message", out["reply"])

	reqs := c.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "alice", reqs[2].UserID)
	assert.Equal(t, "abcd1234", reqs[2].SessionID, "session is reused across frames")
}
