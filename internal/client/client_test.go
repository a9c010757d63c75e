package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/mindmate/internal/chat"
	"github.com/raphaelgruber/mindmate/internal/memory"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/server"
)

type echoChat struct{}

func (echoChat) Reply(_ context.Context, req chat.Request) (chat.Response, error) {
	if strings.TrimSpace(req.Message) == "" {
		return chat.Response{}, chat.ErrEmptyMessage
	}
	session := req.SessionID
	if session == "" {
		session = "ffff0000"
	}
	return chat.Response{Reply: "echo: " + req.Message, Emotion: "joy", SessionID: session}, nil
}

type staticFacts []string

func (f staticFacts) RetrieveFacts(context.Context, string, memory.FactQuery) ([]string, error) {
	return f, nil
}

func newClient(t *testing.T) *Client {
	t.Helper()
	srv := server.New(echoChat{}, staticFacts{"Likes tea"}, metrics.NewCollector(nil), server.Options{}, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return New(ts.URL + "/")
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("MINDMATE_SERVER_URL", "")
	t.Setenv("MINDMATE_CLIENT_TIMEOUT", "5s")

	c := New("")
	assert.Equal(t, DefaultServerURL, c.baseURL)
	assert.Equal(t, "5s", c.httpClient.Timeout.String())
}

func TestChat(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	reply, err := c.Chat(ctx, ChatInput{Message: "hello", UserID: "alice", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, &ChatReply{Reply: "echo: hello", Emotion: "joy", SessionID: "s1"}, reply)

	_, err = c.Chat(ctx, ChatInput{Message: ""})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "empty_message", apiErr.Code)
}

func TestFactsAndStats(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	facts, err := c.Facts(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Likes tea"}, facts)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)
}

func TestSession(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	s, err := c.Dial(ctx, "alice", "")
	require.NoError(t, err)
	defer s.Close()

	reply, err := s.Send(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "echo: first", reply.Reply)
	assert.Equal(t, "ffff0000", reply.SessionID)

	_, err = s.Send(ctx, " ")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "empty_message", apiErr.Code)

	reply, err = s.Send(ctx, "second")
	require.NoError(t, err)
	assert.Equal(t, "ffff0000", reply.SessionID)
}
