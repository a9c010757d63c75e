// Package server exposes the chat service over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/mindmate/internal/chat"
	"github.com/raphaelgruber/mindmate/internal/memory"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/models"
)

// DefaultUser owns conversations that do not name a user.
const DefaultUser = "anonymous"

// EmptyMessageReply answers an empty message on the legacy endpoint.
const EmptyMessageReply = "No message received. Please enter something."

// Chatter runs a conversational turn.
type Chatter interface {
	Reply(ctx context.Context, req chat.Request) (chat.Response, error)
}

// FactReader lists what is known about a user.
type FactReader interface {
	RetrieveFacts(ctx context.Context, namespace string, q memory.FactQuery) ([]string, error)
}

// Options configure a Server.
type Options struct {
	// CORSOrigin is the allowed browser origin; empty disables CORS headers.
	CORSOrigin string
}

// Server routes HTTP requests to the chat service.
type Server struct {
	chat     Chatter
	facts    FactReader
	metrics  *metrics.Collector
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a server. facts and collector may be nil.
func New(chatter Chatter, facts FactReader, collector *metrics.Collector, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		chat:    chatter,
		facts:   facts,
		metrics: collector,
		opts:    opts,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return originAllowed(opts.CORSOrigin, r) },
		},
	}
}

// Router returns the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware(s.logger))
	r.Use(CORSMiddleware(s.opts.CORSOrigin))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("mindmate backend is running!"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/chat", s.handleLegacyChat)
	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Get("/v1/memory/{user}/facts", s.handleFacts)
	r.Get("/v1/stats", s.handleStats)
	if prom := s.metrics.Prometheus(); prom != nil {
		r.Handle("/metrics", prom.Handler())
	}

	return r
}

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (c ChatRequest) toChat() chat.Request {
	user := strings.TrimSpace(c.UserID)
	if user == "" {
		user = DefaultUser
	}
	return chat.Request{UserID: user, SessionID: strings.TrimSpace(c.SessionID), Message: c.Message}
}

// handleLegacyChat keeps the single-reply contract the browser front end expects:
// 400 for an empty message, 200 with a generic reply on any failure.
func (s *Server) handleLegacyChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"reply": EmptyMessageReply})
		return
	}

	resp, err := s.chat.Reply(r.Context(), req.toChat())
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		respondJSON(w, http.StatusBadRequest, map[string]string{"reply": EmptyMessageReply})
	case err != nil:
		s.logger.Error("chat turn failed", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"reply": chat.FailureMessage})
	default:
		respondJSON(w, http.StatusOK, map[string]string{"reply": resp.Reply})
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.chat.Reply(r.Context(), req.toChat())
	if err != nil {
		status, code, msg := classify(err)
		if status >= 500 {
			s.logger.Error("chat turn failed", "error", err)
		}
		respondError(w, status, code, msg)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// classify maps a chat error to an HTTP status, error code and public message.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "empty_message", EmptyMessageReply
	case errors.Is(err, chat.ErrInvalidUser):
		return http.StatusBadRequest, "invalid_user", err.Error()
	case errors.Is(err, chat.ErrInvalidSession):
		return http.StatusBadRequest, "invalid_session", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", chat.FailureMessage
	default:
		return http.StatusBadGateway, "generation_failed", chat.FailureMessage
	}
}

// wsReply is one WebSocket response frame.
type wsReply struct {
	chat.Response
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// handleChatWS answers each JSON ChatRequest frame with one reply frame. The
// session id of the first reply is reused for the rest of the connection.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	session := strings.TrimSpace(r.URL.Query().Get("session_id"))
	user := strings.TrimSpace(r.URL.Query().Get("user_id"))

	for {
		var req ChatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		if req.UserID == "" {
			req.UserID = user
		}
		if req.SessionID == "" {
			req.SessionID = session
		}

		var out wsReply
		resp, err := s.chat.Reply(r.Context(), req.toChat())
		if err != nil {
			_, out.Code, out.Error = classify(err)
		} else {
			out.Response = resp
			session = resp.SessionID
		}

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(out); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	if s.facts == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "memory not configured")
		return
	}
	user := chi.URLParam(r, "user")
	if err := models.ValidateNamespace(user); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_user", err.Error())
		return
	}

	facts, err := s.facts.RetrieveFacts(r.Context(), user, memory.FactQuery{})
	if err != nil {
		s.logger.Error("fact retrieval failed", "user", user, "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", "could not read facts")
		return
	}
	if facts == nil {
		facts = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"user_id": user, "facts": facts})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
