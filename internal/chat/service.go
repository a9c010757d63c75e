// Package chat runs one conversational turn: safety assessment, concurrent
// retrieval, prompt assembly, completion and the deferred memory write-back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/mindmate/internal/assembler"
	"github.com/raphaelgruber/mindmate/internal/llm"
	"github.com/raphaelgruber/mindmate/internal/memory"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/models"
	"github.com/raphaelgruber/mindmate/internal/safety"
	"github.com/raphaelgruber/mindmate/internal/transcript"
)

// FailureMessage is shown to the user when a reply could not be generated.
const FailureMessage = "Something went wrong. Please try again."

// DefaultTurnTimeout bounds a whole turn.
const DefaultTurnTimeout = 60 * time.Second

var (
	ErrEmptyMessage   = errors.New("empty message")
	ErrInvalidUser    = errors.New("invalid user id")
	ErrInvalidSession = errors.New("invalid session id")
)

// Completer generates the reply from an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message, opts llm.CallOptions) (string, error)
}

// Memory is the slice of the memory manager a turn needs.
type Memory interface {
	RetrieveRelevant(ctx context.Context, namespace, query string) ([]string, error)
	RetrieveFacts(ctx context.Context, namespace string, q memory.FactQuery) ([]string, error)
	Summarize(ctx context.Context, facts []string) memory.SummaryResult
	RecordTurn(t memory.TurnWrite)
}

// Corpus searches the shared knowledge corpus.
type Corpus interface {
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

// Assessor reports the emotional and crisis state of a message.
type Assessor interface {
	Assess(ctx context.Context, text string) safety.Assessment
}

// Config tunes a Service.
type Config struct {
	Persona     string
	WindowTurns int
	CorpusTopK  int
	Budget      assembler.Budget
	TurnTimeout time.Duration
}

// Request is one user message.
type Request struct {
	UserID    string
	SessionID string
	Message   string
}

// Response is the outcome of a successful turn.
type Response struct {
	Reply     string `json:"reply"`
	Emotion   string `json:"emotion"`
	Crisis    bool   `json:"crisis"`
	SessionID string `json:"session_id"`
	MaxTokens int    `json:"-"`
}

// Service orchestrates turns.
type Service struct {
	completer   Completer
	memory      Memory
	corpus      Corpus
	transcripts transcript.Store
	assessor    Assessor
	cfg         Config
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// NewService creates a chat service. corpus and transcripts may be nil.
func NewService(completer Completer, mem Memory, corpus Corpus, transcripts transcript.Store, assessor Assessor, cfg Config, collector *metrics.Collector, logger *slog.Logger) *Service {
	if cfg.WindowTurns <= 0 {
		cfg.WindowTurns = assembler.DefaultWindowTurns
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.Budget == (assembler.Budget{}) {
		cfg.Budget = assembler.DefaultBudget()
	}
	if assessor == nil {
		assessor = safety.NewDetector(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		completer:   completer,
		memory:      mem,
		corpus:      corpus,
		transcripts: transcripts,
		assessor:    assessor,
		cfg:         cfg,
		metrics:     collector,
		logger:      logger,
	}
}

// retrieved is the context gathered for a turn. Every field may be empty.
type retrieved struct {
	memory  []string
	facts   []string
	summary string
	corpus  []string
	window  []models.Turn
}

// Reply runs a turn. Generation failures wrap llm.ErrGeneration and leave
// no trace in the transcript or memory.
func (s *Service) Reply(ctx context.Context, req Request) (resp Response, err error) {
	track := s.metrics.Track(metrics.OpChatTurn)
	defer func() { track(err) }()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Response{}, ErrEmptyMessage
	}
	if err := models.ValidateNamespace(req.UserID); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidUser, err)
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = models.NewSessionID()
	} else if err := models.ValidateNamespace(sessionID); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	log := s.logger.With("user", req.UserID, "session", sessionID)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	assessment := s.assessor.Assess(ctx, message)
	if assessment.Crisis {
		s.metrics.Prometheus().CrisisFlagged()
		log.Warn("crisis language detected")
	}

	got := s.retrieve(ctx, req.UserID, sessionID, message, log)

	msgs := assembler.Assemble(assembler.Input{
		Persona:     s.cfg.Persona,
		Facts:       got.facts,
		FactSummary: got.summary,
		Memory:      got.memory,
		Corpus:      got.corpus,
		Window:      got.window,
		WindowTurns: s.cfg.WindowTurns,
		Message:     message,
		Annotation:  safety.Annotate(message, assessment),
	})
	maxTokens := s.cfg.Budget.MaxTokens(message)

	reply, err := s.completer.Complete(ctx, msgs, llm.CallOptions{MaxTokens: maxTokens})
	if err != nil {
		if !errors.Is(err, llm.ErrGeneration) {
			err = fmt.Errorf("%w: %w", llm.ErrGeneration, err)
		}
		return Response{}, err
	}
	reply = strings.TrimSpace(reply)

	if s.transcripts != nil {
		err := s.transcripts.Append(ctx, models.Turn{
			UserID:    req.UserID,
			SessionID: sessionID,
			User:      message,
			Bot:       reply,
			Emotion:   assessment.Emotion,
			Crisis:    assessment.Crisis,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("transcript append failed", "error", err)
		}
	}

	s.memory.RecordTurn(memory.TurnWrite{
		Namespace: req.UserID,
		SessionID: sessionID,
		User:      message,
		Bot:       reply,
		Emotion:   assessment.Emotion,
	})

	return Response{
		Reply:     reply,
		Emotion:   assessment.Emotion,
		Crisis:    assessment.Crisis,
		SessionID: sessionID,
		MaxTokens: maxTokens,
	}, nil
}

// retrieve runs the independent reads concurrently. A failed read is logged
// and contributes nothing; none of them aborts the turn.
func (s *Service) retrieve(ctx context.Context, userID, sessionID, message string, log *slog.Logger) retrieved {
	var got retrieved
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		mem, err := s.memory.RetrieveRelevant(gctx, userID, message)
		if err != nil {
			log.Warn("memory retrieval failed", "error", err)
			return nil
		}
		got.memory = mem
		return nil
	})

	g.Go(func() error {
		facts, err := s.memory.RetrieveFacts(gctx, userID, memory.FactQuery{})
		if err != nil {
			log.Warn("fact retrieval failed", "error", err)
			return nil
		}
		got.facts = facts
		return nil
	})

	// The summary describes what was known before this session.
	g.Go(func() error {
		prior, err := s.memory.RetrieveFacts(gctx, userID, memory.FactQuery{ExcludeSession: sessionID})
		if err != nil {
			log.Warn("fact retrieval for summary failed", "error", err)
			return nil
		}
		res := s.memory.Summarize(gctx, prior)
		if res.Outcome == memory.OutcomeFailed {
			log.Debug("continuing without fact summary", "error", res.Err)
		}
		got.summary = res.Text
		return nil
	})

	if s.corpus != nil {
		g.Go(func() error {
			chunks, err := s.corpus.Search(gctx, message, s.cfg.CorpusTopK)
			if err != nil {
				log.Warn("corpus search failed", "error", err)
				return nil
			}
			got.corpus = chunks
			return nil
		})
	}

	if s.transcripts != nil {
		g.Go(func() error {
			turns, err := s.transcripts.Recent(gctx, userID, sessionID, s.cfg.WindowTurns)
			if err != nil {
				log.Warn("transcript read failed", "error", err)
				return nil
			}
			got.window = turns
			return nil
		})
	}

	// Every goroutine returns nil, so Wait only synchronizes.
	_ = g.Wait()
	return got
}
