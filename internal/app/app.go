// Package app wires the mindmate components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/mindmate/internal/assembler"
	"github.com/raphaelgruber/mindmate/internal/chat"
	"github.com/raphaelgruber/mindmate/internal/config"
	"github.com/raphaelgruber/mindmate/internal/corpus"
	"github.com/raphaelgruber/mindmate/internal/embedding"
	"github.com/raphaelgruber/mindmate/internal/llm"
	"github.com/raphaelgruber/mindmate/internal/memory"
	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/parser"
	"github.com/raphaelgruber/mindmate/internal/safety"
	"github.com/raphaelgruber/mindmate/internal/store"
	"github.com/raphaelgruber/mindmate/internal/transcript"
)

// App holds every long-lived dependency.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Metrics     *metrics.Collector
	Embedder    embedding.Embedder
	Store       store.Store
	Model       *llm.Model
	Memory      *memory.Manager
	Corpus      *corpus.Index
	Builder     *corpus.Builder
	Detector    *safety.Detector
	Transcripts transcript.Store
	Chat        *chat.Service

	closers []func(context.Context) error
}

// New constructs the application. On error, everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewCollector(metrics.NewPrometheus("mindmate")),
	}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	a.Embedder, err = embedding.New(embedding.Config{
		Provider:      embedding.ProviderType(cfg.EmbedProvider),
		Model:         cfg.EmbedModel,
		Dimension:     cfg.EmbedDimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		CacheSize:     cfg.EmbedCacheSize,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if cached, ok := a.Embedder.(*embedding.Cached); ok {
		a.onClose(func(context.Context) error { cached.Close(); return nil })
	}

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	a.onClose(func(context.Context) error { return st.Close() })
	a.Store = store.WithMetrics(st, a.Metrics)

	a.Model, err = llm.NewModel(ctx, cfg, llm.WithMetrics(a.Metrics), llm.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}

	a.Memory = memory.NewManager(a.Embedder, a.Store, a.Model, memory.Config{
		Policy:       memory.Policy{MinWords: cfg.MinWords, IgnorePhrases: memory.DefaultIgnorePhrases},
		TopK:         cfg.MemoryTopK,
		FactLimit:    cfg.FactLimit,
		WriteTimeout: cfg.WriteBackTimeout,
	}, a.Metrics, logger)
	a.onClose(a.Memory.Close)

	a.Corpus = corpus.NewIndex(a.Embedder, a.Store, cfg.CorpusTopK)
	a.Builder = corpus.NewBuilder(newChunker(cfg, logger), a.Embedder, a.Store,
		corpus.BuildOptions{BatchSize: cfg.CorpusBatchSize}, a.Metrics, logger)

	var classifier safety.Classifier
	if cfg.EmotionURL != "" {
		classifier = safety.NewHTTPClassifier(cfg.EmotionURL, cfg.EmotionToken, 0)
	}
	a.Detector = safety.NewDetector(classifier, logger)

	a.Transcripts, err = transcript.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}
	a.onClose(func(context.Context) error { return a.Transcripts.Close() })

	a.Chat = chat.NewService(a.Model, a.Memory, a.Corpus, a.Transcripts, a.Detector, chat.Config{
		WindowTurns: cfg.WindowTurns,
		CorpusTopK:  cfg.CorpusTopK,
		Budget:      assembler.Budget{Base: cfg.ReplyTokens, Elaborate: cfg.ElaborateTokens},
		TurnTimeout: cfg.TurnTimeout,
	}, a.Metrics, logger)

	logger.Debug("application ready",
		"llm", cfg.LLMProvider, "embedder", a.Embedder.Model(),
		"vector_backend", cfg.VectorBackend, "transcripts", cfg.TranscriptBackend)
	return a, nil
}

// newChunker prefers the tiktoken counter and falls back to the word
// approximation when the encoding cannot be loaded.
func newChunker(cfg config.Config, logger *slog.Logger) *parser.Chunker {
	chunkCfg := parser.ChunkConfig{MaxTokens: cfg.ChunkMaxTokens}
	counter, err := parser.NewTiktokenCounter("")
	if err != nil {
		logger.Warn("tiktoken unavailable, approximating token counts", "error", err)
		return parser.NewChunker(parser.ApproxCounter{}, chunkCfg)
	}
	return parser.NewChunker(counter, chunkCfg)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close drains pending memory writes and closes stores, in reverse order of
// construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
