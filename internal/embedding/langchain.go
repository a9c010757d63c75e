package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// LangChain wraps a langchaingo embedder with dimension validation.
type LangChain struct {
	model     embeddings.Embedder
	modelName string
	dimension int
	logger    *slog.Logger
}

var _ Embedder = (*LangChain)(nil)

// NewOllama creates an embedder backed by a local Ollama server.
func NewOllama(host, model string, dimension int, logger *slog.Logger) (*LangChain, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return NewLangChain(emb, model, dimension, logger), nil
}

// NewLangChain adapts any langchaingo embedder.
func NewLangChain(model embeddings.Embedder, name string, dimension int, logger *slog.Logger) *LangChain {
	if logger == nil {
		logger = slog.Default()
	}
	return &LangChain{model: model, modelName: name, dimension: dimension, logger: logger}
}

// Embed generates an embedding vector for text.
func (e *LangChain) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *LangChain) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, texts)
	duration := time.Since(start)

	if err != nil {
		e.logger.Warn("embedding failed", "model", e.modelName, "count", len(texts), "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}
	if err := checkBatch(vectors, len(texts), e.dimension); err != nil {
		return nil, err
	}

	e.logger.Debug("embedding complete", "model", e.modelName, "count", len(texts), "duration_ms", duration.Milliseconds())
	return vectors, nil
}

// Model returns the embedding model name.
func (e *LangChain) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *LangChain) Dimension() int {
	return e.dimension
}
