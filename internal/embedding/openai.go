package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI generates embeddings with the OpenAI embeddings API or a compatible endpoint.
type OpenAI struct {
	client    *openai.Client
	model     string
	dimension int
}

var _ Embedder = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI embedder. baseURL may point at any
// OpenAI-compatible service.
func NewOpenAI(apiKey, baseURL, model string, dimension int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key required")
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed generates an embedding vector for text.
func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create embeddings: %w", ErrService, err)
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrService, data.Index)
		}
		vectors[data.Index] = data.Embedding
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings, want %d", ErrService, len(resp.Data), len(texts))
	}
	if err := checkBatch(vectors, len(texts), e.dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Model returns the embedding model name.
func (e *OpenAI) Model() string {
	return e.model
}

// Dimension returns the requested embedding dimension.
func (e *OpenAI) Dimension() int {
	return e.dimension
}
