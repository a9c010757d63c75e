package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Hash is a deterministic offline embedder. Each lowercased word seeds a
// pseudo-random vector; a text embeds to the normalized sum of its word
// vectors, so texts sharing words land close together.
type Hash struct {
	dimension int
}

var _ Embedder = (*Hash)(nil)

// NewHash creates a hash embedder of the given dimension.
func NewHash(dimension int) *Hash {
	return &Hash{dimension: dimension}
}

// Embed creates a deterministic embedding from text.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrService, err)
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: nothing to embed", ErrService)
	}

	sum := make([]float64, h.dimension)
	for _, w := range words {
		f := fnv.New64a()
		f.Write([]byte(w))
		seed := f.Sum64()
		for i := range sum {
			// LCG step, mapped to [-1, 1]
			seed = seed*6364136223846793005 + 1442695040888963407
			sum[i] += float64(int64(seed)) / float64(math.MaxInt64)
		}
	}

	var norm float64
	for _, v := range sum {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, fmt.Errorf("%w: degenerate embedding", ErrService)
	}

	vec := make([]float32, h.dimension)
	for i, v := range sum {
		vec[i] = float32(v / norm)
	}
	return vec, nil
}

// EmbedBatch embeds each text in turn.
func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Model returns the embedder name.
func (h *Hash) Model() string {
	return fmt.Sprintf("hash-%d", h.dimension)
}

// Dimension returns the embedding size.
func (h *Hash) Dimension() int {
	return h.dimension
}
