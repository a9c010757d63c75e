package corpus

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/mindmate/internal/embedding"
	"github.com/raphaelgruber/mindmate/internal/models"
	"github.com/raphaelgruber/mindmate/internal/store"
)

// DefaultTopK is the number of corpus chunks returned per search.
const DefaultTopK = 3

// Index answers similarity searches over the built corpus.
type Index struct {
	embedder embedding.Embedder
	store    store.Store
	topK     int
}

// NewIndex creates a corpus index. topK <= 0 uses DefaultTopK.
func NewIndex(embedder embedding.Embedder, st store.Store, topK int) *Index {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Index{embedder: embedder, store: st, topK: topK}
}

// Search returns the texts of the corpus chunks nearest to query, nearest
// first. An empty corpus yields no results.
func (i *Index) Search(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = i.topK
	}
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := i.store.Query(ctx, models.CorpusNamespace, vec, topK, models.KindCorpus)
	if err != nil {
		return nil, fmt.Errorf("search corpus: %w", err)
	}

	texts := make([]string, len(matches))
	for j, m := range matches {
		texts[j] = m.Record.Text
	}
	return texts, nil
}
