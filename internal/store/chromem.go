package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/raphaelgruber/mindmate/internal/models"
)

const chromemMetaFile = "store_meta.json"

// Chromem keeps one chromem-go collection per namespace. chromem-go only
// scores cosine similarity and normalizes stored vectors, so returned
// records carry unit-length vectors.
type Chromem struct {
	db     *chromem.DB
	cfg    Config
	locks  *keyedMutex
	logger *slog.Logger
}

var _ Store = (*Chromem)(nil)

type chromemMeta struct {
	Metric    Metric `json:"metric"`
	Dimension int    `json:"dimension"`
}

// OpenChromem opens or creates a persistent chromem-go database in dir.
func OpenChromem(dir string, cfg Config, logger *slog.Logger) (*Chromem, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Metric != MetricCosine {
		return nil, fmt.Errorf("%w: chromem supports only cosine, got %s", ErrConfigMismatch, cfg.Metric)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, backendError("create data dir", err)
	}
	if err := pinChromemMeta(filepath.Join(dir, chromemMetaFile), cfg); err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, backendError("open chromem db", err)
	}

	logger.Debug("chromem store opened", "dir", dir, "dimension", cfg.Dimension)
	return &Chromem{db: db, cfg: cfg, locks: newKeyedMutex(), logger: logger}, nil
}

func pinChromemMeta(path string, cfg Config) error {
	want := chromemMeta{Metric: cfg.Metric, Dimension: cfg.Dimension}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data, err = json.Marshal(want)
		if err != nil {
			return backendError("encode store meta", err)
		}
		return backendError("write store meta", os.WriteFile(path, data, 0o644))
	}
	if err != nil {
		return backendError("read store meta", err)
	}

	var got chromemMeta
	if err := json.Unmarshal(data, &got); err != nil {
		return backendError("decode store meta", err)
	}
	if got != want {
		return fmt.Errorf("%w: store has %s/%d, configured %s/%d",
			ErrConfigMismatch, got.Metric, got.Dimension, want.Metric, want.Dimension)
	}
	return nil
}

func collectionName(namespace string) string {
	return "memory_" + namespace
}

// noEmbedding rejects documents without precomputed vectors.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("documents must carry an embedding")
}

func (c *Chromem) collection(namespace string, create bool) (*chromem.Collection, error) {
	name := collectionName(namespace)
	if !create {
		return c.db.GetCollection(name, noEmbedding), nil
	}
	col, err := c.db.GetOrCreateCollection(name, map[string]string{"namespace": namespace}, noEmbedding)
	if err != nil {
		return nil, backendError("get collection", err)
	}
	return col, nil
}

// Upsert adds or overwrites a document in the namespace collection.
func (c *Chromem) Upsert(ctx context.Context, namespace string, rec models.MemoryRecord) error {
	rec, err := prepare(namespace, rec, c.cfg.Dimension)
	if err != nil {
		return err
	}
	if isZero(rec.Vector) {
		return fmt.Errorf("%w: zero vector cannot be stored under cosine", ErrInvalidVector)
	}

	unlock := c.locks.Lock(recordKey(namespace, rec.ID))
	defer unlock()

	col, err := c.collection(namespace, true)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Vector,
		Metadata: map[string]string{
			"kind":       string(rec.Kind),
			"session":    rec.SessionID,
			"emotion":    rec.Emotion,
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	return backendError("add document", err)
}

// Query runs one chromem query per requested kind and merges the results.
func (c *Chromem) Query(ctx context.Context, namespace string, vector []float32, topK int, kinds ...models.Kind) ([]Match, error) {
	ok, err := checkQuery(namespace, vector, topK, c.cfg)
	if err != nil || !ok {
		return nil, err
	}

	col, _ := c.collection(namespace, false)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	filters := []map[string]string{nil}
	if len(kinds) > 0 {
		filters = filters[:0]
		for _, k := range slices.Compact(slices.Sorted(slices.Values(kinds))) {
			filters = append(filters, map[string]string{"kind": string(k)})
		}
	}

	var matches []Match
	for _, where := range filters {
		results, err := c.query(ctx, col, vector, topK, where)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			rec, err := c.toRecord(namespace, r)
			if err != nil {
				return nil, err
			}
			matches = append(matches, Match{Record: rec, Distance: float64(1 - r.Similarity)})
		}
	}

	return topMatches(matches, topK), nil
}

// query clamps n to the collection size, which chromem-go requires.
func (c *Chromem) query(ctx context.Context, col *chromem.Collection, vector []float32, n int, where map[string]string) ([]chromem.Result, error) {
	n = min(n, col.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, backendError("query collection", err)
	}
	return results, nil
}

// List retrieves the whole collection through a query that ranks every
// document, then orders by creation time.
func (c *Chromem) List(ctx context.Context, namespace string, opts ListOptions) ([]models.MemoryRecord, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is empty", ErrVectorStore)
	}
	col, _ := c.collection(namespace, false)
	if col == nil || col.Count() == 0 {
		return nil, nil
	}

	basis := make([]float32, c.cfg.Dimension)
	basis[0] = 1

	results, err := c.query(ctx, col, basis, col.Count(), nil)
	if err != nil {
		return nil, err
	}

	wanted := kindSet(opts.Kinds)
	var records []models.MemoryRecord
	for _, r := range results {
		rec, err := c.toRecord(namespace, r)
		if err != nil {
			return nil, err
		}
		if wanted != nil && !wanted[rec.Kind] {
			continue
		}
		if opts.ExcludeSession != "" && rec.SessionID == opts.ExcludeSession {
			continue
		}
		records = append(records, rec)
	}

	slices.SortFunc(records, func(a, b models.MemoryRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[len(records)-opts.Limit:]
	}
	return records, nil
}

// DropNamespace deletes the namespace collection.
func (c *Chromem) DropNamespace(_ context.Context, namespace string) error {
	return backendError("delete collection", c.db.DeleteCollection(collectionName(namespace)))
}

// Close is a no-op; chromem-go persists on every write.
func (c *Chromem) Close() error {
	return nil
}

func (c *Chromem) toRecord(namespace string, r chromem.Result) (models.MemoryRecord, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, r.Metadata["created_at"])
	if err != nil {
		return models.MemoryRecord{}, backendError("parse created_at", err)
	}
	return models.MemoryRecord{
		ID:        r.ID,
		Namespace: namespace,
		SessionID: r.Metadata["session"],
		Kind:      models.Kind(r.Metadata["kind"]),
		Text:      r.Content,
		Vector:    r.Embedding,
		Emotion:   r.Metadata["emotion"],
		CreatedAt: createdAt,
	}, nil
}
