package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/raphaelgruber/mindmate/internal/db"
	"github.com/raphaelgruber/mindmate/internal/models"
)

// Surreal stores records in the SurrealDB memory table.
type Surreal struct {
	client *db.Client
	cfg    Config
	locks  *keyedMutex
	logger *slog.Logger
}

var _ Store = (*Surreal)(nil)

// OpenSurreal initializes the schema on client and pins the store geometry.
// The store takes ownership of client and closes it on Close.
func OpenSurreal(ctx context.Context, client *db.Client, cfg Config, logger *slog.Logger) (*Surreal, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := client.InitSchema(ctx, cfg.Dimension, surrealDist(cfg.Metric)); err != nil {
		return nil, backendError("init schema", err)
	}

	meta, err := client.QueryGetMeta(ctx)
	if err != nil {
		return nil, backendError("read store meta", err)
	}
	want := db.Meta{Metric: string(cfg.Metric), Dimension: cfg.Dimension}
	switch {
	case meta == nil:
		if err := client.QueryPutMeta(ctx, want); err != nil {
			return nil, backendError("write store meta", err)
		}
	case *meta != want:
		return nil, fmt.Errorf("%w: store has %s/%d, configured %s/%d",
			ErrConfigMismatch, meta.Metric, meta.Dimension, want.Metric, want.Dimension)
	}

	return &Surreal{client: client, cfg: cfg, locks: newKeyedMutex(), logger: logger}, nil
}

func surrealDist(m Metric) string {
	if m == MetricL2 {
		return db.DistEuclidean
	}
	return db.DistCosine
}

// Upsert writes the record under the composite key [namespace, id].
func (s *Surreal) Upsert(ctx context.Context, namespace string, rec models.MemoryRecord) error {
	rec, err := prepare(namespace, rec, s.cfg.Dimension)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(recordKey(namespace, rec.ID))
	defer unlock()

	return backendError("upsert record", s.client.QueryUpsertMemory(ctx, db.Memory{
		Key:       rec.ID,
		Namespace: rec.Namespace,
		Session:   rec.SessionID,
		Kind:      string(rec.Kind),
		Text:      rec.Text,
		Emotion:   rec.Emotion,
		Embedding: rec.Vector,
		CreatedAt: rec.CreatedAt,
	}))
}

// Query scores the namespace's records in the database.
func (s *Surreal) Query(ctx context.Context, namespace string, vector []float32, topK int, kinds ...models.Kind) ([]Match, error) {
	ok, err := checkQuery(namespace, vector, topK, s.cfg)
	if err != nil || !ok {
		return nil, err
	}

	hits, err := s.client.QuerySearchMemory(ctx, namespace, vector, kindStrings(kinds), topK, surrealDist(s.cfg.Metric))
	if err != nil {
		return nil, backendError("query records", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		if h.Namespace != namespace {
			s.logger.Error("surrealdb returned foreign record", "namespace", namespace, "record_namespace", h.Namespace)
			continue
		}
		d := h.Score
		if s.cfg.Metric == MetricCosine {
			d = max(1-h.Score, 0)
		}
		matches = append(matches, Match{Record: fromRow(h.Memory), Distance: d})
	}
	return topMatches(matches, topK), nil
}

// List returns the namespace's records oldest first.
func (s *Surreal) List(ctx context.Context, namespace string, opts ListOptions) ([]models.MemoryRecord, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is empty", ErrVectorStore)
	}
	rows, err := s.client.QueryListMemory(ctx, namespace, kindStrings(opts.Kinds), opts.ExcludeSession, opts.Limit)
	if err != nil {
		return nil, backendError("list records", err)
	}

	records := make([]models.MemoryRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, fromRow(r))
	}
	slices.Reverse(records)
	return records, nil
}

// DropNamespace deletes all rows of the namespace.
func (s *Surreal) DropNamespace(ctx context.Context, namespace string) error {
	return backendError("drop namespace", s.client.QueryDeleteNamespace(ctx, namespace))
}

// Close closes the SurrealDB connection.
func (s *Surreal) Close() error {
	return s.client.Close(context.Background())
}

func fromRow(m db.Memory) models.MemoryRecord {
	return models.MemoryRecord{
		ID:        m.Key,
		Namespace: m.Namespace,
		SessionID: m.Session,
		Kind:      models.Kind(m.Kind),
		Text:      m.Text,
		Vector:    m.Embedding,
		Emotion:   m.Emotion,
		CreatedAt: m.CreatedAt.UTC(),
	}
}
