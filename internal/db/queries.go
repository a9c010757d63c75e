package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// Memory is a row of the memory table.
type Memory struct {
	Key       string    `json:"key"`
	Namespace string    `json:"ns"`
	Session   string    `json:"session"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Emotion   string    `json:"emotion"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryHit is a memory row with its score against a query vector.
type MemoryHit struct {
	Memory
	Score float64 `json:"score"`
}

// Meta holds the geometry the memory index was created with.
type Meta struct {
	Metric    string `json:"metric"`
	Dimension int    `json:"dimension"`
}

// Distance functions for QuerySearchMemory.
const (
	DistCosine    = "COSINE"
	DistEuclidean = "EUCLIDEAN"
)

const memoryFields = `key, ns, session, kind, text, emotion, embedding, created_at`

// QueryGetMeta returns the stored metadata, or nil if none was written yet.
func (c *Client) QueryGetMeta(ctx context.Context) (*Meta, error) {
	results, err := surrealdb.Query[[]Meta](ctx, c.db, `SELECT metric, dimension FROM store_meta:config`, nil)
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// QueryPutMeta records the index geometry.
func (c *Client) QueryPutMeta(ctx context.Context, meta Meta) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT store_meta:config CONTENT { metric: $metric, dimension: $dimension }
	`, map[string]any{"metric": meta.Metric, "dimension": meta.Dimension})
	if err != nil {
		return fmt.Errorf("put meta: %w", wrapQueryError(err))
	}
	return nil
}

// QueryUpsertMemory writes a memory row keyed by [ns, key], replacing any existing row.
func (c *Client) QueryUpsertMemory(ctx context.Context, m Memory) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("memory", [$ns, $key]) CONTENT {
			ns: $ns,
			key: $key,
			session: $session,
			kind: $kind,
			text: $text,
			emotion: $emotion,
			embedding: $embedding,
			created_at: <datetime>$created_at
		}
	`, map[string]any{
		"ns":         m.Namespace,
		"key":        m.Key,
		"session":    m.Session,
		"kind":       m.Kind,
		"text":       m.Text,
		"emotion":    m.Emotion,
		"embedding":  m.Embedding,
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("upsert memory: %w", wrapQueryError(err))
	}
	return nil
}

// QuerySearchMemory scores every row of the namespace exactly and returns the
// best limit rows. For DistCosine the score is the cosine similarity (higher
// is nearer); for DistEuclidean it is the distance (lower is nearer).
func (c *Client) QuerySearchMemory(ctx context.Context, ns string, embedding []float32, kinds []string, limit int, dist string) ([]MemoryHit, error) {
	scoreExpr, order := "vector::similarity::cosine(embedding, $emb)", "DESC"
	if dist == DistEuclidean {
		scoreExpr, order = "vector::distance::euclidean(embedding, $emb)", "ASC"
	}

	kindClause := ""
	if len(kinds) > 0 {
		kindClause = "AND kind IN $kinds"
	}

	sql := fmt.Sprintf(`
		SELECT %s, %s AS score FROM memory
		WHERE ns = $ns %s
		ORDER BY score %s, key ASC
		LIMIT $limit
	`, memoryFields, scoreExpr, kindClause, order)

	results, err := surrealdb.Query[[]MemoryHit](ctx, c.db, sql, map[string]any{
		"ns":    ns,
		"emb":   embedding,
		"kinds": kinds,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []MemoryHit{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryListMemory returns rows of the namespace newest first.
// A limit of zero returns every matching row.
func (c *Client) QueryListMemory(ctx context.Context, ns string, kinds []string, excludeSession string, limit int) ([]Memory, error) {
	clauses := []string{"ns = $ns"}
	if len(kinds) > 0 {
		clauses = append(clauses, "kind IN $kinds")
	}
	if excludeSession != "" {
		clauses = append(clauses, "session != $exclude")
	}
	limitClause := ""
	if limit > 0 {
		limitClause = "LIMIT $limit"
	}

	sql := fmt.Sprintf(`
		SELECT %s FROM memory WHERE %s ORDER BY created_at DESC, key DESC %s
	`, memoryFields, strings.Join(clauses, " AND "), limitClause)

	results, err := surrealdb.Query[[]Memory](ctx, c.db, sql, map[string]any{
		"ns":      ns,
		"kinds":   kinds,
		"exclude": excludeSession,
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []Memory{}, nil
	}
	return (*results)[0].Result, nil
}

// QueryDeleteNamespace removes every row of the namespace.
func (c *Client) QueryDeleteNamespace(ctx context.Context, ns string) error {
	if _, err := surrealdb.Query[any](ctx, c.db, `DELETE memory WHERE ns = $ns`, map[string]any{"ns": ns}); err != nil {
		return fmt.Errorf("delete namespace: %w", wrapQueryError(err))
	}
	return nil
}
