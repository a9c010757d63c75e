// Package store provides namespaced vector storage for memory records.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// Store persists memory records and answers nearest-neighbour queries.
// Every operation is scoped to a single namespace; a record is never
// returned from a namespace other than its own.
type Store interface {
	// Upsert inserts rec or replaces the record with the same (namespace, id).
	Upsert(ctx context.Context, namespace string, rec models.MemoryRecord) error

	// Query returns up to topK records of the namespace nearest to vector,
	// nearest first. With kinds, only records of those kinds are considered.
	Query(ctx context.Context, namespace string, vector []float32, topK int, kinds ...models.Kind) ([]Match, error)

	// List scans the namespace and returns records ordered by creation time.
	List(ctx context.Context, namespace string, opts ListOptions) ([]models.MemoryRecord, error)

	// DropNamespace removes every record of the namespace.
	DropNamespace(ctx context.Context, namespace string) error

	Close() error
}

// Match is a query result.
type Match struct {
	Record   models.MemoryRecord
	Distance float64
}

// ListOptions filter a namespace scan.
type ListOptions struct {
	Kinds []models.Kind
	// ExcludeSession drops records produced by this session.
	ExcludeSession string
	// Limit keeps only the most recent records. Zero means no limit.
	Limit int
}

// Config fixes the geometry of a store. Both values are persisted with the
// store and checked when it is reopened.
type Config struct {
	Metric    Metric
	Dimension int
}

func (c Config) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrVectorStore, c.Dimension)
	}
	if !c.Metric.Valid() {
		return fmt.Errorf("%w: unknown metric %q", ErrVectorStore, c.Metric)
	}
	return nil
}

// prepare fills defaults on rec and validates it for the namespace.
func prepare(namespace string, rec models.MemoryRecord, dim int) (models.MemoryRecord, error) {
	if namespace == "" {
		return rec, fmt.Errorf("%w: namespace is empty", ErrInvalidRecord)
	}
	if rec.Namespace == "" {
		rec.Namespace = namespace
	}
	if rec.Namespace != namespace {
		return rec, fmt.Errorf("%w: record namespace %q does not match %q", ErrInvalidRecord, rec.Namespace, namespace)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if len(rec.Vector) != dim {
		return rec, fmt.Errorf("%w: %w", ErrDimensionMismatch, &models.DimensionError{Want: dim, Got: len(rec.Vector)})
	}
	if err := rec.Validate(dim); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if !finite(rec.Vector) {
		return rec, fmt.Errorf("%w: vector contains NaN or Inf", ErrInvalidVector)
	}
	return rec, nil
}

// checkQuery validates query arguments. It returns false when the query can
// be answered with no results without touching the backend.
func checkQuery(namespace string, vector []float32, topK int, cfg Config) (bool, error) {
	if namespace == "" {
		return false, fmt.Errorf("%w: namespace is empty", ErrVectorStore)
	}
	if len(vector) != cfg.Dimension {
		return false, fmt.Errorf("%w: %w", ErrDimensionMismatch, &models.DimensionError{Want: cfg.Dimension, Got: len(vector)})
	}
	if !finite(vector) {
		return false, fmt.Errorf("%w: vector contains NaN or Inf", ErrInvalidVector)
	}
	if cfg.Metric == MetricCosine && isZero(vector) {
		return false, fmt.Errorf("%w: zero vector has no cosine direction; use List", ErrInvalidVector)
	}
	return topK > 0, nil
}

func kindSet(kinds []models.Kind) map[models.Kind]bool {
	if len(kinds) == 0 {
		return nil
	}
	set := make(map[models.Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return set
}

func kindStrings(kinds []models.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
