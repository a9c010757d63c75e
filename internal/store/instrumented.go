package store

import (
	"context"

	"github.com/raphaelgruber/mindmate/internal/metrics"
	"github.com/raphaelgruber/mindmate/internal/models"
)

// Instrumented records timing of store operations in a metrics collector.
type Instrumented struct {
	Store
	metrics *metrics.Collector
}

// WithMetrics wraps s so upserts and queries are timed.
func WithMetrics(s Store, c *metrics.Collector) Store {
	if c == nil {
		return s
	}
	return &Instrumented{Store: s, metrics: c}
}

// Upsert times the wrapped Upsert.
func (i *Instrumented) Upsert(ctx context.Context, namespace string, rec models.MemoryRecord) (err error) {
	done := i.metrics.Track(metrics.OpStoreUpsert)
	defer func() { done(err) }()
	return i.Store.Upsert(ctx, namespace, rec)
}

// Query times the wrapped Query.
func (i *Instrumented) Query(ctx context.Context, namespace string, vector []float32, topK int, kinds ...models.Kind) (_ []Match, err error) {
	done := i.metrics.Track(metrics.OpStoreQuery)
	defer func() { done(err) }()
	return i.Store.Query(ctx, namespace, vector, topK, kinds...)
}

// List times the wrapped List as a query.
func (i *Instrumented) List(ctx context.Context, namespace string, opts ListOptions) (_ []models.MemoryRecord, err error) {
	done := i.metrics.Track(metrics.OpStoreQuery)
	defer func() { done(err) }()
	return i.Store.List(ctx, namespace, opts)
}
