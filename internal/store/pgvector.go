package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// PGVector stores records in PostgreSQL with the pgvector extension.
type PGVector struct {
	pool   *pgxpool.Pool
	cfg    Config
	locks  *keyedMutex
	logger *slog.Logger
}

var _ Store = (*PGVector)(nil)

// OpenPGVector connects to databaseURL, creates the schema and pins the
// store geometry.
func OpenPGVector(ctx context.Context, databaseURL string, cfg Config, logger *slog.Logger) (*PGVector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	// The vector type must exist before pool connections register it.
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return nil, backendError("connect postgres", err)
	}
	_, err = conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`)
	conn.Close(ctx)
	if err != nil {
		return nil, backendError("create vector extension", err)
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, backendError("parse database url", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, backendError("create pool", err)
	}

	s := &PGVector{pool: pool, cfg: cfg, locks: newKeyedMutex(), logger: logger}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.checkMeta(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGVector) opsClass() string {
	if s.cfg.Metric == MetricL2 {
		return "vector_l2_ops"
	}
	return "vector_cosine_ops"
}

func (s *PGVector) operator() string {
	if s.cfg.Metric == MetricL2 {
		return "<->"
	}
	return "<=>"
}

func (s *PGVector) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_vectors (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			emotion TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace, id)
		)`, s.cfg.Dimension),
		`CREATE INDEX IF NOT EXISTS idx_memory_vectors_scan ON memory_vectors (namespace, kind, created_at)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_memory_vectors_embedding ON memory_vectors USING hnsw (embedding %s)`, s.opsClass()),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return backendError("init schema", err)
		}
	}
	return nil
}

func (s *PGVector) checkMeta(ctx context.Context) error {
	want := [][2]string{
		{"metric", string(s.cfg.Metric)},
		{"dimension", strconv.Itoa(s.cfg.Dimension)},
	}
	for _, kv := range want {
		var stored string
		err := s.pool.QueryRow(ctx, `SELECT value FROM store_meta WHERE key = $1`, kv[0]).Scan(&stored)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			if _, err := s.pool.Exec(ctx, `INSERT INTO store_meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, kv[0], kv[1]); err != nil {
				return backendError("write store meta", err)
			}
		case err != nil:
			return backendError("read store meta", err)
		case stored != kv[1]:
			return fmt.Errorf("%w: store has %s %s, configured %s", ErrConfigMismatch, kv[0], stored, kv[1])
		}
	}
	return nil
}

// Upsert inserts or replaces a record.
func (s *PGVector) Upsert(ctx context.Context, namespace string, rec models.MemoryRecord) error {
	rec, err := prepare(namespace, rec, s.cfg.Dimension)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(recordKey(namespace, rec.ID))
	defer unlock()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO memory_vectors (namespace, id, session_id, kind, text, emotion, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (namespace, id) DO UPDATE SET
			session_id = EXCLUDED.session_id,
			kind       = EXCLUDED.kind,
			text       = EXCLUDED.text,
			emotion    = EXCLUDED.emotion,
			embedding  = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		rec.Namespace, rec.ID, rec.SessionID, string(rec.Kind), rec.Text, rec.Emotion,
		pgvector.NewVector(rec.Vector), rec.CreatedAt,
	)
	return backendError("upsert record", err)
}

// Query orders the namespace's records by the metric's distance operator.
func (s *PGVector) Query(ctx context.Context, namespace string, vector []float32, topK int, kinds ...models.Kind) ([]Match, error) {
	ok, err := checkQuery(namespace, vector, topK, s.cfg)
	if err != nil || !ok {
		return nil, err
	}

	args := []any{namespace, pgvector.NewVector(vector), topK}
	kindClause := ""
	if len(kinds) > 0 {
		kindClause = "AND kind = ANY($4)"
		args = append(args, kindStrings(kinds))
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT namespace, id, session_id, kind, text, emotion, embedding, created_at, embedding %s $2 AS distance
		FROM memory_vectors
		WHERE namespace = $1 %s
		ORDER BY distance, id
		LIMIT $3`, s.operator(), kindClause), args...)
	if err != nil {
		return nil, backendError("query records", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := scanPGRecord(rows, &m.Record, &m.Distance); err != nil {
			return nil, backendError("scan record", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("iterate records", err)
	}
	return matches, nil
}

// List returns the namespace's records oldest first.
func (s *PGVector) List(ctx context.Context, namespace string, opts ListOptions) ([]models.MemoryRecord, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is empty", ErrVectorStore)
	}

	args := []any{namespace}
	query := `SELECT namespace, id, session_id, kind, text, emotion, embedding, created_at
		FROM memory_vectors WHERE namespace = $1`
	if len(opts.Kinds) > 0 {
		args = append(args, kindStrings(opts.Kinds))
		query += fmt.Sprintf(" AND kind = ANY($%d)", len(args))
	}
	if opts.ExcludeSession != "" {
		args = append(args, opts.ExcludeSession)
		query += fmt.Sprintf(" AND session_id <> $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, backendError("list records", err)
	}
	defer rows.Close()

	var records []models.MemoryRecord
	for rows.Next() {
		var rec models.MemoryRecord
		if err := scanPGRecord(rows, &rec, nil); err != nil {
			return nil, backendError("scan record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("iterate records", err)
	}

	slices.Reverse(records)
	return records, nil
}

// DropNamespace deletes all rows of the namespace.
func (s *PGVector) DropNamespace(ctx context.Context, namespace string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM memory_vectors WHERE namespace = $1`, namespace)
	return backendError("drop namespace", err)
}

// Close closes the connection pool.
func (s *PGVector) Close() error {
	s.pool.Close()
	return nil
}

func scanPGRecord(rows pgx.Rows, rec *models.MemoryRecord, distance *float64) error {
	var (
		kind string
		vec  pgvector.Vector
	)
	dest := []any{&rec.Namespace, &rec.ID, &rec.SessionID, &kind, &rec.Text, &rec.Emotion, &vec, &rec.CreatedAt}
	if distance != nil {
		dest = append(dest, distance)
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	rec.Kind = models.Kind(kind)
	rec.Vector = vec.Slice()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return nil
}
