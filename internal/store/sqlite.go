package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/raphaelgruber/mindmate/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS memory_records (
	namespace  TEXT NOT NULL,
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL,
	emotion    TEXT NOT NULL DEFAULT '',
	vector     BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS idx_memory_records_scan ON memory_records (namespace, kind, created_at);
`

// SQLite is a single-file store. Vectors are kept as little-endian float32
// BLOBs and scored in Go, which is exact and fast enough for per-user
// namespaces of a few thousand records.
type SQLite struct {
	db     *sql.DB
	cfg    Config
	locks  *keyedMutex
	logger *slog.Logger
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens or creates the store at path.
func OpenSQLite(ctx context.Context, path string, cfg Config, logger *slog.Logger) (*SQLite, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, backendError("create data dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, backendError("open database", err)
	}

	// One connection serializes writers inside database/sql.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, backendError("set pragma", err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, backendError("create schema", err)
	}

	s := &SQLite{db: db, cfg: cfg, locks: newKeyedMutex(), logger: logger}
	if err := s.checkMeta(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("sqlite store opened", "path", path, "metric", cfg.Metric, "dimension", cfg.Dimension)
	return s, nil
}

// checkMeta pins metric and dimension on first open and compares them afterwards.
func (s *SQLite) checkMeta(ctx context.Context) error {
	want := map[string]string{
		"metric":    string(s.cfg.Metric),
		"dimension": strconv.Itoa(s.cfg.Dimension),
	}
	for key, value := range want {
		var stored string
		err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, key).Scan(&stored)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := s.db.ExecContext(ctx, `INSERT INTO store_meta (key, value) VALUES (?, ?)`, key, value); err != nil {
				return backendError("write store meta", err)
			}
		case err != nil:
			return backendError("read store meta", err)
		case stored != value:
			return fmt.Errorf("%w: store has %s %s, configured %s", ErrConfigMismatch, key, stored, value)
		}
	}
	return nil
}

// Upsert inserts or replaces a record.
func (s *SQLite) Upsert(ctx context.Context, namespace string, rec models.MemoryRecord) error {
	rec, err := prepare(namespace, rec, s.cfg.Dimension)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(recordKey(namespace, rec.ID))
	defer unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (namespace, id, session_id, kind, text, emotion, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, id) DO UPDATE SET
			session_id = excluded.session_id,
			kind       = excluded.kind,
			text       = excluded.text,
			emotion    = excluded.emotion,
			vector     = excluded.vector,
			created_at = excluded.created_at`,
		rec.Namespace, rec.ID, rec.SessionID, string(rec.Kind), rec.Text, rec.Emotion,
		encodeVector(rec.Vector), rec.CreatedAt.UnixNano(),
	)
	return backendError("upsert record", err)
}

// Query scores every candidate record of the namespace and returns the nearest.
func (s *SQLite) Query(ctx context.Context, namespace string, vector []float32, topK int, kinds ...models.Kind) ([]Match, error) {
	ok, err := checkQuery(namespace, vector, topK, s.cfg)
	if err != nil || !ok {
		return nil, err
	}

	where, args := scanFilter(namespace, kinds, "")
	rows, err := s.db.QueryContext(ctx, `
		SELECT namespace, id, session_id, kind, text, emotion, vector, created_at
		FROM memory_records `+where, args...)
	if err != nil {
		return nil, backendError("query records", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, backendError("scan record", err)
		}
		if len(rec.Vector) != s.cfg.Dimension {
			s.logger.Warn("skipping record with stale dimension", "namespace", namespace, "id", rec.ID, "dimension", len(rec.Vector))
			continue
		}
		matches = append(matches, Match{Record: rec, Distance: s.cfg.Metric.Distance(vector, rec.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("iterate records", err)
	}

	return topMatches(matches, topK), nil
}

// List returns the namespace's records oldest first. With a limit, only the
// most recent records are kept.
func (s *SQLite) List(ctx context.Context, namespace string, opts ListOptions) ([]models.MemoryRecord, error) {
	if namespace == "" {
		return nil, fmt.Errorf("%w: namespace is empty", ErrVectorStore)
	}

	where, args := scanFilter(namespace, opts.Kinds, opts.ExcludeSession)
	query := `SELECT namespace, id, session_id, kind, text, emotion, vector, created_at
		FROM memory_records ` + where + ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backendError("list records", err)
	}
	defer rows.Close()

	var records []models.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
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

// DropNamespace deletes all records of the namespace.
func (s *SQLite) DropNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE namespace = ?`, namespace)
	return backendError("drop namespace", err)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func scanFilter(namespace string, kinds []models.Kind, excludeSession string) (string, []any) {
	clauses := []string{"namespace = ?"}
	args := []any{namespace}
	if len(kinds) > 0 {
		clauses = append(clauses, "kind IN ("+strings.TrimSuffix(strings.Repeat("?,", len(kinds)), ",")+")")
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	if excludeSession != "" {
		clauses = append(clauses, "session_id <> ?")
		args = append(args, excludeSession)
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.MemoryRecord, error) {
	var (
		rec       models.MemoryRecord
		kind      string
		blob      []byte
		createdAt int64
	)
	if err := row.Scan(&rec.Namespace, &rec.ID, &rec.SessionID, &kind, &rec.Text, &rec.Emotion, &blob, &createdAt); err != nil {
		return rec, err
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return rec, err
	}
	rec.Kind = models.Kind(kind)
	rec.Vector = vec
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	return rec, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
