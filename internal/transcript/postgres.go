package transcript

import (
	"context"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// Postgres stores turns in the transcript_turns table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to databaseURL and creates the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, wrap("connect postgres", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_turns (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			user_text TEXT NOT NULL,
			bot_text TEXT NOT NULL,
			emotion TEXT NOT NULL DEFAULT '',
			crisis BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_turns_session ON transcript_turns (user_id, session_id, id DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return wrap("init transcript schema", err)
		}
	}
	return nil
}

// Append inserts turn.
func (p *Postgres) Append(ctx context.Context, turn models.Turn) error {
	if err := validate(turn.UserID, turn.SessionID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO transcript_turns (user_id, session_id, user_text, bot_text, emotion, crisis, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		turn.UserID, turn.SessionID, turn.User, turn.Bot, turn.Emotion, turn.Crisis, turn.Timestamp.UTC(),
	)
	return wrap("insert turn", err)
}

// Recent selects the newest turns and reverses them into chronological order.
func (p *Postgres) Recent(ctx context.Context, userID, sessionID string, limit int) ([]models.Turn, error) {
	if err := validate(userID, sessionID); err != nil {
		return nil, err
	}

	query := `SELECT user_id, session_id, user_text, bot_text, emotion, crisis, created_at
		FROM transcript_turns
		WHERE user_id = $1 AND session_id = $2
		ORDER BY id DESC`
	args := []any{userID, sessionID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("query turns", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.UserID, &t.SessionID, &t.User, &t.Bot, &t.Emotion, &t.Crisis, &t.Timestamp); err != nil {
			return nil, wrap("scan turn", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate turns", err)
	}

	slices.Reverse(turns)
	return turns, nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
