// Package transcript persists completed conversation turns per user session.
package transcript

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// ErrTranscript wraps every transcript backend failure.
var ErrTranscript = errors.New("transcript store error")

// Store is an append-only log of completed turns.
type Store interface {
	// Append records a completed turn.
	Append(ctx context.Context, turn models.Turn) error
	// Recent returns up to limit of the latest turns of a session, oldest first.
	// A limit of zero or less returns the whole session.
	Recent(ctx context.Context, userID, sessionID string, limit int) ([]models.Turn, error)
	Close() error
}

// validate checks the ids used to address a session.
func validate(userID, sessionID string) error {
	if err := models.ValidateNamespace(userID); err != nil {
		return fmt.Errorf("%w: user: %w", ErrTranscript, err)
	}
	if err := models.ValidateNamespace(sessionID); err != nil {
		return fmt.Errorf("%w: session: %w", ErrTranscript, err)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTranscript, op, err)
}

func tail(turns []models.Turn, limit int) []models.Turn {
	if limit > 0 && len(turns) > limit {
		return turns[len(turns)-limit:]
	}
	return turns
}
