package transcript

import (
	"context"
	"slices"
	"sync"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// Memory is an in-process store.
type Memory struct {
	mu    sync.RWMutex
	turns map[string][]models.Turn
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{turns: make(map[string][]models.Turn)}
}

func sessionKey(userID, sessionID string) string {
	return userID + "/" + sessionID
}

// Append records turn.
func (m *Memory) Append(_ context.Context, turn models.Turn) error {
	if err := validate(turn.UserID, turn.SessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey(turn.UserID, turn.SessionID)
	m.turns[key] = append(m.turns[key], turn)
	return nil
}

// Recent returns a copy of the latest turns.
func (m *Memory) Recent(_ context.Context, userID, sessionID string, limit int) ([]models.Turn, error) {
	if err := validate(userID, sessionID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(tail(m.turns[sessionKey(userID, sessionID)], limit)), nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
