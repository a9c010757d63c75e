package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/raphaelgruber/mindmate/internal/models"
)

// File keeps one indented JSON array per session at <dir>/<user>/<session>.json.
type File struct {
	dir string
	mu  sync.Mutex
}

var _ Store = (*File)(nil)

// NewFile creates a file store rooted at dir.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrap("create transcript dir", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(userID, sessionID string) string {
	return filepath.Join(f.dir, userID, sessionID+".json")
}

// Append rewrites the session file with the new turn through a temp file
// and rename, so readers never see a partial array.
func (f *File) Append(_ context.Context, turn models.Turn) error {
	if err := validate(turn.UserID, turn.SessionID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(turn.UserID, turn.SessionID)
	turns, err := readTurns(path)
	if err != nil {
		return err
	}
	turns = append(turns, turn)

	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return wrap("encode transcript", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrap("create user dir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*")
	if err != nil {
		return wrap("create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return wrap("write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return wrap("close temp file", err)
	}
	return wrap("replace transcript", os.Rename(tmp.Name(), path))
}

// Recent reads the session file.
func (f *File) Recent(_ context.Context, userID, sessionID string, limit int) ([]models.Turn, error) {
	if err := validate(userID, sessionID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	turns, err := readTurns(f.path(userID, sessionID))
	if err != nil {
		return nil, err
	}
	return tail(turns, limit), nil
}

// Close is a no-op.
func (f *File) Close() error {
	return nil
}

func readTurns(path string) ([]models.Turn, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("read transcript", err)
	}
	var turns []models.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, wrap("decode transcript", err)
	}
	return turns, nil
}
