package transcript

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/mindmate/internal/config"
)

// Open returns the transcript backend selected by cfg.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.TranscriptBackend {
	case config.TranscriptFile, "":
		s, err := NewFile(cfg.TranscriptDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.TranscriptMemory:
		return NewMemory(), nil
	case config.TranscriptPostgres:
		s, err := NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", ErrTranscript, cfg.TranscriptBackend)
	}
}
