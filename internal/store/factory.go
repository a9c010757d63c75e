package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/raphaelgruber/mindmate/internal/config"
	"github.com/raphaelgruber/mindmate/internal/db"
)

// Open creates the vector store selected by cfg.VectorBackend.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (Store, error) {
	metric, err := ParseMetric(cfg.VectorMetric)
	if err != nil {
		return nil, err
	}
	storeCfg := Config{Metric: metric, Dimension: cfg.EmbedDimension}

	logger.Info("opening vector store", "backend", cfg.VectorBackend, "metric", metric, "dimension", cfg.EmbedDimension)

	switch cfg.VectorBackend {
	case config.BackendSQLite, "":
		s, err := OpenSQLite(ctx, filepath.Join(cfg.DataDir, "memory.db"), storeCfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendChromem:
		s, err := OpenChromem(filepath.Join(cfg.DataDir, "chromem"), storeCfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, backendError("connect surrealdb", err)
		}
		s, err := OpenSurreal(ctx, client, storeCfg, logger)
		if err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return s, nil
	case config.BackendPGVector:
		s, err := OpenPGVector(ctx, cfg.DatabaseURL, storeCfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unsupported backend %q", ErrVectorStore, cfg.VectorBackend)
	}
}
