package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"seclens/internal/apperr"
	"seclens/internal/config"
)

// Open connects to the backend selected by cfg. A backend that cannot be
// reached fails with apperr.ErrStoreUnavailable; callers treat that as fatal.
func Open(ctx context.Context, cfg config.VectorStoreConfig, dims int, logger *zap.Logger) (VectorStore, error) {
	var (
		vs  VectorStore
		err error
	)
	switch cfg.Backend {
	case "sqlite":
		vs, err = OpenSQLite(ctx, cfg.SQLite.Path, dims)
	case "postgres":
		vs, err = OpenPostgres(ctx, PostgresOptions{
			DSN:            cfg.Postgres.DSN,
			Schema:         cfg.Postgres.Schema,
			Dimensions:     dims,
			M:              cfg.Postgres.HNSW.M,
			EfConstruction: cfg.Postgres.HNSW.EfConstruction,
			EfSearch:       cfg.Postgres.HNSW.EfSearch,
			DistMethod:     cfg.Postgres.HNSW.DistMethod,
		})
	case "memory":
		vs = NewMemory()
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, apperr.New(apperr.ErrStoreUnavailable, "open "+cfg.Backend+" store", err)
	}

	logger.Debug("vector store opened", zap.String("backend", cfg.Backend), zap.Int("dimensions", dims))
	return vs, nil
}
