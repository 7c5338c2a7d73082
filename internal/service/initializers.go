// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/datastore"
	"github.com/xkilldash9x/scrapeflow/internal/store"
)

// InitializeRepository connects the definition and history store. Without a
// database URL, or when useInMemory is set, definitions live in process
// memory. The returned pool is nil in that case.
func InitializeRepository(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, useInMemory bool) (schemas.Repository, *pgxpool.Pool, error) {
	if useInMemory || cfg.URL == "" {
		if !useInMemory {
			logger.Warn("No database configured; scrapers, routines and history are kept in memory and lost on exit (hint: set SCRAPEFLOW_DATABASE_URL).")
		}
		return store.NewMemory(), nil, nil
	}

	pool, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	repo, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to prepare database schema: %w", err)
	}
	logger.Info("PostgreSQL repository initialized.")
	return repo, pool, nil
}

// InitializeDataStore opens the typed data tables scrapers read and write.
func InitializeDataStore(ctx context.Context, cfg config.DataStoreConfig, logger *zap.Logger) (*datastore.Store, error) {
	ds, err := datastore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}
	return ds, nil
}
