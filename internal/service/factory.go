// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/internal/browser"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/engine"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
	"github.com/xkilldash9x/scrapeflow/internal/scheduler"
)

// Options tune what the factory builds.
type Options struct {
	// InMemoryRepository skips PostgreSQL even when a URL is configured.
	InMemoryRepository bool
}

// ComponentFactory builds the process components. Commands depend on it so
// tests can substitute the wiring.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, opts Options, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct{}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires repository, data store, browser pool, execution engine and
// scheduler. On failure everything built so far is shut down.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, opts Options, logger *zap.Logger) (*Components, error) {
	components := &Components{Config: cfg, Logger: logger}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	// 1. Metrics
	components.Metrics = metrics.New()

	// 2. Definition and history repository
	repo, pool, err := InitializeRepository(ctx, cfg.Database(), logger, opts.InMemoryRepository)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize repository: %w", err)
		return nil, initializationErr
	}
	components.Repository = repo
	components.DBPool = pool
	logger.Debug("Repository initialized.")

	// 3. Data tables
	ds, err := InitializeDataStore(ctx, cfg.DataStore(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.DataStore = ds
	logger.Debug("Data store initialized.", zap.String("dsn", cfg.DataStore().DSN))

	// 4. Browser pool
	browserPool, err := browser.NewPool(cfg, logger, components.Metrics)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize browser pool: %w", err)
		return nil, initializationErr
	}
	components.Browser = browserPool

	// 5. Execution engine
	manager, err := engine.NewManager(cfg, repo, browserPool, ds, nil, components.Metrics, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize execution engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = manager
	logger.Debug("Execution engine initialized.")

	// 6. Routine scheduler
	sched, err := scheduler.New(cfg, repo, manager, components.Metrics, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize scheduler: %w", err)
		return nil, initializationErr
	}
	components.Scheduler = sched

	logger.Info("All components initialized successfully.")
	return components, nil
}
