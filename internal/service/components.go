// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/browser"
	"github.com/xkilldash9x/scrapeflow/internal/config"
	"github.com/xkilldash9x/scrapeflow/internal/datastore"
	"github.com/xkilldash9x/scrapeflow/internal/engine"
	"github.com/xkilldash9x/scrapeflow/internal/metrics"
	"github.com/xkilldash9x/scrapeflow/internal/scheduler"
)

const schedulerDrainTimeout = 10 * time.Second

// Components holds every long-lived service of the process and owns their
// shutdown order.
type Components struct {
	Config     config.Interface
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Repository schemas.Repository
	DataStore  *datastore.Store
	Browser    *browser.Pool
	Engine     *engine.Manager
	Scheduler  *scheduler.Scheduler
	DBPool     *pgxpool.Pool

	shutdownOnce sync.Once
}

// Shutdown stops producers first, then releases browsers and storage. It
// is safe to call on partially built Components and more than once.
func (c *Components) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() { c.shutdown(ctx) })
}

func (c *Components) shutdown(ctx context.Context) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Terminate running executions. Their history is written before
	// Shutdown returns.
	if c.Engine != nil {
		if err := c.Engine.Shutdown(ctx); err != nil {
			logger.Warn("Error during execution engine shutdown.", zap.Error(err))
		} else {
			logger.Debug("Execution engine stopped.")
		}
	}

	// 2. Let the scheduler record the runs it fired.
	if c.Scheduler != nil {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Scheduler.Wait()
		}()
		if !timedWait(&wg, schedulerDrainTimeout) {
			logger.Warn("Timed out waiting for routine runs to be recorded.")
		}
	}

	// 3. Close browsers.
	if c.Browser != nil {
		if err := c.Browser.Shutdown(ctx); err != nil {
			logger.Warn("Error during browser pool shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser pool shut down.")
		}
	}

	// 4. Storage last.
	if c.DataStore != nil {
		if err := c.DataStore.Close(); err != nil {
			logger.Warn("Error closing data store.", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}

// timedWait waits for wg up to timeout and reports whether it finished.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
