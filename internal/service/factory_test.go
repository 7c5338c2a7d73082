// File: internal/service/factory_test.go
package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/store"
)

func TestComponentFactory_Create(t *testing.T) {
	ctx := context.Background()
	factory := NewComponentFactory()

	t.Run("InMemory", func(t *testing.T) {
		c, err := factory.Create(ctx, testConfig(), Options{InMemoryRepository: true}, zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { c.Shutdown(context.Background()) })

		assert.NotNil(t, c.Metrics)
		assert.IsType(t, &store.Memory{}, c.Repository)
		assert.Nil(t, c.DBPool)
		assert.NotNil(t, c.DataStore)
		assert.NotNil(t, c.Browser)
		assert.NotNil(t, c.Engine)
		assert.NotNil(t, c.Scheduler)
		assert.Empty(t, c.Engine.Live())

		require.NoError(t, c.DataStore.CreateTable(ctx, schemas.DataStoreTable{
			Name:    "products",
			Columns: []schemas.DataStoreColumn{{Name: "name", Type: schemas.ColumnText}},
		}))
	})

	t.Run("DataStoreFailure", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		cfg := testConfig()
		cfg.DataStoreCfg.DSN = ""

		c, err := factory.Create(ctx, cfg, Options{InMemoryRepository: true}, zap.New(core))
		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "datastore.dsn is empty")
		assert.Equal(t, 1, logs.FilterMessage("Initialization failed, shutting down partially created components.").Len())
	})

	t.Run("BrowserPoolFailure", func(t *testing.T) {
		cfg := testConfig()
		cfg.BrowserCfg.MaxSlots = 0

		c, err := factory.Create(ctx, cfg, Options{InMemoryRepository: true}, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "failed to initialize browser pool")
	})

	t.Run("BadDatabaseURL", func(t *testing.T) {
		cfg := testConfig()
		cfg.DatabaseCfg.URL = "postgres://user@localhost:notaport/db"

		_, err := factory.Create(ctx, cfg, Options{}, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize repository")
	})
}

func TestInitializeRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("FallsBackToMemory", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		repo, pool, err := InitializeRepository(ctx, testConfig().Database(), zap.New(core), false)
		require.NoError(t, err)
		assert.Nil(t, pool)
		assert.IsType(t, &store.Memory{}, repo)
		assert.Equal(t, 1, logs.Len(), "missing database url is reported")
	})

	t.Run("ExplicitMemoryIsQuiet", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		cfg := testConfig().Database()
		cfg.URL = "postgres://localhost/scrapeflow"
		repo, pool, err := InitializeRepository(ctx, cfg, zap.New(core), true)
		require.NoError(t, err)
		assert.Nil(t, pool)
		assert.IsType(t, &store.Memory{}, repo)
		assert.Zero(t, logs.Len())
	})
}

func TestInitializeDataStore(t *testing.T) {
	ds, err := InitializeDataStore(context.Background(), testConfig().DataStore(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	cfg := testConfig().DataStore()
	cfg.DSN = ""
	_, err = InitializeDataStore(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "failed to open data store")
}
