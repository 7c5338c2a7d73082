// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "scrapeflow", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser().DefaultTimeout)
	assert.Equal(t, int64(1920), cfg.Browser().ViewportWidth)
	assert.Equal(t, int64(1080), cfg.Browser().ViewportHeight)
	assert.Equal(t, 4, cfg.Browser().MaxSlots)
	assert.Equal(t, 0, cfg.Engine().MaxStepsPerIteration)
	assert.Equal(t, 2*time.Second, cfg.Engine().FrameTimeout)
	assert.Equal(t, 100, cfg.DataStore().BatchSize)
	assert.True(t, cfg.Browser().Humanoid.Enabled)
	assert.Equal(t, 50, cfg.Browser().Humanoid.ClickHoldMinMs)
	assert.Equal(t, time.Minute, cfg.Scheduler().MaxSleep)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		invalidSlots := *cfg
		invalidSlots.BrowserCfg.MaxSlots = 0
		err := invalidSlots.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.max_slots must be a positive integer")

		invalidSteps := *cfg
		invalidSteps.EngineCfg.MaxStepsPerIteration = -1
		err = invalidSteps.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.max_steps_per_iteration cannot be negative")

		invalidBatch := *cfg
		invalidBatch.DataStoreCfg.BatchSize = 0
		err = invalidBatch.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "datastore.batch_size must be a positive integer")
	})

	t.Run("Humanoid Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Browser().Humanoid
		assert.NoError(t, valid.Validate())

		invalidHold := valid
		invalidHold.ClickHoldMaxMs = invalidHold.ClickHoldMinMs - 1
		err := invalidHold.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "click_hold_max_ms")

		disabled := invalidHold
		disabled.Enabled = false
		assert.NoError(t, disabled.Validate(), "disabled humanoid config should always be valid")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlCfg := []byte(`
browser:
  headless: false
  max_slots: 8
engine:
  max_steps_per_iteration: 5000
datastore:
  dsn: ":memory:"
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlCfg)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.False(t, cfg.Browser().Headless)
		assert.Equal(t, 8, cfg.Browser().MaxSlots)
		assert.Equal(t, 5000, cfg.Engine().MaxStepsPerIteration)
		assert.Equal(t, ":memory:", cfg.DataStore().DSN)
		// Untouched keys keep their defaults.
		assert.Equal(t, 250*time.Millisecond, cfg.Engine().PollInterval)
	})

	t.Run("database url from environment", func(t *testing.T) {
		t.Setenv("SCRAPEFLOW_DATABASE_URL", "postgres://u:p@localhost/scrapeflow")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://u:p@localhost/scrapeflow", cfg.Database().URL)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("browser.max_slots", -2)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetBrowserHeadless(false)
	cfg.SetBrowserHumanoidEnabled(false)
	cfg.SetEngineMaxStepsPerIteration(12)

	assert.False(t, cfg.Browser().Headless)
	assert.False(t, cfg.Browser().Humanoid.Enabled)
	assert.Equal(t, 12, cfg.Engine().MaxStepsPerIteration)
}
