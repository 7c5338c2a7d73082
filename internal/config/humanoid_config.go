// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which contains the tunable
// parameters of the ghost cursor used for humanized clicks and typing. The
// settings control the pointer trajectory model (Fitts's law timing, noise)
// and the dwell and keystroke timings.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// HumanoidConfig holds the ghost cursor parameters.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Fitts's law: MT = A + B * log2(1 + D/W), in milliseconds.
	FittsA float64 `mapstructure:"fitts_a" yaml:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b" yaml:"fitts_b"`

	// Noise applied along trajectories, in pixels.
	PerlinAmplitude  float64 `mapstructure:"perlin_amplitude" yaml:"perlin_amplitude"`
	GaussianStrength float64 `mapstructure:"gaussian_strength" yaml:"gaussian_strength"`

	// Dwell before pressing and time the button is held.
	DwellMeanMs    float64 `mapstructure:"dwell_mean_ms" yaml:"dwell_mean_ms"`
	DwellStdDevMs  float64 `mapstructure:"dwell_std_dev_ms" yaml:"dwell_std_dev_ms"`
	ClickHoldMinMs int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	// Inter-key delay of humanized typing.
	KeyPauseMeanMs   float64 `mapstructure:"key_pause_mean_ms" yaml:"key_pause_mean_ms"`
	KeyPauseStdDevMs float64 `mapstructure:"key_pause_std_dev_ms" yaml:"key_pause_std_dev_ms"`
	KeyPauseMinMs    float64 `mapstructure:"key_pause_min_ms" yaml:"key_pause_min_ms"`
}

// setHumanoidDefaults sets the defaults of an average desktop user.
func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.fitts_a", 100.0)
	v.SetDefault("browser.humanoid.fitts_b", 150.0)
	v.SetDefault("browser.humanoid.perlin_amplitude", 2.5)
	v.SetDefault("browser.humanoid.gaussian_strength", 0.6)
	v.SetDefault("browser.humanoid.dwell_mean_ms", 180.0)
	v.SetDefault("browser.humanoid.dwell_std_dev_ms", 60.0)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 50)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 130)
	v.SetDefault("browser.humanoid.key_pause_mean_ms", 110.0)
	v.SetDefault("browser.humanoid.key_pause_std_dev_ms", 40.0)
	v.SetDefault("browser.humanoid.key_pause_min_ms", 25.0)
}

// Validate checks the humanoid settings.
func (h HumanoidConfig) Validate() error {
	if !h.Enabled {
		return nil
	}
	if h.FittsA < 0 || h.FittsB <= 0 {
		return fmt.Errorf("fitts_a must be non-negative and fitts_b positive")
	}
	if h.ClickHoldMinMs < 0 || h.ClickHoldMaxMs < h.ClickHoldMinMs {
		return fmt.Errorf("click_hold_max_ms must be greater than or equal to click_hold_min_ms")
	}
	return nil
}
