// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, the tunable parameters of the
// pointer simulation used for physical clicks. The values describe a session
// persona; each run samples its own persona around these means.
package config

import "github.com/spf13/viper"

// HumanoidConfig mirrors humanoid.Config for file and env loading.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Fitts's law parameters, in milliseconds.
	FittsAMean   float64 `mapstructure:"fitts_a_mean" yaml:"fitts_a_mean"`
	FittsAStdDev float64 `mapstructure:"fitts_a_std_dev" yaml:"fitts_a_std_dev"`
	FittsBMean   float64 `mapstructure:"fitts_b_mean" yaml:"fitts_b_mean"`
	FittsBStdDev float64 `mapstructure:"fitts_b_std_dev" yaml:"fitts_b_std_dev"`

	// Path noise.
	GaussianStrengthMean float64 `mapstructure:"gaussian_strength_mean" yaml:"gaussian_strength_mean"`
	PerlinAmplitudeMean  float64 `mapstructure:"perlin_amplitude_mean" yaml:"perlin_amplitude_mean"`
	ArcMean              float64 `mapstructure:"arc_mean" yaml:"arc_mean"`

	ClickHoldMinMs int `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	FatigueIncreaseRate float64 `mapstructure:"fatigue_increase_rate" yaml:"fatigue_increase_rate"`
	FatigueRecoveryRate float64 `mapstructure:"fatigue_recovery_rate" yaml:"fatigue_recovery_rate"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.fitts_a_mean", 100.0)
	v.SetDefault("browser.humanoid.fitts_a_std_dev", 15.0)
	v.SetDefault("browser.humanoid.fitts_b_mean", 120.0)
	v.SetDefault("browser.humanoid.fitts_b_std_dev", 20.0)
	v.SetDefault("browser.humanoid.gaussian_strength_mean", 0.5)
	v.SetDefault("browser.humanoid.perlin_amplitude_mean", 2.5)
	v.SetDefault("browser.humanoid.arc_mean", 0.12)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 50)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 120)
	v.SetDefault("browser.humanoid.fatigue_increase_rate", 0.005)
	v.SetDefault("browser.humanoid.fatigue_recovery_rate", 0.01)
}
