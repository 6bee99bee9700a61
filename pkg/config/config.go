// Package config provides configuration loading and management for nhpalign.
// It handles loading configuration from YAML files and resolves the discrete
// quality level into an immutable QualityProfile at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Registration parameters
	Registration struct {
		// Quality selects the quality level (0, 1 or 2) that resolves into
		// a QualityProfile. Higher levels use stricter acceptance thresholds
		// and deeper convergence schedules.
		Quality int `yaml:"quality"`

		// Interleaved indicates interleaved slice acquisition; the
		// previous-slice initialization then reaches two slices back.
		Interleaved bool `yaml:"interleaved"`

		// ZeroMasking enables background suppression via the dilated mask
		// variants in the registration cost function.
		ZeroMasking bool `yaml:"zeroMasking"`

		// NonLinear enables the B-spline refinement stage after linear
		// registration.
		NonLinear bool `yaml:"nonLinear"`

		// KnotIntervals is the number of B-spline knot intervals along the
		// phase-encode axis for the non-linear stage.
		KnotIntervals int `yaml:"knotIntervals"`
	} `yaml:"registration"`

	// Mask construction parameters
	Mask struct {
		// LateralMode selects the lateral-width restriction: 0 disables it,
		// 1 clips to a fixed corridor sized from the 95th-percentile brain
		// width, 2 scales the brain mask laterally per slice.
		LateralMode int `yaml:"lateralMode"`

		// RegularDilation and LiberalDilation are the posterior dilation
		// distances (voxels) deriving the regular and liberal tiers from
		// the strict head mask.
		RegularDilation int `yaml:"regularDilation"`
		LiberalDilation int `yaml:"liberalDilation"`

		// BackgroundDilation is the isotropic dilation (voxels) producing
		// the background-rejection variant of each tier.
		BackgroundDilation int `yaml:"backgroundDilation"`
	} `yaml:"mask"`

	// Scoring parameters
	Scoring struct {
		// LiberalFrac is the fraction of volumes kept by the first
		// (slice-consistency) selection pass.
		LiberalFrac float64 `yaml:"liberalFrac"`

		// StrictFrac is the fraction of the liberal selection kept after
		// the combined-score pass.
		StrictFrac float64 `yaml:"strictFrac"`
	} `yaml:"scoring"`

	// Output parameters
	Output struct {
		// SaveFields writes per-slice deformation fields merged into 4-D
		// distortion-field images.
		SaveFields bool `yaml:"saveFields"`

		// SaveSnapshots saves JPEG snapshots of the reference, mask tiers
		// and selected aligned slices for visual QC.
		SaveSnapshots bool `yaml:"saveSnapshots"`

		// SnapshotDir is the directory for QC snapshots.
		SnapshotDir string `yaml:"snapshotDir"`

		// ReportDir is the directory for the similarity and transform
		// report streams.
		ReportDir string `yaml:"reportDir"`

		// Verbose controls the level of logging output.
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Registration.Quality = 1
	cfg.Registration.Interleaved = true
	cfg.Registration.ZeroMasking = true
	cfg.Registration.NonLinear = true
	cfg.Registration.KnotIntervals = 5

	cfg.Mask.LateralMode = 1
	cfg.Mask.RegularDilation = 6
	cfg.Mask.LiberalDilation = 11
	cfg.Mask.BackgroundDilation = 3

	cfg.Scoring.LiberalFrac = 0.4
	cfg.Scoring.StrictFrac = 0.5

	cfg.Output.SaveFields = false
	cfg.Output.SaveSnapshots = false
	cfg.Output.SnapshotDir = "qc_snapshots"
	cfg.Output.ReportDir = "reports"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
