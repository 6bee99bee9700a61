package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Registration.Quality != 1 {
		t.Errorf("Expected default quality 1, got %d", cfg.Registration.Quality)
	}
	if !cfg.Registration.Interleaved {
		t.Error("Expected interleaved acquisition by default")
	}
	if !cfg.Registration.ZeroMasking {
		t.Error("Expected zero-masking enabled by default")
	}
	if cfg.Mask.RegularDilation >= cfg.Mask.LiberalDilation {
		t.Errorf("Regular dilation %d must be smaller than liberal dilation %d",
			cfg.Mask.RegularDilation, cfg.Mask.LiberalDilation)
	}
	if cfg.Scoring.LiberalFrac <= 0 || cfg.Scoring.LiberalFrac > 1 {
		t.Errorf("Liberal fraction %v out of range (0, 1]", cfg.Scoring.LiberalFrac)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Missing config file should fall back to defaults, got error: %v", err)
	}
	if cfg.Registration.Quality != DefaultConfig().Registration.Quality {
		t.Error("Missing config file did not yield defaults")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Registration.Quality = 2
	cfg.Registration.NonLinear = false
	cfg.Mask.LateralMode = 2
	cfg.Scoring.StrictFrac = 0.25
	cfg.Output.ReportDir = "custom_reports"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Registration.Quality != 2 {
		t.Errorf("Expected quality 2 after round trip, got %d", loaded.Registration.Quality)
	}
	if loaded.Registration.NonLinear {
		t.Error("Expected nonLinear false after round trip")
	}
	if loaded.Mask.LateralMode != 2 {
		t.Errorf("Expected lateral mode 2 after round trip, got %d", loaded.Mask.LateralMode)
	}
	if loaded.Scoring.StrictFrac != 0.25 {
		t.Errorf("Expected strict fraction 0.25 after round trip, got %v", loaded.Scoring.StrictFrac)
	}
	if loaded.Output.ReportDir != "custom_reports" {
		t.Errorf("Expected report dir %q after round trip, got %q", "custom_reports", loaded.Output.ReportDir)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("registration: [not a map"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}
