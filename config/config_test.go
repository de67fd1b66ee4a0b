package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.ServerConfig.Port)
	}
	if cfg.ThresholdsConfig.BuyScore != 0.70 {
		t.Errorf("buy score = %v, want 0.70", cfg.ThresholdsConfig.BuyScore)
	}
	if cfg.TuningConfig.Mode != "grid" {
		t.Errorf("tuning mode = %q, want grid", cfg.TuningConfig.Mode)
	}
}

func TestMalformedFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0o644)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("malformed config file must not fail: %v", err)
	}
	if cfg.ScoringConfig.BroadcastIntervalSec != 60 {
		t.Errorf("broadcast interval = %d, want 60", cfg.ScoringConfig.BroadcastIntervalSec)
	}
}

func TestFileValuesSurviveDefaulting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{
		"server": {"port": 9999},
		"adaptive": {"enabled": true, "min_sample_size": 50},
		"tuning": {"metric": "winRate"}
	}`), 0o644)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerConfig.Port != 9999 {
		t.Errorf("port = %d, want 9999 from file", cfg.ServerConfig.Port)
	}
	if !cfg.AdaptiveConfig.Enabled || cfg.AdaptiveConfig.MinSampleSize != 50 {
		t.Errorf("adaptive config not honored: %+v", cfg.AdaptiveConfig)
	}
	if cfg.TuningConfig.Metric != "winRate" {
		t.Errorf("metric = %q", cfg.TuningConfig.Metric)
	}
	// Unset fields still defaulted.
	if cfg.AdaptiveConfig.LearningRate != 0.05 {
		t.Errorf("learning rate = %v, want default", cfg.AdaptiveConfig.LearningRate)
	}
}

func TestToAdaptiveConfig(t *testing.T) {
	ac := AdaptiveConfig{
		Enabled:          true,
		MinSampleSize:    40,
		LearningRate:     0.1,
		Decay:            0.8,
		UpdateIntervalMs: 120000,
		CategoryBounds:   map[string]Bounds{"core": {Min: 0.3, Max: 0.5}},
	}
	got := ac.ToAdaptiveConfig()
	if got.UpdateInterval != 2*time.Minute {
		t.Errorf("update interval = %v, want 2m", got.UpdateInterval)
	}
	if b := got.CategoryBounds["core"]; b.Min != 0.3 || b.Max != 0.5 {
		t.Errorf("core bounds = %+v", b)
	}
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"server": {"port": 7001}}`), 0o644)

	m := NewManager(path)
	if m.Get().ServerConfig.Port != 7001 {
		t.Fatalf("initial port = %d", m.Get().ServerConfig.Port)
	}

	os.WriteFile(path, []byte(`{"server": {"port": 7002}}`), 0o644)
	if err := m.Reload(); err != nil {
		t.Fatal(err)
	}
	if m.Get().ServerConfig.Port != 7002 {
		t.Errorf("port after reload = %d, want 7002", m.Get().ServerConfig.Port)
	}

	// Broken file keeps the previous config.
	os.WriteFile(path, []byte("{broken"), 0o644)
	if err := m.Reload(); err == nil {
		t.Error("expected reload error for broken file")
	}
	if m.Get().ServerConfig.Port != 7002 {
		t.Errorf("broken reload replaced config: port = %d", m.Get().ServerConfig.Port)
	}
}
