package adaptive

import (
	"errors"
	"math"
	"testing"
	"time"

	"signal-council/internal/telemetry"
)

func summaryReader(s telemetry.Summary) telemetry.Reader {
	return telemetry.ReaderFunc(func() (telemetry.Summary, error) { return s, nil })
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.UpdateInterval = 0 // recompute on every call in tests
	return cfg
}

func TestGetWeightsDisabledReturnsStatic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	l := New(cfg, summaryReader(telemetry.Summary{}))

	static := map[string]float64{"core": 0.5, "smc": 0.5}
	got := l.GetWeights(static)
	if got["core"] != 0.5 || got["smc"] != 0.5 {
		t.Errorf("disabled learner altered weights: %v", got)
	}
	got["core"] = 0.9
	if static["core"] != 0.5 {
		t.Error("returned map aliases the static map")
	}
}

func TestNoChangeBelowMinSampleSize(t *testing.T) {
	cfg := enabledConfig()
	cfg.MinSampleSize = 100
	l := New(cfg, summaryReader(telemetry.Summary{
		Global: telemetry.Stats{TotalSignals: 10, WinRate: 0.9},
		Categories: map[string]telemetry.Stats{
			"core": {TotalSignals: 10, WinRate: 0.9},
		},
	}))

	static := DefaultCategoryWeights()
	before := l.LastUpdated()
	got := l.GetWeights(static)
	after := l.LastUpdated()

	for cat, w := range static {
		if math.Abs(got[cat]-w) > 1e-9 {
			t.Errorf("weight %s changed below min sample size: %v -> %v", cat, w, got[cat])
		}
	}
	if !before.Equal(after) {
		t.Errorf("lastUpdated changed: %v -> %v", before, after)
	}
	if !after.IsZero() {
		t.Errorf("lastUpdated set without an adjustment: %v", after)
	}
}

func TestAdjustWeightsMovesTowardWinners(t *testing.T) {
	cfg := enabledConfig()
	cfg.MinSampleSize = 30
	l := New(cfg, summaryReader(telemetry.Summary{
		Global: telemetry.Stats{TotalSignals: 200, WinRate: 0.50},
		Categories: map[string]telemetry.Stats{
			"core": {TotalSignals: 100, WinRate: 0.70}, // outperforms
			"ml":   {TotalSignals: 100, WinRate: 0.30}, // underperforms
		},
	}))

	static := DefaultCategoryWeights()
	got := l.GetWeights(static)

	sum := 0.0
	for _, w := range got {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("adjusted weights sum to %v, want 1.0", sum)
	}
	// After renormalization the outperformer's share grows relative to the
	// underperformer's.
	if got["core"]/static["core"] <= got["ml"]/static["ml"] {
		t.Errorf("core did not gain relative to ml: core %v->%v, ml %v->%v",
			static["core"], got["core"], static["ml"], got["ml"])
	}
	if l.LastUpdated().IsZero() {
		t.Error("lastUpdated not recorded after adjustment")
	}
}

func TestCategoriesWithoutSamplesKeepTheirWeight(t *testing.T) {
	cfg := enabledConfig()
	cfg.Decay = 1.0 // smoothing off for this check: nothing should move at all
	l := New(cfg, summaryReader(telemetry.Summary{
		Global: telemetry.Stats{TotalSignals: 200, WinRate: 0.50},
		Categories: map[string]telemetry.Stats{
			"core": {TotalSignals: 5, WinRate: 0.90}, // below min sample size
		},
	}))

	static := DefaultCategoryWeights()
	got := l.GetWeights(static)
	for cat, w := range static {
		if math.Abs(got[cat]-w) > 1e-9 {
			t.Errorf("%s moved without enough samples: %v -> %v", cat, w, got[cat])
		}
	}
}

func TestUpdateIntervalGatesRecompute(t *testing.T) {
	calls := 0
	cfg := enabledConfig()
	cfg.UpdateInterval = time.Hour
	l := New(cfg, telemetry.ReaderFunc(func() (telemetry.Summary, error) {
		calls++
		return telemetry.Summary{Global: telemetry.Stats{TotalSignals: 200, WinRate: 0.5}}, nil
	}))

	static := DefaultCategoryWeights()
	l.GetWeights(static)
	l.GetWeights(static)
	l.GetWeights(static)
	if calls != 1 {
		t.Errorf("telemetry read %d times inside one interval, want 1", calls)
	}
}

func TestTelemetryErrorKeepsWeights(t *testing.T) {
	cfg := enabledConfig()
	l := New(cfg, telemetry.ReaderFunc(func() (telemetry.Summary, error) {
		return telemetry.Summary{}, errors.New("file missing")
	}))

	static := DefaultCategoryWeights()
	got := l.GetWeights(static)
	for cat, w := range static {
		if math.Abs(got[cat]-w) > 1e-9 {
			t.Errorf("%s changed on telemetry error: %v -> %v", cat, w, got[cat])
		}
	}
}

func TestAdjustDetectorScores(t *testing.T) {
	cfg := enabledConfig()
	cfg.DetectorBounds = map[string]Bounds{
		"trend": {Min: 0, Max: 1},
	}
	l := New(cfg, summaryReader(telemetry.Summary{
		Global: telemetry.Stats{TotalSignals: 200, WinRate: 0.50},
		Detectors: map[string]telemetry.Stats{
			"trend":    {TotalSignals: 100, WinRate: 0.80},
			"momentum": {TotalSignals: 100, WinRate: 0.80}, // no bounds configured
		},
	}))

	scores := map[string]float64{"trend": 0.5, "momentum": 0.5}
	got := l.AdjustDetectorScores(scores)

	// 0.5 * (1 + 0.30*0.05*2) = 0.515
	if math.Abs(got["trend"]-0.515) > 1e-9 {
		t.Errorf("trend score = %v, want 0.515", got["trend"])
	}
	if got["momentum"] != 0.5 {
		t.Errorf("unbounded detector scaled: %v", got["momentum"])
	}
}

func TestAdjustDetectorScoresBoundsGateOnly(t *testing.T) {
	cfg := enabledConfig()
	// Narrow bounds mark the detector eligible; they must not clip the score.
	cfg.DetectorBounds = map[string]Bounds{"trend": {Min: 0.4, Max: 0.5}}
	l := New(cfg, summaryReader(telemetry.Summary{
		Global:    telemetry.Stats{TotalSignals: 200, WinRate: 0.50},
		Detectors: map[string]telemetry.Stats{"trend": {TotalSignals: 100, WinRate: 0.80}},
	}))

	got := l.AdjustDetectorScores(map[string]float64{"trend": 0.9})
	// 0.9 * (1 + 0.30*0.05*2) = 0.927, well above bounds.Max.
	if math.Abs(got["trend"]-0.927) > 1e-9 {
		t.Errorf("trend score = %v, want 0.927", got["trend"])
	}
}

func TestAdjustDetectorScoresClampedToUnit(t *testing.T) {
	cfg := enabledConfig()
	cfg.LearningRate = 5 // absurd rate to force saturation
	cfg.DetectorBounds = map[string]Bounds{"trend": {Min: 0, Max: 1}}
	l := New(cfg, summaryReader(telemetry.Summary{
		Global:    telemetry.Stats{TotalSignals: 200, WinRate: 0.50},
		Detectors: map[string]telemetry.Stats{"trend": {TotalSignals: 100, WinRate: 1.0}},
	}))

	got := l.AdjustDetectorScores(map[string]float64{"trend": 0.9})
	if got["trend"] != 1.0 {
		t.Errorf("scaled score not clamped to 1: %v", got["trend"])
	}
}

func TestReset(t *testing.T) {
	cfg := enabledConfig()
	l := New(cfg, summaryReader(telemetry.Summary{
		Global: telemetry.Stats{TotalSignals: 200, WinRate: 0.50},
		Categories: map[string]telemetry.Stats{
			"core": {TotalSignals: 100, WinRate: 0.90},
		},
	}))

	skewed := map[string]float64{"core": 0.9, "smc": 0.1}
	l.GetWeights(skewed)
	l.Reset()

	got := l.GetWeights(DefaultCategoryWeights())
	// UpdateInterval is 0, so the call after Reset recomputes from defaults;
	// with decay 0.90 the weights stay close to them.
	if got["core"] < 0.35 || got["core"] > 0.45 {
		t.Errorf("core after reset = %v, want near 0.40", got["core"])
	}
	if !l.LastUpdated().After(time.Time{}) {
		t.Error("expected an adjustment after reset")
	}
}
