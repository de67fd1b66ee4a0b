// Package adaptive nudges category and detector weights from win-rate
// telemetry. Adjustments are bounded, smoothed and rate-limited so a bad
// telemetry stretch can drift weights, never whipsaw them.
package adaptive

import (
	"sync"
	"time"

	"signal-council/internal/logging"
	"signal-council/internal/normalize"
	"signal-council/internal/telemetry"
)

// Bounds limits how far one weight may drift.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Config controls the learner.
type Config struct {
	Enabled        bool              `json:"enabled"`
	MinSampleSize  int               `json:"min_sample_size"`
	LearningRate   float64           `json:"learning_rate"`
	Decay          float64           `json:"decay"`
	UpdateInterval time.Duration     `json:"update_interval"`
	CategoryBounds map[string]Bounds `json:"category_bounds"`
	DetectorBounds map[string]Bounds `json:"detector_bounds"`
}

// DefaultConfig returns the learner defaults used when the config file is
// missing or malformed.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		MinSampleSize:  30,
		LearningRate:   0.05,
		Decay:          0.90,
		UpdateInterval: 5 * time.Minute,
		CategoryBounds: map[string]Bounds{
			"core":      {Min: 0.20, Max: 0.60},
			"smc":       {Min: 0.10, Max: 0.40},
			"patterns":  {Min: 0.05, Max: 0.35},
			"sentiment": {Min: 0.02, Max: 0.25},
			"ml":        {Min: 0.01, Max: 0.20},
		},
		DetectorBounds: map[string]Bounds{},
	}
}

// DefaultCategoryWeights are the built-in category weights the learner starts
// from and that Reset restores.
func DefaultCategoryWeights() map[string]float64 {
	return map[string]float64{
		"core":      0.40,
		"smc":       0.25,
		"patterns":  0.20,
		"sentiment": 0.10,
		"ml":        0.05,
	}
}

// Learner holds the cached effective weights. Safe for concurrent use from
// many scoring requests: reads take copies under RLock, the recompute path is
// single-writer.
type Learner struct {
	mu        sync.RWMutex
	cfg       Config
	telemetry telemetry.Reader
	log       *logging.Logger

	weights     map[string]float64
	lastAttempt time.Time
	lastUpdated time.Time
}

// New creates a learner reading from the given telemetry source.
func New(cfg Config, reader telemetry.Reader) *Learner {
	return &Learner{
		cfg:       cfg,
		telemetry: reader,
		log:       logging.WithComponent("adaptive"),
	}
}

// GetWeights returns the effective category weights. Disabled adaptation
// returns the static weights untouched; otherwise the cached weights are
// recomputed at most once per update interval and a copy is returned.
func (l *Learner) GetWeights(static map[string]float64) map[string]float64 {
	if !l.cfg.Enabled {
		return copyWeights(static)
	}

	l.mu.RLock()
	due := l.weights == nil || time.Since(l.lastAttempt) >= l.cfg.UpdateInterval
	l.mu.RUnlock()

	if due {
		l.adjustWeights(static)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.weights == nil {
		return copyWeights(static)
	}
	return copyWeights(l.weights)
}

// LastUpdated reports when the weights last actually changed. Zero until the
// first successful adjustment.
func (l *Learner) LastUpdated() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastUpdated
}

// adjustWeights recomputes the cached weights from telemetry. Below the
// minimum sample size nothing changes, including lastUpdated.
func (l *Learner) adjustWeights(static map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Another request may have recomputed while we waited for the lock.
	if l.weights != nil && time.Since(l.lastAttempt) < l.cfg.UpdateInterval {
		return
	}

	if l.weights == nil {
		l.weights = copyWeights(static)
		if len(l.weights) == 0 {
			l.weights = DefaultCategoryWeights()
		}
	}

	summary, err := l.telemetry.GetSummary()
	l.lastAttempt = time.Now()
	if err != nil {
		l.log.WithError(err).Warn("telemetry unavailable, keeping current weights")
		return
	}
	if summary.Global.TotalSignals < l.cfg.MinSampleSize {
		return
	}

	next := make(map[string]float64, len(l.weights))
	for category, current := range l.weights {
		stats, ok := summary.Categories[category]
		if !ok || stats.TotalSignals < l.cfg.MinSampleSize {
			next[category] = current
			continue
		}
		delta := (stats.WinRate - summary.Global.WinRate) * l.cfg.LearningRate
		bounds, ok := l.cfg.CategoryBounds[category]
		if !ok {
			bounds = Bounds{Min: 0.01, Max: 0.60}
		}
		candidate := normalize.Clamp(current+delta, bounds.Min, bounds.Max)
		next[category] = current*l.cfg.Decay + candidate*(1-l.cfg.Decay)
	}

	l.weights = normalize.RenormalizeWeights(next)
	l.lastUpdated = time.Now()

	l.log.Debug("category weights adjusted", "global_win_rate", summary.Global.WinRate)
}

// AdjustDetectorScores scales raw detector scores by their relative win rate:
// multiplier 1 + (detectorWinRate - globalWinRate) x learningRate x 2, result
// clamped to [0,1]. Configured bounds only mark a detector as eligible for
// scaling; they never clip the score itself. Detectors without bounds or
// below the minimum sample size pass through unchanged.
func (l *Learner) AdjustDetectorScores(scores map[string]float64) map[string]float64 {
	out := copyWeights(scores)
	if !l.cfg.Enabled {
		return out
	}
	summary, err := l.telemetry.GetSummary()
	if err != nil || summary.Global.TotalSignals < l.cfg.MinSampleSize {
		return out
	}
	for detector, raw := range scores {
		if _, hasBounds := l.cfg.DetectorBounds[detector]; !hasBounds {
			continue
		}
		stats, ok := summary.Detectors[detector]
		if !ok || stats.TotalSignals < l.cfg.MinSampleSize {
			continue
		}
		multiplier := 1 + (stats.WinRate-summary.Global.WinRate)*l.cfg.LearningRate*2
		out[detector] = normalize.Clamp(raw*multiplier, 0, 1)
	}
	return out
}

// Reset restores the built-in category defaults and clears the update clock.
func (l *Learner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights = DefaultCategoryWeights()
	l.lastAttempt = time.Time{}
	l.lastUpdated = time.Time{}
	l.log.Info("adaptive weights reset to defaults")
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
