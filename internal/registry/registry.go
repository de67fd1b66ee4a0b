// Package registry owns the detector and timeframe weight configuration.
// Weights only change through validated amendments; every getter returns an
// independent copy so callers cannot mutate registry state from outside.
package registry

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Authority identifies who is enacting an amendment.
type Authority string

const (
	AuthorityPresidential Authority = "PRESIDENTIAL"
	AuthorityJudicial     Authority = "JUDICIAL"
	AuthorityLegislative  Authority = "LEGISLATIVE"
	AuthorityEmergency    Authority = "EMERGENCY"
)

// Constitutional defaults. Every individual weight must stay inside
// [MinWeight, MaxWeight] and timeframe weights must sum to 1.00 within
// TimeframeSumTolerance.
const (
	DefaultMinWeight             = 0.01
	DefaultMaxWeight             = 0.40
	DefaultNeutralTerritory      = 0.05
	DefaultStrongSignalOverride  = 0.65
	DefaultMajorityConsensus     = 0.60
	DefaultTimeframeSumTolerance = 0.01

	maxHistoryEntries = 100
)

// Limits holds the constitutional bounds every amendment is validated against.
type Limits struct {
	MinWeight             float64 `json:"min_weight"`
	MaxWeight             float64 `json:"max_weight"`
	NeutralTerritory      float64 `json:"neutral_territory"`
	StrongSignalOverride  float64 `json:"strong_signal_override"`
	MajorityConsensus     float64 `json:"majority_consensus"`
	TimeframeSumTolerance float64 `json:"timeframe_sum_tolerance"`
}

// DefaultLimits returns the built-in constitutional limits.
func DefaultLimits() Limits {
	return Limits{
		MinWeight:             DefaultMinWeight,
		MaxWeight:             DefaultMaxWeight,
		NeutralTerritory:      DefaultNeutralTerritory,
		StrongSignalOverride:  DefaultStrongSignalOverride,
		MajorityConsensus:     DefaultMajorityConsensus,
		TimeframeSumTolerance: DefaultTimeframeSumTolerance,
	}
}

// Amendment is a proposed partial change to the weight configuration.
// Unspecified weights are left untouched on commit.
type Amendment struct {
	DetectorWeights  map[string]float64 `json:"detector_weights,omitempty"`
	TimeframeWeights map[string]float64 `json:"timeframe_weights,omitempty"`
	Reason           string             `json:"reason,omitempty"`
	Authority        Authority          `json:"authority"`
}

// Result reports the outcome of an amendment attempt.
type Result struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
	Version int      `json:"version"`
}

// HistoryEntry records one committed amendment.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Amendment Amendment `json:"amendment"`
	Reason    string    `json:"reason,omitempty"`
}

// Metadata describes the registry's current revision.
type Metadata struct {
	Version        int       `json:"version"`
	LastAmendment  time.Time `json:"last_amendment"`
	AmendmentCount int       `json:"amendment_count"`
}

// ValidationErrors is the full list of constitutional violations found in a
// rejected amendment.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return "amendment rejected: " + strings.Join(v, "; ")
}

// DefaultDetectorWeights returns the built-in per-detector weights.
func DefaultDetectorWeights() map[string]float64 {
	return map[string]float64{
		"trend":     0.18,
		"momentum":  0.14,
		"pattern":   0.16,
		"volume":    0.12,
		"smc":       0.12,
		"sentiment": 0.10,
		"whale":     0.08,
		"news":      0.06,
		"ml":        0.04,
	}
}

// DefaultTimeframeWeights returns the built-in timeframe weights. They sum to
// exactly 1.00.
func DefaultTimeframeWeights() map[string]float64 {
	return map[string]float64{
		"5m":  0.10,
		"15m": 0.15,
		"1h":  0.25,
		"4h":  0.25,
		"1d":  0.25,
	}
}

// Registry is the process-wide weight configuration holder. A single RWMutex
// serializes amendments; reads hand out copies.
type Registry struct {
	mu               sync.RWMutex
	limits           Limits
	detectorWeights  map[string]float64
	timeframeWeights map[string]float64
	version          int
	lastAmendment    time.Time
	history          []HistoryEntry
}

// New creates a registry seeded with the default weights and limits.
func New() *Registry {
	return NewWithLimits(DefaultLimits())
}

// NewWithLimits creates a registry with custom constitutional limits.
func NewWithLimits(limits Limits) *Registry {
	return &Registry{
		limits:           limits,
		detectorWeights:  DefaultDetectorWeights(),
		timeframeWeights: DefaultTimeframeWeights(),
		version:          1,
	}
}

// DetectorWeights returns a copy of the current detector weights.
func (r *Registry) DetectorWeights() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyWeights(r.detectorWeights)
}

// TimeframeWeights returns a copy of the current timeframe weights.
func (r *Registry) TimeframeWeights() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyWeights(r.timeframeWeights)
}

// Limits returns the constitutional limits.
func (r *Registry) Limits() Limits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limits
}

// DetectorWeight returns the weight for one detector; zero if unknown.
func (r *Registry) DetectorWeight(name string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.detectorWeights[name]
}

// TimeframeWeight returns the weight for one timeframe; zero if unknown.
func (r *Registry) TimeframeWeight(tf string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timeframeWeights[tf]
}

// EnactAmendment validates and, if valid, atomically commits the amendment.
// A rejected amendment leaves the registry untouched and returns every
// violated constraint, not just the first.
func (r *Registry) EnactAmendment(a Amendment) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if errs := r.validate(a); len(errs) > 0 {
		return Result{Success: false, Errors: errs, Version: r.version}
	}

	for name, w := range a.DetectorWeights {
		r.detectorWeights[name] = w
	}
	for tf, w := range a.TimeframeWeights {
		r.timeframeWeights[tf] = w
	}

	r.version++
	r.lastAmendment = time.Now()
	r.history = append(r.history, HistoryEntry{
		Timestamp: r.lastAmendment,
		Amendment: cloneAmendment(a),
		Reason:    a.Reason,
	})
	if len(r.history) > maxHistoryEntries {
		r.history = r.history[len(r.history)-maxHistoryEntries:]
	}

	return Result{Success: true, Version: r.version}
}

// validate collects every constraint violation. Caller holds the lock.
func (r *Registry) validate(a Amendment) []string {
	var errs []string

	for _, name := range sortedKeys(a.DetectorWeights) {
		w := a.DetectorWeights[name]
		if w < r.limits.MinWeight || w > r.limits.MaxWeight {
			errs = append(errs, fmt.Sprintf(
				"detector weight %q = %.4f outside constitutional bounds [%.2f, %.2f]",
				name, w, r.limits.MinWeight, r.limits.MaxWeight))
		}
	}

	if len(a.TimeframeWeights) > 0 {
		// Timeframe amendments are validated against the merged result: the
		// post-commit weights must still sum to 1.00.
		merged := copyWeights(r.timeframeWeights)
		for tf, w := range a.TimeframeWeights {
			merged[tf] = w
			if w < r.limits.MinWeight || w > r.limits.MaxWeight {
				errs = append(errs, fmt.Sprintf(
					"timeframe weight %q = %.4f outside constitutional bounds [%.2f, %.2f]",
					tf, w, r.limits.MinWeight, r.limits.MaxWeight))
			}
		}
		sum := 0.0
		for _, w := range merged {
			sum += w
		}
		if math.Abs(sum-1.0) > r.limits.TimeframeSumTolerance {
			errs = append(errs, fmt.Sprintf(
				"timeframe weights sum to %.4f, must equal 1.00 within %.2f",
				sum, r.limits.TimeframeSumTolerance))
		}
	}

	return errs
}

// ResetToDefaults restores the built-in weights and records the reset as a
// judicial amendment.
func (r *Registry) ResetToDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detectorWeights = DefaultDetectorWeights()
	r.timeframeWeights = DefaultTimeframeWeights()
	r.version++
	r.lastAmendment = time.Now()
	r.history = append(r.history, HistoryEntry{
		Timestamp: r.lastAmendment,
		Amendment: Amendment{Authority: AuthorityJudicial, Reason: "reset to defaults"},
		Reason:    "reset to defaults",
	})
	if len(r.history) > maxHistoryEntries {
		r.history = r.history[len(r.history)-maxHistoryEntries:]
	}
}

// AmendmentHistory returns up to limit most recent entries, newest last.
// limit <= 0 returns the full retained history.
func (r *Registry) AmendmentHistory(limit int) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]HistoryEntry, n)
	for i := 0; i < n; i++ {
		e := r.history[len(r.history)-n+i]
		out[i] = HistoryEntry{Timestamp: e.Timestamp, Amendment: cloneAmendment(e.Amendment), Reason: e.Reason}
	}
	return out
}

// Metadata returns the registry's version information.
func (r *Registry) Metadata() Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Metadata{
		Version:        r.version,
		LastAmendment:  r.lastAmendment,
		AmendmentCount: len(r.history),
	}
}

func copyWeights(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAmendment(a Amendment) Amendment {
	return Amendment{
		DetectorWeights:  copyWeights(a.DetectorWeights),
		TimeframeWeights: copyWeights(a.TimeframeWeights),
		Reason:           a.Reason,
		Authority:        a.Authority,
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
