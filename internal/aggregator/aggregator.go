// Package aggregator is the simpler, category-level decision path: five
// category scores in [0,1] combined with effective weights into one final
// action. It runs alongside the timeframe combiner, not on top of it.
package aggregator

import (
	"math"
	"sync"
	"time"

	"signal-council/internal/adaptive"
	"signal-council/internal/logging"
	"signal-council/internal/normalize"
)

// Call is a category's or the aggregate's directional call.
type Call string

const (
	CallBuy  Call = "BUY"
	CallSell Call = "SELL"
	CallHold Call = "HOLD"
)

// The five categories the aggregator expects.
const (
	CategoryCore      = "core"
	CategorySMC       = "smc"
	CategoryPatterns  = "patterns"
	CategorySentiment = "sentiment"
	CategoryML        = "ml"
)

// CategoryScore is one category's contribution: a raw score in [0,1] and the
// category's own directional call.
type CategoryScore struct {
	Category string  `json:"category"`
	RawScore float64 `json:"raw_score"`
	Call     Call    `json:"call"`
}

// Config holds the action thresholds.
//
// SellThreshold defaults to the same 0.70 as BuyThreshold and the SELL rule
// compares score <= SellThreshold. That comparison direction is inherited
// live behavior; changing it silently would flip real decisions, so it stays
// until the system owner rules on it.
type Config struct {
	BuyThreshold  float64 `json:"buy_threshold"`
	SellThreshold float64 `json:"sell_threshold"`
	MinConfidence float64 `json:"min_confidence"`
}

// DefaultConfig returns the live thresholds.
func DefaultConfig() Config {
	return Config{
		BuyThreshold:  0.70,
		SellThreshold: 0.70,
		MinConfidence: 0.0,
	}
}

// Decision is the aggregate outcome. LegacyScore is the unclamped weighted
// sum kept for backward compatibility with older consumers;
// FinalStrategyScore is the same sum clamped to [0,1] and is the primary
// field.
type Decision struct {
	Action             Call               `json:"action"`
	FinalStrategyScore float64            `json:"final_strategy_score"`
	LegacyScore        float64            `json:"legacy_score"`
	Confidence         float64            `json:"confidence"`
	Weights            map[string]float64 `json:"weights"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// Aggregator combines category scores using effective weights from the
// adaptive learner, or static defaults when no learner is attached.
type Aggregator struct {
	cfg     Config
	learner *adaptive.Learner
	log     *logging.Logger

	mu     sync.RWMutex
	static map[string]float64 // nil = built-in defaults
}

// New creates an aggregator. learner may be nil.
func New(cfg Config, learner *adaptive.Learner) *Aggregator {
	if cfg.BuyThreshold == 0 {
		cfg.BuyThreshold = DefaultConfig().BuyThreshold
	}
	if cfg.SellThreshold == 0 {
		cfg.SellThreshold = DefaultConfig().SellThreshold
	}
	return &Aggregator{cfg: cfg, learner: learner, log: logging.WithComponent("aggregator")}
}

// Aggregate combines the category scores into one decision.
func (a *Aggregator) Aggregate(scores []CategoryScore) Decision {
	weights := a.effectiveWeights()

	sum := 0.0
	components := make([]float64, 0, len(scores))
	coreCall := CallHold
	for _, s := range scores {
		sum += weights[s.Category] * s.RawScore
		components = append(components, s.RawScore)
		if s.Category == CategoryCore {
			coreCall = s.Call
		}
	}

	final := normalize.Clamp(sum, 0, 1)
	decision := Decision{
		Action:             a.actionFor(coreCall, final),
		FinalStrategyScore: final,
		LegacyScore:        sum,
		Confidence:         confidence(components),
		Weights:            weights,
		GeneratedAt:        time.Now(),
	}

	if decision.Confidence < a.cfg.MinConfidence {
		decision.Action = CallHold
	}

	a.log.Debug("category aggregation",
		"score", decision.FinalStrategyScore,
		"action", string(decision.Action),
		"confidence", decision.Confidence)
	return decision
}

// actionFor gates the aggregate action on the core category's own call: the
// aggregate never out-votes core on direction, only confirms it.
func (a *Aggregator) actionFor(coreCall Call, score float64) Call {
	switch {
	case coreCall == CallBuy && score >= a.cfg.BuyThreshold:
		return CallBuy
	case coreCall == CallSell && score <= a.cfg.SellThreshold:
		return CallSell
	default:
		return CallHold
	}
}

// SetStaticWeights replaces the static category weights, typically after a
// tuning run promotes a better candidate. The learner still adapts on top.
func (a *Aggregator) SetStaticWeights(weights map[string]float64) {
	static := make(map[string]float64, len(weights))
	for k, v := range weights {
		static[k] = v
	}
	a.mu.Lock()
	a.static = static
	a.mu.Unlock()
	a.log.Info("static category weights replaced", "categories", len(static))
}

// effectiveWeights asks the learner when present, otherwise uses the static
// weights (built-in defaults until a tuned set is promoted).
func (a *Aggregator) effectiveWeights() map[string]float64 {
	a.mu.RLock()
	static := a.static
	a.mu.RUnlock()
	if static == nil {
		static = adaptive.DefaultCategoryWeights()
	}
	if a.learner == nil {
		return static
	}
	return a.learner.GetWeights(static)
}

// confidence maps category disagreement to [0,1]: identical scores give 1,
// widely split scores approach 0.
func confidence(components []float64) float64 {
	if len(components) == 0 {
		return 0
	}
	mean := 0.0
	for _, c := range components {
		mean += c
	}
	mean /= float64(len(components))

	variance := 0.0
	for _, c := range components {
		d := c - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(components)))

	return normalize.Clamp(1-2*std, 0, 1)
}
