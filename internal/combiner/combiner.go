// Package combiner merges normalized detector outputs into per-timeframe
// results and those results into one strategic verdict.
package combiner

import (
	"signal-council/internal/detector"
	"signal-council/internal/registry"
)

// Direction of a combined score.
type Direction string

const (
	DirectionBullish Direction = "BULLISH"
	DirectionBearish Direction = "BEARISH"
	DirectionNeutral Direction = "NEUTRAL"
)

// Priority classifies a timeframe's horizon.
type Priority string

const (
	PriorityTactical    Priority = "TACTICAL"
	PriorityOperational Priority = "OPERATIONAL"
	PriorityStrategic   Priority = "STRATEGIC"
)

// DetectorComponent records one detector's part in a timeframe result.
// Influence is the detector's own signed score; Contribution is its weighted
// share of the final score (contributions sum to FinalScore).
type DetectorComponent struct {
	Detector     string  `json:"detector"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Influence    float64 `json:"influence"`
	Contribution float64 `json:"contribution"`
	Credibility  float64 `json:"credibility"`
}

// TimeframeResult is the combined outcome for one timeframe. It is built
// fresh per combination call and never mutated afterwards; Weight is the
// timeframe weight the registry held at combination time.
type TimeframeResult struct {
	Timeframe  string              `json:"timeframe"`
	Direction  Direction           `json:"direction"`
	FinalScore float64             `json:"final_score"`
	Components []DetectorComponent `json:"components"`
	Weight     float64             `json:"weight"`
	Priority   Priority            `json:"priority"`
}

// timeframePriorities is the static horizon lookup. Unknown timeframes are
// treated as OPERATIONAL.
var timeframePriorities = map[string]Priority{
	"1m":  PriorityTactical,
	"5m":  PriorityTactical,
	"15m": PriorityTactical,
	"30m": PriorityOperational,
	"1h":  PriorityOperational,
	"4h":  PriorityStrategic,
	"1d":  PriorityStrategic,
	"1w":  PriorityStrategic,
}

// PriorityFor returns the horizon for a timeframe name.
func PriorityFor(timeframe string) Priority {
	if p, ok := timeframePriorities[timeframe]; ok {
		return p
	}
	return PriorityOperational
}

// DirectionFor classifies a signed score against the neutral territory.
func DirectionFor(score, neutralTerritory float64) Direction {
	if score > -neutralTerritory && score < neutralTerritory {
		return DirectionNeutral
	}
	if score > 0 {
		return DirectionBullish
	}
	return DirectionBearish
}

// CombineTimeframe merges detector outputs for one timeframe into a single
// weighted score. Detectors with zero or negative weight are ignored; empty
// input yields score 0 and direction NEUTRAL.
func CombineTimeframe(timeframe string, outputs []detector.Output, detectorWeights map[string]float64, tfWeight float64, limits registry.Limits) TimeframeResult {
	weightedSum := 0.0
	totalWeight := 0.0

	type weighted struct {
		out    detector.Output
		weight float64
	}
	var contributing []weighted

	for _, out := range outputs {
		w := detectorWeights[out.DetectorID]
		if w <= 0 {
			continue
		}
		weightedSum += out.Score * w
		totalWeight += w
		contributing = append(contributing, weighted{out: out, weight: w})
	}

	finalScore := 0.0
	if totalWeight > 0 {
		finalScore = weightedSum / totalWeight
	}

	components := make([]DetectorComponent, 0, len(contributing))
	for _, c := range contributing {
		contribution := 0.0
		if totalWeight > 0 {
			contribution = c.out.Score * c.weight / totalWeight
		}
		components = append(components, DetectorComponent{
			Detector:     c.out.DetectorID,
			Score:        c.out.Score,
			Weight:       c.weight,
			Influence:    c.out.Score,
			Contribution: contribution,
			Credibility:  abs(contribution),
		})
	}

	return TimeframeResult{
		Timeframe:  timeframe,
		Direction:  DirectionFor(finalScore, limits.NeutralTerritory),
		FinalScore: finalScore,
		Components: components,
		Weight:     tfWeight,
		Priority:   PriorityFor(timeframe),
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
