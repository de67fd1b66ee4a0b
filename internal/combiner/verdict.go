package combiner

import (
	"fmt"
	"time"

	"signal-council/internal/registry"
)

// Action tiers for a verdict.
type Action string

const (
	ActionStrongBuy  Action = "STRONG_BUY"
	ActionBuy        Action = "BUY"
	ActionHold       Action = "HOLD"
	ActionSell       Action = "SELL"
	ActionStrongSell Action = "STRONG_SELL"
)

// Influence thresholds used when interpreting a single timeframe's
// components and when hunting for dissent.
const (
	strongInfluence  = 0.5
	notableInfluence = 0.3
	dissentScoreMin  = 0.3
)

// DissentEntry records one detector materially disagreeing with the overall
// verdict.
type DissentEntry struct {
	Detector  string  `json:"detector"`
	Timeframe string  `json:"timeframe"`
	Opinion   string  `json:"opinion"`
	Score     float64 `json:"score"`
}

// DistrictNote is a free-text observation generated while interpreting one
// timeframe.
type DistrictNote struct {
	Timeframe string `json:"timeframe"`
	Note      string `json:"note"`
}

// StrategicVerdict is the terminal output of one scoring cycle. It is
// stateless and safe to serialize and broadcast.
type StrategicVerdict struct {
	Symbol            string            `json:"symbol,omitempty"`
	Direction         Direction         `json:"direction"`
	QuantumScore      float64           `json:"quantum_score"`
	Conviction        float64           `json:"conviction"`
	Action            Action            `json:"action"`
	TimeframeResults  []TimeframeResult `json:"timeframe_results"`
	DissentingOpinions []DissentEntry   `json:"dissenting_opinions"`
	ConsensusStrength float64           `json:"consensus_strength"`
	Alignment         float64           `json:"alignment"`
	Notes             []DistrictNote    `json:"notes,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// DeliverVerdict merges per-timeframe results into one strategic verdict:
// interpretation notes per timeframe, weighted consensus across timeframes,
// then the action tier and dissent hunt.
func DeliverVerdict(results []TimeframeResult, limits registry.Limits) StrategicVerdict {
	verdict := StrategicVerdict{
		Direction:          DirectionNeutral,
		Action:             ActionHold,
		TimeframeResults:   results,
		DissentingOpinions: []DissentEntry{},
		GeneratedAt:        time.Now(),
	}
	if len(results) == 0 {
		return verdict
	}

	verdict.Notes = interpretDistricts(results)

	// Weighted consensus across timeframes.
	weightedSum := 0.0
	totalWeight := 0.0
	for _, r := range results {
		weightedSum += r.FinalScore * r.Weight
		totalWeight += r.Weight
	}
	score := 0.0
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}

	// Alignment from the variance of the raw per-timeframe scores. Scores are
	// bounded to [-1, 1], so 4 is the maximum possible variance.
	verdict.Alignment = 1.0
	if len(results) > 1 {
		mean := 0.0
		for _, r := range results {
			mean += r.FinalScore
		}
		mean /= float64(len(results))
		variance := 0.0
		for _, r := range results {
			d := r.FinalScore - mean
			variance += d * d
		}
		variance /= float64(len(results))
		verdict.Alignment = 1 - variance/4
		if verdict.Alignment < 0 {
			verdict.Alignment = 0
		}
	}

	verdict.QuantumScore = score
	verdict.Conviction = abs(score)
	verdict.ConsensusStrength = abs(score) * verdict.Alignment
	verdict.Direction = DirectionFor(score, limits.NeutralTerritory)
	verdict.Action = actionFor(score, verdict.Direction, limits)
	verdict.DissentingOpinions = findDissent(results, verdict.Direction)

	return verdict
}

// interpretDistricts generates the per-timeframe observations: the strongest
// single contributor, internal conflicts, and full-bench consensus.
func interpretDistricts(results []TimeframeResult) []DistrictNote {
	var notes []DistrictNote

	for _, r := range results {
		if len(r.Components) == 0 {
			continue
		}

		var strongest *DetectorComponent
		bullish, bearish := false, false
		allStrong := true
		for i := range r.Components {
			c := &r.Components[i]
			if strongest == nil || abs(c.Influence) > abs(strongest.Influence) {
				strongest = c
			}
			if c.Influence > notableInfluence {
				bullish = true
			}
			if c.Influence < -notableInfluence {
				bearish = true
			}
			if abs(c.Influence) <= strongInfluence {
				allStrong = false
			}
		}

		if strongest != nil && abs(strongest.Influence) > strongInfluence {
			notes = append(notes, DistrictNote{
				Timeframe: r.Timeframe,
				Note: fmt.Sprintf("%s dominates %s with influence %.2f",
					strongest.Detector, r.Timeframe, strongest.Influence),
			})
		}
		if bullish && bearish {
			notes = append(notes, DistrictNote{
				Timeframe: r.Timeframe,
				Note:      fmt.Sprintf("conflicting detector camps inside %s", r.Timeframe),
			})
		}
		if allStrong {
			notes = append(notes, DistrictNote{
				Timeframe: r.Timeframe,
				Note:      fmt.Sprintf("full detector consensus on %s", r.Timeframe),
			})
		}
	}

	return notes
}

// actionFor maps the consensus score onto an action tier.
func actionFor(score float64, direction Direction, limits registry.Limits) Action {
	if direction == DirectionNeutral {
		return ActionHold
	}
	magnitude := abs(score)
	switch {
	case magnitude > limits.StrongSignalOverride:
		if score > 0 {
			return ActionStrongBuy
		}
		return ActionStrongSell
	case magnitude > limits.MajorityConsensus:
		if score > 0 {
			return ActionBuy
		}
		return ActionSell
	default:
		return ActionHold
	}
}

// findDissent records every detector, inside a materially disagreeing
// timeframe, whose own call differs from the consensus direction.
func findDissent(results []TimeframeResult, consensus Direction) []DissentEntry {
	dissent := []DissentEntry{}
	if consensus == DirectionNeutral {
		return dissent
	}

	for _, r := range results {
		if r.Direction == consensus || r.Direction == DirectionNeutral {
			continue
		}
		if abs(r.FinalScore) <= dissentScoreMin {
			continue
		}
		for _, c := range r.Components {
			if abs(c.Influence) <= notableInfluence {
				continue
			}
			componentDir := DirectionBullish
			if c.Influence < 0 {
				componentDir = DirectionBearish
			}
			if componentDir == consensus {
				continue
			}
			dissent = append(dissent, DissentEntry{
				Detector:  c.Detector,
				Timeframe: r.Timeframe,
				Opinion: fmt.Sprintf("%s on %s holds a %s view against the %s consensus",
					c.Detector, r.Timeframe, componentDir, consensus),
				Score: c.Influence,
			})
		}
	}

	return dissent
}
