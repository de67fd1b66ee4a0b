package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"signal-council/internal/market"
	"signal-council/internal/normalize"
)

// Built-in reference detectors. Production deployments register external
// detectors alongside or instead of these; they exist so the engine scores
// end-to-end out of the box.

const (
	CategoryCore      = "core"
	CategorySMC       = "smc"
	CategoryPatterns  = "patterns"
	CategorySentiment = "sentiment"
	CategoryML        = "ml"
)

func output(name, timeframe string, score, confidence float64) Output {
	return Output{
		Score:      score,
		Confidence: confidence,
		DetectorID: name,
		Timeframe:  timeframe,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// TrendDetector scores market structure by comparing fast and slow moving
// averages and counting higher highs vs lower lows.
type TrendDetector struct {
	FastPeriod int
	SlowPeriod int
}

func NewTrendDetector() *TrendDetector {
	return &TrendDetector{FastPeriod: 20, SlowPeriod: 50}
}

func (d *TrendDetector) Name() string     { return "trend" }
func (d *TrendDetector) Category() string { return CategoryCore }

func (d *TrendDetector) Evaluate(_ context.Context, _, timeframe string, bars []market.Bar) (Output, error) {
	if len(bars) < d.SlowPeriod {
		return Output{}, fmt.Errorf("trend needs %d bars, have %d", d.SlowPeriod, len(bars))
	}

	fast := sma(bars, d.FastPeriod)
	slow := sma(bars, d.SlowPeriod)
	price := bars[len(bars)-1].Close

	// Distance between averages, as a fraction of price, drives the score.
	var score float64
	if price > 0 {
		score = normalize.Clamp((fast-slow)/price*20, -1, 1)
	}

	// Structure confirmation: ratio of up-closes over the fast window.
	up := 0
	for i := len(bars) - d.FastPeriod; i < len(bars); i++ {
		if bars[i].Close > bars[i].Open {
			up++
		}
	}
	upRatio := float64(up) / float64(d.FastPeriod)
	confidence := normalize.Clamp(math.Abs(upRatio-0.5)*2+math.Abs(score)/2, 0, 1)

	return output(d.Name(), timeframe, score, confidence), nil
}

// MomentumDetector is an RSI-based oscillator mapped onto the signed scale:
// oversold is bullish, overbought is bearish.
type MomentumDetector struct {
	Period int
}

func NewMomentumDetector() *MomentumDetector {
	return &MomentumDetector{Period: 14}
}

func (d *MomentumDetector) Name() string     { return "momentum" }
func (d *MomentumDetector) Category() string { return CategoryCore }

func (d *MomentumDetector) Evaluate(_ context.Context, _, timeframe string, bars []market.Bar) (Output, error) {
	if len(bars) < d.Period+1 {
		return Output{}, fmt.Errorf("momentum needs %d bars, have %d", d.Period+1, len(bars))
	}

	rsi := relativeStrength(bars, d.Period)

	// RSI 50 is neutral; 30/70 are the classic action zones. Invert so a low
	// RSI (oversold) reads bullish.
	score := normalize.Clamp((50-rsi)/50, -1, 1)
	confidence := normalize.Clamp(math.Abs(rsi-50)/50, 0, 1)

	return output(d.Name(), timeframe, score, confidence), nil
}

// VolumeDetector scores volume expansion in the direction of the current
// candle. Quiet tape scores near zero.
type VolumeDetector struct {
	AvgPeriod int
}

func NewVolumeDetector() *VolumeDetector {
	return &VolumeDetector{AvgPeriod: 20}
}

func (d *VolumeDetector) Name() string     { return "volume" }
func (d *VolumeDetector) Category() string { return CategoryCore }

func (d *VolumeDetector) Evaluate(_ context.Context, _, timeframe string, bars []market.Bar) (Output, error) {
	if len(bars) < d.AvgPeriod {
		return Output{}, fmt.Errorf("volume needs %d bars, have %d", d.AvgPeriod, len(bars))
	}

	last := bars[len(bars)-1]
	sum := 0.0
	for i := len(bars) - d.AvgPeriod; i < len(bars); i++ {
		sum += bars[i].Volume
	}
	avg := sum / float64(d.AvgPeriod)
	if avg == 0 {
		return output(d.Name(), timeframe, 0, 0), nil
	}

	ratio := last.Volume / avg
	bullish := last.Close >= last.Open
	magnitude := normalize.Clamp((ratio-1)/2, 0, 1)

	return output(d.Name(), timeframe, normalize.BooleanToSigned(bullish, magnitude),
		normalize.Clamp(ratio/3, 0, 1)), nil
}

// EngulfingDetector flags bullish/bearish engulfing candles, the simplest of
// the pattern family.
type EngulfingDetector struct{}

func NewEngulfingDetector() *EngulfingDetector { return &EngulfingDetector{} }

func (d *EngulfingDetector) Name() string     { return "pattern" }
func (d *EngulfingDetector) Category() string { return CategoryPatterns }

func (d *EngulfingDetector) Evaluate(_ context.Context, _, timeframe string, bars []market.Bar) (Output, error) {
	if len(bars) < 2 {
		return Output{}, fmt.Errorf("pattern needs 2 bars, have %d", len(bars))
	}

	prev := bars[len(bars)-2]
	curr := bars[len(bars)-1]

	prevBody := math.Abs(prev.Close - prev.Open)
	currBody := math.Abs(curr.Close - curr.Open)
	if prevBody == 0 || currBody < prevBody {
		return output(d.Name(), timeframe, 0, 0.2), nil
	}

	bullishEngulf := curr.Close > curr.Open && prev.Close < prev.Open &&
		curr.Close >= prev.Open && curr.Open <= prev.Close
	bearishEngulf := curr.Close < curr.Open && prev.Close > prev.Open &&
		curr.Close <= prev.Open && curr.Open >= prev.Close

	strength := normalize.Clamp(currBody/prevBody/2, 0, 1)
	switch {
	case bullishEngulf:
		return output(d.Name(), timeframe, strength, strength), nil
	case bearishEngulf:
		return output(d.Name(), timeframe, -strength, strength), nil
	default:
		return output(d.Name(), timeframe, 0, 0.2), nil
	}
}

// FVGDetector scores proximity to the most recent fair value gap: price
// trading into a bullish gap reads bullish, into a bearish gap bearish.
type FVGDetector struct {
	Lookback int
}

func NewFVGDetector() *FVGDetector {
	return &FVGDetector{Lookback: 50}
}

func (d *FVGDetector) Name() string     { return "smc" }
func (d *FVGDetector) Category() string { return CategorySMC }

func (d *FVGDetector) Evaluate(_ context.Context, _, timeframe string, bars []market.Bar) (Output, error) {
	if len(bars) < 3 {
		return Output{}, fmt.Errorf("smc needs 3 bars, have %d", len(bars))
	}

	price := bars[len(bars)-1].Close
	start := len(bars) - d.Lookback
	if start < 2 {
		start = 2
	}

	// Most recent unfilled gap wins.
	for i := len(bars) - 1; i >= start; i-- {
		a, c := bars[i-2], bars[i]
		if a.High < c.Low { // bullish gap between a.High and c.Low
			mid := (a.High + c.Low) / 2
			dist := math.Abs(price-mid) / price
			score := normalize.Clamp(1-dist*20, 0, 1)
			if score > 0 {
				return output(d.Name(), timeframe, score, score), nil
			}
		}
		if a.Low > c.High { // bearish gap
			mid := (a.Low + c.High) / 2
			dist := math.Abs(price-mid) / price
			score := normalize.Clamp(1-dist*20, 0, 1)
			if score > 0 {
				return output(d.Name(), timeframe, -score, score), nil
			}
		}
	}

	return output(d.Name(), timeframe, 0, 0.1), nil
}

// SentimentSource supplies an externally computed market sentiment reading on
// a 0-100 fear/greed scale. Implementations live outside the core.
type SentimentSource func(ctx context.Context, symbol string) (float64, error)

// SentimentDetector converts a fear/greed reading into a signed score.
type SentimentDetector struct {
	Source SentimentSource
}

func NewSentimentDetector(source SentimentSource) *SentimentDetector {
	return &SentimentDetector{Source: source}
}

func (d *SentimentDetector) Name() string     { return "sentiment" }
func (d *SentimentDetector) Category() string { return CategorySentiment }

func (d *SentimentDetector) Evaluate(ctx context.Context, symbol, timeframe string, _ []market.Bar) (Output, error) {
	if d.Source == nil {
		return Output{}, fmt.Errorf("no sentiment source configured")
	}
	index, err := d.Source(ctx, symbol)
	if err != nil {
		return Output{}, fmt.Errorf("sentiment source: %w", err)
	}

	score := normalize.ProbabilityToSigned(index/100, true)
	return output(d.Name(), timeframe, score, math.Abs(score)), nil
}

// ProbabilitySource supplies an externally computed bullish probability.
type ProbabilitySource func(ctx context.Context, symbol, timeframe string, bars []market.Bar) (prob, confidence float64, err error)

// MLDetector wraps an external model's bullish probability.
type MLDetector struct {
	Source ProbabilitySource
}

func NewMLDetector(source ProbabilitySource) *MLDetector {
	return &MLDetector{Source: source}
}

func (d *MLDetector) Name() string     { return "ml" }
func (d *MLDetector) Category() string { return CategoryML }

func (d *MLDetector) Evaluate(ctx context.Context, symbol, timeframe string, bars []market.Bar) (Output, error) {
	if d.Source == nil {
		return Output{}, fmt.Errorf("no model source configured")
	}
	prob, confidence, err := d.Source(ctx, symbol, timeframe, bars)
	if err != nil {
		return Output{}, fmt.Errorf("model source: %w", err)
	}

	return output(d.Name(), timeframe, normalize.ProbabilityToSigned(prob, true),
		normalize.Clamp(confidence, 0, 1)), nil
}

func sma(bars []market.Bar, period int) float64 {
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

func relativeStrength(bars []market.Bar, period int) float64 {
	gains, losses := 0.0, 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
