// Package tuner searches for better category weight configurations by
// backtesting perturbed candidates against historical bars. Runs are long
// (seconds to minutes) and always execute out-of-band from live scoring.
package tuner

import (
	"context"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"signal-council/internal/backtest"
	"signal-council/internal/market"
	"signal-council/internal/normalize"
)

// Mode selects the candidate generation strategy.
type Mode string

const (
	ModeGrid    Mode = "grid"
	ModeGenetic Mode = "genetic"
)

// Metric selects the fitness function.
type Metric string

const (
	MetricSharpe  Metric = "sharpe"
	MetricWinRate Metric = "winRate"
	MetricPnL     Metric = "pnl"
)

// Candidate weights are clamped to this range before renormalization.
const (
	candidateMinWeight = 0.05
	candidateMaxWeight = 0.60
)

// gridPerturbations are the per-category weight scalings tried in grid mode.
var gridPerturbations = []float64{-0.20, -0.10, 0.10, 0.20}

// BacktestDefaults configures the data every run evaluates against.
type BacktestDefaults struct {
	SymbolUniverse []string `json:"symbol_universe"`
	Timeframe      string   `json:"timeframe"`
	LookbackDays   int      `json:"lookback_days"`
	InitialBalance float64  `json:"initial_balance"`
}

// Promotion controls what happens to a winning candidate.
type Promotion struct {
	AutoPromote     bool   `json:"auto_promote"`
	TunedConfigPath string `json:"tuned_config_path"`
}

// Config controls the tuner.
type Config struct {
	Enabled          bool             `json:"enabled"`
	Mode             Mode             `json:"mode"`
	MaxCandidates    int              `json:"max_candidates"`
	MaxGenerations   int              `json:"max_generations"`
	PopulationSize   int              `json:"population_size"`
	MutationRate     float64          `json:"mutation_rate"`
	Metric           Metric           `json:"metric"`
	Schedule         string           `json:"schedule"` // cron expression, empty = manual only
	BacktestDefaults BacktestDefaults `json:"backtest_defaults"`
	Promotion        Promotion        `json:"promotion"`
}

// DefaultConfig returns the tuner defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		Mode:           ModeGrid,
		MaxCandidates:  40,
		MaxGenerations: 1,
		PopulationSize: 20,
		MutationRate:   0.30,
		Metric:         MetricSharpe,
		BacktestDefaults: BacktestDefaults{
			SymbolUniverse: []string{"BTCUSDT", "ETHUSDT"},
			Timeframe:      "1h",
			LookbackDays:   30,
			InitialBalance: 10000,
		},
	}
}

// Metrics are the nullable backtest results for one configuration. A nil
// field means the metric could not be computed, never that it is zero.
type Metrics struct {
	Sharpe      *float64 `json:"sharpe"`
	WinRate     *float64 `json:"win_rate"`
	PnL         *float64 `json:"pnl"`
	MaxDrawdown *float64 `json:"max_drawdown"`
	TotalTrades int      `json:"total_trades"`
}

// Candidate is one weight configuration and its evaluated performance.
type Candidate struct {
	Weights map[string]float64 `json:"weights"`
	Metrics Metrics            `json:"metrics"`
	Fitness float64            `json:"fitness"`
}

// Status of a run in the manager.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RunResult is the full record of one tuning run.
type RunResult struct {
	ID               string     `json:"id"`
	Mode             Mode       `json:"mode"`
	Metric           Metric     `json:"metric"`
	Status           Status     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
	Symbol           string     `json:"symbol,omitempty"`
	BaselineMetrics  *Metrics   `json:"baseline_metrics"`
	BestCandidate    *Candidate `json:"best_candidate"`
	CandidatesTested int        `json:"candidates_tested"`
	Error            string     `json:"error,omitempty"`
}

// ScoreBuilder turns a weight configuration into a backtestable strategy.
type ScoreBuilder func(weights map[string]float64) backtest.ScoreFunc

// Tuner runs one search synchronously. The Manager wraps it for background
// execution.
type Tuner struct {
	cfg    Config
	loader market.Loader
	runner *backtest.Runner
	build  ScoreBuilder
	rng    *rand.Rand
	log    zerolog.Logger
}

// New creates a tuner. Seed 0 uses the wall clock; tests pass a fixed seed.
func New(cfg Config, loader market.Loader, runner *backtest.Runner, build ScoreBuilder, seed int64) *Tuner {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Tuner{
		cfg:    cfg,
		loader: loader,
		runner: runner,
		build:  build,
		rng:    rand.New(rand.NewSource(seed)),
		log:    zerolog.New(os.Stderr).With().Timestamp().Str("component", "tuner").Logger(),
	}
}

// Run executes one full tuning search: load bars, baseline, generate and
// evaluate candidates, pick the winner. Errors are recorded in the result,
// never returned, so a background worker cannot crash on bad data.
func (t *Tuner) Run(ctx context.Context, id string, baseWeights map[string]float64) RunResult {
	result := RunResult{
		ID:        id,
		Mode:      t.cfg.Mode,
		Metric:    t.cfg.Metric,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	symbol, bars := t.loadFirstUsableSymbol(ctx)
	if bars == nil {
		result.Status = StatusFailed
		result.Error = "no symbol in the universe produced enough historical bars"
		result.FinishedAt = time.Now()
		t.log.Warn().Str("run_id", id).Msg(result.Error)
		return result
	}
	result.Symbol = symbol

	baseline, ok := t.evaluate(bars, symbol, baseWeights)
	if ok {
		result.BaselineMetrics = &baseline.Metrics
	}

	candidates := t.generateCandidates(baseWeights)
	var best *Candidate
	for i := range candidates {
		if ctx.Err() != nil {
			result.Status = StatusFailed
			result.Error = ctx.Err().Error()
			result.FinishedAt = time.Now()
			return result
		}
		evaluated, ok := t.evaluate(bars, symbol, candidates[i])
		if !ok {
			continue
		}
		result.CandidatesTested++
		// Strict comparison: ties keep the first candidate found.
		if best == nil || evaluated.Fitness > best.Fitness {
			c := evaluated
			best = &c
		}
	}
	result.BestCandidate = best
	result.Status = StatusCompleted
	result.FinishedAt = time.Now()

	t.log.Info().
		Str("run_id", id).
		Str("symbol", symbol).
		Int("candidates_tested", result.CandidatesTested).
		Msg("tuning run complete")
	return result
}

// loadFirstUsableSymbol walks the universe and returns the first symbol with
// enough bars for a walk-forward run.
func (t *Tuner) loadFirstUsableSymbol(ctx context.Context) (string, []market.Bar) {
	for _, symbol := range t.cfg.BacktestDefaults.SymbolUniverse {
		bars, err := t.loader.GetHistoricalBars(ctx, symbol, t.cfg.BacktestDefaults.Timeframe, t.cfg.BacktestDefaults.LookbackDays)
		if err != nil {
			t.log.Warn().Err(err).Str("symbol", symbol).Msg("bar load failed")
			continue
		}
		if len(bars) >= backtest.MinBars {
			return symbol, bars
		}
		t.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("not enough bars, skipping")
	}
	return "", nil
}

// evaluate backtests one configuration. A failed backtest yields ok=false and
// all-nil metrics; it never fabricates numbers.
func (t *Tuner) evaluate(bars []market.Bar, symbol string, weights map[string]float64) (Candidate, bool) {
	c := Candidate{Weights: weights}
	m, err := t.runner.RunWalkForward(bars, symbol, t.cfg.BacktestDefaults.Timeframe, t.build(weights))
	if err != nil {
		return c, false
	}
	sharpe, winRate, pnl, dd := m.SharpeRatio, m.WinRate, m.TotalReturn, m.MaxDrawdown
	c.Metrics = Metrics{
		Sharpe:      &sharpe,
		WinRate:     &winRate,
		PnL:         &pnl,
		MaxDrawdown: &dd,
		TotalTrades: m.TotalTrades,
	}
	c.Fitness = t.fitness(c.Metrics)
	return c, true
}

func (t *Tuner) fitness(m Metrics) float64 {
	switch t.cfg.Metric {
	case MetricWinRate:
		return *m.WinRate
	case MetricPnL:
		return *m.PnL
	default:
		return *m.Sharpe
	}
}

// generateCandidates produces the weight configurations to test.
func (t *Tuner) generateCandidates(base map[string]float64) []map[string]float64 {
	switch t.cfg.Mode {
	case ModeGenetic:
		return t.geneticCandidates(base)
	default:
		return t.gridCandidates(base)
	}
}

// gridCandidates scales each category by each perturbation, one change per
// candidate, clamped then renormalized. The total is capped at MaxCandidates.
func (t *Tuner) gridCandidates(base map[string]float64) []map[string]float64 {
	var out []map[string]float64
	for _, category := range sortedKeys(base) {
		for _, p := range gridPerturbations {
			if t.cfg.MaxCandidates > 0 && len(out) >= t.cfg.MaxCandidates {
				return out
			}
			candidate := copyWeights(base)
			candidate[category] = normalize.Clamp(base[category]*(1+p), candidateMinWeight, candidateMaxWeight)
			out = append(out, normalize.RenormalizeWeights(candidate))
		}
	}
	return out
}

// geneticCandidates seeds one mutated population from the base weights. Each
// category mutates independently with probability MutationRate and magnitude
// uniform in (-30%, +30%).
func (t *Tuner) geneticCandidates(base map[string]float64) []map[string]float64 {
	size := t.cfg.PopulationSize
	if size <= 0 {
		size = DefaultConfig().PopulationSize
	}
	out := make([]map[string]float64, 0, size)
	for i := 0; i < size; i++ {
		candidate := copyWeights(base)
		for _, category := range sortedKeys(base) {
			if t.rng.Float64() >= t.cfg.MutationRate {
				continue
			}
			magnitude := (t.rng.Float64()*2 - 1) * 0.30
			candidate[category] = normalize.Clamp(base[category]*(1+magnitude), candidateMinWeight, candidateMaxWeight)
		}
		out = append(out, normalize.RenormalizeWeights(candidate))
	}
	return out
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
