// Package engine orchestrates one scoring cycle: detector fan-out, timeframe
// combination, verdict delivery, caching and event publication. It also runs
// the periodic broadcast loop over the configured symbol set.
package engine

import (
	"context"
	"sync"
	"time"

	"signal-council/internal/aggregator"
	"signal-council/internal/backtest"
	"signal-council/internal/cache"
	"signal-council/internal/combiner"
	"signal-council/internal/detector"
	"signal-council/internal/events"
	"signal-council/internal/logging"
	"signal-council/internal/market"
	"signal-council/internal/registry"
)

// Config controls the engine loop.
type Config struct {
	Symbols           []string
	Timeframes        []string
	BroadcastInterval time.Duration
	DetectorTimeout   time.Duration
	WorkerCount       int
	LookbackDays      int
}

// DefaultConfig returns sane engine defaults.
func DefaultConfig() Config {
	return Config{
		Symbols:           []string{"BTCUSDT", "ETHUSDT"},
		Timeframes:        []string{"5m", "15m", "1h", "4h", "1d"},
		BroadcastInterval: 60 * time.Second,
		DetectorTimeout:   detector.DefaultEvalTimeout,
		WorkerCount:       4,
		LookbackDays:      30,
	}
}

// Engine wires the scoring pipeline together.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	table    *detector.Table
	loader   market.Loader
	agg      *aggregator.Aggregator
	cache    *cache.VerdictCache // nil = no caching
	bus      *events.EventBus
	log      *logging.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an engine. cache may be nil; everything else is required.
func New(cfg Config, reg *registry.Registry, table *detector.Table, loader market.Loader,
	agg *aggregator.Aggregator, vc *cache.VerdictCache, bus *events.EventBus) *Engine {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultConfig().LookbackDays
	}
	return &Engine{
		cfg:      cfg,
		registry: reg,
		table:    table,
		loader:   loader,
		agg:      agg,
		cache:    vc,
		bus:      bus,
		log:      logging.WithComponent("engine"),
	}
}

// EvaluateSymbol produces one strategic verdict for a symbol across the
// configured timeframes. Cached verdicts are served as-is inside their TTL.
func (e *Engine) EvaluateSymbol(ctx context.Context, symbol string) (*combiner.StrategicVerdict, error) {
	if e.cache != nil {
		if cached, ok := e.cache.GetVerdict(ctx, symbol); ok {
			return cached, nil
		}
	}

	detectorWeights := e.registry.DetectorWeights()
	timeframeWeights := e.registry.TimeframeWeights()
	limits := e.registry.Limits()

	var results []combiner.TimeframeResult
	for _, timeframe := range e.cfg.Timeframes {
		bars, err := e.loader.GetHistoricalBars(ctx, symbol, timeframe, e.cfg.LookbackDays)
		if err != nil {
			e.log.WithError(err).Warn("bar load failed, skipping timeframe",
				"symbol", symbol, "timeframe", timeframe)
			continue
		}

		outputs := detector.EvaluateAll(ctx, e.table, symbol, timeframe, bars, e.cfg.DetectorTimeout)
		e.reportFailures(symbol, timeframe, outputs)

		results = append(results, combiner.CombineTimeframe(
			timeframe, outputs, detectorWeights, timeframeWeights[timeframe], limits))
	}

	verdict := combiner.DeliverVerdict(results, limits)
	verdict.Symbol = symbol

	if e.cache != nil {
		e.cache.SetVerdict(ctx, symbol, &verdict)
	}
	e.bus.PublishVerdict(symbol, string(verdict.Direction), verdict.QuantumScore, string(verdict.Action))

	return &verdict, nil
}

// CategoryDecision runs the parallel category-level decision path for one
// symbol and timeframe.
func (e *Engine) CategoryDecision(ctx context.Context, symbol, timeframe string) (aggregator.Decision, error) {
	bars, err := e.loader.GetHistoricalBars(ctx, symbol, timeframe, e.cfg.LookbackDays)
	if err != nil {
		return aggregator.Decision{}, err
	}

	outputs := detector.EvaluateAll(ctx, e.table, symbol, timeframe, bars, e.cfg.DetectorTimeout)
	e.reportFailures(symbol, timeframe, outputs)

	return e.agg.Aggregate(categoryScores(e.table, outputs)), nil
}

// categoryScores groups detector outputs into the five category raw scores.
// Signed scores are mapped to [0,1]; the core category's own call comes from
// the sign of its mean signed score.
func categoryScores(table *detector.Table, outputs []detector.Output) []aggregator.CategoryScore {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, out := range outputs {
		d, ok := table.Get(out.DetectorID)
		if !ok {
			continue
		}
		sums[d.Category()] += out.Score
		counts[d.Category()]++
	}

	categories := []string{
		aggregator.CategoryCore, aggregator.CategorySMC, aggregator.CategoryPatterns,
		aggregator.CategorySentiment, aggregator.CategoryML,
	}
	scores := make([]aggregator.CategoryScore, 0, len(categories))
	for _, category := range categories {
		mean := 0.0
		if counts[category] > 0 {
			mean = sums[category] / float64(counts[category])
		}
		call := aggregator.CallHold
		if category == aggregator.CategoryCore {
			switch {
			case mean > 0.05:
				call = aggregator.CallBuy
			case mean < -0.05:
				call = aggregator.CallSell
			}
		}
		scores = append(scores, aggregator.CategoryScore{
			Category: category,
			RawScore: (mean + 1) / 2,
			Call:     call,
		})
	}
	return scores
}

func (e *Engine) reportFailures(symbol, timeframe string, outputs []detector.Output) {
	for _, out := range outputs {
		if reason, failed := out.Meta["error"]; failed {
			e.bus.PublishDetectorFailure(out.DetectorID, symbol, timeframe, reason)
		}
	}
}

// TunerScoreBuilder returns the strategy factory the tuner backtests with: a
// category-weighted composite of the same detectors the live path runs,
// evaluated walk-forward over the candidate bars.
func (e *Engine) TunerScoreBuilder() func(weights map[string]float64) backtest.ScoreFunc {
	trend := detector.NewTrendDetector()
	momentum := detector.NewMomentumDetector()
	fvg := detector.NewFVGDetector()
	engulfing := detector.NewEngulfingDetector()

	return func(weights map[string]float64) backtest.ScoreFunc {
		return func(bars []market.Bar, i int) float64 {
			ctx := context.Background()
			window := bars[:i+1]

			core := 0.0
			if t, err := trend.Evaluate(ctx, "", "", window); err == nil {
				core += t.Score / 2
			}
			if m, err := momentum.Evaluate(ctx, "", "", window); err == nil {
				core += m.Score / 2
			}
			smc := 0.0
			if s, err := fvg.Evaluate(ctx, "", "", window); err == nil {
				smc = s.Score
			}
			patterns := 0.0
			if p, err := engulfing.Evaluate(ctx, "", "", window); err == nil {
				patterns = p.Score
			}

			// Sentiment and ML need live sources; offline they stay neutral.
			return weights["core"]*core + weights["smc"]*smc + weights["patterns"]*patterns
		}
	}
}

// Start launches the broadcast loop: one verdict per symbol per interval,
// fanned out over a bounded worker pool.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.mu.Unlock()

	e.bus.Publish(events.Event{Type: events.EventEngineStarted, Data: map[string]interface{}{
		"symbols": len(e.cfg.Symbols),
	}})
	e.log.Info("engine started",
		"symbols", len(e.cfg.Symbols),
		"interval", e.cfg.BroadcastInterval.String())

	e.wg.Add(1)
	go e.broadcastLoop()
}

func (e *Engine) broadcastLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.BroadcastInterval)
	defer ticker.Stop()

	// First pass immediately so listeners don't wait a full interval.
	e.evaluateAll()

	for {
		select {
		case <-ticker.C:
			e.evaluateAll()
		case <-e.stopChan:
			return
		}
	}
}

// evaluateAll scores every configured symbol using a bounded worker pool.
func (e *Engine) evaluateAll() {
	symbolChan := make(chan string, len(e.cfg.Symbols))
	var wg sync.WaitGroup

	for w := 0; w < e.cfg.WorkerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range symbolChan {
				ctx, cancel := context.WithTimeout(context.Background(), e.cfg.BroadcastInterval)
				if _, err := e.EvaluateSymbol(ctx, symbol); err != nil {
					e.log.WithError(err).Warn("symbol evaluation failed", "symbol", symbol)
				}
				cancel()
			}
		}()
	}

	// Buffered to len(symbols), so feeding never blocks.
	for _, symbol := range e.cfg.Symbols {
		symbolChan <- symbol
	}
	close(symbolChan)
	wg.Wait()
}

// Stop halts the broadcast loop and waits for in-flight evaluations.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	e.mu.Unlock()

	e.wg.Wait()
	e.bus.Publish(events.Event{Type: events.EventEngineStopped, Data: map[string]interface{}{}})
	e.log.Info("engine stopped")
}
