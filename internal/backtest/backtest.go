// Package backtest replays a scoring strategy over historical bars in time
// order and reports risk-adjusted performance. The tuner uses it to compare
// candidate weight configurations against a baseline.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"signal-council/internal/logging"
	"signal-council/internal/market"
)

// MinBars is the minimum history needed for one walk-forward run. Shorter
// series produce statistically meaningless metrics and are rejected.
const MinBars = 100

// warmupBars are skipped at the start so indicator lookbacks have history.
const warmupBars = 50

// Entry/exit thresholds on the strategy's signed score.
const (
	entryScore = 0.3
	exitScore  = -0.1
)

// ErrInsufficientData is returned when a symbol has fewer than MinBars bars.
var ErrInsufficientData = errors.New("insufficient historical data")

// Options configures one runner.
type Options struct {
	InitialBalance float64
	Commission     float64 // per-side fee fraction, e.g. 0.001 = 0.1%
	Slippage       float64 // per-side fill slippage fraction
}

// DefaultOptions matches live trading costs.
func DefaultOptions() Options {
	return Options{
		InitialBalance: 10000,
		Commission:     0.001,
		Slippage:       0.0005,
	}
}

// ScoreFunc evaluates the strategy at bar index i. Only bars[:i+1] may be
// inspected; looking ahead invalidates the walk-forward property.
type ScoreFunc func(bars []market.Bar, i int) float64

// Trade is one completed round trip.
type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	ProfitLoss float64   `json:"profit_loss"`
	PLPercent  float64   `json:"pl_percent"`
	ExitReason string    `json:"exit_reason"` // "signal" or "series_end"
}

// Metrics summarises one walk-forward run. Fractions, not percentages.
type Metrics struct {
	SharpeRatio  float64 `json:"sharpe_ratio"`
	WinRate      float64 `json:"win_rate"`
	TotalReturn  float64 `json:"total_return"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	TotalTrades  int     `json:"total_trades"`
	FinalBalance float64 `json:"final_balance"`
	Trades       []Trade `json:"-"`
}

// Runner executes walk-forward backtests.
type Runner struct {
	opts Options
	log  *logging.Logger
}

// NewRunner creates a runner; zero-valued options fall back to defaults.
func NewRunner(opts Options) *Runner {
	def := DefaultOptions()
	if opts.InitialBalance <= 0 {
		opts.InitialBalance = def.InitialBalance
	}
	if opts.Commission == 0 {
		opts.Commission = def.Commission
	}
	if opts.Slippage == 0 {
		opts.Slippage = def.Slippage
	}
	return &Runner{opts: opts, log: logging.WithComponent("backtest")}
}

// RunWalkForward replays the strategy over the bars in time order. Long-only:
// a score at or above the entry threshold opens a position sized at 10% of
// current equity, a score at or below the exit threshold closes it. Fees and
// slippage are charged on both sides of every trade.
func (r *Runner) RunWalkForward(bars []market.Bar, symbol, timeframe string, score ScoreFunc) (*Metrics, error) {
	if len(bars) < MinBars {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d", ErrInsufficientData, symbol, len(bars), MinBars)
	}

	equity := r.opts.InitialBalance
	var trades []Trade
	var equityCurve []float64
	var open *Trade

	for i := warmupBars; i < len(bars); i++ {
		bar := bars[i]
		s := score(bars, i)

		if open != nil && s <= exitScore {
			equity = r.closeTrade(open, bar, equity, "signal")
			trades = append(trades, *open)
			equityCurve = append(equityCurve, equity)
			open = nil
		}

		if open == nil && s >= entryScore {
			entryPrice := bar.Close * (1 + r.opts.Slippage)
			positionSize := equity * 0.10
			open = &Trade{
				EntryTime:  bar.CloseTime,
				EntryPrice: entryPrice,
				Quantity:   positionSize / entryPrice,
			}
		}
	}

	if open != nil {
		equity = r.closeTrade(open, bars[len(bars)-1], equity, "series_end")
		trades = append(trades, *open)
		equityCurve = append(equityCurve, equity)
	}

	m := r.metrics(trades, equityCurve, equity)
	r.log.Debug("walk-forward complete",
		"symbol", symbol, "timeframe", timeframe,
		"trades", m.TotalTrades, "total_return", m.TotalReturn)
	return m, nil
}

func (r *Runner) closeTrade(t *Trade, bar market.Bar, equity float64, reason string) float64 {
	exitPrice := bar.Close * (1 - r.opts.Slippage)
	t.ExitTime = bar.CloseTime
	t.ExitPrice = exitPrice
	t.ExitReason = reason

	gross := (exitPrice - t.EntryPrice) * t.Quantity
	fees := (t.EntryPrice + exitPrice) * t.Quantity * r.opts.Commission
	t.ProfitLoss = gross - fees
	t.PLPercent = (exitPrice - t.EntryPrice) / t.EntryPrice

	return equity + t.ProfitLoss
}

func (r *Runner) metrics(trades []Trade, equityCurve []float64, finalEquity float64) *Metrics {
	m := &Metrics{
		TotalTrades:  len(trades),
		FinalBalance: finalEquity,
		TotalReturn:  (finalEquity - r.opts.InitialBalance) / r.opts.InitialBalance,
		Trades:       trades,
	}

	wins := 0
	for _, t := range trades {
		if t.ProfitLoss > 0 {
			wins++
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(wins) / float64(m.TotalTrades)
	}

	m.MaxDrawdown = maxDrawdown(r.opts.InitialBalance, equityCurve)
	m.SharpeRatio = sharpe(trades)
	return m
}

// maxDrawdown is the largest peak-to-trough equity fall as a fraction of the
// peak.
func maxDrawdown(initial float64, curve []float64) float64 {
	peak := initial
	worst := 0.0
	for _, eq := range curve {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe is the per-trade return mean over its standard deviation, risk-free
// rate zero.
func sharpe(trades []Trade) float64 {
	if len(trades) == 0 {
		return 0
	}
	mean := 0.0
	for _, t := range trades {
		mean += t.PLPercent
	}
	mean /= float64(len(trades))

	variance := 0.0
	for _, t := range trades {
		d := t.PLPercent - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(trades)))
	if std == 0 {
		return 0
	}
	return mean / std
}
