// Package market defines the historical bar type and the loader interface the
// core depends on. Bar loading itself is an external collaborator; the core
// never performs network I/O.
package market

import (
	"context"
	"time"
)

// Bar is one OHLCV candle.
type Bar struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Loader fetches historical bars for a symbol at one timeframe. Each
// timeframe is a distinct horizon: callers combining timeframes must request
// each one separately. Implementations must honor the context; the caller
// treats a failed or empty load as data-unavailable, never as fatal.
type Loader interface {
	GetHistoricalBars(ctx context.Context, symbol, timeframe string, lookbackDays int) ([]Bar, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, symbol, timeframe string, lookbackDays int) ([]Bar, error)

func (f LoaderFunc) GetHistoricalBars(ctx context.Context, symbol, timeframe string, lookbackDays int) ([]Bar, error) {
	return f(ctx, symbol, timeframe, lookbackDays)
}
