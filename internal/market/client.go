package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the public spot market-data endpoint.
	DefaultBaseURL = "https://api.binance.com"

	// maxKlineLimit is the exchange cap on a single klines request.
	maxKlineLimit = 1000
)

// Client fetches candlestick history over the exchange REST API and serves it
// as Bars. Only public market-data endpoints are used; no API key is needed.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a market-data client. baseURL falls back to the public
// endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetHistoricalBars implements Loader. The timeframe maps directly to the
// exchange kline interval; lookbackDays is converted to a bar count at that
// interval and capped at the exchange limit.
func (c *Client) GetHistoricalBars(ctx context.Context, symbol, timeframe string, lookbackDays int) ([]Bar, error) {
	if timeframe == "" {
		timeframe = "1h"
	}
	limit := barsForDays(timeframe, lookbackDays)

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/api/v3/klines?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error building klines request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	bars := make([]Bar, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 7 {
			continue
		}
		bars = append(bars, Bar{
			OpenTime:  time.UnixMilli(asInt64(raw[0])),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
			CloseTime: time.UnixMilli(asInt64(raw[6])),
		})
	}
	return bars, nil
}

// barsForDays converts a day count into a kline limit for the interval,
// capped at the exchange maximum.
func barsForDays(interval string, days int) int {
	if days <= 0 {
		days = 1
	}
	perDay := 24
	switch interval {
	case "1m":
		perDay = 1440
	case "5m":
		perDay = 288
	case "15m":
		perDay = 96
	case "1h":
		perDay = 24
	case "4h":
		perDay = 6
	case "1d":
		perDay = 1
	}
	limit := days * perDay
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	return limit
}

func asInt64(v interface{}) int64 {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int64(f)
}

func parseFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	case float64:
		return t
	}
	return 0
}
