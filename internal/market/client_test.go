package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetHistoricalBarsParsesKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s", got)
		}
		if got := r.URL.Query().Get("interval"); got != "1h" {
			t.Errorf("interval = %s", got)
		}
		w.Write([]byte(`[
			[1735689600000, "100.0", "102.0", "99.0", "101.0", "5000", 1735693200000, "0", 0, "0", "0", "0"],
			[1735693200000, "101.0", "103.5", "100.5", "103.0", "6000", 1735696800000, "0", 0, "0", "0", "0"]
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	bars, err := c.GetHistoricalBars(context.Background(), "BTCUSDT", "1h", 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d", len(bars))
	}
	if bars[0].Open != 100.0 || bars[0].Close != 101.0 || bars[0].Volume != 5000 {
		t.Errorf("first bar = %+v", bars[0])
	}
	if bars[1].High != 103.5 {
		t.Errorf("second bar high = %v", bars[1].High)
	}
	if !bars[1].OpenTime.After(bars[0].OpenTime) {
		t.Error("bar times not increasing")
	}
}

func TestGetHistoricalBarsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.GetHistoricalBars(context.Background(), "NOPE", "1h", 7); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestGetHistoricalBarsRequestsEachTimeframe(t *testing.T) {
	var intervals []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		intervals = append(intervals, r.URL.Query().Get("interval"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for _, tf := range []string{"15m", "1h", "4h"} {
		if _, err := c.GetHistoricalBars(context.Background(), "BTCUSDT", tf, 7); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"15m", "1h", "4h"}
	if len(intervals) != len(want) {
		t.Fatalf("requests = %v", intervals)
	}
	for i, tf := range want {
		if intervals[i] != tf {
			t.Errorf("request %d interval = %q, want %q", i, intervals[i], tf)
		}
	}
}

func TestBarsForDaysRespectsExchangeCap(t *testing.T) {
	if got := barsForDays("1h", 7); got != 168 {
		t.Errorf("1h/7d = %d, want 168", got)
	}
	if got := barsForDays("1m", 30); got != maxKlineLimit {
		t.Errorf("1m/30d = %d, want cap %d", got, maxKlineLimit)
	}
	if got := barsForDays("1d", 0); got != 1 {
		t.Errorf("1d/0d = %d, want 1", got)
	}
}
