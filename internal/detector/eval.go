package detector

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"signal-council/internal/logging"
	"signal-council/internal/market"
	"signal-council/internal/normalize"
)

// DefaultEvalTimeout bounds a single detector call.
const DefaultEvalTimeout = 5 * time.Second

// EvaluateAll fans out to every registered detector in parallel and joins
// before returning. A detector that errors, panics, times out or returns a
// malformed score is replaced with a neutral placeholder; a scoring cycle is
// never aborted by one bad detector.
func EvaluateAll(ctx context.Context, table *Table, symbol, timeframe string, bars []market.Bar, timeout time.Duration) []Output {
	if timeout <= 0 {
		timeout = DefaultEvalTimeout
	}

	detectors := table.All()
	outputs := make([]Output, len(detectors))
	log := logging.WithComponent("detector")

	var wg sync.WaitGroup
	for i, d := range detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			outputs[i] = evaluateOne(ctx, d, symbol, timeframe, bars, timeout, log)
		}(i, d)
	}
	wg.Wait()

	return outputs
}

func evaluateOne(ctx context.Context, d Detector, symbol, timeframe string, bars []market.Bar, timeout time.Duration, log *logging.Logger) Output {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out Output
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := d.Evaluate(callCtx, symbol, timeframe, bars)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			log.Warn("detector failed, substituting neutral placeholder",
				"detector", d.Name(), "symbol", symbol, "timeframe", timeframe, "error", res.err)
			return NeutralPlaceholder(d.Name(), timeframe, res.err.Error())
		}
		return sanitize(res.out, d.Name(), timeframe, log)
	case <-callCtx.Done():
		log.Warn("detector timed out, substituting neutral placeholder",
			"detector", d.Name(), "symbol", symbol, "timeframe", timeframe)
		return NeutralPlaceholder(d.Name(), timeframe, "timeout: "+callCtx.Err().Error())
	}
}

// sanitize clamps out-of-range values and rejects NaN/Inf outputs.
func sanitize(out Output, name, timeframe string, log *logging.Logger) Output {
	if math.IsNaN(out.Score) || math.IsInf(out.Score, 0) ||
		math.IsNaN(out.Confidence) || math.IsInf(out.Confidence, 0) {
		log.Warn("detector returned malformed output", "detector", name, "timeframe", timeframe)
		return NeutralPlaceholder(name, timeframe, "malformed output")
	}

	out.Score = normalize.Clamp(out.Score, -1, 1)
	out.Confidence = normalize.Clamp(out.Confidence, 0, 1)
	if out.DetectorID == "" {
		out.DetectorID = name
	}
	if out.Timeframe == "" {
		out.Timeframe = timeframe
	}
	if out.Timestamp == 0 {
		out.Timestamp = time.Now().UnixMilli()
	}
	return out
}
