package registry

import (
	"math"
	"reflect"
	"testing"
)

func TestDefaultsWithinBounds(t *testing.T) {
	r := New()
	limits := r.Limits()

	for name, w := range r.DetectorWeights() {
		if w < limits.MinWeight || w > limits.MaxWeight {
			t.Errorf("default detector weight %q = %v outside [%v, %v]", name, w, limits.MinWeight, limits.MaxWeight)
		}
	}

	sum := 0.0
	for _, w := range r.TimeframeWeights() {
		sum += w
	}
	if math.Abs(sum-1.0) > limits.TimeframeSumTolerance {
		t.Errorf("default timeframe weights sum to %v, want 1.00", sum)
	}
}

func TestEnactAmendmentCommits(t *testing.T) {
	r := New()
	before := r.Metadata()

	res := r.EnactAmendment(Amendment{
		DetectorWeights: map[string]float64{"trend": 0.22, "ml": 0.05},
		Reason:          "boost trend after review",
		Authority:       AuthorityLegislative,
	})
	if !res.Success {
		t.Fatalf("expected success, got errors: %v", res.Errors)
	}
	if res.Version != before.Version+1 {
		t.Errorf("version = %d, want %d", res.Version, before.Version+1)
	}
	if got := r.DetectorWeight("trend"); got != 0.22 {
		t.Errorf("trend weight = %v, want 0.22", got)
	}
	// Unspecified weights untouched.
	if got := r.DetectorWeight("volume"); got != DefaultDetectorWeights()["volume"] {
		t.Errorf("volume weight changed by unrelated amendment: %v", got)
	}

	history := r.AmendmentHistory(10)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].Amendment.Authority != AuthorityLegislative {
		t.Errorf("history authority = %v", history[0].Amendment.Authority)
	}
}

func TestRejectedAmendmentLeavesStateUntouched(t *testing.T) {
	r := New()
	detBefore := r.DetectorWeights()
	tfBefore := r.TimeframeWeights()
	metaBefore := r.Metadata()

	res := r.EnactAmendment(Amendment{
		DetectorWeights: map[string]float64{"trend": 0.55}, // above MaxWeight
		TimeframeWeights: map[string]float64{
			"5m": 0.30, "15m": 0.30, "1h": 0.30, "4h": 0.30, "1d": 0.30, // sums to 1.5
		},
		Authority: AuthorityPresidential,
	})
	if res.Success {
		t.Fatal("expected rejection")
	}
	if len(res.Errors) < 2 {
		t.Errorf("expected full violation list, got %v", res.Errors)
	}

	if !reflect.DeepEqual(detBefore, r.DetectorWeights()) {
		t.Error("detector weights changed after rejected amendment")
	}
	if !reflect.DeepEqual(tfBefore, r.TimeframeWeights()) {
		t.Error("timeframe weights changed after rejected amendment")
	}
	if r.Metadata() != metaBefore {
		t.Error("metadata changed after rejected amendment")
	}
	if len(r.AmendmentHistory(0)) != 0 {
		t.Error("rejected amendment appended to history")
	}
}

func TestTimeframeSumValidatedAgainstMergedResult(t *testing.T) {
	r := New()

	// Shifting weight between two timeframes keeps the sum at 1.00.
	res := r.EnactAmendment(Amendment{
		TimeframeWeights: map[string]float64{"1h": 0.30, "1d": 0.20},
		Authority:        AuthorityLegislative,
	})
	if !res.Success {
		t.Fatalf("balanced shift rejected: %v", res.Errors)
	}

	// Raising one timeframe alone breaks the sum.
	res = r.EnactAmendment(Amendment{
		TimeframeWeights: map[string]float64{"1h": 0.40},
		Authority:        AuthorityLegislative,
	})
	if res.Success {
		t.Fatal("unbalanced timeframe amendment should be rejected")
	}
}

func TestGettersReturnIndependentCopies(t *testing.T) {
	r := New()

	w := r.DetectorWeights()
	w["trend"] = 99.0
	if r.DetectorWeight("trend") == 99.0 {
		t.Error("mutating a returned map leaked into registry state")
	}

	tf := r.TimeframeWeights()
	tf["1h"] = 99.0
	if r.TimeframeWeight("1h") == 99.0 {
		t.Error("mutating a returned timeframe map leaked into registry state")
	}
}

func TestResetToDefaults(t *testing.T) {
	r := New()
	r.EnactAmendment(Amendment{
		DetectorWeights: map[string]float64{"trend": 0.30},
		Authority:       AuthorityEmergency,
	})

	r.ResetToDefaults()

	if !reflect.DeepEqual(r.DetectorWeights(), DefaultDetectorWeights()) {
		t.Error("detector weights not restored to defaults")
	}
	if !reflect.DeepEqual(r.TimeframeWeights(), DefaultTimeframeWeights()) {
		t.Error("timeframe weights not restored to defaults")
	}
}

func TestHistoryBounded(t *testing.T) {
	r := New()
	for i := 0; i < maxHistoryEntries+25; i++ {
		res := r.EnactAmendment(Amendment{
			DetectorWeights: map[string]float64{"ml": 0.02},
			Authority:       AuthorityLegislative,
		})
		if !res.Success {
			t.Fatalf("amendment %d rejected: %v", i, res.Errors)
		}
	}
	if got := len(r.AmendmentHistory(0)); got != maxHistoryEntries {
		t.Errorf("history length = %d, want %d", got, maxHistoryEntries)
	}
}

func TestAmendmentHistoryLimit(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.EnactAmendment(Amendment{
			DetectorWeights: map[string]float64{"ml": 0.03},
			Authority:       AuthorityLegislative,
		})
	}
	if got := len(r.AmendmentHistory(3)); got != 3 {
		t.Errorf("limited history length = %d, want 3", got)
	}
}
