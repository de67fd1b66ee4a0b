package normalize

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestProbabilityToSigned(t *testing.T) {
	cases := []struct {
		p            float64
		bullishIsHigh bool
		want         float64
	}{
		{0.5, true, 0},
		{1.0, true, 1},
		{0.0, true, -1},
		{0.75, true, 0.5},
		{0.5, false, 0},
		{1.0, false, -1},
		{0.0, false, 1},
		{2.0, true, 1},   // clamped
		{-0.5, true, -1}, // clamped
	}
	for _, tc := range cases {
		got := ProbabilityToSigned(tc.p, tc.bullishIsHigh)
		if !almostEqual(got, tc.want) {
			t.Errorf("ProbabilityToSigned(%v, %v) = %v, want %v", tc.p, tc.bullishIsHigh, got, tc.want)
		}
	}
}

func TestProbabilityToSignedMirror(t *testing.T) {
	for p := 0.0; p <= 1.0; p += 0.1 {
		high := ProbabilityToSigned(p, true)
		low := ProbabilityToSigned(p, false)
		if !almostEqual(high, -low) {
			t.Errorf("p=%v: %v and %v are not mirrored", p, high, low)
		}
	}
}

func TestBooleanToSigned(t *testing.T) {
	if got := BooleanToSigned(true, 0.6); !almostEqual(got, 0.6) {
		t.Errorf("true/0.6 = %v", got)
	}
	if got := BooleanToSigned(false, 0.6); !almostEqual(got, -0.6) {
		t.Errorf("false/0.6 = %v", got)
	}
	if got := BooleanToSigned(true, 1.5); !almostEqual(got, 1) {
		t.Errorf("magnitude not clamped: %v", got)
	}
	if got := BooleanToSigned(false, -0.2); !almostEqual(got, 0) {
		t.Errorf("negative magnitude not clamped: %v", got)
	}
}

func TestScale100ToSigned(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{100, 1},
		{-100, -1},
		{50, 0.5},
		{200, 1},
		{-200, -1},
		{150, 1},
	}
	for _, tc := range cases {
		if got := Scale100ToSigned(tc.in); !almostEqual(got, tc.want) {
			t.Errorf("Scale100ToSigned(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRenormalizeWeights(t *testing.T) {
	in := map[string]float64{"a": 0.2, "b": 0.2, "c": 0.1}
	out := RenormalizeWeights(in)

	sum := 0.0
	for _, w := range out {
		sum += w
	}
	if !almostEqual(sum, 1.0) {
		t.Errorf("renormalized sum = %v, want 1.0", sum)
	}
	if !almostEqual(out["a"], 0.4) {
		t.Errorf("a = %v, want 0.4", out["a"])
	}
	if !almostEqual(in["a"], 0.2) {
		t.Error("input map was modified")
	}
}

func TestRenormalizeWeightsZeroSum(t *testing.T) {
	out := RenormalizeWeights(map[string]float64{"a": 0, "b": 0, "c": 0, "d": 0})
	for k, w := range out {
		if !almostEqual(w, 0.25) {
			t.Errorf("%s = %v, want 0.25", k, w)
		}
	}
	if len(RenormalizeWeights(nil)) != 0 {
		t.Error("empty input should yield empty output")
	}
}
