// Package normalize converts heterogeneous detector outputs into one signed
// score range. Detectors report probabilities, booleans or 0-100 scales
// depending on their subsystem; everything downstream works in [-1, +1].
package normalize

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ProbabilityToSigned maps a probability in [0,1] to a signed score in [-1,1].
// When bullishIsHigh, p=1 means maximally bullish; otherwise p=1 means
// maximally bearish. Out-of-range input is clamped, never rejected.
func ProbabilityToSigned(p float64, bullishIsHigh bool) float64 {
	p = Clamp(p, 0, 1)
	if bullishIsHigh {
		return 2*p - 1
	}
	return 1 - 2*p
}

// BooleanToSigned maps a boolean detector flag to a signed score with the
// given magnitude. The magnitude is clamped to [0,1].
func BooleanToSigned(flag bool, magnitude float64) float64 {
	magnitude = Clamp(magnitude, 0, 1)
	if flag {
		return magnitude
	}
	return -magnitude
}

// Scale100ToSigned maps a -100..100 scale to [-1,1]. Values outside the scale
// saturate at the boundary (200 -> 1, -200 -> -1).
func Scale100ToSigned(x float64) float64 {
	return Clamp(x, -100, 100) / 100
}

// RenormalizeWeights scales a weight group so it sums to exactly 1.0. A
// zero-sum group falls back to equal weights across its keys so no weight is
// ever left undefined. The input map is not modified.
func RenormalizeWeights(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum == 0 {
		if len(weights) == 0 {
			return out
		}
		equal := 1.0 / float64(len(weights))
		for k := range weights {
			out[k] = equal
		}
		return out
	}
	for k, w := range weights {
		out[k] = w / sum
	}
	return out
}
