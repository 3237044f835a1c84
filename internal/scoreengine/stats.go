// Package scoreengine implements the closed family of scoring algorithms
// from spec.md §4.3: a set of per-metric normalization primitives combined
// under fixed, CV-adaptive, or waiting-progressive weights into a single
// score in [0,1] per member.
package scoreengine

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const epsilon = 1e-9

// meanOf and stdDevOf wrap gonum's stat package with the guards the
// algorithm family needs: a single-sample pool has no spread, and gonum's
// sample stddev is undefined (NaN) below two samples.
func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

func stdDevOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.StdDev(values, nil)
}

func minMax(values []float64) (lo, hi float64) {
	return floats.Min(values), floats.Max(values)
}

// clamp01 keeps a value within [0, 1], mapping NaN/Inf to 0 per spec.md §4.3.2
// ("NaN or Inf becomes 0").
func clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// minMaxGoodness is the Min-Max primitive from spec.md §4.3.1: "smaller is
// better" directly, collapsing to {0,1} when N=2.
func minMaxGoodness(x float64, values []float64) float64 {
	lo, hi := minMax(values)
	return clamp01((hi - x) / math.Max(epsilon, hi-lo))
}

// rawGoodness is the "none" normalization: the metric is already a fraction
// in [0,1] (cache usage) so no cross-member normalization is applied, only
// the universal "smaller is better" inversion.
func rawGoodness(x float64) float64 {
	return clamp01(1 - x)
}

// preciseLogGoodness maps a metric into a documented log2 window around the
// pool mean, scales it into [lo, hi], then inverts it into a goodness in
// [1-hi, 1-lo] (spec.md §4.3.1,
// "precise logarithmic normalization"). The log2 input window is fixed at
// [-2, +2] per spec.md §9's calibration note.
func preciseLogGoodness(x float64, values []float64, lo, hi float64) float64 {
	const delta = 1e-6
	const windowLo, windowHi = -2.0, 2.0
	mean := meanOf(values)
	ratio := (x + delta) / (mean + delta)
	r := math.Log2(ratio)
	if r < windowLo {
		r = windowLo
	}
	if r > windowHi {
		r = windowHi
	}
	frac := (r - windowLo) / (windowHi - windowLo)
	normBad := lo + frac*(hi-lo)
	return clamp01(1 - normBad)
}

// ratioGoodness generalizes the two-node ratio-weight primitive
// (x_i / (x_i + x_j)) to N members as x_i / sum(all x), inverted into a
// goodness. For N=2 this reduces exactly to the documented formula.
func ratioGoodness(x float64, values []float64) float64 {
	total := floats.Sum(values)
	if total <= epsilon {
		return 0.5
	}
	return clamp01(1 - x/total)
}

// adaptiveDistGoodness is the adaptive-distribution primitive: z-score,
// tanh-squash, affine shift, then invert. Degenerates to uniform 0.5 when
// stddev is 0, per spec.md §9's Open Question resolution (neutrality, not
// "all get 1.0").
func adaptiveDistGoodness(x float64, values []float64) float64 {
	const k = 1.0
	std := stdDevOf(values)
	if std < epsilon {
		return 0.5
	}
	mean := meanOf(values)
	z := (x - mean) / std
	t := math.Tanh(k * z)
	normBad := (t + 1) / 2
	return clamp01(1 - normBad)
}

// smoothedGoodness is min-max compressed into [0.2, 0.8], damping the
// {0,1} collapse that plain min-max exhibits at small N.
func smoothedGoodness(x float64, values []float64) float64 {
	g := minMaxGoodness(x, values)
	return clamp01(g*0.6 + 0.2)
}

// squaredGoodness amplifies separation by squaring the min-max goodness
// term (spec.md §4.3.1, "squared non-linear").
func squaredGoodness(x float64, values []float64) float64 {
	g := minMaxGoodness(x, values)
	return clamp01(g * g)
}

// cv is the coefficient of variation, stddev/mean, guarded against a
// zero mean.
func cv(values []float64) float64 {
	mean := meanOf(values)
	return stdDevOf(values) / math.Max(epsilon, mean)
}
