package scoreengine

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
)

// MemberInput is the per-member view the score engine needs: its raw
// metrics and its last-observed health status. A member with
// Status != READY is forced to score 0 regardless of its (possibly stale)
// metrics (spec.md §4.2, §8 property 1).
type MemberInput struct {
	Key     poolstore.MemberKey
	Metrics map[string]float64
	Status  poolstore.Status
}

const (
	normMinMax     = "minmax"
	normNone       = "none"
	normPreciseLog = "preciselog"
	normRatio      = "ratio"
	normAdaptive   = "adaptive"
	normSmoothed   = "smoothed"
	normSquared    = "squared"

	weightFixed      = "fixed"
	weightCVAdaptive = "cv"
	weightWaiting    = "waiting"
)

// cacheWindow and runningReqWindow are the documented [lo, hi] bounds for
// precise-log normalization (spec.md §4.3.1).
var (
	cacheWindow      = [2]float64{0.2, 1.0}
	runningReqWindow = [2]float64{0.15, 0.95}
)

type algoSpec struct {
	threeMetric bool
	normQ       string
	normC       string
	normR       string
	weight      string
}

// algorithmTable is the closed set from spec.md §4.3.2. It is intentionally
// a flat map of named implementations, not a plug-in registry: algorithms
// are a closed set and only their parameters are hot-reloadable (spec.md §1).
var algorithmTable = map[string]algoSpec{
	"s1":                       {false, normMinMax, normNone, "", weightFixed},
	"s1_enhanced":              {false, normMinMax, normPreciseLog, "", weightFixed},
	"s1_adaptive":              {false, normMinMax, normMinMax, "", weightCVAdaptive},
	"s1_ratio":                 {false, normNone, normRatio, "", weightFixed},
	"s1_precise":               {false, normNone, normNone, "", weightFixed},
	"s1_nonlinear":             {false, normMinMax, normSquared, "", weightFixed},
	"s1_balanced":              {false, normSmoothed, normSmoothed, "", weightFixed},
	"s1_adaptive_distribution": {false, normAdaptive, normAdaptive, "", weightFixed},
	"s1_advanced":              {false, normAdaptive, normAdaptive, "", weightCVAdaptive},
	"s1_dynamic_waiting":       {false, normAdaptive, normAdaptive, "", weightWaiting},
	"s2":                       {true, normMinMax, normNone, normMinMax, weightFixed},
	"s2_enhanced":              {true, normMinMax, normPreciseLog, normPreciseLog, weightFixed},
	"s2_nonlinear":             {true, normSquared, normSquared, normSquared, weightFixed},
	"s2_adaptive":              {true, normMinMax, normMinMax, normMinMax, weightCVAdaptive},
	"s2_advanced":              {true, normAdaptive, normAdaptive, normAdaptive, weightCVAdaptive},
	"s2_dynamic_waiting":       {true, normAdaptive, normAdaptive, normAdaptive, weightWaiting},
}

// Supported reports whether name is one of the closed set of algorithms.
func Supported(name string) bool {
	_, ok := algorithmTable[name]
	return ok
}

// goodness dispatches a single raw value through the normalization primitive
// named kind, given the cross-member value set it belongs to.
func goodness(kind string, x float64, values []float64, window [2]float64) float64 {
	switch kind {
	case normMinMax:
		return minMaxGoodness(x, values)
	case normNone:
		return rawGoodness(x)
	case normPreciseLog:
		return preciseLogGoodness(x, values, window[0], window[1])
	case normRatio:
		return ratioGoodness(x, values)
	case normAdaptive:
		return adaptiveDistGoodness(x, values)
	case normSmoothed:
		return smoothedGoodness(x, values)
	case normSquared:
		return squaredGoodness(x, values)
	default:
		return 0
	}
}

// effectiveWeights resolves the per-metric weights for one scoring pass:
// fixed weights pass straight through, CV-adaptive blends them with the
// normalized coefficient of variation of each metric's spread, and
// waiting-progressive reshapes them by the pool's queueing pressure
// (spec.md §4.3.2).
func effectiveWeights(scheme string, algo poolstore.Algorithm, threeMetric bool, qValues, cValues, rValues []float64) (wa, wb, wg float64) {
	wa, wb, wg = algo.WA, algo.WB, algo.WG

	switch scheme {
	case weightCVAdaptive:
		cvs := []float64{cv(qValues), cv(cValues)}
		base := []float64{algo.WA, algo.WB}
		if threeMetric {
			cvs = append(cvs, cv(rValues))
			base = append(base, algo.WG)
		}
		total := floats.Sum(cvs)
		var cvNorm []float64
		if total < epsilon {
			// All CVs ~0: fall back to base weights (spec.md §4.3.2).
			cvNorm = make([]float64, len(base))
			copy(cvNorm, base)
			if bs := floats.Sum(base); bs > epsilon {
				floats.Scale(1/bs, cvNorm)
			}
		} else {
			cvNorm = make([]float64, len(cvs))
			copy(cvNorm, cvs)
			floats.Scale(1/total, cvNorm)
		}
		const alpha = 0.5
		blended := make([]float64, len(base))
		for i := range base {
			blended[i] = alpha*base[i] + (1-alpha)*cvNorm[i]
		}
		if bs := floats.Sum(blended); bs > epsilon {
			floats.Scale(1/bs, blended)
		}
		wa, wb = blended[0], blended[1]
		if threeMetric {
			wg = blended[2]
		}

	case weightWaiting:
		maxWaiting := 0.0
		if len(qValues) > 0 {
			maxWaiting = floats.Max(qValues)
		}
		transitionPoint := algo.TransitionPoint
		if transitionPoint == 0 {
			transitionPoint = 30
		}
		steepness := algo.Steepness
		if steepness == 0 {
			steepness = 1
		}
		intensity := math.Tanh(maxWaiting * steepness / transitionPoint)
		wa = algo.WA * (0.1 + 2.4*intensity)
		wb = algo.WB * (1.5 - 1.1*intensity)
		if threeMetric {
			wg = algo.WG * (1.4 - 0.8*intensity)
		}
	}
	return wa, wb, wg
}

// Compute scores every member in members under algo, returning a score in
// [0,1] per member. Members missing a required metric, or whose status is
// not READY, score 0 and are excluded from the cross-member statistics used
// to normalize everyone else (mirrors the original's "valid members only"
// pass, spec.md §4.3).
func Compute(members []MemberInput, algo poolstore.Algorithm) map[poolstore.MemberKey]float64 {
	scores := make(map[poolstore.MemberKey]float64, len(members))
	if len(members) == 0 {
		return scores
	}

	spec, ok := algorithmTable[algo.Name]
	if !ok {
		for _, m := range members {
			scores[m.Key] = 0
		}
		return scores
	}

	type valid struct {
		key  poolstore.MemberKey
		q, c float64
		r    float64
	}

	var validMembers []valid
	for _, m := range members {
		if m.Status != poolstore.StatusReady {
			scores[m.Key] = 0
			continue
		}
		q, qok := m.Metrics["waiting_queue"]
		c, cok := m.Metrics["cache_usage"]
		if !qok || !cok {
			scores[m.Key] = 0
			continue
		}
		r := 0.0
		if spec.threeMetric {
			rv, rok := m.Metrics["running_req"]
			if !rok {
				scores[m.Key] = 0
				continue
			}
			r = rv
		}
		validMembers = append(validMembers, valid{key: m.Key, q: q, c: c, r: r})
	}

	if len(validMembers) == 0 {
		return scores
	}

	qValues := make([]float64, len(validMembers))
	cValues := make([]float64, len(validMembers))
	var rValues []float64
	if spec.threeMetric {
		rValues = make([]float64, len(validMembers))
	}
	for i, v := range validMembers {
		qValues[i] = v.q
		cValues[i] = v.c
		if spec.threeMetric {
			rValues[i] = v.r
		}
	}

	wa, wb, wg := effectiveWeights(spec.weight, algo, spec.threeMetric, qValues, cValues, rValues)

	for _, v := range validMembers {
		gq := goodness(spec.normQ, v.q, qValues, [2]float64{})
		gc := goodness(spec.normC, v.c, cValues, cacheWindow)
		score := wa*gq + wb*gc
		if spec.threeMetric {
			gr := goodness(spec.normR, v.r, rValues, runningReqWindow)
			score += wg * gr
		}
		scores[v.key] = clamp01(score)
	}

	return scores
}
