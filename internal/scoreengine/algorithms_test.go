package scoreengine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
)

func key(port int) poolstore.MemberKey { return poolstore.MemberKey{IP: "10.0.0.1", Port: port} }

func TestComputeS1BasicOrdering(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.1}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 10, "cache_usage": 0.9}},
	}
	scores := Compute(members, poolstore.Algorithm{Name: "s1", WA: 0.5, WB: 0.5})
	require.Len(t, scores, 2)
	assert.Greater(t, scores[key(1)], scores[key(2)], "lighter-loaded member must score higher")
	for _, s := range scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestComputeNonReadyMemberScoresZero(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.1}},
		{Key: key(2), Status: poolstore.StatusUnreachable, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.1}},
	}
	scores := Compute(members, poolstore.Algorithm{Name: "s1", WA: 0.5, WB: 0.5})
	assert.Equal(t, 0.0, scores[key(2)])
}

func TestComputeMissingMetricScoresZero(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.1}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0}},
	}
	scores := Compute(members, poolstore.Algorithm{Name: "s1", WA: 0.5, WB: 0.5})
	assert.Equal(t, 0.0, scores[key(2)])
}

func TestComputeS1RatioMatchesGroundTruthExample(t *testing.T) {
	// Grounded on original_source/tests/s1_ratio_fix_explanation.py's worked
	// example: waiting=[0,0], cache=[0.290,0.036], w_a=0.1, w_b=0.9.
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.290}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.036}},
	}
	scores := Compute(members, poolstore.Algorithm{Name: "s1_ratio", WA: 0.1, WB: 0.9})
	assert.InDelta(t, 0.199, scores[key(1)], 0.005)
	assert.InDelta(t, 0.901, scores[key(2)], 0.005)
}

func TestComputeThreeMetricRequiresRunningReq(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.1, "running_req": 2}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.1}},
	}
	scores := Compute(members, poolstore.Algorithm{Name: "s2", WA: 0.4, WB: 0.3, WG: 0.3})
	assert.Equal(t, 0.0, scores[key(2)], "member missing running_req must score 0 under a three-metric algorithm")
}

func TestComputeDynamicWaitingIntensityShiftsTowardWaitingAxis(t *testing.T) {
	// Grounded on spec.md's Scenario E: w_a=0.4, w_b=0.3, transition_point=30,
	// steepness=1.0. At max_waiting=0, w'_a/w'_b ≈ 0.089. At max_waiting=60,
	// w'_a ≈ 0.99 and w'_b ≈ 0.13 (the waiting axis dominates).
	algo := poolstore.Algorithm{Name: "s2_dynamic_waiting", WA: 0.4, WB: 0.3, WG: 0.3, TransitionPoint: 30, Steepness: 1.0}

	wa, wb, _ := effectiveWeights(weightWaiting, algo, true, []float64{0, 0}, []float64{0.1, 0.5}, []float64{1, 5})
	assert.InDelta(t, 0.089, wa/wb, 0.01)

	highPressure := []float64{0, 60}
	wa2, wb2, _ := effectiveWeights(weightWaiting, algo, true, highPressure, []float64{0.1, 0.5}, []float64{1, 5})
	assert.InDelta(t, 0.97, wa2, 0.05)
	assert.InDelta(t, 0.13, wb2, 0.02)
}

func TestAdaptiveDistributionDegeneratesToUniformWhenStdDevZero(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 5, "cache_usage": 0.5}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 5, "cache_usage": 0.5}},
	}
	scores := Compute(members, poolstore.Algorithm{Name: "s1_adaptive_distribution", WA: 0.5, WB: 0.5})
	assert.InDelta(t, 0.5, scores[key(1)], 1e-9)
	assert.InDelta(t, 0.5, scores[key(2)], 1e-9)
}

func TestCVAdaptiveWeightsFallBackWhenAllCVsZero(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 5, "cache_usage": 0.5}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 5, "cache_usage": 0.5}},
	}
	scores := Compute(members, poolstore.Algorithm{Name: "s1_adaptive", WA: 0.5, WB: 0.5})
	// identical inputs -> identical (degenerate) scores regardless of weight blend
	assert.Equal(t, scores[key(1)], scores[key(2)])
}

func TestScoresAreDeterministic(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 3, "cache_usage": 0.4}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 9, "cache_usage": 0.7}},
	}
	algo := poolstore.Algorithm{Name: "s1_nonlinear", WA: 0.6, WB: 0.4}
	first := Compute(members, algo)
	second := Compute(members, algo)
	assert.Equal(t, first, second)
}

func TestAllAlgorithmsProduceBoundedScores(t *testing.T) {
	members := []MemberInput{
		{Key: key(1), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 0, "cache_usage": 0.01, "running_req": 0}},
		{Key: key(2), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 50, "cache_usage": 0.95, "running_req": 40}},
		{Key: key(3), Status: poolstore.StatusReady, Metrics: map[string]float64{"waiting_queue": 5, "cache_usage": 0.3, "running_req": 10}},
	}
	for name := range algorithmTable {
		algo := poolstore.Algorithm{Name: name, WA: 0.4, WB: 0.3, WG: 0.3, TransitionPoint: 30, Steepness: 1}
		scores := Compute(members, algo)
		for k, s := range scores {
			assert.False(t, math.IsNaN(s), "algorithm %s produced NaN for %v", name, k)
			assert.GreaterOrEqual(t, s, 0.0, "algorithm %s", name)
			assert.LessOrEqual(t, s, 1.0, "algorithm %s", name)
		}
	}
}
