// Package selector implements the weighted-random draw that turns a pool's
// current scores into a single chosen member, plus the fallback gate and
// threshold-filtering policies that run ahead of the draw.
package selector

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand"
	"sort"
	"sync"

	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
)

// Outcome is the result of a selection attempt: either a chosen member, or
// one of the two sentinel outcomes the HTTP surface renders as literal text.
type Outcome string

const (
	OutcomeNone     Outcome = "none"
	OutcomeFallback Outcome = "fallback"
)

// Lookup is the subset of poolstore.Store the selector depends on, kept
// narrow so selection logic is independent of the store's concrete type.
type Lookup interface {
	Get(key poolstore.PoolKey) (*poolstore.Pool, bool)
}

// Selector draws one member per request. It owns no state about pools; all
// state lives in the Store it's given at construction.
type Selector struct {
	store Lookup
	rngMu sync.Mutex
	rng   *mrand.Rand
}

// New builds a Selector backed by store, seeding its PRNG from a
// cryptographic source rather than the wall clock.
func New(store Lookup) *Selector {
	return &Selector{store: store, rng: mrand.New(mrand.NewSource(seed()))}
}

func seed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:]))
}

// float64n draws a uniform float64 in [0, n) under the selector's lock. The
// PRNG is not safe for concurrent use on its own, so all draws funnel
// through here; the lock is held only for the draw itself, not for any I/O.
func (s *Selector) float64n(n float64) float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() * n
}

// candidate is a member's score paired with its key, stripped of any other
// state, once it has survived fallback/intersection/threshold/zero-score
// filtering.
type candidate struct {
	key   poolstore.MemberKey
	score float64
}

// resolve runs steps 1-6 of the selection algorithm and returns either a
// terminal Outcome (none/fallback) or the surviving candidate set, ready for
// the weighted draw.
func (s *Selector) resolve(poolKey poolstore.PoolKey, candidateKeys []poolstore.MemberKey) ([]candidate, Outcome) {
	pool, ok := s.store.Get(poolKey)
	if !ok {
		return nil, OutcomeNone
	}

	_, _, fallback := pool.Config()
	if fallback.PoolFallback {
		return nil, OutcomeFallback
	}

	wanted := make(map[poolstore.MemberKey]bool, len(candidateKeys))
	for _, k := range candidateKeys {
		wanted[k] = true
	}

	var survivors []candidate
	for _, m := range pool.Members() {
		if !wanted[m.Key] {
			continue
		}
		if exceedsThreshold(m, fallback) {
			continue
		}
		if m.Score == 0 {
			continue
		}
		survivors = append(survivors, candidate{key: m.Key, score: m.Score})
	}

	if len(survivors) == 0 {
		return nil, OutcomeNone
	}
	return survivors, ""
}

// exceedsThreshold applies the conservative threshold-filtering policy: a
// member is dropped only when it reports the thresholded metric AND exceeds
// it. A member silent on that axis is kept.
func exceedsThreshold(m *poolstore.Member, fb poolstore.FallbackConfig) bool {
	if fb.MemberRunningReqThreshold != nil {
		if v, ok := m.Metrics["running_req"]; ok && v > *fb.MemberRunningReqThreshold {
			return true
		}
	}
	if fb.MemberWaitingQueueThreshold != nil {
		if v, ok := m.Metrics["waiting_queue"]; ok && v > *fb.MemberWaitingQueueThreshold {
			return true
		}
	}
	return false
}

// draw performs one weighted-random pick over a fixed candidate slice, in
// the slice's order. Callers sort the slice by key string (sortCandidates)
// first so the cumulative walk is deterministic for a given PRNG draw,
// independent of map iteration order upstream.
func draw(candidates []candidate, u float64) poolstore.MemberKey {
	var running float64
	for _, c := range candidates {
		running += c.score
		if running >= u {
			return c.key
		}
	}
	return candidates[len(candidates)-1].key
}

func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].key.String() < candidates[j].key.String()
	})
}

func sum(candidates []candidate) float64 {
	var total float64
	for _, c := range candidates {
		total += c.score
	}
	return total
}

// Select runs the full algorithm from spec.md §4.5 and returns either a
// chosen "ip:port" or one of the two sentinel outcomes.
func (s *Selector) Select(poolKey poolstore.PoolKey, candidateKeys []poolstore.MemberKey) string {
	survivors, outcome := s.resolve(poolKey, candidateKeys)
	if outcome != "" {
		return string(outcome)
	}
	sortCandidates(survivors)
	total := sum(survivors)
	if total <= 0 {
		return string(OutcomeNone)
	}
	u := s.float64n(total)
	return draw(survivors, u).String()
}

// Simulate performs iterations independent draws from the pool's current
// frozen score vector and returns the per-member selection counts.
func (s *Selector) Simulate(poolKey poolstore.PoolKey, candidateKeys []poolstore.MemberKey, iterations int) (map[string]int, Outcome) {
	survivors, outcome := s.resolve(poolKey, candidateKeys)
	if outcome != "" {
		return nil, outcome
	}
	sortCandidates(survivors)
	total := sum(survivors)
	if total <= 0 {
		return nil, OutcomeNone
	}

	counts := make(map[string]int, len(survivors))
	for i := 0; i < iterations; i++ {
		u := s.float64n(total)
		counts[draw(survivors, u).String()]++
	}
	return counts, ""
}

// MemberStat is one row of an Analyze report.
type MemberStat struct {
	Member                string
	TheoreticalProbability float64
	ActualProbability      float64
	SelectionCount         int
	Deviation              float64
	DeviationPercentage    float64
}

// OverallStatistics summarizes the absolute deviation across all members in
// an Analyze report.
type OverallStatistics struct {
	MeanAbsDeviation float64
	MaxAbsDeviation  float64
	MinAbsDeviation  float64
	StdDevDeviation  float64
}

// QualityGrade classifies an Analyze run by the table in spec.md §6.
type QualityGrade string

const (
	QualityExcellent         QualityGrade = "Excellent"
	QualityGood              QualityGrade = "Good"
	QualityAverage           QualityGrade = "Average"
	QualityNeedsOptimization QualityGrade = "Needs-Optimization"
)

// AnalyzeReport is the full structured output of Analyze.
type AnalyzeReport struct {
	Members           []MemberStat
	Overall           OverallStatistics
	Quality           QualityGrade
	QualityScore      float64
	Recommendations   []string
	Iterations        int
	SuccessfulSamples int
}

// Analyze runs Simulate and derives the theoretical-vs-empirical comparison
// and quality grade documented in spec.md §6.
func (s *Selector) Analyze(poolKey poolstore.PoolKey, candidateKeys []poolstore.MemberKey, iterations int) (AnalyzeReport, Outcome) {
	survivors, outcome := s.resolve(poolKey, candidateKeys)
	if outcome != "" {
		return AnalyzeReport{}, outcome
	}
	sortCandidates(survivors)
	total := sum(survivors)
	if total <= 0 {
		return AnalyzeReport{}, OutcomeNone
	}

	counts := make(map[string]int, len(survivors))
	for i := 0; i < iterations; i++ {
		u := s.float64n(total)
		counts[draw(survivors, u).String()]++
	}

	deviations := make([]float64, 0, len(survivors))
	members := make([]MemberStat, 0, len(survivors))
	for _, c := range survivors {
		name := c.key.String()
		theoretical := c.score / total
		count := counts[name]
		actual := 0.0
		if iterations > 0 {
			actual = float64(count) / float64(iterations)
		}
		dev := math.Abs(actual - theoretical)
		devPct := 0.0
		if theoretical > 0 {
			devPct = dev / theoretical * 100
		}
		members = append(members, MemberStat{
			Member:                 name,
			TheoreticalProbability: theoretical,
			ActualProbability:      actual,
			SelectionCount:         count,
			Deviation:              dev,
			DeviationPercentage:    devPct,
		})
		deviations = append(deviations, dev)
	}

	overall := summarizeDeviations(deviations)
	quality := gradeQuality(overall, iterations, len(survivors))
	score, recommendations := scoreAndRecommend(overall, quality, iterations, len(survivors))

	return AnalyzeReport{
		Members:           members,
		Overall:           overall,
		Quality:           quality,
		QualityScore:      score,
		Recommendations:   recommendations,
		Iterations:        iterations,
		SuccessfulSamples: iterations,
	}, ""
}

func summarizeDeviations(deviations []float64) OverallStatistics {
	if len(deviations) == 0 {
		return OverallStatistics{}
	}
	var sumDev, maxDev float64
	minDev := deviations[0]
	for _, d := range deviations {
		sumDev += d
		if d > maxDev {
			maxDev = d
		}
		if d < minDev {
			minDev = d
		}
	}
	mean := sumDev / float64(len(deviations))

	var variance float64
	for _, d := range deviations {
		diff := d - mean
		variance += diff * diff
	}
	variance /= float64(len(deviations))

	return OverallStatistics{
		MeanAbsDeviation: mean,
		MaxAbsDeviation:  maxDev,
		MinAbsDeviation:  minDev,
		StdDevDeviation:  math.Sqrt(variance),
	}
}

// gradeQuality applies the published table (spec.md §6): success-rate here
// is the fraction of iterations that landed on some survivor, which is
// always 100% once the draw has at least one candidate with positive score,
// so it is taken as 100 whenever there is at least one iteration and one
// survivor, and 0 otherwise; it is not counted from the samples.
func gradeQuality(overall OverallStatistics, iterations, survivorCount int) QualityGrade {
	successRate := 100.0
	if iterations == 0 || survivorCount == 0 {
		successRate = 0
	}
	meanPct := overall.MeanAbsDeviation * 100
	maxPct := overall.MaxAbsDeviation * 100

	switch {
	case meanPct < 1.0 && maxPct < 2.0 && successRate > 99:
		return QualityExcellent
	case meanPct < 2.0 && maxPct < 5.0 && successRate > 95:
		return QualityGood
	case meanPct < 5.0 && maxPct < 10.0 && successRate > 90:
		return QualityAverage
	default:
		return QualityNeedsOptimization
	}
}

// scoreAndRecommend turns the same deviation statistics gradeQuality used
// into a 0-100 numeric score and a list of actionable callouts. Grounded in
// the original scheduler's _assess_selection_quality: score is a per-grade
// linear scale anchored at the grade's floor, and each recommendation fires
// independently off its own threshold rather than being tied to the grade.
func scoreAndRecommend(overall OverallStatistics, quality QualityGrade, iterations, survivorCount int) (float64, []string) {
	successRate := 100.0
	if iterations == 0 || survivorCount == 0 {
		successRate = 0
	}
	meanPct := overall.MeanAbsDeviation * 100
	maxPct := overall.MaxAbsDeviation * 100
	stdPct := overall.StdDevDeviation * 100

	var score float64
	switch quality {
	case QualityExcellent:
		score = 95
		if meanPct < 5 {
			score = 95 + (5 - meanPct)
		}
	case QualityGood:
		score = 80
		if meanPct*3 < 15 {
			score = 80 + (15 - meanPct*3)
		}
	case QualityAverage:
		score = 60
		if meanPct*4 < 20 {
			score = 60 + (20 - meanPct*4)
		}
	default:
		score = math.Max(0, 60-meanPct*5)
	}

	recommendations := []string{}
	if meanPct > 3.0 {
		recommendations = append(recommendations, "Consider increasing test iterations for more stable results")
	}
	if maxPct > 8.0 {
		recommendations = append(recommendations, "Check if score value distribution is too extreme")
	}
	if successRate < 95 {
		recommendations = append(recommendations, "Check system for concurrency or other abnormal issues")
	}
	if stdPct > 2.0 {
		recommendations = append(recommendations, "Large deviation fluctuation, recommend checking algorithm stability")
	}

	return math.Round(score*100) / 100, recommendations
}
