package poolstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoint() MetricsEndpoint {
	return MetricsEndpoint{Schema: "http", Path: "/metrics"}
}

func TestReconcileMembersAddsRemovesAndPreserves(t *testing.T) {
	p := NewPool(PoolKey{Partition: "Common", Name: "pool-a"}, EngineVLLM, testEndpoint(), Algorithm{Name: "s1", WA: 0.5, WB: 0.5}, FallbackConfig{})

	r := p.ReconcileMembers([]MemberKey{{IP: "10.0.0.1", Port: 8000}, {IP: "10.0.0.2", Port: 8000}})
	assert.Equal(t, ReconcileResult{Added: 2, Removed: 0, Preserved: 0}, r)

	p.UpdateScores(map[MemberKey]float64{{IP: "10.0.0.1", Port: 8000}: 0.7})

	r = p.ReconcileMembers([]MemberKey{{IP: "10.0.0.1", Port: 8000}, {IP: "10.0.0.3", Port: 8000}})
	assert.Equal(t, ReconcileResult{Added: 1, Removed: 1, Preserved: 1}, r)

	m, ok := p.Lookup(MemberKey{IP: "10.0.0.1", Port: 8000})
	require.True(t, ok)
	assert.Equal(t, 0.7, m.Score, "preserved member keeps its score across reconciliation")

	_, ok = p.Lookup(MemberKey{IP: "10.0.0.2", Port: 8000})
	assert.False(t, ok, "dropped member should no longer exist")
}

func TestUpdateMetricsOnlyTouchesKnownMembers(t *testing.T) {
	p := NewPool(PoolKey{Partition: "Common", Name: "p"}, EngineVLLM, testEndpoint(), Algorithm{Name: "s1"}, FallbackConfig{})
	p.ReconcileMembers([]MemberKey{{IP: "10.0.0.1", Port: 8000}})

	p.UpdateMetrics(MemberKey{IP: "10.0.0.1", Port: 8000}, map[string]float64{"waiting_queue": 3}, StatusReady)
	m, ok := p.Lookup(MemberKey{IP: "10.0.0.1", Port: 8000})
	require.True(t, ok)
	assert.Equal(t, StatusReady, m.Status)
	assert.Equal(t, 3.0, m.Metrics["waiting_queue"])

	// Unknown member: no-op, no panic.
	p.UpdateMetrics(MemberKey{IP: "10.0.0.99", Port: 1}, map[string]float64{}, StatusReady)
}

func TestUpdateMetricsFailureRetainsLastGoodSnapshot(t *testing.T) {
	p := NewPool(PoolKey{Partition: "Common", Name: "p"}, EngineVLLM, testEndpoint(), Algorithm{Name: "s1"}, FallbackConfig{})
	key := MemberKey{IP: "10.0.0.1", Port: 8000}
	p.ReconcileMembers([]MemberKey{key})
	p.UpdateMetrics(key, map[string]float64{"waiting_queue": 3}, StatusReady)

	p.UpdateMetrics(key, nil, StatusUnreachable)

	m, ok := p.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, StatusUnreachable, m.Status)
	assert.Equal(t, 3.0, m.Metrics["waiting_queue"], "last good snapshot retained on scrape failure")
}

func TestConcurrentReadsAndWritesDoNotRace(t *testing.T) {
	p := NewPool(PoolKey{Partition: "Common", Name: "p"}, EngineVLLM, testEndpoint(), Algorithm{Name: "s1"}, FallbackConfig{})
	keys := make([]MemberKey, 0, 50)
	for i := 0; i < 50; i++ {
		keys = append(keys, MemberKey{IP: "10.0.0.1", Port: 8000 + i})
	}
	p.ReconcileMembers(keys)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Members()
		}()
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.UpdateScores(map[MemberKey]float64{{IP: "10.0.0.1", Port: 8000 + i%50}: float64(i) / 20})
		}(i)
	}
	wg.Wait()
}

func TestStoreAddOrUpdatePoolPreservesStateAcrossConfigUpdate(t *testing.T) {
	s := NewStore()
	key := PoolKey{Partition: "Common", Name: "pool-a"}
	p := s.AddOrUpdatePool(key, EngineVLLM, testEndpoint(), Algorithm{Name: "s1", WA: 0.5, WB: 0.5}, FallbackConfig{})
	p.ReconcileMembers([]MemberKey{{IP: "10.0.0.1", Port: 8000}})
	p.UpdateScores(map[MemberKey]float64{{IP: "10.0.0.1", Port: 8000}: 0.9})

	p2 := s.AddOrUpdatePool(key, EngineVLLM, testEndpoint(), Algorithm{Name: "s1", WA: 0.1, WB: 0.9}, FallbackConfig{})
	assert.Same(t, p, p2, "reload must reuse the same pool instance")

	m, ok := p2.Lookup(MemberKey{IP: "10.0.0.1", Port: 8000})
	require.True(t, ok)
	assert.Equal(t, 0.9, m.Score, "membership/scores survive a config-only reload")

	_, algo, _ := p2.Config()
	assert.Equal(t, 0.1, algo.WA)
}

func TestStoreRemovePool(t *testing.T) {
	s := NewStore()
	key := PoolKey{Partition: "Common", Name: "pool-a"}
	s.AddOrUpdatePool(key, EngineVLLM, testEndpoint(), Algorithm{Name: "s1"}, FallbackConfig{})
	require.Len(t, s.All(), 1)
	s.RemovePool(key)
	assert.Len(t, s.All(), 0)
	_, ok := s.Get(key)
	assert.False(t, ok)
}
