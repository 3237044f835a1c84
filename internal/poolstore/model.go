// Package poolstore is the in-memory source of truth for pools, members,
// raw metrics, scores, and per-pool configuration. Each pool owns its own
// read-write lock so readers never block each other and writes within one
// pool are serialized; the top-level registry has its own, separate lock.
package poolstore

import (
	"fmt"
	"time"
)

// EngineType enumerates the inference engines this process understands.
type EngineType string

const (
	EngineVLLM   EngineType = "VLLM"
	EngineSGLang EngineType = "SGLANG"
)

// Status is a pool member's health as observed by the last metrics scrape.
type Status string

const (
	StatusReady       Status = "READY"
	StatusUnreachable Status = "UNREACHABLE"
	StatusParseError  Status = "PARSE_ERROR"
)

// EngineMetricNames is the closed table mapping semantic metric names to the
// literal Prometheus metric names each engine kind exposes (spec.md §3).
var EngineMetricNames = map[EngineType]map[string]string{
	EngineVLLM: {
		"waiting_queue": "vllm:num_requests_waiting",
		"cache_usage":   "vllm:gpu_cache_usage_perc",
		"running_req":   "vllm:num_requests_running",
	},
	EngineSGLang: {
		"waiting_queue": "sglang:num_queue_reqs",
		"cache_usage":   "sglang:token_usage",
		"running_req":   "sglang:num_running_reqs",
	},
}

// MemberKey identifies a member within its pool.
type MemberKey struct {
	IP   string
	Port int
}

func (k MemberKey) String() string { return fmt.Sprintf("%s:%d", k.IP, k.Port) }

// PoolKey identifies a pool process-wide.
type PoolKey struct {
	Partition string
	Name      string
}

func (k PoolKey) String() string { return k.Partition + "/" + k.Name }

// MetricsEndpoint is the resolved (secrets included) per-pool scrape
// template.
type MetricsEndpoint struct {
	Schema         string
	Port           *int // nil means "use the member's own port"
	Path           string
	Timeout        time.Duration
	BearerKey      string
	BasicAuthUser  string
	BasicAuthPass  string
}

// FallbackConfig is the per-pool fallback/threshold policy.
type FallbackConfig struct {
	PoolFallback                bool
	MemberRunningReqThreshold   *float64
	MemberWaitingQueueThreshold *float64
}

// Algorithm is the score engine's algorithm descriptor: name plus its
// recognized numeric parameters (spec.md §3).
type Algorithm struct {
	Name            string
	WA              float64
	WB              float64
	WG              float64
	TransitionPoint float64
	Steepness       float64
}

// Member is one pool member's live state.
type Member struct {
	Key               MemberKey
	Metrics           map[string]float64
	Score             float64
	LastMetricsUpdate time.Time
	LastScoreUpdate   time.Time
	Status            Status
}

func newMember(key MemberKey) *Member {
	return &Member{
		Key:     key,
		Metrics: map[string]float64{},
		Score:   0,
		Status:  StatusReady,
	}
}

func (m *Member) clone() *Member {
	cp := *m
	cp.Metrics = make(map[string]float64, len(m.Metrics))
	for k, v := range m.Metrics {
		cp.Metrics[k] = v
	}
	return &cp
}

// ReconcileResult summarizes a membership reconciliation pass.
type ReconcileResult struct {
	Added     int
	Removed   int
	Preserved int
}
