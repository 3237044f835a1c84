// Package httpapi exposes the scheduler's inbound HTTP surface: selection,
// status, health, simulate, and analyze. The request path never returns a
// 5xx for upstream data problems (spec.md §7); callers always get a
// well-formed response, with "none" standing in for "nothing usable".
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
	"github.com/Pranshu258/inference-scheduler/internal/procmetrics"
	"github.com/Pranshu258/inference-scheduler/internal/selector"
)

// Server wires the gorilla/mux router to the pool store and selector.
type Server struct {
	store    *poolstore.Store
	selector *selector.Selector
	logger   zerolog.Logger
}

// New builds a Server. Call Router to obtain the http.Handler to serve.
func New(store *poolstore.Store, sel *selector.Selector, logger zerolog.Logger) *Server {
	return &Server{store: store, selector: sel, logger: logger.With().Str("component", "httpapi").Logger()}
}

// Router builds the mux.Router implementing all six endpoints.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/scheduler/select", s.handleSelect).Methods(http.MethodPost)
	r.HandleFunc("/pools/{name}/{partition}/status", s.handlePoolStatus).Methods(http.MethodGet)
	r.HandleFunc("/pools/status", s.handleAllPoolsStatus).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/pools/{name}/{partition}/simulate", s.handleSimulate).Methods(http.MethodPost)
	r.HandleFunc("/pools/{name}/{partition}/analyze", s.handleAnalyze).Methods(http.MethodPost)
	return r
}

type selectRequest struct {
	PoolName  string   `json:"pool_name"`
	Partition string   `json:"partition"`
	Members   []string `json:"members"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.PoolName == "" || req.Partition == "" {
		http.Error(w, "pool_name and partition are required", http.StatusBadRequest)
		return
	}

	keys, malformed := parseMemberKeys(req.Members)
	if malformed {
		http.Error(w, "members must be \"ip:port\" strings", http.StatusBadRequest)
		return
	}

	out := s.selector.Select(poolstore.PoolKey{Partition: req.Partition, Name: req.PoolName}, keys)
	procmetrics.IncSelection(req.Partition+"/"+req.PoolName, out)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out))
}

// parseMemberKeys parses a list of "ip:port" strings. A malformed entry
// makes the whole request 400 rather than being silently dropped, since the
// caller's candidate set is meant to be authoritative.
func parseMemberKeys(raw []string) ([]poolstore.MemberKey, bool) {
	keys := make([]poolstore.MemberKey, 0, len(raw))
	for _, entry := range raw {
		idx := strings.LastIndex(entry, ":")
		if idx < 0 {
			return nil, true
		}
		port, err := strconv.Atoi(entry[idx+1:])
		if err != nil {
			return nil, true
		}
		keys = append(keys, poolstore.MemberKey{IP: entry[:idx], Port: port})
	}
	return keys, false
}

type memberStatusView struct {
	IP         string             `json:"ip"`
	Port       int                `json:"port"`
	Score      float64            `json:"score"`
	Metrics    map[string]float64 `json:"metrics"`
	Status     string             `json:"status"`
	LastUpdate string             `json:"last_update"`
}

type poolStatusView struct {
	Name       string             `json:"name"`
	Partition  string             `json:"partition"`
	EngineType string             `json:"engine_type"`
	Members    []memberStatusView `json:"members"`
}

func poolStatus(p *poolstore.Pool) poolStatusView {
	key := p.Key()
	members := p.Members()
	views := make([]memberStatusView, 0, len(members))
	for _, m := range members {
		last := m.LastMetricsUpdate
		lastStr := ""
		if !last.IsZero() {
			lastStr = last.UTC().Format(time.RFC3339)
		}
		views = append(views, memberStatusView{
			IP:         m.Key.IP,
			Port:       m.Key.Port,
			Score:      m.Score,
			Metrics:    m.Metrics,
			Status:     string(m.Status),
			LastUpdate: lastStr,
		})
	}
	return poolStatusView{Name: key.Name, Partition: key.Partition, EngineType: string(p.EngineType()), Members: views}
}

func (s *Server) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := poolstore.PoolKey{Name: vars["name"], Partition: vars["partition"]}
	p, ok := s.store.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "pool not found"})
		return
	}
	writeJSON(w, http.StatusOK, poolStatus(p))
}

func (s *Server) handleAllPoolsStatus(w http.ResponseWriter, r *http.Request) {
	pools := s.store.All()
	views := make([]poolStatusView, 0, len(pools))
	for _, p := range pools {
		views = append(views, poolStatus(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": views})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "message": "scheduler is serving requests"})
}

func iterationsParam(r *http.Request) int {
	raw := r.URL.Query().Get("iterations")
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 1000
	}
	return n
}

func decodeSelectBody(r *http.Request) (selectRequest, []poolstore.MemberKey, bool, error) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, nil, false, err
	}
	keys, malformed := parseMemberKeys(req.Members)
	return req, keys, malformed, nil
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, keys, malformed, err := decodeSelectBody(r)
	if err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if malformed {
		http.Error(w, "members must be \"ip:port\" strings", http.StatusBadRequest)
		return
	}

	iterations := iterationsParam(r)
	key := poolstore.PoolKey{Name: vars["name"], Partition: vars["partition"]}
	counts, outcome := s.selector.Simulate(key, keys, iterations)
	if outcome != "" {
		writeJSON(w, http.StatusOK, map[string]any{"results": map[string]int{}, "iterations": iterations, "outcome": string(outcome)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": counts, "iterations": iterations})
}

type analyzeMemberView struct {
	TheoreticalProbability float64 `json:"theoretical_probability"`
	ActualProbability      float64 `json:"actual_probability"`
	SelectionCount         int     `json:"selection_count"`
	Deviation              float64 `json:"deviation"`
	DeviationPercentage    float64 `json:"deviation_percentage"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	_, keys, malformed, err := decodeSelectBody(r)
	if err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if malformed {
		http.Error(w, "members must be \"ip:port\" strings", http.StatusBadRequest)
		return
	}

	iterations := iterationsParam(r)
	key := poolstore.PoolKey{Name: vars["name"], Partition: vars["partition"]}
	report, outcome := s.selector.Analyze(key, keys, iterations)
	if outcome != "" {
		writeJSON(w, http.StatusOK, map[string]any{"outcome": string(outcome), "iterations": iterations})
		return
	}

	members := make(map[string]analyzeMemberView, len(report.Members))
	for _, m := range report.Members {
		members[m.Member] = analyzeMemberView{
			TheoreticalProbability: m.TheoreticalProbability,
			ActualProbability:      m.ActualProbability,
			SelectionCount:         m.SelectionCount,
			Deviation:              m.Deviation,
			DeviationPercentage:    m.DeviationPercentage,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"overall_statistics": map[string]float64{
			"mean_abs_deviation": report.Overall.MeanAbsDeviation,
			"max_abs_deviation":  report.Overall.MaxAbsDeviation,
			"min_abs_deviation":  report.Overall.MinAbsDeviation,
			"stddev_deviation":   report.Overall.StdDevDeviation,
		},
		"quality_assessment": string(report.Quality),
		"quality_score":      report.QualityScore,
		"recommendations":    report.Recommendations,
		"iterations":         report.Iterations,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
