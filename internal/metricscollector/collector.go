// Package metricscollector scrapes each pool member's metrics endpoint on a
// fixed interval, parses the Prometheus text exposition subset the engines
// emit, and feeds the result back into the pool store and score engine.
package metricscollector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
	"github.com/Pranshu258/inference-scheduler/internal/procmetrics"
	"github.com/Pranshu258/inference-scheduler/internal/scoreengine"
)

// maxConcurrentScrapes is the hard cap on per-tick parallel scrapes within
// one pool, per spec.md §5 ("default equal to member count capped at a
// small constant, e.g. 64").
const maxConcurrentScrapes = 64

// Collector runs the metrics-scrape loop for every pool in store.
type Collector struct {
	store  *poolstore.Store
	logger zerolog.Logger

	inFlight sync.Map // poolstore.PoolKey -> *sync.Mutex
}

// New builds a Collector over store.
func New(store *poolstore.Store, logger zerolog.Logger) *Collector {
	return &Collector{store: store, logger: logger.With().Str("component", "metricscollector").Logger()}
}

// Run drives one pool's scrape loop until ctx is cancelled. interval is the
// pool's configured metrics_fetch_interval. A tick that arrives while the
// previous tick is still scraping is skipped outright (ticks never overlap
// per pool, per spec.md §4.2).
func (c *Collector) Run(ctx context.Context, key poolstore.PoolKey, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, key)
		}
	}
}

func (c *Collector) tick(ctx context.Context, key poolstore.PoolKey) {
	muAny, _ := c.inFlight.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	if !mu.TryLock() {
		c.logger.Debug().Str("pool", key.String()).Msg("previous scrape tick still running, skipping")
		return
	}
	defer mu.Unlock()

	pool, ok := c.store.Get(key)
	if !ok {
		return
	}

	tickID := uuid.NewString()
	c.logger.Debug().Str("pool", key.String()).Str("tick_id", tickID).Msg("scrape tick starting")
	c.scrapeAll(ctx, pool)
	c.rescore(pool)
}

// scrapeAll scrapes every member of pool concurrently, bounded by
// maxConcurrentScrapes, and writes each result back into the pool
// regardless of whether sibling scrapes succeeded.
func (c *Collector) scrapeAll(ctx context.Context, pool *poolstore.Pool) {
	members := pool.Members()
	if len(members) == 0 {
		return
	}

	endpoint, _, _ := pool.Config()
	engineType := pool.EngineType()
	client := clientFor(endpoint)

	limit := len(members)
	if limit > maxConcurrentScrapes {
		limit = maxConcurrentScrapes
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, m := range members {
		member := m
		g.Go(func() error {
			c.scrapeOne(gctx, client, pool, member.Key, endpoint, engineType)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Collector) scrapeOne(ctx context.Context, client *http.Client, pool *poolstore.Pool, key poolstore.MemberKey, endpoint poolstore.MetricsEndpoint, engineType poolstore.EngineType) {
	url := buildURL(endpoint, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Error().Err(err).Str("member", key.String()).Msg("building scrape request")
		pool.UpdateMetrics(key, nil, poolstore.StatusUnreachable)
		return
	}
	applyAuth(req, endpoint)

	resp, err := client.Do(req)
	if err != nil {
		pool.UpdateMetrics(key, nil, poolstore.StatusUnreachable)
		procmetrics.IncMetricsScrapeFailure(pool.Key().String(), "unreachable")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pool.UpdateMetrics(key, nil, poolstore.StatusUnreachable)
		procmetrics.IncMetricsScrapeFailure(pool.Key().String(), "unreachable")
		return
	}

	raw, err := parsePrometheusText(resp.Body)
	if err != nil {
		pool.UpdateMetrics(key, nil, poolstore.StatusParseError)
		procmetrics.IncMetricsScrapeFailure(pool.Key().String(), "parse_error")
		return
	}

	names := poolstore.EngineMetricNames[engineType]
	snapshot := make(map[string]float64, len(names))
	for semantic, wireName := range names {
		if v, ok := raw[wireName]; ok {
			snapshot[semantic] = v
		}
	}
	pool.UpdateMetrics(key, snapshot, poolstore.StatusReady)
}

// rescore recomputes every member's score after a scrape tick, per
// spec.md §4.3's rescore trigger.
func (c *Collector) rescore(pool *poolstore.Pool) {
	start := time.Now()
	members := pool.Members()
	_, algo, _ := pool.Config()

	inputs := make([]scoreengine.MemberInput, 0, len(members))
	for _, m := range members {
		inputs = append(inputs, scoreengine.MemberInput{Key: m.Key, Metrics: m.Metrics, Status: m.Status})
	}
	scores := scoreengine.Compute(inputs, algo)
	pool.UpdateScores(scores)
	procmetrics.ObserveRescoreDuration(pool.Key().String(), time.Since(start).Seconds())
}

func buildURL(endpoint poolstore.MetricsEndpoint, key poolstore.MemberKey) string {
	port := key.Port
	if endpoint.Port != nil {
		port = *endpoint.Port
	}
	path := endpoint.Path
	if path == "" {
		path = "/metrics"
	}
	return fmt.Sprintf("%s://%s:%d%s", endpoint.Schema, key.IP, port, path)
}

func applyAuth(req *http.Request, endpoint poolstore.MetricsEndpoint) {
	if endpoint.BearerKey != "" {
		req.Header.Set("Authorization", "Bearer "+endpoint.BearerKey)
		return
	}
	if endpoint.BasicAuthUser != "" {
		req.SetBasicAuth(endpoint.BasicAuthUser, endpoint.BasicAuthPass)
	}
}

func clientFor(endpoint poolstore.MetricsEndpoint) *http.Client {
	timeout := endpoint.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	transport := &http.Transport{}
	if endpoint.Schema == "https" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // engine sidecars typically present self-signed certs
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
