// Command scheduler is the inference-scheduler sidecar process: it loads
// pool configuration, runs the membership fetcher and metrics collector for
// every configured pool, and serves the selection/status HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/Pranshu258/inference-scheduler/internal/httpapi"
	"github.com/Pranshu258/inference-scheduler/internal/ltm"
	"github.com/Pranshu258/inference-scheduler/internal/logging"
	"github.com/Pranshu258/inference-scheduler/internal/metricscollector"
	"github.com/Pranshu258/inference-scheduler/internal/poolconfig"
	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
	"github.com/Pranshu258/inference-scheduler/internal/procmetrics"
	"github.com/Pranshu258/inference-scheduler/internal/selector"
)

func main() {
	configPath := pflag.String("config", "config.yaml", "path to the scheduler YAML configuration file")
	logLevel := pflag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	logFile := pflag.String("log-file", "", "override the configured log file path")
	pflag.Parse()

	_ = godotenv.Load()

	bootstrapLevel := *logLevel
	if bootstrapLevel == "" {
		bootstrapLevel = "info"
	}
	logger, err := logging.New(bootstrapLevel, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scheduler: setting up logging: %v\n", err)
		os.Exit(1)
	}

	if err := run(*configPath, *logLevel, *logFile, logger); err != nil {
		logger.Fatal().Err(err).Msg("scheduler exiting")
	}
}

func run(configPath, levelOverride, logFile string, logger zerolog.Logger) error {
	procmetrics.Init()

	watcher, err := poolconfig.NewWatcher(configPath, logger)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := watcher.Current()

	if levelOverride == "" && cfg.Global.LogLevel != "" {
		if relevel, err := logging.New(cfg.Global.LogLevel, logFile); err == nil {
			logger = relevel
		}
	}

	store := poolstore.NewStore()

	f5Password, err := poolconfig.ResolveSecret(cfg.F5.PasswordEnv)
	if err != nil {
		return fmt.Errorf("resolving f5 credentials: %w", err)
	}
	ltmClient := ltm.New(ltm.Config{
		Host:     cfg.F5.Host,
		Port:     cfg.F5.Port,
		Username: cfg.F5.Username,
		Password: f5Password,
	}, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ltmClient.DeleteToken(ctx)
	}()

	fetcher := ltm.NewFetcher(ltmClient, store, logger)
	collector := metricscollector.New(store, logger)
	sel := selector.New(store)
	api := httpapi.New(store, sel, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := newRuntime(ctx, cfg, store, fetcher, collector, logger)
	rt.reconcile(cfg)
	go watcher.Watch(ctx, rt.reconcile)

	router := mux.NewRouter()
	router.Handle("/metrics", procmetrics.Handler())
	router.PathPrefix("/").Handler(api.Router())

	addr := fmt.Sprintf("%s:%d", cfg.Global.APIHost, cfg.Global.APIPort)
	srv := &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("scheduler HTTP API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received, draining")
	case err := <-errCh:
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}
	return nil
}

// poolRun is the running state for one pool's background loops: the
// context those loops select on plus the func that cancels it, kept
// together so the run's context can be inspected after a restart or
// removal to check that it was cancelled.
type poolRun struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// runtime tracks the background fetch/scrape goroutines, one pair per
// configured pool, so a hot reload can start newly added pools and stop
// ones that disappeared from configuration without disturbing the rest.
type runtime struct {
	ctx       context.Context
	store     *poolstore.Store
	fetcher   *ltm.Fetcher
	collector *metricscollector.Collector
	logger    zerolog.Logger

	mu             sync.Mutex
	runs           map[poolstore.PoolKey]poolRun
	fetchInterval  time.Duration
	scrapeInterval time.Duration
}

func newRuntime(ctx context.Context, cfg *poolconfig.AppConfig, store *poolstore.Store, fetcher *ltm.Fetcher, collector *metricscollector.Collector, logger zerolog.Logger) *runtime {
	return &runtime{
		ctx:       ctx,
		store:     store,
		fetcher:   fetcher,
		collector: collector,
		logger:    logger,
		runs:      make(map[poolstore.PoolKey]poolRun),
	}
}

// reconcile applies cfg to the pool store, starts/stops per-pool goroutines
// to match, and restarts any already-running pool whose fetch/scrape
// interval changed. Safe to call both at startup and on every hot reload;
// pool_fetch_interval/metrics_fetch_interval are among the mutable fields
// spec.md §4.4/§9 require a reload to pick up without tearing down
// membership or metrics state — restarting the control loops does not
// touch the pool store.
func (rt *runtime) reconcile(cfg *poolconfig.AppConfig) {
	applied, err := cfg.Apply(rt.store)
	if err != nil {
		rt.logger.Error().Err(err).Msg("applying configuration failed, retaining previous pool state")
		return
	}
	newFetch := time.Duration(cfg.Scheduler.PoolFetchInterval) * time.Second
	newScrape := time.Duration(cfg.Scheduler.MetricsFetchInterval) * time.Millisecond

	rt.mu.Lock()
	intervalsChanged := (rt.fetchInterval != 0 || rt.scrapeInterval != 0) &&
		(newFetch != rt.fetchInterval || newScrape != rt.scrapeInterval)
	rt.fetchInterval = newFetch
	rt.scrapeInterval = newScrape
	for key, run := range rt.runs {
		if !applied[key] {
			run.cancel()
			delete(rt.runs, key)
			rt.store.RemovePool(key)
		}
	}
	running := make([]poolstore.PoolKey, 0, len(rt.runs))
	for key := range rt.runs {
		running = append(running, key)
	}
	rt.mu.Unlock()

	if intervalsChanged {
		for _, key := range running {
			rt.logger.Info().Str("pool", key.String()).Msg("restarting pool background loops for changed interval")
			rt.restartPool(key)
		}
	}

	for key := range applied {
		rt.mu.Lock()
		_, alreadyRunning := rt.runs[key]
		rt.mu.Unlock()
		if alreadyRunning {
			continue
		}
		rt.startPool(key)
	}
}

// startPool launches one pool's fetcher/collector goroutines under the
// runtime's current intervals.
func (rt *runtime) startPool(key poolstore.PoolKey) {
	rt.mu.Lock()
	pctx, cancel := context.WithCancel(rt.ctx)
	rt.runs[key] = poolRun{ctx: pctx, cancel: cancel}
	fetchInterval := rt.fetchInterval
	scrapeInterval := rt.scrapeInterval
	rt.mu.Unlock()

	rt.logger.Info().Str("pool", key.String()).Msg("starting pool background loops")
	go rt.fetcher.Run(pctx, key, fetchInterval)
	go rt.collector.Run(pctx, key, scrapeInterval)
}

// restartPool cancels a running pool's goroutines and relaunches them,
// picking up the runtime's latest intervals. The pool store is untouched.
func (rt *runtime) restartPool(key poolstore.PoolKey) {
	rt.mu.Lock()
	run, ok := rt.runs[key]
	delete(rt.runs, key)
	rt.mu.Unlock()
	if ok {
		run.cancel()
	}
	rt.startPool(key)
}
