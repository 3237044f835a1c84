package poolconfig

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Pranshu258/inference-scheduler/internal/procmetrics"
)

// Watcher polls a config file's modification time every global.interval
// seconds and re-parses it on change. A parse failure during hot-reload is
// logged and the previous configuration is retained — it never replaces a
// good config with a broken one.
type Watcher struct {
	path     string
	interval time.Duration
	logger   zerolog.Logger
	current  *AppConfig
	modTime  time.Time
}

// NewWatcher loads the initial configuration (a load failure here is fatal,
// per spec.md §7: ConfigError is fatal at startup).
func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	info, statErr := os.Stat(path)
	var mt time.Time
	if statErr == nil {
		mt = info.ModTime()
	}
	return &Watcher{
		path:     path,
		interval: time.Duration(cfg.Global.Interval) * time.Second,
		logger:   logger,
		current:  cfg,
		modTime:  mt,
	}, nil
}

// Current returns the most recently accepted configuration.
func (w *Watcher) Current() *AppConfig { return w.current }

// Watch blocks, invoking onChange whenever a new, valid configuration is
// detected, until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, onChange func(*AppConfig)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := w.interval
			w.pollOnce(onChange)
			if w.interval != before && w.interval > 0 {
				ticker.Reset(w.interval)
			}
		}
	}
}

func (w *Watcher) pollOnce(onChange func(*AppConfig)) {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("config stat failed, keeping previous config")
		return
	}
	if !info.ModTime().After(w.modTime) {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("config reload failed, retaining previous configuration")
		return
	}
	w.modTime = info.ModTime()
	w.current = cfg
	if w.interval != time.Duration(cfg.Global.Interval)*time.Second {
		w.interval = time.Duration(cfg.Global.Interval) * time.Second
	}
	w.logger.Info().Msg("configuration reloaded")
	procmetrics.IncConfigReload()
	onChange(cfg)
}
