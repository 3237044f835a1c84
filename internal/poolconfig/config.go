// Package poolconfig loads and validates the scheduler's YAML configuration
// file and exposes the typed structures every other package hot-reloads
// against.
package poolconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GlobalConfig controls the process-wide polling cadence and HTTP surface.
type GlobalConfig struct {
	Interval int    `yaml:"interval"`
	APIHost  string `yaml:"api_host"`
	APIPort  int    `yaml:"api_port"`
	LogLevel string `yaml:"log_level"`
}

// F5Config points at the LTM control API and its credentials.
type F5Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// SchedulerConfig sets the two background tick cadences.
type SchedulerConfig struct {
	PoolFetchInterval    int `yaml:"pool_fetch_interval"`    // seconds
	MetricsFetchInterval int `yaml:"metrics_fetch_interval"` // milliseconds
}

// ModeConfig is an algorithm descriptor: a name plus its recognized
// parameters. Fields absent from YAML keep their documented defaults.
type ModeConfig struct {
	Name            string  `yaml:"name"`
	WA              float64 `yaml:"w_a"`
	WB              float64 `yaml:"w_b"`
	WG              float64 `yaml:"w_g"`
	TransitionPoint float64 `yaml:"transition_point"`
	Steepness       float64 `yaml:"steepness"`
}

// FallbackConfig is the per-pool fallback and threshold policy.
type FallbackConfig struct {
	PoolFallback                bool     `yaml:"pool_fallback"`
	MemberRunningReqThreshold   *float64 `yaml:"member_running_req_threshold"`
	MemberWaitingQueueThreshold *float64 `yaml:"member_waiting_queue_threshold"`
}

// MetricsEndpointConfig is the per-pool metrics-scrape URL template.
type MetricsEndpointConfig struct {
	Schema       string `yaml:"schema"`
	Port         *int   `yaml:"port"`
	Path         string `yaml:"path"`
	Timeout      int    `yaml:"timeout"` // seconds
	APIKey       string `yaml:"APIkey"`
	MetricUser   string `yaml:"metric_user"`
	MetricPwdEnv string `yaml:"metric_pwd_env"`
}

// PoolConfig is one configured pool.
type PoolConfig struct {
	Name       string                `yaml:"name"`
	Partition  string                `yaml:"partition"`
	EngineType string                `yaml:"engine_type"`
	Fallback   FallbackConfig        `yaml:"fallback"`
	Metrics    MetricsEndpointConfig `yaml:"metrics"`
	ModeName   string                `yaml:"mode_name"`
}

// AppConfig is the top-level configuration document.
type AppConfig struct {
	Global    GlobalConfig    `yaml:"global"`
	F5        F5Config        `yaml:"f5"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Modes     []ModeConfig    `yaml:"modes"`
	Pools     []PoolConfig    `yaml:"pools"`
}

// supportedModes is the closed set from spec §4.3.2.
var supportedModes = map[string]bool{
	"s1": true, "s1_enhanced": true, "s1_adaptive": true, "s1_ratio": true,
	"s1_precise": true, "s1_nonlinear": true, "s1_balanced": true,
	"s1_adaptive_distribution": true, "s1_advanced": true, "s1_dynamic_waiting": true,
	"s2": true, "s2_enhanced": true, "s2_nonlinear": true, "s2_adaptive": true,
	"s2_advanced": true, "s2_dynamic_waiting": true,
}

// threeMetricModes need w_g and count running_req among their inputs.
var threeMetricModes = map[string]bool{
	"s2": true, "s2_enhanced": true, "s2_nonlinear": true, "s2_adaptive": true,
	"s2_advanced": true, "s2_dynamic_waiting": true,
}

var dynamicWaitingModes = map[string]bool{
	"s1_dynamic_waiting": true, "s2_dynamic_waiting": true,
}

// ConfigError signals a malformed or missing required field. Fatal at
// startup; during hot-reload it is logged and the previous config retained.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }

func configErrorf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ResolveSecret looks up the environment variable named envName. An empty
// envName means no secret is configured there, which is valid for the
// optional metric_pwd_env field. A non-empty envName that isn't set in the
// environment is a startup error per spec.md line 187 ("missing required
// secrets are startup errors"), not a silent empty string.
func ResolveSecret(envName string) (string, error) {
	if envName == "" {
		return "", nil
	}
	v, ok := os.LookupEnv(envName)
	if !ok {
		return "", configErrorf("required secret environment variable %s is not set", envName)
	}
	return v, nil
}

// defaults returns a config holding the documented defaults, mirroring the original
// Python loader's dataclass defaults field-by-field.
func defaults() AppConfig {
	return AppConfig{
		Global: GlobalConfig{
			Interval: 60,
			APIHost:  "0.0.0.0",
			APIPort:  8080,
			LogLevel: "INFO",
		},
		F5: F5Config{Port: 443, Username: "admin"},
		Scheduler: SchedulerConfig{
			PoolFetchInterval:    10,
			MetricsFetchInterval: 1000,
		},
		Modes: []ModeConfig{{Name: "s1", WA: 0.5, WB: 0.5, TransitionPoint: 30, Steepness: 1}},
	}
}

// Load reads and validates the YAML document at path.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("reading config file %s: %v", path, err)
	}
	return Parse(data)
}

// Parse validates raw YAML bytes into an AppConfig, applying defaults for
// absent fields and erroring on any missing required field.
func Parse(data []byte) (*AppConfig, error) {
	cfg := defaults()
	// Unmarshal onto a copy that preserves the zero-interval defaults for
	// scalars the document omits entirely, then patch in documented
	// per-section defaults because yaml.Unmarshal zeroes missing sections.
	var raw struct {
		Global    *GlobalConfig    `yaml:"global"`
		F5        *F5Config        `yaml:"f5"`
		Scheduler *SchedulerConfig `yaml:"scheduler"`
		Modes     []ModeConfig     `yaml:"modes"`
		Pools     []PoolConfig     `yaml:"pools"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, configErrorf("config file format error: %v", err)
	}

	if raw.Global != nil {
		g := *raw.Global
		if g.Interval == 0 {
			g.Interval = cfg.Global.Interval
		}
		if g.APIHost == "" {
			g.APIHost = cfg.Global.APIHost
		}
		if g.APIPort == 0 {
			g.APIPort = cfg.Global.APIPort
		}
		if g.LogLevel == "" {
			g.LogLevel = cfg.Global.LogLevel
		}
		cfg.Global = g
	}

	if raw.F5 == nil || raw.F5.Host == "" {
		return nil, configErrorf("missing required configuration item: f5.host")
	}
	cfg.F5 = *raw.F5
	if cfg.F5.Port == 0 {
		cfg.F5.Port = 443
	}
	if cfg.F5.Username == "" {
		cfg.F5.Username = "admin"
	}
	if _, err := ResolveSecret(cfg.F5.PasswordEnv); err != nil {
		return nil, err
	}

	if raw.Scheduler != nil {
		s := *raw.Scheduler
		if s.PoolFetchInterval == 0 {
			s.PoolFetchInterval = cfg.Scheduler.PoolFetchInterval
		}
		if s.MetricsFetchInterval == 0 {
			s.MetricsFetchInterval = cfg.Scheduler.MetricsFetchInterval
		}
		cfg.Scheduler = s
	}

	if len(raw.Modes) > 0 {
		modes := make([]ModeConfig, 0, len(raw.Modes))
		for _, m := range raw.Modes {
			if m.WA == 0 && m.WB == 0 {
				m.WA, m.WB = 0.5, 0.5
			}
			if m.TransitionPoint == 0 {
				m.TransitionPoint = 30
			}
			if m.Steepness == 0 {
				m.Steepness = 1
			}
			if !supportedModes[m.Name] {
				return nil, configErrorf("unsupported algorithm mode: %s", m.Name)
			}
			if threeMetricModes[m.Name] && m.WG == 0 {
				return nil, configErrorf("mode %s requires w_g", m.Name)
			}
			modes = append(modes, m)
		}
		cfg.Modes = modes
	}

	if len(raw.Pools) == 0 {
		return nil, configErrorf("at least one pool must be configured")
	}
	pools := make([]PoolConfig, 0, len(raw.Pools))
	for _, p := range raw.Pools {
		if p.Name == "" {
			return nil, configErrorf("pool configuration missing name field")
		}
		if p.EngineType == "" {
			return nil, configErrorf("pool %s missing engine_type field", p.Name)
		}
		if p.Partition == "" {
			p.Partition = "Common"
		}
		if p.Metrics.Schema == "" {
			p.Metrics.Schema = "http"
		}
		if p.Metrics.Path == "" {
			p.Metrics.Path = "/metrics"
		}
		if p.Metrics.Timeout == 0 {
			p.Metrics.Timeout = 3
		}
		if _, err := ResolveSecret(p.Metrics.MetricPwdEnv); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	cfg.Pools = pools

	if err := validateModeReferences(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validateModeReferences(cfg *AppConfig) error {
	byName := map[string]ModeConfig{}
	for _, m := range cfg.Modes {
		byName[m.Name] = m
	}
	for _, p := range cfg.Pools {
		name := p.ModeName
		if name == "" {
			name = cfg.Modes[0].Name
		}
		if _, ok := byName[name]; !ok {
			return configErrorf("pool %s references unknown mode_name %s", p.Name, name)
		}
	}
	return nil
}

// ModeFor resolves the algorithm descriptor a pool should use: its
// mode_name if set, otherwise the first configured mode.
func (c *AppConfig) ModeFor(p PoolConfig) ModeConfig {
	name := p.ModeName
	if name == "" {
		name = c.Modes[0].Name
	}
	for _, m := range c.Modes {
		if m.Name == name {
			return m
		}
	}
	return c.Modes[0]
}

// IsThreeMetric reports whether algorithm name consumes running_req.
func IsThreeMetric(name string) bool { return threeMetricModes[name] }

// IsDynamicWaiting reports whether algorithm name uses waiting-progressive
// weight adaptation (needs transition_point/steepness).
func IsDynamicWaiting(name string) bool { return dynamicWaitingModes[name] }
