package poolconfig

import (
	"time"

	"github.com/Pranshu258/inference-scheduler/internal/poolstore"
)

// Apply registers or updates every pool in cfg against store and returns the
// set of keys it just applied, so the caller can remove pools that vanished
// from a reloaded configuration (spec.md §3: removal only on disappearance
// from config, never on transient failure). Fails without touching store if
// any pool's metric_pwd_env no longer resolves, so a config that was valid
// at Parse time but whose secret vanished before Apply runs still can't
// silently scrape with an empty credential.
func (c *AppConfig) Apply(store *poolstore.Store) (map[poolstore.PoolKey]bool, error) {
	endpoints := make([]poolstore.MetricsEndpoint, len(c.Pools))
	for i, p := range c.Pools {
		ep, err := endpointFor(p)
		if err != nil {
			return nil, err
		}
		endpoints[i] = ep
	}
	applied := make(map[poolstore.PoolKey]bool, len(c.Pools))
	for i, p := range c.Pools {
		key := poolstore.PoolKey{Partition: p.Partition, Name: p.Name}
		store.AddOrUpdatePool(key, poolstore.EngineType(p.EngineType), endpoints[i], algorithmFor(c, p), fallbackFor(p))
		applied[key] = true
	}
	return applied, nil
}

func endpointFor(p PoolConfig) (poolstore.MetricsEndpoint, error) {
	ep := poolstore.MetricsEndpoint{
		Schema:        p.Metrics.Schema,
		Path:          p.Metrics.Path,
		Timeout:       time.Duration(p.Metrics.Timeout) * time.Second,
		BasicAuthUser: p.Metrics.MetricUser,
		BearerKey:     p.Metrics.APIKey,
	}
	if p.Metrics.Port != nil {
		port := *p.Metrics.Port
		ep.Port = &port
	}
	pwd, err := ResolveSecret(p.Metrics.MetricPwdEnv)
	if err != nil {
		return poolstore.MetricsEndpoint{}, err
	}
	ep.BasicAuthPass = pwd
	return ep, nil
}

func algorithmFor(c *AppConfig, p PoolConfig) poolstore.Algorithm {
	mode := c.ModeFor(p)
	return poolstore.Algorithm{
		Name:            mode.Name,
		WA:              mode.WA,
		WB:              mode.WB,
		WG:              mode.WG,
		TransitionPoint: mode.TransitionPoint,
		Steepness:       mode.Steepness,
	}
}

func fallbackFor(p PoolConfig) poolstore.FallbackConfig {
	return poolstore.FallbackConfig{
		PoolFallback:                p.Fallback.PoolFallback,
		MemberRunningReqThreshold:   p.Fallback.MemberRunningReqThreshold,
		MemberWaitingQueueThreshold: p.Fallback.MemberWaitingQueueThreshold,
	}
}
