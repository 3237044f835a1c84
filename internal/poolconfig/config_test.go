package poolconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
f5:
  host: ltm.example.com
pools:
  - name: chat-pool
    engine_type: VLLM
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Global.Interval)
	assert.Equal(t, "0.0.0.0", cfg.Global.APIHost)
	assert.Equal(t, 8080, cfg.Global.APIPort)
	assert.Equal(t, 10, cfg.Scheduler.PoolFetchInterval)
	assert.Equal(t, 1000, cfg.Scheduler.MetricsFetchInterval)
	require.Len(t, cfg.Modes, 1)
	assert.Equal(t, "s1", cfg.Modes[0].Name)
	assert.Equal(t, "Common", cfg.Pools[0].Partition)
	assert.Equal(t, "/metrics", cfg.Pools[0].Metrics.Path)
}

func TestParseMissingF5HostIsConfigError(t *testing.T) {
	_, err := Parse([]byte("pools:\n  - name: p\n    engine_type: VLLM\n"))
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestParseMissingPoolsIsConfigError(t *testing.T) {
	_, err := Parse([]byte("f5:\n  host: x\n"))
	require.Error(t, err)
}

func TestParseRejectsUnsupportedMode(t *testing.T) {
	yaml := minimalYAML + "modes:\n  - name: bogus\n"
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
}

func TestParseThreeMetricModeRequiresWG(t *testing.T) {
	yaml := `
f5:
  host: ltm.example.com
modes:
  - name: s2
    w_a: 0.4
    w_b: 0.3
pools:
  - name: p
    engine_type: VLLM
    mode_name: s2
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
}

func TestParsePoolReferencingUnknownModeFails(t *testing.T) {
	yaml := minimalYAML + "    mode_name: does_not_exist\n"
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
}

func TestModeForFallsBackToFirstMode(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	mode := cfg.ModeFor(cfg.Pools[0])
	assert.Equal(t, "s1", mode.Name)
}

func TestIsThreeMetricAndDynamicWaiting(t *testing.T) {
	assert.True(t, IsThreeMetric("s2_advanced"))
	assert.False(t, IsThreeMetric("s1_advanced"))
	assert.True(t, IsDynamicWaiting("s2_dynamic_waiting"))
	assert.False(t, IsDynamicWaiting("s2_advanced"))
}

func TestParseFailsWhenF5PasswordEnvIsUnset(t *testing.T) {
	os.Unsetenv("INFERENCE_SCHEDULER_TEST_UNSET_F5_PWD")
	yaml := `
f5:
  host: ltm.example.com
  password_env: INFERENCE_SCHEDULER_TEST_UNSET_F5_PWD
pools:
  - name: p
    engine_type: VLLM
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestParseSucceedsWhenF5PasswordEnvIsSet(t *testing.T) {
	os.Setenv("INFERENCE_SCHEDULER_TEST_F5_PWD", "hunter2")
	defer os.Unsetenv("INFERENCE_SCHEDULER_TEST_F5_PWD")
	yaml := `
f5:
  host: ltm.example.com
  password_env: INFERENCE_SCHEDULER_TEST_F5_PWD
pools:
  - name: p
    engine_type: VLLM
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, "INFERENCE_SCHEDULER_TEST_F5_PWD", cfg.F5.PasswordEnv)
}

func TestParseFailsWhenMetricPwdEnvIsUnset(t *testing.T) {
	os.Unsetenv("INFERENCE_SCHEDULER_TEST_UNSET_METRIC_PWD")
	yaml := minimalYAML + `    metrics:
      metric_pwd_env: INFERENCE_SCHEDULER_TEST_UNSET_METRIC_PWD
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestParseAllowsMissingMetricPwdEnvField(t *testing.T) {
	_, err := Parse([]byte(minimalYAML))
	require.NoError(t, err, "metric_pwd_env is optional; omitting it entirely must not be a startup error")
}

func TestResolveSecretEmptyNameIsNotAnError(t *testing.T) {
	v, err := ResolveSecret("")
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

func TestResolveSecretMissingVariableIsConfigError(t *testing.T) {
	os.Unsetenv("INFERENCE_SCHEDULER_TEST_RESOLVE_MISSING")
	_, err := ResolveSecret("INFERENCE_SCHEDULER_TEST_RESOLVE_MISSING")
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
