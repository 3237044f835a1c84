package metricscollector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrometheusTextSkipsCommentsAndBlankLines(t *testing.T) {
	input := `# HELP vllm:num_requests_waiting number of requests waiting
# TYPE vllm:num_requests_waiting gauge
vllm:num_requests_waiting 3

vllm:gpu_cache_usage_perc 0.42
`
	values, err := parsePrometheusText(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 3.0, values["vllm:num_requests_waiting"])
	assert.Equal(t, 0.42, values["vllm:gpu_cache_usage_perc"])
}

func TestParsePrometheusTextHandlesLabels(t *testing.T) {
	input := `sglang:num_queue_reqs{model="default"} 7 1700000000000`
	values, err := parsePrometheusText(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 7.0, values["sglang:num_queue_reqs"])
}

func TestParsePrometheusTextLastValueWins(t *testing.T) {
	input := "vllm:num_requests_running 1\nvllm:num_requests_running 5\n"
	values, err := parsePrometheusText(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 5.0, values["vllm:num_requests_running"])
}

func TestParsePrometheusTextIgnoresUnparseableLines(t *testing.T) {
	input := "not a metric line at all\nvllm:gpu_cache_usage_perc 0.1\n"
	values, err := parsePrometheusText(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 0.1, values["vllm:gpu_cache_usage_perc"])
	_, ok := values["not"]
	assert.False(t, ok)
}

func TestParseSampleLineRejectsEmptyName(t *testing.T) {
	_, _, ok := parseSampleLine("{label=\"x\"} 1")
	assert.False(t, ok)
}

func TestParsePrometheusTextErrorsWhenNoLinesParse(t *testing.T) {
	input := "<html>not prometheus at all</html>\nneither is this\n"
	_, err := parsePrometheusText(strings.NewReader(input))
	assert.ErrorIs(t, err, errNoParseableSamples)
}

func TestParsePrometheusTextErrorsOnEmptyBody(t *testing.T) {
	_, err := parsePrometheusText(strings.NewReader(""))
	assert.ErrorIs(t, err, errNoParseableSamples)
}
