package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const actuatorBody = `# HELP jvm_memory_used_bytes The amount of used memory
# TYPE jvm_memory_used_bytes gauge
jvm_memory_used_bytes{area="heap",id="G1 Eden Space"} 1048576
jvm_memory_used_bytes{area="nonheap",id="Metaspace"} 1048576
jvm_threads_live_threads 42
process_uptime_seconds 3600.5
process_cpu_usage 0.02
hertzbeat_collect_total{app="linux"} 3
hertzbeat_collect_total{app="redis",label="a b"} 4
`

func TestProbeTargets_ActuatorTarget(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(actuatorBody))
	}))
	defer s.Close()

	sc := NewScraper([]string{" " + s.URL + " ", ""}, "hertzbeat_", 0)
	require.True(t, sc.Enabled())
	assert.Equal(t, []string{s.URL}, sc.Targets())

	probes := sc.ProbeTargets(context.Background())
	require.Len(t, probes, 1)
	p := probes[0]
	assert.True(t, p.OK)
	assert.Equal(t, 7, p.SampleCount)
	assert.Equal(t, int64(3600), p.UptimeSeconds)
	assert.Equal(t, int64(42), p.Threads)
	assert.InDelta(t, 2.0, p.MemoryMB, 0.001)
	assert.Equal(t, map[string]float64{"hertzbeat_collect_total": 7}, p.Matched)
}

func TestProbeTargets_FailuresAreIndependent(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("go_goroutines 9\nprocess_resident_memory_bytes 2097152\n"))
	}))
	defer good.Close()

	probes := NewScraper([]string{bad.URL, good.URL}, "", 0).ProbeTargets(context.Background())
	require.Len(t, probes, 2)
	assert.False(t, probes[0].OK)
	assert.Contains(t, probes[0].Error, "503")
	assert.True(t, probes[1].OK)
	assert.Equal(t, int64(9), probes[1].Threads)
	assert.InDelta(t, 2.0, probes[1].MemoryMB, 0.001)
	assert.Nil(t, probes[1].Matched)
}

func TestProbeTargets_Disabled(t *testing.T) {
	var sc *Scraper
	assert.False(t, sc.Enabled())
	assert.Nil(t, NewScraper(nil, "", 0).ProbeTargets(context.Background()))
}

func TestParseLine(t *testing.T) {
	name, v, ok := parseLine(`http_requests_total{path="/a b"} 12 1700000000`)
	require.True(t, ok)
	assert.Equal(t, "http_requests_total", name)
	assert.Equal(t, 12.0, v)

	_, _, ok = parseLine("broken")
	assert.False(t, ok)
	_, _, ok = parseLine(`x{a="1" 3`)
	assert.False(t, ok)
	_, _, ok = parseLine("x notanumber")
	assert.False(t, ok)
}

func TestParseMetricSamples_Sums(t *testing.T) {
	first, sums, count, err := parseMetricSamples(strings.NewReader("a 1\na 2\n# c\nb 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1.0, first["a"])
	assert.Equal(t, 3.0, sums["a"])
	assert.Equal(t, 5.0, sums["b"])
}
