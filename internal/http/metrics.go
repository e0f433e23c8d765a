package http

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
)

var (
	appStartedAtUnix = time.Now().Unix()
	inFlightRequests int64
	metricsMu        sync.Mutex
	httpSeries       = map[httpMetricKey]*httpMetricSeries{}
	dbQuerySeries    = map[dbMetricKey]*dbMetricSeries{}
	externalSeries   = map[externalMetricKey]*externalMetricSeries{}
	collectRunSeries = map[string]*collectRunMetricSeries{}
)

func metricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		metricsMu.Lock()
		httpKeys := make([]httpMetricKey, 0, len(httpSeries))
		for k := range httpSeries {
			httpKeys = append(httpKeys, k)
		}
		sort.Slice(httpKeys, func(i, j int) bool {
			if httpKeys[i].Method != httpKeys[j].Method {
				return httpKeys[i].Method < httpKeys[j].Method
			}
			if httpKeys[i].Path != httpKeys[j].Path {
				return httpKeys[i].Path < httpKeys[j].Path
			}
			return httpKeys[i].Status < httpKeys[j].Status
		})
		httpSnap := make([]httpMetricSeries, 0, len(httpKeys))
		for _, k := range httpKeys {
			httpSnap = append(httpSnap, *httpSeries[k])
		}

		dbKeys := make([]dbMetricKey, 0, len(dbQuerySeries))
		for k := range dbQuerySeries {
			dbKeys = append(dbKeys, k)
		}
		sort.Slice(dbKeys, func(i, j int) bool {
			if dbKeys[i].Connector != dbKeys[j].Connector {
				return dbKeys[i].Connector < dbKeys[j].Connector
			}
			return dbKeys[i].Operation < dbKeys[j].Operation
		})
		dbSnap := make([]dbMetricSeries, 0, len(dbKeys))
		for _, k := range dbKeys {
			dbSnap = append(dbSnap, *dbQuerySeries[k])
		}

		exKeys := make([]externalMetricKey, 0, len(externalSeries))
		for k := range externalSeries {
			exKeys = append(exKeys, k)
		}
		sort.Slice(exKeys, func(i, j int) bool {
			if exKeys[i].Target != exKeys[j].Target {
				return exKeys[i].Target < exKeys[j].Target
			}
			return exKeys[i].Operation < exKeys[j].Operation
		})
		exSnap := make([]externalMetricSeries, 0, len(exKeys))
		for _, k := range exKeys {
			exSnap = append(exSnap, *externalSeries[k])
		}

		runKeys := make([]string, 0, len(collectRunSeries))
		for k := range collectRunSeries {
			runKeys = append(runKeys, k)
		}
		sort.Strings(runKeys)
		runSnap := make([]collectRunMetricSeries, 0, len(runKeys))
		for _, k := range runKeys {
			runSnap = append(runSnap, *collectRunSeries[k])
		}
		metricsMu.Unlock()

		writeHelp(w, "bulletin_http_requests_total", "counter", "Total HTTP requests handled by this app.")
		for i, k := range httpKeys {
			_, _ = fmt.Fprintf(w, "bulletin_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				escapeLabel(k.Method), escapeLabel(k.Path), escapeLabel(k.Status), httpSnap[i].Count)
		}
		writeHelp(w, "bulletin_http_request_duration_seconds_sum", "counter", "Total duration in seconds for observed requests.")
		for i, k := range httpKeys {
			_, _ = fmt.Fprintf(w, "bulletin_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %.9f\n",
				escapeLabel(k.Method), escapeLabel(k.Path), escapeLabel(k.Status), httpSnap[i].DurationSecondsSum)
		}
		writeHelp(w, "bulletin_http_in_flight_requests", "gauge", "In-flight HTTP requests currently served by this app.")
		_, _ = fmt.Fprintf(w, "bulletin_http_in_flight_requests %d\n", atomic.LoadInt64(&inFlightRequests))

		writeHelp(w, "bulletin_store_query_duration_seconds_sum", "counter", "Define store query duration sum in seconds by backend/operation.")
		for i, k := range dbKeys {
			_, _ = fmt.Fprintf(w, "bulletin_store_query_duration_seconds_sum{backend=%q,operation=%q} %.9f\n",
				escapeLabel(k.Connector), escapeLabel(k.Operation), dbSnap[i].DurationSecondsSum)
		}
		writeHelp(w, "bulletin_store_query_duration_seconds_count", "counter", "Define store query count by backend/operation.")
		for i, k := range dbKeys {
			_, _ = fmt.Fprintf(w, "bulletin_store_query_duration_seconds_count{backend=%q,operation=%q} %d\n",
				escapeLabel(k.Connector), escapeLabel(k.Operation), dbSnap[i].Count)
		}
		writeHelp(w, "bulletin_store_query_errors_total", "counter", "Define store query errors by backend/operation.")
		for i, k := range dbKeys {
			_, _ = fmt.Fprintf(w, "bulletin_store_query_errors_total{backend=%q,operation=%q} %d\n",
				escapeLabel(k.Connector), escapeLabel(k.Operation), dbSnap[i].Errors)
		}

		writeHelp(w, "bulletin_upstream_duration_seconds_sum", "counter", "Upstream call duration sum in seconds by target/operation.")
		for i, k := range exKeys {
			_, _ = fmt.Fprintf(w, "bulletin_upstream_duration_seconds_sum{target=%q,operation=%q} %.9f\n",
				escapeLabel(k.Target), escapeLabel(k.Operation), exSnap[i].DurationSecondsSum)
		}
		writeHelp(w, "bulletin_upstream_duration_seconds_count", "counter", "Upstream call count by target/operation.")
		for i, k := range exKeys {
			_, _ = fmt.Fprintf(w, "bulletin_upstream_duration_seconds_count{target=%q,operation=%q} %d\n",
				escapeLabel(k.Target), escapeLabel(k.Operation), exSnap[i].Count)
		}
		writeHelp(w, "bulletin_upstream_errors_total", "counter", "Upstream call errors by target/operation.")
		for i, k := range exKeys {
			_, _ = fmt.Fprintf(w, "bulletin_upstream_errors_total{target=%q,operation=%q} %d\n",
				escapeLabel(k.Target), escapeLabel(k.Operation), exSnap[i].Errors)
		}

		writeHelp(w, "bulletin_collect_runs_total", "counter", "Report data collections by status.")
		for i, k := range runKeys {
			_, _ = fmt.Fprintf(w, "bulletin_collect_runs_total{status=%q} %d\n", escapeLabel(k), runSnap[i].Count)
		}
		writeHelp(w, "bulletin_collect_run_duration_seconds_sum", "counter", "Report data collection duration sum in seconds by status.")
		for i, k := range runKeys {
			_, _ = fmt.Fprintf(w, "bulletin_collect_run_duration_seconds_sum{status=%q} %.9f\n", escapeLabel(k), runSnap[i].DurationSecondsSum)
		}
		writeHelp(w, "bulletin_collect_samples_total", "counter", "Report samples produced by collections.")
		for i, k := range runKeys {
			_, _ = fmt.Fprintf(w, "bulletin_collect_samples_total{status=%q} %d\n", escapeLabel(k), runSnap[i].Samples)
		}

		uptime := time.Now().Unix() - appStartedAtUnix
		writeHelp(w, "bulletin_uptime_seconds", "gauge", "Process uptime in seconds.")
		_, _ = fmt.Fprintf(w, "bulletin_uptime_seconds %d\n", uptime)

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		writeHelp(w, "bulletin_runtime_goroutines", "gauge", "Number of goroutines.")
		_, _ = fmt.Fprintf(w, "bulletin_runtime_goroutines %d\n", runtime.NumGoroutine())
		writeHelp(w, "bulletin_runtime_memory_alloc_bytes", "gauge", "Heap allocation bytes.")
		_, _ = fmt.Fprintf(w, "bulletin_runtime_memory_alloc_bytes %d\n", ms.Alloc)
		writeHelp(w, "bulletin_runtime_gc_total", "counter", "Total GC runs since process start.")
		_, _ = fmt.Fprintf(w, "bulletin_runtime_gc_total %d\n", ms.NumGC)

		if cpuSec, ok := processCPUSeconds(); ok {
			writeHelp(w, "bulletin_runtime_cpu_seconds_total", "counter", "Total CPU time consumed by this process in seconds.")
			_, _ = fmt.Fprintf(w, "bulletin_runtime_cpu_seconds_total %.6f\n", cpuSec)
		}
		if rss, ok := processResidentBytes(); ok {
			writeHelp(w, "bulletin_runtime_resident_memory_bytes", "gauge", "Resident set size of this process.")
			_, _ = fmt.Fprintf(w, "bulletin_runtime_resident_memory_bytes %d\n", rss)
		}
	})
}

func writeHelp(w io.Writer, name, kind, help string) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

// appMetricsSummaryHandler reports the slowest routes and upstream calls.
func appMetricsSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type endpointRow struct {
			Method  string  `json:"method"`
			Path    string  `json:"path"`
			Status  string  `json:"status"`
			Count   uint64  `json:"count"`
			AvgMS   float64 `json:"avg_ms"`
			TotalMS float64 `json:"total_ms"`
		}
		type upstreamRow struct {
			Target    string  `json:"target"`
			Operation string  `json:"operation"`
			Count     uint64  `json:"count"`
			Errors    uint64  `json:"errors"`
			AvgMS     float64 `json:"avg_ms"`
		}

		metricsMu.Lock()
		httpRows := make([]endpointRow, 0, len(httpSeries))
		for k, s := range httpSeries {
			httpRows = append(httpRows, endpointRow{
				Method:  k.Method,
				Path:    k.Path,
				Status:  k.Status,
				Count:   s.Count,
				AvgMS:   avgMS(s.DurationSecondsSum, s.Count),
				TotalMS: s.DurationSecondsSum * 1000.0,
			})
		}
		upRows := make([]upstreamRow, 0, len(externalSeries))
		upstreamErrors := uint64(0)
		for k, s := range externalSeries {
			upRows = append(upRows, upstreamRow{
				Target:    k.Target,
				Operation: k.Operation,
				Count:     s.Count,
				Errors:    s.Errors,
				AvgMS:     avgMS(s.DurationSecondsSum, s.Count),
			})
			upstreamErrors += s.Errors
		}
		storeErrors := uint64(0)
		for _, s := range dbQuerySeries {
			storeErrors += s.Errors
		}
		metricsMu.Unlock()

		sort.Slice(httpRows, func(i, j int) bool { return httpRows[i].AvgMS > httpRows[j].AvgMS })
		sort.Slice(upRows, func(i, j int) bool { return upRows[i].AvgMS > upRows[j].AvgMS })
		if len(httpRows) > 5 {
			httpRows = httpRows[:5]
		}
		if len(upRows) > 5 {
			upRows = upRows[:5]
		}

		writeOK(w, map[string]any{
			"generatedAt":          time.Now().UTC(),
			"topHttpSlowestAvgMs":  httpRows,
			"topUpstreamSlowestMs": upRows,
			"errors": map[string]any{
				"storeQueryTotal": storeErrors,
				"upstreamTotal":   upstreamErrors,
			},
		})
	}
}

func avgMS(sumSeconds float64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return (sumSeconds / float64(count)) * 1000.0
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		atomic.AddInt64(&inFlightRequests, 1)
		defer atomic.AddInt64(&inFlightRequests, -1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		recordHTTPMetric(r.Method, routeTemplate(r), rec.status, time.Since(start).Seconds())
	})
}

// routeTemplate keeps label cardinality bounded by using the matched route
// pattern instead of the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type httpMetricKey struct {
	Method string
	Path   string
	Status string
}

type httpMetricSeries struct {
	Count              uint64
	DurationSecondsSum float64
}

type dbMetricKey struct {
	Connector string
	Operation string
}

type dbMetricSeries struct {
	Count              uint64
	Errors             uint64
	DurationSecondsSum float64
}

type externalMetricKey struct {
	Target    string
	Operation string
}

type externalMetricSeries struct {
	Count              uint64
	Errors             uint64
	DurationSecondsSum float64
}

type collectRunMetricSeries struct {
	Count              uint64
	Samples            uint64
	DurationSecondsSum float64
}

func recordHTTPMetric(method, path string, status int, durationSeconds float64) {
	key := httpMetricKey{Method: method, Path: path, Status: strconv.Itoa(status)}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := httpSeries[key]
	if !ok {
		row = &httpMetricSeries{}
		httpSeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
}

func recordDBQuery(connector, operation string, durationSeconds float64, err error) {
	if connector == "" || operation == "" {
		return
	}
	key := dbMetricKey{Connector: connector, Operation: operation}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := dbQuerySeries[key]
	if !ok {
		row = &dbMetricSeries{}
		dbQuerySeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
	if err != nil {
		row.Errors++
	}
}

func recordExternalProbe(target, operation string, durationSeconds float64, err error) {
	if target == "" || operation == "" {
		return
	}
	key := externalMetricKey{Target: target, Operation: operation}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := externalSeries[key]
	if !ok {
		row = &externalMetricSeries{}
		externalSeries[key] = row
	}
	row.Count++
	row.DurationSecondsSum += durationSeconds
	if err != nil {
		row.Errors++
	}
}

func recordCollectRun(err error, samples int, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	row, ok := collectRunSeries[status]
	if !ok {
		row = &collectRunMetricSeries{}
		collectRunSeries[status] = row
	}
	row.Count++
	row.Samples += uint64(samples)
	row.DurationSecondsSum += durationSeconds
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}

func processCPUSeconds() (float64, bool) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, false
	}
	user := float64(ru.Utime.Sec) + (float64(ru.Utime.Usec) / 1_000_000.0)
	sys := float64(ru.Stime.Sec) + (float64(ru.Stime.Usec) / 1_000_000.0)
	return user + sys, true
}

// processResidentBytes reads VmRSS from /proc; absent on non-Linux hosts.
func processResidentBytes() (uint64, bool) {
	b, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(b), "\n") {
		rest, ok := strings.CutPrefix(line, "VmRSS:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
