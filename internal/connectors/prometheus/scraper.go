package prometheus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TargetStatus is a single target probe used by the services status page.
type TargetStatus struct {
	Target        string             `json:"target"`
	OK            bool               `json:"ok"`
	Error         string             `json:"error,omitempty"`
	PingMS        int64              `json:"ping_ms"`
	ScrapedAt     time.Time          `json:"scraped_at"`
	SampleCount   int                `json:"sample_count"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	CPUSeconds    float64            `json:"cpu_seconds"`
	MemoryMB      float64            `json:"memory_mb"`
	Threads       int64              `json:"threads"`
	Matched       map[string]float64 `json:"matched,omitempty"`
}

// Scraper probes Prometheus text exposition endpoints, such as the
// monitoring manager's actuator or another bulletin instance.
type Scraper struct {
	client      *http.Client
	targets     []string
	matchPrefix string
}

func NewScraper(targets []string, matchPrefix string, timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	clean := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t != "" {
			clean = append(clean, t)
		}
	}
	return &Scraper{
		client:      &http.Client{Timeout: timeout},
		targets:     clean,
		matchPrefix: strings.TrimSpace(matchPrefix),
	}
}

func (s *Scraper) Enabled() bool {
	return s != nil && len(s.targets) > 0
}

func (s *Scraper) Targets() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.targets))
	copy(out, s.targets)
	return out
}

// ProbeTargets checks all targets independently. A failing target does not
// stop the others.
func (s *Scraper) ProbeTargets(ctx context.Context) []TargetStatus {
	if !s.Enabled() {
		return nil
	}

	now := time.Now().UTC()
	out := make([]TargetStatus, 0, len(s.targets))
	for _, target := range s.targets {
		out = append(out, s.probe(ctx, target, now))
	}
	return out
}

func (s *Scraper) probe(ctx context.Context, target string, now time.Time) TargetStatus {
	item := TargetStatus{Target: target, ScrapedAt: now}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		item.Error = err.Error()
		return item
	}
	resp, err := s.client.Do(req)
	item.PingMS = time.Since(start).Milliseconds()
	if err != nil {
		item.Error = err.Error()
		return item
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		item.Error = fmt.Sprintf("status=%d", resp.StatusCode)
		return item
	}

	first, sums, count, err := parseMetricSamples(resp.Body)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	item.OK = true
	item.SampleCount = count

	switch {
	case first["process_uptime_seconds"] > 0:
		item.UptimeSeconds = int64(first["process_uptime_seconds"])
	case first["process_start_time_seconds"] > 0:
		item.UptimeSeconds = int64(now.Sub(time.Unix(int64(first["process_start_time_seconds"]), 0)).Seconds())
	}
	item.CPUSeconds = first["process_cpu_seconds_total"]
	if rss := first["process_resident_memory_bytes"]; rss > 0 {
		item.MemoryMB = rss / 1024.0 / 1024.0
	} else if heap := sums["jvm_memory_used_bytes"]; heap > 0 {
		item.MemoryMB = heap / 1024.0 / 1024.0
	}
	if gs, ok := first["go_goroutines"]; ok {
		item.Threads = int64(gs)
	} else if th, ok := first["jvm_threads_live_threads"]; ok {
		item.Threads = int64(th)
	}

	if s.matchPrefix != "" {
		item.Matched = map[string]float64{}
		for name, v := range sums {
			if strings.HasPrefix(name, s.matchPrefix) {
				item.Matched[name] = v
			}
		}
	}
	return item
}

// parseMetricSamples returns the first value and the sum over all label sets
// for every metric name, plus the sample count.
func parseMetricSamples(r io.Reader) (map[string]float64, map[string]float64, int, error) {
	s := bufio.NewScanner(r)
	first := map[string]float64{}
	sums := map[string]float64{}
	count := 0

	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := parseLine(line)
		if !ok {
			continue
		}
		if _, exists := first[name]; !exists {
			first[name] = value
		}
		sums[name] += value
		count++
	}
	if err := s.Err(); err != nil {
		return nil, nil, 0, err
	}
	return first, sums, count, nil
}

func parseLine(line string) (string, float64, bool) {
	name := line
	rest := ""
	if i := strings.IndexByte(line, '{'); i >= 0 {
		j := strings.LastIndexByte(line, '}')
		if j < i {
			return "", 0, false
		}
		name, rest = line[:i], line[j+1:]
	} else {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return "", 0, false
		}
		name, rest = fields[0], strings.Join(fields[1:], " ")
	}
	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}
