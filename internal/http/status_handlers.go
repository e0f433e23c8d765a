package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"time"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/connectors/manager"
	promstore "go-monitor-bulletin/internal/connectors/prometheus"
)

var errTargetsDown = errors.New("one or more prometheus targets down")

func servicesStatusHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
		defer cancel()

		writeJSON(w, nethttp.StatusOK, map[string]any{
			"generated_at": time.Now().UTC(),
			"services": map[string]any{
				"store":      storeStatus(ctx, d),
				"manager":    managerStatus(ctx, d.manager),
				"prometheus": promStatus(ctx, d.scraper),
			},
		})
	}
}

func storeStatus(ctx context.Context, d deps) map[string]any {
	if reporter, ok := d.store.(bulletin.StatsReporter); ok {
		start := time.Now()
		stats, err := reporter.ServiceStats(ctx)
		recordDBQuery(d.backend, "ServiceStats", time.Since(start).Seconds(), err)
		if err != nil {
			return map[string]any{"enabled": true, "backend": d.backend, "ok": false, "error": err.Error()}
		}
		return map[string]any{"enabled": true, "backend": d.backend, "ok": true, "stats": stats}
	}

	start := time.Now()
	err := d.store.Ping(ctx)
	recordDBQuery(d.backend, "Ping", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "backend": d.backend, "ok": false, "error": err.Error()}
	}
	return map[string]any{"enabled": true, "backend": d.backend, "ok": true}
}

func managerStatus(ctx context.Context, client *manager.Client) map[string]any {
	if client == nil || !client.Enabled() {
		return map[string]any{"enabled": false, "ok": false, "error": "manager integration disabled"}
	}

	start := time.Now()
	err := client.Ping(ctx)
	pingMS := time.Since(start).Milliseconds()
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "endpoint": client.Endpoint(), "error": manager.Message(err)}
	}
	return map[string]any{"enabled": true, "ok": true, "endpoint": client.Endpoint(), "ping_ms": pingMS}
}

func promStatus(ctx context.Context, scraper *promstore.Scraper) map[string]any {
	if !scraper.Enabled() {
		return map[string]any{"enabled": false, "ok": false, "error": "prometheus integration disabled"}
	}

	start := time.Now()
	probes := scraper.ProbeTargets(ctx)
	up := 0
	for _, p := range probes {
		if p.OK {
			up++
		}
	}
	var err error
	if up < len(probes) {
		err = errTargetsDown
	}
	recordExternalProbe("prometheus_target", "ProbeTargets", time.Since(start).Seconds(), err)

	return map[string]any{
		"enabled":       true,
		"ok":            up == len(probes) && len(probes) > 0,
		"targets_total": len(probes),
		"targets_up":    up,
		"targets":       probes,
	}
}
