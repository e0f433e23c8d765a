package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"go-monitor-bulletin/internal/bulletin"
	"go-monitor-bulletin/internal/connectors/manager"
)

const maxDefineBody = 1 << 20

// envelope is the {code,msg,data} body every /api/* route answers with.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data any    `json:"data,omitempty"`
}

const (
	codeSuccess = 0
	codeFail    = 1
)

func writeOK(w nethttp.ResponseWriter, data any) {
	writeJSON(w, nethttp.StatusOK, envelope{Code: codeSuccess, Data: data})
}

func writeFail(w nethttp.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Code: codeFail, Msg: msg})
}

func listDefinesHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		page, size := parsePaging(r, d.pageSize)
		start := time.Now()
		out, err := d.store.ListDefines(r.Context(), page, size)
		recordDBQuery(d.backend, "ListDefines", time.Since(start).Seconds(), err)
		if err != nil {
			d.log.WithError(err).Error("failed to list bulletin defines")
			writeFail(w, nethttp.StatusInternalServerError, "failed to list bulletin defines")
			return
		}
		writeOK(w, out)
	}
}

func getDefineHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeFail(w, nethttp.StatusBadRequest, "invalid define id")
			return
		}
		start := time.Now()
		def, err := d.store.GetDefine(r.Context(), id)
		recordDBQuery(d.backend, "GetDefine", time.Since(start).Seconds(), err)
		if err != nil {
			writeStoreError(w, d, "get", err)
			return
		}
		writeOK(w, def)
	}
}

func createDefineHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		def, ok := decodeDefine(w, r)
		if !ok {
			return
		}
		def.ID = 0
		start := time.Now()
		id, err := d.store.CreateDefine(r.Context(), def)
		recordDBQuery(d.backend, "CreateDefine", time.Since(start).Seconds(), err)
		if err != nil {
			writeStoreError(w, d, "create", err)
			return
		}
		d.log.WithField("define", def.Name).WithField("id", id).Info("bulletin define created")
		writeOK(w, map[string]any{"id": id})
	}
}

func updateDefineHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		def, ok := decodeDefine(w, r)
		if !ok {
			return
		}
		if def.ID <= 0 {
			writeFail(w, nethttp.StatusBadRequest, "define id is required")
			return
		}
		start := time.Now()
		err := d.store.UpdateDefine(r.Context(), def)
		recordDBQuery(d.backend, "UpdateDefine", time.Since(start).Seconds(), err)
		if err != nil {
			writeStoreError(w, d, "update", err)
			return
		}
		d.log.WithField("define", def.Name).WithField("id", def.ID).Info("bulletin define updated")
		writeOK(w, nil)
	}
}

func deleteDefinesHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		names := make([]string, 0)
		for _, raw := range r.URL.Query()["names"] {
			for _, n := range strings.Split(raw, ",") {
				if n = strings.TrimSpace(n); n != "" {
					names = append(names, n)
				}
			}
		}
		if len(names) == 0 {
			writeFail(w, nethttp.StatusBadRequest, "names is required")
			return
		}
		start := time.Now()
		removed, err := d.store.DeleteDefines(r.Context(), names)
		recordDBQuery(d.backend, "DeleteDefines", time.Since(start).Seconds(), err)
		if err != nil {
			writeStoreError(w, d, "delete", err)
			return
		}
		d.log.WithField("names", names).WithField("removed", removed).Info("bulletin defines deleted")
		writeOK(w, map[string]any{"removed": removed})
	}
}

func bulletinMetricsHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		page, size := parsePaging(r, d.pageSize)
		out, status, err := collectReport(r.Context(), d, page, size)
		if err != nil {
			writeFail(w, status, err.Error())
			return
		}
		writeOK(w, out)
	}
}

func bulletinTabsHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		page, size := parsePaging(r, d.pageSize)
		out, status, err := collectReport(r.Context(), d, page, size)
		if err != nil {
			writeFail(w, status, err.Error())
			return
		}
		writeOK(w, map[string]any{
			"totalElements": out.TotalElements,
			"tabs":          bulletin.Aggregate(out.Content),
		})
	}
}

// collectReport loads one page of defines and collects their samples. The
// returned status is the HTTP status to answer with on error.
func collectReport(ctx context.Context, d deps, page, size int) (bulletin.Page[bulletin.ReportSample], int, error) {
	var out bulletin.Page[bulletin.ReportSample]

	start := time.Now()
	defs, err := d.store.ListDefines(ctx, page, size)
	recordDBQuery(d.backend, "ListDefines", time.Since(start).Seconds(), err)
	if err != nil {
		d.log.WithError(err).Error("failed to list bulletin defines")
		return out, nethttp.StatusInternalServerError, errors.New("failed to list bulletin defines")
	}

	start = time.Now()
	samples, err := d.collector.Collect(ctx, defs.Content)
	recordCollectRun(err, len(samples), time.Since(start).Seconds())
	if err != nil {
		d.log.WithError(err).Warn("bulletin collection failed")
		return out, nethttp.StatusBadGateway, fmt.Errorf("collect bulletin metrics: %s", manager.Message(err))
	}

	out.Content = samples
	out.TotalElements = defs.TotalElements
	return out, nethttp.StatusOK, nil
}

func bulletinHierarchyHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !managerReady(w, d) {
			return
		}
		data, err := d.manager.GetApplicationHierarchy(r.Context(), requestLang(r, d), mux.Vars(r)["app"])
		if err != nil {
			writeUpstreamError(w, d, "hierarchy", err)
			return
		}
		items, tree, err := bulletin.BuildHierarchyTree(data)
		if err != nil {
			writeFail(w, nethttp.StatusBadGateway, err.Error())
			return
		}
		writeOK(w, map[string]any{"items": items, "tree": tree})
	}
}

func appDefinesHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !managerReady(w, d) {
			return
		}
		apps, err := d.manager.ListApplications(r.Context(), requestLang(r, d))
		if err != nil {
			writeUpstreamError(w, d, "apps", err)
			return
		}
		writeOK(w, apps)
	}
}

func appHierarchyHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !managerReady(w, d) {
			return
		}
		data, err := d.manager.GetApplicationHierarchy(r.Context(), requestLang(r, d), mux.Vars(r)["app"])
		if err != nil {
			writeUpstreamError(w, d, "hierarchy", err)
			return
		}
		writeOK(w, data)
	}
}

func monitorsByAppHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !managerReady(w, d) {
			return
		}
		monitors, err := d.manager.ListMonitorsForApp(r.Context(), mux.Vars(r)["app"])
		if err != nil {
			writeUpstreamError(w, d, "monitors", err)
			return
		}
		writeOK(w, monitors)
	}
}

func monitorMetricDataHandler(d deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !managerReady(w, d) {
			return
		}
		vars := mux.Vars(r)
		id, err := strconv.ParseInt(vars["id"], 10, 64)
		if err != nil {
			writeFail(w, nethttp.StatusBadRequest, "invalid monitor id")
			return
		}
		data, err := d.manager.GetMonitorMetricData(r.Context(), id, vars["metric"])
		if err != nil {
			writeUpstreamError(w, d, "metric data", err)
			return
		}
		writeOK(w, data)
	}
}

func decodeDefine(w nethttp.ResponseWriter, r *nethttp.Request) (bulletin.Define, bool) {
	var def bulletin.Define
	dec := json.NewDecoder(nethttp.MaxBytesReader(w, r.Body, maxDefineBody))
	if err := dec.Decode(&def); err != nil {
		writeFail(w, nethttp.StatusBadRequest, "invalid JSON body")
		return def, false
	}
	def.Normalize()
	if err := def.Validate(); err != nil {
		writeFail(w, nethttp.StatusBadRequest, err.Error())
		return def, false
	}
	return def, true
}

func writeStoreError(w nethttp.ResponseWriter, d deps, op string, err error) {
	switch {
	case errors.Is(err, bulletin.ErrDefineExists):
		writeFail(w, nethttp.StatusConflict, err.Error())
	case errors.Is(err, bulletin.ErrDefineNotFound):
		writeFail(w, nethttp.StatusNotFound, err.Error())
	case errors.Is(err, bulletin.ErrInvalidDefine):
		writeFail(w, nethttp.StatusBadRequest, err.Error())
	default:
		d.log.WithError(err).WithField("operation", op).Error("bulletin define store failed")
		writeFail(w, nethttp.StatusInternalServerError, "failed to "+op+" bulletin define")
	}
}

func writeUpstreamError(w nethttp.ResponseWriter, d deps, what string, err error) {
	d.log.WithError(err).WithField("lookup", what).Warn("manager lookup failed")
	writeFail(w, nethttp.StatusBadGateway, manager.Message(err))
}

func managerReady(w nethttp.ResponseWriter, d deps) bool {
	if d.manager == nil || !d.manager.Enabled() {
		writeFail(w, nethttp.StatusServiceUnavailable, "manager integration disabled (set APP_MANAGER_ENDPOINT)")
		return false
	}
	return true
}

// requestLang resolves ?lang first, then Accept-Language.
func requestLang(r *nethttp.Request, d deps) string {
	return d.catalog.Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
}

// parsePaging reads zero-based pageIndex and pageSize.
func parsePaging(r *nethttp.Request, defaultSize int) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("pageIndex"))
	size, _ := strconv.Atoi(q.Get("pageSize"))
	return bulletin.NormalizePaging(page, size, defaultSize)
}
