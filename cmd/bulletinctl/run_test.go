package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-monitor-bulletin/internal/bulletin"
)

type fakeServer struct {
	mu      sync.Mutex
	created []bulletin.Define
	updated []bulletin.Define
	deleted []string
	// acceptUpdates makes PUT succeed instead of reporting a conflict.
	acceptUpdates bool
	// lookupsDown makes every read route answer 503.
	lookupsDown bool
}

func (f *fakeServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	ok := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
	}
	read := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if f.lookupsDown && r.Method == http.MethodGet {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"code":1,"msg":"manager integration disabled"}`))
				return
			}
			h(w, r)
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bulletin", read(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			ok(w, bulletin.Page[bulletin.Define]{
				Content:       []bulletin.Define{{ID: 4, Name: "cpu", App: "linux", MonitorIDs: []int64{1, 2}, Metrics: []string{"cpu$$$usage"}}},
				TotalElements: 1,
			})
		case http.MethodPost:
			var def bulletin.Define
			_ = json.NewDecoder(r.Body).Decode(&def)
			f.mu.Lock()
			f.created = append(f.created, def)
			f.mu.Unlock()
			ok(w, map[string]any{"id": 5})
		case http.MethodPut:
			if f.acceptUpdates {
				var def bulletin.Define
				_ = json.NewDecoder(r.Body).Decode(&def)
				f.mu.Lock()
				f.updated = append(f.updated, def)
				f.mu.Unlock()
				ok(w, nil)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":1,"msg":"bulletin define already exists"}`))
		case http.MethodDelete:
			f.mu.Lock()
			f.deleted = append(f.deleted, r.URL.Query()["names"]...)
			f.mu.Unlock()
			ok(w, map[string]any{"removed": 1})
		}
	}))
	mux.HandleFunc("/api/bulletin/metrics", read(func(w http.ResponseWriter, r *http.Request) {
		ok(w, bulletin.Page[bulletin.ReportSample]{
			TotalElements: 1,
			Content: []bulletin.ReportSample{{
				ID: 4, Name: "disks", App: "linux",
				Content: bulletin.SampleContent{MonitorID: 1, Host: "10.0.0.1", Metrics: []bulletin.MetricSample{{
					Name: "disk",
					Fields: [][]bulletin.FieldValue{
						{{Key: "free", Value: "12", Unit: "GB"}},
						{{Key: "free", Value: "80", Unit: "GB"}},
					},
				}}},
			}},
		})
	}))
	mux.HandleFunc("/api/apps/defines", read(func(w http.ResponseWriter, _ *http.Request) {
		ok(w, map[string]string{"redis": "Redis", "linux": "Linux"})
	}))
	mux.HandleFunc("/api/monitors/linux/app", read(func(w http.ResponseWriter, _ *http.Request) {
		ok(w, []bulletin.Monitor{{ID: 1, Name: "web-1", Host: "10.0.0.1"}})
	}))
	mux.HandleFunc("/api/apps/hierarchy/linux", read(func(w http.ResponseWriter, _ *http.Request) {
		ok(w, []bulletin.HierarchyNode{{Value: "linux", Children: []bulletin.HierarchyNode{{
			Value: "cpu", Label: "CPU",
			Children: []bulletin.HierarchyNode{{Value: "usage", Label: "Usage", IsLeaf: true}},
		}}}})
	}))
	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func runCLI(t *testing.T, endpoint string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"-endpoint", endpoint}, args...)
	code := run(context.Background(), full, map[string]string{}, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_List(t *testing.T) {
	s := (&fakeServer{}).start(t)
	code, out, _ := runCLI(t, s.URL, "list")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "cpu$$$usage")
	assert.Contains(t, out, "1,2")
	assert.Contains(t, out, "Total: 1")
}

func TestRun_TabsPrintsStackedRows(t *testing.T) {
	s := (&fakeServer{}).start(t)
	code, out, _ := runCLI(t, s.URL, "tabs")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "== disks ==")
	assert.Contains(t, out, "disk.free")
	assert.Contains(t, out, "12GB")
	assert.Contains(t, out, "80GB")
}

func TestRun_AppsSortedAndHierarchy(t *testing.T) {
	s := (&fakeServer{}).start(t)
	code, out, _ := runCLI(t, s.URL, "apps")
	require.Equal(t, 0, code)
	assert.Less(t, bytes.Index([]byte(out), []byte("linux")), bytes.Index([]byte(out), []byte("redis")))

	code, out, _ = runCLI(t, s.URL, "hierarchy", "linux")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "1 CPU")
	assert.Contains(t, out, "[cpu$$$usage]")

	code, out, _ = runCLI(t, s.URL, "monitors", "linux")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "web-1")
}

func TestRun_CreateAndEdit(t *testing.T) {
	f := &fakeServer{}
	s := f.start(t)
	path := filepath.Join(t.TempDir(), "def.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":4,"name":" cpu ","app":"linux","monitorIds":[1,1],"metrics":["cpu$$$usage"]}`), 0o600))

	code, _, _ := runCLI(t, s.URL, "create", "-f", path)
	require.Equal(t, 0, code)
	f.mu.Lock()
	require.Len(t, f.created, 1)
	assert.Equal(t, "cpu", f.created[0].Name)
	assert.Equal(t, []int64{1}, f.created[0].MonitorIDs)
	f.mu.Unlock()

	code, _, stderr := runCLI(t, s.URL, "edit", "-f", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "bulletin define already exists")
}

func TestRun_AppliedChangesSucceedWhenLookupsFail(t *testing.T) {
	f := &fakeServer{acceptUpdates: true, lookupsDown: true}
	s := f.start(t)
	path := filepath.Join(t.TempDir(), "def.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":4,"name":"cpu","app":"linux","monitorIds":[1],"metrics":["cpu$$$usage"]}`), 0o600))

	code, out, _ := runCLI(t, s.URL, "edit", "-f", path)
	assert.Equal(t, 0, code)
	assert.Equal(t, "cpu\n", out)

	code, _, _ = runCLI(t, s.URL, "create", "-f", path)
	assert.Equal(t, 0, code)

	code, _, _ = runCLI(t, s.URL, "delete", "cpu")
	assert.Equal(t, 0, code)

	f.mu.Lock()
	assert.Len(t, f.updated, 1)
	assert.Len(t, f.created, 1)
	assert.Equal(t, []string{"cpu"}, f.deleted)
	f.mu.Unlock()

	code, _, _ = runCLI(t, s.URL, "tabs")
	assert.Equal(t, 1, code)
}

func TestRun_Delete(t *testing.T) {
	f := &fakeServer{}
	s := f.start(t)
	code, _, _ := runCLI(t, s.URL, "delete", "a", "b")
	require.Equal(t, 0, code)
	f.mu.Lock()
	assert.Equal(t, []string{"a", "b"}, f.deleted)
	f.mu.Unlock()
}

func TestRun_UsageErrors(t *testing.T) {
	s := (&fakeServer{}).start(t)
	for _, args := range [][]string{
		{},
		{"nope"},
		{"delete"},
		{"hierarchy"},
		{"create"},
	} {
		code, _, _ := runCLI(t, s.URL, args...)
		assert.Equal(t, 2, code, "args %v", args)
	}
}

func TestRun_UnreachableEndpointFails(t *testing.T) {
	code, _, _ := runCLI(t, "http://127.0.0.1:1", "apps")
	assert.Equal(t, 1, code)
}
