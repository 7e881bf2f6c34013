package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corescout/scoutd/internal/health"
	"github.com/corescout/scoutd/internal/supervisor"
	"github.com/corescout/scoutd/internal/worker"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses sh and sleep")
	}
}

// newTestSup builds a supervisor around an inert worker. sh -c treats the
// appended launch flags as positional parameters, so the process just sleeps
// and never serves health, keeping readiness cycles in flight until stopped.
func newTestSup(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	sup := supervisor.New(supervisor.Options{
		Spec: worker.Spec{Name: "inert", Command: `sh -c "sleep 60"`},
		Stop: worker.StopPolicy{Grace: time.Second, Interval: 20 * time.Millisecond},
		Health: health.Policy{
			InitialDelay:   50 * time.Millisecond,
			BaseDelay:      50 * time.Millisecond,
			Factor:         1.5,
			MaxDelay:       200 * time.Millisecond,
			MaxAttempts:    1000,
			MaxElapsed:     60 * time.Second,
			AttemptTimeout: time.Second,
		},
	})
	t.Cleanup(func() { _ = sup.Close() })
	return sup
}

func setupRouter(t *testing.T, sup *supervisor.Supervisor, base string) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(sup, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("parse response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStatusIdle(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, newTestSup(t), "")
	rec := doReq(t, h, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	st := decode[statusResp](t, rec)
	if st.Ready || st.Restarting || st.Worker != nil {
		t.Fatalf("idle status = %+v", st)
	}
}

func TestStartWithoutDataSource(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, newTestSup(t), "")
	rec := doReq(t, h, http.MethodPost, "/api/v1/start", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[supervisor.StartResult](t, rec)
	if res.Status != supervisor.StatusNoDataSource {
		t.Fatalf("status = %q", res.Status)
	}
}

func TestStartCollapseAndStop(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, newTestSup(t), "")

	rec := doReq(t, h, http.MethodPost, "/api/v1/start", supervisor.StartOptions{AllowNoDataSource: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[supervisor.StartResult](t, rec)
	if res.Status != supervisor.StatusStarted || res.PID == 0 || res.Port == 0 {
		t.Fatalf("start result = %+v", res)
	}

	// The readiness cycle is still probing the inert worker, so a second
	// request collapses onto it.
	rec = doReq(t, h, http.MethodPost, "/api/v1/start", supervisor.StartOptions{AllowNoDataSource: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("second start expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res = decode[supervisor.StartResult](t, rec)
	if res.Status != supervisor.StatusRestarting {
		t.Fatalf("second start status = %q", res.Status)
	}

	rec = doReq(t, h, http.MethodGet, "/api/v1/status", nil)
	st := decode[statusResp](t, rec)
	if st.Ready {
		t.Fatalf("ready without a healthy worker: %+v", st)
	}
	if st.Worker == nil || !st.Worker.Running {
		t.Fatalf("worker detail missing: %+v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/api/v1/stop?wait=1s", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	ok := decode[okResp](t, rec)
	if !ok.OK {
		t.Fatalf("stop response = %s", rec.Body.String())
	}
}

func TestStopInvalidWait(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, newTestSup(t), "")
	rec := doReq(t, h, http.MethodPost, "/api/v1/stop?wait=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStopWithoutWorker(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, newTestSup(t), "")
	rec := doReq(t, h, http.MethodPost, "/api/v1/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDataSourceEndpoints(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, newTestSup(t), "/control")

	rec := doReq(t, h, http.MethodGet, "/control/datasource", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get expected 200, got %d", rec.Code)
	}
	if got := decode[dataSourceBody](t, rec); got.Path != "" {
		t.Fatalf("initial path = %q", got.Path)
	}

	// Relative paths are rejected at the API boundary.
	rec = doReq(t, h, http.MethodPost, "/control/datasource", dataSourceBody{Path: "rel/data.db"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("relative path expected 400, got %d", rec.Code)
	}

	// Disallowed extension is rejected by validation with detail.
	txt := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(txt, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = doReq(t, h, http.MethodPost, "/control/datasource", dataSourceBody{Path: txt})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("txt expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if e := decode[errorResp](t, rec); !strings.Contains(e.Error, "not allowed") {
		t.Fatalf("error = %q", e.Error)
	}

	// A valid selection triggers a start and is reflected by GET.
	db := filepath.Join(t.TempDir(), "data.db")
	if err := os.WriteFile(db, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = doReq(t, h, http.MethodPost, "/control/datasource", dataSourceBody{Path: db})
	if rec.Code != http.StatusOK {
		t.Fatalf("select expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[supervisor.StartResult](t, rec)
	if res.Status != supervisor.StatusStarted {
		t.Fatalf("select status = %q", res.Status)
	}
	rec = doReq(t, h, http.MethodGet, "/control/datasource", nil)
	if got := decode[dataSourceBody](t, rec); got.Path != db {
		t.Fatalf("path = %q, want %q", got.Path, db)
	}

	rec = doReq(t, h, http.MethodPost, "/control/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop expected 200, got %d", rec.Code)
	}
}

func TestSetDataSourceInvalidJSON(t *testing.T) {
	requireUnix(t)
	h := setupRouter(t, newTestSup(t), "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasource", strings.NewReader("{nope"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMetricsRouteOptIn(t *testing.T) {
	requireUnix(t)
	sup := newTestSup(t)
	gin.SetMode(gin.TestMode)

	r := NewRouter(sup, "")
	rec := doReq(t, r.Handler(), http.MethodGet, "/api/v1/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should be absent by default, got %d", rec.Code)
	}

	r = NewRouter(sup, "")
	r.ServeMetrics()
	rec = doReq(t, r.Handler(), http.MethodGet, "/api/v1/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("empty exposition")
	}
}

func TestRequestsAfterClose(t *testing.T) {
	requireUnix(t)
	sup := newTestSup(t)
	h := setupRouter(t, sup, "")
	if err := sup.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec := doReq(t, h, http.MethodPost, "/api/v1/start", supervisor.StartOptions{AllowNoDataSource: true})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("start after close expected 503, got %d", rec.Code)
	}
	rec = doReq(t, h, http.MethodPost, "/api/v1/stop", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stop after close expected 503, got %d", rec.Code)
	}
}

func TestNewServerBindsAndCloses(t *testing.T) {
	requireUnix(t)
	sup := newTestSup(t)
	srv, err := NewServer("127.0.0.1:0", "/x", sup)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr + "/x/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewServerBadAddr(t *testing.T) {
	requireUnix(t)
	if _, err := NewServer("127.0.0.1:notaport", "", newTestSup(t)); err == nil {
		t.Fatalf("expected listen error")
	}
}
