package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncRestart()
	IncRestart()
	IncSpawnFailure()
	ObserveHealthCycle("ready", 3)
	ObserveHealthCycle("failed", 20)
	IncWorkerExit(true)
	IncWorkerExit(false)
	SetReady(true)
	ObserveRestartDuration(1.25)

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"scoutd_supervisor_restarts_total":           false,
		"scoutd_worker_spawn_failures_total":         false,
		"scoutd_worker_health_cycles_total":          false,
		"scoutd_worker_health_attempts":              false,
		"scoutd_worker_exits_total":                  false,
		"scoutd_supervisor_ready":                    false,
		"scoutd_supervisor_restart_duration_seconds": false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("metric %s not gathered", name)
		}
	}
}

func TestRegisterAfterSuccessIsNoOp(t *testing.T) {
	// Must not fail regardless of whether an earlier test already registered.
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("register: %v", err)
	}
	SetReady(false)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "scoutd_supervisor_ready") {
		t.Fatalf("ready gauge missing from exposition:\n%s", body)
	}
}
