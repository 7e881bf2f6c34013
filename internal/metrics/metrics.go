package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	restarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scoutd",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of restart transitions entered.",
		},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "spawn_failures_total",
			Help:      "Number of failed worker spawns.",
		},
	)
	healthCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "health_cycles_total",
			Help:      "Readiness cycles by outcome (ready, failed, cancelled).",
		}, []string{"outcome"},
	)
	healthAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "health_attempts",
			Help:      "Probe attempts consumed per readiness cycle.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 20},
		},
	)
	workerExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "exits_total",
			Help:      "Worker exits by classification (expected, unexpected).",
		}, []string{"kind"},
	)
	ready = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scoutd",
			Subsystem: "supervisor",
			Name:      "ready",
			Help:      "1 while the worker is confirmed serving, else 0.",
		},
	)
	restartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scoutd",
			Subsystem: "supervisor",
			Name:      "restart_duration_seconds",
			Help:      "Wall time from restart request to ready.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{restarts, spawnFailures, healthCycles, healthAttempts, workerExits, ready, restartDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRestart() {
	if regOK.Load() {
		restarts.Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}

func ObserveHealthCycle(outcome string, attempts int) {
	if regOK.Load() {
		healthCycles.WithLabelValues(outcome).Inc()
		healthAttempts.Observe(float64(attempts))
	}
}

func IncWorkerExit(expected bool) {
	if regOK.Load() {
		kind := "unexpected"
		if expected {
			kind = "expected"
		}
		workerExits.WithLabelValues(kind).Inc()
	}
}

func SetReady(v bool) {
	if regOK.Load() {
		if v {
			ready.Set(1)
		} else {
			ready.Set(0)
		}
	}
}

func ObserveRestartDuration(seconds float64) {
	if regOK.Load() {
		restartDuration.Observe(seconds)
	}
}
