package scoutd

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/corescout/scoutd/internal/config"
	"github.com/corescout/scoutd/internal/event"
	"github.com/corescout/scoutd/internal/health"
	"github.com/corescout/scoutd/internal/history"
	"github.com/corescout/scoutd/internal/metrics"
	iapi "github.com/corescout/scoutd/internal/server"
	"github.com/corescout/scoutd/internal/supervisor"
	"github.com/corescout/scoutd/internal/worker"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type WorkerSpec = worker.Spec

type WorkerStatus = worker.Status

type StopPolicy = worker.StopPolicy

type HealthPolicy = health.Policy

type Event = event.Event

type EventType = event.Type

type Options = supervisor.Options

type StartOptions = supervisor.StartOptions

type StartResult = supervisor.StartResult

type StartStatus = supervisor.StartStatus

type State = supervisor.State

type ValidationError = supervisor.ValidationError

type HistorySink = history.Sink

type Config = cfg.Config

const (
	StatusStarted        = supervisor.StatusStarted
	StatusAlreadyRunning = supervisor.StatusAlreadyRunning
	StatusRestarting     = supervisor.StatusRestarting
	StatusNoDataSource   = supervisor.StatusNoDataSource
	StatusFailed         = supervisor.StatusFailed
)

const (
	EventReady  = event.TypeReady
	EventError  = event.TypeError
	EventExited = event.TypeExited
)

var (
	ErrClosed     = supervisor.ErrClosed
	ErrRestarting = supervisor.ErrRestarting

	// DefaultAllowedExtensions is the data-source allow-list used when
	// Options.AllowedExtensions is empty.
	DefaultAllowedExtensions = supervisor.DefaultAllowedExtensions
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) *Supervisor { return &Supervisor{inner: supervisor.New(opts)} }

func (s *Supervisor) RequestStart(opts StartOptions) (StartResult, error) {
	return s.inner.RequestStart(opts)
}
func (s *Supervisor) Restart() (StartResult, error) { return s.inner.Restart() }
func (s *Supervisor) SetDataSourcePath(path string) (StartResult, error) {
	return s.inner.SetDataSourcePath(path)
}
func (s *Supervisor) Stop() error                        { return s.inner.Stop() }
func (s *Supervisor) StopWait(grace time.Duration) error { return s.inner.StopWait(grace) }
func (s *Supervisor) Close() error                       { return s.inner.Close() }

func (s *Supervisor) Snapshot() State          { return s.inner.Snapshot() }
func (s *Supervisor) IsReady() bool            { return s.inner.IsReady() }
func (s *Supervisor) ActivePort() int          { return s.inner.ActivePort() }
func (s *Supervisor) DataSourcePath() string   { return s.inner.DataSourcePath() }
func (s *Supervisor) WorkerPID() int           { return s.inner.WorkerPID() }
func (s *Supervisor) WorkerStatus() (WorkerStatus, bool) {
	return s.inner.WorkerStatus()
}

// Subscribe attaches a lifecycle event listener. The returned cancel func
// releases the subscription; the channel closes on cancel or supervisor Close.
func (s *Supervisor) Subscribe(buf int) (<-chan Event, func()) {
	return s.inner.Events().Subscribe(buf)
}

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts the control API on addr using the given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// NewHandler returns the control API as an http.Handler mounted under
// basePath, for embedding into an existing server or framework.
func NewHandler(s *Supervisor, basePath string) http.Handler {
	return iapi.NewRouter(s.inner, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler exposes the registered supervisor metrics for mounting at a
// path of the caller's choosing.
func MetricsHandler() http.Handler { return metrics.Handler() }
