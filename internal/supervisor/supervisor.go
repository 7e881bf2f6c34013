// Package supervisor coordinates the worker lifecycle. It serializes
// start/restart requests so at most one transition is in flight, owns the
// ready flag, and publishes lifecycle events to subscribers and durable
// sinks. At most one worker process exists at any time; a new one is never
// spawned until the previous one's termination is confirmed.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/corescout/scoutd/internal/event"
	"github.com/corescout/scoutd/internal/health"
	"github.com/corescout/scoutd/internal/history"
	"github.com/corescout/scoutd/internal/metrics"
	"github.com/corescout/scoutd/internal/prefs"
	"github.com/corescout/scoutd/internal/worker"
)

var (
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("supervisor closed")
	// ErrRestarting rejects a data-source change while a restart is in flight.
	ErrRestarting = errors.New("restart already in progress")
)

// DefaultAllowedExtensions lists the data-source file extensions accepted by
// SetDataSourcePath when no allow-list is configured.
var DefaultAllowedExtensions = []string{".db", ".sqlite", ".sqlite3"}

// StartStatus classifies how a start request resolved.
type StartStatus string

const (
	StatusStarted        StartStatus = "started"
	StatusAlreadyRunning StartStatus = "already_running"
	StatusRestarting     StartStatus = "restarting"
	StatusNoDataSource   StartStatus = "no_data_source"
	StatusFailed         StartStatus = "failed"
)

// StartResult reports the outcome of a start request. PID and Port are set
// when a worker was spawned by this request or is already serving.
type StartResult struct {
	Status StartStatus `json:"status"`
	PID    int         `json:"pid,omitempty"`
	Port   int         `json:"port,omitempty"`
}

// StartOptions control RequestStart behavior.
type StartOptions struct {
	AllowNoDataSource bool `json:"allow_no_data_source"`
}

// State is a snapshot of the supervisor's coordination state. ActivePort and
// PID refer to the last worker confirmed ready; Ready is false whenever a
// restart is in flight or no confirmed worker exists.
type State struct {
	ActivePort     int    `json:"active_port,omitempty"`
	DataSourcePath string `json:"data_source_path,omitempty"`
	Ready          bool   `json:"ready"`
	Restarting     bool   `json:"restarting"`
	PID            int    `json:"pid,omitempty"`
}

// ValidationError rejects a bad data-source path before any restart is
// attempted.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid data source %q: %s", e.Path, e.Reason)
}

// Options configure a Supervisor.
type Options struct {
	// Spec is the worker command template; the port and data-source path are
	// appended per launch.
	Spec worker.Spec
	// Stop bounds graceful termination of a worker.
	Stop worker.StopPolicy
	// Health is the readiness probe schedule.
	Health health.Policy
	// AllowedExtensions overrides DefaultAllowedExtensions when non-empty.
	AllowedExtensions []string
	// DataSourcePath seeds the selection; a persisted selection wins over it.
	DataSourcePath string
	// Prefs persists the data-source selection across runs. Optional.
	Prefs *prefs.Store
	// Bus receives lifecycle events. A private bus is created when nil.
	Bus *event.Bus
	// Sinks durably record lifecycle events. Optional.
	Sinks []history.Sink
	// LogRef is the durable log location carried inside error events so the
	// user can be pointed at diagnostics.
	LogRef string
}

// Supervisor owns the worker lifecycle state machine.
type Supervisor struct {
	spec    worker.Spec
	stop    worker.StopPolicy
	checker *health.Checker
	exts    []string
	prefs   *prefs.Store
	bus     *event.Bus
	ownBus  bool // close the bus on shutdown only when we created it
	sinks   []history.Sink
	logRef  string

	mu         sync.RWMutex
	closed     bool
	restarting bool
	ready      bool
	activePort int
	pid        int
	dataSource string
	gen        uint64
	w          *worker.Worker

	ctrlCh chan *request
	exitCh chan exitNote
	doneCh chan struct{}
}

// New creates a supervisor and starts its control loop. A selection persisted
// via opts.Prefs overrides opts.DataSourcePath.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		spec:       opts.Spec,
		stop:       opts.Stop,
		checker:    health.NewChecker(opts.Health),
		exts:       opts.AllowedExtensions,
		prefs:      opts.Prefs,
		bus:        opts.Bus,
		sinks:      opts.Sinks,
		logRef:     opts.LogRef,
		dataSource: opts.DataSourcePath,
		ctrlCh:     make(chan *request, 16),
		exitCh:     make(chan exitNote, 4),
		doneCh:     make(chan struct{}),
	}
	if len(s.exts) == 0 {
		s.exts = DefaultAllowedExtensions
	}
	if s.bus == nil {
		s.bus = event.NewBus()
		s.ownBus = true
	}
	if s.prefs != nil {
		p, ok, err := s.prefs.Load()
		switch {
		case err != nil:
			slog.Warn("could not read saved data source selection", "error", err)
		case ok:
			s.dataSource = p.DataSourcePath
		}
	}
	go s.run()
	return s
}

// Events returns the bus lifecycle events are published on.
func (s *Supervisor) Events() *event.Bus { return s.bus }

// Snapshot returns the current coordination state without blocking on any
// in-flight transition.
func (s *Supervisor) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		ActivePort:     s.activePort,
		DataSourcePath: s.dataSource,
		Ready:          s.ready,
		Restarting:     s.restarting,
		PID:            s.pid,
	}
}

// IsReady reports whether the worker is confirmed serving.
func (s *Supervisor) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// ActivePort returns the confirmed worker port, or 0 when none is ready.
func (s *Supervisor) ActivePort() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePort
}

// DataSourcePath returns the current data-source selection, possibly empty.
func (s *Supervisor) DataSourcePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataSource
}

// WorkerPID returns the pid of the current worker process, confirmed ready or
// not, or 0 when none is running.
func (s *Supervisor) WorkerPID() int {
	s.mu.RLock()
	w := s.w
	s.mu.RUnlock()
	if w == nil {
		return 0
	}
	return w.PID()
}

// WorkerStatus returns a snapshot of the current worker process. ok is false
// when no worker exists.
func (s *Supervisor) WorkerStatus() (worker.Status, bool) {
	s.mu.RLock()
	w := s.w
	s.mu.RUnlock()
	if w == nil {
		return worker.Status{}, false
	}
	return w.Snapshot(), true
}

// RequestStart starts the worker unless one is already confirmed serving. A
// request made while a transition is in flight collapses onto it and reports
// StatusRestarting without queuing. Without a data-source selection the
// request is rejected unless opts.AllowNoDataSource is set. The result is
// returned once the worker is spawned; readiness is confirmed asynchronously
// and announced on the event bus.
func (s *Supervisor) RequestStart(opts StartOptions) (StartResult, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return StartResult{Status: StatusFailed}, ErrClosed
	case s.restarting:
		s.mu.Unlock()
		return StartResult{Status: StatusRestarting}, nil
	}
	if s.w != nil && s.ready && s.w.Alive() {
		res := StartResult{Status: StatusAlreadyRunning, PID: s.pid, Port: s.activePort}
		s.mu.Unlock()
		return res, nil
	}
	if s.dataSource == "" && !opts.AllowNoDataSource {
		s.mu.Unlock()
		return StartResult{Status: StatusNoDataSource}, nil
	}
	s.beginCycleLocked()
	s.mu.Unlock()
	metrics.SetReady(false)
	return s.submit(reqStart, 0)
}

// Restart tears the current worker down, if any, and starts a fresh one with
// the current data-source selection. Concurrent restarts collapse onto the
// in-flight one.
func (s *Supervisor) Restart() (StartResult, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return StartResult{Status: StatusFailed}, ErrClosed
	case s.restarting:
		s.mu.Unlock()
		return StartResult{Status: StatusRestarting}, nil
	}
	s.beginCycleLocked()
	s.mu.Unlock()
	metrics.SetReady(false)
	return s.submit(reqStart, 0)
}

// SetDataSourcePath validates path against the extension allow-list and for
// existence, persists it, and restarts the worker with it. Validation
// failures are returned before any process is touched. A change requested
// while a restart is in flight is rejected with ErrRestarting rather than
// queued.
func (s *Supervisor) SetDataSourcePath(path string) (StartResult, error) {
	if err := s.validate(path); err != nil {
		return StartResult{Status: StatusFailed}, err
	}
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return StartResult{Status: StatusFailed}, ErrClosed
	case s.restarting:
		s.mu.Unlock()
		return StartResult{Status: StatusRestarting}, ErrRestarting
	}
	s.dataSource = path
	s.beginCycleLocked()
	s.mu.Unlock()
	metrics.SetReady(false)
	s.persistSelection(path)
	return s.submit(reqStart, 0)
}

// Stop terminates the current worker without shutting the supervisor down.
// It interrupts an in-flight readiness cycle; that cycle's outcome is
// discarded.
func (s *Supervisor) Stop() error { return s.StopWait(0) }

// StopWait is Stop with a one-off grace bound: the worker gets up to grace to
// exit cooperatively before being killed. Zero means the configured policy.
func (s *Supervisor) StopWait(grace time.Duration) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	_, err := s.submit(reqStop, grace)
	return err
}

// Close stops the worker and shuts the control loop down. Safe to call more
// than once.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	req := &request{kind: reqShutdown, reply: make(chan startReply, 1)}
	select {
	case s.ctrlCh <- req:
		select {
		case out := <-req.reply:
			return out.err
		case <-s.doneCh:
			return nil
		}
	case <-s.doneCh:
		return nil // already shut down
	}
}

// beginCycleLocked marks a lifecycle transition in flight. Callers hold mu.
func (s *Supervisor) beginCycleLocked() {
	s.restarting = true
	s.ready = false
}

func (s *Supervisor) validate(path string) error {
	if path == "" {
		return &ValidationError{Path: path, Reason: "empty path"}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(s.exts, ext) {
		return &ValidationError{Path: path, Reason: fmt.Sprintf("extension %q not allowed", ext)}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{Path: path, Reason: "file does not exist"}
	}
	if info.IsDir() {
		return &ValidationError{Path: path, Reason: "path is a directory"}
	}
	return nil
}

func (s *Supervisor) persistSelection(path string) {
	if s.prefs == nil {
		return
	}
	if err := s.prefs.Save(prefs.Prefs{DataSourcePath: path}); err != nil {
		slog.Warn("could not persist data source selection", "path", path, "error", err)
	}
}
