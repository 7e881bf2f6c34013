// Package worker owns the supervised subprocess: spawning it with explicit
// launch parameters, capturing its output, confirming its termination and
// recording how it exited.
package worker

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// StopPolicy bounds graceful termination: send the cooperative stop signal,
// poll for exit every Interval up to Grace, then kill unconditionally.
type StopPolicy struct {
	Grace    time.Duration `json:"grace" mapstructure:"grace"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

const (
	DefaultStopGrace    = 2 * time.Second
	DefaultStopInterval = 50 * time.Millisecond

	// reapWindow is how long Stop waits for the wait goroutine to record the
	// exit status after the process is known dead.
	reapWindow = 500 * time.Millisecond
)

func (p StopPolicy) normalized() StopPolicy {
	if p.Grace <= 0 {
		p.Grace = DefaultStopGrace
	}
	if p.Interval <= 0 {
		p.Interval = DefaultStopInterval
	}
	return p
}

// Status is a point-in-time snapshot of the worker process.
type Status struct {
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	Port           int       `json:"port"`
	DataSourcePath string    `json:"data_source_path,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	StoppedAt      time.Time `json:"stopped_at"`
	ExitCode       int       `json:"exit_code"` // -1 until the exit status is known
	Signal         string    `json:"signal,omitempty"`
	ExitErr        error     `json:"-"`
	StopRequested  bool      `json:"stop_requested"`
}

// Worker wraps at most one live OS process. A Worker is single-use: the
// supervisor creates a fresh one per launch and never reuses it after exit.
type Worker struct {
	spec Spec

	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	stopping  bool
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed by the wait goroutine after reaping
}

func New(spec Spec) *Worker {
	return &Worker{spec: spec, status: Status{ExitCode: -1}}
}

// Start launches the worker process with the given parameters. The process
// is placed in its own group on POSIX so stop signals reach any children.
// Exactly one wait goroutine per launch reaps the exit status.
func (w *Worker) Start(l Launch) error {
	w.mu.Lock()
	if w.status.Running {
		w.mu.Unlock()
		return fmt.Errorf("worker already running with pid %d", w.status.PID)
	}
	w.mu.Unlock()

	cmd, err := w.spec.BuildCommand(l)
	if err != nil {
		return err
	}
	w.attachOutputs(cmd)
	if err := cmd.Start(); err != nil {
		w.closeWriters()
		return fmt.Errorf("spawn worker: %w", err)
	}
	w.mu.Lock()
	w.cmd = cmd
	w.stopping = false
	w.waitDone = make(chan struct{})
	w.status = Status{
		Running:        true,
		PID:            cmd.Process.Pid,
		Port:           l.Port,
		DataSourcePath: l.DataSourcePath,
		StartedAt:      time.Now(),
		ExitCode:       -1,
	}
	done := w.waitDone
	w.mu.Unlock()
	go w.reap(cmd, done)
	return nil
}

// reap waits for the process, records its exit status, releases the capture
// writers and closes done.
func (w *Worker) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	code, sig := decodeExit(cmd)
	w.mu.Lock()
	w.status.Running = false
	w.status.StoppedAt = time.Now()
	w.status.ExitCode = code
	w.status.Signal = sig
	w.status.ExitErr = err
	w.status.StopRequested = w.stopping
	w.mu.Unlock()
	w.closeWriters()
	close(done)
}

// Done returns a channel closed once the current process has been reaped.
// Only valid after a successful Start.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waitDone
}

// Snapshot returns a copy of the current status.
func (w *Worker) Snapshot() Status {
	w.mu.Lock()
	s := w.status
	w.mu.Unlock()
	return s
}

// PID returns the live process id, or 0 when nothing is running.
func (w *Worker) PID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.status.Running {
		return 0
	}
	return w.status.PID
}

// StopRequested reports whether Stop has been called for the current launch.
func (w *Worker) StopRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopping
}

// Alive reports whether the process is still running, probing the OS so a
// crashed-but-unreaped process is not miscounted.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	cmd := w.cmd
	running := w.status.Running
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil || !running {
		return false
	}
	return processAlive(cmd.Process.Pid)
}

// Stop requests cooperative termination and confirms exit: stop signal to
// the process group, poll at Interval up to Grace, then unconditional kill
// with a short reap window. It always returns within the policy bounds and
// is a no-op when nothing is running.
func (w *Worker) Stop(p StopPolicy) Status {
	p = p.normalized()
	w.mu.Lock()
	w.stopping = true
	cmd := w.cmd
	running := w.status.Running
	done := w.waitDone
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil || !running {
		return w.Snapshot()
	}
	pid := cmd.Process.Pid
	signalTerm(pid)

	deadline := time.Now().Add(p.Grace)
	tick := time.NewTicker(p.Interval)
	defer tick.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-done:
			return w.Snapshot()
		case <-tick.C:
			if !processAlive(pid) {
				w.awaitReap(done)
				return w.Snapshot()
			}
		}
	}
	signalKill(pid)
	w.awaitReap(done)
	return w.Snapshot()
}

func (w *Worker) awaitReap(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(reapWindow):
	}
}

func (w *Worker) attachOutputs(cmd *exec.Cmd) {
	if w.spec.Log.Enabled() {
		if w.spec.Log.Dir != "" {
			_ = os.MkdirAll(w.spec.Log.Dir, 0o750)
		}
		outW, errW, _ := w.spec.Log.Writers(w.spec.name())
		w.mu.Lock()
		w.outCloser = outW
		w.errCloser = errW
		w.mu.Unlock()
		cmd.Stdout = outW
		cmd.Stderr = errW
		if outW == nil {
			cmd.Stdout = devNull()
		}
		if errW == nil {
			cmd.Stderr = devNull()
		}
		return
	}
	null := devNull()
	cmd.Stdout = null
	cmd.Stderr = null
}

func (w *Worker) closeWriters() {
	w.mu.Lock()
	out, errW := w.outCloser, w.errCloser
	w.outCloser = nil
	w.errCloser = nil
	w.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

func devNull() *os.File {
	f, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	return f
}
