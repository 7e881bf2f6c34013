package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/corescout/scoutd/internal/event"
	"github.com/corescout/scoutd/internal/health"
	"github.com/corescout/scoutd/internal/history"
	"github.com/corescout/scoutd/internal/metrics"
	"github.com/corescout/scoutd/internal/portalloc"
	"github.com/corescout/scoutd/internal/worker"
)

// sinkTimeout bounds one durable append so a slow sink cannot stall a
// lifecycle transition.
const sinkTimeout = 2 * time.Second

type reqKind int

const (
	reqStart reqKind = iota
	reqStop
	reqShutdown
)

type request struct {
	kind  reqKind
	grace time.Duration // stop only: overrides the configured grace when > 0
	reply chan startReply
}

type startReply struct {
	res StartResult
	err error
}

// exitNote carries a reaped worker's final status to the control loop, which
// alone decides whether the exit is stale.
type exitNote struct {
	w      *worker.Worker
	gen    uint64
	status worker.Status
}

// run is the control loop: the single goroutine that performs lifecycle
// transitions, so no background task can race past the in-flight guard.
func (s *Supervisor) run() {
	defer func() {
		if s.ownBus {
			s.bus.Close()
		}
		close(s.doneCh)
	}()
	for {
		select {
		case req := <-s.ctrlCh:
			if s.handle(req) {
				return
			}
		case note := <-s.exitCh:
			s.handleExit(note)
		}
	}
}

// handle services one request plus any stop or shutdown picked up while a
// readiness cycle was in flight. It reports whether the loop should exit.
func (s *Supervisor) handle(req *request) bool {
	for req != nil {
		switch req.kind {
		case reqStart:
			req = s.handleStart(req)
		case reqStop:
			s.handleStop(req.grace)
			req.reply <- startReply{}
			req = nil
		case reqShutdown:
			s.handleStop(0)
			req.reply <- startReply{}
			return true
		}
	}
	return false
}

// handleStart runs one full lifecycle cycle: confirm the previous worker is
// gone, allocate a fresh port, spawn, then wait for readiness. The request is
// answered as soon as the worker is spawned; readiness is announced on the
// bus. It returns a stop or shutdown request that interrupted the readiness
// wait, which the caller services next.
func (s *Supervisor) handleStart(req *request) *request {
	s.mu.RLock()
	prev := s.w
	path := s.dataSource
	s.mu.RUnlock()

	began := time.Now()
	metrics.IncRestart()

	prevPort := 0
	if prev != nil {
		prevPort = prev.Snapshot().Port
		s.terminate(prev)
	}

	port, err := portalloc.AllocateDistinct(prevPort)
	if err != nil {
		s.cycleFailed()
		req.reply <- startReply{res: StartResult{Status: StatusFailed}, err: err}
		s.publish(event.Failure("no port available", err.Error(), s.logRef))
		return nil
	}

	w := worker.New(s.spec)
	if err := w.Start(worker.Launch{Port: port, DataSourcePath: path}); err != nil {
		metrics.IncSpawnFailure()
		s.cycleFailed()
		req.reply <- startReply{res: StartResult{Status: StatusFailed}, err: err}
		slog.Error("worker spawn failed", "port", port, "db", path, "error", err)
		s.publish(event.Failure("worker failed to start", err.Error(), s.logRef))
		return nil
	}
	pid := w.PID()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.w = w
	s.mu.Unlock()

	go s.watch(w, gen)

	slog.Info("worker spawned", "pid", pid, "port", port, "db", path)
	req.reply <- startReply{res: StartResult{Status: StatusStarted, PID: pid, Port: port}}

	return s.awaitReady(w, gen, pid, port, path, began)
}

// awaitReady drives one readiness cycle for the worker just spawned. Start
// requests cannot arrive here because the in-flight cycle collapses them at
// submission; a stop or shutdown cancels the cycle, and its eventual outcome
// is discarded rather than applied to a superseded worker.
func (s *Supervisor) awaitReady(w *worker.Worker, gen uint64, pid, port int, path string, began time.Time) *request {
	hctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	healthCh := make(chan health.Report, 1)
	go func() { healthCh <- s.checker.Wait(hctx, port) }()

	for {
		select {
		case rep := <-healthCh:
			s.finishCycle(pid, port, path, rep, began)
			return nil
		case note := <-s.exitCh:
			if note.gen != gen {
				continue // late reap of an already replaced worker
			}
			cancel()
			rep := <-healthCh
			s.clearWorker(w)
			s.cycleFailed()
			metrics.ObserveHealthCycle("cancelled", rep.Attempts)
			st := note.status
			slog.Error("worker exited during startup", "pid", st.PID, "port", port, "exit_code", st.ExitCode, "signal", st.Signal)
			s.publish(event.Failure("worker exited during startup",
				fmt.Sprintf("pid %d exited before becoming ready (%s)", st.PID, exitDetail(st)), s.logRef))
			return nil
		case req := <-s.ctrlCh:
			if req.kind == reqStart {
				req.reply <- startReply{res: StartResult{Status: StatusRestarting}}
				continue
			}
			cancel()
			rep := <-healthCh
			s.cycleFailed()
			metrics.ObserveHealthCycle("cancelled", rep.Attempts)
			return req
		}
	}
}

// finishCycle applies the readiness outcome for the current worker. On
// failure the worker is left running for inspection; only an explicit new
// request retries.
func (s *Supervisor) finishCycle(pid, port int, path string, rep health.Report, began time.Time) {
	if rep.Ready {
		s.mu.Lock()
		s.restarting = false
		s.ready = true
		s.activePort = port
		s.pid = pid
		s.mu.Unlock()
		metrics.SetReady(true)
		metrics.ObserveHealthCycle("ready", rep.Attempts)
		metrics.ObserveRestartDuration(time.Since(began).Seconds())
		slog.Info("worker ready", "port", port, "pid", pid, "attempts", rep.Attempts, "elapsed", rep.Elapsed)
		s.publish(event.Ready(port, path, pid))
		return
	}
	s.cycleFailed()
	metrics.ObserveHealthCycle("failed", rep.Attempts)
	slog.Error("worker never became ready", "port", port, "attempts", rep.Attempts, "elapsed", rep.Elapsed, "error", rep.Err)
	s.publish(event.Failure("worker not ready",
		fmt.Sprintf("no healthy response on port %d after %d attempts (%s)", port, rep.Attempts, rep.Elapsed.Round(time.Millisecond)), s.logRef))
}

// cycleFailed ends the in-flight cycle without a confirmed worker.
func (s *Supervisor) cycleFailed() {
	s.mu.Lock()
	s.restarting = false
	s.ready = false
	s.mu.Unlock()
	metrics.SetReady(false)
}

// terminate confirms the previous worker is gone before a new one may spawn.
func (s *Supervisor) terminate(w *worker.Worker) {
	st := w.Stop(s.stop)
	s.clearWorker(w)
	metrics.IncWorkerExit(true)
	slog.Info("previous worker terminated", "pid", st.PID, "exit_code", st.ExitCode, "signal", st.Signal)
}

// clearWorker drops w from the coordination state if it is still current.
// No worker means not ready.
func (s *Supervisor) clearWorker(w *worker.Worker) {
	s.mu.Lock()
	if s.w == w {
		s.w = nil
		s.pid = 0
		s.activePort = 0
		s.ready = false
	}
	s.mu.Unlock()
	metrics.SetReady(false)
}

// handleStop terminates the current worker, if any. Intentional stops are not
// surfaced as events. A positive grace overrides the configured stop policy
// for this request only.
func (s *Supervisor) handleStop(grace time.Duration) {
	s.mu.RLock()
	w := s.w
	s.mu.RUnlock()
	if w == nil {
		return
	}
	pol := s.stop
	if grace > 0 {
		pol.Grace = grace
	}
	st := w.Stop(pol)
	s.clearWorker(w)
	metrics.IncWorkerExit(true)
	slog.Info("worker stopped", "pid", st.PID, "exit_code", st.ExitCode, "signal", st.Signal)
}

// handleExit services a reap notification outside any in-flight cycle. Notes
// from stale generations or workers already replaced or stopped are dropped;
// what remains is a genuine unexpected exit.
func (s *Supervisor) handleExit(note exitNote) {
	s.mu.Lock()
	if s.closed || note.gen != s.gen || s.w != note.w {
		s.mu.Unlock()
		return
	}
	s.w = nil
	s.pid = 0
	s.activePort = 0
	s.ready = false
	s.mu.Unlock()
	metrics.SetReady(false)
	metrics.IncWorkerExit(false)

	st := note.status
	slog.Error("worker exited unexpectedly", "pid", st.PID, "exit_code", st.ExitCode, "signal", st.Signal)
	s.publish(event.Exited(st.ExitCode, st.Signal, st.PID))
	if st.ExitCode > 0 {
		s.publish(event.Failure("worker exited unexpectedly",
			fmt.Sprintf("pid %d exited with code %d", st.PID, st.ExitCode), s.logRef))
	}
}

// watch forwards the worker's reap notification to the control loop.
func (s *Supervisor) watch(w *worker.Worker, gen uint64) {
	<-w.Done()
	select {
	case s.exitCh <- exitNote{w: w, gen: gen, status: w.Snapshot()}:
	case <-s.doneCh:
	}
}

// submit hands a request to the control loop and waits for its reply.
func (s *Supervisor) submit(kind reqKind, grace time.Duration) (StartResult, error) {
	req := &request{kind: kind, grace: grace, reply: make(chan startReply, 1)}
	select {
	case s.ctrlCh <- req:
	case <-s.doneCh:
		return StartResult{Status: StatusFailed}, ErrClosed
	}
	select {
	case out := <-req.reply:
		return out.res, out.err
	case <-s.doneCh:
		return StartResult{Status: StatusFailed}, ErrClosed
	}
}

// publish fans an event out to the bus and the durable sinks. Detached or
// slow subscribers miss events rather than block lifecycle transitions.
func (s *Supervisor) publish(ev event.Event) {
	s.bus.Publish(ev)
	if len(s.sinks) == 0 {
		return
	}
	entry := history.FromEvent(ev)
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.Append(ctx, entry); err != nil {
			slog.Warn("history append failed", "event", string(ev.Type), "error", err)
		}
	}
}

func exitDetail(st worker.Status) string {
	if st.Signal != "" {
		return "signal " + st.Signal
	}
	return fmt.Sprintf("exit code %d", st.ExitCode)
}
