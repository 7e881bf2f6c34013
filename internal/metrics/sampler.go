package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample holds CPU and memory readings for the worker process at one instant.
type Sample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	TakenAt    time.Time `json:"taken_at"`
}

// SamplerConfig holds configuration for worker resource sampling.
type SamplerConfig struct {
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`
	Interval    time.Duration `json:"interval" mapstructure:"interval"`
	HistorySize int           `json:"history_size" mapstructure:"history_size"`
}

// Sampler periodically reads CPU and memory usage of the supervised worker
// and exposes the readings as Prometheus gauges plus a bounded in-memory history.
type Sampler struct {
	enabled  bool
	interval time.Duration
	pid      func() int

	mu sync.RWMutex
	// circular buffer of samples, oldest at startIdx
	ring     []Sample
	startIdx int
	count    int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent prometheus.Gauge
	memoryMB   prometheus.Gauge
	numThreads prometheus.Gauge
	numFDs     prometheus.Gauge
}

// NewSampler creates a sampler that reads resource usage for the PID returned
// by pid. A pid func returning 0 or negative means no worker is running.
func NewSampler(cfg SamplerConfig, pid func() int) *Sampler {
	size := cfg.HistorySize
	if size <= 0 {
		size = 120
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Sampler{
		enabled:  cfg.Enabled,
		interval: interval,
		pid:      pid,
		ring:     make([]Sample, size),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the supervised worker.",
		}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "memory_mb",
			Help:      "Resident memory of the supervised worker in MB.",
		}),
		numThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "num_threads",
			Help:      "Thread count of the supervised worker.",
		}),
		numFDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scoutd",
			Subsystem: "worker",
			Name:      "num_fds",
			Help:      "Open file descriptors of the supervised worker (Unix only).",
		}),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	gauges := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		gauges = append(gauges, s.numFDs)
	}
	for _, g := range gauges {
		if err := r.Register(g); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sampleOnce()
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit.
func (s *Sampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) sampleOnce() {
	pid := s.pid()
	if pid <= 0 {
		s.clearGauges()
		return
	}
	sm, err := readProcess(pid)
	if err != nil {
		slog.Debug("worker resource sample failed", "pid", pid, "error", err)
		s.clearGauges()
		return
	}
	s.cpuPercent.Set(sm.CPUPercent)
	s.memoryMB.Set(sm.MemoryMB)
	s.numThreads.Set(float64(sm.NumThreads))
	if runtime.GOOS != "windows" && sm.NumFDs > 0 {
		s.numFDs.Set(float64(sm.NumFDs))
	}
	s.append(sm)
}

func (s *Sampler) clearGauges() {
	s.cpuPercent.Set(0)
	s.memoryMB.Set(0)
	s.numThreads.Set(0)
	s.numFDs.Set(0)
}

// readProcess collects a single resource sample for pid via gopsutil.
func readProcess(pid int) (Sample, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, fmt.Errorf("open process handle: %w", err)
	}
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("read memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}
	sm := Sample{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		TakenAt:    time.Now(),
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			sm.NumFDs = numFDs
		}
	}
	return sm, nil
}

func (s *Sampler) append(sm Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count < len(s.ring) {
		s.ring[s.count] = sm
		s.count++
		return
	}
	s.ring[s.startIdx] = sm
	s.startIdx = (s.startIdx + 1) % len(s.ring)
}

// Latest returns the most recent sample, if any has been taken.
func (s *Sampler) Latest() (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return Sample{}, false
	}
	var idx int
	if s.count < len(s.ring) {
		idx = s.count - 1
	} else {
		idx = (s.startIdx - 1 + len(s.ring)) % len(s.ring)
	}
	return s.ring[idx], true
}

// History returns the recorded samples in chronological order.
func (s *Sampler) History() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return nil
	}
	out := make([]Sample, s.count)
	if s.count < len(s.ring) {
		copy(out, s.ring[:s.count])
		return out
	}
	n := copy(out, s.ring[s.startIdx:])
	copy(out[n:], s.ring[:s.startIdx])
	return out
}

// Enabled reports whether sampling is active.
func (s *Sampler) Enabled() bool { return s.enabled }
