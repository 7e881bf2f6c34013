package client

import "time"

// Start outcomes reported by the daemon.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusRestarting     = "restarting"
	StatusNoDataSource   = "no_data_source"
	StatusFailed         = "failed"
)

// StartResult is the outcome of a start or data-source request. PID and Port
// are set when a worker was spawned by the request or is already serving.
type StartResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
	Port   int    `json:"port,omitempty"`
}

// WorkerStatus describes the worker process as last observed by the daemon.
type WorkerStatus struct {
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	Port           int       `json:"port"`
	DataSourcePath string    `json:"data_source_path,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	StoppedAt      time.Time `json:"stopped_at"`
	ExitCode       int       `json:"exit_code"`
	Signal         string    `json:"signal,omitempty"`
	StopRequested  bool      `json:"stop_requested"`
}

// ResourceSample is a point-in-time resource reading of the worker process.
type ResourceSample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	TakenAt    time.Time `json:"taken_at"`
}

// Status is the daemon's status document: the coordination state plus worker
// process detail and the latest resource sample when available.
type Status struct {
	ActivePort     int             `json:"active_port,omitempty"`
	DataSourcePath string          `json:"data_source_path,omitempty"`
	Ready          bool            `json:"ready"`
	Restarting     bool            `json:"restarting"`
	PID            int             `json:"pid,omitempty"`
	Worker         *WorkerStatus   `json:"worker,omitempty"`
	Sample         *ResourceSample `json:"sample,omitempty"`
}

// ErrorResponse is the daemon's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
