// Package event carries worker lifecycle notifications to the presentation
// layer.
package event

import "time"

type Type string

const (
	TypeReady  Type = "ready"
	TypeError  Type = "error"
	TypeExited Type = "exited"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Event is one lifecycle notification. Type selects which payload fields are
// meaningful: Ready carries Port and DataSourcePath, Error carries Title,
// Message and LogRef, Exited carries ExitCode and Signal.
type Event struct {
	Type           Type      `json:"type"`
	OccurredAt     time.Time `json:"occurred_at"`
	Severity       Severity  `json:"severity"`
	Port           int       `json:"port,omitempty"`
	DataSourcePath string    `json:"data_source_path,omitempty"`
	PID            int       `json:"pid,omitempty"`
	Title          string    `json:"title,omitempty"`
	Message        string    `json:"message,omitempty"`
	LogRef         string    `json:"log_ref,omitempty"`
	ExitCode       int       `json:"exit_code,omitempty"`
	Signal         string    `json:"signal,omitempty"`
}

// Ready reports the worker serving on port with the given data source.
func Ready(port int, dataSourcePath string, pid int) Event {
	return Event{
		Type:           TypeReady,
		OccurredAt:     time.Now(),
		Severity:       SeverityInfo,
		Port:           port,
		DataSourcePath: dataSourcePath,
		PID:            pid,
	}
}

// Failure reports a lifecycle failure with a pointer to the durable log.
func Failure(title, message, logRef string) Event {
	return Event{
		Type:       TypeError,
		OccurredAt: time.Now(),
		Severity:   SeverityError,
		Title:      title,
		Message:    message,
		LogRef:     logRef,
	}
}

// Exited reports a worker exit observed outside an intentional shutdown.
func Exited(code int, signal string, pid int) Event {
	return Event{
		Type:       TypeExited,
		OccurredAt: time.Now(),
		Severity:   SeverityError,
		ExitCode:   code,
		Signal:     signal,
		PID:        pid,
	}
}
