// Package history persists worker lifecycle events to durable sinks.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/corescout/scoutd/internal/event"
)

// Entry is one durable line of the lifecycle log.
type Entry struct {
	OccurredAt     time.Time `json:"occurred_at"`
	Severity       string    `json:"severity"`
	Type           string    `json:"type"`
	Port           int       `json:"port"`
	PID            int       `json:"pid"`
	DataSourcePath string    `json:"data_source_path,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

// FromEvent flattens a lifecycle event into a log entry.
func FromEvent(ev event.Event) Entry {
	e := Entry{
		OccurredAt:     ev.OccurredAt,
		Severity:       string(ev.Severity),
		Type:           string(ev.Type),
		Port:           ev.Port,
		PID:            ev.PID,
		DataSourcePath: ev.DataSourcePath,
	}
	switch ev.Type {
	case event.TypeError:
		e.Detail = ev.Title
		if ev.Message != "" {
			e.Detail += ": " + ev.Message
		}
	case event.TypeExited:
		if ev.Signal != "" {
			e.Detail = "signal " + ev.Signal
		} else {
			e.Detail = fmt.Sprintf("exit code %d", ev.ExitCode)
		}
	}
	return e
}

// Sink is a durable destination for lifecycle entries.
// Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}
