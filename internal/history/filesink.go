package history

import (
	"context"
	"io"
	"log/slog"

	"github.com/corescout/scoutd/internal/event"
	"github.com/corescout/scoutd/internal/logger"
)

// FileSink appends one timestamped line per lifecycle event to a
// size-rotated log file. Appends never block beyond the buffered write, so
// the sink is safe on the supervisor's transition path. Its path doubles as
// the log reference carried by error events.
type FileSink struct {
	path string
	w    io.WriteCloser
	lg   *slog.Logger
}

// NewFileSink opens (or creates) the event log at path, rotating per rot.
func NewFileSink(path string, rot logger.Config) *FileSink {
	w := rot.Rotating(path)
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &FileSink{path: path, w: w, lg: slog.New(h)}
}

// LogRef returns the on-disk location surfaced in error events.
func (f *FileSink) LogRef() string { return f.path }

func (f *FileSink) Append(ctx context.Context, e Entry) error {
	level := slog.LevelInfo
	if e.Severity == string(event.SeverityError) {
		level = slog.LevelError
	}
	attrs := make([]slog.Attr, 0, 4)
	if e.Port != 0 {
		attrs = append(attrs, slog.Int("port", e.Port))
	}
	if e.PID != 0 {
		attrs = append(attrs, slog.Int("pid", e.PID))
	}
	if e.DataSourcePath != "" {
		attrs = append(attrs, slog.String("db", e.DataSourcePath))
	}
	if e.Detail != "" {
		attrs = append(attrs, slog.String("detail", e.Detail))
	}
	f.lg.LogAttrs(ctx, level, e.Type, attrs...)
	return nil
}

func (f *FileSink) Close() error { return f.w.Close() }
