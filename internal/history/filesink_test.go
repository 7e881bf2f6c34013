package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/corescout/scoutd/internal/event"
	"github.com/corescout/scoutd/internal/logger"
)

func TestFileSink_AppendsLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	s := NewFileSink(path, logger.Config{})
	defer func() { _ = s.Close() }()

	if got := s.LogRef(); got != path {
		t.Fatalf("LogRef = %q, want %q", got, path)
	}

	ctx := context.Background()
	if err := s.Append(ctx, FromEvent(event.Ready(4100, "/data/a.db", 9))); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, FromEvent(event.Failure("health checks failed", "20 attempts", path))); err != nil {
		t.Fatalf("Append: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read event log: %v", err)
	}
	out := string(b)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "msg=ready") || !strings.Contains(lines[0], "port=4100") {
		t.Fatalf("ready line malformed: %q", lines[0])
	}
	if !strings.Contains(lines[0], "time=") {
		t.Fatalf("line missing timestamp: %q", lines[0])
	}
	if !strings.Contains(lines[1], "level=ERROR") || !strings.Contains(lines[1], "health checks failed") {
		t.Fatalf("error line malformed: %q", lines[1])
	}
}

func TestFileSink_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logs", "deep", "events.log")
	s := NewFileSink(path, logger.Config{})
	defer func() { _ = s.Close() }()
	if err := s.Append(context.Background(), Entry{Severity: "info", Type: "ready", Port: 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("event log not created: %v", err)
	}
}
