package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/corescout/scoutd/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ready := history.Entry{
		OccurredAt:     time.Now().UTC(),
		Severity:       "info",
		Type:           "ready",
		Port:           50211,
		PID:            12345,
		DataSourcePath: "/data/cases.db",
	}
	if err := sink.Append(ctx, ready); err != nil {
		t.Fatalf("Failed to append ready entry: %v", err)
	}

	exited := history.Entry{
		OccurredAt: time.Now().UTC(),
		Severity:   "error",
		Type:       "exited",
		Port:       50211,
		PID:        12345,
		Detail:     "exit code 1",
	}
	if err := sink.Append(ctx, exited); err != nil {
		t.Fatalf("Failed to append exited entry: %v", err)
	}

	var count int
	row := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM worker_events WHERE pid = $1", 12345)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to count worker_events: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 entries in worker_events, got %d", count)
	}

	var detail string
	row = sink.db.QueryRowContext(ctx, "SELECT detail FROM worker_events WHERE event = 'exited'")
	if err := row.Scan(&detail); err != nil {
		t.Fatalf("Failed to read exited entry: %v", err)
	}
	if detail != "exit code 1" {
		t.Errorf("Unexpected detail: %q", detail)
	}
}
