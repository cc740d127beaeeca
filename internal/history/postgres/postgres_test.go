package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/procpool/internal/history"
	"github.com/loykin/procpool/internal/report"
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

	now := time.Now().UTC()
	done := report.Completion{
		Name:       "sleep",
		Program:    "sleep",
		Args:       []string{"1"},
		PID:        12345,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
	}
	failed := report.Completion{Name: "missing", Program: "missing", ExitCode: -1, SpawnErr: "not found"}

	for _, c := range []report.Completion{done, failed} {
		if err := sink.Send(ctx, history.NewEvent("pg-run", c)); err != nil {
			t.Fatalf("Failed to send event: %v", err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM process_completions WHERE run_id = $1", "pg-run").Scan(&count); err != nil {
		t.Fatalf("Failed to query process_completions: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 completions, got %d", count)
	}

	var spawnErr string
	if err := sink.db.QueryRowContext(ctx, "SELECT spawn_error FROM process_completions WHERE event = 'failed'").Scan(&spawnErr); err != nil {
		t.Fatalf("Failed to query failed row: %v", err)
	}
	if spawnErr != "not found" {
		t.Errorf("spawn_error = %q", spawnErr)
	}
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
