package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/procpool/internal/history"
	"github.com/loykin/procpool/internal/report"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	now := time.Now()
	finished := report.Completion{
		Name:       "echo",
		Program:    "echo",
		Args:       []string{"Hello"},
		Output:     "Hello\n",
		PID:        12345,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
	}
	failed := report.Completion{Name: "nope", Program: "nope", SpawnErr: "executable file not found"}

	for _, c := range []report.Completion{finished, failed} {
		if err := sink.Send(ctx, history.NewEvent("run-a", c)); err != nil {
			t.Fatalf("Failed to send event: %v", err)
		}
	}
	if err := sink.Send(ctx, history.NewEvent("run-b", finished)); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	n, err := sink.Count(ctx, "run-a")
	if err != nil || n != 2 {
		t.Fatalf("run-a rows = %d, err = %v", n, err)
	}

	var output, args, event string
	row := sink.db.QueryRowContext(ctx, `SELECT output, args, event FROM process_completions WHERE run_id = ? AND name = ?`, "run-a", "echo")
	if err := row.Scan(&output, &args, &event); err != nil {
		t.Fatalf("query: %v", err)
	}
	if output != "Hello\n" || args != `["Hello"]` || event != "finished" {
		t.Fatalf("unexpected row: output=%q args=%q event=%q", output, args, event)
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.NewEvent("r", report.Completion{Name: "x", Program: "x"})); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n, _ := sink.Count(context.Background(), "r"); n != 1 {
		t.Fatalf("rows = %d", n)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
