package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loykin/procpool/internal/report"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func TestNewEvent(t *testing.T) {
	fin := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	e := NewEvent("run-1", report.Completion{Name: "echo", FinishedAt: fin})
	if e.Type != EventFinished || e.RunID != "run-1" {
		t.Fatalf("unexpected event %+v", e)
	}
	if !e.OccurredAt.Equal(fin) || e.OccurredAt.Location() != time.UTC {
		t.Fatalf("occurred_at should be finish time in UTC, got %v", e.OccurredAt)
	}

	failed := NewEvent("run-1", report.Completion{Name: "nope", SpawnErr: "not found"})
	if failed.Type != EventFailed || failed.OccurredAt.IsZero() {
		t.Fatalf("unexpected failed event %+v", failed)
	}
}

func TestArgsJSON(t *testing.T) {
	if got := (Event{}).ArgsJSON(); got != "[]" {
		t.Fatalf("nil args = %s", got)
	}
	e := Event{Record: report.Completion{Args: []string{"a b", `"q"`}}}
	if got := e.ArgsJSON(); got != `["a b","\"q\""]` {
		t.Fatalf("args json = %s", got)
	}
}

func TestReporterAdapter(t *testing.T) {
	s := &memSink{}
	r := Reporter("run-2", s)
	if err := r.Report(context.Background(), report.Completion{Name: "a"}); err != nil {
		t.Fatal(err)
	}
	if len(s.events) != 1 || s.events[0].RunID != "run-2" || s.events[0].Record.Name != "a" {
		t.Fatalf("unexpected events %+v", s.events)
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if len(a) != 36 || a == b {
		t.Fatalf("unexpected run ids %q %q", a, b)
	}
}
