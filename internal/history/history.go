package history

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/procpool/internal/report"
)

// EventType defines the kind of completion.
type EventType string

const (
	EventFinished EventType = "finished"
	EventFailed   EventType = "failed" // the program never started
)

// Event is one completion record exported to an external system.
type Event struct {
	RunID      string            `json:"run_id"`
	Type       EventType         `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Record     report.Completion `json:"record"`
}

// NewEvent wraps c, typing it by whether the spawn failed.
func NewEvent(runID string, c report.Completion) Event {
	t := EventFinished
	if c.Failed() {
		t = EventFailed
	}
	occurred := c.FinishedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return Event{RunID: runID, Type: t, OccurredAt: occurred.UTC(), Record: c}
}

// ArgsJSON encodes the argument list for single-column storage.
func (e Event) ArgsJSON() string {
	args := e.Record.Args
	if args == nil {
		args = []string{}
	}
	b, _ := json.Marshal(args)
	return string(b)
}

// Sink is a write-only destination for completion events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

type reporter struct {
	runID string
	sink  Sink
}

// Reporter adapts a Sink so the poll loop can export completions to it.
func Reporter(runID string, s Sink) report.Reporter {
	return reporter{runID: runID, sink: s}
}

func (r reporter) Report(ctx context.Context, c report.Completion) error {
	return r.sink.Send(ctx, NewEvent(r.runID, c))
}

// NewRunID returns a random identifier grouping the events of one run.
func NewRunID() string { return uuid.NewString() }
