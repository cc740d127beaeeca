package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/procpool/internal/process"
)

// Completion is emitted once per process when it leaves the pool.
type Completion struct {
	Name       string        `json:"name"`
	Program    string        `json:"program"`
	Args       []string      `json:"args"`
	Output     string        `json:"output"`
	ExitCode   int           `json:"exit_code"`
	PID        int           `json:"pid"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	UserTime   time.Duration `json:"user_time"`
	SystemTime time.Duration `json:"system_time"`
	PeakRSS    uint64        `json:"peak_rss_bytes,omitempty"`
	SpawnErr   string        `json:"spawn_error,omitempty"`
	OutputErr  string        `json:"output_error,omitempty"`
}

// FromProcess snapshots a finished process.
func FromProcess(p *process.Process) Completion {
	c := Completion{
		Name:       p.Name(),
		Program:    p.Program(),
		Args:       p.Args(),
		Output:     p.Output(),
		ExitCode:   p.ExitCode(),
		PID:        p.PID(),
		StartedAt:  p.StartedAt(),
		FinishedAt: p.FinishedAt(),
		UserTime:   p.UserTime(),
		SystemTime: p.SystemTime(),
		PeakRSS:    p.PeakRSS(),
	}
	if err := p.Err(); err != nil {
		c.SpawnErr = err.Error()
	}
	if err := p.OutputErr(); err != nil {
		c.OutputErr = err.Error()
	}
	return c
}

// Failed reports whether the program never started.
func (c Completion) Failed() bool { return c.SpawnErr != "" }

// Duration is the wall time between spawn and observed exit.
func (c Completion) Duration() time.Duration {
	if c.StartedAt.IsZero() || c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// Reporter receives completion records.
type Reporter interface {
	Report(ctx context.Context, c Completion) error
}

// Func adapts a function to Reporter.
type Func func(ctx context.Context, c Completion) error

func (f Func) Report(ctx context.Context, c Completion) error { return f(ctx, c) }

// Chan delivers records on a channel, giving up when ctx is done.
type Chan chan<- Completion

func (ch Chan) Report(ctx context.Context, c Completion) error {
	select {
	case ch <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Multi fans a record out to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, c Completion) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes one structured record per completion.
type Log struct{ Logger *slog.Logger }

func (l Log) Report(ctx context.Context, c Completion) error {
	lg := l.Logger
	if lg == nil {
		lg = slog.Default()
	}
	if c.Failed() {
		lg.WarnContext(ctx, "process failed to start", "name", c.Name, "program", c.Program, "error", c.SpawnErr)
		return nil
	}
	lg.InfoContext(ctx, "process finished",
		"name", c.Name,
		"pid", c.PID,
		"exit_code", c.ExitCode,
		"duration", c.Duration(),
		"output_bytes", len(c.Output),
	)
	return nil
}

// Collector keeps every record in memory. It is safe for concurrent use so
// readers (e.g. the HTTP server) can observe a run in progress.
type Collector struct {
	mu      sync.RWMutex
	results []Completion
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Report(_ context.Context, rec Completion) error {
	c.mu.Lock()
	c.results = append(c.results, rec)
	c.mu.Unlock()
	return nil
}

// Results returns a copy of the collected records in completion order.
func (c *Collector) Results() []Completion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Completion, len(c.results))
	copy(out, c.results)
	return out
}

// Get returns every record for name.
func (c *Collector) Get(name string) []Completion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Completion
	for _, r := range c.results {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
