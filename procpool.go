// Package procpool spawns a batch of external programs, polls them without
// blocking, and reports each one's captured stdout as it finishes.
package procpool

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/procpool/internal/command"
	"github.com/loykin/procpool/internal/metrics"
	"github.com/loykin/procpool/internal/pool"
	"github.com/loykin/procpool/internal/process"
	"github.com/loykin/procpool/internal/report"
	"github.com/loykin/procpool/internal/scheduler"
	iapi "github.com/loykin/procpool/internal/server"
)

// Re-export core types for external consumers.

type Spec = process.Spec

type Completion = report.Completion

type Reporter = report.Reporter

type Parser = command.Parser

type Collector = report.Collector

const (
	StripQuotes  = command.StripQuotes
	RetainQuotes = command.RetainQuotes
)

// Options tune a Run. The zero value spawns with the caller's environment,
// a capacity hint of pool.DefaultCapacity and a 10ms sweep interval. A
// negative Interval polls continuously.
type Options struct {
	Capacity       int
	StrictCapacity bool // hold back spawns while the pool is full
	Interval       time.Duration
	SampleInterval time.Duration // resource sampling period; zero disables
	Parser         command.Parser
	WorkDir        string
	Env            []string // full child environment; nil inherits
	Logger         *slog.Logger
	Reporter       report.Reporter // receives every completion as it happens
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) interval() time.Duration {
	if o.Interval < 0 {
		return 0
	}
	if o.Interval == 0 {
		return scheduler.DefaultInterval
	}
	return o.Interval
}

// Run spawns every command, drives the poll loop until all of them are done
// and returns the completion records in the order they were observed.
// A command that cannot be parsed or started yields a failed record; it
// never aborts the others. When ctx ends early Run returns the records
// collected so far with ctx.Err().
func Run(ctx context.Context, commands []string, opts Options) ([]Completion, error) {
	log := opts.logger()
	col := report.NewCollector()
	var rep report.Reporter = col
	if opts.Reporter != nil {
		rep = report.Multi{col, opts.Reporter}
	}

	popts := []pool.Option{pool.WithLogger(log)}
	if opts.StrictCapacity {
		popts = append(popts, pool.WithStrictCapacity())
	}
	p := pool.New(opts.Capacity, popts...)
	loop := scheduler.New(p, rep,
		scheduler.WithInterval(opts.interval()),
		scheduler.WithUsageSampling(opts.SampleInterval),
		scheduler.WithLogger(log),
	)

	for _, raw := range commands {
		spec, err := process.SpecFromCommand(opts.Parser, raw)
		if err != nil {
			metrics.IncSpawnFailure("")
			log.Warn("invalid command", "command", raw, "error", err)
			if rerr := rep.Report(ctx, parseFailure(raw, err)); rerr != nil {
				log.Error("report completion", "command", raw, "error", rerr)
			}
			continue
		}
		spec.WorkDir = opts.WorkDir
		spec.Env = opts.Env

		if p.Strict() {
			if err := waitForRoom(ctx, p, loop, opts.interval()); err != nil {
				return col.Results(), err
			}
		}
		proc, err := process.Spawn(spec)
		if err != nil {
			metrics.IncSpawnFailure(spec.Program)
		} else {
			metrics.IncSpawn(spec.Program)
			log.Debug("spawned", "name", proc.Name(), "pid", proc.PID())
		}
		// a failed spawn still joins the pool so its completion is reported in order
		if err := p.Add(proc); err != nil {
			return col.Results(), err
		}
	}
	metrics.SetPoolSize(p.Len())

	err := loop.Run(ctx)
	return col.Results(), err
}

// waitForRoom sweeps until the pool has a free slot.
func waitForRoom(ctx context.Context, p *pool.Pool, loop *scheduler.Loop, interval time.Duration) error {
	for p.Len() >= p.Cap() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if loop.Sweep(ctx) || p.Len() < p.Cap() {
			return nil
		}
		if interval > 0 {
			t := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil
}

func parseFailure(raw string, err error) Completion {
	now := time.Now()
	return Completion{
		Name:       raw,
		Program:    raw,
		ExitCode:   -1,
		FinishedAt: now,
		SpawnErr:   err.Error(),
	}
}

// ParseCommand splits raw with the default parser.
func ParseCommand(raw string) (program string, args []string, err error) {
	return command.Parse(raw)
}

// NewCollector returns an in-memory reporter safe for concurrent readers.
func NewCollector() *Collector { return report.NewCollector() }

// NewHTTPServer starts an HTTP server exposing the collected results.
func NewHTTPServer(addr, basePath string, results *Collector) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, results)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
