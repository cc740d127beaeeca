package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/procpool/internal/metrics"
	"github.com/loykin/procpool/internal/pool"
	"github.com/loykin/procpool/internal/process"
	"github.com/loykin/procpool/internal/report"
)

// DefaultInterval is the idle time between sweeps.
const DefaultInterval = 10 * time.Millisecond

// Loop drives a pool until every process has finished. A Loop and its pool
// must only be used from one goroutine.
type Loop struct {
	pool     *pool.Pool
	reporter report.Reporter
	interval time.Duration
	log      *slog.Logger

	sampleEvery time.Duration
	lastSample  time.Time

	poll func(*process.Process) (process.Status, error)
}

type Option func(*Loop)

// WithInterval sets the idle time between sweeps; zero polls in a tight loop.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d >= 0 {
			l.interval = d
		}
	}
}

// WithUsageSampling reads memory and thread count of running processes at
// most once per d. Zero disables sampling.
func WithUsageSampling(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.sampleEvery = d
		}
	}
}

func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.log = lg
		}
	}
}

// New returns a loop over p that sends completion records to r. A nil r
// discards them.
func New(p *pool.Pool, r report.Reporter, opts ...Option) *Loop {
	l := &Loop{
		pool:     p,
		reporter: r,
		interval: DefaultInterval,
		log:      slog.Default(),
		poll:     (*process.Process).Poll,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Sweep makes one pass over the pool: poll every running process, report
// the ones that finished, then drop them. It returns true once the pool is empty.
func (l *Loop) Sweep(ctx context.Context) bool {
	metrics.IncSweep()
	sample := l.sampleDue()
	for _, p := range l.pool.Entities() {
		// spawn failures are already finished and only need reporting
		if p.Finished() {
			continue
		}
		st, err := l.poll(p)
		if err != nil {
			var we *process.WaitError
			if errors.As(err, &we) {
				metrics.IncWaitError()
				l.log.Warn("wait failed, will retry", "name", p.Name(), "pid", we.PID, "error", we.Err)
				continue
			}
			l.log.Error("poll failed", "name", p.Name(), "error", err)
			continue
		}
		if st.Exited() && p.OutputErr() != nil {
			metrics.IncOutputReadError()
			l.log.Warn("output unavailable", "name", p.Name(), "error", p.OutputErr())
		}
		if sample && st.Running() && !p.Draining() {
			l.sample(p)
		}
	}
	for _, p := range l.pool.SweepFinished() {
		l.emit(ctx, p)
	}
	metrics.SetPoolSize(l.pool.Len())
	return l.pool.IsEmpty()
}

func (l *Loop) sampleDue() bool {
	if l.sampleEvery <= 0 {
		return false
	}
	now := time.Now()
	if now.Sub(l.lastSample) < l.sampleEvery {
		return false
	}
	l.lastSample = now
	return true
}

// sample runs only for processes that are not reaped yet, so the pid is
// still theirs.
func (l *Loop) sample(p *process.Process) {
	u, err := metrics.SampleUsage(p.PID())
	if err != nil {
		l.log.Debug("usage sample failed", "name", p.Name(), "pid", p.PID(), "error", err)
		return
	}
	p.RecordRSS(u.RSS)
	metrics.SetUsage(p.Name(), p.PID(), u)
}

func (l *Loop) emit(ctx context.Context, p *process.Process) {
	if l.sampleEvery > 0 {
		metrics.DeleteUsage(p.Name(), p.PID())
	}
	c := report.FromProcess(p)
	metrics.ObserveCompletion(c.Program, c.ExitCode, c.Failed(), c.Duration().Seconds())
	if c.Failed() {
		l.log.Warn("process failed to spawn", "name", c.Name, "error", c.SpawnErr)
	} else {
		l.log.Debug("process finished", "name", c.Name, "pid", c.PID, "exit_code", c.ExitCode)
	}
	if l.reporter == nil {
		return
	}
	if err := l.reporter.Report(ctx, c); err != nil {
		l.log.Error("report completion", "name", c.Name, "error", err)
	}
}

// Run sweeps until the pool is empty or ctx is done. On cancellation the
// remaining processes stay in the pool and a later Run picks them up.
func (l *Loop) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if l.interval > 0 {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.Sweep(ctx) {
			return nil
		}
		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}
