package process

import (
	"bytes"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Process tracks one external program from spawn until its output has been
// captured. It is not safe for concurrent use; the poll loop owns it.
type Process struct {
	spec Spec
	cmd  *exec.Cmd
	pid  int

	state      State
	output     string
	startedAt  time.Time
	finishedAt time.Time
	exitCode   int
	signaled   bool
	userTime   time.Duration
	sysTime    time.Duration
	peakRSS    uint64
	spawnErr   error
	outputErr  error

	stdout   io.Closer
	out      *capture
	reaped   *waitResult // exit seen, output not yet published
	reapedAt time.Time

	waiter // platform-specific wait state
}

// Spawn starts spec.Program with stdout captured. When the program cannot
// be started the returned Process is still usable: it is in StateFailed,
// Finished reports true and Err returns the *SpawnError.
func Spawn(spec Spec) (*Process, error) {
	p := &Process{spec: spec.normalized()}
	if err := p.start(); err != nil {
		return p, err
	}
	return p, nil
}

func (p *Process) start() error {
	p.state = StateCreated
	if err := p.spec.Validate(); err != nil {
		return p.fail(err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return p.fail(err)
	}
	cmd := p.spec.buildCommand()
	cmd.Stdout = w
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return p.fail(err)
	}
	// the child holds its own copy of the write end
	_ = w.Close()

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.state = StateRunning
	p.drain(r)
	p.waiter.started(cmd)
	return nil
}

func (p *Process) fail(err error) error {
	se := &SpawnError{Program: p.spec.Program, Err: err}
	p.spawnErr = se
	p.state = StateFailed
	p.finishedAt = time.Now()
	p.exitCode = -1
	return se
}

// capture is the stdout buffer shared with the drain goroutine.
type capture struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	err  error
	done chan struct{}
}

func (c *capture) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(b)
}

func (c *capture) result() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String(), c.err
}

// drain copies r into a capture until EOF so the child never blocks on a
// full pipe.
func (p *Process) drain(r io.ReadCloser) {
	c := &capture{done: make(chan struct{})}
	p.out = c
	p.stdout = r
	go func() {
		defer close(c.done)
		_, err := io.Copy(c, r)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		_ = r.Close()
	}()
}

// Poll checks without blocking whether the program has exited. Once it has
// and stdout reached EOF, the output is stored and the process is finished;
// until then it still reports running. Later calls return the cached status.
func (p *Process) Poll() (Status, error) {
	switch p.state {
	case StateCreated, StateFinished, StateFailed:
		return p.status(), nil
	}
	if p.reaped == nil {
		res, err := p.waiter.poll(p.cmd)
		if err != nil {
			return p.status(), &WaitError{PID: p.PID(), Err: err}
		}
		if !res.exited {
			return p.status(), nil
		}
		p.reaped = &res
		p.reapedAt = time.Now()
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Release()
		}
	}
	p.collect()
	return p.status(), nil
}

// collect publishes the captured output once the drain is done. If stdout
// stays open past the grace period the read end is closed and whatever was
// captured so far is kept.
func (p *Process) collect() {
	select {
	case <-p.out.done:
		text, err := p.out.result()
		if err != nil {
			p.outputErr = &OutputReadError{Name: p.spec.Name, Err: err}
			p.output = OutputReadErrorMarker + err.Error()
		} else {
			p.output = text
		}
	default:
		if time.Since(p.reapedAt) < p.spec.OutputGrace {
			return
		}
		_ = p.stdout.Close()
		p.output, _ = p.out.result()
		p.outputErr = &OutputReadError{Name: p.spec.Name, Err: ErrOutputHeld}
	}
	p.finish(*p.reaped)
}

func (p *Process) finish(res waitResult) {
	p.out = nil
	p.stdout = nil
	p.reaped = nil
	p.exitCode = res.code
	p.signaled = res.signaled
	p.userTime = res.user
	p.sysTime = res.sys
	p.finishedAt = p.reapedAt
	p.state = StateFinished
}

// Draining reports whether the program has exited but its stdout is still
// being read.
func (p *Process) Draining() bool {
	return p.state == StateRunning && p.reaped != nil
}

func (p *Process) status() Status {
	st := Status{State: p.state, ExitCode: p.exitCode, Signaled: p.signaled}
	if p.state == StateRunning || p.state == StateCreated {
		st.ExitCode = 0
	}
	return st
}

// Reinvoke starts the program again once the previous run is done. Given
// args replace the previous ones.
func (p *Process) Reinvoke(args ...string) error {
	if p.state == StateRunning {
		return ErrStillRunning
	}
	if len(args) > 0 {
		p.spec.Args = cloneStrings(args)
	}
	p.output = ""
	p.outputErr = nil
	p.spawnErr = nil
	p.exitCode = 0
	p.signaled = false
	p.userTime, p.sysTime = 0, 0
	p.peakRSS = 0
	p.finishedAt = time.Time{}
	p.reaped = nil
	p.reapedAt = time.Time{}
	p.cmd = nil
	p.pid = 0
	p.waiter = waiter{}
	return p.start()
}

func (p *Process) Name() string    { return p.spec.Name }
func (p *Process) Program() string { return p.spec.Program }

// Args returns a copy of the argument list.
func (p *Process) Args() []string { return cloneStrings(p.spec.Args) }

// Output is empty until the process is finished.
func (p *Process) Output() string { return p.output }

// Finished reports whether the process reached a terminal state.
func (p *Process) Finished() bool {
	return p.state == StateFinished || p.state == StateFailed
}

func (p *Process) State() State              { return p.state }
func (p *Process) StartedAt() time.Time      { return p.startedAt }
func (p *Process) FinishedAt() time.Time     { return p.finishedAt }
func (p *Process) ExitCode() int             { return p.exitCode }
func (p *Process) UserTime() time.Duration   { return p.userTime }
func (p *Process) SystemTime() time.Duration { return p.sysTime }

// RecordRSS keeps the largest resident set size seen by a sampler.
func (p *Process) RecordRSS(n uint64) {
	if n > p.peakRSS {
		p.peakRSS = n
	}
}

// PeakRSS is zero unless the process was sampled while running.
func (p *Process) PeakRSS() uint64 { return p.peakRSS }

// Err returns the spawn failure, if any.
func (p *Process) Err() error { return p.spawnErr }

// OutputErr returns the failure to read captured output, if any.
func (p *Process) OutputErr() error { return p.outputErr }

// PID returns the OS process id, or 0 if the program never started.
func (p *Process) PID() int { return p.pid }
