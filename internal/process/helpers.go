package process

import (
	"errors"
	"fmt"
)

// ErrStillRunning is returned by Reinvoke while the current run has not finished.
var ErrStillRunning = errors.New("process still running")

// ErrOutputHeld means stdout was still open when the output grace period
// ran out after exit, usually because a descendant inherited it.
var ErrOutputHeld = errors.New("stdout held open after exit")

// OutputReadErrorMarker prefixes Output when the captured stream could not be read.
const OutputReadErrorMarker = "[output unavailable] "

// SpawnError means the program could not be started.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Program, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// WaitError means the non-blocking status check failed. The process is
// still considered running and may be polled again.
type WaitError struct {
	PID int
	Err error
}

func (e *WaitError) Error() string { return fmt.Sprintf("wait pid %d: %v", e.PID, e.Err) }
func (e *WaitError) Unwrap() error { return e.Err }

// OutputReadError means draining stdout after exit failed.
type OutputReadError struct {
	Name string
	Err  error
}

func (e *OutputReadError) Error() string { return fmt.Sprintf("read output of %s: %v", e.Name, e.Err) }
func (e *OutputReadError) Unwrap() error { return e.Err }
