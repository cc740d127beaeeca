//go:build windows

package process

import (
	"os/exec"
	"time"
)

type waitResult struct {
	exited   bool
	code     int
	signaled bool
	user     time.Duration
	sys      time.Duration
}

// waiter has no non-blocking wait on Windows; a goroutine blocks in
// Process.Wait and Poll checks its channel.
type waiter struct {
	done chan waitResult
	res  *waitResult
}

func (w *waiter) started(cmd *exec.Cmd) {
	ch := make(chan waitResult, 1)
	w.done = ch
	proc := cmd.Process
	go func() {
		st, err := proc.Wait()
		if err != nil {
			ch <- waitResult{exited: true, code: -1}
			return
		}
		ch <- waitResult{
			exited: true,
			code:   st.ExitCode(),
			user:   st.UserTime(),
			sys:    st.SystemTime(),
		}
	}()
}

func (w *waiter) poll(*exec.Cmd) (waitResult, error) {
	if w.res != nil {
		return *w.res, nil
	}
	select {
	case r := <-w.done:
		w.res = &r
		return r, nil
	default:
		return waitResult{}, nil
	}
}
