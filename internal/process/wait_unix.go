//go:build unix

package process

import (
	"errors"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

type waitResult struct {
	exited   bool
	code     int
	signaled bool
	user     time.Duration
	sys      time.Duration
}

var wait4 = unix.Wait4

// waiter reaps the child directly with wait4(WNOHANG); cmd.Wait is never called.
type waiter struct{}

func (waiter) started(*exec.Cmd) {}

func (waiter) poll(cmd *exec.Cmd) (waitResult, error) {
	var (
		ws  unix.WaitStatus
		ru  unix.Rusage
		pid int
		err error
	)
	for {
		pid, err = wait4(cmd.Process.Pid, &ws, unix.WNOHANG, &ru)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if errors.Is(err, unix.ECHILD) {
		// reaped elsewhere; the exit status is lost
		return waitResult{exited: true, code: -1}, nil
	}
	if err != nil {
		return waitResult{}, err
	}
	if pid == 0 {
		return waitResult{}, nil
	}
	res := waitResult{
		exited: true,
		user:   time.Duration(ru.Utime.Nano()),
		sys:    time.Duration(ru.Stime.Nano()),
	}
	switch {
	case ws.Exited():
		res.code = ws.ExitStatus()
	case ws.Signaled():
		res.code = -1
		res.signaled = true
	default:
		// stopped/continued are not terminal
		return waitResult{}, nil
	}
	return res, nil
}
