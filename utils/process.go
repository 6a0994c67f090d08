package utils

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// TerminateProcess sends SIGTERM to proc, waits up to gracePeriod for exited
// to close, then falls back to SIGKILL and waits for exited unconditionally.
// exited must be closed by whoever reaps the process (cmd.Wait).
func TerminateProcess(proc *os.Process, exited <-chan struct{}, gracePeriod time.Duration) error {
	select {
	case <-exited:
		return nil
	default:
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return killAndWait(proc, exited)
	}

	timer := time.NewTimer(gracePeriod)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	}
	return killAndWait(proc, exited)
}

func killAndWait(proc *os.Process, exited <-chan struct{}) error {
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", proc.Pid, err)
	}
	<-exited
	return nil
}
