// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns and reaps child processes as whole process groups,
// so helpers forked by ffmpeg never outlive a stopped stream.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/plexcord/internal/metrics"
)

// ErrGone is returned by Kill when the process group has already exited.
var ErrGone = errors.New("process group is gone")

// Outcome describes how Terminate ended a process.
type Outcome string

const (
	OutcomeExited Outcome = "exited" // already gone or left on SIGTERM
	OutcomeKilled Outcome = "killed" // needed SIGKILL after the grace period
)

// Terminate stops a process group started with Set.
// It sends SIGTERM, waits up to grace for waitCh, then sends SIGKILL and drains waitCh.
// waitCh must deliver the result of cmd.Wait exactly once.
// Safe to call on nil or never-started commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) (Outcome, error) {
	if cmd == nil || cmd.Process == nil {
		return OutcomeExited, nil
	}

	signalGroup(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return OutcomeExited, err
	case <-timer.C:
	}

	signalGroup(cmd, syscall.SIGKILL)

	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return OutcomeKilled, err
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	switch err := Kill(cmd, sig); {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case errors.Is(err, ErrGone):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}
