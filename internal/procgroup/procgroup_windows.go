// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set does nothing: Windows has no process groups to opt into.
func Set(*exec.Cmd) {}

// Kill terminates the process itself for SIGKILL. SIGTERM has no Windows
// equivalent, so Terminate falls through to the kill after the grace period.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil || sig != syscall.SIGKILL {
		return nil
	}
	return cmd.Process.Kill()
}
