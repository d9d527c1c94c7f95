// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"errors"
	"os/exec"
	"strings"
	"syscall"
)

// FailureClass groups non-zero exits by how the supervisor reacts to them.
type FailureClass string

const (
	ClassResourceExhaustion FailureClass = "resource_exhaustion"
	ClassTransientIO        FailureClass = "transient_io"
	ClassBadInput           FailureClass = "bad_input"
	ClassUnknown            FailureClass = "unknown"
)

// Retryable reports whether the supervisor may restart after this class.
func (c FailureClass) Retryable() bool { return c != ClassBadInput }

var (
	resourcePatterns = []string{
		"cannot allocate memory",
		"resource temporarily unavailable",
		"too many open files",
		"no space left on device",
	}
	badInputPatterns = []string{
		"no such file or directory",
		"invalid data found when processing input",
		"does not contain any stream",
		"server returned 404",
		"server returned 401",
		"server returned 403",
		"unknown encoder",
		"unrecognized option",
		"invalid argument",
	}
	transientPatterns = []string{
		"connection reset by peer",
		"connection refused",
		"timed out",
		"broken pipe",
		"input/output error",
		"server returned 5",
		"end of file",
	}
)

// Classify maps an exit code and the tail of stderr to a FailureClass.
// Resource exhaustion wins over the other classes since it says nothing about
// the input.
func Classify(exitCode int, stderr []string) FailureClass {
	if exitCode == 128+int(syscall.SIGKILL) {
		return ClassResourceExhaustion
	}
	text := strings.ToLower(strings.Join(stderr, "\n"))
	switch {
	case containsAny(text, resourcePatterns):
		return ClassResourceExhaustion
	case containsAny(text, badInputPatterns):
		return ClassBadInput
	case containsAny(text, transientPatterns):
		return ClassTransientIO
	}
	return ClassUnknown
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// exitCode extracts a shell-style exit code from cmd.Wait's error.
// Signaled processes report 128+signal.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
