// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingServer is returned when an app is created without an HTTP server.
	ErrMissingServer = errors.New("HTTP server is required")

	// ErrMissingPlayer is returned when an app is created without an orchestrator.
	ErrMissingPlayer = errors.New("playback orchestrator is required")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("app already running")
)
