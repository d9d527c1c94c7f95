// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ManuGH/plexcord/internal/model"
)

// Pinger is implemented by the shared key-value store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVChecker is unhealthy when the shared store does not answer.
// Locks, rate limits and breaker state all live there.
type KVChecker struct {
	store Pinger
}

// NewKVChecker creates a checker for the shared store.
func NewKVChecker(store Pinger) *KVChecker { return &KVChecker{store: store} }

func (c *KVChecker) Name() string { return "kv" }

func (c *KVChecker) Check(ctx context.Context) CheckResult {
	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "shared store unreachable"}
	}
	return CheckResult{Status: StatusHealthy, Message: "shared store reachable"}
}

// BreakerSource lists the current breaker states.
type BreakerSource interface {
	Snapshots(ctx context.Context) ([]model.CircuitState, error)
}

// BreakerChecker is degraded while any breaker is open and unhealthy once
// every breaker is open.
type BreakerChecker struct {
	source BreakerSource
}

// NewBreakerChecker creates a checker over a breaker registry.
func NewBreakerChecker(source BreakerSource) *BreakerChecker {
	return &BreakerChecker{source: source}
}

func (c *BreakerChecker) Name() string { return "circuit_breakers" }

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	states, err := c.source.Snapshots(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "breaker state unavailable"}
	}
	if len(states) == 0 {
		return CheckResult{Status: StatusHealthy, Message: "no breakers registered"}
	}

	var open []string
	for _, s := range states {
		if s.State == model.BreakerOpen {
			open = append(open, s.Name)
		}
	}
	switch {
	case len(open) == 0:
		return CheckResult{Status: StatusHealthy, Message: "all breakers closed"}
	case len(open) == len(states):
		return CheckResult{Status: StatusUnhealthy, Message: "all breakers open: " + strings.Join(open, ", ")}
	default:
		return CheckResult{Status: StatusDegraded, Message: "open: " + strings.Join(open, ", ")}
	}
}

// BinaryChecker is degraded when an executable cannot be found.
type BinaryChecker struct {
	name     string
	bin      string
	lookPath func(string) (string, error)
}

// NewBinaryChecker creates a checker for an executable on PATH or by path.
func NewBinaryChecker(name, bin string) *BinaryChecker {
	return &BinaryChecker{name: name, bin: bin, lookPath: exec.LookPath}
}

func (c *BinaryChecker) Name() string { return c.name }

func (c *BinaryChecker) Check(_ context.Context) CheckResult {
	path, err := c.lookPath(c.bin)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: fmt.Sprintf("%s not found", c.bin)}
	}
	return CheckResult{Status: StatusHealthy, Message: path}
}

// Identifier is the media server's identity endpoint.
type Identifier interface {
	Identity(ctx context.Context) (string, error)
}

// PlexChecker is degraded when the media server does not identify itself.
type PlexChecker struct {
	server Identifier
}

// NewPlexChecker creates a checker for the media server.
func NewPlexChecker(server Identifier) *PlexChecker { return &PlexChecker{server: server} }

func (c *PlexChecker) Name() string { return "plex" }

func (c *PlexChecker) Check(ctx context.Context) CheckResult {
	id, err := c.server.Identity(ctx)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "media server unreachable"}
	}
	return CheckResult{Status: StatusHealthy, Message: "machine " + id}
}
