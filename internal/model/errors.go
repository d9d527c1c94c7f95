// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMediaNotFound is returned when a query matched no playable item.
	ErrMediaNotFound = errors.New("media not found")
	// ErrStreaming marks any failure of an external dependency on the streaming path.
	ErrStreaming = errors.New("streaming error")
	// ErrChannelBusy is returned when another owner holds the channel lock.
	ErrChannelBusy = errors.New("channel busy")
	// ErrRateLimitExceeded is returned when the requester exceeded its window.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrCircuitOpen is returned when a dependency's breaker refuses the call.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrQueueFull is returned when the channel queue reached its capacity.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueEmpty is returned when there is nothing queued for a channel.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrAuthFailed is returned when the media server rejected our credentials.
	ErrAuthFailed = errors.New("authentication failed")
)

// StreamingError wraps a dependency failure on the streaming path.
type StreamingError struct {
	Op         string
	Dependency string
	Err        error
}

func (e *StreamingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Dependency, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Dependency, e.Op, e.Err)
}

func (e *StreamingError) Unwrap() error { return e.Err }

// Is reports ErrStreaming so callers can match the category.
func (e *StreamingError) Is(target error) bool { return target == ErrStreaming }

// NewStreamingError wraps err as a streaming failure of dependency.
func NewStreamingError(dependency, op string, err error) *StreamingError {
	return &StreamingError{Op: op, Dependency: dependency, Err: err}
}

// RateLimitError carries the limit that was exceeded and when to retry.
type RateLimitError struct {
	Subject    string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d, retry after %s)",
		e.Subject, e.Limit, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimitExceeded }

// CircuitOpenError names the dependency whose breaker is open.
type CircuitOpenError struct {
	Dependency string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Dependency)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// RetryAfterOf extracts a retry hint from err, zero when none is known.
func RetryAfterOf(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	var co *CircuitOpenError
	if errors.As(err, &co) {
		return co.RetryAfter
	}
	return 0
}
