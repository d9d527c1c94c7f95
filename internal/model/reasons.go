// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"context"
	"errors"
)

// ReasonCode is a compact, typed failure/decision signal.
// Keep these stable: metrics + client UX depend on them.
type ReasonCode string

const (
	RRateLimited   ReasonCode = "rate_limited"
	RChannelBusy   ReasonCode = "channel_busy"
	RMediaNotFound ReasonCode = "media_not_found"
	RCircuitOpen   ReasonCode = "circuit_open"
	RStreaming     ReasonCode = "streaming_error"
	RAuthFailed    ReasonCode = "auth_failed"
	RQueueFull     ReasonCode = "queue_full"
	RCancelled     ReasonCode = "cancelled"
	RInternal      ReasonCode = "internal"
)

// ReasonFor maps err onto a ReasonCode. Order matters: a circuit-open error
// wrapped in a StreamingError reports circuit_open.
func ReasonFor(err error) ReasonCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimitExceeded):
		return RRateLimited
	case errors.Is(err, ErrChannelBusy):
		return RChannelBusy
	case errors.Is(err, ErrMediaNotFound):
		return RMediaNotFound
	case errors.Is(err, ErrCircuitOpen):
		return RCircuitOpen
	case errors.Is(err, ErrAuthFailed):
		return RAuthFailed
	case errors.Is(err, ErrQueueFull):
		return RQueueFull
	case errors.Is(err, context.Canceled):
		return RCancelled
	case errors.Is(err, ErrStreaming):
		return RStreaming
	default:
		return RInternal
	}
}
