// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"time"

	"github.com/ManuGH/plexcord/internal/ffmpeg"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/ratelimit"
)

// Limiter counts requests per requester.
type Limiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// Locks is the distributed channel lock and queue (queue.Manager).
type Locks interface {
	Acquire(ctx context.Context, channelID, owner string, lease time.Duration) (bool, error)
	Release(ctx context.Context, channelID, owner string) (bool, error)
	KeepAlive(ctx context.Context, channelID, owner string, lease, every time.Duration, onLost func()) error
	Enqueue(ctx context.Context, req model.PlaybackRequest) (int, error)
	Next(ctx context.Context, channelID string) (model.PlaybackRequest, error)
}

// Resolver turns a query into a playable item (plex.Resolver).
type Resolver interface {
	Resolve(ctx context.Context, query string) (model.ResolvedMedia, error)
}

// Processes runs one stream per channel (ffmpeg.Manager).
type Processes interface {
	Start(ctx context.Context, channelID, mediaID, streamURI string) (*ffmpeg.Session, error)
	Stop(ctx context.Context, sessionID string) error
}

// Breaker guards process starts (resilience.CircuitBreaker).
type Breaker interface {
	Permit(ctx context.Context) error
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) error
}

// Deps are the collaborators of the orchestrator. FFmpegBreaker and Limiter
// may be nil.
type Deps struct {
	Limiter       Limiter
	Locks         Locks
	Resolver      Resolver
	Processes     Processes
	FFmpegBreaker Breaker
}

// Completion reasons.
const (
	EndFinished = "finished"
	EndStopped  = "stopped"
	EndSkipped  = "skipped"
	EndFailed   = "failed"
	EndLockLost = "lock_lost"
	EndShutdown = "shutdown"
)

// CompletionEvent is emitted once per started playback when it ends.
type CompletionEvent struct {
	ChannelID   string        `json:"channel_id"`
	SessionID   string        `json:"session_id"`
	MediaID     string        `json:"media_id"`
	Title       string        `json:"title"`
	RequesterID string        `json:"requester_id"`
	Reason      string        `json:"reason"`
	Err         error         `json:"-"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
	Duration    time.Duration `json:"duration"`
}

// ActivePlayback describes a playback owned by this instance.
type ActivePlayback struct {
	ChannelID   string             `json:"channel_id"`
	SessionID   string             `json:"session_id"`
	MediaID     string             `json:"media_id"`
	Title       string             `json:"title"`
	RequesterID string             `json:"requester_id"`
	Token       string             `json:"lock_token"`
	State       model.SessionState `json:"state"`
	StartedAt   time.Time          `json:"started_at"`
}
