// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"

	"github.com/ManuGH/plexcord/internal/ffmpeg"
	"github.com/ManuGH/plexcord/internal/health"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/playback"
	"github.com/ManuGH/plexcord/internal/prefs"
	"github.com/ManuGH/plexcord/internal/queue"
	"github.com/ManuGH/plexcord/internal/ratelimit"
)

// Player runs playback commands (playback.Orchestrator).
type Player interface {
	Play(ctx context.Context, req model.PlaybackRequest) model.PlaybackResult
	Enqueue(ctx context.Context, req model.PlaybackRequest) (int, error)
	Stop(ctx context.Context, channelID string) error
	Skip(ctx context.Context, channelID string) error
	Active() []playback.ActivePlayback
}

// SessionSource reports live stream sessions (ffmpeg.Manager).
type SessionSource interface {
	Sessions() []model.StreamSession
	Stats() ffmpeg.Stats
}

// BreakerSource reports shared breaker state (resilience.Registry).
type BreakerSource interface {
	Snapshots(ctx context.Context) ([]model.CircuitState, error)
}

// RateStatus reports a subject's current window without consuming it (ratelimit.Limiter).
type RateStatus interface {
	Status(ctx context.Context, subject string) (ratelimit.Decision, error)
}

// QueueSource reads channel queues and locks (queue.Manager).
type QueueSource interface {
	Pending(ctx context.Context, channelID string) ([]model.PlaybackRequest, error)
	Stats(ctx context.Context, channelID string) (queue.Stats, error)
	Locks(ctx context.Context) ([]queue.LockInfo, error)
}

// PreferenceStore reads and patches user preferences (prefs.Manager).
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (prefs.Preferences, error)
	Update(ctx context.Context, userID string, patch []byte) (prefs.Preferences, error)
}

// Deps are the collaborators served by the API. Every field is required.
type Deps struct {
	Player      Player
	Sessions    SessionSource
	Breakers    BreakerSource
	RateLimits  RateStatus
	Queues      QueueSource
	Preferences PreferenceStore
	Health      *health.Manager
}
