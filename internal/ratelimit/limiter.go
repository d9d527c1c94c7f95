// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit implements a fixed-window request limiter whose counters
// live in the shared key-value store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
)

// Store is the subset of the KV client the limiter needs.
type Store interface {
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GetInt(ctx context.Context, key string) (int64, error)
}

// Config holds rate limiting configuration.
type Config struct {
	Limit  int           // requests allowed per window
	Window time.Duration // window length
	// FailOpen admits requests when the store is unreachable.
	// The default refuses them.
	FailOpen bool
	// Scope labels metrics ("user" by default).
	Scope string
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{Limit: 5, Window: 60 * time.Second, Scope: "user"}
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Count      int64         `json:"count"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
	ResetAt    time.Time     `json:"reset_at"`
}

type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Limiter counts requests per subject.
type Limiter struct {
	store  Store
	cfg    Config
	clock  clock
	logger zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c clock) Option { return func(l *Limiter) { l.clock = c } }

// WithLogger sets the limiter logger.
func WithLogger(lg zerolog.Logger) Option { return func(l *Limiter) { l.logger = lg } }

// New creates a limiter.
func New(store Store, cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Scope == "" {
		cfg.Scope = def.Scope
	}
	l := &Limiter{
		store:  store,
		cfg:    cfg,
		clock:  realClock{},
		logger: xglog.WithComponent("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config { return l.cfg }

// bucket returns the key for subject's current window and when it ends.
func (l *Limiter) bucket(subject string) (string, time.Time) {
	now := l.clock.Now()
	w := l.cfg.Window.Milliseconds()
	n := now.UnixMilli() / w
	reset := time.UnixMilli((n + 1) * w)
	return fmt.Sprintf("rate:%s:%d", subject, n), reset
}

// Allow counts one request for subject. A request is denied once the
// window count exceeds the limit.
func (l *Limiter) Allow(ctx context.Context, subject string) (Decision, error) {
	key, reset := l.bucket(subject)
	retry := reset.Sub(l.clock.Now())
	count, err := l.store.IncrWithExpire(ctx, key, l.cfg.Window)
	if err != nil {
		metrics.RecordRateLimitDecision(l.cfg.Scope, "store_error")
		l.logger.Error().Err(err).
			Str(xglog.FieldSubject, subject).
			Bool("fail_open", l.cfg.FailOpen).
			Msg("rate limit store unavailable")
		return Decision{Allowed: l.cfg.FailOpen, Limit: l.cfg.Limit, ResetAt: reset}, err
	}

	d := l.decide(count, reset, retry)
	if d.Allowed {
		metrics.RecordRateLimitDecision(l.cfg.Scope, "allowed")
	} else {
		metrics.RecordRateLimitDecision(l.cfg.Scope, "denied")
		l.logger.Debug().
			Str(xglog.FieldSubject, subject).
			Int64("count", count).
			Dur("retry_after", d.RetryAfter).
			Msg("rate limit exceeded")
	}
	return d, nil
}

// Status reports subject's current window without counting a request.
func (l *Limiter) Status(ctx context.Context, subject string) (Decision, error) {
	key, reset := l.bucket(subject)
	count, err := l.store.GetInt(ctx, key)
	if err != nil {
		return Decision{Limit: l.cfg.Limit, ResetAt: reset}, err
	}
	retry := reset.Sub(l.clock.Now())
	d := l.decide(count, reset, retry)
	// Status describes whether the next request would pass.
	d.Allowed = count < int64(l.cfg.Limit)
	d.RetryAfter = 0
	if !d.Allowed {
		d.RetryAfter = retry
	}
	return d, nil
}

func (l *Limiter) decide(count int64, reset time.Time, retry time.Duration) Decision {
	d := Decision{
		Count:   count,
		Limit:   l.cfg.Limit,
		ResetAt: reset,
		Allowed: count <= int64(l.cfg.Limit),
	}
	if rem := int64(l.cfg.Limit) - count; rem > 0 {
		d.Remaining = int(rem)
	}
	if !d.Allowed {
		d.RetryAfter = retry
	}
	return d
}
