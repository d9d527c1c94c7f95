// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience implements a circuit breaker whose state lives in the
// shared key-value store, so every bot instance sees the same breaker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
	"github.com/ManuGH/plexcord/internal/model"
)

// State represents the circuit breaker state.
type State = model.BreakerState

const (
	StateClosed   = model.BreakerClosed
	StateOpen     = model.BreakerOpen
	StateHalfOpen = model.BreakerHalfOpen
)

// Store is the subset of the KV client the breaker needs.
type Store interface {
	Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// clock abstracts time operations for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config tunes a breaker.
type Config struct {
	Threshold int           // failures within Window that open the breaker
	Cooldown  time.Duration // time spent OPEN before a trial is granted
	Window    time.Duration // failure counting window while CLOSED
}

// CircuitBreaker guards calls to one dependency.
type CircuitBreaker struct {
	name   string
	key    string
	store  Store
	cfg    Config
	clock  clock
	logger zerolog.Logger

	// If set, panics in Execute are recorded as failure and then re-panicked.
	recoverPanic bool
}

// Option configuration pattern
type Option func(*CircuitBreaker)

func WithClock(c clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

func WithPanicRecovery(enabled bool) Option {
	return func(cb *CircuitBreaker) { cb.recoverPanic = enabled }
}

// New creates a breaker for the named dependency.
func New(name string, store Store, cfg Config, opts ...Option) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}

	cb := &CircuitBreaker{
		name:   name,
		key:    "circuit:" + name,
		store:  store,
		cfg:    cfg,
		clock:  realClock{},
		logger: xglog.WithComponent("breaker"),
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.logger = cb.logger.With().Str(xglog.FieldDependency, name).Logger()
	return cb
}

// Name returns the dependency name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow reports whether a call may proceed. When the breaker is OPEN and the
// cooldown elapsed, exactly one caller is granted a HALF_OPEN trial.
// If the shared state cannot be read the call is refused.
func (cb *CircuitBreaker) Allow(ctx context.Context) (bool, error) {
	allowed, _, err := cb.allow(ctx)
	return allowed, err
}

// Permit is Allow expressed as an error: nil when the call may proceed,
// a *model.CircuitOpenError when refused.
func (cb *CircuitBreaker) Permit(ctx context.Context) error {
	allowed, retryAfter, err := cb.allow(ctx)
	if err != nil {
		return fmt.Errorf("breaker %s: %w", cb.name, errors.Join(&model.CircuitOpenError{Dependency: cb.name}, err))
	}
	if !allowed {
		return &model.CircuitOpenError{Dependency: cb.name, RetryAfter: retryAfter}
	}
	return nil
}

func (cb *CircuitBreaker) allow(ctx context.Context) (bool, time.Duration, error) {
	now := cb.clock.Now().UnixMilli()
	res, err := cb.store.Eval(ctx, allowScript, []string{cb.key}, now, cb.cfg.Cooldown.Milliseconds())
	if err != nil {
		metrics.RecordCircuitBreakerStoreError(cb.name, "allow")
		cb.logger.Error().Err(err).Msg("breaker state unavailable, refusing call")
		return false, 0, err
	}

	vals, err := replyValues(res, 4)
	if err != nil {
		return false, 0, err
	}
	allowed := toInt(vals[0]) == 1
	state := State(toString(vals[1]))
	retryAfter := time.Duration(toInt(vals[2])) * time.Millisecond

	if toInt(vals[3]) == 1 {
		cb.transitioned(StateOpen, state, "")
	}
	return allowed, retryAfter, nil
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) error {
	res, err := cb.store.Eval(ctx, successScript, []string{cb.key})
	if err != nil {
		metrics.RecordCircuitBreakerStoreError(cb.name, "success")
		cb.logger.Warn().Err(err).Msg("failed to record breaker success")
		return err
	}
	vals, err := replyValues(res, 2)
	if err != nil {
		return err
	}
	if toInt(vals[1]) == 1 {
		cb.transitioned(StateHalfOpen, StateClosed, "")
	}
	return nil
}

// RecordFailure reports a failed call.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context) error {
	now := cb.clock.Now().UnixMilli()
	res, err := cb.store.Eval(ctx, failureScript, []string{cb.key},
		now, cb.cfg.Threshold, cb.cfg.Window.Milliseconds())
	if err != nil {
		metrics.RecordCircuitBreakerStoreError(cb.name, "failure")
		cb.logger.Warn().Err(err).Msg("failed to record breaker failure")
		return err
	}
	vals, err := replyValues(res, 3)
	if err != nil {
		return err
	}
	switch toString(vals[2]) {
	case "threshold":
		metrics.RecordCircuitBreakerTrip(cb.name, "threshold_exceeded")
		cb.transitioned(StateClosed, StateOpen, "threshold_exceeded")
	case "trial":
		metrics.RecordCircuitBreakerTrip(cb.name, "half_open_failure")
		cb.transitioned(StateHalfOpen, StateOpen, "half_open_failure")
	}
	return nil
}

// Execute runs fn when the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := cb.Permit(ctx); err != nil {
		return err
	}

	if cb.recoverPanic {
		defer func() {
			if r := recover(); r != nil {
				_ = cb.RecordFailure(ctx)
				panic(r)
			}
		}()
	}

	if err = fn(ctx); err != nil {
		_ = cb.RecordFailure(ctx)
		return err
	}
	_ = cb.RecordSuccess(ctx)
	return nil
}

// Snapshot reads the shared state.
func (cb *CircuitBreaker) Snapshot(ctx context.Context) (model.CircuitState, error) {
	fields, err := cb.store.HGetAll(ctx, cb.key)
	if err != nil {
		return model.CircuitState{Name: cb.name}, err
	}
	st := model.CircuitState{Name: cb.name, State: StateClosed}
	if s := fields["state"]; s != "" {
		st.State = State(s)
	}
	st.Failures = int(parseInt(fields["failures"]))
	if ms := parseInt(fields["opened_at"]); ms > 0 && st.State != StateClosed {
		st.OpenedAt = time.UnixMilli(ms).UTC()
	}
	return st, nil
}

// transitioned updates metrics for a transition performed by a script.
func (cb *CircuitBreaker) transitioned(from, to State, reason string) {
	metrics.SetCircuitBreakerState(cb.name, string(to))
	ev := cb.logger.Info()
	if to == StateOpen {
		ev = cb.logger.Warn()
	}
	ev = ev.Str(xglog.FieldOldState, string(from)).Str(xglog.FieldNewState, string(to))
	if reason != "" {
		ev = ev.Str(xglog.FieldReason, reason)
	}
	ev.Msg("circuit breaker state changed")
}
