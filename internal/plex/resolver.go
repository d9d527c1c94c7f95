// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/plexcord/internal/cache"
	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/telemetry"
)

const dependency = "plex"

// Source is the media server API used by the resolver.
type Source interface {
	Search(ctx context.Context, query string) ([]Metadata, error)
	Metadata(ctx context.Context, ratingKey string) (*Metadata, error)
	StreamURL(part Part) string
}

// Breaker guards calls to the media server.
type Breaker interface {
	Permit(ctx context.Context) error
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) error
}

// ResolverConfig tunes retries and caching.
type ResolverConfig struct {
	Attempts       int           // total attempts per call, default 3
	BaseDelay      time.Duration // first retry delay, doubled per attempt
	MaxDelay       time.Duration
	AttemptTimeout time.Duration // bound on every single request
	CacheTTL       time.Duration
	StreamURLTTL   time.Duration // validity of signed stream URLs
}

// DefaultResolverConfig returns the deployment defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Attempts:       3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 10 * time.Second,
		CacheTTL:       time.Hour,
		StreamURLTTL:   30 * time.Minute,
	}
}

// Resolver maps queries to playable media, with caching and request collapsing.
type Resolver struct {
	source  Source
	breaker Breaker
	cfg     ResolverConfig
	cache   *cache.Cache[model.ResolvedMedia]
	clock   cache.Clock
	group   singleflight.Group
	logger  zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock replaces the wall clock for the cache and timestamps.
func WithClock(c cache.Clock) ResolverOption { return func(r *Resolver) { r.clock = c } }

// WithLogger sets the resolver logger.
func WithLogger(l zerolog.Logger) ResolverOption { return func(r *Resolver) { r.logger = l } }

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// NewResolver creates a resolver.
func NewResolver(source Source, breaker Breaker, cfg ResolverConfig, opts ...ResolverOption) *Resolver {
	def := DefaultResolverConfig()
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.StreamURLTTL <= 0 {
		cfg.StreamURLTTL = def.StreamURLTTL
	}

	r := &Resolver{
		source:  source,
		breaker: breaker,
		cfg:     cfg,
		clock:   wallClock{},
		logger:  xglog.WithComponent("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = cache.New[model.ResolvedMedia](cache.WithClock(r.clock))
	return r
}

// cacheTTL never outlives the stream URL it caches.
func (r *Resolver) cacheTTL() time.Duration {
	limit := r.cfg.StreamURLTTL * 8 / 10
	if r.cfg.CacheTTL < limit {
		return r.cfg.CacheTTL
	}
	return limit
}

// Resolve maps a free-text query to a playable item.
func (r *Resolver) Resolve(ctx context.Context, query string) (model.ResolvedMedia, error) {
	ctx, span := tracer.Start(ctx, "plex.Resolve")
	defer span.End()

	key := NormalizeQuery(query)
	span.SetAttributes(attribute.String(telemetry.PlexQueryKey, key))
	if key == "" {
		return model.ResolvedMedia{}, model.ErrMediaNotFound
	}

	if media, ok := r.cache.Get(key); ok {
		metrics.RecordResolverCache(true)
		span.SetAttributes(attribute.Bool(telemetry.PlexCacheHitKey, true))
		return media, nil
	}
	metrics.RecordResolverCache(false)

	// The shared lookup must not be cut short by the first caller going away.
	lookupCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (any, error) {
		return r.lookup(lookupCtx, CleanQuery(query), key)
	})

	select {
	case <-ctx.Done():
		return model.ResolvedMedia{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return model.ResolvedMedia{}, res.Err
		}
		media := res.Val.(model.ResolvedMedia)
		span.SetAttributes(attribute.String(telemetry.PlexMediaIDKey, media.MediaID))
		return media, nil
	}
}

// Invalidate drops the cached result for query.
func (r *Resolver) Invalidate(query string) {
	r.cache.Delete(NormalizeQuery(query))
}

// Purge drops every cached result.
func (r *Resolver) Purge() {
	r.cache.Clear()
}

// CacheStats reports resolver cache counters.
func (r *Resolver) CacheStats() cache.Stats {
	return r.cache.Stats()
}

func (r *Resolver) lookup(ctx context.Context, query, key string) (model.ResolvedMedia, error) {
	logger := r.logger.With().Str(xglog.FieldQuery, key).Logger()

	if err := r.breaker.Permit(ctx); err != nil {
		logger.Debug().Err(err).Msg("media server breaker refused lookup")
		return model.ResolvedMedia{}, model.NewStreamingError(dependency, "resolve", err)
	}

	meta, part, err := r.find(ctx, query, key)
	switch {
	case err == nil, errors.Is(err, model.ErrMediaNotFound):
		// The server answered; a miss is the user's problem, not the dependency's.
		_ = r.breaker.RecordSuccess(ctx)
	default:
		_ = r.breaker.RecordFailure(ctx)
	}
	if errors.Is(err, model.ErrMediaNotFound) {
		logger.Info().Msg("no playable media matched")
		return model.ResolvedMedia{}, model.ErrMediaNotFound
	}
	if err != nil {
		logger.Warn().Err(err).Msg("media lookup failed")
		return model.ResolvedMedia{}, model.NewStreamingError(dependency, "search", err)
	}

	now := r.clock.Now()
	media := model.ResolvedMedia{
		MediaID:         meta.IMDbID(),
		RatingKey:       meta.RatingKey,
		Title:           meta.Title,
		Year:            meta.Year,
		Type:            meta.Type,
		DurationSeconds: meta.Duration / 1000,
		StreamURI:       r.source.StreamURL(part),
		ResolvedAt:      now,
		ExpiresAt:       now.Add(r.cfg.StreamURLTTL),
	}
	if media.MediaID == "" {
		media.MediaID = meta.RatingKey
	}
	r.cache.Set(key, media, r.cacheTTL())

	logger.Info().
		Str(xglog.FieldMediaID, media.MediaID).
		Str(xglog.FieldTitle, media.Title).
		Msg("media resolved")
	return media, nil
}

// find searches and picks the best playable match, fetching full metadata
// when the search hit carries no file parts.
func (r *Resolver) find(ctx context.Context, query, key string) (Metadata, Part, error) {
	results, err := withRetry(ctx, r, func(ctx context.Context) ([]Metadata, error) {
		return r.source.Search(ctx, query)
	})
	if err != nil {
		return Metadata{}, Part{}, err
	}

	best, ok := pickBest(results, key)
	if !ok {
		return Metadata{}, Part{}, model.ErrMediaNotFound
	}
	if part, ok := best.FirstPart(); ok {
		return best, part, nil
	}

	full, err := withRetry(ctx, r, func(ctx context.Context) (*Metadata, error) {
		return r.source.Metadata(ctx, best.RatingKey)
	})
	if err != nil {
		return Metadata{}, Part{}, err
	}
	part, ok := full.FirstPart()
	if !ok {
		return Metadata{}, Part{}, model.ErrMediaNotFound
	}
	return *full, part, nil
}

// pickBest prefers an exact case-folded title match, then the first playable item.
func pickBest(results []Metadata, key string) (Metadata, bool) {
	var first *Metadata
	for i := range results {
		m := &results[i]
		if !playableTypes[m.Type] {
			continue
		}
		if NormalizeQuery(m.Title) == key {
			return *m, true
		}
		if first == nil {
			first = m
		}
	}
	if first == nil {
		return Metadata{}, false
	}
	return *first, true
}

// withRetry runs fn up to cfg.Attempts times with exponential backoff.
// Only transient failures are retried; every attempt has its own deadline.
func withRetry[T any](ctx context.Context, r *Resolver, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < r.cfg.Attempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt - 1)
			metrics.IncPlexRetry()
			r.logger.Debug().Err(err).Int(xglog.FieldAttempt, attempt+1).Dur("delay", delay).Msg("retrying plex request")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out, ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		out, err = fn(attemptCtx)
		cancel()
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			return out, err
		}
	}
	return out, fmt.Errorf("after %d attempts: %w", r.cfg.Attempts, err)
}

func (r *Resolver) backoff(n int) time.Duration {
	d := r.cfg.BaseDelay
	for i := 0; i < n && d < r.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	return d
}
