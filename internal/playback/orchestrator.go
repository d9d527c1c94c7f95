// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback turns playback requests into running streams: it admits the
// request, takes the channel lock, resolves the title, starts ffmpeg and keeps
// the lock alive until the stream ends.
package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/plexcord/internal/ffmpeg"
	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/telemetry"
)

var tracer = telemetry.Tracer("github.com/ManuGH/plexcord/internal/playback")

var errShuttingDown = model.NewStreamingError("playback", "start", errors.New("orchestrator is shutting down"))

// Config tunes lock handling.
type Config struct {
	LockLease       time.Duration
	RefreshInterval time.Duration
	Owner           string        // stable instance identity, defaults to <host>-<pid>-<uuid>
	StopTimeout     time.Duration // bound for stopping a stream and releasing its lock
	EventBuffer     int
}

// DefaultOwner returns an identity unique to this process.
func DefaultOwner() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String())
}

// QueueHook observes results of requests started from a channel queue.
type QueueHook func(req model.PlaybackRequest, res model.PlaybackResult)

type playback struct {
	req       model.PlaybackRequest
	media     model.ResolvedMedia
	token     string
	session   *ffmpeg.Session
	keeper    *leaseKeeper
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	reason string
}

// end records why the playback is ending; the first reason wins.
func (p *playback) end(reason string) {
	p.mu.Lock()
	if p.reason == "" {
		p.reason = reason
	}
	p.mu.Unlock()
}

func (p *playback) endReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Orchestrator drives playback requests. It is safe for concurrent use.
type Orchestrator struct {
	deps      Deps
	cfg       Config
	logger    zerolog.Logger
	queueHook QueueHook

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	active  map[string]*playback
	closing bool
	wg      sync.WaitGroup

	events    chan CompletionEvent
	closeOnce sync.Once
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithQueueHook sets a callback for requests started from a queue.
func WithQueueHook(h QueueHook) Option {
	return func(o *Orchestrator) { o.queueHook = h }
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, opts ...Option) *Orchestrator {
	if cfg.LockLease <= 0 {
		cfg.LockLease = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 || cfg.RefreshInterval >= cfg.LockLease {
		cfg.RefreshInterval = cfg.LockLease / 3
	}
	if cfg.Owner == "" {
		cfg.Owner = DefaultOwner()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 15 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}

	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: xglog.WithComponent("playback"),
		active: make(map[string]*playback),
		events: make(chan CompletionEvent, cfg.EventBuffer),
	}
	o.baseCtx, o.baseCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str(xglog.FieldOwner, cfg.Owner).Logger()
	return o
}

// Owner returns the instance identity used in lock tokens.
func (o *Orchestrator) Owner() string { return o.cfg.Owner }

// Events delivers one CompletionEvent per finished playback. The channel is
// closed by Shutdown.
func (o *Orchestrator) Events() <-chan CompletionEvent { return o.events }

// Play runs a request to a started stream or a typed failure. The channel lock
// is never left behind when the result is not started.
func (o *Orchestrator) Play(ctx context.Context, req model.PlaybackRequest) (res model.PlaybackResult) {
	ctx, span := tracer.Start(ctx, "playback.Play", trace.WithAttributes(
		append(telemetry.StreamAttributes(req.TargetChannelID, "", ""),
			attribute.String(telemetry.RequesterIDKey, req.RequesterID))...,
	))
	defer span.End()

	begin := time.Now()
	defer func() { o.observe(span, res, begin) }()

	if req.RequestedAt.IsZero() {
		req.RequestedAt = begin.UTC()
	}
	if req.TargetChannelID == "" {
		return model.Rejected(req.TargetChannelID, errors.New("target channel is required"))
	}

	if err := o.admit(ctx, req); err != nil {
		return model.Rejected(req.TargetChannelID, err)
	}

	token, res, ok := o.acquire(ctx, req.TargetChannelID)
	if !ok {
		return res
	}
	return o.run(ctx, req, token)
}

// admit applies the per-requester rate limit. A limiter error rejects the
// request unless the limiter itself decided to fail open.
func (o *Orchestrator) admit(ctx context.Context, req model.PlaybackRequest) error {
	if o.deps.Limiter == nil {
		return nil
	}
	d, err := o.deps.Limiter.Allow(ctx, req.RequesterID)
	if err != nil {
		if d.Allowed {
			o.logger.Warn().Err(err).Str(xglog.FieldRequesterID, req.RequesterID).Msg("rate limiter unavailable, admitting request")
			return nil
		}
		return fmt.Errorf("rate limiter unavailable: %w", err)
	}
	if !d.Allowed {
		return &model.RateLimitError{Subject: req.RequesterID, Limit: d.Limit, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (o *Orchestrator) newToken() string {
	return o.cfg.Owner + "/" + uuid.NewString()
}

// acquire takes the channel lock with a fresh token.
func (o *Orchestrator) acquire(ctx context.Context, channelID string) (string, model.PlaybackResult, bool) {
	o.mu.Lock()
	closing := o.closing
	o.mu.Unlock()
	if closing {
		return "", model.Rejected(channelID, errShuttingDown), false
	}

	token := o.newToken()
	ok, err := o.deps.Locks.Acquire(ctx, channelID, token, o.cfg.LockLease)
	if err != nil {
		return "", model.Rejected(channelID, err), false
	}
	if !ok {
		return "", model.Rejected(channelID, model.ErrChannelBusy), false
	}
	return token, model.PlaybackResult{}, true
}

// run resolves and starts req while holding the channel lock under token.
// The lease is refreshed from here on, so a slow resolve or startup cannot
// let it expire. On any outcome other than started, including panics, the
// lock is released before returning.
func (o *Orchestrator) run(ctx context.Context, req model.PlaybackRequest, token string) model.PlaybackResult {
	ch := req.TargetChannelID
	logger := o.logger.With().
		Str(xglog.FieldChannelID, ch).
		Str(xglog.FieldRequesterID, req.RequesterID).
		Str(xglog.FieldQuery, req.Query).
		Logger()

	ctx, abort := context.WithCancel(ctx)
	defer abort()

	handedOff := false
	keeper, err := o.keepLease(ch, token, abort)
	if err != nil {
		o.release(ctx, ch, token)
		return model.Rejected(ch, err)
	}
	defer func() {
		if !handedOff {
			keeper.stop()
			o.release(ctx, ch, token)
		}
	}()

	media, err := o.deps.Resolver.Resolve(ctx, req.Query)
	if keeper.isLost() {
		logger.Warn().Msg("channel lock lost while resolving")
		return model.Failed(ch, errLeaseLost)
	}
	if err != nil {
		logger.Info().Err(err).Msg("media resolution failed")
		return model.Failed(ch, err)
	}

	if b := o.deps.FFmpegBreaker; b != nil {
		if err := b.Permit(ctx); err != nil {
			logger.Warn().Err(err).Msg("ffmpeg breaker refused start")
			return model.Failed(ch, err)
		}
	}

	sess, err := o.deps.Processes.Start(ctx, ch, media.MediaID, media.StreamURI)
	if err != nil {
		if keeper.isLost() {
			logger.Warn().Msg("channel lock lost while starting stream")
			return model.Failed(ch, errLeaseLost)
		}
		if b := o.deps.FFmpegBreaker; b != nil && ctx.Err() == nil &&
			!errors.Is(err, model.ErrChannelBusy) && !errors.Is(err, ffmpeg.ErrCapacity) {
			_ = b.RecordFailure(context.WithoutCancel(ctx))
		}
		if !errors.Is(err, model.ErrStreaming) {
			err = model.NewStreamingError("ffmpeg", "start", err)
		}
		logger.Warn().Err(err).Str(xglog.FieldMediaID, media.MediaID).Msg("stream start failed")
		return model.Failed(ch, err)
	}
	if b := o.deps.FFmpegBreaker; b != nil {
		_ = b.RecordSuccess(context.WithoutCancel(ctx))
	}

	if err := o.track(req, media, token, sess, keeper); err != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StopTimeout)
		_ = o.deps.Processes.Stop(stopCtx, sess.ID())
		cancel()
		if errors.Is(err, errLeaseLost) {
			logger.Warn().Str(xglog.FieldSessionID, sess.ID()).Msg("channel lock lost before playback was tracked")
		}
		return model.Failed(ch, err)
	}
	handedOff = true

	logger.Info().
		Str(xglog.FieldSessionID, sess.ID()).
		Str(xglog.FieldMediaID, media.MediaID).
		Str(xglog.FieldTitle, media.Title).
		Msg("playback started")
	return model.Started(ch, sess.ID(), media)
}

// release drops the channel lock if token still holds it. It is not bound to
// the caller's cancellation.
func (o *Orchestrator) release(ctx context.Context, channelID, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StopTimeout)
	defer cancel()
	if _, err := o.deps.Locks.Release(ctx, channelID, token); err != nil {
		// the lease expires on its own
		o.logger.Error().Err(err).Str(xglog.FieldChannelID, channelID).Msg("failed to release channel lock")
	}
}

// track registers a started playback and supervises it until it ends. The
// lease keeper started by run is taken over by the playback.
func (o *Orchestrator) track(req model.PlaybackRequest, media model.ResolvedMedia, token string, sess *ffmpeg.Session, keeper *leaseKeeper) error {
	ctx, cancel := context.WithCancel(o.baseCtx)
	p := &playback{
		req:       req,
		media:     media,
		token:     token,
		session:   sess,
		keeper:    keeper,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		cancel()
		return errShuttingDown
	}
	if !keeper.handOff(func() {
		p.end(EndLockLost)
		cancel()
	}) {
		o.mu.Unlock()
		cancel()
		return errLeaseLost
	}
	o.active[req.TargetChannelID] = p
	o.wg.Add(1)
	o.mu.Unlock()

	go o.monitor(ctx, p)
	return nil
}

// monitor waits for the stream to end or for a stop request, then cleans up.
func (o *Orchestrator) monitor(ctx context.Context, p *playback) {
	defer o.wg.Done()

	select {
	case <-p.session.Done():
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), o.cfg.StopTimeout)
		if err := o.deps.Processes.Stop(stopCtx, p.session.ID()); err != nil {
			o.logger.Error().Err(err).Str(xglog.FieldSessionID, p.session.ID()).Msg("stream did not stop in time")
		}
		cancel()
	}
	p.cancel()
	o.finish(p)
}

func (o *Orchestrator) finish(p *playback) {
	ch := p.req.TargetChannelID

	o.mu.Lock()
	if o.active[ch] == p {
		delete(o.active, ch)
	}
	closing := o.closing
	o.mu.Unlock()

	p.keeper.stop()
	reason := p.endReason()
	if reason == "" {
		switch p.session.ExitReason() {
		case "failed":
			reason = EndFailed
		case "finished":
			reason = EndFinished
		default:
			reason = EndStopped
			if closing {
				reason = EndShutdown
			}
		}
	}
	if reason != EndLockLost {
		o.release(context.Background(), ch, p.token)
	}

	ended := time.Now()
	ev := CompletionEvent{
		ChannelID:   ch,
		SessionID:   p.session.ID(),
		MediaID:     p.media.MediaID,
		Title:       p.media.Title,
		RequesterID: p.req.RequesterID,
		Reason:      reason,
		Err:         p.session.Err(),
		StartedAt:   p.startedAt,
		EndedAt:     ended,
		Duration:    ended.Sub(p.startedAt),
	}
	o.emit(ev)

	o.logger.Info().
		Str(xglog.FieldChannelID, ch).
		Str(xglog.FieldSessionID, ev.SessionID).
		Str(xglog.FieldReason, reason).
		AnErr("stream_error", ev.Err).
		Dur("duration", ev.Duration).
		Msg("playback ended")

	close(p.done)

	switch reason {
	case EndFinished, EndFailed, EndSkipped:
		if !closing {
			o.advance(ch)
		}
	}
}

func (o *Orchestrator) emit(ev CompletionEvent) {
	select {
	case o.events <- ev:
	default:
		o.logger.Warn().Str(xglog.FieldChannelID, ev.ChannelID).Msg("completion event dropped, no reader")
	}
}

// Stop ends the playback on channelID owned by this instance and waits until
// its lock is released. Stopping an idle channel is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, channelID string) error {
	_, err := o.stop(ctx, channelID, EndStopped)
	return err
}

// Skip stops the current playback and starts the next queued request. On an
// idle channel it only starts the next queued request.
func (o *Orchestrator) Skip(ctx context.Context, channelID string) error {
	found, err := o.stop(ctx, channelID, EndSkipped)
	if !found {
		o.advance(channelID)
	}
	return err
}

// stop ends the local playback of channelID and waits for it to finish. It
// reports false when the channel had no local playback.
func (o *Orchestrator) stop(ctx context.Context, channelID, reason string) (bool, error) {
	o.mu.Lock()
	p, ok := o.active[channelID]
	o.mu.Unlock()
	if !ok {
		return false, nil
	}
	p.end(reason)
	p.cancel()
	select {
	case <-p.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Active lists playbacks owned by this instance.
func (o *Orchestrator) Active() []ActivePlayback {
	o.mu.Lock()
	out := make([]ActivePlayback, 0, len(o.active))
	for ch, p := range o.active {
		out = append(out, ActivePlayback{
			ChannelID:   ch,
			SessionID:   p.session.ID(),
			MediaID:     p.media.MediaID,
			Title:       p.media.Title,
			RequesterID: p.req.RequesterID,
			Token:       p.token,
			State:       p.session.State(),
			StartedAt:   p.startedAt,
		})
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// Shutdown stops every playback, releases its lock and closes Events.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	live := make([]*playback, 0, len(o.active))
	for _, p := range o.active {
		live = append(live, p)
	}
	o.mu.Unlock()

	for _, p := range live {
		p.end(EndShutdown)
	}
	o.baseCancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.closeOnce.Do(func() { close(o.events) })
		return nil
	case <-ctx.Done():
		return fmt.Errorf("playback shutdown: %w", ctx.Err())
	}
}

func (o *Orchestrator) observe(span trace.Span, res model.PlaybackResult, begin time.Time) {
	if res.Status == "" {
		return // panicked
	}
	reason := string(res.ReasonCode())
	metrics.RecordPlaybackResult(string(res.Status), reason)
	if res.Status == model.StatusStarted {
		metrics.ObservePlaybackStartLatency(time.Since(begin))
		span.SetAttributes(telemetry.PlaybackAttributes(string(res.Status), "")...)
		var mediaID string
		if res.Media != nil {
			mediaID = res.Media.MediaID
		}
		span.SetAttributes(telemetry.StreamAttributes("", res.SessionID, mediaID)...)
		return
	}
	span.SetAttributes(telemetry.PlaybackAttributes(string(res.Status), reason)...)
	if res.Status == model.StatusFailed && res.Reason != nil {
		span.RecordError(res.Reason)
		span.SetStatus(codes.Error, reason)
	}
}
