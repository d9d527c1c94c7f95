// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ManuGH/plexcord/internal/api"
	"github.com/ManuGH/plexcord/internal/chat"
	"github.com/ManuGH/plexcord/internal/config"
	"github.com/ManuGH/plexcord/internal/ffmpeg"
	"github.com/ManuGH/plexcord/internal/health"
	"github.com/ManuGH/plexcord/internal/kv"
	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/platform/httpx"
	"github.com/ManuGH/plexcord/internal/playback"
	"github.com/ManuGH/plexcord/internal/plex"
	"github.com/ManuGH/plexcord/internal/prefs"
	"github.com/ManuGH/plexcord/internal/queue"
	"github.com/ManuGH/plexcord/internal/ratelimit"
	"github.com/ManuGH/plexcord/internal/resilience"
)

// Breaker names, also used as the shared state keys.
const (
	BreakerPlex   = "plex"
	BreakerFFmpeg = "ffmpeg"
)

// Build connects to the store and wires every component described by cfg.
// The returned App owns the store and closes it on shutdown.
func Build(ctx context.Context, cfg config.AppConfig, opts ...AppOption) (*App, error) {
	logger := xglog.WithComponent("daemon")

	store, err := kv.Open(ctx, kv.Config{
		Addr:      cfg.RedisAddr(),
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}, xglog.WithComponent("kv"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	app, err := build(cfg, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info().
		Str("owner", app.owner).
		Str("listen", cfg.API.ListenAddr).
		Bool("chat", cfg.Discord.Token != "").
		Msg("components wired")
	return app.App, nil
}

type builtApp struct {
	*App
	owner string
}

func build(cfg config.AppConfig, store *kv.Store, opts ...AppOption) (*builtApp, error) {
	breakerCfg := resilience.Config{
		Threshold: cfg.Breaker.Threshold,
		Cooldown:  cfg.Breaker.Cooldown,
		Window:    cfg.Breaker.Window,
	}
	registry := resilience.NewRegistry()
	plexBreaker := registry.Register(resilience.New(BreakerPlex, store, breakerCfg))
	ffmpegBreaker := registry.Register(resilience.New(BreakerFFmpeg, store, breakerCfg))

	limiter := ratelimit.New(store, ratelimit.Config{
		Limit:    cfg.RateLimit.Requests,
		Window:   cfg.RateLimit.Window,
		FailOpen: cfg.RateLimit.FailOpen,
	})
	locks := queue.New(store, queue.Config{
		MaxLength: cfg.Lock.QueueMaxLength,
		MaxAge:    cfg.Lock.QueueMaxAge,
	})

	client := plex.NewClient(plex.ClientConfig{
		BaseURL:           cfg.Plex.URL,
		Token:             cfg.Plex.Token,
		RequestsPerSecond: cfg.Plex.RequestsPerSecond,
	}, plex.WithHTTPClient(httpx.NewClient(cfg.Plex.Timeout, httpx.WithTracing())))
	resolver := plex.NewResolver(client, plexBreaker, plex.ResolverConfig{
		Attempts:       cfg.Plex.RetryAttempts,
		BaseDelay:      cfg.Plex.RetryBaseDelay,
		MaxDelay:       cfg.Plex.RetryMaxDelay,
		AttemptTimeout: cfg.Plex.Timeout,
		CacheTTL:       cfg.Plex.CacheTTL,
		StreamURLTTL:   cfg.Plex.StreamURLTTL,
	})

	procs := ffmpeg.NewManager(ffmpegConfig(cfg.FFmpeg))

	// The bot needs the orchestrator and announces its queue results.
	var botRef atomic.Pointer[chat.Bot]
	orch := playback.New(playback.Deps{
		Limiter:       limiter,
		Locks:         locks,
		Resolver:      resolver,
		Processes:     procs,
		FFmpegBreaker: ffmpegBreaker,
	}, playback.Config{
		LockLease:       cfg.Lock.Lease,
		RefreshInterval: cfg.Lock.RefreshInterval,
	}, playback.WithQueueHook(func(req model.PlaybackRequest, res model.PlaybackResult) {
		if b := botRef.Load(); b != nil {
			b.AnnounceQueued(req, res)
		}
	}))

	prefsMgr := prefs.New(store)

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewKVChecker(store))
	hm.RegisterChecker(health.NewBreakerChecker(registry))
	hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.FFmpeg.Bin))
	hm.RegisterChecker(health.NewPlexChecker(client))

	server, err := api.New(api.FromAppConfig(cfg), api.Deps{
		Player:      orch,
		Sessions:    procs,
		Breakers:    registry,
		RateLimits:  limiter,
		Queues:      locks,
		Preferences: prefsMgr,
		Health:      hm,
	})
	if err != nil {
		return nil, err
	}

	appOpts := make([]AppOption, 0, len(opts)+2)
	if cfg.Discord.Token != "" {
		bot, err := chat.New(cfg.Discord.Token, orch, chat.WithPrefix(cfg.Discord.Prefix))
		if err != nil {
			return nil, err
		}
		botRef.Store(bot)
		appOpts = append(appOpts, WithBot(bot), WithCompletionHandler(bot.AnnounceCompletion))
	}
	appOpts = append(appOpts, opts...)

	app, err := NewApp(server, orch, appOpts...)
	if err != nil {
		return nil, err
	}

	// Executed in reverse: processes first, the store last.
	app.RegisterShutdownHook("kv", func(context.Context) error { return store.Close() })
	app.RegisterShutdownHook("prefs", func(context.Context) error {
		prefsMgr.Close()
		return nil
	})
	app.RegisterShutdownHook("ffmpeg", procs.Shutdown)

	return &builtApp{App: app, owner: orch.Owner()}, nil
}

// ffmpegConfig maps the operator settings onto the process manager. A zero
// restart budget in the file means no restarts.
func ffmpegConfig(c config.FFmpegConfig) ffmpeg.Config {
	restarts := c.MaxRestarts
	if restarts == 0 {
		restarts = ffmpeg.NoRestarts
	}
	return ffmpeg.Config{
		BinPath:        c.Bin,
		OutputFormat:   c.OutputFormat,
		Sink:           c.Sink,
		Width:          c.Width,
		Height:         c.Height,
		Preset:         c.Preset,
		Quality:        c.Quality,
		LogLevel:       c.LogLevel,
		MaxSessions:    c.MaxProcesses,
		MaxRestarts:    restarts,
		StartupTimeout: c.StartupTimeout,
		StopGrace:      c.StopGrace,
	}
}
