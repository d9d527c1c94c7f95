// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the long-running components and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/playback"
)

// Server is the HTTP surface (api.Server).
type Server interface {
	ListenAndServe(ctx context.Context) error
}

// Bot is the chat front end (chat.Bot).
type Bot interface {
	Run(ctx context.Context) error
}

// Orchestrator is the playback engine (playback.Orchestrator).
type Orchestrator interface {
	Events() <-chan playback.CompletionEvent
	Shutdown(ctx context.Context) error
}

// CompletionHandler observes finished playbacks.
type CompletionHandler func(playback.CompletionEvent)

// App owns the runtime: it serves until its context ends, then stops
// playback and runs the registered shutdown hooks.
type App struct {
	logger          zerolog.Logger
	server          Server
	orchestrator    Orchestrator
	bot             Bot
	onComplete      []CompletionHandler
	hooks           hookList
	shutdownTimeout time.Duration
	running         atomic.Bool
}

// AppOption configures an App.
type AppOption func(*App)

// WithBot runs the chat front end alongside the server.
func WithBot(b Bot) AppOption { return func(a *App) { a.bot = b } }

// WithCompletionHandler adds an observer of completion events.
func WithCompletionHandler(h CompletionHandler) AppOption {
	return func(a *App) { a.onComplete = append(a.onComplete, h) }
}

// WithShutdownTimeout bounds stopping playback and running hooks.
func WithShutdownTimeout(d time.Duration) AppOption {
	return func(a *App) { a.shutdownTimeout = d }
}

// WithAppLogger sets the logger.
func WithAppLogger(l zerolog.Logger) AppOption { return func(a *App) { a.logger = l } }

// NewApp creates an App.
func NewApp(server Server, orchestrator Orchestrator, opts ...AppOption) (*App, error) {
	if server == nil {
		return nil, ErrMissingServer
	}
	if orchestrator == nil {
		return nil, ErrMissingPlayer
	}
	a := &App{
		logger:          xglog.WithComponent("daemon"),
		server:          server,
		orchestrator:    orchestrator,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RegisterShutdownHook registers a cleanup function to be called after
// playback has stopped. Hooks are executed in reverse registration order (LIFO).
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.hooks.add(name, hook)
	a.logger.Debug().Str("hook", name).Msg("Registered shutdown hook")
}

// Run serves until ctx is cancelled or a component fails, then shuts down.
// A cancelled ctx is a clean exit.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.ListenAndServe(gctx)
	})

	if a.bot != nil {
		g.Go(func() error {
			if err := a.bot.Run(gctx); err != nil {
				return fmt.Errorf("chat bot: %w", err)
			}
			return nil
		})
	}

	// Completion events; the channel is closed by the orchestrator shutdown below.
	g.Go(func() error {
		for ev := range a.orchestrator.Events() {
			a.completed(ev)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
		defer cancel()
		if err := a.orchestrator.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("playback shutdown: %w", err)
		}
		return nil
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.logger.Error().Err(runErr).Msg("runtime failed, shutting down")
	} else {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout)
	defer cancel()
	hookErr := a.hooks.run(shutdownCtx, a.logger)

	if err := errors.Join(runErr, hookErr); err != nil {
		return err
	}
	a.logger.Info().Msg("daemon stopped cleanly")
	return nil
}

func (a *App) completed(ev playback.CompletionEvent) {
	logEv := a.logger.Info()
	if ev.Err != nil {
		logEv = a.logger.Warn().Err(ev.Err)
	}
	logEv.Str(xglog.FieldEvent, "playback.completed").
		Str(xglog.FieldChannelID, ev.ChannelID).
		Str(xglog.FieldSessionID, ev.SessionID).
		Str(xglog.FieldMediaID, ev.MediaID).
		Str(xglog.FieldRequesterID, ev.RequesterID).
		Str(xglog.FieldReason, ev.Reason).
		Dur("duration", ev.Duration).
		Msg("playback completed")
	for _, h := range a.onComplete {
		h(ev)
	}
}
