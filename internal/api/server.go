// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the dashboard, health and metrics HTTP surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/plexcord/internal/api/middleware"
	"github.com/ManuGH/plexcord/internal/config"
	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/telemetry"
)

// Config configures the HTTP server.
type Config struct {
	ListenAddr      string
	RateLimitRPM    int    // per client IP on /api; zero disables
	TracingService  string // empty disables request tracing
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// FromAppConfig derives the server configuration.
func FromAppConfig(cfg config.AppConfig) Config {
	c := Config{
		ListenAddr:   cfg.API.ListenAddr,
		RateLimitRPM: cfg.API.RateLimitRPM,
	}
	if cfg.Telemetry.Enabled {
		c.TracingService = telemetry.DefaultServiceName
	}
	return c
}

func (c *Config) setDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// Play waits for the stream to come up.
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	deps    Deps
	logger  zerolog.Logger
	handler http.Handler
}

// New builds the server and its routes.
func New(cfg Config, deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: xglog.WithComponent("api"),
	}
	s.handler = s.routes()
	return s, nil
}

func (d Deps) validate() error {
	var missing []string
	if d.Player == nil {
		missing = append(missing, "Player")
	}
	if d.Sessions == nil {
		missing = append(missing, "Sessions")
	}
	if d.Breakers == nil {
		missing = append(missing, "Breakers")
	}
	if d.RateLimits == nil {
		missing = append(missing, "RateLimits")
	}
	if d.Queues == nil {
		missing = append(missing, "Queues")
	}
	if d.Preferences == nil {
		missing = append(missing, "Preferences")
	}
	if d.Health == nil {
		missing = append(missing, "Health")
	}
	if len(missing) > 0 {
		return fmt.Errorf("api: missing dependencies: %v", missing)
	}
	return nil
}

// Handler returns the configured HTTP handler with all routes and middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		EnableLogging:         true,
		TracingService:        s.cfg.TracingService,
	})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitRPM > 0 {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimitRPM))
		}
		r.Get("/status", s.handleStatus)
		r.Get("/sessions", s.handleSessions)
		r.Get("/breakers", s.handleBreakers)
		r.Get("/ratelimit/{subject}", s.handleRateLimit)

		r.Get("/queue/{channelID}", s.handleQueueList)
		r.Post("/queue/{channelID}", s.handleQueueAdd)

		r.Get("/preferences/{userID}", s.handlePreferencesGet)
		r.Put("/preferences/{userID}", s.handlePreferencesPut)

		r.Post("/playback", s.handlePlay)
		r.Delete("/playback/{channelID}", s.handleStop)
		r.Post("/playback/{channelID}/skip", s.handleSkip)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout / 2,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening (HTTP)")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error().Err(err).Str(xglog.FieldEvent, "api.server.failed").Msg("API server failed")
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	// Use a detached-but-bounded context so shutdown can complete even if parent is canceled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	<-errCh
	return nil
}
