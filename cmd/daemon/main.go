// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/plexcord/internal/config"
	"github.com/ManuGH/plexcord/internal/daemon"
	"github.com/ManuGH/plexcord/internal/health"
	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/telemetry"
	"github.com/ManuGH/plexcord/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	// Handle command-line flags
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML), defaults to $"+envConfigPath)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: telemetry.DefaultServiceName,
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	// Create a context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration with precedence: ENV > File > Defaults
	path := configPathFrom(*configPath)
	cfg, err := config.NewLoader(path, version.Version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	// Re-configure logger with loaded configuration
	xglog.Configure(xglog.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: telemetry.DefaultServiceName,
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", path).
		Str("plex_url", config.MaskURL(cfg.Plex.URL)).
		Str("redis", cfg.RedisAddr()).
		Msg("loaded configuration")

	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	logger := xglog.WithComponent("daemon")

	// Pre-flight checks (fail fast)
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration.")
		return err
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.FromAppConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	app, err := daemon.Build(ctx, cfg)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return err
	}
	// Registered first, so it runs last and still sees spans from the other hooks.
	app.RegisterShutdownHook("telemetry", tp.Shutdown)

	logger.Info().
		Str("version", cfg.Version).
		Str("commit", version.Commit).
		Str("built", version.Date).
		Msg("plexcord starting")

	start := time.Now()
	err = app.Run(ctx)
	logger.Info().Dur("uptime", time.Since(start)).Msg("plexcord stopped")
	return err
}
