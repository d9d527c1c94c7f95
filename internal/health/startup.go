// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/plexcord/internal/config"
	xglog "github.com/ManuGH/plexcord/internal/log"
)

// PerformStartupChecks validates the environment and dependencies before starting.
// Reachability of the shared store is checked separately when it is opened.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := xglog.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	// a. Listen address
	if cfg.API.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.API.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", cfg.API.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid API listen port %q in %q", port, cfg.API.ListenAddr)
		}
		logger.Info().Str("addr", cfg.API.ListenAddr).Msg("API listen address is valid")
	}

	// b. Plex base URL
	u, err := url.Parse(cfg.Plex.URL)
	if err != nil {
		return fmt.Errorf("invalid PLEX_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("PLEX_URL scheme must be http or https, got: %s", u.Scheme)
	}
	if cfg.Plex.Token == "" {
		logger.Warn().Msg("PLEX_TOKEN not configured; requests will be unauthenticated")
	}
	logger.Info().Str("url", config.MaskURL(cfg.Plex.URL)).Msg("plex base URL is valid")

	// c. ffmpeg binary
	bin := strings.TrimSpace(cfg.FFmpeg.Bin)
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", bin, err)
	}
	logger.Info().Str("ffmpeg", bin).Msg("ffmpeg binary available")

	// d. Chat front end
	if cfg.Discord.Token == "" {
		logger.Warn().Msg("DISCORD_BOT_TOKEN not configured; chat commands disabled")
	}

	return nil
}
