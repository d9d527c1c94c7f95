// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

var (
	validQualities    = map[string]bool{"low": true, "medium": true, "high": true}
	validLogFormats   = map[string]bool{"json": true, "console": true}
	validExporters    = map[string]bool{"grpc": true, "http": true}
	validX264Presets  = map[string]bool{"ultrafast": true, "superfast": true, "veryfast": true, "faster": true, "fast": true, "medium": true, "slow": true, "slower": true, "veryslow": true, "copy": true}
	validFFmpegLevels = map[string]bool{"quiet": true, "panic": true, "fatal": true, "error": true, "warning": true, "info": true, "verbose": true, "debug": true}
)

type validator struct {
	errs []error
}

func (v *validator) add(field, format string, args ...any) {
	v.errs = append(v.errs, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (v *validator) positive(field string, n int) {
	if n <= 0 {
		v.add(field, "must be positive, got %d", n)
	}
}

func (v *validator) duration(field string, d time.Duration) {
	if d <= 0 {
		v.add(field, "must be a positive duration, got %s", d)
	}
}

func (v *validator) oneOf(field, value string, allowed map[string]bool) {
	if !allowed[strings.ToLower(value)] {
		v.add(field, "unsupported value %q", value)
	}
}

// Validate checks cfg and reports every invalid field at once.
func Validate(cfg AppConfig) error {
	v := &validator{}

	if u, err := url.Parse(cfg.Plex.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.add("plex.url", "must be an http(s) URL, got %q", MaskURL(cfg.Plex.URL))
	}
	v.duration("plex.timeout", cfg.Plex.Timeout)
	v.positive("plex.retryAttempts", cfg.Plex.RetryAttempts)
	v.duration("plex.retryBaseDelay", cfg.Plex.RetryBaseDelay)
	if cfg.Plex.RetryMaxDelay < cfg.Plex.RetryBaseDelay {
		v.add("plex.retryMaxDelay", "must not be below retryBaseDelay")
	}
	v.duration("plex.cacheTTL", cfg.Plex.CacheTTL)
	v.duration("plex.streamURLTTL", cfg.Plex.StreamURLTTL)
	if cfg.Plex.RequestsPerSecond < 0 {
		v.add("plex.requestsPerSecond", "must not be negative")
	}

	if strings.TrimSpace(cfg.Redis.Host) == "" {
		v.add("redis.host", "is required")
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		v.add("redis.port", "must be in 1..65535, got %d", cfg.Redis.Port)
	}
	if cfg.Redis.DB < 0 {
		v.add("redis.db", "must not be negative")
	}

	v.positive("breaker.threshold", cfg.Breaker.Threshold)
	v.duration("breaker.cooldown", cfg.Breaker.Cooldown)
	v.duration("breaker.window", cfg.Breaker.Window)

	v.positive("rateLimit.requests", cfg.RateLimit.Requests)
	v.duration("rateLimit.window", cfg.RateLimit.Window)

	v.duration("lock.lease", cfg.Lock.Lease)
	v.duration("lock.refreshInterval", cfg.Lock.RefreshInterval)
	if cfg.Lock.RefreshInterval >= cfg.Lock.Lease {
		v.add("lock.refreshInterval", "must be shorter than the lease (%s)", cfg.Lock.Lease)
	}
	v.positive("lock.queueMaxLength", cfg.Lock.QueueMaxLength)
	v.duration("lock.queueMaxAge", cfg.Lock.QueueMaxAge)

	if strings.TrimSpace(cfg.FFmpeg.Bin) == "" {
		v.add("ffmpeg.bin", "is required")
	}
	v.oneOf("ffmpeg.preset", cfg.FFmpeg.Preset, validX264Presets)
	v.oneOf("ffmpeg.quality", cfg.FFmpeg.Quality, validQualities)
	v.oneOf("ffmpeg.logLevel", cfg.FFmpeg.LogLevel, validFFmpegLevels)
	if strings.TrimSpace(cfg.FFmpeg.OutputFormat) == "" {
		v.add("ffmpeg.outputFormat", "is required")
	}
	if strings.TrimSpace(cfg.FFmpeg.Sink) == "" {
		v.add("ffmpeg.sink", "is required")
	}
	if cfg.FFmpeg.Width < 0 || cfg.FFmpeg.Height < 0 {
		v.add("ffmpeg.width", "dimensions must not be negative")
	}
	if cfg.FFmpeg.MaxRestarts < 0 {
		v.add("ffmpeg.maxRestarts", "must not be negative")
	}
	v.positive("ffmpeg.maxProcesses", cfg.FFmpeg.MaxProcesses)
	v.duration("ffmpeg.startupTimeout", cfg.FFmpeg.StartupTimeout)
	v.duration("ffmpeg.stopGrace", cfg.FFmpeg.StopGrace)

	if cfg.API.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.API.ListenAddr); err != nil {
			v.add("api.listenAddr", "invalid listen address %q: %v", cfg.API.ListenAddr, err)
		}
	}
	if cfg.API.RateLimitRPM < 0 {
		v.add("api.rateLimitRPM", "must not be negative")
	}

	v.oneOf("log.format", cfg.Log.Format, validLogFormats)

	if cfg.Telemetry.Enabled {
		v.oneOf("telemetry.exporter", cfg.Telemetry.Exporter, validExporters)
		if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
			v.add("telemetry.endpoint", "is required when tracing is enabled")
		}
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		v.add("telemetry.samplingRate", "must be in [0,1], got %v", cfg.Telemetry.SamplingRate)
	}

	return errors.Join(v.errs...)
}
