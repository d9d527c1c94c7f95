// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath      string
	envFile         string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader for the given YAML file (optional) and binary version.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		envFile:         ".env",
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// WithEnvFile changes the dotenv file read before the environment. An empty
// path disables it.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load resolves the configuration: defaults, then file, then environment.
// The result is validated before it is returned.
func (l *Loader) Load() (AppConfig, error) {
	if err := l.loadDotenv(); err != nil {
		return AppConfig{}, err
	}

	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotenv reads KEY=VALUE pairs without overriding variables already set.
func (l *Loader) loadDotenv() error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(l.envFile); err != nil {
		return fmt.Errorf("load %s: %w", l.envFile, err)
	}
	logger := envLogger()
	logger.Debug().Str("path", l.envFile).Msg("loaded dotenv file")
	return nil
}

// loadFile decodes a YAML file onto cfg with strict parsing. Keys absent from
// the file keep their current value.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies environment overrides, highest priority.
func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.Discord.Token = l.envString("DISCORD_BOT_TOKEN", cfg.Discord.Token)
	cfg.Discord.Prefix = l.envString("BOT_PREFIX", cfg.Discord.Prefix)

	cfg.Plex.URL = l.envString("PLEX_URL", cfg.Plex.URL)
	cfg.Plex.Token = l.envString("PLEX_TOKEN", cfg.Plex.Token)
	cfg.Plex.Timeout = l.envDuration("PLEX_TIMEOUT", cfg.Plex.Timeout)
	cfg.Plex.RetryAttempts = l.envInt("PLEX_RETRY_ATTEMPTS", cfg.Plex.RetryAttempts)
	cfg.Plex.RetryBaseDelay = l.envDuration("PLEX_RETRY_BASE_DELAY", cfg.Plex.RetryBaseDelay)
	cfg.Plex.RetryMaxDelay = l.envDuration("PLEX_RETRY_MAX_DELAY", cfg.Plex.RetryMaxDelay)
	cfg.Plex.CacheTTL = l.envDuration("PLEX_CACHE_TTL", cfg.Plex.CacheTTL)
	cfg.Plex.StreamURLTTL = l.envDuration("PLEX_STREAM_URL_TTL", cfg.Plex.StreamURLTTL)
	cfg.Plex.RequestsPerSecond = l.envFloat("PLEX_REQUESTS_PER_SECOND", cfg.Plex.RequestsPerSecond)

	cfg.Redis.Host = l.envString("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = l.envInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = l.envString("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	cfg.Breaker.Threshold = l.envInt("CIRCUIT_BREAKER_THRESHOLD", cfg.Breaker.Threshold)
	cfg.Breaker.Cooldown = l.envDuration("CIRCUIT_BREAKER_TIMEOUT", cfg.Breaker.Cooldown)
	cfg.Breaker.Window = l.envDuration("CIRCUIT_BREAKER_WINDOW", cfg.Breaker.Window)

	cfg.RateLimit.Requests = l.envInt("RATE_LIMIT_REQUESTS", cfg.RateLimit.Requests)
	cfg.RateLimit.Window = l.envDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)
	cfg.RateLimit.FailOpen = l.envBool("RATE_LIMIT_FAIL_OPEN", cfg.RateLimit.FailOpen)

	cfg.Lock.Lease = l.envDuration("LOCK_LEASE", cfg.Lock.Lease)
	cfg.Lock.RefreshInterval = l.envDuration("LOCK_REFRESH_INTERVAL", cfg.Lock.RefreshInterval)
	cfg.Lock.QueueMaxLength = l.envInt("QUEUE_MAX_LENGTH", cfg.Lock.QueueMaxLength)
	cfg.Lock.QueueMaxAge = l.envDuration("QUEUE_MAX_AGE", cfg.Lock.QueueMaxAge)

	cfg.FFmpeg.Bin = l.envString("FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.Preset = l.envString("FFMPEG_PRESET", cfg.FFmpeg.Preset)
	cfg.FFmpeg.Quality = l.envString("QUALITY_PRESET", cfg.FFmpeg.Quality)
	cfg.FFmpeg.LogLevel = l.envString("FFMPEG_LOGLEVEL", cfg.FFmpeg.LogLevel)
	cfg.FFmpeg.OutputFormat = l.envString("FFMPEG_OUTPUT_FORMAT", cfg.FFmpeg.OutputFormat)
	cfg.FFmpeg.Sink = l.envString("FFMPEG_SINK", cfg.FFmpeg.Sink)
	cfg.FFmpeg.Width = l.envInt("VIDEO_WIDTH", cfg.FFmpeg.Width)
	cfg.FFmpeg.Height = l.envInt("VIDEO_HEIGHT", cfg.FFmpeg.Height)
	cfg.FFmpeg.MaxRestarts = l.envInt("FFMPEG_MAX_RESTARTS", cfg.FFmpeg.MaxRestarts)
	cfg.FFmpeg.MaxProcesses = l.envInt("FFMPEG_MAX_PROCESSES", cfg.FFmpeg.MaxProcesses)
	cfg.FFmpeg.StartupTimeout = l.envDuration("FFMPEG_STARTUP_TIMEOUT", cfg.FFmpeg.StartupTimeout)
	cfg.FFmpeg.StopGrace = l.envDuration("FFMPEG_STOP_GRACE", cfg.FFmpeg.StopGrace)

	cfg.API.ListenAddr = l.envString("API_LISTEN_ADDR", cfg.API.ListenAddr)
	cfg.API.RateLimitRPM = l.envInt("API_RATE_LIMIT_RPM", cfg.API.RateLimitRPM)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = l.envString("LOG_FORMAT", cfg.Log.Format)

	cfg.Telemetry.Enabled = l.envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("OTEL_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}
