// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config resolves the immutable runtime configuration once at startup.
// Precedence: defaults, then the YAML file, then environment variables.
package config

import "time"

// AppConfig is the complete runtime configuration. It is passed explicitly to
// every constructor and never re-read after startup.
type AppConfig struct {
	Version string `yaml:"-"`

	Discord   DiscordConfig   `yaml:"discord"`
	Plex      PlexConfig      `yaml:"plex"`
	Redis     RedisConfig     `yaml:"redis"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Lock      LockConfig      `yaml:"lock"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DiscordConfig configures the chat front end. An empty token disables it.
type DiscordConfig struct {
	Token  string `yaml:"token" env:"DISCORD_BOT_TOKEN"`
	Prefix string `yaml:"prefix" env:"BOT_PREFIX"`
}

// PlexConfig configures media resolution.
type PlexConfig struct {
	URL               string        `yaml:"url" env:"PLEX_URL"`
	Token             string        `yaml:"token" env:"PLEX_TOKEN"`
	Timeout           time.Duration `yaml:"timeout" env:"PLEX_TIMEOUT"`
	RetryAttempts     int           `yaml:"retryAttempts" env:"PLEX_RETRY_ATTEMPTS"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay" env:"PLEX_RETRY_BASE_DELAY"`
	RetryMaxDelay     time.Duration `yaml:"retryMaxDelay" env:"PLEX_RETRY_MAX_DELAY"`
	CacheTTL          time.Duration `yaml:"cacheTTL" env:"PLEX_CACHE_TTL"`
	StreamURLTTL      time.Duration `yaml:"streamURLTTL" env:"PLEX_STREAM_URL_TTL"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" env:"PLEX_REQUESTS_PER_SECOND"`
}

// RedisConfig configures the shared key-value store.
type RedisConfig struct {
	Host      string `yaml:"host" env:"REDIS_HOST"`
	Port      int    `yaml:"port" env:"REDIS_PORT"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string `yaml:"keyPrefix" env:"REDIS_KEY_PREFIX"`
}

// BreakerConfig is shared by the plex and ffmpeg circuit breakers.
type BreakerConfig struct {
	Threshold int           `yaml:"threshold" env:"CIRCUIT_BREAKER_THRESHOLD"`
	Cooldown  time.Duration `yaml:"cooldown" env:"CIRCUIT_BREAKER_TIMEOUT"`
	Window    time.Duration `yaml:"window" env:"CIRCUIT_BREAKER_WINDOW"`
}

// RateLimitConfig bounds playback requests per requester.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" env:"RATE_LIMIT_REQUESTS"`
	Window   time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW"`
	FailOpen bool          `yaml:"failOpen" env:"RATE_LIMIT_FAIL_OPEN"`
}

// LockConfig tunes channel locks and queues.
type LockConfig struct {
	Lease           time.Duration `yaml:"lease" env:"LOCK_LEASE"`
	RefreshInterval time.Duration `yaml:"refreshInterval" env:"LOCK_REFRESH_INTERVAL"`
	QueueMaxLength  int           `yaml:"queueMaxLength" env:"QUEUE_MAX_LENGTH"`
	QueueMaxAge     time.Duration `yaml:"queueMaxAge" env:"QUEUE_MAX_AGE"` // queued requests older than this are dropped
}

// FFmpegConfig configures the transcoder process.
type FFmpegConfig struct {
	Bin            string        `yaml:"bin" env:"FFMPEG_BIN"`
	Preset         string        `yaml:"preset" env:"FFMPEG_PRESET"`
	Quality        string        `yaml:"quality" env:"QUALITY_PRESET"`
	LogLevel       string        `yaml:"logLevel" env:"FFMPEG_LOGLEVEL"`
	OutputFormat   string        `yaml:"outputFormat" env:"FFMPEG_OUTPUT_FORMAT"`
	Sink           string        `yaml:"sink" env:"FFMPEG_SINK"`
	Width          int           `yaml:"width" env:"VIDEO_WIDTH"`
	Height         int           `yaml:"height" env:"VIDEO_HEIGHT"`
	MaxRestarts    int           `yaml:"maxRestarts" env:"FFMPEG_MAX_RESTARTS"` // 0 disables restarts
	MaxProcesses   int           `yaml:"maxProcesses" env:"FFMPEG_MAX_PROCESSES"`
	StartupTimeout time.Duration `yaml:"startupTimeout" env:"FFMPEG_STARTUP_TIMEOUT"`
	StopGrace      time.Duration `yaml:"stopGrace" env:"FFMPEG_STOP_GRACE"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	ListenAddr   string `yaml:"listenAddr" env:"API_LISTEN_ADDR"`
	RateLimitRPM int    `yaml:"rateLimitRPM" env:"API_RATE_LIMIT_RPM"` // per client IP on /api
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"` // json|console
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"OTEL_ENABLED"`
	Exporter     string  `yaml:"exporter" env:"OTEL_EXPORTER"` // grpc|http
	Endpoint     string  `yaml:"endpoint" env:"OTEL_ENDPOINT"`
	SamplingRate float64 `yaml:"samplingRate" env:"OTEL_SAMPLING_RATE"`
}

// RedisAddr returns host:port.
func (c AppConfig) RedisAddr() string {
	return joinHostPort(c.Redis.Host, c.Redis.Port)
}

// Default returns the built-in defaults.
func Default() AppConfig {
	return AppConfig{
		Discord: DiscordConfig{Prefix: "!"},
		Plex: PlexConfig{
			URL:            "http://localhost:32400",
			Timeout:        10 * time.Second,
			RetryAttempts:  3,
			RetryBaseDelay: 500 * time.Millisecond,
			RetryMaxDelay:  5 * time.Second,
			CacheTTL:       time.Hour,
			StreamURLTTL:   30 * time.Minute,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "plexcord:",
		},
		Breaker: BreakerConfig{
			Threshold: 5,
			Cooldown:  30 * time.Second,
			Window:    time.Minute,
		},
		RateLimit: RateLimitConfig{
			Requests: 5,
			Window:   time.Minute,
		},
		Lock: LockConfig{
			Lease:           30 * time.Second,
			RefreshInterval: 10 * time.Second,
			QueueMaxLength:  50,
			QueueMaxAge:     time.Hour,
		},
		FFmpeg: FFmpegConfig{
			Bin:            "ffmpeg",
			Preset:         "veryfast",
			Quality:        "medium",
			LogLevel:       "error",
			OutputFormat:   "mpegts",
			Sink:           "pipe:1",
			Width:          1280,
			Height:         720,
			MaxRestarts:    3,
			MaxProcesses:   5,
			StartupTimeout: 15 * time.Second,
			StopGrace:      5 * time.Second,
		},
		API: APIConfig{
			ListenAddr:   ":8080",
			RateLimitRPM: 120,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
