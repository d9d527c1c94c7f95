// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/plexcord/internal/testutil"
)

func load(t *testing.T, path string) (AppConfig, error) {
	t.Helper()
	return NewLoader(path, "test").WithEnvFile("").Load()
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)

	want := Default()
	want.Version = "test"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_ExampleFileMatchesDefaults(t *testing.T) {
	cfg, err := load(t, testutil.RepoFile(t, "config.example.yaml"))
	require.NoError(t, err)

	want := Default()
	want.Version = "test"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config.example.yaml drifted from defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := testutil.WriteFile(t, "config.yaml", `
plex:
  url: https://plex.example.com:32400
  retryAttempts: 5
breaker:
  cooldown: 45s
ffmpeg:
  quality: high
  width: 1920
  height: 1080
`)
	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, "https://plex.example.com:32400", cfg.Plex.URL)
	assert.Equal(t, 5, cfg.Plex.RetryAttempts)
	assert.Equal(t, 45*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, "high", cfg.FFmpeg.Quality)
	assert.Equal(t, 1920, cfg.FFmpeg.Width)

	// Untouched keys keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Plex.Timeout)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, "veryfast", cfg.FFmpeg.Preset)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := testutil.WriteFile(t, "config.yaml", `
redis:
  host: file-host
  port: 6380
rateLimit:
  requests: 3
`)
	t.Setenv("REDIS_HOST", "env-host")
	t.Setenv("RATE_LIMIT_REQUESTS", "9")
	t.Setenv("CIRCUIT_BREAKER_TIMEOUT", "60")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "yes")
	t.Setenv("OTEL_SAMPLING_RATE", "0.25")

	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port, "file value survives when env is unset")
	assert.Equal(t, 9, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.Breaker.Cooldown, "bare integers are seconds")
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.InDelta(t, 0.25, cfg.Telemetry.SamplingRate, 1e-9)
	assert.Equal(t, "env-host:6380", cfg.RedisAddr())
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("REDIS_PORT", "not-a-port")
	t.Setenv("LOCK_LEASE", "forever")

	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 30*time.Second, cfg.Lock.Lease)
}

func TestLoad_StrictFile(t *testing.T) {
	t.Run("unknown field", func(t *testing.T) {
		path := testutil.WriteFile(t, "config.yaml", "plex:\n  endpoint: http://x\n")
		_, err := load(t, path)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownConfigField)
	})

	t.Run("multiple documents", func(t *testing.T) {
		path := testutil.WriteFile(t, "config.yaml", "log:\n  level: debug\n---\nlog:\n  level: info\n")
		_, err := load(t, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "multiple documents")
	})

	t.Run("empty file", func(t *testing.T) {
		path := testutil.WriteFile(t, "config.yaml", "")
		_, err := load(t, path)
		require.NoError(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := testutil.WriteFile(t, "config.json", "{}")
		_, err := load(t, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported config format")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := load(t, filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}

func TestLoad_Dotenv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PLEX_TOKEN=from-dotenv\nREDIS_HOST=dotenv-host\n"), 0o600))
	t.Setenv("REDIS_HOST", "shell-host")
	t.Cleanup(func() { _ = os.Unsetenv("PLEX_TOKEN") })

	cfg, err := NewLoader("", "test").WithEnvFile(envFile).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Plex.Token)
	assert.Equal(t, "shell-host", cfg.Redis.Host, "dotenv never overrides the environment")
}

func TestLoad_MissingDotenvIsIgnored(t *testing.T) {
	_, err := NewLoader("", "test").WithEnvFile(filepath.Join(t.TempDir(), ".env")).Load()
	require.NoError(t, err)
}

func TestLoad_TracksConsumedKeys(t *testing.T) {
	l := NewLoader("", "test").WithEnvFile("")
	_, err := l.Load()
	require.NoError(t, err)

	for _, key := range []string{"DISCORD_BOT_TOKEN", "PLEX_URL", "CIRCUIT_BREAKER_TIMEOUT", "QUALITY_PRESET", "OTEL_ENDPOINT"} {
		assert.Contains(t, l.ConsumedEnvKeys, key)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("PLEX_URL", "ftp://plex")
	_, err := load(t, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
