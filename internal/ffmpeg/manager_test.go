// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/plexcord/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func shFactory(script string) CommandFactory {
	return func(string, []string) *exec.Cmd {
		return exec.Command("sh", "-c", script)
	}
}

func testConfig() Config {
	return Config{
		MaxRestarts:      3,
		RestartBaseDelay: 10 * time.Millisecond,
		RestartMaxDelay:  50 * time.Millisecond,
		StartupProbe:     150 * time.Millisecond,
		StartupTimeout:   5 * time.Second,
		StopGrace:        300 * time.Millisecond,
		StableAfter:      time.Minute,
	}
}

func newTestManager(cfg Config, script string) *Manager {
	return NewManager(cfg, WithCommandFactory(shFactory(script)), WithLogger(zerolog.Nop()))
}

// failingScript fails `failures` times with the given stderr line, then streams.
func failingScript(t *testing.T, failures int, line string) string {
	counter := filepath.Join(t.TempDir(), "runs")
	return fmt.Sprintf(`n=$(cat %q 2>/dev/null || echo 0); n=$((n+1)); echo $n > %q
if [ $n -le %d ]; then echo '%s' >&2; exit 1; fi
exec sleep 30`, counter, counter, failures, line)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestManager_RestartsTransientFailures(t *testing.T) {
	mgr := newTestManager(testConfig(), failingScript(t, 2, "Connection reset by peer"))
	ctx := context.Background()

	s, err := mgr.Start(ctx, "42", "tt1375666", "http://plex/video")
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, s.State())

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.RestartCount)
	require.NotNil(t, snap.LastExit)
	assert.Equal(t, 1, snap.LastExit.Code)
	assert.Equal(t, string(ClassTransientIO), snap.LastExit.Class)
	assert.NotZero(t, snap.PID)

	stats := mgr.Stats()
	assert.Equal(t, int64(2), stats.Restarts)
	assert.Equal(t, int64(2), stats.Failures)
	assert.Equal(t, 1, stats.Active)

	require.NoError(t, mgr.Stop(ctx, s.ID()))
	assert.Equal(t, model.SessionStopped, s.State())
	assert.NoError(t, s.Err())
	assert.Equal(t, 0, mgr.Stats().Active)
}

func TestManager_RestartBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRestarts = 2
	mgr := newTestManager(cfg, "echo 'Connection refused' >&2; exit 1")

	s, err := mgr.Start(context.Background(), "42", "m", "http://plex/video")
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, model.ErrStreaming)

	stats := mgr.Stats()
	assert.Equal(t, int64(3), stats.Failures)
	assert.Equal(t, int64(2), stats.Restarts)
	assert.Equal(t, 0, stats.Active)
	assert.Empty(t, mgr.Sessions())
}

func TestManager_BadInputIsNotRestarted(t *testing.T) {
	mgr := newTestManager(testConfig(), "echo 'http://plex/video: Invalid data found when processing input' >&2; exit 1")

	_, err := mgr.Start(context.Background(), "42", "m", "http://plex/video")
	require.Error(t, err)

	var se *model.StreamingError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "ffmpeg", se.Dependency)

	stats := mgr.Stats()
	assert.Equal(t, int64(1), stats.Failures)
	assert.Zero(t, stats.Restarts)
}

func TestManager_StopKillsTermIgnoringProcess(t *testing.T) {
	mgr := newTestManager(testConfig(), "trap '' TERM; while true; do sleep 1; done")
	ctx := context.Background()

	s, err := mgr.Start(ctx, "42", "m", "http://plex/video")
	require.NoError(t, err)

	begin := time.Now()
	require.NoError(t, mgr.Stop(ctx, s.ID()))
	assert.GreaterOrEqual(t, time.Since(begin), 300*time.Millisecond)
	assert.Equal(t, model.SessionStopped, s.State())
	assert.Equal(t, "stopped", s.ExitReason())

	// second stop is a no-op
	require.NoError(t, mgr.Stop(ctx, s.ID()))
	require.NoError(t, mgr.StopChannel(ctx, "42"))
	assert.Equal(t, model.SessionStopped, s.State())
}

func TestManager_OneSessionPerChannel(t *testing.T) {
	mgr := newTestManager(testConfig(), "exec sleep 30")
	ctx := context.Background()

	s, err := mgr.Start(ctx, "42", "a", "http://plex/a")
	require.NoError(t, err)
	defer func() { _ = mgr.Stop(ctx, s.ID()) }()

	_, err = mgr.Start(ctx, "42", "b", "http://plex/b")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrChannelBusy)
	assert.ErrorIs(t, err, model.ErrStreaming)

	other, err := mgr.Start(ctx, "43", "b", "http://plex/b")
	require.NoError(t, err)
	require.NoError(t, mgr.StopChannel(ctx, "43"))
	waitDone(t, other)

	assert.Len(t, mgr.Sessions(), 1)
}

func TestManager_FinishedMediaStops(t *testing.T) {
	mgr := newTestManager(testConfig(), "sleep 0.4; exit 0")

	s, err := mgr.Start(context.Background(), "42", "m", "http://plex/video")
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, model.SessionStopped, s.State())
	assert.Equal(t, "finished", s.ExitReason())
	assert.NoError(t, s.Err())
	_, ok := mgr.Session("42")
	assert.False(t, ok)
}

func TestManager_StartupTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.StartupProbe = 10 * time.Second
	cfg.StartupTimeout = 200 * time.Millisecond
	mgr := newTestManager(cfg, "exec sleep 30")

	_, err := mgr.Start(context.Background(), "42", "m", "http://plex/video")
	require.Error(t, err)
	assert.ErrorIs(t, err, errStartupTimeout)
	assert.Zero(t, mgr.Stats().Active)
}

func TestManager_StartCancelled(t *testing.T) {
	cfg := testConfig()
	cfg.StartupProbe = 10 * time.Second
	mgr := newTestManager(cfg, "exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := mgr.Start(ctx, "42", "m", "http://plex/video")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, mgr.Sessions())
}

func TestManager_PassesBuiltArgs(t *testing.T) {
	cfg := testConfig()
	cfg.BinPath = "/usr/bin/ffmpeg"
	cfg.Sink = "udp://127.0.0.1:5000?channel={channel}"

	var mu sync.Mutex
	var gotBin string
	var gotArgs []string
	factory := func(bin string, args []string) *exec.Cmd {
		mu.Lock()
		gotBin, gotArgs = bin, args
		mu.Unlock()
		return exec.Command("sh", "-c", "exec sleep 30")
	}
	mgr := NewManager(cfg, WithCommandFactory(factory), WithLogger(zerolog.Nop()))

	s, err := mgr.Start(context.Background(), "42", "m", "http://plex/video")
	require.NoError(t, err)
	require.NoError(t, mgr.Stop(context.Background(), s.ID()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/usr/bin/ffmpeg", gotBin)
	assert.Contains(t, gotArgs, "http://plex/video")
	assert.Equal(t, "udp://127.0.0.1:5000?channel=42", gotArgs[len(gotArgs)-1])
}

func TestManager_Shutdown(t *testing.T) {
	mgr := newTestManager(testConfig(), "exec sleep 30")
	ctx := context.Background()

	a, err := mgr.Start(ctx, "1", "m", "u")
	require.NoError(t, err)
	b, err := mgr.Start(ctx, "2", "m", "u")
	require.NoError(t, err)

	require.NoError(t, mgr.Shutdown(ctx))
	assert.Equal(t, model.SessionStopped, a.State())
	assert.Equal(t, model.SessionStopped, b.State())

	_, err = mgr.Start(ctx, "3", "m", "u")
	assert.ErrorIs(t, err, model.ErrStreaming)
}

func TestManager_Backoff(t *testing.T) {
	mgr := NewManager(Config{RestartBaseDelay: time.Second, RestartMaxDelay: 5 * time.Second})

	assert.Equal(t, time.Second, mgr.backoff(1, ClassTransientIO))
	assert.Equal(t, 2*time.Second, mgr.backoff(2, ClassTransientIO))
	assert.Equal(t, 4*time.Second, mgr.backoff(3, ClassUnknown))
	assert.Equal(t, 5*time.Second, mgr.backoff(4, ClassUnknown))
	assert.Equal(t, 4*time.Second, mgr.backoff(2, ClassResourceExhaustion))
}

func TestManager_NoRestartsFailsOnFirstExit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRestarts = NoRestarts
	mgr := newTestManager(cfg, "echo 'Connection refused' >&2; exit 1")

	_, err := mgr.Start(context.Background(), "42", "m", "http://plex/video")
	require.ErrorIs(t, err, model.ErrStreaming)

	stats := mgr.Stats()
	assert.Equal(t, int64(1), stats.Failures)
	assert.Zero(t, stats.Restarts)
}

func TestConfig_MaxRestartsDefaults(t *testing.T) {
	assert.Equal(t, 3, Config{}.withDefaults().MaxRestarts)
	assert.Equal(t, 5, Config{MaxRestarts: 5}.withDefaults().MaxRestarts)
	assert.Equal(t, NoRestarts, Config{MaxRestarts: -7}.withDefaults().MaxRestarts)
}

func TestManager_SessionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 2
	mgr := newTestManager(cfg, "exec sleep 30")
	ctx := context.Background()
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	a, err := mgr.Start(ctx, "1", "m", "u")
	require.NoError(t, err)
	_, err = mgr.Start(ctx, "2", "m", "u")
	require.NoError(t, err)

	_, err = mgr.Start(ctx, "3", "m", "u")
	require.ErrorIs(t, err, ErrCapacity)
	assert.ErrorIs(t, err, model.ErrStreaming)
	assert.Equal(t, int64(2), mgr.Stats().Starts)

	require.NoError(t, mgr.Stop(ctx, a.ID()))
	c, err := mgr.Start(ctx, "3", "m", "u")
	require.NoError(t, err)
	assert.Equal(t, model.SessionRunning, c.State())
}
