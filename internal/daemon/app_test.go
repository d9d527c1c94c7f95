// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/plexcord/internal/config"
	"github.com/ManuGH/plexcord/internal/ffmpeg"
	"github.com/ManuGH/plexcord/internal/playback"
)

type fakeServer struct {
	err     error
	started chan struct{}
}

func (s *fakeServer) ListenAndServe(ctx context.Context) error {
	close(s.started)
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return nil
}

type fakeOrchestrator struct {
	events   chan playback.CompletionEvent
	once     sync.Once
	shutdown bool
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{events: make(chan playback.CompletionEvent, 4)}
}

func (o *fakeOrchestrator) Events() <-chan playback.CompletionEvent { return o.events }

func (o *fakeOrchestrator) Shutdown(context.Context) error {
	o.once.Do(func() {
		o.shutdown = true
		close(o.events)
	})
	return nil
}

func TestNewApp_RequiresComponents(t *testing.T) {
	_, err := NewApp(nil, newFakeOrchestrator())
	assert.ErrorIs(t, err, ErrMissingServer)
	_, err = NewApp(&fakeServer{started: make(chan struct{})}, nil)
	assert.ErrorIs(t, err, ErrMissingPlayer)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := &fakeServer{started: make(chan struct{})}
	orch := newFakeOrchestrator()

	var mu sync.Mutex
	var completed []string
	var order []string
	app, err := NewApp(srv, orch,
		WithAppLogger(zerolog.Nop()),
		WithCompletionHandler(func(ev playback.CompletionEvent) {
			mu.Lock()
			completed = append(completed, ev.ChannelID)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	for _, name := range []string{"first", "second", "third"} {
		app.RegisterShutdownHook(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	<-srv.started
	orch.events <- playback.CompletionEvent{ChannelID: "c1", Reason: playback.EndFinished}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.True(t, orch.shutdown)
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.ErrorIs(t, app.Run(context.Background()), ErrAlreadyRunning)
}

func TestApp_ServerFailureShutsDown(t *testing.T) {
	boom := errors.New("bind: address in use")
	srv := &fakeServer{err: boom, started: make(chan struct{})}
	orch := newFakeOrchestrator()

	app, err := NewApp(srv, orch, WithAppLogger(zerolog.Nop()))
	require.NoError(t, err)
	hookRan := false
	app.RegisterShutdownHook("kv", func(context.Context) error {
		hookRan = true
		return nil
	})

	err = app.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.True(t, orch.shutdown)
	assert.True(t, hookRan)
}

func TestApp_HookErrorsAreJoined(t *testing.T) {
	srv := &fakeServer{started: make(chan struct{})}
	app, err := NewApp(srv, newFakeOrchestrator(), WithAppLogger(zerolog.Nop()))
	require.NoError(t, err)

	hookErr := errors.New("close failed")
	later := false
	app.RegisterShutdownHook("later", func(context.Context) error {
		later = true
		return nil
	})
	app.RegisterShutdownHook("failing", func(context.Context) error { return hookErr })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = app.Run(ctx)
	require.ErrorIs(t, err, hookErr)
	assert.Contains(t, err.Error(), "hook failing")
	assert.True(t, later, "a failing hook must not skip the rest")
}

func TestBuild_WiresAndStops(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Version = "test"
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.FFmpeg.Bin = "sh"

	ctx, cancel := context.WithCancel(context.Background())
	app, err := Build(ctx, cfg, WithShutdownTimeout(5*time.Second))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestBuild_StoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	cfg := config.Default()
	cfg.Redis.Host = "127.0.0.1"
	cfg.Redis.Port = port

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = Build(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open store")
}

func TestFFmpegConfig_RestartBudget(t *testing.T) {
	c := config.Default().FFmpeg
	got := ffmpegConfig(c)
	assert.Equal(t, 3, got.MaxRestarts)
	assert.Equal(t, 5, got.MaxSessions)
	assert.Equal(t, c.Bin, got.BinPath)

	c.MaxRestarts = 0
	assert.Equal(t, ffmpeg.NoRestarts, ffmpegConfig(c).MaxRestarts)
}
