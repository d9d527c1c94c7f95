// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/testutil"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func newTestBreaker(t *testing.T, clock *mockClock) *CircuitBreaker {
	t.Helper()
	_, store := testutil.NewStore(t)
	return New("plex", store, Config{Threshold: 3, Cooldown: 10 * time.Second, Window: time.Minute},
		WithClock(clock), WithLogger(zerolog.Nop()))
}

func tripBreaker(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, cb.RecordFailure(context.Background()))
	}
}

func stateOf(t *testing.T, cb *CircuitBreaker) State {
	t.Helper()
	st, err := cb.Snapshot(context.Background())
	require.NoError(t, err)
	return st.State
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	tripBreaker(t, cb, 2)
	assert.Equal(t, StateClosed, stateOf(t, cb))
	ok, err := cb.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	tripBreaker(t, cb, 1)
	assert.Equal(t, StateOpen, stateOf(t, cb))

	ok, err = cb.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCircuitBreaker_FailuresOutsideWindowReset(t *testing.T) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(t, clock)

	tripBreaker(t, cb, 2)
	clock.Advance(2 * time.Minute)
	tripBreaker(t, cb, 2)

	st, err := cb.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 2, st.Failures)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()

	tripBreaker(t, cb, 2)
	require.NoError(t, cb.RecordSuccess(ctx))
	tripBreaker(t, cb, 2)
	assert.Equal(t, StateClosed, stateOf(t, cb))
}

func TestCircuitBreaker_PermitReportsRetryAfter(t *testing.T) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(t, clock)
	tripBreaker(t, cb, 3)

	clock.Advance(4 * time.Second)
	err := cb.Permit(context.Background())
	require.Error(t, err)

	var co *model.CircuitOpenError
	require.ErrorAs(t, err, &co)
	assert.Equal(t, "plex", co.Dependency)
	assert.Equal(t, 6*time.Second, co.RetryAfter)
}

func TestCircuitBreaker_HalfOpenGrantsSingleTrial(t *testing.T) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(t, clock)
	tripBreaker(t, cb, 3)
	clock.Advance(10 * time.Second)

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := cb.Allow(context.Background())
			if err == nil && ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	assert.Equal(t, StateHalfOpen, stateOf(t, cb))
}

func TestCircuitBreaker_HalfOpenOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
		cb := newTestBreaker(t, clock)
		ctx := context.Background()
		tripBreaker(t, cb, 3)
		clock.Advance(10 * time.Second)

		ok, err := cb.Allow(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, cb.RecordSuccess(ctx))

		st, err := cb.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateClosed, st.State)
		assert.Zero(t, st.Failures)
	})

	t.Run("failure reopens with fresh cooldown", func(t *testing.T) {
		clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
		cb := newTestBreaker(t, clock)
		ctx := context.Background()
		tripBreaker(t, cb, 3)
		clock.Advance(10 * time.Second)

		ok, err := cb.Allow(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, cb.RecordFailure(ctx))

		st, err := cb.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateOpen, st.State)
		assert.True(t, clock.Now().Equal(st.OpenedAt))

		clock.Advance(9 * time.Second)
		ok, err = cb.Allow(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCircuitBreaker_UnreportedTrialIsRegranted(t *testing.T) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()
	tripBreaker(t, cb, 3)
	clock.Advance(10 * time.Second)

	ok, _ := cb.Allow(ctx)
	require.True(t, ok)
	ok, _ = cb.Allow(ctx)
	assert.False(t, ok, "trial outstanding")

	clock.Advance(10 * time.Second)
	ok, _ = cb.Allow(ctx)
	assert.True(t, ok, "lost trial granted again after cooldown")
}

func TestCircuitBreaker_SharedAcrossInstances(t *testing.T) {
	_, store := testutil.NewStore(t)
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cfg := Config{Threshold: 2, Cooldown: time.Minute, Window: time.Minute}
	a := New("ffmpeg", store, cfg, WithClock(clock), WithLogger(zerolog.Nop()))
	b := New("ffmpeg", store, cfg, WithClock(clock), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	require.NoError(t, a.RecordFailure(ctx))
	require.NoError(t, b.RecordFailure(ctx))

	ok, err := a.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "instance a observes the trip recorded through b")
}

func TestCircuitBreaker_FailsClosedWhenStoreDown(t *testing.T) {
	mr, store := testutil.NewStore(t)
	cb := New("plex", store, Config{}, WithLogger(zerolog.Nop()))
	mr.Close()

	ok, err := cb.Allow(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)

	err = cb.Permit(context.Background())
	assert.ErrorIs(t, err, model.ErrCircuitOpen)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(t, clock)
	ctx := context.Background()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, model.ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	_, store := testutil.NewStore(t)
	cb := New("plex", store, Config{Threshold: 1}, WithPanicRecovery(true), WithLogger(zerolog.Nop()))

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func(context.Context) error { panic("bad") })
	})
	assert.Equal(t, StateOpen, stateOf(t, cb))
}

func TestRegistry_Snapshots(t *testing.T) {
	_, store := testutil.NewStore(t)
	reg := NewRegistry()
	reg.Register(New("plex", store, Config{Threshold: 1}, WithLogger(zerolog.Nop())))
	reg.Register(New("ffmpeg", store, Config{Threshold: 1}, WithLogger(zerolog.Nop())))

	cb, ok := reg.Get("plex")
	require.True(t, ok)
	require.NoError(t, cb.RecordFailure(context.Background()))

	snaps, err := reg.Snapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "ffmpeg", snaps[0].Name)
	assert.Equal(t, StateClosed, snaps[0].State)
	assert.Equal(t, "plex", snaps[1].Name)
	assert.Equal(t, StateOpen, snaps[1].State)
}
