// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/plexcord/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLimiter_DeniesAfterLimit(t *testing.T) {
	_, store := testutil.NewStore(t)
	// Aligned to a window boundary plus 15s.
	clock := &fakeClock{now: time.Unix(1_700_000_040+15, 0)}
	l := New(store, Config{Limit: 3, Window: time.Minute}, WithClock(clock), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(4), d.Count)
	assert.Equal(t, 45*time.Second, d.RetryAfter)

	other, err := l.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "subjects are independent")
}

func TestLimiter_NewWindowResets(t *testing.T) {
	mr, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(1_700_000_040, 0)}
	l := New(store, Config{Limit: 1, Window: 10 * time.Second}, WithClock(clock), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	d, _ := l.Allow(ctx, "u1")
	require.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "u1")
	require.False(t, d.Allowed)

	clock.Advance(10 * time.Second)
	mr.FastForward(10 * time.Second)

	d, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_CounterExpiresWithWindow(t *testing.T) {
	mr, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(1_700_000_040, 0)}
	l := New(store, Config{Limit: 1, Window: 10 * time.Second}, WithClock(clock), WithLogger(zerolog.Nop()))

	_, err := l.Allow(context.Background(), "u1")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 10*time.Second, mr.TTL(keys[0]))
}

func TestLimiter_ConcurrentAdmitsExactlyLimit(t *testing.T) {
	_, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(1_700_000_040, 0)}
	l := New(store, Config{Limit: 5, Window: time.Minute}, WithClock(clock), WithLogger(zerolog.Nop()))

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), "u1")
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(5), admitted.Load())
}

func TestLimiter_StoreDown(t *testing.T) {
	t.Run("fail closed by default", func(t *testing.T) {
		mr, store := testutil.NewStore(t)
		l := New(store, Config{Limit: 5, Window: time.Minute}, WithLogger(zerolog.Nop()))
		mr.Close()

		d, err := l.Allow(context.Background(), "u1")
		assert.Error(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("fail open when configured", func(t *testing.T) {
		mr, store := testutil.NewStore(t)
		l := New(store, Config{Limit: 5, Window: time.Minute, FailOpen: true}, WithLogger(zerolog.Nop()))
		mr.Close()

		d, err := l.Allow(context.Background(), "u1")
		assert.Error(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestLimiter_StatusDoesNotCount(t *testing.T) {
	_, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(1_700_000_040, 0)}
	l := New(store, Config{Limit: 2, Window: time.Minute}, WithClock(clock), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	_, err := l.Allow(ctx, "u1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s, err := l.Status(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), s.Count)
		assert.True(t, s.Allowed)
		assert.Equal(t, 1, s.Remaining)
	}

	_, _ = l.Allow(ctx, "u1")
	s, err := l.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, s.Allowed)
	assert.Equal(t, time.Minute, s.RetryAfter)
}

func TestLimiter_StatusAtLimitReportsRemainingWindow(t *testing.T) {
	_, store := testutil.NewStore(t)
	clock := &fakeClock{now: time.Unix(1_700_000_040, 0)}
	l := New(store, Config{Limit: 1, Window: time.Minute}, WithClock(clock), WithLogger(zerolog.Nop()))
	ctx := context.Background()

	d, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(20 * time.Second)
	s, err := l.Status(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, s.Allowed)
	assert.Equal(t, int64(1), s.Count)
	assert.Equal(t, 40*time.Second, s.RetryAfter)

	clock.Advance(40 * time.Second)
	s, err = l.Status(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, s.Allowed)
	assert.Zero(t, s.RetryAfter)
}
