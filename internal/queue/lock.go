// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue coordinates channel ownership across bot instances: a leased
// lock per output channel plus a bounded list of pending requests.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/plexcord/internal/kv"
	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
)

// ErrLockLost is returned by KeepAlive when the lease is no longer ours.
var ErrLockLost = errors.New("channel lock lost")

const lockPrefix = "lock:channel:"

// Store is the subset of the KV client used by the manager.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (any, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// Config tunes the manager.
type Config struct {
	MaxLength int           // pending requests per channel, across all lanes
	MaxAge    time.Duration // queued requests older than this are dropped, zero keeps them
}

// LockInfo describes a held channel lock.
type LockInfo struct {
	ChannelID string        `json:"channel_id"`
	Owner     string        `json:"owner"`
	TTL       time.Duration `json:"ttl"`
}

// Manager owns channel locks and channel queues.
type Manager struct {
	store  Store
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithClock sets the time source used to stamp and expire queued requests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// New creates a manager.
func New(store Store, cfg Config, opts ...Option) *Manager {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 50
	}
	m := &Manager{store: store, cfg: cfg, logger: xglog.WithComponent("queue"), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func lockKey(channelID string) string { return lockPrefix + channelID }

// Acquire takes the channel lock for owner with the given lease.
// It returns false when another owner holds it.
func (m *Manager) Acquire(ctx context.Context, channelID, owner string, lease time.Duration) (bool, error) {
	if channelID == "" || owner == "" {
		return false, fmt.Errorf("acquire: channel and owner are required")
	}
	ok, err := m.store.SetNX(ctx, lockKey(channelID), owner, lease)
	if err != nil {
		return false, fmt.Errorf("acquire channel %s: %w", channelID, err)
	}
	if ok {
		m.logger.Debug().Str(xglog.FieldChannelID, channelID).Str(xglog.FieldOwner, owner).Msg("channel lock acquired")
	}
	return ok, nil
}

// Release deletes the lock only if owner still holds it.
func (m *Manager) Release(ctx context.Context, channelID, owner string) (bool, error) {
	ok, err := m.store.CompareAndDelete(ctx, lockKey(channelID), owner)
	if err != nil {
		return false, fmt.Errorf("release channel %s: %w", channelID, err)
	}
	if ok {
		m.logger.Debug().Str(xglog.FieldChannelID, channelID).Str(xglog.FieldOwner, owner).Msg("channel lock released")
	}
	return ok, nil
}

// Refresh extends the lease only if owner still holds the lock.
func (m *Manager) Refresh(ctx context.Context, channelID, owner string, lease time.Duration) (bool, error) {
	ok, err := m.store.CompareAndExpire(ctx, lockKey(channelID), owner, lease)
	if err != nil {
		return false, fmt.Errorf("refresh channel %s: %w", channelID, err)
	}
	return ok, nil
}

// Holder returns the current owner of the channel and the remaining lease.
// An unheld channel returns an empty owner.
func (m *Manager) Holder(ctx context.Context, channelID string) (string, time.Duration, error) {
	owner, err := m.store.Get(ctx, lockKey(channelID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	ttl, err := m.store.TTL(ctx, lockKey(channelID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", 0, nil
	}
	return owner, ttl, err
}

// Locks lists every held channel lock.
func (m *Manager) Locks(ctx context.Context) ([]LockInfo, error) {
	keys, err := m.store.ScanKeys(ctx, lockPrefix+"*")
	if err != nil {
		return nil, err
	}
	out := make([]LockInfo, 0, len(keys))
	for _, k := range keys {
		id := strings.TrimPrefix(k, lockPrefix)
		owner, ttl, err := m.Holder(ctx, id)
		if err != nil {
			return nil, err
		}
		if owner == "" {
			continue // expired between scan and read
		}
		out = append(out, LockInfo{ChannelID: id, Owner: owner, TTL: ttl})
	}
	return out, nil
}

// KeepAlive refreshes the lease every interval until ctx is done.
// If the lock is taken over, or could not be refreshed for a whole lease,
// onLost is called once and ErrLockLost returned.
func (m *Manager) KeepAlive(ctx context.Context, channelID, owner string, lease, every time.Duration, onLost func()) error {
	if every <= 0 || every >= lease {
		every = lease / 3
	}
	logger := m.logger.With().Str(xglog.FieldChannelID, channelID).Str(xglog.FieldOwner, owner).Logger()

	t := time.NewTicker(every)
	defer t.Stop()
	lastOK := time.Now()

	lost := func() error {
		metrics.IncLockLost()
		if onLost != nil {
			onLost()
		}
		return ErrLockLost
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			ok, err := m.Refresh(ctx, channelID, owner, lease)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn().Err(err).Msg("lease renewal error")
				if time.Since(lastOK) >= lease {
					logger.Error().Msg("lease not renewed within its lifetime, giving up channel")
					return lost()
				}
				continue
			}
			if !ok {
				logger.Warn().Msg("channel lock lost, aborting")
				return lost()
			}
			lastOK = time.Now()
		}
	}
}
