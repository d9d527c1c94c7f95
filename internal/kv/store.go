// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package kv is the shared key-value store client. Every mutation is a single
// Redis command or a Lua script, so callers never read-modify-write across
// round trips.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("kv: key not found")
)

// DefaultKeyPrefix namespaces every key written by this process.
const DefaultKeyPrefix = "plexcord:"

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // host:port
	Password string
	DB       int

	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	ConnectAttempts int           // default 3
	ConnectBackoff  time.Duration // default 1s
}

// Store wraps a go-redis client with key namespacing and metrics.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: xglog.WithComponent("kv"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open dials Redis and pings it, retrying a bounded number of times.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 3
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = time.Second
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
	})

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			logger.Info().
				Str("addr", cfg.Addr).
				Int("db", cfg.DB).
				Str("prefix", prefix).
				Msg("connected to Redis")
			return New(client, WithKeyPrefix(prefix), WithLogger(logger)), nil
		}

		logger.Warn().Err(lastErr).
			Int(xglog.FieldAttempt, attempt).
			Int("max_attempts", cfg.ConnectAttempts).
			Msg("redis connection attempt failed")

		if attempt == cfg.ConnectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectBackoff):
		}
	}

	_ = client.Close()
	return nil, fmt.Errorf("redis connection failed after %d attempts: %w", cfg.ConnectAttempts, lastErr)
}

// Key returns the namespaced form of key.
func (s *Store) Key(key string) string {
	return s.prefix + key
}

func (s *Store) strip(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

func (s *Store) observe(op string, start time.Time, err error) {
	failed := err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, ErrNotFound)
	metrics.ObserveKVOperation(op, time.Since(start), failed)
	if failed {
		s.logger.Debug().Err(err).Str("op", op).Msg("kv operation failed")
	}
}

// Ping checks that the store answers.
func (s *Store) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Get returns the value of key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (val string, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	val, err = s.client.Get(ctx, s.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// Set stores value under key. A zero ttl stores without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	defer func(start time.Time) { s.observe("set", start, err) }(time.Now())
	return s.client.Set(ctx, s.Key(key), value, ttl).Err()
}

// Delete removes keys and returns how many existed.
func (s *Store) Delete(ctx context.Context, keys ...string) (n int64, err error) {
	defer func(start time.Time) { s.observe("del", start, err) }(time.Now())
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.Key(k)
	}
	return s.client.Del(ctx, full...).Result()
}

// SetNX sets key to value with ttl only if key does not exist.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (ok bool, err error) {
	defer func(start time.Time) { s.observe("setnx", start, err) }(time.Now())
	return s.client.SetNX(ctx, s.Key(key), value, ttl).Result()
}

// CompareAndDelete deletes key only if it currently holds expected.
func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (ok bool, err error) {
	defer func(start time.Time) { s.observe("compare_delete", start, err) }(time.Now())
	n, err := compareAndDeleteScript.Run(ctx, s.client, []string{s.Key(key)}, expected).Int64()
	return n == 1, err
}

// CompareAndExpire resets the ttl of key only if it currently holds expected.
func (s *Store) CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (ok bool, err error) {
	defer func(start time.Time) { s.observe("compare_expire", start, err) }(time.Now())
	n, err := compareAndExpireScript.Run(ctx, s.client, []string{s.Key(key)}, expected, ttl.Milliseconds()).Int64()
	return n == 1, err
}

// IncrWithExpire increments key and sets ttl on the first increment.
func (s *Store) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (n int64, err error) {
	defer func(start time.Time) { s.observe("incr_expire", start, err) }(time.Now())
	return incrWithExpireScript.Run(ctx, s.client, []string{s.Key(key)}, ttl.Milliseconds()).Int64()
}

// GetInt returns the integer value of key, zero when absent.
func (s *Store) GetInt(ctx context.Context, key string) (n int64, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	n, err = s.client.Get(ctx, s.Key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// TTL returns the remaining lifetime of key. Zero means no expiry.
func (s *Store) TTL(ctx context.Context, key string) (d time.Duration, err error) {
	defer func(start time.Time) { s.observe("pttl", start, err) }(time.Now())
	d, err = s.client.PTTL(ctx, s.Key(key)).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -2:
		return 0, ErrNotFound
	case -1:
		return 0, nil
	}
	return d, nil
}

// HGetAll returns all fields of the hash at key.
func (s *Store) HGetAll(ctx context.Context, key string) (m map[string]string, err error) {
	defer func(start time.Time) { s.observe("hgetall", start, err) }(time.Now())
	return s.client.HGetAll(ctx, s.Key(key)).Result()
}

// Eval runs script against keys, which are namespaced before execution.
func (s *Store) Eval(ctx context.Context, script *redis.Script, keys []string, args ...any) (res any, err error) {
	defer func(start time.Time) { s.observe("eval", start, err) }(time.Now())
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.Key(k)
	}
	return script.Run(ctx, s.client, full, args...).Result()
}

// ScanKeys returns every key matching pattern, without the namespace.
func (s *Store) ScanKeys(ctx context.Context, pattern string) (keys []string, err error) {
	defer func(start time.Time) { s.observe("scan", start, err) }(time.Now())
	iter := s.client.Scan(ctx, 0, s.Key(pattern), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, s.strip(iter.Val()))
	}
	return keys, iter.Err()
}
