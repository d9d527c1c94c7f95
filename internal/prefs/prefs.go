// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package prefs stores per-user dashboard preferences in the shared store.
package prefs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/plexcord/internal/cache"
	"github.com/ManuGH/plexcord/internal/kv"
	xglog "github.com/ManuGH/plexcord/internal/log"
)

const keyPrefix = "prefs:"

// ErrInvalidUser is returned for an empty user id.
var ErrInvalidUser = errors.New("user id is required")

// ErrInvalidPatch is returned by Update for a malformed or unknown-field patch.
var ErrInvalidPatch = errors.New("invalid preferences patch")

// Preferences is the stored document. Unknown map entries are preserved.
type Preferences struct {
	UserID        string          `json:"user_id"`
	Theme         string          `json:"theme"`
	Layout        map[string]any  `json:"layout,omitempty"`
	Widgets       map[string]bool `json:"widgets,omitempty"`
	Notifications map[string]bool `json:"notifications,omitempty"`
	Playback      map[string]any  `json:"playback,omitempty"`
}

// Defaults returns the document served before a user saved anything.
func Defaults(userID string) Preferences {
	return Preferences{UserID: userID, Theme: "default"}
}

// Store is the subset of the KV client used here.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Manager reads and writes preferences with a short-lived local cache.
type Manager struct {
	store  Store
	cache  *cache.Cache[Preferences]
	ttl    time.Duration
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCacheTTL bounds how stale a cached document may be. Zero disables caching.
func WithCacheTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.logger = l } }

// New creates a Manager.
func New(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ttl:    30 * time.Second,
		logger: xglog.WithComponent("prefs"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = cache.New[Preferences]()
	return m
}

// Close stops the cache janitor.
func (m *Manager) Close() { m.cache.Stop() }

func key(userID string) string { return keyPrefix + userID }

// Get returns the user's preferences, or the defaults when none are stored.
func (m *Manager) Get(ctx context.Context, userID string) (Preferences, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Preferences{}, ErrInvalidUser
	}
	if p, ok := m.cache.Get(userID); ok {
		return p, nil
	}

	raw, err := m.store.Get(ctx, key(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return Defaults(userID), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("get preferences %s: %w", userID, err)
	}

	p := Defaults(userID)
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("stored preferences are corrupt, serving defaults")
		return Defaults(userID), nil
	}
	p.UserID = userID
	m.remember(p)
	return p, nil
}

// Save replaces the stored document.
func (m *Manager) Save(ctx context.Context, p Preferences) error {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return ErrInvalidUser
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := m.store.Set(ctx, key(p.UserID), string(data), 0); err != nil {
		m.cache.Delete(p.UserID)
		return fmt.Errorf("save preferences %s: %w", p.UserID, err)
	}
	m.remember(p)
	return nil
}

// Update merges a partial JSON document into the stored preferences. Fields
// absent from patch are kept; the user id cannot be changed.
func (m *Manager) Update(ctx context.Context, userID string, patch []byte) (Preferences, error) {
	cur, err := m.Get(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	// Decode onto a deep copy so a bad patch cannot touch the cached maps.
	base, err := json.Marshal(cur)
	if err != nil {
		return Preferences{}, fmt.Errorf("encode preferences: %w", err)
	}
	var p Preferences
	if err := json.Unmarshal(base, &p); err != nil {
		return Preferences{}, fmt.Errorf("copy preferences: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(patch))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Preferences{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	p.UserID = strings.TrimSpace(userID)
	if err := m.Save(ctx, p); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

func (m *Manager) remember(p Preferences) {
	if m.ttl > 0 {
		m.cache.Set(p.UserID, p, m.ttl)
	}
}
