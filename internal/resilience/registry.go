// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/plexcord/internal/model"
)

// Registry holds every breaker of the process by name.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker)}
}

// Register adds cb, replacing any breaker with the same name.
func (r *Registry) Register(cb *CircuitBreaker) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.Name()] = cb
	return cb
}

// Get returns the named breaker.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// All returns the registered breakers sorted by name.
func (r *Registry) All() []*CircuitBreaker {
	r.mu.RLock()
	out := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Snapshots reads the shared state of every breaker. The first store error
// is returned alongside whatever could be read.
func (r *Registry) Snapshots(ctx context.Context) ([]model.CircuitState, error) {
	var firstErr error
	all := r.All()
	out := make([]model.CircuitState, 0, len(all))
	for _, cb := range all {
		st, err := cb.Snapshot(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		out = append(out, st)
	}
	return out, firstErr
}
