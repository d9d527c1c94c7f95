// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/plexcord/internal/model"
)

var errLeaseLost = fmt.Errorf("channel lock lease lost: %w", model.ErrChannelBusy)

// leaseKeeper refreshes a channel lock from the moment it is acquired until
// the playback it guards ends. onLost is swapped when the lock is handed from
// the start path to the running playback.
type leaseKeeper struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	lost   bool
	onLost func()
}

// keepLease starts refreshing token's lease on channelID.
func (o *Orchestrator) keepLease(channelID, token string, onLost func()) (*leaseKeeper, error) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	k := &leaseKeeper{cancel: cancel, onLost: onLost}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		cancel()
		return nil, errShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		_ = o.deps.Locks.KeepAlive(ctx, channelID, token, o.cfg.LockLease, o.cfg.RefreshInterval, k.fire)
	}()
	return k, nil
}

func (k *leaseKeeper) fire() {
	k.mu.Lock()
	k.lost = true
	f := k.onLost
	k.mu.Unlock()
	if f != nil {
		f()
	}
}

// handOff installs the callback of the running playback. It reports false
// when the lease was already lost.
func (k *leaseKeeper) handOff(onLost func()) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.lost {
		return false
	}
	k.onLost = onLost
	return true
}

func (k *leaseKeeper) isLost() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lost
}

func (k *leaseKeeper) stop() { k.cancel() }
