// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"time"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
	"github.com/ManuGH/plexcord/internal/model"
)

// Enqueue appends req to its channel queue. When no playback of this instance
// holds the channel the head of the queue is started right away; position 0
// means req is now playing. A request that was started immediately and failed
// returns its failure.
func (o *Orchestrator) Enqueue(ctx context.Context, req model.PlaybackRequest) (int, error) {
	if req.TargetChannelID == "" {
		return 0, errors.New("target channel is required")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	if err := o.admit(ctx, req); err != nil {
		return 0, err
	}

	pos, err := o.deps.Locks.Enqueue(ctx, req)
	if err != nil {
		return 0, err
	}
	o.logger.Debug().
		Str(xglog.FieldChannelID, req.TargetChannelID).
		Str(xglog.FieldRequesterID, req.RequesterID).
		Int("position", pos).
		Msg("request queued")

	if o.isActive(req.TargetChannelID) {
		return pos, nil
	}

	head, res, popped := o.dispatchOne(ctx, req.TargetChannelID)
	switch {
	case !popped:
		return pos, nil // channel held elsewhere, the holder advances the queue
	case sameRequest(head, req):
		if res.Status == model.StatusStarted {
			return 0, nil
		}
		o.advance(req.TargetChannelID)
		return 0, res.Reason
	default:
		o.reportQueued(head, res)
		if res.Status != model.StatusStarted {
			o.advance(req.TargetChannelID)
		}
		return max(pos-1, 1), nil
	}
}

func (o *Orchestrator) isActive(channelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[channelID]
	return ok
}

// dispatchOne takes the channel lock and starts the oldest queued request.
// popped is false when the lock is held or the queue is empty.
func (o *Orchestrator) dispatchOne(ctx context.Context, channelID string) (model.PlaybackRequest, model.PlaybackResult, bool) {
	token, _, ok := o.acquire(ctx, channelID)
	if !ok {
		return model.PlaybackRequest{}, model.PlaybackResult{}, false
	}
	req, err := o.deps.Locks.Next(ctx, channelID)
	if err != nil {
		o.release(ctx, channelID, token)
		if !errors.Is(err, model.ErrQueueEmpty) {
			o.logger.Warn().Err(err).Str(xglog.FieldChannelID, channelID).Msg("failed to read channel queue")
		}
		return model.PlaybackRequest{}, model.PlaybackResult{}, false
	}
	res := o.run(ctx, req, token)
	metrics.RecordPlaybackResult(string(res.Status), string(res.ReasonCode()))
	return req, res, true
}

// advance starts queued requests for channelID in the background until one
// plays or the queue is drained.
func (o *Orchestrator) advance(channelID string) {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		for {
			req, res, popped := o.dispatchOne(o.baseCtx, channelID)
			if !popped {
				return
			}
			o.reportQueued(req, res)
			if res.Status == model.StatusStarted {
				return
			}
		}
	}()
}

func (o *Orchestrator) reportQueued(req model.PlaybackRequest, res model.PlaybackResult) {
	ev := o.logger.Info()
	if res.Status != model.StatusStarted {
		ev = o.logger.Warn().AnErr("reason", res.Reason)
	}
	ev.Str(xglog.FieldChannelID, req.TargetChannelID).
		Str(xglog.FieldRequesterID, req.RequesterID).
		Str(xglog.FieldQuery, req.Query).
		Str("status", string(res.Status)).
		Msg("queued request dispatched")
	if o.queueHook != nil {
		o.queueHook(req, res)
	}
}

func sameRequest(a, b model.PlaybackRequest) bool {
	return a.RequesterID == b.RequesterID &&
		a.TargetChannelID == b.TargetChannelID &&
		a.Query == b.Query &&
		a.Priority.Normalize() == b.Priority.Normalize() &&
		a.RequestedAt.Equal(b.RequestedAt)
}
