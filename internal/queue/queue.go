// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
	"github.com/ManuGH/plexcord/internal/model"
)

const (
	queuePrefix = "queue:channel:"
	statsPrefix = "queue:stats:"
)

// Stats summarizes one channel queue.
type Stats struct {
	ChannelID      string                 `json:"channel_id"`
	Pending        int                    `json:"pending"`
	Lanes          map[model.Priority]int `json:"lanes"`
	TotalItems     int64                  `json:"total_items"`
	ProcessedItems int64                  `json:"processed_items"`
	ExpiredItems   int64                  `json:"expired_items"`
}

func laneKey(channelID string, p model.Priority) string {
	return queuePrefix + channelID + ":" + string(p)
}

// scriptKeys returns the lane keys in dequeue order followed by the stats key.
func scriptKeys(channelID string) []string {
	keys := make([]string, 0, len(model.Priorities)+1)
	for _, p := range model.Priorities {
		keys = append(keys, laneKey(channelID, p))
	}
	return append(keys, statsPrefix+channelID)
}

func laneIndex(p model.Priority) int {
	for i, lane := range model.Priorities {
		if lane == p.Normalize() {
			return i + 1
		}
	}
	return 0
}

func encodeEntry(req model.PlaybackRequest, addedAt time.Time) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(addedAt.UnixMilli(), 10) + "|" + string(data), nil
}

func decodeEntry(raw string) (model.PlaybackRequest, time.Time, error) {
	var req model.PlaybackRequest
	stamp, data, ok := strings.Cut(raw, "|")
	if !ok {
		return req, time.Time{}, fmt.Errorf("queue entry has no timestamp")
	}
	ms, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return req, time.Time{}, fmt.Errorf("queue entry timestamp: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return req, time.Time{}, err
	}
	return req, time.UnixMilli(ms), nil
}

// Enqueue appends req to the lane of its priority and returns its 1-based
// position among the channel's pending requests.
func (m *Manager) Enqueue(ctx context.Context, req model.PlaybackRequest) (int, error) {
	if req.TargetChannelID == "" {
		return 0, fmt.Errorf("enqueue: target channel is required")
	}
	lane := laneIndex(req.Priority)
	if lane == 0 {
		return 0, fmt.Errorf("enqueue: unknown priority %q", req.Priority)
	}
	entry, err := encodeEntry(req, m.now())
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	res, err := m.store.Eval(ctx, enqueueScript, scriptKeys(req.TargetChannelID),
		lane, entry, m.cfg.MaxLength, m.now().UnixMilli(), m.cfg.MaxAge.Milliseconds())
	if err != nil {
		metrics.RecordQueueOperation("enqueue", "error")
		return 0, fmt.Errorf("enqueue channel %s: %w", req.TargetChannelID, err)
	}
	pos, err := replyInt(res)
	if err != nil {
		metrics.RecordQueueOperation("enqueue", "error")
		return 0, err
	}
	if pos < 0 {
		metrics.RecordQueueOperation("enqueue", "full")
		return 0, model.ErrQueueFull
	}
	metrics.RecordQueueOperation("enqueue", "ok")
	return int(pos), nil
}

// Next pops the oldest request of the highest non-empty lane. Expired and
// undecodable entries are dropped.
func (m *Manager) Next(ctx context.Context, channelID string) (model.PlaybackRequest, error) {
	for {
		res, err := m.store.Eval(ctx, nextScript, scriptKeys(channelID),
			m.now().UnixMilli(), m.cfg.MaxAge.Milliseconds())
		if errors.Is(err, redis.Nil) {
			return model.PlaybackRequest{}, model.ErrQueueEmpty
		}
		if err != nil {
			metrics.RecordQueueOperation("next", "error")
			return model.PlaybackRequest{}, fmt.Errorf("next channel %s: %w", channelID, err)
		}
		raw, _ := res.(string)
		req, _, err := decodeEntry(raw)
		if err != nil {
			m.logger.Warn().Err(err).Str(xglog.FieldChannelID, channelID).Msg("dropping corrupt queue entry")
			metrics.RecordQueueOperation("next", "corrupt")
			continue
		}
		metrics.RecordQueueOperation("next", "ok")
		return req, nil
	}
}

// Pending lists the live queued requests for the channel in dequeue order.
func (m *Manager) Pending(ctx context.Context, channelID string) ([]model.PlaybackRequest, error) {
	res, err := m.store.Eval(ctx, snapshotScript, scriptKeys(channelID))
	if err != nil {
		return nil, err
	}
	raws, err := replyStrings(res)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := make([]model.PlaybackRequest, 0, len(raws))
	for _, raw := range raws {
		req, addedAt, err := decodeEntry(raw)
		if err != nil || m.expired(addedAt, now) {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (m *Manager) expired(addedAt, now time.Time) bool {
	return m.cfg.MaxAge > 0 && now.Sub(addedAt) >= m.cfg.MaxAge
}

// Length returns the number of live queued requests for the channel.
func (m *Manager) Length(ctx context.Context, channelID string) (int, error) {
	pending, err := m.Pending(ctx, channelID)
	return len(pending), err
}

// Stats reports the pending requests per lane and the lifetime counters.
func (m *Manager) Stats(ctx context.Context, channelID string) (Stats, error) {
	st := Stats{ChannelID: channelID, Lanes: make(map[model.Priority]int, len(model.Priorities))}
	pending, err := m.Pending(ctx, channelID)
	if err != nil {
		return st, err
	}
	for _, p := range model.Priorities {
		st.Lanes[p] = 0
	}
	for _, req := range pending {
		st.Lanes[req.Priority.Normalize()]++
	}
	st.Pending = len(pending)

	fields, err := m.store.HGetAll(ctx, statsPrefix+channelID)
	if err != nil {
		return st, err
	}
	st.TotalItems = parseCounter(fields["total_items"])
	st.ProcessedItems = parseCounter(fields["processed_items"])
	st.ExpiredItems = parseCounter(fields["expired_items"])
	return st, nil
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Clear drops every queued request for the channel. Counters are kept.
func (m *Manager) Clear(ctx context.Context, channelID string) error {
	keys := scriptKeys(channelID)
	_, err := m.store.Delete(ctx, keys[:len(keys)-1]...)
	if err == nil {
		metrics.RecordQueueOperation("clear", "ok")
	}
	return err
}
