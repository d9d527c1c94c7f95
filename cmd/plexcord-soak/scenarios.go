// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/plexcord/internal/model"
)

type recorder struct {
	mu  sync.Mutex
	res ScenarioResult
}

func newRecorder(name string) *recorder {
	return &recorder{res: ScenarioResult{Name: name, Observations: map[string]int64{}}}
}

func (r *recorder) observe(key string) {
	r.mu.Lock()
	r.res.Observations[key]++
	r.mu.Unlock()
}

func (r *recorder) fail(rule, format string, args ...any) {
	r.mu.Lock()
	r.res.Failures = append(r.res.Failures, Failure{Time: time.Now(), Rule: rule, Message: fmt.Sprintf(format, args...)})
	r.mu.Unlock()
}

func (r *recorder) result() ScenarioResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.Pass = len(r.res.Failures) == 0
	return r.res
}

func newChannel(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func request(requester, channel, query string) model.PlaybackRequest {
	return model.PlaybackRequest{
		RequesterID:     requester,
		TargetChannelID: channel,
		Query:           query,
		RequestedAt:     time.Now().UTC(),
	}
}

// classify records an outcome and flags responses no client should ever see.
func classify(rec *recorder, o Outcome) {
	switch {
	case o.HTTPStatus == http.StatusCreated:
		rec.observe("started")
	case o.HTTPStatus == http.StatusAccepted:
		rec.observe("queued")
	case o.Body.Reason != "":
		rec.observe(o.Body.Reason)
	default:
		rec.observe("http_" + strconv.Itoa(o.HTTPStatus))
	}
	if o.HTTPStatus == http.StatusInternalServerError {
		rec.fail("no-internal-errors", "internal error on channel %s", o.Body.ChannelID)
	}
	if o.HTTPStatus == http.StatusTooManyRequests && o.RetryAfter == "" {
		rec.fail("retry-after", "rate limited response without Retry-After")
	}
}

func runConnectivity(ctx context.Context, c *Client) ScenarioResult {
	rec := newRecorder("connectivity")
	if err := c.Ready(ctx); err != nil {
		rec.fail("ready", "%v", err)
	} else {
		rec.observe("ready")
	}
	return rec.result()
}

// runContention fires concurrent plays at one channel. At most one may start
// and the channel may never carry more than one local session.
func runContention(ctx context.Context, c *Client, cfg Config) ScenarioResult {
	rec := newRecorder("contention")

	for round := 0; round < cfg.Rounds; round++ {
		channel := newChannel("soak-contention")
		var started int64
		var mu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < cfg.Concurrency; i++ {
			requester := fmt.Sprintf("soak-user-%d-%d", round, i)
			g.Go(func() error {
				o, err := c.Play(gctx, request(requester, channel, cfg.Query))
				if err != nil {
					rec.fail("transport", "%v", err)
					return nil
				}
				classify(rec, o)
				if o.HTTPStatus == http.StatusCreated {
					mu.Lock()
					started++
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		if started > 1 {
			rec.fail("single-owner", "%d requests started on %s", started, channel)
		}

		sessions, err := c.Sessions(ctx)
		if err != nil {
			rec.fail("transport", "%v", err)
		} else {
			n := 0
			for _, s := range sessions {
				if s.ChannelID == channel {
					n++
				}
			}
			if n > 1 {
				rec.fail("single-session", "%d sessions on %s", n, channel)
			}
		}

		if err := c.Stop(ctx, channel); err != nil {
			rec.fail("cleanup", "%v", err)
		}
	}
	return rec.result()
}

// runRateLimit sends one more request than the limit allows from a single
// requester, each to its own channel.
func runRateLimit(ctx context.Context, c *Client, cfg Config) ScenarioResult {
	rec := newRecorder("ratelimit")
	requester := "soak-ratelimit-" + uuid.NewString()[:8]

	var channels []string
	limited := false
	for i := 0; i <= cfg.RateLimit; i++ {
		channel := newChannel("soak-ratelimit")
		channels = append(channels, channel)
		o, err := c.Play(ctx, request(requester, channel, cfg.Query))
		if err != nil {
			rec.fail("transport", "%v", err)
			continue
		}
		classify(rec, o)
		if o.HTTPStatus == http.StatusTooManyRequests {
			limited = true
			if i < cfg.RateLimit {
				rec.fail("limit", "limited after %d requests, limit is %d", i, cfg.RateLimit)
			}
		}
	}
	if !limited {
		rec.fail("limit", "request %d was not rate limited", cfg.RateLimit+1)
	}

	for _, ch := range channels {
		if err := c.Stop(ctx, ch); err != nil {
			rec.fail("cleanup", "%v", err)
		}
	}
	return rec.result()
}

// runQueueOrder enqueues several requests and checks they are stored in
// submission order with increasing positions.
func runQueueOrder(ctx context.Context, c *Client, cfg Config) ScenarioResult {
	rec := newRecorder("queue")
	channel := newChannel("soak-queue")

	var queued []string
	last := -1
	for i := 0; i < cfg.QueueDepth; i++ {
		// Distinct requesters keep the rate limiter out of the picture.
		requester := fmt.Sprintf("soak-queue-%d-%s", i, uuid.NewString()[:4])
		o, err := c.Enqueue(ctx, request(requester, channel, cfg.Query))
		if err != nil {
			rec.fail("transport", "%v", err)
			continue
		}
		classify(rec, o)
		switch o.HTTPStatus {
		case http.StatusCreated:
			last = 0
		case http.StatusAccepted:
			if o.Body.Position <= last {
				rec.fail("fifo", "position %d after %d", o.Body.Position, last)
			}
			last = o.Body.Position
			queued = append(queued, requester)
		}
	}

	pending, err := c.Pending(ctx, channel)
	if err != nil {
		rec.fail("transport", "%v", err)
	} else {
		if len(pending) < len(queued) {
			rec.fail("fifo", "%d entries pending, %d were queued", len(pending), len(queued))
		}
		for i := 0; i < len(queued) && i < len(pending); i++ {
			if pending[i].RequesterID != queued[i] {
				rec.fail("fifo", "entry %d is %s, want %s", i, pending[i].RequesterID, queued[i])
			}
		}
	}

	if err := c.Stop(ctx, channel); err != nil {
		rec.fail("cleanup", "%v", err)
	}
	return rec.result()
}
