// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/plexcord/internal/api"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/platform/httpx"
	"github.com/ManuGH/plexcord/internal/queue"
)

// Client drives the plexcord HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpx.NewClient(timeout),
	}
}

// Outcome is one playback call as seen by the harness.
type Outcome struct {
	HTTPStatus int
	RetryAfter string
	Body       api.PlaybackResponse
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) (int, http.Header, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, resp.Header, fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, resp.Header, nil
}

// Ready reports whether /readyz answers 200.
func (c *Client) Ready(ctx context.Context) error {
	code, _, err := c.do(ctx, http.MethodGet, "/readyz", nil, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("readyz returned %d", code)
	}
	return nil
}

// Play submits an immediate playback request.
func (c *Client) Play(ctx context.Context, req model.PlaybackRequest) (Outcome, error) {
	var out Outcome
	code, hdr, err := c.do(ctx, http.MethodPost, "/api/v1/playback", req, &out.Body)
	out.HTTPStatus = code
	if hdr != nil {
		out.RetryAfter = hdr.Get("Retry-After")
	}
	return out, err
}

// Enqueue appends a request to a channel queue.
func (c *Client) Enqueue(ctx context.Context, req model.PlaybackRequest) (Outcome, error) {
	var out Outcome
	path := "/api/v1/queue/" + url.PathEscape(req.TargetChannelID)
	code, hdr, err := c.do(ctx, http.MethodPost, path, req, &out.Body)
	out.HTTPStatus = code
	if hdr != nil {
		out.RetryAfter = hdr.Get("Retry-After")
	}
	return out, err
}

// Pending lists a channel queue.
func (c *Client) Pending(ctx context.Context, channelID string) ([]model.PlaybackRequest, error) {
	var out api.QueueResponse
	code, _, err := c.do(ctx, http.MethodGet, "/api/v1/queue/"+url.PathEscape(channelID), nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("queue list returned %d", code)
	}
	return out.Pending, nil
}

// Sessions lists the local streaming sessions.
func (c *Client) Sessions(ctx context.Context) ([]model.StreamSession, error) {
	var out []model.StreamSession
	code, _, err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("sessions returned %d", code)
	}
	return out, nil
}

// Locks lists the channel locks from the status snapshot.
func (c *Client) Locks(ctx context.Context) ([]queue.LockInfo, error) {
	var out api.StatusResponse
	if _, _, err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out.Locks, nil
}

// Stop ends playback on a channel. A missing session is not an error.
func (c *Client) Stop(ctx context.Context, channelID string) error {
	code, _, err := c.do(ctx, http.MethodDelete, "/api/v1/playback/"+url.PathEscape(channelID), nil, nil)
	if err != nil {
		return err
	}
	if code >= 400 && code != http.StatusNotFound {
		return fmt.Errorf("stop %s returned %d", channelID, code)
	}
	return nil
}
