// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package plex resolves free-text queries into playable media from a Plex server.
package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/telemetry"
)

const (
	product   = "plexcord"
	userAgent = "plexcord/1.0"

	defaultMaxResponseBytes = 8 << 20
)

// ErrResponseTooLarge is returned when a response body exceeds the configured cap.
var ErrResponseTooLarge = errors.New("plex response too large")

var tracer = telemetry.Tracer("github.com/ManuGH/plexcord/internal/plex")

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("plex %s: unexpected status code %d", e.Endpoint, e.Code)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// TransportError is returned when the server could not be reached or timed out.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string { return fmt.Sprintf("plex %s: %v", e.Endpoint, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
func (e *TransportError) Temporary() bool { return true }

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL  string
	Token    string
	ClientID string

	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// MaxResponseBytes caps a response body; zero selects 8 MiB.
	MaxResponseBytes int64
}

// Client talks to the Plex JSON API.
type Client struct {
	baseURL  string
	token    string
	clientID string
	maxBody  int64

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.httpClient = hc } }

// WithClientLogger sets the client logger.
func WithClientLogger(l zerolog.Logger) ClientOption { return func(c *Client) { c.logger = l } }

// NewClient creates a Plex API client. Per-request deadlines come from the
// caller's context.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		clientID:   cfg.ClientID,
		maxBody:    cfg.MaxResponseBytes,
		httpClient: &http.Client{},
		logger:     xglog.WithComponent("plex"),
	}
	if c.clientID == "" {
		c.clientID = product
	}
	if c.maxBody <= 0 {
		c.maxBody = defaultMaxResponseBytes
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest performs an authenticated GET and decodes the MediaContainer.
func (c *Client) doRequest(ctx context.Context, endpoint, path string, query url.Values) (mc *MediaContainer, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err == nil:
		case errors.Is(err, model.ErrAuthFailed):
			outcome = "auth_failed"
		case IsRetryable(err):
			outcome = "transient"
		default:
			outcome = "error"
		}
		metrics.ObservePlexRequest(endpoint, outcome, time.Since(start))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Endpoint: endpoint, Err: err}
		}
	}

	reqURL := c.baseURL + path
	if query != nil {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Product", product)
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug().Str("endpoint", endpoint).Str("path", path).Msg("plex request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		c.logger.Warn().Str("endpoint", endpoint).Int64("limit", c.maxBody).Msg("plex response exceeds size limit")
		return nil, fmt.Errorf("plex %s: %w", endpoint, ErrResponseTooLarge)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("plex %s: %w", endpoint, model.ErrAuthFailed)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("plex %s: %w", endpoint, model.ErrMediaNotFound)
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn().Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("plex request error")
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}

	var out APIResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("plex %s: failed to parse response: %w", endpoint, err)
	}
	return &out.MediaContainer, nil
}

// Search runs a library-wide search.
func (c *Client) Search(ctx context.Context, query string) ([]Metadata, error) {
	ctx, span := tracer.Start(ctx, "plex.Search")
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.PlexQueryKey, query))

	params := url.Values{}
	params.Set("query", query)
	mc, err := c.doRequest(ctx, "search", "/search", params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int(telemetry.PlexResultsKey, len(mc.Metadata)))
	return mc.Metadata, nil
}

// Metadata fetches the full metadata of one item.
func (c *Client) Metadata(ctx context.Context, ratingKey string) (*Metadata, error) {
	mc, err := c.doRequest(ctx, "metadata", "/library/metadata/"+url.PathEscape(ratingKey), nil)
	if err != nil {
		return nil, err
	}
	if len(mc.Metadata) == 0 {
		return nil, model.ErrMediaNotFound
	}
	return &mc.Metadata[0], nil
}

// Identity returns the server's machine identifier.
func (c *Client) Identity(ctx context.Context) (string, error) {
	mc, err := c.doRequest(ctx, "identity", "/identity", nil)
	if err != nil {
		return "", err
	}
	return mc.MachineIdentifier, nil
}

// StreamURL returns a direct-play URL for part, signed with the token.
func (c *Client) StreamURL(part Part) string {
	return fmt.Sprintf("%s%s?X-Plex-Token=%s", c.baseURL, part.Key, url.QueryEscape(c.token))
}
