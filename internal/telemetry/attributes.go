// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Stream attributes
	ChannelIDKey   = "channel.id"
	SessionIDKey   = "session.id"
	MediaIDKey     = "media.id"
	RequesterIDKey = "requester.id"

	// Playback attributes
	PlaybackStatusKey = "playback.status"
	PlaybackReasonKey = "playback.reason"

	// Media server attributes
	PlexQueryKey    = "plex.query"
	PlexResultsKey  = "plex.results"
	PlexCacheHitKey = "plex.cache_hit"
	PlexMediaIDKey  = "plex.media_id"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// StreamAttributes identifies a stream; empty values are omitted.
func StreamAttributes(channelID, sessionID, mediaID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if channelID != "" {
		attrs = append(attrs, attribute.String(ChannelIDKey, channelID))
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if mediaID != "" {
		attrs = append(attrs, attribute.String(MediaIDKey, mediaID))
	}
	return attrs
}

// PlaybackAttributes records how a playback request ended.
func PlaybackAttributes(status, reason string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(PlaybackStatusKey, status)}
	if reason != "" {
		attrs = append(attrs, attribute.String(PlaybackReasonKey, reason))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
