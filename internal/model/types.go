// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the data types shared by the playback pipeline.
package model

import "time"

// PlaybackRequest is a single user command to stream a title into a channel.
// It is consumed exactly once by the orchestrator.
type PlaybackRequest struct {
	RequesterID     string    `json:"requester_id"`
	GuildID         string    `json:"guild_id,omitempty"`
	TargetChannelID string    `json:"target_channel_id"`
	Query           string    `json:"query"`
	Priority        Priority  `json:"priority,omitempty"`
	RequestedAt     time.Time `json:"requested_at"`
}

// Priority orders queued requests of one channel. The empty value is normal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities lists the lanes in dequeue order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// Normalize maps the empty value to PriorityNormal.
func (p Priority) Normalize() Priority {
	if p == "" {
		return PriorityNormal
	}
	return p
}

// Valid reports whether p names a lane. The empty value is valid.
func (p Priority) Valid() bool {
	switch p {
	case "", PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// ResolvedMedia is the result of resolving a query against the media server.
type ResolvedMedia struct {
	MediaID         string    `json:"media_id"`
	RatingKey       string    `json:"rating_key"`
	Title           string    `json:"title"`
	Year            int       `json:"year,omitempty"`
	Type            string    `json:"type,omitempty"`
	DurationSeconds int64     `json:"duration_seconds,omitempty"`
	StreamURI       string    `json:"-"`
	ResolvedAt      time.Time `json:"resolved_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// SessionState is the lifecycle of a single FFmpeg stream session.
type SessionState string

const (
	SessionStarting   SessionState = "STARTING"
	SessionRunning    SessionState = "RUNNING"
	SessionStopping   SessionState = "STOPPING"
	SessionStopped    SessionState = "STOPPED"
	SessionFailed     SessionState = "FAILED"
	SessionRestarting SessionState = "RESTARTING"
)

// IsTerminal returns true if the state is a final state.
//
// FAILED is only terminal once the supervisor has given up; while a restart is
// pending the session reports RESTARTING.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStopped, SessionFailed:
		return true
	}
	return false
}

// ExitStatus describes how one FFmpeg run ended.
type ExitStatus struct {
	Code      int       `json:"code"`
	Class     string    `json:"class,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// StreamSession is a point-in-time snapshot of a live session.
type StreamSession struct {
	SessionID    string       `json:"session_id"`
	ChannelID    string       `json:"channel_id"`
	MediaID      string       `json:"media_id"`
	PID          int          `json:"pid"`
	State        SessionState `json:"state"`
	StartTime    time.Time    `json:"start_time"`
	RestartCount int          `json:"restart_count"`
	LastExit     *ExitStatus  `json:"last_exit,omitempty"`
}

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitState is the shared view of one dependency's breaker.
type CircuitState struct {
	Name     string       `json:"name"`
	State    BreakerState `json:"state"`
	Failures int          `json:"failures"`
	OpenedAt time.Time    `json:"opened_at,omitempty"`
}

// PlaybackStatus is the coarse outcome of a playback request.
type PlaybackStatus string

const (
	StatusStarted  PlaybackStatus = "started"
	StatusRejected PlaybackStatus = "rejected"
	StatusFailed   PlaybackStatus = "failed"
)

// PlaybackResult is returned to the chat and API front ends.
type PlaybackResult struct {
	Status     PlaybackStatus `json:"status"`
	SessionID  string         `json:"session_id,omitempty"`
	ChannelID  string         `json:"channel_id"`
	Media      *ResolvedMedia `json:"media,omitempty"`
	Reason     error          `json:"-"`
	RetryAfter time.Duration  `json:"-"`
}

// Started builds a successful result.
func Started(channelID, sessionID string, media ResolvedMedia) PlaybackResult {
	return PlaybackResult{Status: StatusStarted, ChannelID: channelID, SessionID: sessionID, Media: &media}
}

// Rejected builds a result for a request refused before any work started.
func Rejected(channelID string, reason error) PlaybackResult {
	res := PlaybackResult{Status: StatusRejected, ChannelID: channelID, Reason: reason}
	res.RetryAfter = RetryAfterOf(reason)
	return res
}

// Failed builds a result for a request that failed after admission.
func Failed(channelID string, reason error) PlaybackResult {
	res := PlaybackResult{Status: StatusFailed, ChannelID: channelID, Reason: reason}
	res.RetryAfter = RetryAfterOf(reason)
	return res
}

// ReasonCode returns the compact reason for the result, empty when started.
func (r PlaybackResult) ReasonCode() ReasonCode {
	if r.Reason == nil {
		return ""
	}
	return ReasonFor(r.Reason)
}
