// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/plexcord/internal/ffmpeg"
	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/playback"
	"github.com/ManuGH/plexcord/internal/prefs"
	"github.com/ManuGH/plexcord/internal/queue"
)

// StatusResponse is the dashboard overview.
type StatusResponse struct {
	Timestamp time.Time                 `json:"timestamp"`
	Playbacks []playback.ActivePlayback `json:"playbacks"`
	Sessions  []model.StreamSession     `json:"sessions"`
	Breakers  []model.CircuitState      `json:"breakers"`
	Locks     []queue.LockInfo          `json:"locks"`
	Counters  ffmpeg.Stats              `json:"counters"`
	Errors    []string                  `json:"errors,omitempty"`
}

// PlaybackResponse is the reply to playback and queue commands.
type PlaybackResponse struct {
	Status            string               `json:"status"`
	ChannelID         string               `json:"channel_id"`
	SessionID         string               `json:"session_id,omitempty"`
	Media             *model.ResolvedMedia `json:"media,omitempty"`
	Position          int                  `json:"position,omitempty"`
	Reason            string               `json:"reason,omitempty"`
	Message           string               `json:"message,omitempty"`
	RetryAfterSeconds int                  `json:"retry_after_seconds,omitempty"`
}

// QueueResponse lists a channel's pending requests.
type QueueResponse struct {
	ChannelID string                  `json:"channel_id"`
	Pending   []model.PlaybackRequest `json:"pending"`
	Stats     *queue.Stats            `json:"stats,omitempty"`
}

// handleStatus reports a best-effort overview; failing sources are listed
// under errors instead of failing the request.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Timestamp: time.Now().UTC(),
		Playbacks: s.deps.Player.Active(),
		Sessions:  s.deps.Sessions.Sessions(),
		Counters:  s.deps.Sessions.Stats(),
	}
	var err error
	if resp.Breakers, err = s.deps.Breakers.Snapshots(ctx); err != nil {
		resp.Errors = append(resp.Errors, "breakers: "+err.Error())
	}
	if resp.Locks, err = s.deps.Queues.Locks(ctx); err != nil {
		resp.Errors = append(resp.Errors, "locks: "+err.Error())
	}
	if len(resp.Errors) > 0 {
		logger := xglog.WithComponentFromContext(ctx, "api")
		logger.Warn().Strs("errors", resp.Errors).Msg("status served partially")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.Sessions())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	states, err := s.deps.Breakers.Snapshots(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	d, err := s.deps.RateLimits.Status(r.Context(), subject)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	pending, err := s.deps.Queues.Pending(r.Context(), channelID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	resp := QueueResponse{ChannelID: channelID, Pending: pending}
	if st, err := s.deps.Queues.Stats(r.Context(), channelID); err == nil {
		resp.Stats = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	req.TargetChannelID = chi.URLParam(r, "channelID")
	if msg := validateRequest(req); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	pos, err := s.deps.Player.Enqueue(r.Context(), req)
	if err != nil {
		writeReason(w, err)
		return
	}
	if pos == 0 {
		writeJSON(w, http.StatusCreated, PlaybackResponse{Status: string(model.StatusStarted), ChannelID: req.TargetChannelID})
		return
	}
	writeJSON(w, http.StatusAccepted, PlaybackResponse{Status: "queued", ChannelID: req.TargetChannelID, Position: pos})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	if msg := validateRequest(req); msg != "" {
		writeBadRequest(w, msg)
		return
	}

	res := s.deps.Player.Play(r.Context(), req)
	resp := PlaybackResponse{
		Status:    string(res.Status),
		ChannelID: res.ChannelID,
		SessionID: res.SessionID,
		Media:     res.Media,
	}
	if res.Status == model.StatusStarted {
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	code := res.ReasonCode()
	resp.Reason = string(code)
	if res.Reason != nil && code != model.RInternal {
		resp.Message = res.Reason.Error()
	}
	resp.RetryAfterSeconds = retrySeconds(res.RetryAfter)
	setRetryAfter(w, res.RetryAfter)
	writeJSON(w, statusFor(code), resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Player.Stop(r.Context(), chi.URLParam(r, "channelID")); err != nil {
		writeReason(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Player.Skip(r.Context(), chi.URLParam(r, "channelID")); err != nil {
		writeReason(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Preferences.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writePreferencesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePreferencesPut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeBadRequest(w, "request body too large or unreadable")
		return
	}
	p, err := s.deps.Preferences.Update(r.Context(), chi.URLParam(r, "userID"), body)
	if err != nil {
		s.writePreferencesError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) writePreferencesError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prefs.ErrInvalidUser), errors.Is(err, prefs.ErrInvalidPatch):
		writeBadRequest(w, err.Error())
	default:
		s.logger.Error().Err(err).Msg("preferences store failed")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "preferences are unavailable")
	}
}

// decodeRequest reads a PlaybackRequest body, rejecting unknown fields.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (model.PlaybackRequest, bool) {
	var req model.PlaybackRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return req, false
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	return req, true
}

func validateRequest(req model.PlaybackRequest) string {
	switch {
	case strings.TrimSpace(req.RequesterID) == "":
		return "requester_id is required"
	case strings.TrimSpace(req.TargetChannelID) == "":
		return "target_channel_id is required"
	case req.Query == "":
		return "query is required"
	case !req.Priority.Valid():
		return "priority must be one of high, normal, low"
	}
	return ""
}
