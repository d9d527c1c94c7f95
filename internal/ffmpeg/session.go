// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/model"
)

// Session is one supervised ffmpeg stream bound to an output channel.
// It is owned by the Manager; callers observe it through its accessors.
type Session struct {
	id        string
	channelID string
	mediaID   string
	uri       string
	startTime time.Time
	logger    zerolog.Logger
	ring      *LineRing

	mu         sync.Mutex
	state      model.SessionState
	pid        int
	restarts   int
	lastExit   *model.ExitStatus
	err        error
	exitReason string

	stopOnce    sync.Once
	stopCh      chan struct{}
	runningOnce sync.Once
	running     chan struct{}
	done        chan struct{}
}

func newSession(id, channelID, mediaID, uri string, logger zerolog.Logger) *Session {
	return &Session{
		id:        id,
		channelID: channelID,
		mediaID:   mediaID,
		uri:       uri,
		startTime: time.Now(),
		logger: logger.With().
			Str(xglog.FieldSessionID, id).
			Str(xglog.FieldChannelID, channelID).
			Str(xglog.FieldMediaID, mediaID).
			Logger(),
		ring:    NewLineRing(64),
		state:   model.SessionStarting,
		stopCh:  make(chan struct{}),
		running: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) ChannelID() string { return s.channelID }
func (s *Session) MediaID() string   { return s.mediaID }

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reached STOPPED or FAILED and released its
// process.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal failure, nil for sessions that stopped normally.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ExitReason returns why the session ended: finished, stopped, failed or
// startup_timeout. Empty until the session ends or a stop is requested.
func (s *Session) ExitReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitReason
}

// Stderr returns the most recent stderr lines of the current or last run.
func (s *Session) Stderr(n int) []string { return s.ring.LastN(n) }

// Snapshot returns a copy of the session's observable fields.
func (s *Session) Snapshot() model.StreamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := model.StreamSession{
		SessionID:    s.id,
		ChannelID:    s.channelID,
		MediaID:      s.mediaID,
		PID:          s.pid,
		State:        s.state,
		StartTime:    s.startTime,
		RestartCount: s.restarts,
	}
	if s.lastExit != nil {
		exit := *s.lastExit
		snap.LastExit = &exit
	}
	return snap
}

func (s *Session) setState(to model.SessionState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	ev := s.logger.Info()
	if to == model.SessionFailed {
		ev = s.logger.Warn()
	}
	ev.Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Msg("session state changed")
}

func (s *Session) markRunning() {
	s.setState(model.SessionRunning)
	s.runningOnce.Do(func() { close(s.running) })
}

func (s *Session) setPID(pid int) {
	s.mu.Lock()
	s.pid = pid
	s.mu.Unlock()
}

func (s *Session) recordExit(st model.ExitStatus) {
	s.mu.Lock()
	s.lastExit = &st
	s.mu.Unlock()
}

func (s *Session) incRestarts() {
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
}

func (s *Session) end(reason string, err error) {
	s.mu.Lock()
	if s.exitReason == "" {
		s.exitReason = reason
	}
	s.err = err
	s.mu.Unlock()
}

// requestStop asks the supervisor to stop the session. Only the first reason
// is kept.
func (s *Session) requestStop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.exitReason == "" {
			s.exitReason = reason
		}
		s.mu.Unlock()
		close(s.stopCh)
	})
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}
