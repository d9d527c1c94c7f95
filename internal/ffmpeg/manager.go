// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg supervises one ffmpeg process per output channel.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/metrics"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/procgroup"
	"github.com/ManuGH/plexcord/internal/telemetry"
)

const dependency = "ffmpeg"

// NoRestarts as Config.MaxRestarts fails a session on its first failed run.
const NoRestarts = -1

// ErrCapacity is returned by Start when MaxSessions streams are already live.
var ErrCapacity = errors.New("ffmpeg session limit reached")

var (
	errManagerClosed  = errors.New("process manager is shut down")
	errStartupTimeout = errors.New("ffmpeg did not become ready in time")
	errEarlyExit      = errors.New("ffmpeg exited before becoming ready")
)

var tracer = telemetry.Tracer("github.com/ManuGH/plexcord/internal/ffmpeg")

// Config controls how streams are encoded and supervised.
type Config struct {
	BinPath      string
	OutputFormat string
	Sink         string // may contain {channel}
	Width        int
	Height       int
	Preset       string // x264 preset or "copy"
	Quality      string // low|medium|high
	LogLevel     string

	MaxSessions      int // concurrent processes on this instance, zero is unlimited
	MaxRestarts      int // zero selects the default, NoRestarts disables restarts
	RestartBaseDelay time.Duration
	RestartMaxDelay  time.Duration
	StartupProbe     time.Duration // uptime after which a run counts as RUNNING
	StartupTimeout   time.Duration
	StopGrace        time.Duration // SIGTERM to SIGKILL
	StableAfter      time.Duration // uptime that resets the consecutive failure count
}

func (c Config) withDefaults() Config {
	if c.BinPath == "" {
		c.BinPath = "ffmpeg"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "mpegts"
	}
	if c.Sink == "" {
		c.Sink = "pipe:1"
	}
	if c.Preset == "" {
		c.Preset = "veryfast"
	}
	if c.Quality == "" {
		c.Quality = "medium"
	}
	if c.LogLevel == "" {
		c.LogLevel = "error"
	}
	switch {
	case c.MaxRestarts == 0:
		c.MaxRestarts = 3
	case c.MaxRestarts < 0:
		c.MaxRestarts = NoRestarts
	}
	if c.RestartBaseDelay <= 0 {
		c.RestartBaseDelay = time.Second
	}
	if c.RestartMaxDelay <= 0 {
		c.RestartMaxDelay = 30 * time.Second
	}
	if c.StartupProbe <= 0 {
		c.StartupProbe = 2 * time.Second
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 15 * time.Second
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 5 * time.Second
	}
	if c.StableAfter <= 0 {
		c.StableAfter = time.Minute
	}
	return c
}

// CommandFactory builds the command for one run. The supervisor owns the
// process lifetime, so the command must not be bound to a request context.
type CommandFactory func(bin string, args []string) *exec.Cmd

func defaultCommand(bin string, args []string) *exec.Cmd {
	return exec.Command(bin, args...) // #nosec G204
}

// Stats are process-local counters.
type Stats struct {
	Starts   int64 `json:"starts"`
	Restarts int64 `json:"restarts"`
	Failures int64 `json:"failures"`
	Active   int   `json:"active"`
}

// Manager owns every ffmpeg session of this instance.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
	newCmd CommandFactory

	mu        sync.Mutex
	sessions  map[string]*Session
	byChannel map[string]*Session
	closed    bool
	wg        sync.WaitGroup

	starts   atomic.Int64
	restarts atomic.Int64
	failures atomic.Int64
}

type Option func(*Manager)

// WithCommandFactory replaces exec.Command, mainly for tests.
func WithCommandFactory(f CommandFactory) Option {
	return func(m *Manager) { m.newCmd = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a process manager.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg.withDefaults(),
		logger:    xglog.WithComponent("ffmpeg"),
		newCmd:    defaultCommand,
		sessions:  make(map[string]*Session),
		byChannel: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Start launches a stream for channelID and blocks until it is RUNNING,
// failed, StartupTimeout elapsed or ctx is done. Every error is a
// *model.StreamingError and leaves nothing behind.
func (m *Manager) Start(ctx context.Context, channelID, mediaID, streamURI string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "ffmpeg.Start",
		trace.WithAttributes(telemetry.StreamAttributes(channelID, "", mediaID)...))
	defer span.End()

	s, err := m.register(channelID, mediaID, streamURI)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(telemetry.StreamAttributes("", s.id, "")...)

	go m.supervise(s)

	timer := time.NewTimer(m.cfg.StartupTimeout)
	defer timer.Stop()

	select {
	case <-s.running:
		return s, nil
	case <-s.done:
		select {
		case <-s.running:
			return s, nil
		default:
		}
		cause := s.Err()
		if cause == nil {
			cause = errEarlyExit
		}
		err = model.NewStreamingError(dependency, "start", cause)
	case <-timer.C:
		s.requestStop("startup_timeout")
		<-s.done
		err = model.NewStreamingError(dependency, "start", errStartupTimeout)
	case <-ctx.Done():
		s.requestStop("stopped")
		<-s.done
		err = model.NewStreamingError(dependency, "start", ctx.Err())
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Warn().Err(err).Strs("stderr", s.Stderr(10)).Msg("ffmpeg start failed")
	return nil, err
}

func (m *Manager) register(channelID, mediaID, streamURI string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, model.NewStreamingError(dependency, "start", errManagerClosed)
	}
	if existing, ok := m.byChannel[channelID]; ok {
		return nil, model.NewStreamingError(dependency, "start",
			fmt.Errorf("channel %s already streams session %s: %w", channelID, existing.id, model.ErrChannelBusy))
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		metrics.IncFFmpegFailure("capacity")
		return nil, model.NewStreamingError(dependency, "start",
			fmt.Errorf("%d of %d sessions live: %w", len(m.sessions), m.cfg.MaxSessions, ErrCapacity))
	}

	s := newSession(uuid.NewString(), channelID, mediaID, streamURI, m.logger)
	m.sessions[s.id] = s
	m.byChannel[channelID] = s
	m.wg.Add(1)

	m.starts.Add(1)
	metrics.IncFFmpegStart()
	metrics.SetFFmpegActive(len(m.sessions))
	return s, nil
}

type runResult struct {
	exit    model.ExitStatus
	stderr  []string
	stopped bool
	err     error // spawn failure
}

func (r runResult) uptime() time.Duration { return r.exit.EndedAt.Sub(r.exit.StartedAt) }

// supervise drives the session state machine until it is terminal.
func (m *Manager) supervise(s *Session) {
	defer m.finish(s)

	consecutive := 0
	for {
		res := m.runOnce(s)

		switch {
		case res.stopped:
			s.end("stopped", nil)
			s.setState(model.SessionStopped)
			return
		case res.err != nil:
			m.failures.Add(1)
			metrics.IncFFmpegFailure(string(ClassBadInput))
			s.end("failed", res.err)
			s.setState(model.SessionFailed)
			return
		case res.exit.Code == 0:
			s.end("finished", nil)
			s.setState(model.SessionStopped)
			return
		}

		class := Classify(res.exit.Code, res.stderr)
		res.exit.Class = string(class)
		res.exit.Reason = lastLine(res.stderr)
		s.recordExit(res.exit)
		m.failures.Add(1)
		metrics.IncFFmpegFailure(string(class))
		s.setState(model.SessionFailed)

		if res.uptime() >= m.cfg.StableAfter {
			consecutive = 0
		}
		consecutive++

		s.logger.Warn().
			Int(xglog.FieldExitCode, res.exit.Code).
			Str("class", string(class)).
			Int(xglog.FieldAttempt, consecutive).
			Dur("uptime", res.uptime()).
			Strs("stderr", res.stderr).
			Msg("ffmpeg exited with failure")

		if !class.Retryable() || consecutive > m.cfg.MaxRestarts {
			s.end("failed", fmt.Errorf("ffmpeg exited with code %d (%s) after %d consecutive failures",
				res.exit.Code, class, consecutive))
			return
		}

		s.setState(model.SessionRestarting)
		delay := m.backoff(consecutive, class)
		t := time.NewTimer(delay)
		select {
		case <-s.stopCh:
			t.Stop()
			s.end("stopped", nil)
			s.setState(model.SessionStopped)
			return
		case <-t.C:
		}

		s.incRestarts()
		m.restarts.Add(1)
		metrics.IncFFmpegRestart(string(class))
	}
}

// runOnce runs a single ffmpeg process to completion or until a stop request.
func (m *Manager) runOnce(s *Session) runResult {
	if s.stopRequested() {
		return runResult{stopped: true}
	}

	s.ring.Reset()
	cmd := m.newCmd(m.cfg.BinPath, m.cfg.BuildArgs(s.uri, s.channelID))
	procgroup.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return runResult{err: fmt.Errorf("stderr pipe: %w", err)}
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return runResult{err: fmt.Errorf("spawn %s: %w", m.cfg.BinPath, err)}
	}
	s.setPID(cmd.Process.Pid)
	s.logger.Debug().Int(xglog.FieldPID, cmd.Process.Pid).Str("command", cmd.String()).Msg("ffmpeg process started")

	// Wait must not run before stderr is drained.
	waitCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			_, _ = s.ring.Write([]byte(scanner.Text() + "\n"))
		}
		waitCh <- cmd.Wait()
	}()

	probe := time.NewTimer(m.cfg.StartupProbe)
	defer probe.Stop()
	probeC := probe.C

	for {
		select {
		case <-probeC:
			probeC = nil
			s.markRunning()
		case err := <-waitCh:
			return runResult{
				exit:   model.ExitStatus{Code: exitCode(err), StartedAt: started, EndedAt: time.Now()},
				stderr: s.ring.LastN(20),
			}
		case <-s.stopCh:
			s.setState(model.SessionStopping)
			outcome, err := procgroup.Terminate(cmd, waitCh, m.cfg.StopGrace)
			s.logger.Info().Str("outcome", string(outcome)).AnErr("wait_error", err).Msg("ffmpeg process terminated")
			return runResult{
				exit:    model.ExitStatus{Code: exitCode(err), Reason: string(outcome), StartedAt: started, EndedAt: time.Now()},
				stopped: true,
			}
		}
	}
}

func (m *Manager) backoff(attempt int, class FailureClass) time.Duration {
	d := m.cfg.RestartBaseDelay
	for i := 1; i < attempt && d < m.cfg.RestartMaxDelay; i++ {
		d *= 2
	}
	if d > m.cfg.RestartMaxDelay {
		d = m.cfg.RestartMaxDelay
	}
	if class == ClassResourceExhaustion {
		d *= 2
	}
	return d
}

func (m *Manager) finish(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	if m.byChannel[s.channelID] == s {
		delete(m.byChannel, s.channelID)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	reason := s.ExitReason()
	metrics.SetFFmpegActive(active)
	metrics.IncFFmpegExit(reason)

	ev := s.logger.Info()
	if err := s.Err(); err != nil {
		ev = s.logger.Error().Err(err)
	}
	ev.Str(xglog.FieldReason, reason).Int("restarts", s.Snapshot().RestartCount).Msg("ffmpeg session ended")

	close(s.done)
	m.wg.Done()
}

// Stop stops a session and waits for it to release its process. Unknown or
// already finished sessions are not an error.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return stopAndWait(ctx, s)
}

// StopChannel stops whatever session streams to channelID.
func (m *Manager) StopChannel(ctx context.Context, channelID string) error {
	m.mu.Lock()
	s, ok := m.byChannel[channelID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return stopAndWait(ctx, s)
}

func stopAndWait(ctx context.Context, s *Session) error {
	s.requestStop("stopped")
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Session returns the live session for a channel.
func (m *Manager) Session(channelID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byChannel[channelID]
	return s, ok
}

// Sessions returns snapshots of all live sessions ordered by start time.
func (m *Manager) Sessions() []model.StreamSession {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	out := make([]model.StreamSession, 0, len(live))
	for _, s := range live {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()
	return Stats{
		Starts:   m.starts.Load(),
		Restarts: m.restarts.Load(),
		Failures: m.failures.Load(),
		Active:   active,
	}
}

// Shutdown refuses new sessions, stops all running ones and waits for them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.requestStop("stopped")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ffmpeg shutdown: %w", ctx.Err())
	}
}

func lastLine(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
