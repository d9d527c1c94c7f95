// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ffmpegStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plexcord_ffmpeg_starts_total",
		Help: "FFmpeg sessions started",
	})

	ffmpegRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_ffmpeg_restarts_total",
		Help: "FFmpeg restarts by failure class",
	}, []string{"class"})

	ffmpegFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_ffmpeg_failures_total",
		Help: "Non-zero FFmpeg exits by failure class",
	}, []string{"class"})

	ffmpegExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_ffmpeg_exits_total",
		Help: "Terminal FFmpeg session outcomes",
	}, []string{"reason"}) // reason=finished|stopped|failed|startup_timeout

	ffmpegActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plexcord_ffmpeg_active_sessions",
		Help: "FFmpeg sessions currently tracked by this instance",
	})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_process_terminate_total",
		Help: "Signals sent to process groups during termination",
	}, []string{"signal", "result"})

	procWait = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_process_wait_total",
		Help: "Outcomes of waiting for terminated processes",
	}, []string{"outcome"})
)

// IncFFmpegStart counts a newly started session.
func IncFFmpegStart() { ffmpegStarts.Inc() }

// IncFFmpegRestart counts a supervised restart.
func IncFFmpegRestart(class string) { ffmpegRestarts.WithLabelValues(class).Inc() }

// IncFFmpegFailure counts a failed run.
func IncFFmpegFailure(class string) { ffmpegFailures.WithLabelValues(class).Inc() }

// IncFFmpegExit counts a session reaching a terminal state.
func IncFFmpegExit(reason string) { ffmpegExits.WithLabelValues(reason).Inc() }

// SetFFmpegActive sets the active-session gauge.
func SetFFmpegActive(n int) { ffmpegActive.Set(float64(n)) }

// IncProcTerminate counts a termination signal.
func IncProcTerminate(signal, result string) { procTerminate.WithLabelValues(signal, result).Inc() }

// IncProcWait counts a wait outcome after termination.
func IncProcWait(outcome string) { procWait.WithLabelValues(outcome).Inc() }
