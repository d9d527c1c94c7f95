// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	playbackResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_playback_results_total",
		Help: "Playback requests by status and reason",
	}, []string{"status", "reason"})

	playbackStartLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plexcord_playback_start_latency_seconds",
		Help:    "Time from request to a running stream",
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30},
	})

	lockLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plexcord_channel_lock_lost_total",
		Help: "Channel leases lost while a stream was running",
	})

	queueOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_queue_operations_total",
		Help: "Channel queue operations by outcome",
	}, []string{"op", "outcome"})
)

// RecordPlaybackResult counts a finished Play call. reason is empty for started requests.
func RecordPlaybackResult(status, reason string) {
	if reason == "" {
		reason = "none"
	}
	playbackResults.WithLabelValues(status, reason).Inc()
}

// ObservePlaybackStartLatency records the time taken to start a stream.
func ObservePlaybackStartLatency(d time.Duration) {
	playbackStartLatency.Observe(d.Seconds())
}

// IncLockLost counts a lost channel lease.
func IncLockLost() { lockLost.Inc() }

// RecordQueueOperation counts a queue operation.
func RecordQueueOperation(op, outcome string) {
	queueOps.WithLabelValues(op, outcome).Inc()
}
