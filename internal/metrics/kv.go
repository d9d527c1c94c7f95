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
	kvOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plexcord_kv_operation_duration_seconds",
		Help:    "Latency of key-value store operations",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})

	kvOperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_kv_operation_errors_total",
		Help: "Key-value store operations that returned an error (misses excluded)",
	}, []string{"op"})
)

// ObserveKVOperation records the latency of a KV call and counts failures.
func ObserveKVOperation(op string, d time.Duration, failed bool) {
	kvOperationDuration.WithLabelValues(op).Observe(d.Seconds())
	if failed {
		kvOperationErrors.WithLabelValues(op).Inc()
	}
}
