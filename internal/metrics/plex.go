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
	resolverCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_resolver_cache_total",
		Help: "Resolver cache lookups by result",
	}, []string{"result"}) // result=hit|miss

	plexRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plexcord_plex_request_duration_seconds",
		Help:    "Duration of Plex API requests by endpoint and outcome",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint", "outcome"})

	plexRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plexcord_plex_retries_total",
		Help: "Plex requests retried after a transient failure",
	})
)

// RecordResolverCache counts a cache hit or miss.
func RecordResolverCache(hit bool) {
	if hit {
		resolverCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	resolverCacheTotal.WithLabelValues("miss").Inc()
}

// ObservePlexRequest records one Plex API call.
func ObservePlexRequest(endpoint, outcome string, d time.Duration) {
	plexRequestDuration.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

// IncPlexRetry counts a retried Plex request.
func IncPlexRetry() {
	plexRetries.Inc()
}
