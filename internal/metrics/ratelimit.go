// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "plexcord_rate_limit_decisions_total",
	Help: "Rate limiter decisions by scope and outcome",
}, []string{"scope", "outcome"}) // outcome=allowed|denied|store_error

// RecordRateLimitDecision counts one limiter decision.
func RecordRateLimitDecision(scope, outcome string) {
	rateLimitDecisions.WithLabelValues(scope, outcome).Inc()
}
