// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors for every component.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plexcord_circuit_breaker_state",
		Help: "Circuit breaker state by dependency (1 for the active state, 0 otherwise)",
	}, []string{"dependency", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips (transitions to open state)",
	}, []string{"dependency", "reason"})

	circuitBreakerStoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexcord_circuit_breaker_store_errors_total",
		Help: "Breaker operations that could not consult the shared store",
	}, []string{"dependency", "op"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for a dependency.
func SetCircuitBreakerState(dependency, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(dependency, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when a breaker opens.
func RecordCircuitBreakerTrip(dependency, reason string) {
	circuitBreakerTrips.WithLabelValues(dependency, reason).Inc()
}

// RecordCircuitBreakerStoreError counts breaker calls that failed against the KV store.
func RecordCircuitBreakerStoreError(dependency, op string) {
	circuitBreakerStoreErrors.WithLabelValues(dependency, op).Inc()
}
