// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, gauge.Write(metric))
	return metric.GetGauge().GetValue()
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return getCounterValue(t, counterVec.WithLabelValues(labels...))
}

func TestSetCircuitBreakerState_OneHot(t *testing.T) {
	SetCircuitBreakerState("plex", "open")

	assert.Equal(t, 1.0, getGaugeValue(t, circuitBreakerState.WithLabelValues("plex", "open")))
	assert.Equal(t, 0.0, getGaugeValue(t, circuitBreakerState.WithLabelValues("plex", "closed")))
	assert.Equal(t, 0.0, getGaugeValue(t, circuitBreakerState.WithLabelValues("plex", "half-open")))

	SetCircuitBreakerState("plex", "closed")
	assert.Equal(t, 0.0, getGaugeValue(t, circuitBreakerState.WithLabelValues("plex", "open")))
	assert.Equal(t, 1.0, getGaugeValue(t, circuitBreakerState.WithLabelValues("plex", "closed")))
}

func TestRecordPlaybackResult_EmptyReason(t *testing.T) {
	initial := getCounterVecValue(t, playbackResults, "started", "none")
	RecordPlaybackResult("started", "")
	assert.Equal(t, initial+1, getCounterVecValue(t, playbackResults, "started", "none"))
}

func TestObserveKVOperation_CountsErrors(t *testing.T) {
	initial := getCounterVecValue(t, kvOperationErrors, "get")

	ObserveKVOperation("get", time.Millisecond, false)
	assert.Equal(t, initial, getCounterVecValue(t, kvOperationErrors, "get"))

	ObserveKVOperation("get", time.Millisecond, true)
	assert.Equal(t, initial+1, getCounterVecValue(t, kvOperationErrors, "get"))
}

func TestRecordResolverCache(t *testing.T) {
	hits := getCounterVecValue(t, resolverCacheTotal, "hit")
	misses := getCounterVecValue(t, resolverCacheTotal, "miss")

	RecordResolverCache(true)
	RecordResolverCache(false)
	RecordResolverCache(false)

	assert.Equal(t, hits+1, getCounterVecValue(t, resolverCacheTotal, "hit"))
	assert.Equal(t, misses+2, getCounterVecValue(t, resolverCacheTotal, "miss"))
}

func TestSetFFmpegActive(t *testing.T) {
	SetFFmpegActive(3)
	assert.Equal(t, 3.0, getGaugeValue(t, ffmpegActive))
	SetFFmpegActive(0)
	assert.Equal(t, 0.0, getGaugeValue(t, ffmpegActive))
}
