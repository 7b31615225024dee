/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mimir_api_request_duration_seconds",
		Help:    "HTTP API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mimir_api_active_connections",
		Help: "In-flight HTTP API requests.",
	})

	// PlaysStarted counts successful playback starts by item kind.
	PlaysStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_player_plays_started_total",
		Help: "Playback starts by item kind.",
	}, []string{"kind"})

	// PlaybackFailures counts classified playback failures.
	PlaybackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_player_failures_total",
		Help: "Playback failures by error kind.",
	}, []string{"kind"})

	// EntitlementDenials counts gating denials by reason.
	EntitlementDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_player_entitlement_denials_total",
		Help: "Entitlement denials by reason.",
	}, []string{"reason"})

	// AutoAdvances counts natural end-of-item transitions.
	AutoAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mimir_player_auto_advances_total",
		Help: "Auto-advance transitions after natural item end.",
	})

	// PrefetchBytes accumulates bytes materialized by the full-prefetch path.
	PrefetchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mimir_loader_prefetch_bytes_total",
		Help: "Bytes downloaded by the constrained-client prefetch path.",
	})

	// MetadataLookups counts metadata resolutions by outcome.
	MetadataLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mimir_metadata_lookups_total",
		Help: "Metadata resolutions by outcome (hit, resolved, fallback).",
	}, []string{"outcome"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
