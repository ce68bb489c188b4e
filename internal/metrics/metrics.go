// LifeMap - Privacy-Oriented Location Journaling
// Copyright 2026 LifeMap Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lifemap-app/lifemap

// Package metrics provides Prometheus collectors for the location subsystem.
//
// Collectors are registered at init via promauto and exposed at /metrics by
// the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PointsCaptured counts samples accepted and persisted, by capture context.
	PointsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifemap_points_captured_total",
			Help: "Location samples accepted and persisted",
		},
		[]string{"context"},
	)

	// PointsFiltered counts samples discarded by the distance filter.
	PointsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifemap_points_filtered_total",
			Help: "Location samples discarded by the distance filter",
		},
	)

	// SamplerErrors counts sensor errors by class.
	SamplerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifemap_sampler_errors_total",
			Help: "Position sampler errors",
		},
		[]string{"class"},
	)

	// SyncDuration observes full sync run duration in seconds.
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lifemap_sync_duration_seconds",
			Help:    "Duration of sync runs",
			Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60},
		},
	)

	// SyncedPoints counts samples marked synced.
	SyncedPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifemap_synced_points_total",
			Help: "Samples uploaded and marked synced",
		},
	)

	// FailedPoints counts samples whose batch exhausted its retries.
	FailedPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifemap_failed_points_total",
			Help: "Samples left pending after retry exhaustion",
		},
	)

	// BatchAttempts counts upload attempts by outcome.
	BatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifemap_batch_attempts_total",
			Help: "Batch upload attempts",
		},
		[]string{"outcome"},
	)

	// PendingPoints gauges the current number of unsynced samples.
	PendingPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifemap_pending_points",
			Help: "Samples awaiting upload",
		},
	)

	// StoreSizeBytes gauges the estimated local store size.
	StoreSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lifemap_store_size_bytes",
			Help: "Estimated local store size",
		},
	)

	// APIRateLimited counts sync uploads rejected with 429.
	APIRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lifemap_api_rate_limited_total",
			Help: "Sync requests rejected by the per-user rate limit",
		},
	)

	// CoordinatorWakes counts background wake events by trigger.
	CoordinatorWakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifemap_coordinator_wakes_total",
			Help: "Background coordinator wake events",
		},
		[]string{"trigger"},
	)
)
