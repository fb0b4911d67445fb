// OutcomeOps Analytics - Serverless Web Analytics Pipeline
// Copyright 2026 OutcomeOps
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/outcomeops/analytics

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline. In standalone mode the collectors are scraped from /metrics;
// under Lambda they still count within a warm container, which is enough
// to spot chronic rollup-update loss (the one failure mode the pipeline
// otherwise only WARN-logs).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Log parser metrics
	LogLinesParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "log_lines_parsed_total",
			Help: "Total number of log lines parsed into events",
		},
	)

	LogLinesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_lines_skipped_total",
			Help: "Total number of log lines skipped",
		},
		[]string{"reason"}, // "comment", "malformed", "filtered"
	)

	LogObjectsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "log_objects_processed_total",
			Help: "Total number of log objects fetched and decoded",
		},
	)

	LogObjectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "log_object_duration_seconds",
			Help:    "Duration of full log object processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event writer metrics
	EventsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_written_total",
			Help: "Total number of request events written to the store",
		},
	)

	EventWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "event_write_errors_total",
			Help: "Total number of failed event batch writes",
		},
	)

	// Rollup writer metrics
	RollupUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollup_updates_total",
			Help: "Total number of rollup counter updates applied",
		},
		[]string{"family"}, // "stats", "page", "ref", "hour"
	)

	// RollupUpdateFailures surfaces the silently-degrading counter loss
	// that WARN logs alone hide.
	RollupUpdateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollup_update_failures_total",
			Help: "Total number of rollup counter updates that failed and were skipped",
		},
		[]string{"family"},
	)

	// Journey tracker metrics
	TrackerEventsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_events_written_total",
			Help: "Total number of session events written",
		},
		[]string{"event_type"},
	)

	TrackerEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_events_rejected_total",
			Help: "Total number of session events rejected by validation",
		},
		[]string{"reason"}, // "missing_field", "domain", "event_type", "store"
	)

	// Cache builder metrics
	CacheBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_builds_total",
			Help: "Total number of cache rows built",
		},
		[]string{"cache_type"}, // "stats", "pages", "referrers", "hours"
	)

	CacheBuildErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_build_errors_total",
			Help: "Total number of cache build failures",
		},
		[]string{"domain"},
	)

	CacheBuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cache_build_duration_seconds",
			Help:    "Duration of a full cache build pass in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// API metrics (standalone mode)
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordObjectProcessed records one fully processed log object.
func RecordObjectProcessed(duration time.Duration) {
	LogObjectsProcessed.Inc()
	LogObjectDuration.Observe(duration.Seconds())
}

// RecordRollupUpdate records the outcome of one rollup counter update.
func RecordRollupUpdate(family string, err error) {
	if err != nil {
		RollupUpdateFailures.WithLabelValues(family).Inc()
		return
	}
	RollupUpdates.WithLabelValues(family).Inc()
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
