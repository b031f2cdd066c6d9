// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the router.
//
// # Description
//
// This package implements Prometheus metrics for monitoring query routing
// and learning. Metrics include:
//   - Request counters (by operation and status)
//   - Processing latency histograms
//   - Cluster creation and learning event counters
//   - Cache effectiveness (hits, misses, estimated cost saved)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for router metrics
const routerSubsystem = "router"

// RouterMetrics holds all Prometheus metrics for routing operations.
//
// Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type RouterMetrics struct {
	// RequestsTotal counts routing operations by operation and status.
	// Labels: operation (process_query, process_feedback), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// ProcessingSeconds measures end-to-end operation latency.
	// Labels: operation
	ProcessingSeconds *prometheus.HistogramVec

	// ClustersCreatedTotal counts new clusters seeded by queries.
	ClustersCreatedTotal prometheus.Counter

	// LearningEventsTotal counts enhancement mutations by transition.
	// Labels: transition (seeded, growing, condensed)
	LearningEventsTotal *prometheus.CounterVec

	// FeedbackTotal counts processed feedback by verdict.
	// Labels: verdict (positive, negative), gate (passed, failed)
	FeedbackTotal *prometheus.CounterVec

	// CacheLookupsTotal counts completion cache lookups by tier and outcome.
	// Labels: outcome (memory_hit, persistent_hit, miss)
	CacheLookupsTotal *prometheus.CounterVec

	// CacheCostSavedUSD accumulates estimated USD saved by cache hits.
	CacheCostSavedUSD prometheus.Counter

	// ErrorsTotal counts errors by operation and taxonomy class.
	// Labels: operation, class (input, upstream, persistence)
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of RouterMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RouterMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *RouterMetrics {
	DefaultMetrics = &RouterMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "requests_total",
				Help:      "Total routing operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		ProcessingSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "processing_seconds",
				Help:      "End-to-end operation latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),

		ClustersCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "clusters_created_total",
				Help:      "Total new clusters seeded by queries",
			},
		),

		LearningEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "learning_events_total",
				Help:      "Total enhancement mutations by transition",
			},
			[]string{"transition"},
		),

		FeedbackTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "feedback_total",
				Help:      "Total feedback processed by verdict and gate outcome",
			},
			[]string{"verdict", "gate"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "cache_lookups_total",
				Help:      "Completion cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		CacheCostSavedUSD: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "cache_cost_saved_usd",
				Help:      "Estimated USD saved by completion cache hits",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: routerSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by operation and taxonomy class",
			},
			[]string{"operation", "class"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed operation.
func (m *RouterMetrics) RecordRequest(operation string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.ProcessingSeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordError records an error by taxonomy class.
func (m *RouterMetrics) RecordError(operation, class string) {
	m.ErrorsTotal.WithLabelValues(operation, class).Inc()
}

// RecordClusterCreated increments the cluster creation counter.
func (m *RouterMetrics) RecordClusterCreated() {
	m.ClustersCreatedTotal.Inc()
}

// RecordLearningEvent records an enhancement mutation.
func (m *RouterMetrics) RecordLearningEvent(transition string) {
	m.LearningEventsTotal.WithLabelValues(transition).Inc()
}

// RecordFeedback records a feedback verdict and gate outcome.
func (m *RouterMetrics) RecordFeedback(positive, gatePassed bool) {
	verdict := "negative"
	if positive {
		verdict = "positive"
	}
	gate := "failed"
	if gatePassed {
		gate = "passed"
	}
	m.FeedbackTotal.WithLabelValues(verdict, gate).Inc()
}

// RecordCacheLookup records a cache lookup outcome.
// outcome: memory_hit, persistent_hit, or miss.
func (m *RouterMetrics) RecordCacheLookup(outcome string) {
	m.CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordCostSaved accumulates estimated savings from a cache hit.
func (m *RouterMetrics) RecordCostSaved(usd float64) {
	if usd > 0 {
		m.CacheCostSavedUSD.Add(usd)
	}
}
