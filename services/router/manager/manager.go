// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manager orchestrates the query routing pipeline.
//
// # Description
//
// The Manager composes the collaborators into the four surfaced operations:
//   - ProcessQuery: embed the query, assign it to a cluster, snapshot the
//     cluster's current enhancement onto an immutable assignment record.
//   - ProcessFeedback: analyze sentiment, gate feedback quality, record the
//     verdict exactly once, and run prompt evolution when the gate passes.
//   - GetSystemStats: aggregate activity within a timeframe plus cache
//     accounting.
//   - GetClusterDetails: one cluster with its recent assignments and
//     learning history.
//
// The Manager is stateless between calls; all state lives in the stores.
// Every collaborator is injected at construction and lives for the process
// lifetime.
//
// # Thread Safety
//
// Safe for concurrent use. Cluster counter updates are atomic at the store
// layer, so concurrent feedback on the same cluster never loses increments.
// There is no ordering guarantee across concurrent requests touching the
// same cluster.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRoute/services/router/assigner"
	"github.com/AleutianAI/AleutianRoute/services/router/completioncache"
	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/embedding"
	"github.com/AleutianAI/AleutianRoute/services/router/evolution"
	"github.com/AleutianAI/AleutianRoute/services/router/feedback"
	"github.com/AleutianAI/AleutianRoute/services/router/observability"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
)

var tracer = otel.Tracer("aleutian.router.manager")

const (
	// DefaultFeedbackConfidenceThreshold is the minimum sentiment confidence
	// required before the quality gate is consulted at all.
	DefaultFeedbackConfidenceThreshold = 0.65

	// DefaultRecentLimit bounds the recent-activity lists in
	// GetClusterDetails.
	DefaultRecentLimit = 20

	// DefaultStatsTimeframe is used when GetSystemStats receives an empty
	// timeframe.
	DefaultStatsTimeframe = "24h"

	// backgroundTimeout bounds detached consistency checks and system-log
	// writes so they never outlive the process shutdown grace period.
	backgroundTimeout = 5 * time.Second
)

// Operation labels for metrics and the system log.
const (
	opProcessQuery    = "process_query"
	opProcessFeedback = "process_feedback"
)

// =============================================================================
// Construction
// =============================================================================

// Deps holds the Manager's collaborators. Clusters, Assignments, LearningLog,
// Embeddings, Assigner, Sentiment, Gate, Factors, and Engine are required.
// SystemLog, Cache, and Metrics are optional; a nil value disables that
// concern.
type Deps struct {
	Clusters    storage.ClusterStore
	Assignments storage.AssignmentStore
	LearningLog storage.LearningLogStore
	SystemLog   storage.SystemLogStore

	Embeddings *embedding.Service
	Assigner   *assigner.Assigner
	Sentiment  feedback.Analyzer
	Gate       *feedback.Gate
	Factors    *evolution.FactorExtractor
	Engine     *evolution.Engine

	Cache   *completioncache.Cache
	Metrics *observability.RouterMetrics
}

// Config carries the Manager's tunables.
type Config struct {
	// FeedbackConfidenceThreshold is the minimum sentiment confidence for
	// feedback to be considered at all. Defaults to
	// DefaultFeedbackConfidenceThreshold when zero.
	FeedbackConfidenceThreshold float64

	// RecentLimit bounds recent-activity lists. Defaults to
	// DefaultRecentLimit when zero.
	RecentLimit int

	Logger *slog.Logger
}

// Manager orchestrates the routing pipeline. Construct via New.
type Manager struct {
	clusters    storage.ClusterStore
	assignments storage.AssignmentStore
	learningLog storage.LearningLogStore
	syslog      storage.SystemLogStore

	embeddings *embedding.Service
	assigner   *assigner.Assigner
	sentiment  feedback.Analyzer
	gate       *feedback.Gate
	factors    *evolution.FactorExtractor
	engine     *evolution.Engine

	cache   *completioncache.Cache
	metrics *observability.RouterMetrics
	logger  *slog.Logger

	confidenceThreshold float64
	recentLimit         int

	// background tracks detached consistency checks and log writes so
	// Wait() can flush them in tests and at shutdown.
	background sync.WaitGroup
}

// New validates the dependency set and returns a ready Manager.
func New(deps Deps, cfg Config) (*Manager, error) {
	switch {
	case deps.Clusters == nil:
		return nil, fmt.Errorf("manager: cluster store is required")
	case deps.Assignments == nil:
		return nil, fmt.Errorf("manager: assignment store is required")
	case deps.LearningLog == nil:
		return nil, fmt.Errorf("manager: learning log store is required")
	case deps.Embeddings == nil:
		return nil, fmt.Errorf("manager: embedding service is required")
	case deps.Assigner == nil:
		return nil, fmt.Errorf("manager: assigner is required")
	case deps.Sentiment == nil:
		return nil, fmt.Errorf("manager: sentiment analyzer is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("manager: feedback gate is required")
	case deps.Factors == nil:
		return nil, fmt.Errorf("manager: factor extractor is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("manager: evolution engine is required")
	}

	threshold := cfg.FeedbackConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultFeedbackConfidenceThreshold
	}
	recentLimit := cfg.RecentLimit
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		clusters:            deps.Clusters,
		assignments:         deps.Assignments,
		learningLog:         deps.LearningLog,
		syslog:              deps.SystemLog,
		embeddings:          deps.Embeddings,
		assigner:            deps.Assigner,
		sentiment:           deps.Sentiment,
		gate:                deps.Gate,
		factors:             deps.Factors,
		engine:              deps.Engine,
		cache:               deps.Cache,
		metrics:             deps.Metrics,
		logger:              logger,
		confidenceThreshold: threshold,
		recentLimit:         recentLimit,
	}, nil
}

// =============================================================================
// ProcessQuery
// =============================================================================

// ProcessQuery routes one query through the pipeline.
//
// # Description
//
// Embeds the query, assigns it to the nearest cluster (or seeds a new one),
// and persists an assignment carrying an immutable snapshot of the cluster's
// enhancement at routing time. The snapshot is what was actually applied to
// the query, even if the cluster's enhancement evolves afterward.
//
// # Outputs
//
//   - *datatypes.ProcessQueryResult on success.
//   - InputError for an invalid request (no side effects).
//   - UpstreamError when embedding fails (after the bounded rate-limit
//     retry inside the embedding service).
//   - PersistenceError when the store rejects the assignment write.
func (m *Manager) ProcessQuery(ctx context.Context, req *datatypes.ProcessQueryRequest) (*datatypes.ProcessQueryResult, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "Manager.ProcessQuery")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, m.fail(span, opProcessQuery, started, "invalid request", err)
	}
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	vector, err := m.embeddings.Embed(ctx, req.QueryText)
	if err != nil {
		return nil, m.fail(span, opProcessQuery, started, "embedding failed", err)
	}

	assigned, err := m.assigner.Assign(ctx, req.QueryText, vector)
	if err != nil {
		return nil, m.fail(span, opProcessQuery, started, "cluster assignment failed", err)
	}

	assignment := datatypes.NewQueryAssignment(req.QueryText, vector, assigned.Cluster, assigned.Similarity)
	assignment.SessionID = req.SessionID
	assignment.UserID = req.UserID
	if err := m.assignments.Put(ctx, assignment); err != nil {
		perr := datatypes.NewPersistenceError("put assignment", err)
		return nil, m.fail(span, opProcessQuery, started, "assignment write failed", perr)
	}

	span.SetAttributes(
		attribute.String("cluster.id", assigned.Cluster.ID),
		attribute.Float64("cluster.similarity", assigned.Similarity),
		attribute.Bool("cluster.is_new", assigned.IsNew),
	)

	if assigned.IsNew {
		if m.metrics != nil {
			m.metrics.RecordClusterCreated()
		}
		m.logEvent("assigner", "INFO", "seeded new cluster", req.SessionID, 0, map[string]any{
			"cluster_id": assigned.Cluster.ID,
			"query_text": req.QueryText,
		})
	}

	m.logger.Info("Processed query",
		"sessionId", req.SessionID,
		"clusterId", assigned.Cluster.ID,
		"similarity", assigned.Similarity,
		"isNewCluster", assigned.IsNew,
		"appliedEnhancement", assignment.AppliedEnhancement,
	)
	m.recordRequest(opProcessQuery, true, started)

	return &datatypes.ProcessQueryResult{
		ClusterID:         assigned.Cluster.ID,
		AssignmentID:      assignment.ID,
		Similarity:        assigned.Similarity,
		IsNewCluster:      assigned.IsNew,
		PromptEnhancement: assignment.EnhancementUsed,
		EnhancementHash:   assignment.EnhancementHash,
		ProcessingTimeMs:  time.Since(started).Milliseconds(),
	}, nil
}

// =============================================================================
// ProcessFeedback
// =============================================================================

// ProcessFeedback records feedback on one assignment and runs learning when
// the quality gate passes.
//
// # Description
//
// The flow is: look up the assignment, run sentiment analysis, check
// sentiment confidence against the configured threshold, then run the
// quality gate (length, sentiment, entropy). The sentiment verdict is
// recorded on the assignment exactly once regardless of the gate outcome; a
// second submission for the same assignment is rejected as an InputError.
// When the gate passes, success factors are extracted and the evolution
// engine may mutate the cluster's enhancement; the learning step is
// fail-safe and never unwinds the recorded feedback.
func (m *Manager) ProcessFeedback(ctx context.Context, req *datatypes.ProcessFeedbackRequest) (*datatypes.ProcessFeedbackResult, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "Manager.ProcessFeedback")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, m.fail(span, opProcessFeedback, started, "invalid request", err)
	}
	span.SetAttributes(attribute.String("assignment.id", req.AssignmentID))

	assignment, err := m.assignments.Get(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, m.fail(span, opProcessFeedback, started, "assignment not found",
				fmt.Errorf("assignment %s: %w", req.AssignmentID, err))
		}
		return nil, m.fail(span, opProcessFeedback, started, "assignment read failed",
			datatypes.NewPersistenceError("get assignment", err))
	}

	sent, err := m.sentiment.Analyze(ctx, req.FeedbackText)
	if err != nil {
		return nil, m.fail(span, opProcessFeedback, started, "sentiment analysis failed", err)
	}

	passed := false
	reason := ""
	if sent.Confidence < m.confidenceThreshold {
		reason = fmt.Sprintf("sentiment confidence %.2f below threshold %.2f",
			sent.Confidence, m.confidenceThreshold)
	} else {
		passed, reason = m.gate.Evaluate(req.FeedbackText, sent)
	}

	// Sentiment is recorded whether or not the gate passed; only learning
	// is gated.
	if err := m.assignments.RecordFeedback(ctx, req.AssignmentID, sent.IsPositive, sent.Confidence); err != nil {
		if errors.Is(err, storage.ErrFeedbackAlreadyRecorded) {
			return nil, m.fail(span, opProcessFeedback, started, "duplicate feedback",
				datatypes.NewInputError("assignment_id", "feedback already recorded for this assignment"))
		}
		return nil, m.fail(span, opProcessFeedback, started, "feedback write failed",
			datatypes.NewPersistenceError("record feedback", err))
	}
	if m.metrics != nil {
		m.metrics.RecordFeedback(sent.IsPositive, passed)
	}

	learning := datatypes.LearningResult{
		Updated:    false,
		Transition: evolution.TransitionNone,
		Reason:     reason,
	}
	if passed {
		learning = m.learn(ctx, assignment, req, sent.Confidence)
	}

	span.SetAttributes(
		attribute.Bool("feedback.positive", sent.IsPositive),
		attribute.Bool("feedback.gate_passed", passed),
		attribute.Bool("learning.updated", learning.Updated),
	)
	m.logger.Info("Processed feedback",
		"assignmentId", req.AssignmentID,
		"clusterId", assignment.ClusterID,
		"isPositive", sent.IsPositive,
		"confidence", sent.Confidence,
		"gatePassed", passed,
		"learningUpdated", learning.Updated,
	)
	m.recordRequest(opProcessFeedback, true, started)

	return &datatypes.ProcessFeedbackResult{
		FeedbackAnalysis: datatypes.FeedbackAnalysis{
			IsPositive: sent.IsPositive,
			Confidence: sent.Confidence,
			GatePassed: passed,
			GateReason: reason,
		},
		LearningResult:   learning,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

// learn runs the gated half of ProcessFeedback: success-factor extraction,
// the evolution engine, and the success counters. It is fail-safe: every
// failure is logged and reported as a no-op LearningResult, never as an
// error, because the feedback itself is already durable.
func (m *Manager) learn(ctx context.Context, assignment *datatypes.QueryAssignment, req *datatypes.ProcessFeedbackRequest, confidence float64) datatypes.LearningResult {
	ctx, span := tracer.Start(ctx, "Manager.learn")
	defer span.End()
	span.SetAttributes(attribute.String("cluster.id", assignment.ClusterID))

	result := datatypes.LearningResult{Updated: false, Transition: evolution.TransitionNone}

	cluster, err := m.clusters.Get(ctx, assignment.ClusterID)
	if err != nil {
		m.logger.Error("Cluster lookup failed during learning",
			"clusterId", assignment.ClusterID, "error", err)
		m.recordError(opProcessFeedback, datatypes.NewPersistenceError("get cluster", err))
		result.Reason = "cluster lookup failed"
		return result
	}

	factors, err := m.factors.Extract(ctx, assignment.QueryText, req.ResponseText, req.FeedbackText)
	switch {
	case err != nil:
		m.logger.Warn("Success factor extraction failed, skipping learning",
			"clusterId", cluster.ID, "error", err)
		m.recordError(opProcessFeedback, err)
		result.Reason = "success factor extraction failed"
	case !m.engine.ShouldUpdate(cluster):
		result.Reason = "success count below update threshold"
	default:
		result = *m.engine.Evolve(ctx, cluster, assignment, factors, confidence)
		if result.Updated {
			if m.metrics != nil {
				m.metrics.RecordLearningEvent(result.Transition)
			}
			m.logEvent("evolution", "INFO", "prompt enhancement updated", req.SessionID, 0, map[string]any{
				"cluster_id":  cluster.ID,
				"transition":  result.Transition,
				"new_version": result.NewVersion,
			})
		}
	}

	if err := m.clusters.RecordSuccess(ctx, cluster.ID, time.Now().UTC()); err != nil {
		m.logger.Warn("Success counter update failed",
			"clusterId", cluster.ID, "error", err)
		m.recordError(opProcessFeedback, datatypes.NewPersistenceError("record success", err))
	}

	if result.Updated {
		m.verifyEnhancementHash(cluster.ID)
	}
	return result
}

// verifyEnhancementHash re-reads the cluster in a detached task and warns if
// the stored hash no longer matches the stored content. A mismatch means a
// write path skipped the hash recomputation; it is logged at WARN and never
// blocks the response.
func (m *Manager) verifyEnhancementHash(clusterID string) {
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()

		cluster, err := m.clusters.Get(ctx, clusterID)
		if err != nil {
			m.logger.Warn("Hash consistency check could not read cluster",
				"clusterId", clusterID, "error", err)
			return
		}
		want := datatypes.EnhancementHashOf(cluster.PromptEnhancement)
		if cluster.EnhancementHash != want {
			m.logger.Warn("Enhancement hash mismatch",
				"clusterId", clusterID,
				"storedHash", cluster.EnhancementHash,
				"computedHash", want,
				"version", cluster.Version,
			)
			m.logEvent("manager", "WARN", "enhancement hash mismatch", "", 0, map[string]any{
				"cluster_id":    clusterID,
				"stored_hash":   cluster.EnhancementHash,
				"computed_hash": want,
			})
		}
	}()
}

// =============================================================================
// Read Operations
// =============================================================================

// GetSystemStats aggregates activity since the start of the given timeframe.
//
// Timeframe accepts Go duration strings ("30m", "24h") plus "d" and "w"
// suffixes ("7d", "2w"). Empty defaults to DefaultStatsTimeframe. Learning
// log failures degrade to zero with a WARN; cache stats come from the
// in-process cache and cover the process lifetime, not the timeframe.
func (m *Manager) GetSystemStats(ctx context.Context, timeframe string) (*datatypes.SystemStats, error) {
	ctx, span := tracer.Start(ctx, "Manager.GetSystemStats")
	defer span.End()

	if timeframe == "" {
		timeframe = DefaultStatsTimeframe
	}
	window, err := ParseTimeframe(timeframe)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid timeframe")
		return nil, err
	}
	since := time.Now().UTC().Add(-window)
	span.SetAttributes(attribute.String("stats.timeframe", timeframe))

	stats := &datatypes.SystemStats{Timeframe: timeframe, Since: since}

	total, err := m.clusters.Count(ctx)
	if err != nil {
		return nil, datatypes.NewPersistenceError("count clusters", err)
	}
	stats.ClustersTotal = total

	created, err := m.clusters.CountSince(ctx, since)
	if err != nil {
		return nil, datatypes.NewPersistenceError("count clusters since", err)
	}
	stats.ClustersCreated = created

	assignStats, err := m.assignments.StatsSince(ctx, since)
	if err != nil {
		return nil, datatypes.NewPersistenceError("assignment stats", err)
	}
	stats.TotalQueries = assignStats.Queries
	stats.PositiveFeedback = assignStats.PositiveFeedback
	stats.NegativeFeedback = assignStats.NegativeFeedback

	// Non-critical: a learning-log read failure degrades to zero.
	learningEvents, err := m.learningLog.CountSince(ctx, since)
	if err != nil {
		m.logger.Warn("Learning log count failed, reporting zero", "error", err)
	} else {
		stats.LearningEvents = learningEvents
	}

	if m.cache != nil {
		cs := m.cache.Stats()
		stats.CacheHits = cs.MemoryHits + cs.PersistentHits
		stats.CacheMisses = cs.Misses
		stats.CacheHitRate = cs.HitRate()
		stats.EstimatedSavedUSD = cs.CostSaved
	}
	return stats, nil
}

// GetClusterDetails returns one cluster with its recent assignments and
// learning history. The learning-log read is non-critical and degrades to an
// empty list with a WARN; a missing cluster surfaces storage.ErrNotFound.
func (m *Manager) GetClusterDetails(ctx context.Context, clusterID string) (*datatypes.ClusterDetails, error) {
	ctx, span := tracer.Start(ctx, "Manager.GetClusterDetails")
	defer span.End()
	span.SetAttributes(attribute.String("cluster.id", clusterID))

	if clusterID == "" {
		return nil, datatypes.NewInputError("cluster_id", "missing or empty required field")
	}

	cluster, err := m.clusters.Get(ctx, clusterID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("cluster %s: %w", clusterID, err)
		}
		return nil, datatypes.NewPersistenceError("get cluster", err)
	}

	recent, err := m.assignments.ListByCluster(ctx, clusterID, m.recentLimit)
	if err != nil {
		return nil, datatypes.NewPersistenceError("list assignments", err)
	}

	learning, err := m.learningLog.ListByCluster(ctx, clusterID, m.recentLimit)
	if err != nil {
		m.logger.Warn("Learning log read failed, returning empty history",
			"clusterId", clusterID, "error", err)
		learning = nil
	}

	return &datatypes.ClusterDetails{
		Cluster:        cluster,
		RecentQueries:  recent,
		RecentLearning: learning,
	}, nil
}

// Wait blocks until detached background tasks (consistency checks, system
// log writes) have drained. Call before shutdown and in tests.
func (m *Manager) Wait() {
	m.background.Wait()
}

// =============================================================================
// Helpers
// =============================================================================

// fail records an operation failure consistently across span, metrics, and
// structured log, then returns the error unchanged.
func (m *Manager) fail(span trace.Span, op string, started time.Time, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	m.logger.Error(msg, "operation", op, "error", err)
	m.recordError(op, err)
	m.recordRequest(op, false, started)
	return err
}

// recordRequest records the operation outcome on the metrics instance when
// one is configured.
func (m *Manager) recordRequest(op string, success bool, started time.Time) {
	if m.metrics != nil {
		m.metrics.RecordRequest(op, success, time.Since(started).Seconds())
	}
}

// recordError classifies an error into the taxonomy label for metrics.
func (m *Manager) recordError(op string, err error) {
	if m.metrics == nil {
		return
	}
	class := "internal"
	switch {
	case datatypes.IsInputError(err):
		class = "input"
	case datatypes.IsPersistenceError(err):
		class = "persistence"
	default:
		if _, ok := datatypes.IsUpstreamError(err); ok {
			class = "upstream"
		}
	}
	m.metrics.RecordError(op, class)
}

// logEvent appends to the system log in a detached task. Failures are logged
// and dropped; the system log is observability, not a correctness dependency.
func (m *Manager) logEvent(component, level, message, sessionID string, durationMs int64, metadata map[string]any) {
	if m.syslog == nil {
		return
	}
	entry := &datatypes.SystemLogEntry{
		Component:  component,
		Level:      level,
		Message:    message,
		Metadata:   metadata,
		SessionID:  sessionID,
		DurationMs: durationMs,
		CreatedAt:  time.Now().UTC(),
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := m.syslog.Append(ctx, entry); err != nil {
			m.logger.Warn("System log append failed",
				"component", component, "message", message, "error", err)
		}
	}()
}

// ParseTimeframe converts a timeframe string into a duration. Plain Go
// duration strings pass through; "d" and "w" suffixes are expanded since
// time.ParseDuration stops at hours.
func ParseTimeframe(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, datatypes.NewInputError("timeframe", "must be a positive duration")
		}
		return d, nil
	}
	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	default:
		return 0, datatypes.NewInputError("timeframe", "unrecognized timeframe format")
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, s[len(s)-1:]))
	if err != nil || n <= 0 {
		return 0, datatypes.NewInputError("timeframe", "unrecognized timeframe format")
	}
	return time.Duration(n) * unit, nil
}
