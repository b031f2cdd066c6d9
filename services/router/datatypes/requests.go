// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for request types.
var validate = validator.New()

// ProcessQueryRequest is the inbound contract for routing one query.
type ProcessQueryRequest struct {
	QueryText string `json:"query_text" validate:"required,min=1"`
	SessionID string `json:"session_id" validate:"required"`
	UserID    string `json:"user_id,omitempty"`
}

// Validate checks required fields, translating validator failures into the
// router's InputError taxonomy.
func (r *ProcessQueryRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewInputError(firstFailedField(err), "missing or empty required field")
	}
	return nil
}

// ProcessQueryResult is what the caller gets back from ProcessQuery.
type ProcessQueryResult struct {
	ClusterID         string  `json:"cluster_id"`
	AssignmentID      string  `json:"assignment_id"`
	Similarity        float64 `json:"similarity"`
	IsNewCluster      bool    `json:"is_new_cluster"`
	PromptEnhancement string  `json:"prompt_enhancement"`
	EnhancementHash   string  `json:"prompt_enhancement_hash"`
	ProcessingTimeMs  int64   `json:"processing_time_ms"`
}

// ProcessFeedbackRequest is the inbound contract for feedback on one
// assignment.
type ProcessFeedbackRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required"`
	FeedbackText string `json:"feedback_text" validate:"required,min=1"`
	ResponseText string `json:"response_text" validate:"required,min=1"`
	SessionID    string `json:"session_id" validate:"required"`
	UserID       string `json:"user_id,omitempty"`
}

// Validate checks required fields.
func (r *ProcessFeedbackRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewInputError(firstFailedField(err), "missing or empty required field")
	}
	return nil
}

// FeedbackAnalysis reports what the gate and sentiment analysis concluded.
type FeedbackAnalysis struct {
	IsPositive bool    `json:"is_positive"`
	Confidence float64 `json:"confidence"`
	GatePassed bool    `json:"gate_passed"`
	GateReason string  `json:"gate_reason,omitempty"`
}

// LearningResult reports whether and how the cluster's enhancement changed.
type LearningResult struct {
	Updated         bool   `json:"updated"`
	Transition      string `json:"transition,omitempty"`
	NewVersion      int64  `json:"new_version,omitempty"`
	EnhancementHash string `json:"prompt_enhancement_hash,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ProcessFeedbackResult is what the caller gets back from ProcessFeedback.
type ProcessFeedbackResult struct {
	FeedbackAnalysis FeedbackAnalysis `json:"feedback_analysis"`
	LearningResult   LearningResult   `json:"learning_result"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
}

// SystemStats aggregates activity within a timeframe plus process-lifetime
// cache accounting.
type SystemStats struct {
	Timeframe        string    `json:"timeframe"`
	Since            time.Time `json:"since"`
	TotalQueries     int       `json:"total_queries"`
	ClustersCreated  int       `json:"clusters_created"`
	ClustersTotal    int       `json:"clusters_total"`
	LearningEvents   int       `json:"learning_events"`
	PositiveFeedback int       `json:"positive_feedback"`
	NegativeFeedback int       `json:"negative_feedback"`

	CacheHits         int64   `json:"cache_hits"`
	CacheMisses       int64   `json:"cache_misses"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	EstimatedSavedUSD float64 `json:"estimated_saved_usd"`
}

// ClusterDetails is the drill-down view of one cluster: the record itself
// plus recent activity. RecentLearning may be empty if the learning log
// could not be read; that read is non-critical and degrades silently.
type ClusterDetails struct {
	Cluster        *Cluster            `json:"cluster"`
	RecentQueries  []*QueryAssignment  `json:"recent_queries"`
	RecentLearning []*LearningLogEntry `json:"recent_learning"`
}

// SystemLogEntry is one record in the append-only system log sink.
type SystemLogEntry struct {
	Component  string         `json:"component"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// firstFailedField extracts the first failing field name from a validator
// error for InputError reporting.
func firstFailedField(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return ""
}
