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

	"github.com/google/uuid"
)

// QueryAssignment links one query to the cluster it was routed to, with an
// immutable snapshot of the enhancement that was actually shown to the user.
//
// ClusterID and Similarity are set once at creation. FeedbackPositive and
// FeedbackConfidence are nil until feedback is processed and are set exactly
// once; a second feedback submission for the same assignment is rejected by
// the store.
type QueryAssignment struct {
	ID             string    `json:"id"`
	QueryText      string    `json:"query_text"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty"`
	ClusterID      string    `json:"cluster_id"`
	Similarity     float64   `json:"similarity"`

	// AppliedEnhancement reports whether a non-empty enhancement was in
	// effect when the query was processed. EnhancementUsed and
	// EnhancementHash snapshot that content; they never change even if the
	// cluster's enhancement evolves later.
	AppliedEnhancement bool   `json:"applied_prompt_enhancement"`
	EnhancementUsed    string `json:"prompt_enhancement_used"`
	EnhancementHash    string `json:"prompt_enhancement_hash"`

	FeedbackPositive   *bool    `json:"feedback_positive,omitempty"`
	FeedbackConfidence *float64 `json:"feedback_confidence,omitempty"`

	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewQueryAssignment creates an assignment snapshotting the cluster's
// current enhancement.
func NewQueryAssignment(queryText string, embedding []float32, cluster *Cluster, similarity float64) *QueryAssignment {
	return &QueryAssignment{
		ID:                 uuid.NewString(),
		QueryText:          queryText,
		QueryEmbedding:     embedding,
		ClusterID:          cluster.ID,
		Similarity:         similarity,
		AppliedEnhancement: cluster.HasEnhancement(),
		EnhancementUsed:    cluster.PromptEnhancement,
		EnhancementHash:    cluster.EnhancementHash,
		CreatedAt:          time.Now().UTC(),
	}
}

// HasFeedback reports whether feedback has already been recorded.
func (a *QueryAssignment) HasFeedback() bool {
	return a.FeedbackPositive != nil
}
