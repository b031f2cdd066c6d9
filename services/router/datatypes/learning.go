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

// LearningTrigger identifies what caused a prompt enhancement mutation.
type LearningTrigger string

const (
	// TriggerPositiveFeedback is currently the only learning trigger:
	// gated, high-confidence positive user feedback.
	TriggerPositiveFeedback LearningTrigger = "positive_feedback"
)

// SuccessFactors is the structured result of analyzing why a response
// worked. It replaces the original system's untyped JSON blobs with fixed
// fields so the evolution engine never touches raw maps.
type SuccessFactors struct {
	// Domain is a short label for the subject area of the query
	// (e.g. "calculus", "networking"). Empty when analysis could not
	// determine one.
	Domain string `json:"domain,omitempty"`

	UsedAnalogy     bool `json:"used_analogy"`
	StepByStep      bool `json:"step_by_step"`
	IncludedExample bool `json:"included_example"`

	// Techniques lists the concrete explanation techniques the response
	// used ("bicycle-gear analogy", "worked example").
	Techniques []string `json:"techniques,omitempty"`

	// DomainConcepts lists subject concepts the response handled well.
	DomainConcepts []string `json:"domain_concepts,omitempty"`

	// Guidance is free-text advice distilled from the feedback, used as
	// raw material for the enhancement update.
	Guidance string `json:"guidance,omitempty"`
}

// PromptUpdate captures an enhancement mutation: the new value and the
// hashes on both sides of the transition.
type PromptUpdate struct {
	NewEnhancement string `json:"new_enhancement"`
	NewHash        string `json:"new_hash"`
	PreviousHash   string `json:"previous_hash"`
	NewVersion     int64  `json:"new_version"`
}

// LearningLogEntry is the append-only audit record written for every prompt
// enhancement mutation. Entries are never updated or deleted; the condense
// step reads them back to see prior increments.
type LearningLogEntry struct {
	ID                  string          `json:"id"`
	ClusterID           string          `json:"cluster_id"`
	QueryAssignmentID   string          `json:"query_assignment_id"`
	ExtractedPatterns   SuccessFactors  `json:"extracted_patterns"`
	PromptUpdate        PromptUpdate    `json:"prompt_update"`
	PreviousEnhancement string          `json:"previous_prompt_enhancement"`
	ConfidenceScore     float64         `json:"confidence_score"`
	Trigger             LearningTrigger `json:"learning_trigger"`
	CreatedAt           time.Time       `json:"created_at"`
}

// NewLearningLogEntry creates an audit entry for one enhancement mutation.
func NewLearningLogEntry(clusterID, assignmentID string, factors SuccessFactors, update PromptUpdate, previous string, confidence float64) *LearningLogEntry {
	return &LearningLogEntry{
		ID:                  uuid.NewString(),
		ClusterID:           clusterID,
		QueryAssignmentID:   assignmentID,
		ExtractedPatterns:   factors,
		PromptUpdate:        update,
		PreviousEnhancement: previous,
		ConfidenceScore:     confidence,
		Trigger:             TriggerPositiveFeedback,
		CreatedAt:           time.Now().UTC(),
	}
}
