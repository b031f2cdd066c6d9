// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the data model shared across the router:
// clusters, query assignments, learning log entries, cache entries, and
// the request/response contracts consumed by the API layer.
//
// All records are JSON-serializable for storage. Constructors assign IDs
// (uuid v4) and timestamps; callers never build records by hand.
package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Cluster is a semantic bucket of similar queries sharing one evolving
// prompt enhancement.
//
// Invariants:
//   - EnhancementHash always equals EnhancementHashOf(PromptEnhancement).
//   - Version strictly increases on every enhancement mutation.
//   - SuccessCount <= TotalQueries.
//   - Centroid is fixed at creation time and never recomputed. This mirrors
//     the original system's behavior; see DESIGN.md for the tradeoff.
type Cluster struct {
	ID                  string    `json:"id"`
	Centroid            []float32 `json:"centroid"`
	RepresentativeQuery string    `json:"representative_query"`
	Name                string    `json:"name,omitempty"`
	PromptEnhancement   string    `json:"prompt_enhancement"`
	EnhancementHash     string    `json:"prompt_enhancement_hash"`
	Version             int64     `json:"version"`
	TotalQueries        int64     `json:"total_queries"`
	SuccessCount        int64     `json:"success_count"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewCluster creates a cluster seeded by a single query. The centroid is the
// seeding query's embedding, the representative query is the seeding text,
// and the enhancement starts empty.
func NewCluster(centroid []float32, representativeQuery string) *Cluster {
	now := time.Now().UTC()
	return &Cluster{
		ID:                  uuid.NewString(),
		Centroid:            centroid,
		RepresentativeQuery: representativeQuery,
		PromptEnhancement:   "",
		EnhancementHash:     EnhancementHashOf(""),
		Version:             1,
		TotalQueries:        1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// SuccessRate returns SuccessCount/TotalQueries, or 0 for an empty cluster.
func (c *Cluster) SuccessRate() float64 {
	if c.TotalQueries == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(c.TotalQueries)
}

// HasEnhancement reports whether the cluster carries a non-empty prompt
// enhancement.
func (c *Cluster) HasEnhancement() bool {
	return c.PromptEnhancement != ""
}

// EnhancementHashOf returns the hex SHA-256 content hash of an enhancement
// string. The empty enhancement hashes to the empty string so that "no
// enhancement yet" is distinguishable from any real content.
func EnhancementHashOf(enhancement string) string {
	if enhancement == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(enhancement))
	return hex.EncodeToString(sum[:])
}
