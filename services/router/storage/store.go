// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistence contracts the router core depends
// on. Implementations live in subpackages (badgerstore for the embedded
// BadgerDB store); the core only ever sees these interfaces so stores can
// be swapped in tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an optimistic-concurrency check
	// fails: the record changed between read and write.
	ErrVersionConflict = errors.New("version conflict")

	// ErrFeedbackAlreadyRecorded is returned when feedback is submitted a
	// second time for the same assignment. Feedback is set exactly once.
	ErrFeedbackAlreadyRecorded = errors.New("feedback already recorded for assignment")
)

// ClusterStore persists cluster records and supports the counter and
// enhancement updates the core needs.
//
// Counter updates (IncrementTotalQueries, RecordSuccess) must be atomic:
// implementations may not fetch-compute-store without a conflict check,
// since concurrent feedback on the same cluster would lose updates.
type ClusterStore interface {
	Put(ctx context.Context, c *datatypes.Cluster) error
	Get(ctx context.Context, id string) (*datatypes.Cluster, error)

	// List returns all clusters sorted by ID. The sort order is what makes
	// nearest-cluster scans deterministic under similarity ties.
	List(ctx context.Context) ([]*datatypes.Cluster, error)

	// IncrementTotalQueries atomically bumps total_queries by one.
	IncrementTotalQueries(ctx context.Context, id string) error

	// RecordSuccess atomically bumps success_count by one and sets
	// last_success_at.
	RecordSuccess(ctx context.Context, id string, at time.Time) error

	// UpdateEnhancement replaces the enhancement if and only if the stored
	// version still equals expectedVersion, bumping the version and
	// recomputing timestamps. Returns ErrVersionConflict otherwise.
	UpdateEnhancement(ctx context.Context, id string, expectedVersion int64, enhancement, hash string) (*datatypes.Cluster, error)

	Count(ctx context.Context) (int, error)
	CountSince(ctx context.Context, since time.Time) (int, error)
}

// AssignmentStats aggregates feedback outcomes over a window.
type AssignmentStats struct {
	Queries          int
	PositiveFeedback int
	NegativeFeedback int
}

// AssignmentStore persists query assignments.
type AssignmentStore interface {
	Put(ctx context.Context, a *datatypes.QueryAssignment) error
	Get(ctx context.Context, id string) (*datatypes.QueryAssignment, error)

	// RecordFeedback sets the feedback fields exactly once; a second call
	// for the same assignment returns ErrFeedbackAlreadyRecorded.
	RecordFeedback(ctx context.Context, id string, positive bool, confidence float64) error

	// ListByCluster returns the newest assignments for a cluster, newest
	// first, at most limit.
	ListByCluster(ctx context.Context, clusterID string, limit int) ([]*datatypes.QueryAssignment, error)

	// ListMissingEmbeddings returns assignments persisted without an
	// embedding (rows predating embedding support), oldest first.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*datatypes.QueryAssignment, error)

	// UpdateEmbedding backfills the embedding on an existing assignment.
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error

	StatsSince(ctx context.Context, since time.Time) (AssignmentStats, error)
}

// LearningLogStore persists the append-only learning audit trail.
type LearningLogStore interface {
	Append(ctx context.Context, e *datatypes.LearningLogEntry) error

	// ListByCluster returns the newest entries for a cluster, newest first,
	// at most limit.
	ListByCluster(ctx context.Context, clusterID string, limit int) ([]*datatypes.LearningLogEntry, error)

	CountSince(ctx context.Context, since time.Time) (int, error)
}

// CacheStore is the persistent tier of the completion cache.
type CacheStore interface {
	Get(ctx context.Context, hash string) (*datatypes.CacheEntry, error)
	Put(ctx context.Context, e *datatypes.CacheEntry) error

	// Touch atomically increments cache_hits and updates last_accessed_at,
	// returning the new hit count.
	Touch(ctx context.Context, hash string, at time.Time) (int64, error)

	// DeleteOlderThan removes entries whose last access is before cutoff
	// and returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SystemLogStore is the append-only system-log sink.
type SystemLogStore interface {
	Append(ctx context.Context, e *datatypes.SystemLogEntry) error
	ListRecent(ctx context.Context, limit int) ([]*datatypes.SystemLogEntry, error)
}
