// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assigner implements online threshold clustering: each query
// embedding either joins the nearest existing cluster or seeds a new one.
//
// Centroids are fixed at cluster creation. A cluster's centroid is the
// embedding of its first query; later members never shift it, so an
// assignment made once stays valid forever.
package assigner

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/similarity"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a query
// to join an existing cluster.
const DefaultSimilarityThreshold = 0.75

// VectorIndex accelerates nearest-cluster lookup. Implementations are
// optional; the assigner falls back to a full centroid scan when the
// index is absent or failing.
type VectorIndex interface {
	// Upsert registers or refreshes a cluster centroid.
	Upsert(ctx context.Context, clusterID string, centroid []float32) error

	// Nearest returns the closest cluster id and its cosine similarity.
	// ok is false when the index holds no candidates.
	Nearest(ctx context.Context, vector []float32) (clusterID string, score float64, ok bool, err error)
}

// Result describes the outcome of an assignment.
type Result struct {
	Cluster    *datatypes.Cluster
	Similarity float64
	IsNew      bool
}

// Config configures an Assigner.
type Config struct {
	// SimilarityThreshold for joining an existing cluster. Zero uses
	// DefaultSimilarityThreshold.
	SimilarityThreshold float64

	// Logger for assignment events. Nil uses slog.Default().
	Logger *slog.Logger
}

// Assigner routes query embeddings to clusters.
//
// Thread Safety: Safe for concurrent use.
type Assigner struct {
	clusters  storage.ClusterStore
	index     VectorIndex
	threshold float64
	logger    *slog.Logger
}

// New creates an Assigner. index may be nil; assignment then always uses
// the full scan.
func New(clusters storage.ClusterStore, index VectorIndex, cfg Config) (*Assigner, error) {
	if clusters == nil {
		return nil, errors.New("cluster store must not be nil")
	}
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		clusters:  clusters,
		index:     index,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "assigner")),
	}, nil
}

// Threshold returns the configured similarity threshold.
func (a *Assigner) Threshold() float64 { return a.threshold }

// Assign routes an embedding to its cluster, creating one when nothing
// is close enough.
//
// Description:
//
//	Finds the nearest cluster via the vector index when available,
//	otherwise by scanning all centroids in cluster-id order (so equal
//	scores always resolve to the same cluster). A match at or above the
//	threshold joins that cluster and bumps its query counter; anything
//	else seeds a new cluster whose centroid is this embedding. A new
//	cluster reports similarity 1.0, the similarity of the query to its
//	own centroid.
//
// Outputs:
//
//	*Result - The assigned or created cluster.
//	error - Persistence failures; index failures only degrade to a scan.
func (a *Assigner) Assign(ctx context.Context, queryText string, embedding []float32) (*Result, error) {
	if len(embedding) == 0 {
		return nil, datatypes.NewInputError("embedding", "must not be empty")
	}

	cluster, score, err := a.findNearest(ctx, embedding)
	if err != nil {
		return nil, err
	}

	if cluster != nil && score >= a.threshold {
		if err := a.clusters.IncrementTotalQueries(ctx, cluster.ID); err != nil {
			return nil, datatypes.NewPersistenceError("increment_total_queries", err)
		}
		cluster.TotalQueries++
		a.logger.Debug("query joined cluster",
			slog.String("cluster_id", cluster.ID),
			slog.Float64("similarity", score))
		return &Result{Cluster: cluster, Similarity: score, IsNew: false}, nil
	}

	created := datatypes.NewCluster(embedding, queryText)
	if err := a.clusters.Put(ctx, created); err != nil {
		return nil, datatypes.NewPersistenceError("create_cluster", err)
	}

	if a.index != nil {
		if err := a.index.Upsert(ctx, created.ID, created.Centroid); err != nil {
			a.logger.Warn("vector index upsert failed",
				slog.String("cluster_id", created.ID),
				slog.String("error", err.Error()))
		}
	}

	a.logger.Info("new cluster created",
		slog.String("cluster_id", created.ID),
		slog.Float64("best_similarity", score))
	return &Result{Cluster: created, Similarity: 1.0, IsNew: true}, nil
}

// findNearest returns the closest cluster and its similarity, or nil when
// no clusters exist. Index results are verified against the stored
// centroid so the reported similarity never depends on index internals.
func (a *Assigner) findNearest(ctx context.Context, embedding []float32) (*datatypes.Cluster, float64, error) {
	if a.index != nil {
		id, _, ok, err := a.index.Nearest(ctx, embedding)
		if err != nil {
			a.logger.Warn("vector index lookup failed, falling back to scan",
				slog.String("error", err.Error()))
		} else if ok {
			cluster, err := a.clusters.Get(ctx, id)
			if err == nil {
				score, serr := similarity.CosineSimilarity(embedding, cluster.Centroid)
				if serr == nil && score >= a.threshold {
					return cluster, score, nil
				}
				// Index candidate below threshold: the scan may still
				// find a better match.
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, 0, datatypes.NewPersistenceError("get_cluster", err)
			}
		}
	}

	clusters, err := a.clusters.List(ctx)
	if err != nil {
		return nil, 0, datatypes.NewPersistenceError("list_clusters", err)
	}
	if len(clusters) == 0 {
		return nil, 0, nil
	}

	centroids := make([][]float32, len(clusters))
	for i, c := range clusters {
		centroids[i] = c.Centroid
	}

	best, score := similarity.FindBestMatch(embedding, centroids)
	if best < 0 {
		return nil, 0, nil
	}
	return clusters[best], score, nil
}
