// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectorindex provides a Weaviate-backed nearest-cluster index.
//
// # Description
//
// The index stores one object per cluster, vectorized by the cluster's
// centroid, and answers nearest-neighbor queries with cosine similarity.
// It is an optimization layer only: the assigner re-verifies every
// candidate against the stored centroid and degrades to a brute-force
// scan when the index is down, so this package never needs to be correct
// about gating, only fast.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in Weaviate.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding cluster centroids.
const ClassName = "QueryCluster"

// ErrNoClient is returned by New when the Weaviate client is nil.
var ErrNoClient = errors.New("weaviate client must not be nil")

// Index is a Weaviate-backed assigner.VectorIndex.
type Index struct {
	client *weaviate.Client
	logger *slog.Logger
}

// New wraps a connected Weaviate client.
func New(client *weaviate.Client, logger *slog.Logger) (*Index, error) {
	if client == nil {
		return nil, ErrNoClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		client: client,
		logger: logger.With(slog.String("component", "vectorindex")),
	}, nil
}

// clusterSchema returns the QueryCluster class definition. Objects carry
// their own vectors (the cluster centroid), so no vectorizer module runs.
func clusterSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       ClassName,
		Description: "A query cluster centroid used for nearest-cluster routing.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "clusterId",
				DataType:        []string{"text"},
				Description:     "The cluster's store identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "representativeQuery",
				DataType:     []string{"text"},
				Description:  "The query that seeded the cluster.",
				Tokenization: "word",
			},
			{
				Name:        "createdAt",
				DataType:    []string{"date"},
				Description: "When the cluster was seeded.",
			},
		},
	}
}

// EnsureSchema creates the QueryCluster class if it does not exist.
// Idempotent.
func (i *Index) EnsureSchema(ctx context.Context) error {
	_, err := i.client.Schema().ClassGetter().WithClassName(ClassName).Do(ctx)
	if err == nil {
		i.logger.Debug("QueryCluster schema already exists")
		return nil
	}

	if err := i.client.Schema().ClassCreator().WithClass(clusterSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating %s schema: %w", ClassName, err)
	}
	i.logger.Info("Created QueryCluster schema")
	return nil
}

// Upsert registers a cluster centroid. Centroids are fixed at creation, so
// an already-indexed cluster is left untouched.
func (i *Index) Upsert(ctx context.Context, clusterID string, centroid []float32) error {
	exists, err := i.hasCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = i.client.Data().Creator().
		WithClassName(ClassName).
		WithProperties(map[string]interface{}{
			"clusterId": clusterID,
			"createdAt": time.Now().UTC().Format(time.RFC3339),
		}).
		WithVector(centroid).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("indexing cluster %s: %w", clusterID, err)
	}
	return nil
}

// Nearest returns the closest indexed cluster and its cosine similarity.
// ok is false when the index holds no candidates.
func (i *Index) Nearest(ctx context.Context, vector []float32) (string, float64, bool, error) {
	nearVector := i.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	// certainty is requested instead of distance: it is always in [0,1]
	// regardless of the configured distance metric.
	fields := []graphql.Field{
		{Name: "clusterId"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := i.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", 0, false, fmt.Errorf("weaviate nearest query: %w", err)
	}
	if len(result.Errors) > 0 {
		return "", 0, false, fmt.Errorf("weaviate nearest query: %s", result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return "", 0, false, nil
	}
	objects, ok := data[ClassName].([]interface{})
	if !ok || len(objects) == 0 {
		return "", 0, false, nil
	}

	obj, ok := objects[0].(map[string]interface{})
	if !ok {
		return "", 0, false, fmt.Errorf("weaviate nearest query: malformed object")
	}
	clusterID, ok := obj["clusterId"].(string)
	if !ok || clusterID == "" {
		return "", 0, false, fmt.Errorf("weaviate nearest query: missing clusterId")
	}
	additional, ok := obj["_additional"].(map[string]interface{})
	if !ok {
		return "", 0, false, fmt.Errorf("weaviate nearest query: missing _additional")
	}
	certainty, ok := additional["certainty"].(float64)
	if !ok {
		return "", 0, false, fmt.Errorf("weaviate nearest query: missing certainty")
	}

	return clusterID, certaintyToCosine(certainty), true, nil
}

// hasCluster reports whether a cluster is already indexed.
func (i *Index) hasCluster(ctx context.Context, clusterID string) (bool, error) {
	where := filters.Where().
		WithPath([]string{"clusterId"}).
		WithOperator(filters.Equal).
		WithValueString(clusterID)

	result, err := i.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(graphql.Field{Name: "clusterId"}).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("checking cluster %s: %w", clusterID, err)
	}
	if len(result.Errors) > 0 {
		return false, fmt.Errorf("checking cluster %s: %s", clusterID, result.Errors[0].Message)
	}

	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return false, nil
	}
	objects, ok := data[ClassName].([]interface{})
	return ok && len(objects) > 0, nil
}

// certaintyToCosine converts Weaviate certainty, defined as (1 + cos) / 2,
// back to cosine similarity.
func certaintyToCosine(certainty float64) float64 {
	return 2*certainty - 1
}
