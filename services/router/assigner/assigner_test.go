// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assigner

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badgerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssigner(t *testing.T, index VectorIndex) (*Assigner, *badgerstore.ClusterStore) {
	t.Helper()
	db, err := badger.OpenDB(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := badgerstore.NewClusterStore(db)
	require.NoError(t, err)

	a, err := New(store, index, Config{SimilarityThreshold: 0.75})
	require.NoError(t, err)
	return a, store
}

func putCluster(t *testing.T, store *badgerstore.ClusterStore, id string, centroid []float32) *datatypes.Cluster {
	t.Helper()
	c := datatypes.NewCluster(centroid, "seed query for "+id)
	c.ID = id
	require.NoError(t, store.Put(context.Background(), c))
	return c
}

func TestAssign_FirstQueryCreatesCluster(t *testing.T) {
	a, store := newTestAssigner(t, nil)
	ctx := context.Background()

	res, err := a.Assign(ctx, "what is recursion", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, 1.0, res.Similarity, "a new cluster is perfectly similar to its own centroid")
	assert.Equal(t, "what is recursion", res.Cluster.RepresentativeQuery)
	assert.Equal(t, []float32{1, 0, 0}, res.Cluster.Centroid)
	assert.Equal(t, int64(1), res.Cluster.TotalQueries)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAssign_JoinsClusterAboveThreshold(t *testing.T) {
	a, store := newTestAssigner(t, nil)
	ctx := context.Background()

	existing := putCluster(t, store, "c1", []float32{1, 0, 0})

	res, err := a.Assign(ctx, "explain recursion again", []float32{0.95, 0.05, 0})
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, existing.ID, res.Cluster.ID)
	assert.GreaterOrEqual(t, res.Similarity, 0.75)

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalQueries, "joining bumps the counter")
}

func TestAssign_BelowThresholdCreatesNewCluster(t *testing.T) {
	a, store := newTestAssigner(t, nil)
	ctx := context.Background()

	putCluster(t, store, "c1", []float32{1, 0, 0})

	// Orthogonal vector: similarity 0.
	res, err := a.Assign(ctx, "how do I bake bread", []float32{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.NotEqual(t, "c1", res.Cluster.ID)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAssign_TieResolvesToLowestClusterID(t *testing.T) {
	a, store := newTestAssigner(t, nil)
	ctx := context.Background()

	// Identical centroids: any query ties exactly.
	putCluster(t, store, "c2", []float32{1, 0, 0})
	putCluster(t, store, "c1", []float32{1, 0, 0})

	for i := 0; i < 3; i++ {
		res, err := a.Assign(ctx, "tied query", []float32{1, 0, 0})
		require.NoError(t, err)
		assert.False(t, res.IsNew)
		assert.Equal(t, "c1", res.Cluster.ID, "ties must resolve deterministically")
	}
}

func TestAssign_ExactThresholdJoins(t *testing.T) {
	db, err := badger.OpenDB(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := badgerstore.NewClusterStore(db)
	require.NoError(t, err)

	// cos((1,0), (3,4)) = 3/5 = 0.6 with no floating point slack.
	a, err := New(store, nil, Config{SimilarityThreshold: 0.6})
	require.NoError(t, err)
	ctx := context.Background()

	putCluster(t, store, "c1", []float32{1, 0})

	res, err := a.Assign(ctx, "edge query", []float32{3, 4})
	require.NoError(t, err)
	assert.False(t, res.IsNew, "similarity equal to the threshold joins")
	assert.InDelta(t, 0.6, res.Similarity, 1e-12)
}

// fakeIndex serves canned nearest results or errors.
type fakeIndex struct {
	nearestID  string
	score      float64
	ok         bool
	nearestErr error
	upserts    int
}

func (f *fakeIndex) Upsert(_ context.Context, _ string, _ []float32) error {
	f.upserts++
	return nil
}

func (f *fakeIndex) Nearest(_ context.Context, _ []float32) (string, float64, bool, error) {
	return f.nearestID, f.score, f.ok, f.nearestErr
}

func TestAssign_IndexHitSkipsScan(t *testing.T) {
	idx := &fakeIndex{nearestID: "c1", score: 0.9, ok: true}
	a, store := newTestAssigner(t, idx)
	ctx := context.Background()

	putCluster(t, store, "c1", []float32{1, 0, 0})

	res, err := a.Assign(ctx, "query", []float32{0.95, 0.05, 0})
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, "c1", res.Cluster.ID)
}

func TestAssign_IndexErrorFallsBackToScan(t *testing.T) {
	idx := &fakeIndex{nearestErr: errors.New("weaviate unreachable")}
	a, store := newTestAssigner(t, idx)
	ctx := context.Background()

	putCluster(t, store, "c1", []float32{1, 0, 0})

	res, err := a.Assign(ctx, "query", []float32{1, 0, 0})
	require.NoError(t, err, "index failure must not fail assignment")
	assert.False(t, res.IsNew)
	assert.Equal(t, "c1", res.Cluster.ID)
}

func TestAssign_NewClusterRegisteredInIndex(t *testing.T) {
	idx := &fakeIndex{}
	a, _ := newTestAssigner(t, idx)

	res, err := a.Assign(context.Background(), "query", []float32{1, 0, 0})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, 1, idx.upserts)
}

func TestAssign_EmptyEmbeddingRejected(t *testing.T) {
	a, _ := newTestAssigner(t, nil)

	_, err := a.Assign(context.Background(), "query", nil)
	assert.True(t, datatypes.IsInputError(err))
}
