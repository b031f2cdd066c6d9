// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.OpenDB(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testCluster(id string) *datatypes.Cluster {
	c := datatypes.NewCluster([]float32{1, 0, 0}, "how do I test "+id)
	c.ID = id
	return c
}

func TestClusterStore_PutGet(t *testing.T) {
	db := openTestDB(t)
	store, err := NewClusterStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	c := testCluster("c1")
	require.NoError(t, store.Put(ctx, c))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.RepresentativeQuery, got.RepresentativeQuery)
	assert.Equal(t, c.Centroid, got.Centroid)
	assert.Equal(t, int64(1), got.Version)
}

func TestClusterStore_GetMissing(t *testing.T) {
	db := openTestDB(t)
	store, err := NewClusterStore(db)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClusterStore_ListSortedByID(t *testing.T) {
	db := openTestDB(t)
	store, err := NewClusterStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"c3", "c1", "c2"} {
		require.NoError(t, store.Put(ctx, testCluster(id)))
	}

	clusters, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 3)
	assert.Equal(t, "c1", clusters[0].ID)
	assert.Equal(t, "c2", clusters[1].ID)
	assert.Equal(t, "c3", clusters[2].ID)
}

func TestClusterStore_ConcurrentIncrements(t *testing.T) {
	db := openTestDB(t)
	store, err := NewClusterStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	c := testCluster("c1")
	require.NoError(t, store.Put(ctx, c))

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.IncrementTotalQueries(ctx, "c1")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	// NewCluster starts at 1; no increment may be lost.
	assert.Equal(t, int64(1+workers), got.TotalQueries)
}

func TestClusterStore_RecordSuccess(t *testing.T) {
	db := openTestDB(t)
	store, err := NewClusterStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testCluster("c1")))

	at := time.Now().UTC()
	require.NoError(t, store.RecordSuccess(ctx, "c1", at))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.SuccessCount)
	assert.WithinDuration(t, at, got.LastSuccessAt, time.Second)
}

func TestClusterStore_UpdateEnhancementCAS(t *testing.T) {
	db := openTestDB(t)
	store, err := NewClusterStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, testCluster("c1")))

	enh := "When responding to questions in this category: Use analogies."
	hash := datatypes.EnhancementHashOf(enh)

	updated, err := store.UpdateEnhancement(ctx, "c1", 1, enh, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, enh, updated.PromptEnhancement)
	assert.Equal(t, hash, updated.EnhancementHash)

	// Stale version must be rejected.
	_, err = store.UpdateEnhancement(ctx, "c1", 1, "stale", "x")
	assert.ErrorIs(t, err, storage.ErrVersionConflict)

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, enh, got.PromptEnhancement)
}

func TestClusterStore_CountSince(t *testing.T) {
	db := openTestDB(t)
	store, err := NewClusterStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	old := testCluster("c1")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Put(ctx, old))
	require.NoError(t, store.Put(ctx, testCluster("c2")))

	total, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	recent, err := store.CountSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, recent)
}

func TestAssignmentStore_FeedbackSetOnce(t *testing.T) {
	db := openTestDB(t)
	store, err := NewAssignmentStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	c := testCluster("c1")
	a := datatypes.NewQueryAssignment("what is recursion", []float32{1, 0, 0}, c, 0.91)
	require.NoError(t, store.Put(ctx, a))

	require.NoError(t, store.RecordFeedback(ctx, a.ID, true, 0.88))

	err = store.RecordFeedback(ctx, a.ID, false, 0.7)
	assert.ErrorIs(t, err, storage.ErrFeedbackAlreadyRecorded)

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FeedbackPositive)
	assert.True(t, *got.FeedbackPositive)
	require.NotNil(t, got.FeedbackConfidence)
	assert.InDelta(t, 0.88, *got.FeedbackConfidence, 1e-9)
}

func TestAssignmentStore_ListByClusterNewestFirst(t *testing.T) {
	db := openTestDB(t)
	store, err := NewAssignmentStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	c := testCluster("c1")
	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 5; i++ {
		a := datatypes.NewQueryAssignment("query", []float32{1, 0, 0}, c, 0.9)
		a.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Put(ctx, a))
		ids = append(ids, a.ID)
	}

	// An assignment in another cluster must not leak in.
	other := testCluster("c2")
	b := datatypes.NewQueryAssignment("other", []float32{0, 1, 0}, other, 0.8)
	require.NoError(t, store.Put(ctx, b))

	got, err := store.ListByCluster(ctx, "c1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ids[4], got[0].ID)
	assert.Equal(t, ids[3], got[1].ID)
	assert.Equal(t, ids[2], got[2].ID)
}

func TestAssignmentStore_MissingEmbeddingsBackfill(t *testing.T) {
	db := openTestDB(t)
	store, err := NewAssignmentStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	c := testCluster("c1")
	withEmb := datatypes.NewQueryAssignment("has embedding", []float32{1, 0, 0}, c, 0.9)
	require.NoError(t, store.Put(ctx, withEmb))

	older := datatypes.NewQueryAssignment("older no embedding", nil, c, 0.9)
	older.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Put(ctx, older))

	newer := datatypes.NewQueryAssignment("newer no embedding", nil, c, 0.9)
	require.NoError(t, store.Put(ctx, newer))

	missing, err := store.ListMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, older.ID, missing[0].ID, "oldest first")

	require.NoError(t, store.UpdateEmbedding(ctx, older.ID, []float32{0, 1, 0}))

	missing, err = store.ListMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, newer.ID, missing[0].ID)
}

func TestAssignmentStore_StatsSince(t *testing.T) {
	db := openTestDB(t)
	store, err := NewAssignmentStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	c := testCluster("c1")
	a1 := datatypes.NewQueryAssignment("q1", []float32{1, 0, 0}, c, 0.9)
	require.NoError(t, store.Put(ctx, a1))
	require.NoError(t, store.RecordFeedback(ctx, a1.ID, true, 0.9))

	a2 := datatypes.NewQueryAssignment("q2", []float32{1, 0, 0}, c, 0.9)
	require.NoError(t, store.Put(ctx, a2))
	require.NoError(t, store.RecordFeedback(ctx, a2.ID, false, 0.8))

	a3 := datatypes.NewQueryAssignment("q3", []float32{1, 0, 0}, c, 0.9)
	require.NoError(t, store.Put(ctx, a3))

	stats, err := store.StatsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Queries)
	assert.Equal(t, 1, stats.PositiveFeedback)
	assert.Equal(t, 1, stats.NegativeFeedback)
}

func TestLearningLogStore_AppendAndList(t *testing.T) {
	db := openTestDB(t)
	store, err := NewLearningLogStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		e := datatypes.NewLearningLogEntry("c1", "a1", datatypes.SuccessFactors{UsedAnalogy: true}, datatypes.PromptUpdate{NewVersion: int64(i + 2)}, "", 0.9)
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Append(ctx, e))
		ids = append(ids, e.ID)
	}

	entries, err := store.ListByCluster(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ids[2], entries[0].ID, "newest first")
	assert.Equal(t, ids[1], entries[1].ID)

	count, err := store.CountSince(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCacheStore_TouchIncrementsHits(t *testing.T) {
	db := openTestDB(t)
	store, err := NewCacheStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	entry := &datatypes.CacheEntry{
		Hash:         "abc123",
		Kind:         "completion",
		Model:        "gpt-4o-mini",
		Payload:      []byte(`{"text":"hello"}`),
		TokensUsed:   42,
		CostEstimate: 0.0001,
		CreatedAt:    time.Now().UTC(),
		LastAccessAt: time.Now().UTC(),
	}
	require.NoError(t, store.Put(ctx, entry))

	hits, err := store.Touch(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)

	hits, err = store.Touch(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits)

	_, err = store.Touch(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCacheStore_DeleteOlderThan(t *testing.T) {
	db := openTestDB(t)
	store, err := NewCacheStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	stale := &datatypes.CacheEntry{
		Hash:         "stale",
		Kind:         "completion",
		Payload:      []byte(`{}`),
		CreatedAt:    time.Now().Add(-40 * 24 * time.Hour),
		LastAccessAt: time.Now().Add(-40 * 24 * time.Hour),
	}
	fresh := &datatypes.CacheEntry{
		Hash:         "fresh",
		Kind:         "completion",
		Payload:      []byte(`{}`),
		CreatedAt:    time.Now(),
		LastAccessAt: time.Now(),
	}
	require.NoError(t, store.Put(ctx, stale))
	require.NoError(t, store.Put(ctx, fresh))

	removed, err := store.DeleteOlderThan(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.Get(ctx, "fresh")
	require.NoError(t, err)
}

func TestSystemLogStore_ListRecent(t *testing.T) {
	db := openTestDB(t)
	store, err := NewSystemLogStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		e := &datatypes.SystemLogEntry{
			Component: "router",
			Level:     "INFO",
			Message:   "event",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.Append(ctx, e))
	}

	entries, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, base.Add(3*time.Second), entries[0].CreatedAt)
	assert.Equal(t, base.Add(2*time.Second), entries[1].CreatedAt)
}
