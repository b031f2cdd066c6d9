// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/completioncache"
	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badgerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a fixed-dimension vector and can fail the first
// N calls with a rate limit error.
type fakeEmbedder struct {
	mu             sync.Mutex
	calls          int
	rateLimitsLeft int
	dims           int
	vector         []float32
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) (*llm.EmbeddingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.rateLimitsLeft > 0 {
		f.rateLimitsLeft--
		return nil, datatypes.NewUpstreamError("openai_embeddings", datatypes.UpstreamRateLimited, assert.AnError)
	}
	vec := f.vector
	if vec == nil {
		vec = make([]float32, f.dims)
		vec[0] = 1
	}
	return &llm.EmbeddingResult{Vector: vec, Model: "test-model", TokensUsed: 8}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestService(t *testing.T, emb *fakeEmbedder, withCache bool) (*Service, *completioncache.Cache) {
	t.Helper()

	var cache *completioncache.Cache
	if withCache {
		db, err := badger.OpenDB(badger.InMemoryConfig())
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		store, err := badgerstore.NewCacheStore(db)
		require.NoError(t, err)
		cache, err = completioncache.New(store, completioncache.Config{})
		require.NoError(t, err)
	}

	svc, err := NewService(emb, cache, Config{
		Model:     "test-model",
		Dims:      4,
		RetryWait: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return svc, cache
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "what is recursion", Normalize("  what   is\trecursion \n"))
	assert.Equal(t, "", Normalize("   \n\t "))
}

func TestEmbed_EmptyInputRejected(t *testing.T) {
	svc, _ := newTestService(t, &fakeEmbedder{dims: 4}, false)

	_, err := svc.Embed(context.Background(), "   ")
	assert.True(t, datatypes.IsInputError(err))
}

func TestEmbed_ReturnsValidatedVector(t *testing.T) {
	emb := &fakeEmbedder{dims: 4}
	svc, _ := newTestService(t, emb, false)

	vec, err := svc.Embed(context.Background(), "what is recursion")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, emb.callCount())
}

func TestEmbed_DimensionMismatchRejected(t *testing.T) {
	emb := &fakeEmbedder{vector: []float32{1, 0}} // wrong dims
	svc, _ := newTestService(t, emb, false)

	_, err := svc.Embed(context.Background(), "query")
	require.Error(t, err)
	upErr, ok := datatypes.IsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, datatypes.UpstreamInvalidInput, upErr.Kind)
}

func TestEmbed_RetriesOnceAfterRateLimit(t *testing.T) {
	emb := &fakeEmbedder{dims: 4, rateLimitsLeft: 1}
	svc, _ := newTestService(t, emb, false)

	vec, err := svc.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 2, emb.callCount())
}

func TestEmbed_SecondRateLimitSurfaces(t *testing.T) {
	emb := &fakeEmbedder{dims: 4, rateLimitsLeft: 2}
	svc, _ := newTestService(t, emb, false)

	_, err := svc.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.True(t, datatypes.IsRateLimited(err))
	assert.Equal(t, 2, emb.callCount(), "exactly one retry")
}

func TestEmbed_CacheAvoidsUpstream(t *testing.T) {
	emb := &fakeEmbedder{dims: 4}
	svc, cache := newTestService(t, emb, true)
	ctx := context.Background()

	_, err := svc.Embed(ctx, "what is recursion")
	require.NoError(t, err)
	cache.Wait()

	// Different surface whitespace, same normalized text.
	_, err = svc.Embed(ctx, "  what  is recursion ")
	require.NoError(t, err)
	assert.Equal(t, 1, emb.callCount())
	cache.Wait()
}

func TestEmbed_ConcurrentIdenticalQueriesCollapse(t *testing.T) {
	emb := &fakeEmbedder{dims: 4}
	svc, cache := newTestService(t, emb, true)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Embed(context.Background(), "same query")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, emb.callCount(), "singleflight and cache collapse duplicates")
	cache.Wait()
}
