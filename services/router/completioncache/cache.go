// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package completioncache implements the two-tier content-addressed cache
// for upstream LLM calls.
//
// Tier one is an in-process LRU bounded by MaxMemoryEntries. Tier two is
// the persistent CacheStore. Lookups fall through memory to the
// persistent tier and re-admit on hit; inserts go to memory synchronously
// and to the persistent tier asynchronously so the request path never
// waits on disk.
package completioncache

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/observability"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
)

// DefaultMaxMemoryEntries bounds the in-process tier.
const DefaultMaxMemoryEntries = 100

const persistTimeout = 5 * time.Second

// Lookup outcome labels for the cache_lookups_total metric.
const (
	outcomeMemoryHit     = "memory_hit"
	outcomePersistentHit = "persistent_hit"
	outcomeMiss          = "miss"
)

// Config configures a Cache.
type Config struct {
	// MaxMemoryEntries bounds the memory tier. Zero uses the default.
	MaxMemoryEntries int

	// Metrics receives lookup outcomes and cost accrual. Nil disables.
	Metrics *observability.RouterMetrics

	// Logger for cache events. Nil uses slog.Default().
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	MemoryEntries  int     `json:"memory_entries"`
	MemoryHits     int64   `json:"memory_hits"`
	PersistentHits int64   `json:"persistent_hits"`
	Misses         int64   `json:"misses"`
	CostSaved      float64 `json:"cost_saved"`
}

// HitRate returns hits over total lookups, or 0 when no lookups occurred.
func (s Stats) HitRate() float64 {
	total := s.MemoryHits + s.PersistentHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.PersistentHits) / float64(total)
}

// Cache is the two-tier completion cache.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	store      storage.CacheStore
	logger     *slog.Logger
	metrics    *observability.RouterMetrics
	maxEntries int

	mu      sync.Mutex
	byHash  map[string]*list.Element
	lru     *list.List // front = most recently used
	hits    int64
	pHits   int64
	misses  int64
	saved   float64
	persist sync.WaitGroup
}

// New creates a Cache over the given persistent store.
func New(store storage.CacheStore, cfg Config) (*Cache, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	max := cfg.MaxMemoryEntries
	if max <= 0 {
		max = DefaultMaxMemoryEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:      store,
		logger:     logger.With(slog.String("component", "completion_cache")),
		metrics:    cfg.Metrics,
		maxEntries: max,
		byHash:     make(map[string]*list.Element),
		lru:        list.New(),
	}, nil
}

// Get looks up an entry by hash, falling through memory to the
// persistent tier.
//
// Description:
//
//	A memory hit promotes the entry to most-recently-used and bumps the
//	persistent hit counter asynchronously. A persistent hit re-admits
//	the entry into memory. Persistence errors other than not-found are
//	logged and treated as misses so a degraded store never fails the
//	request path.
func (c *Cache) Get(ctx context.Context, hash string) (*datatypes.CacheEntry, bool) {
	now := time.Now().UTC()

	c.mu.Lock()
	if el, ok := c.byHash[hash]; ok {
		c.lru.MoveToFront(el)
		entry := el.Value.(*datatypes.CacheEntry)
		entry.CacheHits++
		entry.LastAccessAt = now
		c.hits++
		c.saved += entry.CostEstimate
		snapshot := *entry
		c.mu.Unlock()

		c.recordLookup(outcomeMemoryHit)
		c.recordCostSaved(snapshot.CostEstimate)
		c.touchAsync(hash, now)
		return &snapshot, true
	}
	c.mu.Unlock()

	entry, err := c.store.Get(ctx, hash)
	if err != nil {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		c.recordLookup(outcomeMiss)
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("persistent cache lookup failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()))
		}
		return nil, false
	}

	entry.CacheHits++
	entry.LastAccessAt = now

	c.mu.Lock()
	c.pHits++
	c.saved += entry.CostEstimate
	c.admitLocked(entry)
	// Snapshot under the lock: the admitted entry is now shared state and
	// later memory hits mutate its counters.
	snapshot := *entry
	c.mu.Unlock()

	c.recordLookup(outcomePersistentHit)
	c.recordCostSaved(snapshot.CostEstimate)
	c.touchAsync(hash, now)
	return &snapshot, true
}

// Put inserts an entry into both tiers. The memory insert is synchronous;
// the persistent write happens on a detached goroutine.
func (c *Cache) Put(ctx context.Context, entry *datatypes.CacheEntry) {
	if entry == nil || entry.Hash == "" {
		return
	}

	// The memory tier takes its own copy: the caller keeps its pointer,
	// and once admitted the entry's hit counters are mutated under c.mu.
	owned := *entry

	c.mu.Lock()
	c.admitLocked(&owned)
	// Snapshot under the lock so the detached write serializes a stable
	// value while memory hits keep bumping the admitted entry.
	record := owned
	c.mu.Unlock()

	c.persist.Add(1)
	go func() {
		defer c.persist.Done()
		// Detached from the request context so a cancelled request does
		// not lose the write.
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := c.store.Put(pctx, &record); err != nil {
			c.logger.Warn("persistent cache write failed",
				slog.String("hash", record.Hash),
				slog.String("error", err.Error()))
		}
	}()
}

// admitLocked inserts or refreshes an entry in the memory tier, evicting
// the least recently used entry when the tier is over capacity.
// Caller holds c.mu.
func (c *Cache) admitLocked(entry *datatypes.CacheEntry) {
	if el, ok := c.byHash[entry.Hash]; ok {
		el.Value = entry
		c.lru.MoveToFront(el)
		return
	}

	c.byHash[entry.Hash] = c.lru.PushFront(entry)

	if c.lru.Len() > c.maxEntries {
		oldest := c.lru.Back()
		if oldest != nil {
			evicted := oldest.Value.(*datatypes.CacheEntry)
			c.lru.Remove(oldest)
			delete(c.byHash, evicted.Hash)
			// Evicted entries survive in the persistent tier.
		}
	}
}

func (c *Cache) recordLookup(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(outcome)
	}
}

func (c *Cache) recordCostSaved(usd float64) {
	if c.metrics != nil {
		c.metrics.RecordCostSaved(usd)
	}
}

func (c *Cache) touchAsync(hash string, at time.Time) {
	c.persist.Add(1)
	go func() {
		defer c.persist.Done()
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if _, err := c.store.Touch(pctx, hash, at); err != nil && !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("cache touch failed",
				slog.String("hash", hash),
				slog.String("error", err.Error()))
		}
	}()
}

// Cleanup removes persistent entries not accessed within maxAge and drops
// the matching memory entries. Returns the persistent removal count.
func (c *Cache) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	removed, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*datatypes.CacheEntry)
		if entry.LastAccessAt.Before(cutoff) {
			c.lru.Remove(el)
			delete(c.byHash, entry.Hash)
		}
		el = prev
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Info("cache cleanup completed", slog.Int("removed", removed))
	}
	return removed, nil
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		MemoryEntries:  c.lru.Len(),
		MemoryHits:     c.hits,
		PersistentHits: c.pHits,
		Misses:         c.misses,
		CostSaved:      c.saved,
	}
}

// Wait blocks until all in-flight asynchronous persistence work finishes.
// Intended for tests and shutdown.
func (c *Cache) Wait() {
	c.persist.Wait()
}
