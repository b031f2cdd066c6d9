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
	"encoding/json"
	"errors"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	dgbadger "github.com/dgraph-io/badger/v4"
)

// CacheStore implements storage.CacheStore, the persistent tier of the
// completion cache, on BadgerDB. Entries are keyed by content hash.
//
// Thread Safety: Safe for concurrent use.
type CacheStore struct {
	db *badger.DB
}

// NewCacheStore creates a cache store backed by db.
func NewCacheStore(db *badger.DB) (*CacheStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &CacheStore{db: db}, nil
}

func cacheKey(hash string) []byte {
	return []byte(cachePrefix + hash)
}

// Get returns the cache entry for hash, or storage.ErrNotFound.
func (s *CacheStore) Get(ctx context.Context, hash string) (*datatypes.CacheEntry, error) {
	var e datatypes.CacheEntry
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, cacheKey(hash), &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Put writes a cache entry, replacing any existing entry for the hash.
// Identical requests produce identical hashes, so a racing duplicate
// write stores the same payload and either winner is correct.
func (s *CacheStore) Put(ctx context.Context, e *datatypes.CacheEntry) error {
	if e == nil || e.Hash == "" {
		return errors.New("entry must not be nil and must have a hash")
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return setJSON(txn, cacheKey(e.Hash), e)
	})
}

// Touch atomically increments cache_hits and updates last_accessed_at,
// returning the new hit count.
func (s *CacheStore) Touch(ctx context.Context, hash string, at time.Time) (int64, error) {
	var hits int64
	err := s.db.WithConflictRetry(ctx, func(txn *dgbadger.Txn) error {
		var e datatypes.CacheEntry
		if err := getJSON(txn, cacheKey(hash), &e); err != nil {
			return err
		}
		e.CacheHits++
		e.LastAccessAt = at.UTC()
		hits = e.CacheHits
		return setJSON(txn, cacheKey(hash), &e)
	})
	if err != nil {
		return 0, err
	}
	return hits, nil
}

// DeleteOlderThan removes entries whose last access is before cutoff.
//
// Description:
//
//	Scans the cache prefix in a read transaction collecting stale
//	hashes, then deletes them in a second write transaction. Entries
//	touched between the two transactions are simply deleted a sweep
//	late, which is acceptable for a cleanup job.
//
// Outputs:
//
//	int - Number of entries removed.
//	error - Non-nil if the scan or delete fails.
func (s *CacheStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var stale [][]byte
	prefix := []byte(cachePrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e datatypes.CacheEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			if e.LastAccessAt.Before(cutoff) {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(stale) == 0 {
		return 0, nil
	}

	err = s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(stale), nil
}
