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
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	dgbadger "github.com/dgraph-io/badger/v4"
)

// ClusterStore implements storage.ClusterStore on BadgerDB.
//
// Counter updates run as read-modify-write transactions retried on
// badger.ErrConflict, which makes concurrent increments of the same
// cluster atomic instead of last-writer-wins.
//
// Thread Safety: Safe for concurrent use.
type ClusterStore struct {
	db *badger.DB
}

// NewClusterStore creates a cluster store backed by db.
func NewClusterStore(db *badger.DB) (*ClusterStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &ClusterStore{db: db}, nil
}

func clusterKey(id string) []byte {
	return []byte(clusterPrefix + id)
}

// Put writes a cluster record, replacing any existing record.
func (s *ClusterStore) Put(ctx context.Context, c *datatypes.Cluster) error {
	if c == nil || c.ID == "" {
		return errors.New("cluster must not be nil and must have an id")
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return setJSON(txn, clusterKey(c.ID), c)
	})
}

// Get returns the cluster with the given id, or storage.ErrNotFound.
func (s *ClusterStore) Get(ctx context.Context, id string) (*datatypes.Cluster, error) {
	var c datatypes.Cluster
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, clusterKey(id), &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns all clusters sorted by ID.
//
// Badger already iterates keys in lexicographic order, but the records
// are re-sorted after decoding so the guarantee does not depend on the
// key encoding.
func (s *ClusterStore) List(ctx context.Context) ([]*datatypes.Cluster, error) {
	var clusters []*datatypes.Cluster
	prefix := []byte(clusterPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var c datatypes.Cluster
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return fmt.Errorf("decode cluster %s: %w", it.Item().Key(), err)
			}
			clusters = append(clusters, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters, nil
}

// IncrementTotalQueries atomically bumps total_queries by one.
func (s *ClusterStore) IncrementTotalQueries(ctx context.Context, id string) error {
	return s.db.WithConflictRetry(ctx, func(txn *dgbadger.Txn) error {
		var c datatypes.Cluster
		if err := getJSON(txn, clusterKey(id), &c); err != nil {
			return err
		}
		c.TotalQueries++
		c.UpdatedAt = time.Now().UTC()
		return setJSON(txn, clusterKey(id), &c)
	})
}

// RecordSuccess atomically bumps success_count and sets last_success_at.
func (s *ClusterStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	return s.db.WithConflictRetry(ctx, func(txn *dgbadger.Txn) error {
		var c datatypes.Cluster
		if err := getJSON(txn, clusterKey(id), &c); err != nil {
			return err
		}
		c.SuccessCount++
		c.LastSuccessAt = at.UTC()
		c.UpdatedAt = time.Now().UTC()
		return setJSON(txn, clusterKey(id), &c)
	})
}

// UpdateEnhancement performs a version-checked compare-and-swap of the
// prompt enhancement.
//
// Description:
//
//	Reads the cluster, verifies the stored version still equals
//	expectedVersion, then writes the new enhancement with version+1.
//	A version mismatch returns storage.ErrVersionConflict so the caller
//	can re-read and decide whether its update still applies.
//
// Outputs:
//
//	*datatypes.Cluster - The updated cluster on success.
//	error - storage.ErrNotFound, storage.ErrVersionConflict, or a
//	        transaction error.
func (s *ClusterStore) UpdateEnhancement(ctx context.Context, id string, expectedVersion int64, enhancement, hash string) (*datatypes.Cluster, error) {
	var updated datatypes.Cluster
	err := s.db.WithConflictRetry(ctx, func(txn *dgbadger.Txn) error {
		var c datatypes.Cluster
		if err := getJSON(txn, clusterKey(id), &c); err != nil {
			return err
		}
		if c.Version != expectedVersion {
			return fmt.Errorf("cluster %s at version %d, expected %d: %w",
				id, c.Version, expectedVersion, storage.ErrVersionConflict)
		}
		c.PromptEnhancement = enhancement
		c.EnhancementHash = hash
		c.Version++
		c.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, clusterKey(id), &c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Count returns the number of clusters.
func (s *ClusterStore) Count(ctx context.Context) (int, error) {
	return s.countWhere(ctx, func(*datatypes.Cluster) bool { return true })
}

// CountSince returns the number of clusters created at or after since.
func (s *ClusterStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	return s.countWhere(ctx, func(c *datatypes.Cluster) bool {
		return !c.CreatedAt.Before(since)
	})
}

func (s *ClusterStore) countWhere(ctx context.Context, keep func(*datatypes.Cluster) bool) (int, error) {
	count := 0
	prefix := []byte(clusterPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c datatypes.Cluster
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			if keep(&c) {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
