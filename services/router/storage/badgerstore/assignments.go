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

// AssignmentStore implements storage.AssignmentStore on BadgerDB.
//
// Each assignment is written twice: the record itself under
// assignment:<id>, and an index entry under
// clusterassign:<cluster>:<unixnano:020d> whose value is the assignment
// id. The index makes "recent queries for cluster X" a reverse prefix
// scan instead of a full table walk.
//
// Thread Safety: Safe for concurrent use.
type AssignmentStore struct {
	db *badger.DB
}

// NewAssignmentStore creates an assignment store backed by db.
func NewAssignmentStore(db *badger.DB) (*AssignmentStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &AssignmentStore{db: db}, nil
}

func assignmentKey(id string) []byte {
	return []byte(assignmentPrefix + id)
}

func clusterAssignKey(clusterID string, at time.Time, id string) []byte {
	// The id suffix disambiguates assignments created in the same nanosecond.
	return []byte(fmt.Sprintf("%s%s:%020d:%s", clusterAssignPrefix, clusterID, at.UnixNano(), id))
}

// Put writes the assignment record and its cluster index entry in one
// transaction.
func (s *AssignmentStore) Put(ctx context.Context, a *datatypes.QueryAssignment) error {
	if a == nil || a.ID == "" {
		return errors.New("assignment must not be nil and must have an id")
	}
	if a.ClusterID == "" {
		return errors.New("assignment must have a cluster id")
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := setJSON(txn, assignmentKey(a.ID), a); err != nil {
			return err
		}
		return txn.Set(clusterAssignKey(a.ClusterID, a.CreatedAt, a.ID), []byte(a.ID))
	})
}

// Get returns the assignment with the given id, or storage.ErrNotFound.
func (s *AssignmentStore) Get(ctx context.Context, id string) (*datatypes.QueryAssignment, error) {
	var a datatypes.QueryAssignment
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, assignmentKey(id), &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// RecordFeedback sets the feedback fields exactly once.
//
// Description:
//
//	Reads the assignment inside a conflict-retried transaction and
//	writes the feedback flags. If feedback is already present the call
//	fails with storage.ErrFeedbackAlreadyRecorded; concurrent duplicate
//	submissions race on the Badger conflict check, so exactly one wins.
func (s *AssignmentStore) RecordFeedback(ctx context.Context, id string, positive bool, confidence float64) error {
	return s.db.WithConflictRetry(ctx, func(txn *dgbadger.Txn) error {
		var a datatypes.QueryAssignment
		if err := getJSON(txn, assignmentKey(id), &a); err != nil {
			return err
		}
		if a.FeedbackPositive != nil {
			return fmt.Errorf("assignment %s: %w", id, storage.ErrFeedbackAlreadyRecorded)
		}
		a.FeedbackPositive = &positive
		a.FeedbackConfidence = &confidence
		return setJSON(txn, assignmentKey(id), &a)
	})
}

// ListByCluster returns up to limit assignments for a cluster, newest first.
func (s *AssignmentStore) ListByCluster(ctx context.Context, clusterID string, limit int) ([]*datatypes.QueryAssignment, error) {
	if limit <= 0 {
		return nil, nil
	}

	prefix := []byte(clusterAssignPrefix + clusterID + ":")
	var ids []string

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek past the last key in the prefix range.
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(ids) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*datatypes.QueryAssignment, 0, len(ids))
	for _, id := range ids {
		a, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // index entry outlived the record
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ListMissingEmbeddings returns assignments persisted without an embedding,
// oldest first, at most limit. Used by the backfill job.
func (s *AssignmentStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]*datatypes.QueryAssignment, error) {
	if limit <= 0 {
		return nil, nil
	}

	var missing []*datatypes.QueryAssignment
	prefix := []byte(assignmentPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var a datatypes.QueryAssignment
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			})
			if err != nil {
				return err
			}
			if len(a.QueryEmbedding) == 0 {
				missing = append(missing, &a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(missing, func(i, j int) bool {
		return missing[i].CreatedAt.Before(missing[j].CreatedAt)
	})
	if len(missing) > limit {
		missing = missing[:limit]
	}
	return missing, nil
}

// UpdateEmbedding backfills the embedding on an existing assignment.
func (s *AssignmentStore) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return errors.New("embedding must not be empty")
	}
	return s.db.WithConflictRetry(ctx, func(txn *dgbadger.Txn) error {
		var a datatypes.QueryAssignment
		if err := getJSON(txn, assignmentKey(id), &a); err != nil {
			return err
		}
		a.QueryEmbedding = embedding
		return setJSON(txn, assignmentKey(id), &a)
	})
}

// StatsSince aggregates query and feedback counts over a window.
func (s *AssignmentStore) StatsSince(ctx context.Context, since time.Time) (storage.AssignmentStats, error) {
	var stats storage.AssignmentStats
	prefix := []byte(assignmentPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var a datatypes.QueryAssignment
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			})
			if err != nil {
				return err
			}
			if a.CreatedAt.Before(since) {
				continue
			}
			stats.Queries++
			if a.FeedbackPositive != nil {
				if *a.FeedbackPositive {
					stats.PositiveFeedback++
				} else {
					stats.NegativeFeedback++
				}
			}
		}
		return nil
	})
	if err != nil {
		return storage.AssignmentStats{}, err
	}
	return stats, nil
}
