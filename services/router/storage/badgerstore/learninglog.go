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
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	dgbadger "github.com/dgraph-io/badger/v4"
)

// LearningLogStore implements storage.LearningLogStore on BadgerDB.
//
// The log is append-only. Keys embed the cluster id and a zero-padded
// creation timestamp so entries for one cluster form a contiguous,
// chronologically ordered key range.
//
// Thread Safety: Safe for concurrent use.
type LearningLogStore struct {
	db *badger.DB
}

// NewLearningLogStore creates a learning log store backed by db.
func NewLearningLogStore(db *badger.DB) (*LearningLogStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &LearningLogStore{db: db}, nil
}

func learningKey(clusterID string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", learningPrefix, clusterID, at.UnixNano(), id))
}

// Append persists a learning log entry.
func (s *LearningLogStore) Append(ctx context.Context, e *datatypes.LearningLogEntry) error {
	if e == nil || e.ID == "" {
		return errors.New("entry must not be nil and must have an id")
	}
	if e.ClusterID == "" {
		return errors.New("entry must have a cluster id")
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return setJSON(txn, learningKey(e.ClusterID, e.CreatedAt, e.ID), e)
	})
}

// ListByCluster returns up to limit entries for a cluster, newest first.
func (s *LearningLogStore) ListByCluster(ctx context.Context, clusterID string, limit int) ([]*datatypes.LearningLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	prefix := []byte(learningPrefix + clusterID + ":")
	var entries []*datatypes.LearningLogEntry

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			var e datatypes.LearningLogEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountSince returns the number of entries created at or after since.
func (s *LearningLogStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	count := 0
	prefix := []byte(learningPrefix)

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e datatypes.LearningLogEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return err
			}
			if !e.CreatedAt.Before(since) {
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
