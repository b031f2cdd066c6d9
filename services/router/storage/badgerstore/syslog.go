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
	"github.com/google/uuid"
)

// SystemLogStore implements storage.SystemLogStore on BadgerDB.
//
// Keys embed a zero-padded creation timestamp plus a UUID suffix, so
// entries written in the same nanosecond never collide and reverse
// iteration yields newest first.
//
// Thread Safety: Safe for concurrent use.
type SystemLogStore struct {
	db *badger.DB
}

// NewSystemLogStore creates a system log store backed by db.
func NewSystemLogStore(db *badger.DB) (*SystemLogStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &SystemLogStore{db: db}, nil
}

func syslogKey(at time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", syslogPrefix, at.UnixNano(), uuid.NewString()))
}

// Append persists a system log entry. A zero CreatedAt is filled in with
// the current time.
func (s *SystemLogStore) Append(ctx context.Context, e *datatypes.SystemLogEntry) error {
	if e == nil {
		return errors.New("entry must not be nil")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return setJSON(txn, syslogKey(e.CreatedAt), e)
	})
}

// ListRecent returns up to limit entries, newest first.
func (s *SystemLogStore) ListRecent(ctx context.Context, limit int) ([]*datatypes.SystemLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	prefix := []byte(syslogPrefix)
	var entries []*datatypes.SystemLogEntry

	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(entries) < limit; it.Next() {
			var e datatypes.SystemLogEntry
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
