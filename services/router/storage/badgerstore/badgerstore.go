// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the storage interfaces on an embedded
// BadgerDB instance.
//
// All stores share one database; each uses its own key prefix so the
// keyspace stays iterable per concern:
//
//	cluster:<id>
//	assignment:<id>
//	clusterassign:<cluster>:<unixnano:020d>
//	learning:<cluster>:<unixnano:020d>
//	cache:<hash>
//	syslog:<unixnano:020d>:<uuid>
//
// Records are JSON-encoded. Timestamp segments in index keys are
// zero-padded so lexicographic key order matches chronological order
// and reverse iteration yields newest first.
package badgerstore

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/AleutianRoute/services/router/storage"
	dgbadger "github.com/dgraph-io/badger/v4"
)

const (
	clusterPrefix       = "cluster:"
	assignmentPrefix    = "assignment:"
	clusterAssignPrefix = "clusterassign:"
	learningPrefix      = "learning:"
	cachePrefix         = "cache:"
	syslogPrefix        = "syslog:"
)

// getJSON reads a key inside a transaction and unmarshals it into out.
// Maps badger.ErrKeyNotFound to storage.ErrNotFound.
func getJSON(txn *dgbadger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		if err == dgbadger.ErrKeyNotFound {
			return storage.ErrNotFound
		}
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

// setJSON marshals v and writes it under key inside a transaction.
func setJSON(txn *dgbadger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return txn.Set(key, data)
}
