// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"time"
)

// CacheEntry is one persisted LLM call result, keyed by the content hash of
// the normalized request. The hash is a pure function of request content:
// the same request always maps to the same key.
type CacheEntry struct {
	// Hash is the primary key: hex SHA-256 of the canonical request.
	Hash string `json:"hash"`

	// Kind discriminates request families sharing the same literal text
	// ("completion" vs "embedding") so their keys never collide.
	Kind string `json:"kind"`

	Model        string          `json:"model"`
	Payload      json.RawMessage `json:"payload"`
	TokensUsed   int             `json:"tokens_used"`
	CostEstimate float64         `json:"cost_estimate"`
	CacheHits    int64           `json:"cache_hits"`
	CreatedAt    time.Time       `json:"created_at"`
	LastAccessAt time.Time       `json:"last_accessed_at"`
}
