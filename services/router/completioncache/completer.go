// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package completioncache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
)

// CachedCompleter wraps an llm.Completer with the two-tier cache.
//
// The request's model is resolved before hashing so the same prompt
// hashes identically whether the caller names the model or relies on
// the default.
type CachedCompleter struct {
	inner        llm.Completer
	cache        *Cache
	defaultModel string
	logger       *slog.Logger
}

// NewCachedCompleter wraps inner with cache. defaultModel fills requests
// that leave Model empty.
func NewCachedCompleter(inner llm.Completer, cache *Cache, defaultModel string, logger *slog.Logger) (*CachedCompleter, error) {
	if inner == nil {
		return nil, errors.New("inner completer must not be nil")
	}
	if cache == nil {
		return nil, errors.New("cache must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCompleter{
		inner:        inner,
		cache:        cache,
		defaultModel: defaultModel,
		logger:       logger.With(slog.String("component", "cached_completer")),
	}, nil
}

// Complete implements llm.Completer.
//
// Description:
//
//	Resolves the model, derives the content hash, and serves from cache
//	on a hit. On a miss the inner completer runs and the result is
//	cached with its token usage and cost estimate. A corrupt cached
//	payload is treated as a miss rather than failing the call.
func (cc *CachedCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	if req.Model == "" {
		req.Model = cc.defaultModel
	}
	hash := CompletionHash(req)

	if entry, ok := cc.cache.Get(ctx, hash); ok {
		var result llm.CompletionResult
		if err := json.Unmarshal(entry.Payload, &result); err == nil {
			cc.logger.Debug("completion served from cache",
				slog.String("hash", hash),
				slog.Int64("cache_hits", entry.CacheHits))
			return &result, nil
		}
		cc.logger.Warn("corrupt cached completion payload, treating as miss",
			slog.String("hash", hash))
	}

	result, err := cc.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		// Cache insert is best-effort; the completion itself is good.
		cc.logger.Warn("marshal completion for cache failed", slog.String("error", err.Error()))
		return result, nil
	}

	now := time.Now().UTC()
	cc.cache.Put(ctx, &datatypes.CacheEntry{
		Hash:         hash,
		Kind:         KindCompletion,
		Model:        req.Model,
		Payload:      payload,
		TokensUsed:   result.TokensUsed,
		CostEstimate: EstimateCost(req.Model, result.TokensUsed),
		CreatedAt:    now,
		LastAccessAt: now,
	})

	return result, nil
}
