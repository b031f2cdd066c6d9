// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding produces validated query embeddings.
//
// The service normalizes input text, serves repeated queries from the
// completion cache, collapses concurrent identical requests with
// singleflight, rate-limits upstream calls, and retries once after a
// short wait when the upstream throttles.
package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRoute/services/router/completioncache"
	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
	"github.com/AleutianAI/AleutianRoute/services/router/similarity"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// DefaultDims matches the OpenAI small embedding models.
	DefaultDims = 1536

	// DefaultRetryWait is how long to back off before the single retry
	// after an upstream rate limit.
	DefaultRetryWait = 500 * time.Millisecond

	// maxInputChars truncates pathological inputs before they reach the
	// upstream token limit.
	maxInputChars = 8000
)

// Config configures the embedding Service.
type Config struct {
	// Model names the embedding model; it is part of the cache key.
	Model string

	// Dims is the expected vector dimensionality. Zero uses DefaultDims.
	Dims int

	// RequestsPerSecond caps upstream embedding calls. Zero disables
	// client-side limiting.
	RequestsPerSecond float64

	// Burst for the rate limiter. Zero defaults to 1 when limiting is on.
	Burst int

	// RetryWait before the single retry after a rate limit response.
	// Zero uses DefaultRetryWait.
	RetryWait time.Duration

	// Logger for service events. Nil uses slog.Default().
	Logger *slog.Logger
}

// Service embeds query text.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	embedder  llm.Embedder
	cache     *completioncache.Cache
	limiter   *rate.Limiter
	group     singleflight.Group
	model     string
	dims      int
	retryWait time.Duration
	logger    *slog.Logger
}

// NewService creates an embedding service. cache may be nil to disable
// caching (used by tests and one-shot jobs).
func NewService(embedder llm.Embedder, cache *completioncache.Cache, cfg Config) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("model must not be empty")
	}

	dims := cfg.Dims
	if dims <= 0 {
		dims = DefaultDims
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = DefaultRetryWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Service{
		embedder:  embedder,
		cache:     cache,
		limiter:   limiter,
		model:     cfg.Model,
		dims:      dims,
		retryWait: retryWait,
		logger:    logger.With(slog.String("component", "embedding")),
	}, nil
}

// Dims returns the expected vector dimensionality.
func (s *Service) Dims() int { return s.dims }

// Normalize canonicalizes query text before embedding: trims, collapses
// whitespace runs to single spaces, and truncates oversized input. Two
// queries that normalize identically share one embedding.
func Normalize(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if len(normalized) > maxInputChars {
		normalized = normalized[:maxInputChars]
	}
	return normalized
}

// Embed returns the embedding vector for text.
//
// Description:
//
//	Normalizes the text, checks the cache, and otherwise calls upstream
//	under the rate limiter with singleflight collapsing concurrent
//	identical requests. A rate-limited upstream call is retried exactly
//	once after RetryWait. The resulting vector is validated for
//	dimensionality and finiteness before it is cached or returned.
//
// Outputs:
//
//	[]float32 - The embedding vector.
//	error - InputError for empty text, UpstreamError for provider
//	        failures, or a validation error for malformed vectors.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, datatypes.NewInputError("query_text", "must not be empty")
	}

	hash := completioncache.EmbeddingHash(s.model, normalized)

	if s.cache != nil {
		if entry, ok := s.cache.Get(ctx, hash); ok {
			var vec []float32
			if err := json.Unmarshal(entry.Payload, &vec); err == nil {
				if err := similarity.Validate(vec, s.dims); err == nil {
					return vec, nil
				}
			}
			s.logger.Warn("corrupt cached embedding, treating as miss", slog.String("hash", hash))
		}
	}

	v, err, _ := s.group.Do(hash, func() (any, error) {
		return s.embedUpstream(ctx, normalized, hash)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (s *Service) embedUpstream(ctx context.Context, text, hash string) ([]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := s.embedder.Embed(ctx, text)
	if datatypes.IsRateLimited(err) {
		s.logger.Warn("embedding rate limited, retrying once",
			slog.Duration("wait", s.retryWait))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryWait):
		}
		result, err = s.embedder.Embed(ctx, text)
	}
	if err != nil {
		return nil, err
	}

	if err := similarity.Validate(result.Vector, s.dims); err != nil {
		return nil, datatypes.NewUpstreamError("openai_embeddings", datatypes.UpstreamInvalidInput,
			err)
	}

	if s.cache != nil {
		payload, merr := json.Marshal(result.Vector)
		if merr == nil {
			now := time.Now().UTC()
			s.cache.Put(ctx, &datatypes.CacheEntry{
				Hash:         hash,
				Kind:         completioncache.KindEmbedding,
				Model:        s.model,
				Payload:      payload,
				TokensUsed:   result.TokensUsed,
				CostEstimate: completioncache.EstimateCost(s.model, result.TokensUsed),
				CreatedAt:    now,
				LastAccessAt: now,
			})
		}
	}

	return result.Vector, nil
}
