// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm defines the upstream model interfaces the router depends on
// and the OpenAI-backed implementation.
package llm

import "context"

// CompletionRequest is a single-turn chat completion request.
type CompletionRequest struct {
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	UserPrompt   string   `json:"user_prompt"`
	Temperature  *float32 `json:"temperature,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
}

// CompletionResult is the upstream response plus usage accounting.
type CompletionResult struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// EmbeddingResult is an embedding vector plus usage accounting.
type EmbeddingResult struct {
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
	TokensUsed int       `json:"tokens_used"`
}

// Embedder produces embedding vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (*EmbeddingResult, error)
}

// Completer runs chat completions.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}
