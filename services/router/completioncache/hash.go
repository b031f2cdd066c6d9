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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/AleutianAI/AleutianRoute/services/router/llm"
)

// Kind discriminators keep embedding and completion entries from
// colliding even when model and text happen to match.
const (
	KindCompletion = "completion"
	KindEmbedding  = "embedding"
)

type hashMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// hashPayload is the canonical request form that gets hashed. Field
// order is fixed by the struct, so identical requests always produce
// identical JSON and identical hashes.
type hashPayload struct {
	Kind        string        `json:"kind"`
	Model       string        `json:"model"`
	Messages    []hashMessage `json:"messages"`
	Temperature *float32      `json:"temperature"`
	TopP        *float32      `json:"top_p"`
	MaxTokens   *int          `json:"max_tokens"`
}

func hashOf(p hashPayload) string {
	data, err := json.Marshal(p)
	if err != nil {
		// Marshal of this shape cannot fail; the panic guards refactors
		// that introduce unmarshalable fields.
		panic("completioncache: marshal hash payload: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CompletionHash derives the content-addressed cache key for a
// completion request.
func CompletionHash(req llm.CompletionRequest) string {
	var messages []hashMessage
	if req.SystemPrompt != "" {
		messages = append(messages, hashMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, hashMessage{Role: "user", Content: req.UserPrompt})

	return hashOf(hashPayload{
		Kind:        KindCompletion,
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
}

// EmbeddingHash derives the cache key for an embedding request.
func EmbeddingHash(model, text string) string {
	return hashOf(hashPayload{
		Kind:     KindEmbedding,
		Model:    model,
		Messages: []hashMessage{{Role: "user", Content: text}},
	})
}
