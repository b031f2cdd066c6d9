// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
)

const factorsSystemPrompt = `You analyze why an AI tutoring response earned positive user feedback.
Reply with JSON only, no prose:
{
  "domain": "<subject area, lowercase, or empty>",
  "used_analogy": <bool>,
  "step_by_step": <bool>,
  "included_example": <bool>,
  "techniques": ["<short technique names>"],
  "domain_concepts": ["<concepts the response explained>"],
  "guidance": "<one sentence of reusable guidance for future responses>"
}`

// FactorExtractor derives structured success factors from a successful
// query/response/feedback triple. The factors feed enhancement generation.
type FactorExtractor struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewFactorExtractor creates an extractor backed by completer.
func NewFactorExtractor(completer llm.Completer, logger *slog.Logger) (*FactorExtractor, error) {
	if completer == nil {
		return nil, errors.New("completer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FactorExtractor{
		completer: completer,
		logger:    logger.With(slog.String("component", "factor_extractor")),
	}, nil
}

// Extract analyzes what made a response work.
//
// Outputs:
//
//	datatypes.SuccessFactors - The tagged factor record.
//	error - Upstream or parse failure. Callers treat failure as "no
//	        learning this round", never as a request failure.
func (e *FactorExtractor) Extract(ctx context.Context, queryText, responseText, feedbackText string) (datatypes.SuccessFactors, error) {
	maxTokens := 512
	temp := float32(0)

	prompt := fmt.Sprintf("Question:\n%s\n\nResponse:\n%s\n\nUser feedback:\n%s",
		queryText, truncate(responseText, 4000), feedbackText)

	result, err := e.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: factorsSystemPrompt,
		UserPrompt:   prompt,
		Temperature:  &temp,
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		return datatypes.SuccessFactors{}, fmt.Errorf("factor extraction: %w", err)
	}

	var factors datatypes.SuccessFactors
	if err := json.Unmarshal([]byte(extractJSON(result.Text)), &factors); err != nil {
		return datatypes.SuccessFactors{}, fmt.Errorf("parse factor response: %w", err)
	}
	return factors, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// extractJSON keeps the outermost JSON object of a model reply, dropping
// code fences and prose.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
