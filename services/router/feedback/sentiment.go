// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianRoute/services/router/llm"
)

// Analyzer classifies feedback sentiment.
type Analyzer interface {
	Analyze(ctx context.Context, feedbackText string) (Sentiment, error)
}

// positiveCues and negativeCues drive the keyword analyzer. Matching is
// substring-based on the lowercased text, so "helpful" matches "help".
var (
	positiveCues = []string{
		"thank", "clear", "help", "understood", "great",
		"perfect", "excellent", "awesome", "makes sense", "got it",
		"finally get", "love", "amazing", "useful", "exactly",
	}
	negativeCues = []string{
		"confus", "wrong", "unclear", "bad", "didn't help",
		"does not help", "doesn't make sense", "useless", "worse",
		"incorrect", "not helpful", "don't understand", "terrible",
	}
)

// KeywordAnalyzer is a deterministic, dependency-free sentiment analyzer.
//
// It scores feedback by cue matches on both polarity lists. Confidence
// grows with the margin between positive and negative matches, floored
// at 0.5 (a coin flip) and capped at 0.95 (keyword matching is never
// certain).
type KeywordAnalyzer struct{}

// Analyze implements Analyzer. It never returns an error.
func (KeywordAnalyzer) Analyze(_ context.Context, feedbackText string) (Sentiment, error) {
	text := strings.ToLower(feedbackText)

	positive := 0
	for _, cue := range positiveCues {
		if strings.Contains(text, cue) {
			positive++
		}
	}
	negative := 0
	for _, cue := range negativeCues {
		if strings.Contains(text, cue) {
			negative++
		}
	}

	margin := positive - negative
	isPositive := margin > 0

	confidence := 0.5
	abs := margin
	if abs < 0 {
		abs = -abs
	}
	confidence += 0.15 * float64(abs)
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Sentiment{IsPositive: isPositive, Confidence: confidence}, nil
}

const sentimentSystemPrompt = `You classify user feedback about an AI tutoring response.
Reply with JSON only: {"is_positive": <bool>, "confidence": <0.0-1.0>}.
is_positive is true only when the user indicates the response helped them.`

// LLMAnalyzer classifies sentiment with a chat completion, falling back
// to the keyword analyzer when the upstream call or its output fails.
type LLMAnalyzer struct {
	completer llm.Completer
	fallback  KeywordAnalyzer
	logger    *slog.Logger
}

// NewLLMAnalyzer creates an analyzer backed by completer.
func NewLLMAnalyzer(completer llm.Completer, logger *slog.Logger) (*LLMAnalyzer, error) {
	if completer == nil {
		return nil, errors.New("completer must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMAnalyzer{
		completer: completer,
		logger:    logger.With(slog.String("component", "sentiment")),
	}, nil
}

// Analyze implements Analyzer. Upstream failure degrades to the keyword
// analyzer rather than failing feedback processing.
func (a *LLMAnalyzer) Analyze(ctx context.Context, feedbackText string) (Sentiment, error) {
	maxTokens := 64
	temp := float32(0)

	result, err := a.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: sentimentSystemPrompt,
		UserPrompt:   feedbackText,
		Temperature:  &temp,
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		a.logger.Warn("sentiment completion failed, using keyword fallback",
			slog.String("error", err.Error()))
		return a.fallback.Analyze(ctx, feedbackText)
	}

	var sentiment Sentiment
	if err := json.Unmarshal([]byte(extractJSON(result.Text)), &sentiment); err != nil {
		a.logger.Warn("sentiment response not parseable, using keyword fallback",
			slog.String("response", result.Text))
		return a.fallback.Analyze(ctx, feedbackText)
	}
	if sentiment.Confidence < 0 || sentiment.Confidence > 1 {
		a.logger.Warn("sentiment confidence out of range, using keyword fallback",
			slog.Float64("confidence", sentiment.Confidence))
		return a.fallback.Analyze(ctx, feedbackText)
	}

	return sentiment, nil
}

// extractJSON strips markdown code fences and surrounding prose, keeping
// the outermost JSON object. Models wrap JSON in fences often enough that
// parsing the raw text directly fails.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
