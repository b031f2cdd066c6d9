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
	"math"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianRoute/services/router/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, ShannonEntropy(""))
	assert.Zero(t, ShannonEntropy("aaaa"), "single symbol carries no information")
	assert.InDelta(t, 1.0, ShannonEntropy("abab"), 1e-9, "two equiprobable symbols = 1 bit")
	assert.InDelta(t, 2.0, ShannonEntropy("abcd"), 1e-9, "four equiprobable symbols = 2 bits")
	assert.Greater(t, ShannonEntropy("This explanation was quite clear."), 3.0)
}

func TestGate_ChecksRunInOrder(t *testing.T) {
	gate := NewGate(10, 2.0)

	tests := []struct {
		name       string
		text       string
		sentiment  Sentiment
		wantPass   bool
		wantReason string
	}{
		{
			name:       "short positive feedback fails on length first",
			text:       "nice!",
			sentiment:  Sentiment{IsPositive: true, Confidence: 0.9},
			wantPass:   false,
			wantReason: "too short",
		},
		{
			name:       "long negative feedback fails on sentiment",
			text:       "this was confusing and did not help me at all",
			sentiment:  Sentiment{IsPositive: false, Confidence: 0.9},
			wantPass:   false,
			wantReason: "sentiment",
		},
		{
			name:       "degenerate repeated text fails on entropy",
			text:       strings.Repeat("ab", 20),
			sentiment:  Sentiment{IsPositive: true, Confidence: 0.9},
			wantPass:   false,
			wantReason: "entropy",
		},
		{
			name:      "substantive positive feedback passes",
			text:      "This explanation with the bicycle-gear analogy was incredibly clear and helped me finally get it!",
			sentiment: Sentiment{IsPositive: true, Confidence: 0.92},
			wantPass:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pass, reason := gate.Evaluate(tt.text, tt.sentiment)
			assert.Equal(t, tt.wantPass, pass)
			if tt.wantPass {
				assert.Empty(t, reason)
			} else {
				assert.Contains(t, reason, tt.wantReason)
			}
		})
	}
}

func TestGate_LengthCountsRunes(t *testing.T) {
	gate := NewGate(10, 0.1)
	// Nine runes, many more bytes.
	pass, reason := gate.Evaluate("日本語が分かります", Sentiment{IsPositive: true})
	assert.False(t, pass)
	assert.Contains(t, reason, "too short")
}

func TestKeywordAnalyzer(t *testing.T) {
	analyzer := KeywordAnalyzer{}
	ctx := context.Background()

	tests := []struct {
		name         string
		text         string
		wantPositive bool
	}{
		{"clear thanks", "Thank you, that was really clear and helped a lot!", true},
		{"analogy praise", "The bicycle-gear analogy was great, I finally get it", true},
		{"confusion", "I'm still confused, this didn't help", false},
		{"plain negative", "That answer was wrong and unclear", false},
		{"no cues at all", "The response arrived.", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sentiment, err := analyzer.Analyze(ctx, tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPositive, sentiment.IsPositive)
			assert.GreaterOrEqual(t, sentiment.Confidence, 0.5)
			assert.LessOrEqual(t, sentiment.Confidence, 0.95)
		})
	}
}

func TestKeywordAnalyzer_ConfidenceGrowsWithMargin(t *testing.T) {
	analyzer := KeywordAnalyzer{}
	ctx := context.Background()

	weak, err := analyzer.Analyze(ctx, "great")
	require.NoError(t, err)
	strong, err := analyzer.Analyze(ctx, "great, thank you, very clear and helpful, finally get it")
	require.NoError(t, err)
	assert.Greater(t, strong.Confidence, weak.Confidence)
}

// scriptedCompleter returns fixed text or an error.
type scriptedCompleter struct {
	text string
	err  error
}

func (s *scriptedCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResult{Text: s.text}, nil
}

func TestLLMAnalyzer_ParsesJSON(t *testing.T) {
	analyzer, err := NewLLMAnalyzer(&scriptedCompleter{
		text: "```json\n{\"is_positive\": true, \"confidence\": 0.83}\n```",
	}, nil)
	require.NoError(t, err)

	sentiment, err := analyzer.Analyze(context.Background(), "that helped")
	require.NoError(t, err)
	assert.True(t, sentiment.IsPositive)
	assert.InDelta(t, 0.83, sentiment.Confidence, 1e-9)
}

func TestLLMAnalyzer_FallsBackOnUpstreamFailure(t *testing.T) {
	analyzer, err := NewLLMAnalyzer(&scriptedCompleter{err: assert.AnError}, nil)
	require.NoError(t, err)

	sentiment, err := analyzer.Analyze(context.Background(), "Thank you, really clear!")
	require.NoError(t, err, "fallback must absorb the upstream failure")
	assert.True(t, sentiment.IsPositive)
}

func TestLLMAnalyzer_FallsBackOnGarbageOutput(t *testing.T) {
	analyzer, err := NewLLMAnalyzer(&scriptedCompleter{text: "I would rate this positively."}, nil)
	require.NoError(t, err)

	sentiment, err := analyzer.Analyze(context.Background(), "still confused, didn't help")
	require.NoError(t, err)
	assert.False(t, sentiment.IsPositive)
}

func TestLLMAnalyzer_RejectsOutOfRangeConfidence(t *testing.T) {
	analyzer, err := NewLLMAnalyzer(&scriptedCompleter{
		text: `{"is_positive": true, "confidence": 7.5}`,
	}, nil)
	require.NoError(t, err)

	sentiment, err := analyzer.Analyze(context.Background(), "thanks, very clear")
	require.NoError(t, err)
	// Keyword fallback verdict, bounded confidence.
	assert.True(t, sentiment.IsPositive)
	assert.False(t, math.IsNaN(sentiment.Confidence))
	assert.LessOrEqual(t, sentiment.Confidence, 0.95)
}
