// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package feedback gates user feedback before it can trigger learning.
//
// Learning mutates a shared artifact (the cluster's prompt enhancement),
// so only substantive positive feedback may drive it. The gate runs three
// checks in a fixed order and reports the first failure: minimum length,
// positive sentiment, minimum Shannon entropy.
package feedback

import (
	"fmt"
	"math"
)

const (
	// DefaultMinLength is the minimum feedback length in characters.
	DefaultMinLength = 10

	// DefaultMinEntropy is the minimum Shannon entropy (bits per
	// character over the character frequency distribution). Degenerate
	// repeated text ("aaaa!!!!") falls well below it.
	DefaultMinEntropy = 2.0
)

// Sentiment is the analyzer verdict on a piece of feedback.
type Sentiment struct {
	IsPositive bool    `json:"is_positive"`
	Confidence float64 `json:"confidence"`
}

// Gate evaluates whether feedback is substantive enough to learn from.
type Gate struct {
	minLength  int
	minEntropy float64
}

// NewGate creates a gate. Non-positive arguments use the defaults.
func NewGate(minLength int, minEntropy float64) *Gate {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if minEntropy <= 0 {
		minEntropy = DefaultMinEntropy
	}
	return &Gate{minLength: minLength, minEntropy: minEntropy}
}

// Evaluate runs the three checks in order: length, sentiment, entropy.
//
// Outputs:
//
//	bool - true when all checks pass.
//	string - empty on pass; otherwise names the first failing check.
func (g *Gate) Evaluate(feedbackText string, sentiment Sentiment) (bool, string) {
	runes := []rune(feedbackText)
	if len(runes) < g.minLength {
		return false, fmt.Sprintf("feedback too short: %d chars, minimum %d", len(runes), g.minLength)
	}
	if !sentiment.IsPositive {
		return false, "sentiment not positive"
	}
	if entropy := ShannonEntropy(feedbackText); entropy < g.minEntropy {
		return false, fmt.Sprintf("entropy too low: %.2f bits, minimum %.2f", entropy, g.minEntropy)
	}
	return true, ""
}

// ShannonEntropy computes the entropy in bits of the character frequency
// distribution of s. Empty input has zero entropy.
func ShannonEntropy(s string) float64 {
	runes := []rune(s)
	if len(runes) == 0 {
		return 0
	}

	freq := make(map[rune]int, len(runes))
	for _, r := range runes {
		freq[r]++
	}

	total := float64(len(runes))
	entropy := 0.0
	for _, count := range freq {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
