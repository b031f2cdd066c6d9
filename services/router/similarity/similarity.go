// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package similarity provides pure vector math for embedding comparison:
// cosine similarity, vector validation, and linear nearest-neighbor scans.
// It has no dependencies beyond the standard library and is safe for
// concurrent use (all functions are stateless).
package similarity

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrDimensionMismatch is returned when the two vectors differ in length.
	ErrDimensionMismatch = errors.New("vectors have different dimensions")

	// ErrEmptyVector is returned for zero-length input.
	ErrEmptyVector = errors.New("vector is empty")

	// ErrZeroMagnitude is returned when a vector has zero magnitude; cosine
	// similarity is undefined for it.
	ErrZeroMagnitude = errors.New("vector has zero magnitude")

	// ErrNonFiniteValue is returned when a vector contains NaN or Inf.
	ErrNonFiniteValue = errors.New("vector contains non-finite values")
)

// Validate checks that a vector is usable for similarity math: non-empty
// and all values finite. If expectDims > 0, the length must match it.
func Validate(v []float32, expectDims int) error {
	if len(v) == 0 {
		return ErrEmptyVector
	}
	if expectDims > 0 && len(v) != expectDims {
		return ErrDimensionMismatch
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return ErrNonFiniteValue
		}
	}
	return nil
}

// CosineSimilarity returns dot(a,b)/(|a||b|), clamped to [-1, 1] to absorb
// floating-point drift. It errors on mismatched lengths, empty input,
// non-finite values, or a zero-magnitude vector.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, magA, magB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		if math.IsNaN(av) || math.IsInf(av, 0) || math.IsNaN(bv) || math.IsInf(bv, 0) {
			return 0, ErrNonFiniteValue
		}
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}

	if magA == 0 || magB == 0 {
		return 0, ErrZeroMagnitude
	}

	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))

	// Clamp: accumulated rounding can push the result a hair outside [-1,1].
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// Match pairs a candidate index with its similarity score.
type Match struct {
	Index int
	Score float64
}

// FindBestMatch linearly scans candidates and returns the index and score
// of the highest-similarity candidate. Exact ties keep the first-seen
// candidate. Candidates that fail validation against the query (dimension
// mismatch, zero magnitude) are skipped. Returns index -1 when no candidate
// is comparable.
func FindBestMatch(query []float32, candidates [][]float32) (int, float64) {
	bestIdx := -1
	bestScore := math.Inf(-1)
	for i, c := range candidates {
		score, err := CosineSimilarity(query, c)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	if bestIdx == -1 {
		return -1, 0
	}
	return bestIdx, bestScore
}

// FindAboveThreshold returns all candidates with similarity >= threshold,
// sorted by score descending. Equal scores preserve candidate order
// (stable sort), keeping results deterministic.
func FindAboveThreshold(query []float32, candidates [][]float32, threshold float64) []Match {
	var matches []Match
	for i, c := range candidates {
		score, err := CosineSimilarity(query, c)
		if err != nil {
			continue
		}
		if score >= threshold {
			matches = append(matches, Match{Index: i, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
