// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evolution grows each cluster's prompt enhancement from positive
// feedback.
//
// The enhancement moves through a per-cluster state machine:
//
//	Empty -> Seeded -> Growing -> Condensed -> Growing -> ...
//
// Seeding writes the first 2-3 sentences. Growing appends small
// increments without rewriting prior content. Once the text exceeds
// MaxLength, the next trigger condenses it into a compact rewrite and
// growth resumes. Every mutation is version-checked against the cluster
// record and paired with one learning log entry.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
)

// Transition names reported in LearningResult.
const (
	TransitionSeeded    = "seeded"
	TransitionGrowing   = "growing"
	TransitionCondensed = "condensed"
	TransitionNone      = "none"
)

const (
	// DefaultMaxLength caps the enhancement before condensation.
	DefaultMaxLength = 1200

	// DefaultUpdateThreshold is the minimum evidence (successes,
	// counting the in-flight one) before the enhancement may mutate.
	DefaultUpdateThreshold = 1
)

// Config configures an Engine.
type Config struct {
	// MaxLength before a Growing transition turns into a Condensed one.
	// Zero uses DefaultMaxLength.
	MaxLength int

	// UpdateThreshold is the minimum success count (including the
	// feedback being processed) required before mutating. Zero uses
	// DefaultUpdateThreshold.
	UpdateThreshold int64

	// Logger for engine events. Nil uses slog.Default().
	Logger *slog.Logger
}

// Engine mutates cluster prompt enhancements.
//
// Thread Safety: Safe for concurrent use. Concurrent triggers on the same
// cluster serialize through the version check; the loser no-ops.
type Engine struct {
	clusters    storage.ClusterStore
	learningLog storage.LearningLogStore
	completer   llm.Completer
	maxLength   int
	threshold   int64
	logger      *slog.Logger
}

// NewEngine creates an evolution engine.
func NewEngine(clusters storage.ClusterStore, learningLog storage.LearningLogStore, completer llm.Completer, cfg Config) (*Engine, error) {
	if clusters == nil {
		return nil, errors.New("cluster store must not be nil")
	}
	if learningLog == nil {
		return nil, errors.New("learning log store must not be nil")
	}
	if completer == nil {
		return nil, errors.New("completer must not be nil")
	}

	maxLength := cfg.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	threshold := cfg.UpdateThreshold
	if threshold <= 0 {
		threshold = DefaultUpdateThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		clusters:    clusters,
		learningLog: learningLog,
		completer:   completer,
		maxLength:   maxLength,
		threshold:   threshold,
		logger:      logger.With(slog.String("component", "evolution")),
	}, nil
}

// ShouldUpdate reports whether the cluster has enough evidence to mutate
// its enhancement. The in-flight positive feedback counts, so at the
// default threshold the very first success seeds the enhancement.
func (e *Engine) ShouldUpdate(cluster *datatypes.Cluster) bool {
	return cluster.SuccessCount+1 >= e.threshold
}

// Evolve applies one learning trigger to a cluster's enhancement.
//
// Description:
//
//	Chooses the transition from the current enhancement (empty -> seed,
//	within budget -> grow, over budget -> condense), generates the text,
//	applies it with a version-checked compare-and-swap, and appends one
//	learning log entry. Every failure path is fail-safe: the existing
//	enhancement stays untouched and the result reports a no-op with a
//	reason instead of an error.
//
// Outputs:
//
//	*datatypes.LearningResult - Always non-nil.
func (e *Engine) Evolve(ctx context.Context, cluster *datatypes.Cluster, assignment *datatypes.QueryAssignment, factors datatypes.SuccessFactors, confidence float64) *datatypes.LearningResult {
	previous := cluster.PromptEnhancement

	transition, enhancement, err := e.generate(ctx, cluster, factors)
	if err != nil {
		e.logger.Warn("enhancement generation failed, keeping existing enhancement",
			slog.String("cluster_id", cluster.ID),
			slog.String("error", err.Error()))
		return &datatypes.LearningResult{
			Updated:    false,
			Transition: TransitionNone,
			Reason:     "generation failed: " + err.Error(),
		}
	}

	newHash := datatypes.EnhancementHashOf(enhancement)
	updated, err := e.clusters.UpdateEnhancement(ctx, cluster.ID, cluster.Version, enhancement, newHash)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// Another feedback won the race; its learning already landed.
			e.logger.Info("enhancement update lost version race, skipping",
				slog.String("cluster_id", cluster.ID))
			return &datatypes.LearningResult{
				Updated:    false,
				Transition: TransitionNone,
				Reason:     "concurrent enhancement update",
			}
		}
		e.logger.Error("enhancement update failed",
			slog.String("cluster_id", cluster.ID),
			slog.String("error", err.Error()))
		return &datatypes.LearningResult{
			Updated:    false,
			Transition: TransitionNone,
			Reason:     "persistence failure: " + err.Error(),
		}
	}

	entry := datatypes.NewLearningLogEntry(cluster.ID, assignment.ID, factors, datatypes.PromptUpdate{
		NewEnhancement: enhancement,
		NewHash:        newHash,
		PreviousHash:   datatypes.EnhancementHashOf(previous),
		NewVersion:     updated.Version,
	}, previous, confidence)
	if err := e.learningLog.Append(ctx, entry); err != nil {
		// The mutation is already durable; a missing audit row is logged
		// rather than unwinding the learning.
		e.logger.Error("learning log append failed",
			slog.String("cluster_id", cluster.ID),
			slog.String("error", err.Error()))
	}

	e.logger.Info("enhancement evolved",
		slog.String("cluster_id", cluster.ID),
		slog.String("transition", transition),
		slog.Int64("version", updated.Version),
		slog.Int("length", len(enhancement)))

	return &datatypes.LearningResult{
		Updated:         true,
		Transition:      transition,
		NewVersion:      updated.Version,
		EnhancementHash: newHash,
	}
}

// generate picks the transition and produces the new enhancement text.
func (e *Engine) generate(ctx context.Context, cluster *datatypes.Cluster, factors datatypes.SuccessFactors) (string, string, error) {
	current := cluster.PromptEnhancement

	switch {
	case current == "":
		seeded, err := e.complete(ctx, seedPrompt(cluster, factors))
		if err != nil {
			return TransitionSeeded, "", err
		}
		return TransitionSeeded, clipLength(seeded, e.maxLength), nil

	case len(current) <= e.maxLength:
		addition, err := e.complete(ctx, growPrompt(current, factors))
		if err != nil {
			return TransitionGrowing, "", err
		}
		return TransitionGrowing, current + " " + addition, nil

	default:
		condensed, err := e.complete(ctx, condensePrompt(current, factors, e.maxLength))
		if err != nil {
			return TransitionCondensed, "", err
		}
		return TransitionCondensed, clipLength(condensed, e.maxLength), nil
	}
}

func (e *Engine) complete(ctx context.Context, userPrompt string) (string, error) {
	maxTokens := 400
	temp := float32(0.3)

	result, err := e.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You write prompt guidance for an AI tutor. Reply with the guidance text only, no preamble, no quotes.",
		UserPrompt:   userPrompt,
		Temperature:  &temp,
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", errors.New("empty generation")
	}
	return text, nil
}

// clipLength hard-caps generated text that ignored its length budget,
// cutting at the last word boundary inside the cap.
func clipLength(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune start so the cut never splits a multi-byte
	// character.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	clipped := s[:cut]
	if idx := strings.LastIndex(clipped, " "); idx > 0 {
		clipped = clipped[:idx]
	}
	return clipped
}

func describeFactors(factors datatypes.SuccessFactors) string {
	var parts []string
	if factors.Domain != "" {
		parts = append(parts, "domain: "+factors.Domain)
	}
	if factors.UsedAnalogy {
		parts = append(parts, "used an analogy")
	}
	if factors.StepByStep {
		parts = append(parts, "walked through steps")
	}
	if factors.IncludedExample {
		parts = append(parts, "included a concrete example")
	}
	if len(factors.Techniques) > 0 {
		parts = append(parts, "techniques: "+strings.Join(factors.Techniques, ", "))
	}
	if len(factors.DomainConcepts) > 0 {
		parts = append(parts, "concepts: "+strings.Join(factors.DomainConcepts, ", "))
	}
	if factors.Guidance != "" {
		parts = append(parts, "guidance: "+factors.Guidance)
	}
	if len(parts) == 0 {
		return "no specific factors identified"
	}
	return strings.Join(parts, "; ")
}

func seedPrompt(cluster *datatypes.Cluster, factors datatypes.SuccessFactors) string {
	return fmt.Sprintf(
		"Questions in this cluster resemble: %q.\n"+
			"A response just earned positive feedback. What worked: %s.\n"+
			"Write 2-3 sentences of guidance, starting with \"When responding to questions in this category:\", "+
			"that would help future responses repeat this success.",
		cluster.RepresentativeQuery, describeFactors(factors))
}

func growPrompt(current string, factors datatypes.SuccessFactors) string {
	return fmt.Sprintf(
		"Existing guidance:\n%s\n\n"+
			"A new response earned positive feedback. What worked: %s.\n"+
			"Write 1-2 additional sentences that add something the existing guidance does not already say. "+
			"Do not restate or rewrite the existing guidance; reply with the addition only.",
		current, describeFactors(factors))
}

func condensePrompt(current string, factors datatypes.SuccessFactors, maxLength int) string {
	return fmt.Sprintf(
		"The following guidance has grown too long:\n%s\n\n"+
			"Latest insight: %s.\n"+
			"Rewrite it in at most %d characters, keeping the most effective techniques and folding in the latest insight.",
		current, describeFactors(factors), maxLength/2)
}
