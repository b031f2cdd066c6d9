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
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badgerstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCompleter returns canned generations in order, or an error.
type scriptedCompleter struct {
	replies []string
	err     error
	calls   int
}

func (s *scriptedCompleter) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	reply := s.replies[s.calls%len(s.replies)]
	s.calls++
	return &llm.CompletionResult{Text: reply, TokensUsed: 20}, nil
}

type engineFixture struct {
	engine      *Engine
	clusters    *badgerstore.ClusterStore
	learningLog *badgerstore.LearningLogStore
}

func newEngineFixture(t *testing.T, completer llm.Completer, cfg Config) engineFixture {
	t.Helper()
	db, err := badger.OpenDB(badger.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clusters, err := badgerstore.NewClusterStore(db)
	require.NoError(t, err)
	learningLog, err := badgerstore.NewLearningLogStore(db)
	require.NoError(t, err)

	engine, err := NewEngine(clusters, learningLog, completer, cfg)
	require.NoError(t, err)
	return engineFixture{engine: engine, clusters: clusters, learningLog: learningLog}
}

func seedCluster(t *testing.T, fx engineFixture, enhancement string) *datatypes.Cluster {
	t.Helper()
	c := datatypes.NewCluster([]float32{1, 0}, "what is a derivative")
	c.PromptEnhancement = enhancement
	c.EnhancementHash = datatypes.EnhancementHashOf(enhancement)
	require.NoError(t, fx.clusters.Put(context.Background(), c))
	return c
}

func testAssignment(c *datatypes.Cluster) *datatypes.QueryAssignment {
	return datatypes.NewQueryAssignment("what is a derivative", []float32{1, 0}, c, 0.9)
}

func TestShouldUpdate_CountsInFlightFeedback(t *testing.T) {
	fx := newEngineFixture(t, &scriptedCompleter{replies: []string{"x"}}, Config{UpdateThreshold: 1})

	c := datatypes.NewCluster([]float32{1}, "q")
	assert.True(t, fx.engine.ShouldUpdate(c), "first success meets threshold 1")

	fx2 := newEngineFixture(t, &scriptedCompleter{replies: []string{"x"}}, Config{UpdateThreshold: 3})
	assert.False(t, fx2.engine.ShouldUpdate(c))
	c.SuccessCount = 2
	assert.True(t, fx2.engine.ShouldUpdate(c))
}

func TestEvolve_EmptySeeds(t *testing.T) {
	seeded := "When responding to questions in this category: use analogies and concrete examples."
	fx := newEngineFixture(t, &scriptedCompleter{replies: []string{seeded}}, Config{})
	ctx := context.Background()

	c := seedCluster(t, fx, "")
	result := fx.engine.Evolve(ctx, c, testAssignment(c), datatypes.SuccessFactors{UsedAnalogy: true}, 0.9)

	require.True(t, result.Updated)
	assert.Equal(t, TransitionSeeded, result.Transition)
	assert.Equal(t, int64(2), result.NewVersion)
	assert.Equal(t, datatypes.EnhancementHashOf(seeded), result.EnhancementHash)

	stored, err := fx.clusters.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, seeded, stored.PromptEnhancement)
	assert.Equal(t, int64(2), stored.Version)
}

func TestEvolve_GrowingPreservesPriorContent(t *testing.T) {
	addition := "Mention the limit definition before the shortcut rules."
	fx := newEngineFixture(t, &scriptedCompleter{replies: []string{addition}}, Config{})
	ctx := context.Background()

	existing := "When responding to questions in this category: use analogies."
	c := seedCluster(t, fx, existing)

	result := fx.engine.Evolve(ctx, c, testAssignment(c), datatypes.SuccessFactors{}, 0.8)
	require.True(t, result.Updated)
	assert.Equal(t, TransitionGrowing, result.Transition)

	stored, err := fx.clusters.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PromptEnhancement, existing),
		"growing must never lose prior content")
	assert.Equal(t, existing+" "+addition, stored.PromptEnhancement)
}

func TestEvolve_OverBudgetForcesCondense(t *testing.T) {
	condensed := "When responding: use analogies, steps, and examples."
	fx := newEngineFixture(t, &scriptedCompleter{replies: []string{condensed}}, Config{MaxLength: 1200})
	ctx := context.Background()

	oversized := strings.Repeat("Use analogies grounded in everyday objects. ", 30) // > 1200 chars
	require.Greater(t, len(oversized), 1200)
	c := seedCluster(t, fx, oversized)

	result := fx.engine.Evolve(ctx, c, testAssignment(c), datatypes.SuccessFactors{}, 0.8)
	require.True(t, result.Updated)
	assert.Equal(t, TransitionCondensed, result.Transition)

	stored, err := fx.clusters.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, condensed, stored.PromptEnhancement, "condense replaces rather than appends")
	assert.Less(t, len(stored.PromptEnhancement), len(oversized)/2, "condensed output is materially smaller")
}

func TestClipLength(t *testing.T) {
	assert.Equal(t, "short", clipLength("short", 10))

	// Cuts at the last word boundary inside the cap.
	assert.Equal(t, "abc", clipLength("abc defghi", 8))

	// Multi-byte runes straddling the cap with no space inside: the cut
	// backs up to a rune start instead of splitting a character.
	s := strings.Repeat("é", 10)
	got := clipLength(s, 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "éé", got)
}

func TestEvolve_GenerationFailureIsNoOp(t *testing.T) {
	fx := newEngineFixture(t, &scriptedCompleter{err: assert.AnError}, Config{})
	ctx := context.Background()

	existing := "When responding to questions in this category: keep it short."
	c := seedCluster(t, fx, existing)

	result := fx.engine.Evolve(ctx, c, testAssignment(c), datatypes.SuccessFactors{}, 0.8)
	assert.False(t, result.Updated)
	assert.Equal(t, TransitionNone, result.Transition)
	assert.NotEmpty(t, result.Reason)

	stored, err := fx.clusters.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, existing, stored.PromptEnhancement, "failure leaves the enhancement untouched")
	assert.Equal(t, int64(1), stored.Version)
}

func TestEvolve_StaleVersionIsNoOp(t *testing.T) {
	fx := newEngineFixture(t, &scriptedCompleter{replies: []string{"new guidance text"}}, Config{})
	ctx := context.Background()

	c := seedCluster(t, fx, "")

	// A concurrent update bumps the stored version behind our back.
	_, err := fx.clusters.UpdateEnhancement(ctx, c.ID, 1, "raced ahead", datatypes.EnhancementHashOf("raced ahead"))
	require.NoError(t, err)

	result := fx.engine.Evolve(ctx, c, testAssignment(c), datatypes.SuccessFactors{}, 0.8)
	assert.False(t, result.Updated)
	assert.Contains(t, result.Reason, "concurrent")

	stored, err := fx.clusters.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "raced ahead", stored.PromptEnhancement, "the race winner's update survives")
}

func TestEvolve_WritesLearningLogEntry(t *testing.T) {
	seeded := "When responding to questions in this category: show worked examples."
	fx := newEngineFixture(t, &scriptedCompleter{replies: []string{seeded}}, Config{})
	ctx := context.Background()

	c := seedCluster(t, fx, "")
	a := testAssignment(c)
	factors := datatypes.SuccessFactors{IncludedExample: true, Domain: "calculus"}

	result := fx.engine.Evolve(ctx, c, a, factors, 0.87)
	require.True(t, result.Updated)

	entries, err := fx.learningLog.ListByCluster(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, a.ID, entry.QueryAssignmentID)
	assert.Equal(t, datatypes.TriggerPositiveFeedback, entry.Trigger)
	assert.Equal(t, "", entry.PreviousEnhancement)
	assert.Equal(t, seeded, entry.PromptUpdate.NewEnhancement)
	assert.Equal(t, datatypes.EnhancementHashOf(seeded), entry.PromptUpdate.NewHash)
	assert.Equal(t, datatypes.EnhancementHashOf(""), entry.PromptUpdate.PreviousHash)
	assert.Equal(t, int64(2), entry.PromptUpdate.NewVersion)
	assert.InDelta(t, 0.87, entry.ConfidenceScore, 1e-9)
	assert.Equal(t, "calculus", entry.ExtractedPatterns.Domain)
}

func TestFactorExtractor_ParsesStructuredReply(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{
		"```json\n{\"domain\":\"calculus\",\"used_analogy\":true,\"step_by_step\":false," +
			"\"included_example\":true,\"techniques\":[\"analogy\"],\"domain_concepts\":[\"derivative\"]," +
			"\"guidance\":\"Anchor rates of change in physical motion.\"}\n```",
	}}
	extractor, err := NewFactorExtractor(completer, nil)
	require.NoError(t, err)

	factors, err := extractor.Extract(context.Background(), "what is a derivative", "a derivative measures...", "great, thanks!")
	require.NoError(t, err)
	assert.Equal(t, "calculus", factors.Domain)
	assert.True(t, factors.UsedAnalogy)
	assert.False(t, factors.StepByStep)
	assert.True(t, factors.IncludedExample)
	assert.Equal(t, []string{"analogy"}, factors.Techniques)
	assert.Equal(t, "Anchor rates of change in physical motion.", factors.Guidance)
}

func TestFactorExtractor_UpstreamFailureSurfaces(t *testing.T) {
	extractor, err := NewFactorExtractor(&scriptedCompleter{err: assert.AnError}, nil)
	require.NoError(t, err)

	_, err = extractor.Extract(context.Background(), "q", "r", "f")
	assert.Error(t, err)
}
