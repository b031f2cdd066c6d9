// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package maintenance holds offline housekeeping jobs run from the CLI.
package maintenance

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/AleutianRoute/services/router/embedding"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
)

// DefaultBackfillLimit bounds one backfill run.
const DefaultBackfillLimit = 1000

// BackfillReport summarizes one backfill run.
type BackfillReport struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Backfiller re-embeds assignments persisted before embeddings were stored
// on the record. Rows with empty query text are skipped; individual
// embedding failures are counted, not fatal, so one bad row never stalls
// the run.
type Backfiller struct {
	assignments storage.AssignmentStore
	embeddings  *embedding.Service
	limit       int
	logger      *slog.Logger
}

// NewBackfiller wires a backfill job. limit <= 0 uses DefaultBackfillLimit.
func NewBackfiller(assignments storage.AssignmentStore, embeddings *embedding.Service, limit int, logger *slog.Logger) (*Backfiller, error) {
	if assignments == nil {
		return nil, errors.New("assignment store must not be nil")
	}
	if embeddings == nil {
		return nil, errors.New("embedding service must not be nil")
	}
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{
		assignments: assignments,
		embeddings:  embeddings,
		limit:       limit,
		logger:      logger.With(slog.String("component", "backfill")),
	}, nil
}

// Run performs one backfill pass, oldest rows first.
func (b *Backfiller) Run(ctx context.Context) (*BackfillReport, error) {
	missing, err := b.assignments.ListMissingEmbeddings(ctx, b.limit)
	if err != nil {
		return nil, err
	}

	report := &BackfillReport{Scanned: len(missing)}
	for _, a := range missing {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if embedding.Normalize(a.QueryText) == "" {
			b.logger.Warn("Skipping assignment with empty query text", "assignmentId", a.ID)
			report.Skipped++
			continue
		}

		vector, err := b.embeddings.Embed(ctx, a.QueryText)
		if err != nil {
			b.logger.Warn("Embedding failed during backfill",
				"assignmentId", a.ID, "error", err)
			report.Failed++
			continue
		}

		if err := b.assignments.UpdateEmbedding(ctx, a.ID, vector); err != nil {
			b.logger.Warn("Embedding update failed during backfill",
				"assignmentId", a.ID, "error", err)
			report.Failed++
			continue
		}
		report.Updated++
	}

	b.logger.Info("Backfill complete",
		"scanned", report.Scanned,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}
