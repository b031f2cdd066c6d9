// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRoute/services/router/completioncache"
	"github.com/AleutianAI/AleutianRoute/services/router/config"
	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/embedding"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
	"github.com/AleutianAI/AleutianRoute/services/router/maintenance"
	"github.com/AleutianAI/AleutianRoute/services/router/manager"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badgerstore"
)

// The maintenance commands take the BadgerDB lock, so they must run
// while the serve process is stopped.

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	assignments, err := badgerstore.NewAssignmentStore(db)
	if err != nil {
		return err
	}

	provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:        cfg.OpenAI.BaseURL,
		ChatModel:      cfg.OpenAI.ChatModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("configure LLM provider: %w", err)
	}

	embeddings, err := embedding.NewService(provider, nil, embedding.Config{
		Model:             cfg.OpenAI.EmbeddingModel,
		Dims:              cfg.Embedding.Dims,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	backfiller, err := maintenance.NewBackfiller(assignments, embeddings, backfillLimit, logger)
	if err != nil {
		return err
	}

	report, err := backfiller.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("scanned=%d updated=%d skipped=%d failed=%d\n",
		report.Scanned, report.Updated, report.Skipped, report.Failed)
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	maxAge := cfg.CacheMaxAge()
	if cleanupMaxAge != "" {
		maxAge, err = time.ParseDuration(cleanupMaxAge)
		if err != nil {
			return fmt.Errorf("parse --max-age: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cacheStore, err := badgerstore.NewCacheStore(db)
	if err != nil {
		return err
	}
	cache, err := completioncache.New(cacheStore, completioncache.Config{
		MaxMemoryEntries: cfg.Cache.MaxMemoryEntries,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	removed, err := cache.Cleanup(cmd.Context(), maxAge)
	if err != nil {
		return err
	}

	fmt.Printf("removed %d cache entries older than %s\n", removed, maxAge)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	window, err := manager.ParseTimeframe(statsWindow)
	if err != nil {
		return err
	}
	since := time.Now().Add(-window)

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	clusters, err := badgerstore.NewClusterStore(db)
	if err != nil {
		return err
	}
	assignments, err := badgerstore.NewAssignmentStore(db)
	if err != nil {
		return err
	}
	learningLog, err := badgerstore.NewLearningLogStore(db)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	total, err := clusters.Count(ctx)
	if err != nil {
		return err
	}
	created, err := clusters.CountSince(ctx, since)
	if err != nil {
		return err
	}
	assignStats, err := assignments.StatsSince(ctx, since)
	if err != nil {
		return err
	}
	learningEvents, err := learningLog.CountSince(ctx, since)
	if err != nil {
		return err
	}

	stats := datatypes.SystemStats{
		Timeframe:        statsWindow,
		Since:            since,
		TotalQueries:     assignStats.Queries,
		ClustersCreated:  created,
		ClustersTotal:    total,
		LearningEvents:   learningEvents,
		PositiveFeedback: assignStats.PositiveFeedback,
		NegativeFeedback: assignStats.NegativeFeedback,
	}

	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
