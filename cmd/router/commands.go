// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logDir     string
	logLevel   string

	backfillLimit int
	cleanupMaxAge string
	statsWindow   string

	rootCmd = &cobra.Command{
		Use:   "router",
		Short: "A semantic query router with evolving prompt enhancements",
		Long: `Router clusters incoming queries by embedding similarity and
serves each cluster an evolving prompt enhancement learned from
positive user feedback.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the router HTTP service",
		RunE:  runServe,
	}

	backfillCmd = &cobra.Command{
		Use:   "backfill",
		Short: "Re-embed stored query assignments that are missing vectors",
		RunE:  runBackfill,
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Evict completion cache entries older than the retention window",
		RunE:  runCleanup,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print routing statistics for a timeframe",
		RunE:  runStats,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for daily JSON log files (empty disables file logging)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Minimum log level (debug/info/warn/error)")

	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 0, "Maximum assignments to re-embed in one run (0 uses the default)")
	cleanupCmd.Flags().StringVar(&cleanupMaxAge, "max-age", "", "Retention window override, e.g. 720h (empty uses the configured value)")
	statsCmd.Flags().StringVar(&statsWindow, "timeframe", "24h", "Reporting window, e.g. 30m, 24h, 7d, 2w")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
}
