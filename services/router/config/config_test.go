// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.InDelta(t, 0.75, cfg.Routing.SimilarityThreshold, 1e-9)
	assert.Equal(t, 1536, cfg.Embedding.Dims)
	assert.Equal(t, 10, cfg.Feedback.MinLength)
	assert.InDelta(t, 2.0, cfg.Feedback.MinEntropy, 1e-9)
	assert.InDelta(t, 0.65, cfg.Feedback.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 1200, cfg.Learning.MaxEnhancementLength)
	assert.Equal(t, 1, cfg.Learning.UpdateThreshold)
	assert.Equal(t, 100, cfg.Cache.MaxMemoryEntries)
	assert.Equal(t, 720*time.Hour, cfg.CacheMaxAge())
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ChatModel)
	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
routing:
  similarity_threshold: 0.8
cache:
  max_memory_entries: 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.InDelta(t, 0.8, cfg.Routing.SimilarityThreshold, 1e-9)
	assert.Equal(t, 50, cfg.Cache.MaxMemoryEntries)
	// Untouched sections keep defaults.
	assert.Equal(t, 1536, cfg.Embedding.Dims)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9000
routing:
  similarity_threshold: 0.8
`)
	t.Setenv("ROUTER_PORT", "9100")
	t.Setenv("ROUTER_SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("ROUTER_FEEDBACK_MIN_LENGTH", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.InDelta(t, 0.9, cfg.Routing.SimilarityThreshold, 1e-9)
	assert.Equal(t, 25, cfg.Feedback.MinLength)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8089, cfg.Server.Port)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{name: "threshold above one", yaml: "routing:\n  similarity_threshold: 1.5\n"},
		{name: "zero embedding dims", yaml: "embedding:\n  dims: -1\n"},
		{name: "bad max age", yaml: "cache:\n  max_age: forever\n"},
		{name: "bad port", yaml: "server:\n  port: 70000\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidEnvValueIgnored(t *testing.T) {
	t.Setenv("ROUTER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8089, cfg.Server.Port)
}
