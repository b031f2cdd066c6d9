// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the router configuration.
//
// Resolution order: built-in defaults, then the YAML config file (if one
// exists), then ROUTER_* environment variables. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full router configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Routing   RoutingConfig   `yaml:"routing"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Learning  LearningConfig  `yaml:"learning"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// StorageConfig covers the embedded BadgerDB store.
type StorageConfig struct {
	// Path is the on-disk location of the store. Ignored when InMemory.
	Path string `yaml:"path" validate:"required_unless=InMemory true"`

	// InMemory runs without persistence. Test and demo use only.
	InMemory bool `yaml:"in_memory"`
}

// OpenAIConfig covers the upstream model endpoints. The API key is never
// configured here; it comes from OPENAI_API_KEY or Podman secrets.
type OpenAIConfig struct {
	BaseURL        string `yaml:"base_url"`
	ChatModel      string `yaml:"chat_model" validate:"required"`
	EmbeddingModel string `yaml:"embedding_model" validate:"required"`
}

// WeaviateConfig covers the optional vector index. An empty URL disables
// the index; assignment falls back to brute-force centroid scans.
type WeaviateConfig struct {
	URL string `yaml:"url"`
}

// RoutingConfig covers cluster assignment.
type RoutingConfig struct {
	// SimilarityThreshold is the minimum cosine similarity to join an
	// existing cluster.
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gt=0,lte=1"`
}

// EmbeddingConfig covers the embedding pipeline.
type EmbeddingConfig struct {
	Dims              int     `yaml:"dims" validate:"gt=0"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// FeedbackConfig covers the feedback quality gate.
type FeedbackConfig struct {
	MinLength           int     `yaml:"min_length" validate:"gt=0"`
	MinEntropy          float64 `yaml:"min_entropy" validate:"gte=0"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gt=0,lte=1"`

	// UseLLMSentiment switches from the keyword analyzer to the
	// completion-backed analyzer (which itself falls back to keywords).
	UseLLMSentiment bool `yaml:"use_llm_sentiment"`
}

// LearningConfig covers prompt evolution.
type LearningConfig struct {
	MaxEnhancementLength int `yaml:"max_enhancement_length" validate:"gt=0"`
	UpdateThreshold      int `yaml:"update_threshold" validate:"gt=0"`
}

// CacheConfig covers the two-tier completion cache.
type CacheConfig struct {
	MaxMemoryEntries int `yaml:"max_memory_entries" validate:"gt=0"`

	// MaxAge is how long an entry may go untouched before the cleanup
	// sweep removes it. Go duration string.
	MaxAge string `yaml:"max_age" validate:"required"`

	// SweepInterval is how often the background sweep runs.
	SweepInterval string `yaml:"sweep_interval" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Port: 8089},
		Storage: StorageConfig{Path: "/var/lib/aleutian/router"},
		OpenAI: OpenAIConfig{
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Routing: RoutingConfig{SimilarityThreshold: 0.75},
		Embedding: EmbeddingConfig{
			Dims:              1536,
			RequestsPerSecond: 5,
			Burst:             1,
		},
		Feedback: FeedbackConfig{
			MinLength:           10,
			MinEntropy:          2.0,
			ConfidenceThreshold: 0.65,
		},
		Learning: LearningConfig{
			MaxEnhancementLength: 1200,
			UpdateThreshold:      1,
		},
		Cache: CacheConfig{
			MaxMemoryEntries: 100,
			MaxAge:           "720h",
			SweepInterval:    "1h",
		},
	}
}

// Load resolves the configuration: defaults, then the YAML file at path
// (missing file is fine), then ROUTER_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints and duration formats.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Cache.MaxAge); err != nil {
		return fmt.Errorf("cache.max_age: %w", err)
	}
	if _, err := time.ParseDuration(c.Cache.SweepInterval); err != nil {
		return fmt.Errorf("cache.sweep_interval: %w", err)
	}
	return nil
}

// CacheMaxAge returns the parsed cleanup cutoff. Validate must have passed.
func (c Config) CacheMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.Cache.MaxAge)
	return d
}

// CacheSweepInterval returns the parsed sweep interval. Validate must have
// passed.
func (c Config) CacheSweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Cache.SweepInterval)
	return d
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("ROUTER_PORT", cfg.Server.Port)
	cfg.Storage.Path = getEnvString("ROUTER_STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.InMemory = getEnvBool("ROUTER_STORAGE_IN_MEMORY", cfg.Storage.InMemory)

	cfg.OpenAI.BaseURL = getEnvString("ROUTER_OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.ChatModel = getEnvString("ROUTER_OPENAI_CHAT_MODEL", cfg.OpenAI.ChatModel)
	cfg.OpenAI.EmbeddingModel = getEnvString("ROUTER_OPENAI_EMBEDDING_MODEL", cfg.OpenAI.EmbeddingModel)

	cfg.Weaviate.URL = getEnvString("ROUTER_WEAVIATE_URL", cfg.Weaviate.URL)

	cfg.Routing.SimilarityThreshold = getEnvFloat("ROUTER_SIMILARITY_THRESHOLD", cfg.Routing.SimilarityThreshold)

	cfg.Embedding.Dims = getEnvInt("ROUTER_EMBEDDING_DIMS", cfg.Embedding.Dims)
	cfg.Embedding.RequestsPerSecond = getEnvFloat("ROUTER_EMBEDDING_RPS", cfg.Embedding.RequestsPerSecond)
	cfg.Embedding.Burst = getEnvInt("ROUTER_EMBEDDING_BURST", cfg.Embedding.Burst)

	cfg.Feedback.MinLength = getEnvInt("ROUTER_FEEDBACK_MIN_LENGTH", cfg.Feedback.MinLength)
	cfg.Feedback.MinEntropy = getEnvFloat("ROUTER_FEEDBACK_MIN_ENTROPY", cfg.Feedback.MinEntropy)
	cfg.Feedback.ConfidenceThreshold = getEnvFloat("ROUTER_FEEDBACK_CONFIDENCE_THRESHOLD", cfg.Feedback.ConfidenceThreshold)
	cfg.Feedback.UseLLMSentiment = getEnvBool("ROUTER_FEEDBACK_USE_LLM_SENTIMENT", cfg.Feedback.UseLLMSentiment)

	cfg.Learning.MaxEnhancementLength = getEnvInt("ROUTER_MAX_ENHANCEMENT_LENGTH", cfg.Learning.MaxEnhancementLength)
	cfg.Learning.UpdateThreshold = getEnvInt("ROUTER_PROMPT_UPDATE_THRESHOLD", cfg.Learning.UpdateThreshold)

	cfg.Cache.MaxMemoryEntries = getEnvInt("ROUTER_CACHE_MAX_MEMORY_ENTRIES", cfg.Cache.MaxMemoryEntries)
	cfg.Cache.MaxAge = getEnvString("ROUTER_CACHE_MAX_AGE", cfg.Cache.MaxAge)
	cfg.Cache.SweepInterval = getEnvString("ROUTER_CACHE_SWEEP_INTERVAL", cfg.Cache.SweepInterval)
}

// getEnvString returns an environment variable, or defaultVal if not set.
func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or defaultVal if not
// set or invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvFloat returns an environment variable as float64, or defaultVal if
// not set or invalid.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvBool returns an environment variable as bool, or defaultVal if not
// set or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
