// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// OpenAIConfig configures the OpenAI-backed provider.
type OpenAIConfig struct {
	// APIKey for the OpenAI API. If empty the provider falls back to the
	// OPENAI_API_KEY environment variable, then the mounted secret file.
	APIKey string

	// BaseURL overrides the API endpoint (for OpenAI-compatible local
	// backends). Empty uses the official endpoint.
	BaseURL string

	ChatModel      string
	EmbeddingModel string
}

// OpenAIProvider implements Embedder and Completer against the OpenAI API
// (or any OpenAI-compatible endpoint).
type OpenAIProvider struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
}

// NewOpenAIProvider builds a provider from config, resolving the API key
// from the environment or Podman secret when not set explicitly.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OpenAI API key not configured")
		}
	}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = defaultChatModel
		slog.Warn("chat model not set, defaulting", "model", chatModel)
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI client", "chat_model", chatModel, "embedding_model", embeddingModel)
	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}, nil
}

// ChatModel returns the configured chat model name.
func (p *OpenAIProvider) ChatModel() string { return p.chatModel }

// EmbeddingModel returns the configured embedding model name.
func (p *OpenAIProvider) EmbeddingModel() string { return p.embeddingModel }

// Embed implements Embedder.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (*EmbeddingResult, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, mapUpstreamError("openai_embeddings", err)
	}
	if len(resp.Data) == 0 {
		return nil, datatypes.NewUpstreamError("openai_embeddings", datatypes.UpstreamUnavailable,
			errors.New("no embedding returned"))
	}
	return &EmbeddingResult{
		Vector:     resp.Data[0].Embedding,
		Model:      p.embeddingModel,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// Complete implements Completer.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.chatModel
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.UserPrompt,
	})

	apiReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		apiReq.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		apiReq.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		apiReq.MaxCompletionTokens = *req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, mapUpstreamError("openai_chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, datatypes.NewUpstreamError("openai_chat", datatypes.UpstreamUnavailable,
			errors.New("no choices returned"))
	}

	return &CompletionResult{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// mapUpstreamError folds go-openai errors into the router's error taxonomy.
// Rate limits stay distinguishable so callers can decide to retry.
func mapUpstreamError(service string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return datatypes.NewUpstreamError(service, datatypes.UpstreamRateLimited, err)
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return datatypes.NewUpstreamError(service, datatypes.UpstreamInvalidInput, err)
		}
	}
	return datatypes.NewUpstreamError(service, datatypes.UpstreamUnavailable, err)
}
