// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianRoute/pkg/logging"
	"github.com/AleutianAI/AleutianRoute/services/router/assigner"
	"github.com/AleutianAI/AleutianRoute/services/router/completioncache"
	"github.com/AleutianAI/AleutianRoute/services/router/config"
	"github.com/AleutianAI/AleutianRoute/services/router/embedding"
	"github.com/AleutianAI/AleutianRoute/services/router/evolution"
	"github.com/AleutianAI/AleutianRoute/services/router/feedback"
	"github.com/AleutianAI/AleutianRoute/services/router/llm"
	"github.com/AleutianAI/AleutianRoute/services/router/manager"
	"github.com/AleutianAI/AleutianRoute/services/router/observability"
	"github.com/AleutianAI/AleutianRoute/services/router/routes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badger"
	"github.com/AleutianAI/AleutianRoute/services/router/storage/badgerstore"
	"github.com/AleutianAI/AleutianRoute/services/router/vectorindex"
)

// initTracer configures the global OTLP tracer. Spans are exported over
// gRPC to the collector named by OTEL_EXPORTER_OTLP_ENDPOINT.
func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("router-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newVectorIndex connects the optional Weaviate index. A missing or
// invalid URL degrades to exhaustive centroid scans in the assigner.
func newVectorIndex(rawURL string, logger *slog.Logger) *vectorindex.Index {
	// Trim quotes and whitespace in case the runtime passes them literally.
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		logger.Info("weaviate url not set, running without vector index")
		return nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		logger.Warn("weaviate url is invalid, running without vector index",
			"url", rawURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		logger.Error("failed to create weaviate client", "error", err)
		return nil
	}

	index, err := vectorindex.New(client, logger)
	if err != nil {
		logger.Error("failed to create vector index", "error", err)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := index.EnsureSchema(ctx); err != nil {
		logger.Warn("weaviate schema check failed, running without vector index",
			"error", err)
		return nil
	}
	return index
}

func parseLogLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func openDatabase(cfg config.Config, logger *slog.Logger) (*badger.DB, error) {
	dbCfg := badger.DefaultConfig()
	dbCfg.Path = cfg.Storage.Path
	dbCfg.Logger = logger
	if cfg.Storage.InMemory {
		dbCfg = badger.InMemoryConfig()
	}
	return badger.OpenDB(dbCfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openDatabase(cfg, slog.Default())
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
	cacheStore, err := badgerstore.NewCacheStore(db)
	if err != nil {
		return err
	}
	sysLog, err := badgerstore.NewSystemLogStore(db)
	if err != nil {
		return err
	}

	// Warn+ entries are mirrored into the persistent system log so
	// consistency warnings survive restarts.
	appLogger := logging.New(logging.Config{
		Level:    parseLogLevel(logLevel),
		LogDir:   logDir,
		Service:  "router",
		JSON:     true,
		Exporter: logging.NewStoreExporter(sysLog, logging.LevelWarn),
	})
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		return fmt.Errorf("setup the OTLP tracer: %w", err)
	}
	defer cleanup(context.Background())

	provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:        cfg.OpenAI.BaseURL,
		ChatModel:      cfg.OpenAI.ChatModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
	})
	if err != nil {
		return fmt.Errorf("configure LLM provider: %w", err)
	}

	metrics := observability.InitMetrics()

	cache, err := completioncache.New(cacheStore, completioncache.Config{
		MaxMemoryEntries: cfg.Cache.MaxMemoryEntries,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	completer, err := completioncache.NewCachedCompleter(provider, cache, cfg.OpenAI.ChatModel, logger)
	if err != nil {
		return err
	}

	embeddings, err := embedding.NewService(provider, cache, embedding.Config{
		Model:             cfg.OpenAI.EmbeddingModel,
		Dims:              cfg.Embedding.Dims,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	index := newVectorIndex(cfg.Weaviate.URL, logger)
	var vecIndex assigner.VectorIndex
	if index != nil {
		vecIndex = index
	}

	assign, err := assigner.New(clusters, vecIndex, assigner.Config{
		SimilarityThreshold: cfg.Routing.SimilarityThreshold,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	var sentiment feedback.Analyzer
	if cfg.Feedback.UseLLMSentiment {
		sentiment, err = feedback.NewLLMAnalyzer(completer, logger)
		if err != nil {
			return err
		}
		logger.Info("using LLM sentiment analyzer")
	} else {
		sentiment = feedback.KeywordAnalyzer{}
	}

	factors, err := evolution.NewFactorExtractor(completer, logger)
	if err != nil {
		return err
	}
	engine, err := evolution.NewEngine(clusters, learningLog, completer, evolution.Config{
		MaxLength:       cfg.Learning.MaxEnhancementLength,
		UpdateThreshold: int64(cfg.Learning.UpdateThreshold),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	mgr, err := manager.New(manager.Deps{
		Clusters:    clusters,
		Assignments: assignments,
		LearningLog: learningLog,
		SystemLog:   sysLog,
		Embeddings:  embeddings,
		Assigner:    assign,
		Sentiment:   sentiment,
		Gate:        feedback.NewGate(cfg.Feedback.MinLength, cfg.Feedback.MinEntropy),
		Factors:     factors,
		Engine:      engine,
		Cache:       cache,
		Metrics:     metrics,
	}, manager.Config{
		FeedbackConfidenceThreshold: cfg.Feedback.ConfidenceThreshold,
		Logger:                      logger,
	})
	if err != nil {
		return err
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("router-service"))
	routes.SetupRoutes(router, mgr)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Periodic cache eviction keeps the persistent tier bounded.
	go func() {
		ticker := time.NewTicker(cfg.CacheSweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := cache.Cleanup(ctx, cfg.CacheMaxAge())
				if err != nil {
					logger.Warn("cache sweep failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("cache sweep complete", "removed", removed)
				}
			}
		}
	}()

	go func() {
		logger.Info("starting the router server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Drain detached background work before the stores close underneath it.
	mgr.Wait()
	cache.Wait()
	return nil
}
