// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the router's operations over HTTP.
//
// Handlers are a thin binding layer: they parse JSON, delegate to the
// manager, and translate the error taxonomy into status codes. All
// semantics live below this package.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianRoute/services/router/datatypes"
	"github.com/AleutianAI/AleutianRoute/services/router/storage"
)

var handlerTracer = otel.Tracer("aleutian.router.handlers")

// Service is the operation surface the handlers bind to. *manager.Manager
// satisfies it.
type Service interface {
	ProcessQuery(ctx context.Context, req *datatypes.ProcessQueryRequest) (*datatypes.ProcessQueryResult, error)
	ProcessFeedback(ctx context.Context, req *datatypes.ProcessFeedbackRequest) (*datatypes.ProcessFeedbackResult, error)
	GetSystemStats(ctx context.Context, timeframe string) (*datatypes.SystemStats, error)
	GetClusterDetails(ctx context.Context, clusterID string) (*datatypes.ClusterDetails, error)
}

// HandleQuery routes one query: POST /api/v1/query.
func HandleQuery(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()

		var req datatypes.ProcessQueryRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := svc.ProcessQuery(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleFeedback records feedback on an assignment: POST /api/v1/feedback.
func HandleFeedback(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleFeedback")
		defer span.End()

		var req datatypes.ProcessFeedbackRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		result, err := svc.ProcessFeedback(ctx, &req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// HandleStats aggregates activity: GET /api/v1/stats?timeframe=24h.
func HandleStats(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleStats")
		defer span.End()

		stats, err := svc.GetSystemStats(ctx, c.Query("timeframe"))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

// HandleClusterDetails drills into one cluster: GET /api/v1/clusters/:id.
func HandleClusterDetails(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleClusterDetails")
		defer span.End()

		details, err := svc.GetClusterDetails(ctx, c.Param("id"))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, details)
	}
}

// HealthCheck reports liveness: GET /healthz.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps the error taxonomy to HTTP status codes. The caller never
// sees partial state: an error response carries only the message.
func writeError(c *gin.Context, err error) {
	switch {
	case datatypes.IsInputError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		if _, ok := datatypes.IsUpstreamError(err); ok {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
