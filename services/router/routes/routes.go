// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianRoute/services/router/handlers"
)

// SetupRoutes registers the router's HTTP surface.
func SetupRoutes(router *gin.Engine, svc handlers.Service) {
	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/query", handlers.HandleQuery(svc))
		v1.POST("/feedback", handlers.HandleFeedback(svc))
		v1.GET("/stats", handlers.HandleStats(svc))
		v1.GET("/clusters/:id", handlers.HandleClusterDetails(svc))
	}
}
