// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import (
	"github.com/AleutianAI/ProFlow/services/trace/config"
	"github.com/AleutianAI/ProFlow/services/trace/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers all flow routes with the router.
//
// Description:
//
//	Registers all /v1/flow/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Analysis Endpoints:
//
//	POST /v1/flow/analyze - Analyze one file or inline source
//	POST /v1/flow/analyze/batch - Analyze many files concurrently
//	POST /v1/flow/render - Analyze and render as text, json, dot or svg
//	GET  /v1/flow/watch - Websocket stream of re-analyses on file change
//
// Snapshot Endpoints:
//
//	GET    /v1/flow/snapshots - List snapshots
//	POST   /v1/flow/snapshots - Analyze and save a snapshot
//	GET    /v1/flow/snapshots/:id - Load a snapshot
//	DELETE /v1/flow/snapshots/:id - Delete a snapshot
//	GET    /v1/flow/snapshots/:id/diff/:other - Compare two snapshots
//
// Health Endpoints:
//
//	GET  /v1/flow/health - Health check
//
// Example:
//
//	handlers, err := trace.NewHandlers(analyzer, snapshots, cfg)
//	v1 := router.Group("/v1")
//	trace.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	flow := rg.Group("/flow")
	{
		flow.POST("/analyze", handlers.HandleAnalyze)
		flow.POST("/analyze/batch", handlers.HandleAnalyzeBatch)
		flow.POST("/render", handlers.HandleRender)
		flow.GET("/watch", handlers.HandleWatch)

		flow.GET("/snapshots", handlers.HandleListSnapshots)
		flow.POST("/snapshots", handlers.HandleSaveSnapshot)
		flow.GET("/snapshots/:id", handlers.HandleLoadSnapshot)
		flow.DELETE("/snapshots/:id", handlers.HandleDeleteSnapshot)
		flow.GET("/snapshots/:id/diff/:other", handlers.HandleDiffSnapshots)

		flow.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the gin engine used by `proflow serve`.
//
// Description:
//
//	Installs recovery, OpenTelemetry, request ID, metrics and rate limit
//	middleware, registers /v1/flow and exposes /metrics.
func NewRouter(handlers *Handlers, cfg *config.Config, debug bool) *gin.Engine {
	if cfg == nil {
		cfg = config.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(RequestIDMiddleware())
	router.Use(MetricsMiddleware())
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	v1.Use(RateLimitMiddleware(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))
	RegisterRoutes(v1, handlers)

	return router
}
