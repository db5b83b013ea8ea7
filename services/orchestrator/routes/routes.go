// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires HTTP endpoints to their handlers.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/handlers"
)

// SetupRoutes registers all orchestrator endpoints on the router.
//
// # Description
//
// Routes:
//
//	GET  /health              - liveness probe
//	GET  /metrics             - Prometheus metrics
//	POST /api/chat/stream     - SSE chat turn
//	POST /api/heatmap         - query-vs-page patch heatmap
//	POST /api/similarity-map  - query-vs-upload similarity rendering
//
// # Inputs
//
//   - router: Gin engine with middleware already applied.
//   - chat: Streaming chat handler. Must not be nil.
//   - visual: Interpretability proxy handler. Must not be nil.
func SetupRoutes(router *gin.Engine, chat handlers.StreamingChatHandler, visual handlers.VisualHandler) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/chat/stream", chat.HandleChatStream)
		api.POST("/heatmap", visual.HandleHeatmap)
		api.POST("/similarity-map", visual.HandleSimilarityMap)
	}
}
