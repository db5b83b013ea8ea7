// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/observability"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/services"
)

// maxSimilarityMapUpload bounds the uploaded page image size.
const maxSimilarityMapUpload = 20 << 20 // 20MB

// =============================================================================
// Interface Definition
// =============================================================================

// VisualHandler defines the contract for the interpretability proxy
// endpoints.
//
// # Description
//
// VisualHandler fronts the interpretability backend: heatmaps score a
// query against a stored page image, similarity maps score a query
// against an uploaded one. Both endpoints validate inputs on this side
// and translate backend failures into stable HTTP statuses.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
type VisualHandler interface {
	// HandleHeatmap processes POST /api/heatmap requests.
	//
	// Request body (datatypes.HeatmapRequest):
	//   - query: Required. Text to score against the page.
	//   - image_url: Required. Page image location.
	//   - strategy: Optional. Normalization strategy name.
	//
	// HTTP Status:
	//   - 200 OK: Patch grid with display bounds
	//   - 400 Bad Request: Missing query or image URL
	//   - 502 Bad Gateway: Interpretability backend failure
	HandleHeatmap(c *gin.Context)

	// HandleSimilarityMap processes POST /api/similarity-map requests.
	//
	// Multipart form fields:
	//   - query: Required. Text to score against the upload.
	//   - token: Optional. Focus on a single query token.
	//   - file: Required. The page image.
	//
	// HTTP Status:
	//   - 200 OK: Backend rendering, passed through verbatim
	//   - 400 Bad Request: Missing query or file
	//   - 502 Bad Gateway: Interpretability backend failure
	HandleSimilarityMap(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// visualHandler implements VisualHandler for production use.
type visualHandler struct {
	visual *services.VisualClient
	tracer trace.Tracer
}

// NewVisualHandler creates a VisualHandler backed by the given client.
// Panics on a nil client (programming error).
func NewVisualHandler(visual *services.VisualClient) VisualHandler {
	if visual == nil {
		panic("NewVisualHandler: visual must not be nil")
	}
	return &visualHandler{
		visual: visual,
		tracer: otel.Tracer("snappy.orchestrator.handlers.heatmap"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleHeatmap scores a query against a stored page image.
func (h *visualHandler) HandleHeatmap(c *gin.Context) {
	endpoint := observability.EndpointHeatmap

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleHeatmap")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	var req datatypes.HeatmapRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "query and image_url are required"})
		return
	}

	span.SetAttributes(attribute.String("request.strategy", req.Strategy))

	resp, err := h.visual.Heatmap(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "heatmap failed")
		slog.Error("Heatmap request failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrieval)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "heatmap backend unavailable"})
		return
	}

	success = true
	span.SetStatus(codes.Ok, "heatmap completed")
	c.JSON(http.StatusOK, resp)
}

// HandleSimilarityMap scores a query against an uploaded page image.
func (h *visualHandler) HandleSimilarityMap(c *gin.Context) {
	endpoint := observability.EndpointSimilarityMap

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleSimilarityMap")
	defer span.End()

	success := false
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(endpoint, success)
		}
	}()

	req := datatypes.SimilarityMapRequest{
		Query: c.PostForm("query"),
		Token: c.PostForm("token"),
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing file")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxSimilarityMapUpload {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "file open failed")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	defer file.Close()

	span.SetAttributes(
		attribute.String("upload.filename", fileHeader.Filename),
		attribute.Int64("upload.size_bytes", fileHeader.Size),
	)

	raw, err := h.visual.SimilarityMap(ctx, &req, fileHeader.Filename, file)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "similarity map failed")
		slog.Error("Similarity map request failed", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeRetrieval)
		}
		var backendErr *services.RetrievalError
		if errors.As(err, &backendErr) && backendErr.StatusCode == http.StatusUnprocessableEntity {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "backend rejected the upload"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "similarity map backend unavailable"})
		return
	}

	success = true
	span.SetStatus(codes.Ok, "similarity map completed")
	c.Data(http.StatusOK, "application/json", raw)
}
