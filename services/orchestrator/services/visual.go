// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/athrael-soju/Snappy-sub002/pkg/heatmap"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// visualTracer is the OpenTelemetry tracer for VisualClient operations.
var visualTracer = otel.Tracer("snappy.orchestrator.services.visual")

const (
	defaultVisualURL   = "http://snappy-interpret:8000"
	visualHeatmapPath  = "/heatmap"
	visualSimMapPath   = "/similarity-map"
	visualFetchTimeout = 60 * time.Second
)

// =============================================================================
// VisualClient
// =============================================================================

// VisualClient talks to the interpretability backend, which scores query
// embeddings against image patches. Raw patch values come back unscaled;
// the client computes display bounds with the requested normalization
// strategy before handing the result to the caller.
type VisualClient struct {
	baseURL    string
	httpClient HTTPClient
}

// NewVisualClient creates a VisualClient from environment config. The
// backend URL is read from INTERPRET_URL, defaulting to
// "http://snappy-interpret:8000" if not set.
func NewVisualClient() *VisualClient {
	baseURL := os.Getenv("INTERPRET_URL")
	if baseURL == "" {
		baseURL = defaultVisualURL
		slog.Warn("INTERPRET_URL not set, using default", "url", baseURL)
	}
	return NewVisualClientWithURL(baseURL, &http.Client{Timeout: visualFetchTimeout})
}

// NewVisualClientWithURL creates a VisualClient with an explicit base URL
// and transport. Used by tests.
func NewVisualClientWithURL(baseURL string, client HTTPClient) *VisualClient {
	return &VisualClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
	}
}

// rawHeatmapResponse is the backend's unnormalized patch grid.
type rawHeatmapResponse struct {
	Rows   int            `json:"rows"`
	Cols   int            `json:"cols"`
	Values []float64      `json:"values"`
	Image  string         `json:"image,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Heatmap scores a query against a page image and returns the patch grid
// with display bounds computed by the request's normalization strategy.
func (c *VisualClient) Heatmap(ctx context.Context, req *datatypes.HeatmapRequest) (*datatypes.HeatmapResponse, error) {
	ctx, span := visualTracer.Start(ctx, "VisualClient.Heatmap")
	defer span.End()

	strategy := heatmap.Strategy(req.Strategy)
	if req.Strategy == "" {
		strategy = heatmap.DefaultStrategy
	}
	span.SetAttributes(
		attribute.String("query", req.Query),
		attribute.String("strategy", string(strategy)),
	)

	payload, err := json.Marshal(map[string]string{
		"query":     req.Query,
		"image_url": req.ImageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal heatmap request: %w", err)
	}

	body, err := c.post(ctx, c.baseURL+visualHeatmapPath, "application/json", bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "heatmap request failed")
		return nil, err
	}

	var raw rawHeatmapResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse heatmap response: %w", err)
	}

	bounds := heatmap.Normalize(raw.Values, strategy)
	span.SetAttributes(
		attribute.Int("rows", raw.Rows),
		attribute.Int("cols", raw.Cols),
		attribute.Int("values", len(raw.Values)),
	)
	return &datatypes.HeatmapResponse{
		Rows:   raw.Rows,
		Cols:   raw.Cols,
		Values: raw.Values,
		Bounds: [2]float64{bounds.Min, bounds.Max},
		Image:  raw.Image,
		Extra:  raw.Extra,
	}, nil
}

// SimilarityMap uploads an image and returns the backend's token-level
// similarity rendering verbatim. The image travels as multipart form data
// alongside the query and optional token fields.
func (c *VisualClient) SimilarityMap(ctx context.Context, req *datatypes.SimilarityMapRequest, filename string, file io.Reader) (json.RawMessage, error) {
	ctx, span := visualTracer.Start(ctx, "VisualClient.SimilarityMap")
	defer span.End()
	span.SetAttributes(attribute.String("query", req.Query))

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("query", req.Query); err != nil {
		return nil, fmt.Errorf("failed to write query field: %w", err)
	}
	if req.Token != "" {
		if err := writer.WriteField("token", req.Token); err != nil {
			return nil, fmt.Errorf("failed to write token field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy upload body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	body, err := c.post(ctx, c.baseURL+visualSimMapPath, writer.FormDataContentType(), &buf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "similarity map request failed")
		return nil, err
	}
	return json.RawMessage(body), nil
}

// post performs one POST and returns the response body, mapping non-200
// statuses onto RetrievalError so callers share one error taxonomy for
// backend failures.
func (c *VisualClient) post(ctx context.Context, url, contentType string, body io.Reader) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RetrievalError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Retryable:  isRetryableStatusCode(resp.StatusCode),
		}
	}
	return respBody, nil
}
