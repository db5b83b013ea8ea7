// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating calls to external services (retrieval backend, LLM,
//     interpretability backend)
//   - Applying business rules and validation
//   - Managing error handling and recovery
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Composable: Services can call other services
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// retrievalTracer is the OpenTelemetry tracer for RetrievalClient operations.
var retrievalTracer = otel.Tracer("snappy.orchestrator.services.retrieval")

// Compile-time interface implementation check.
var _ DocumentSearcher = (*RetrievalClient)(nil)

const (
	maxRetrievalRetries   = 3
	initialRetryDelay     = 1 * time.Second
	defaultRetrievalURL   = "http://snappy-retrieval:8000"
	retrievalSearchPath   = "/search"
	retrievalTimeoutUsage = 30 * time.Second
)

// =============================================================================
// Interfaces
// =============================================================================

// DocumentSearcher defines the contract for scoring documents against a
// query in the vector store.
//
// # Description
//
// This interface abstracts the retrieval backend for the chat tool loop.
// The orchestrator never talks to the vector store directly; it asks the
// retrieval service for the top-k page images matching a query and feeds
// them to the model as multimodal context.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type DocumentSearcher interface {
	// Search returns the top-k documents for the query.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation, timeouts, and tracing.
	//     Recommended timeout: 30 seconds.
	//   - query: Search text. Must be non-empty.
	//   - k: Document count, already clamped by request normalization.
	//   - includeOCR: Ask the backend to attach extracted page text.
	//
	// # Outputs
	//
	//   - []datatypes.RetrievedDocument: Hits in backend ranking order.
	//     May be empty; empty is not an error.
	//   - error: Non-nil after all retries failed. *RetrievalError for
	//     HTTP errors, wrapped errors otherwise.
	Search(ctx context.Context, query string, k int, includeOCR bool) ([]datatypes.RetrievedDocument, error)
}

// =============================================================================
// RetrievalClient
// =============================================================================

// RetrievalClient talks to the document retrieval backend over HTTP.
//
// Transient failures (network errors, 502/503/504) are retried up to
// maxRetrievalRetries times with 1s, 2s, 4s exponential backoff; client
// errors are returned immediately.
//
// Usage:
//
//	client := NewRetrievalClient()
//	docs, err := client.Search(ctx, "quarterly revenue", 5, true)
type RetrievalClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRetrievalClient creates a RetrievalClient from environment config.
//
// The backend URL is read from the RETRIEVAL_URL environment variable,
// defaulting to "http://snappy-retrieval:8000" if not set.
func NewRetrievalClient() *RetrievalClient {
	baseURL := os.Getenv("RETRIEVAL_URL")
	if baseURL == "" {
		baseURL = defaultRetrievalURL
		slog.Warn("RETRIEVAL_URL not set, using default", "url", baseURL)
	}
	return &RetrievalClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: retrievalTimeoutUsage},
	}
}

// searchResponse is the retrieval backend's search result envelope. Some
// deployments return a bare array instead; both shapes are accepted.
type searchResponse struct {
	Results []datatypes.RetrievedDocument `json:"results"`
}

// Search implements the DocumentSearcher interface.
func (c *RetrievalClient) Search(ctx context.Context, query string, k int, includeOCR bool) ([]datatypes.RetrievedDocument, error) {
	ctx, span := retrievalTracer.Start(ctx, "RetrievalClient.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("query", query),
		attribute.Int("k", k),
		attribute.Bool("include_ocr", includeOCR),
	)

	k = datatypes.ClampK(k)

	// Retry loop with exponential backoff
	var lastErr error
	retryDelay := initialRetryDelay

	for attempt := 0; attempt <= maxRetrievalRetries; attempt++ {
		if attempt > 0 {
			span.AddEvent("retry_attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("delay", retryDelay.String()),
			))
			slog.Info("Retrying document search",
				"attempt", attempt,
				"delay", retryDelay,
				"lastError", lastErr,
			)

			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context canceled during retry")
				return nil, ctx.Err()
			case <-time.After(retryDelay):
				// Continue with retry
			}
			retryDelay *= 2 // Exponential backoff
		}

		docs, err := c.callSearchEndpoint(ctx, query, k, includeOCR)
		if err == nil {
			span.SetAttributes(
				attribute.Int("docs_count", len(docs)),
				attribute.Int("attempts", attempt+1),
			)
			return docs, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "non-retryable error")
			return nil, err
		}
	}

	// All retries exhausted
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all retries exhausted")
	span.SetAttributes(attribute.Int("total_attempts", maxRetrievalRetries+1))
	return nil, fmt.Errorf("document search failed after %d attempts: %w", maxRetrievalRetries+1, lastErr)
}

// callSearchEndpoint makes a single HTTP request to the search endpoint.
// The contract is GET /search?q=<query>&k=<int>&include_ocr=<bool>.
func (c *RetrievalClient) callSearchEndpoint(ctx context.Context, query string, k int, includeOCR bool) ([]datatypes.RetrievedDocument, error) {
	ctx, span := retrievalTracer.Start(ctx, "RetrievalClient.callSearchEndpoint")
	defer span.End()

	params := url.Values{}
	params.Set("q", query)
	params.Set("k", strconv.Itoa(k))
	params.Set("include_ocr", strconv.FormatBool(includeOCR))
	searchURL := c.baseURL + retrievalSearchPath + "?" + params.Encode()
	span.SetAttributes(attribute.String("retrieval.url", searchURL))

	httpReq, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(
			attribute.Int("retrieval.status_code", resp.StatusCode),
			attribute.String("retrieval.error_body", string(body)),
		)
		return nil, &RetrievalError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Retryable:  isRetryableStatusCode(resp.StatusCode),
		}
	}

	// Accept both the enveloped and bare-array response shapes.
	var envelope searchResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Results != nil {
		span.SetAttributes(attribute.Int("retrieval.docs_count", len(envelope.Results)))
		return envelope.Results, nil
	}
	var docs []datatypes.RetrievedDocument
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	span.SetAttributes(attribute.Int("retrieval.docs_count", len(docs)))
	return docs, nil
}

// isRetryableStatusCode returns true for status codes that indicate
// transient failures where a retry may succeed.
func isRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isRetryableError decides whether a failed attempt is worth retrying.
// RetrievalErrors carry their own verdict; anything else (network errors,
// connection refused) is treated as transient.
func isRetryableError(err error) bool {
	if re, ok := err.(*RetrievalError); ok {
		return re.Retryable
	}
	return true
}

// =============================================================================
// RetrievalError
// =============================================================================

// RetrievalError wraps HTTP errors from the retrieval backend with enough
// structure for callers to branch on status and retryability.
type RetrievalError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

// Error implements the error interface for RetrievalError.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed with status %d: %s", e.StatusCode, e.Message)
}

// IsRetrievalError checks if an error is a RetrievalError.
func IsRetrievalError(err error) bool {
	_, ok := err.(*RetrievalError)
	return ok
}
