// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/athrael-soju/Snappy-sub002/pkg/ux"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// =============================================================================
// Streaming Chat Service
// =============================================================================

// apologyAnswer stands in for the model answer when the server drops the
// connection before any text arrives.
const apologyAnswer = "Sorry, the answer stream was interrupted before any text arrived. Please try again."

// HTTPClient abstracts the transport so tests can substitute a mock.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StreamingChatService posts chat turns to the orchestrator and consumes the
// event stream it answers with.
//
// # Description
//
// The service owns the HTTP round trip and the stream decode; callers supply
// ux.Callbacks to render deltas as they arrive. A turn that fails before the
// stream opens returns an error; a turn whose stream breaks mid-answer
// returns the partial result with the failure recorded on it.
type StreamingChatService struct {
	baseURL string
	client  HTTPClient
	reader  ux.StreamReader
}

// NewStreamingChatService builds a service against the given orchestrator
// base URL using the default HTTP client. Streaming responses have no
// overall deadline; cancellation comes from the caller's context.
func NewStreamingChatService(baseURL string) *StreamingChatService {
	return NewStreamingChatServiceWithClient(baseURL, http.DefaultClient)
}

// NewStreamingChatServiceWithClient is the injectable constructor for tests.
func NewStreamingChatServiceWithClient(baseURL string, client HTTPClient) *StreamingChatService {
	return &StreamingChatService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		reader:  ux.NewStreamReader(),
	}
}

// Stream sends one chat turn and decodes the response stream, invoking the
// callbacks as frames arrive.
//
// # Outputs
//
//   - *ux.StreamResult: the assembled answer and any cited documents. Never
//     nil when the stream opened, even if it later broke.
//   - error: non-nil when the request could not be sent, the server rejected
//     it, or the stream broke before completing.
func (s *StreamingChatService) Stream(ctx context.Context, req *datatypes.ChatRequest, cb ux.Callbacks) (*ux.StreamResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("contacting orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeErrorResponse(resp)
	}

	result, readErr := s.reader.Read(ctx, resp.Body, cb)
	if readErr != nil && result.Answer == "" && result.Err == "" {
		// The socket died before the first delta. Give the caller
		// something printable instead of an empty answer.
		result.Answer = apologyAnswer
	}

	if result.Err != "" {
		return result, fmt.Errorf("stream failed: %s", result.Err)
	}
	if readErr != nil {
		return result, fmt.Errorf("reading stream: %w", readErr)
	}
	if !result.Completed {
		return result, fmt.Errorf("stream ended without completing")
	}
	return result, nil
}

// decodeErrorResponse turns a non-200 reply into an error, preferring the
// server's own {"error": "..."} message when the body carries one.
func decodeErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server rejected request (%d): %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}
