// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP handlers for the orchestrator service.
//
// The streaming chat handler speaks the SSE wire protocol defined in
// sse_writer.go: a stream-start comment, an optional kb.images frame,
// answer delta frames, and a terminal completed or error frame. Heartbeat
// comments ride along every 15 seconds to keep load balancers from
// cutting idle connections.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/observability"
	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/services"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is the interval for sending keepalive pings.
	// Set to 15s to stay well under typical LB timeouts (60s for ALB/Nginx).
	heartbeatInterval = 15 * time.Second
)

// =============================================================================
// Interface Definition
// =============================================================================

// StreamingChatHandler defines the contract for handling streaming chat
// HTTP requests.
//
// # Description
//
// StreamingChatHandler abstracts the chat streaming endpoint, enabling
// different implementations and facilitating testing via mocks.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
// HTTP handlers are called concurrently by the Gin framework.
type StreamingChatHandler interface {
	// HandleChatStream processes one chat turn with SSE streaming.
	//
	// # Description
	//
	// Handles POST /api/chat/stream requests. Normalizes the request,
	// runs the retrieval tool loop, and streams the answer via
	// Server-Sent Events.
	//
	// # Outputs
	//
	// SSE stream with frames:
	//   - kb.images: consulted documents (only when retrieval succeeded)
	//   - response.output_text.delta: answer fragments
	//   - response.completed: full answer text
	//   - error: sanitized failure message, followed by an abortive close
	//
	// HTTP Status (before streaming starts):
	//   - 400 Bad Request: Missing message or unparseable body
	//   - 500 Internal Server Error: SSE setup failure
	HandleChatStream(c *gin.Context)
}

// =============================================================================
// Struct Definition
// =============================================================================

// streamingChatHandler implements StreamingChatHandler for production use.
//
// # Description
//
// streamingChatHandler coordinates between the HTTP layer and the turn
// service. It performs HTTP-related tasks and delegates the tool loop to
// the injected TurnRunner:
//   - Request normalization
//   - SSE header configuration and frame emission
//   - Heartbeat keepalives
//   - Error handling and metrics
//
// # Thread Safety
//
// Thread-safe. All fields are read-only after construction.
type streamingChatHandler struct {
	turns  services.TurnRunner
	tracer trace.Tracer
}

// =============================================================================
// Constructor
// =============================================================================

// NewStreamingChatHandler creates a StreamingChatHandler with the provided
// turn runner. Panics on a nil runner (programming error).
func NewStreamingChatHandler(turns services.TurnRunner) StreamingChatHandler {
	if turns == nil {
		panic("NewStreamingChatHandler: turns must not be nil")
	}
	return &streamingChatHandler{
		turns:  turns,
		tracer: otel.Tracer("snappy.orchestrator.handlers.chat_streaming"),
	}
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleChatStream processes one chat turn with SSE streaming.
//
// # Description
//
// The flow is:
//  1. Read and normalize the request body
//  2. Set SSE headers and create the frame writer
//  3. Emit the stream-start comment
//  4. Start the heartbeat goroutine
//  5. Run the turn, forwarding sink events as frames
//  6. Emit the completed frame with the full answer
//
// A model provider failure mid-stream emits an error frame and then
// panics with http.ErrAbortHandler so the connection closes abortively
// instead of looking like a clean end of stream. The recovery middleware
// passes that panic through to net/http.
//
// # Inputs
//
//   - c: Gin context containing the HTTP request
//
// # Outputs
//
// See the interface documentation for the frame sequence.
func (h *streamingChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()

	// Track active stream (for metrics)
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	success := false
	defer func() {
		// Record final metrics
		if m := observability.DefaultMetrics; m != nil {
			duration := time.Since(startTime).Seconds()
			m.RecordRequest(endpoint, success)
			m.RecordStreamDuration(endpoint, duration, success)
		}
	}()

	// Step 1: Read and normalize the request body
	body, bodyErr := io.ReadAll(c.Request.Body)
	if bodyErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request"})
		return
	}

	req, err := datatypes.NormalizeChatRequest(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to normalize chat request", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeValidation)
		}
		message := "invalid request body"
		if errors.Is(err, datatypes.ErrMessageRequired) {
			message = err.Error()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return
	}

	// turnID correlates log lines for one stream; the HTTP request itself
	// carries no client-provided identifier.
	turnID := uuid.NewString()
	span.SetAttributes(
		attribute.String("turn.id", turnID),
		attribute.Int("request.k", req.K),
		attribute.Bool("request.tool_calling_enabled", req.ToolCallingEnabled),
		attribute.String("request.reasoning_effort", string(req.ReasoningEffort)),
		attribute.Bool("request.ocr_enabled", req.OCREnabled),
	)

	// Step 2: Set SSE headers and create writer
	SetSSEHeaders(c.Writer)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer", "error", err)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordError(endpoint, observability.ErrorCodeInternal)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	// Step 3: Emit stream-start comment so the client sees bytes before
	// the first (possibly slow) model round trip.
	if err := sseWriter.WriteComment("stream-start"); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write stream-start comment", "error", err)
		return
	}

	// Step 4: Start heartbeat goroutine to prevent connection timeouts
	heartbeatDone := make(chan struct{})
	go h.runHeartbeat(ctx, sseWriter, endpoint, heartbeatDone)

	// Step 5: Run the turn
	sink := &sseTurnSink{writer: sseWriter}
	result, runErr := h.turns.Run(ctx, req, sink)

	// Stop heartbeat
	close(heartbeatDone)

	deltaCount := atomic.LoadInt32(&sink.deltaCount)
	span.SetAttributes(attribute.Int("stream.delta_count", int(deltaCount)))

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "turn failed")
		slog.Error("Chat turn failed",
			"turnID", turnID,
			"error", runErr,
			"deltaCount", deltaCount,
		)

		if errors.Is(runErr, context.Canceled) {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
				m.RecordClientDisconnect(endpoint)
			}
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			var upstream *services.UpstreamStreamError
			if errors.As(runErr, &upstream) {
				m.RecordError(endpoint, observability.ErrorCodeUpstream)
			} else {
				m.RecordError(endpoint, observability.ErrorCodeInternal)
			}
		}

		// Emit the error frame, then kill the socket. A clean close after
		// a partial answer would be indistinguishable from success for
		// clients that missed the error frame.
		_ = sseWriter.WriteError("The model stream failed. Please retry.")
		panic(http.ErrAbortHandler)
	}

	// Record time to first delta
	if first := sink.firstDelta.Load(); first != nil {
		ttfd := first.(time.Time).Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_delta_seconds", ttfd))
		if m := observability.DefaultMetrics; m != nil {
			m.RecordTimeToFirstDelta(endpoint, ttfd)
		}
	}

	// Tool loop outcome metrics
	if m := observability.DefaultMetrics; m != nil {
		switch {
		case result.RetrievalFailed:
			m.RecordToolCall("failed")
		case result.ToolUsed:
			m.RecordToolCall("used")
		default:
			m.RecordToolCall("skipped")
		}
	}
	span.SetAttributes(
		attribute.Bool("turn.tool_used", result.ToolUsed),
		attribute.Bool("turn.retrieval_failed", result.RetrievalFailed),
		attribute.Int("turn.document_count", len(result.Documents)),
	)

	// Step 6: Emit the completed frame
	if err := sseWriter.WriteCompleted(result.Answer); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write completed frame", "error", err)
		return
	}

	success = true
	span.SetStatus(codes.Ok, "stream completed successfully")
}

// =============================================================================
// Turn Sink
// =============================================================================

// sseTurnSink adapts the turn service's event callbacks onto SSE frames.
// It records the wall-clock time of the first delta for latency metrics.
type sseTurnSink struct {
	writer     SSEWriter
	deltaCount int32
	firstDelta atomic.Value // time.Time
}

// Compile-time interface check.
var _ services.TurnEvents = (*sseTurnSink)(nil)

func (s *sseTurnSink) OnKbImages(docs []datatypes.RetrievedDocument) error {
	return s.writer.WriteKbImages(docs)
}

func (s *sseTurnSink) OnDelta(delta string) error {
	if atomic.AddInt32(&s.deltaCount, 1) == 1 {
		s.firstDelta.Store(time.Now())
	}
	return s.writer.WriteDelta(delta)
}

// =============================================================================
// Heartbeat
// =============================================================================

// runHeartbeat sends periodic keepalive comments until done is closed.
//
// # Description
//
// Runs as a goroutine alongside the turn. The comment rides the same
// mutex as payload frames, so heartbeats never tear a frame. A write
// failure means the client went away; the goroutine exits and leaves
// disconnect handling to the streaming callback path.
func (h *streamingChatHandler) runHeartbeat(ctx context.Context, w SSEWriter, endpoint observability.Endpoint, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteComment("ping"); err != nil {
				slog.Debug("Heartbeat write failed, client likely disconnected", "error", err)
				return
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordKeepAlive(endpoint)
			}
		}
	}
}
