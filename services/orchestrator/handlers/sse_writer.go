// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/athrael-soju/Snappy-sub002/services/orchestrator/datatypes"
)

// Event labels on the chat stream wire.
const (
	EventDelta     = "response.output_text.delta"
	EventCompleted = "response.completed"
	EventKbImages  = "kb.images"
	EventError     = "error"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing chat stream frames to HTTP
// responses.
//
// # Description
//
// Every frame is one SSE data line wrapping an event envelope:
//
//	data: {"event": "<label>", "data": <payload>}\n\n
//
// Frames are serialized completely before the first byte reaches the
// socket and flushed as a unit, so a client never observes a torn frame.
// Comment frames (": text\n\n") carry no payload and exist for connection
// liveness and stream-start signaling.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; streaming handlers
// emit heartbeats and payload frames from different goroutines.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before the first write.
type SSEWriter interface {
	// WriteFrame writes one event frame. The payload is marshaled as the
	// envelope's data field.
	WriteFrame(event string, payload any) error

	// WriteComment writes an SSE comment frame (": text").
	WriteComment(text string) error

	// WriteDelta writes one answer text fragment.
	WriteDelta(delta string) error

	// WriteKbImages announces the consulted documents. Must be called
	// before the first WriteDelta of the turn, or not at all.
	WriteKbImages(docs []datatypes.RetrievedDocument) error

	// WriteCompleted closes a successful turn with the full answer text.
	WriteCompleted(text string) error

	// WriteError reports a failure. The message must already be
	// sanitized; no internal details reach the client.
	WriteError(message string) error
}

// =============================================================================
// Implementation
// =============================================================================

// frameEnvelope is the wire shape of one frame.
type frameEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Fields
//
//   - writer: Underlying http.ResponseWriter
//   - flusher: http.Flusher for immediate send
//   - mu: Serializes writes so frames from concurrent goroutines never
//     interleave
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// Compile-time interface check.
var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter creates an SSEWriter for the given ResponseWriter.
// Returns an error when the writer does not support flushing, which
// would silently break streaming behind buffering middleware.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// WriteFrame writes one event frame and flushes it.
func (w *sseWriter) WriteFrame(event string, payload any) error {
	// Marshal before taking the lock: a frame either serializes fully
	// or nothing is written.
	body, err := json.Marshal(frameEnvelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	frame := make([]byte, 0, len(body)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, body...)
	frame = append(frame, "\n\n"...)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteComment writes an SSE comment frame and flushes it.
func (w *sseWriter) WriteComment(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteDelta(delta string) error {
	return w.WriteFrame(EventDelta, map[string]string{"delta": delta})
}

func (w *sseWriter) WriteKbImages(docs []datatypes.RetrievedDocument) error {
	return w.WriteFrame(EventKbImages, datatypes.KbImagesData{Items: docs})
}

func (w *sseWriter) WriteCompleted(text string) error {
	return w.WriteFrame(EventCompleted, map[string]string{"text": text})
}

func (w *sseWriter) WriteError(message string) error {
	return w.WriteFrame(EventError, map[string]string{"message": message})
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
