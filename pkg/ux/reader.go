// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides the terminal client side of the chat stream.
//
// This file contains the stream reader that consumes an io.Reader source
// and emits decoded events via callbacks.
//
// Single Responsibility:
//
//	The reader handles I/O and event sequencing. It uses FrameScanner to
//	convert bytes to frames, but does not render output. That separation
//	enables flexible composition with different front ends.
//
// Context Support:
//
//	Reading checks the context between chunks; when the context is
//	cancelled, reading stops and the context error is returned.
package ux

import (
	"context"
	"encoding/json"
	"io"
)

// =============================================================================
// Callbacks
// =============================================================================

// Callbacks receives stream events as they are decoded. All fields are
// optional; a nil callback is skipped. A non-nil error return from any
// callback stops reading and is surfaced from Read.
type Callbacks struct {
	// OnFirstChunk fires once, before the first delta is delivered.
	// Front ends use it to stop spinners and start the answer area.
	OnFirstChunk func() error

	// OnDelta receives each answer fragment.
	OnDelta func(delta string) error

	// OnKbImages receives the consulted documents.
	OnKbImages func(docs []DocumentRef) error

	// OnEvent receives every frame, including those already routed to a
	// dedicated callback. Useful for logging and protocol debugging.
	OnEvent func(frame Frame) error
}

// =============================================================================
// Stream Reader
// =============================================================================

// StreamReader consumes a chat response stream and invokes callbacks.
//
// A single Read or ReadAll call owns its reader argument until it
// returns; the caller is responsible for closing the underlying body.
type StreamReader interface {
	// Read processes the stream until it ends, invoking callbacks as
	// events decode. Returns nil on a clean end of stream (with or
	// without a completed frame), the context error on cancellation, a
	// callback error when one aborts consumption, or the read error
	// when the connection drops.
	Read(ctx context.Context, r io.Reader, cb Callbacks) (*StreamResult, error)

	// ReadAll consumes the stream with no callbacks and returns the
	// aggregate result.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// NewStreamReader creates a reader for the chat stream wire format.
func NewStreamReader() StreamReader {
	return &sseStreamReader{}
}

type sseStreamReader struct{}

// Compile-time interface implementation check.
var _ StreamReader = (*sseStreamReader)(nil)

func (s *sseStreamReader) Read(ctx context.Context, r io.Reader, cb Callbacks) (*StreamResult, error) {
	var (
		scanner FrameScanner
		state   streamState
	)

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return state.result(), err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			scanner.Append(buf[:n])
			for {
				frame, ok := scanner.Next()
				if !ok {
					break
				}
				if err := state.handle(frame, cb); err != nil {
					return state.result(), err
				}
			}
		}
		if readErr == io.EOF {
			return state.result(), nil
		}
		if readErr != nil {
			return state.result(), readErr
		}
	}
}

func (s *sseStreamReader) ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error) {
	return s.Read(ctx, r, Callbacks{})
}

// =============================================================================
// Stream State
// =============================================================================

// streamState folds decoded frames into a StreamResult.
type streamState struct {
	answer     []byte
	documents  []DocumentRef
	completed  bool
	errMessage string
	sawDelta   bool

	// completedText backs the answer when no deltas arrived, as happens
	// on proxies that coalesce the stream.
	completedText string
}

func (st *streamState) handle(frame Frame, cb Callbacks) error {
	if cb.OnEvent != nil {
		if err := cb.OnEvent(frame); err != nil {
			return err
		}
	}

	switch frame.Event {
	case EventDelta:
		var payload deltaPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil // malformed payload: drop the frame
		}
		if !st.sawDelta {
			st.sawDelta = true
			if cb.OnFirstChunk != nil {
				if err := cb.OnFirstChunk(); err != nil {
					return err
				}
			}
		}
		st.answer = append(st.answer, payload.Delta...)
		if cb.OnDelta != nil {
			return cb.OnDelta(payload.Delta)
		}

	case EventKbImages:
		var payload kbImagesPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil
		}
		docs := make([]DocumentRef, 0, len(payload.Items))
		for _, item := range payload.Items {
			var doc DocumentRef
			if err := json.Unmarshal(item, &doc); err != nil {
				continue
			}
			docs = append(docs, doc)
		}
		st.documents = append(st.documents, docs...)
		if cb.OnKbImages != nil {
			return cb.OnKbImages(docs)
		}

	case EventCompleted:
		var payload completedPayload
		if err := json.Unmarshal(frame.Data, &payload); err == nil {
			st.completedText = payload.Text
		}
		st.completed = true

	case EventError:
		var payload errorPayload
		if err := json.Unmarshal(frame.Data, &payload); err == nil {
			st.errMessage = payload.Message
		}
	}
	return nil
}

func (st *streamState) result() *StreamResult {
	answer := string(st.answer)
	if answer == "" {
		answer = st.completedText
	}
	return &StreamResult{
		Answer:    answer,
		Documents: st.documents,
		Completed: st.completed,
		Err:       st.errMessage,
	}
}
