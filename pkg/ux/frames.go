// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides the terminal client side of the chat stream: frame
// scanning, stream consumption, and output styling.
//
// This file contains the SSE frame scanner. The scanner is responsible
// for reassembling wire frames from arbitrarily chunked reads; it does
// no I/O and no event interpretation, which keeps it trivially testable
// against any chunking pattern.
package ux

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// Frames
// =============================================================================

// Frame is one decoded SSE frame from the chat stream.
type Frame struct {
	// Event is the frame label, one of the Event* constants (or anything
	// a newer server sends; unknown labels are the caller's business).
	Event string `json:"event"`

	// Data is the frame payload, left raw for the caller to decode
	// according to Event.
	Data json.RawMessage `json:"data"`
}

// =============================================================================
// FrameScanner
// =============================================================================

// FrameScanner reassembles SSE frames from a chunked byte stream.
//
// # Description
//
// Network reads split the stream at arbitrary byte positions, including
// mid-frame and mid-rune. The scanner buffers appended chunks and yields
// a frame only once its complete "\n\n"-terminated block has arrived, so
// chunk boundaries never affect the decoded frame sequence.
//
// Within a block, every "data: " line is parsed independently; a line
// that fails to parse is dropped without affecting its neighbors.
// Comment lines (leading ':') and blank lines are ignored.
//
// Usage:
//
//	var scanner FrameScanner
//	scanner.Append(chunk)
//	for {
//	    frame, ok := scanner.Next()
//	    if !ok {
//	        break
//	    }
//	    handle(frame)
//	}
//
// # Thread Safety
//
// Not safe for concurrent use; a scanner belongs to one reading goroutine.
type FrameScanner struct {
	buf     strings.Builder
	pending []Frame
}

// Append adds a chunk of raw stream bytes and decodes any frame blocks
// that are now complete.
func (s *FrameScanner) Append(chunk []byte) {
	s.buf.Write(chunk)

	data := s.buf.String()
	blocks := strings.Split(data, "\n\n")
	if len(blocks) == 1 {
		// No complete block yet.
		return
	}

	// The final element is the unterminated remainder; keep it buffered.
	s.buf.Reset()
	s.buf.WriteString(blocks[len(blocks)-1])

	for _, block := range blocks[:len(blocks)-1] {
		s.pending = append(s.pending, parseBlock(block)...)
	}
}

// Next returns the next decoded frame, or ok=false when no complete frame
// is buffered.
func (s *FrameScanner) Next() (Frame, bool) {
	if len(s.pending) == 0 {
		return Frame{}, false
	}
	frame := s.pending[0]
	s.pending = s.pending[1:]
	return frame, true
}

// parseBlock decodes one "\n\n"-delimited block into zero or more frames.
func parseBlock(block string) []Frame {
	var frames []Frame
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// Malformed line: drop it, keep the rest of the block.
			continue
		}
		frames = append(frames, frame)
	}
	return frames
}
