// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import "encoding/json"

// Event labels used on the chat stream wire. The server wraps every frame
// as `data: {"event": <label>, "data": <payload>}`.
const (
	// EventDelta carries one answer text fragment: {"delta": string}.
	EventDelta = "response.output_text.delta"

	// EventCompleted closes a successful turn: {"text": string}.
	EventCompleted = "response.completed"

	// EventKbImages announces the consulted documents: {"items": [...]}.
	// When present it always precedes the first EventDelta.
	EventKbImages = "kb.images"

	// EventError reports a server-side failure: {"message": string}.
	EventError = "error"
)

// DocumentRef is the client-side view of one consulted document, a
// lightweight projection of the server's retrieval hit.
type DocumentRef struct {
	ImageURL string   `json:"image_url"`
	Label    string   `json:"label"`
	Score    *float64 `json:"score"`
}

// deltaPayload is the EventDelta frame body.
type deltaPayload struct {
	Delta string `json:"delta"`
}

// completedPayload is the EventCompleted frame body.
type completedPayload struct {
	Text string `json:"text"`
}

// kbImagesPayload is the EventKbImages frame body.
type kbImagesPayload struct {
	Items []json.RawMessage `json:"items"`
}

// errorPayload is the EventError frame body.
type errorPayload struct {
	Message string `json:"message"`
}

// StreamResult aggregates one consumed chat stream.
type StreamResult struct {
	// Answer is the concatenation of all delta fragments, or the
	// completed text when the stream carried no deltas.
	Answer string

	// Documents lists the consulted documents, in announcement order.
	Documents []DocumentRef

	// Completed reports that the server closed the turn cleanly with an
	// EventCompleted frame. A false value means the stream was cut off.
	Completed bool

	// Err carries the EventError message when the server reported one.
	Err string
}
