// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the multimodal message model shared by the tool
// orchestrator and the LLM provider clients. For chat request types, see
// chat.go. For retrieval document types, see rag.go.
package datatypes

// =============================================================================
// Roles
// =============================================================================

// Role identifies the author of a message in the conversation history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// =============================================================================
// Content Parts
// =============================================================================

// ContentPartType discriminates the variants of a ContentPart.
type ContentPartType string

const (
	// ContentPartText is a plain text fragment.
	ContentPartText ContentPartType = "text"

	// ContentPartImage is an image reference, either a remote URL or an
	// inline base64 data URL.
	ContentPartImage ContentPartType = "image"

	// ContentPartFunctionCall is a tool invocation requested by the model.
	ContentPartFunctionCall ContentPartType = "function_call"

	// ContentPartFunctionCallOutput is the result of executing a tool call,
	// correlated back to the call via CallID.
	ContentPartFunctionCallOutput ContentPartType = "function_call_output"
)

// ContentPart is one typed unit of a message.
//
// # Description
//
// ContentPart is a tagged variant: exactly the fields relevant to Type are
// populated, everything else is zero. Parts are composed into an ordered
// array on Message; that order is significant and is preserved verbatim
// into the provider call — builders must never reorder parts once built.
//
// # Fields
//
//   - Type: Variant discriminator.
//   - Text: Populated for ContentPartText.
//   - ImageURL: Populated for ContentPartImage. May be an https URL or a
//     data: URL with inlined base64 bytes.
//   - Name, Arguments, CallID: Populated for ContentPartFunctionCall.
//     Arguments is the raw JSON argument string as emitted by the model.
//   - CallID, Output: Populated for ContentPartFunctionCallOutput.
type ContentPart struct {
	Type      ContentPartType `json:"type"`
	Text      string          `json:"text,omitempty"`
	ImageURL  string          `json:"image_url,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Output    string          `json:"output,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentPartText, Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: ContentPartImage, ImageURL: url}
}

// FunctionCallPart builds a function-call content part.
func FunctionCallPart(callID, name, arguments string) ContentPart {
	return ContentPart{
		Type:      ContentPartFunctionCall,
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}
}

// FunctionCallOutputPart builds a function-call-output content part.
func FunctionCallOutputPart(callID, output string) ContentPart {
	return ContentPart{
		Type:   ContentPartFunctionCallOutput,
		CallID: callID,
		Output: output,
	}
}

// =============================================================================
// Messages
// =============================================================================

// Message is a single turn of conversation content sent to the provider.
//
// # Description
//
// Content ordering is significant: parts are forwarded to the provider in
// the exact order they appear here. A message may mix text and image parts
// (multimodal user turns), or carry a single function_call /
// function_call_output part (tool round-trips).
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextMessage builds a message with a single text part.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{TextPart(text)}}
}

// PlainText concatenates the text of all text parts in the message.
//
// Useful for logging and for providers that accept only string content.
func (m Message) PlainText() string {
	var out string
	for _, part := range m.Content {
		if part.Type == ContentPartText {
			out += part.Text
		}
	}
	return out
}
