// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the inbound chat request shape and its normalization
// rules. For the multimodal message model, see content.go. For retrieval
// document types, see rag.go.
package datatypes

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// KDefault is the document count used when the client sends no usable k.
	KDefault = 5

	// KMin and KMax bound the retrieval document count. Every normalized
	// request satisfies KMin <= K <= KMax.
	KMin = 1
	KMax = 25
)

// ErrMessageRequired is returned when the chat message is missing or blank
// after trimming. The text is surfaced verbatim as the inline form error.
var ErrMessageRequired = errors.New("Message is required")

// =============================================================================
// Enumerations
// =============================================================================

// ReasoningEffort is the provider knob controlling internal deliberation.
type ReasoningEffort string

const (
	ReasoningEffortMinimal ReasoningEffort = "minimal"
	ReasoningEffortLow     ReasoningEffort = "low"
	ReasoningEffortMedium  ReasoningEffort = "medium"
	ReasoningEffortHigh    ReasoningEffort = "high"
)

// ParseReasoningEffort maps an arbitrary string onto a valid effort level.
//
// Matching is exact against the lowercase level names; anything else,
// uppercase variants included, silently falls back to minimal. The silent
// fallback is deliberate policy, not an error: effort is a tuning hint, and
// a stale or misspelled client preference must never reject a chat turn.
func ParseReasoningEffort(raw string) ReasoningEffort {
	switch ReasoningEffort(strings.TrimSpace(raw)) {
	case ReasoningEffortLow:
		return ReasoningEffortLow
	case ReasoningEffortMedium:
		return ReasoningEffortMedium
	case ReasoningEffortHigh:
		return ReasoningEffortHigh
	default:
		return ReasoningEffortMinimal
	}
}

// SummaryPreference selects the answer style requested by the client.
type SummaryPreference string

const (
	SummaryAuto     SummaryPreference = "auto"
	SummaryConcise  SummaryPreference = "concise"
	SummaryDetailed SummaryPreference = "detailed"
)

// ParseSummaryPreference maps an arbitrary string onto a known preference.
// Unknown values yield the empty preference (no style instruction).
func ParseSummaryPreference(raw string) SummaryPreference {
	switch SummaryPreference(strings.ToLower(strings.TrimSpace(raw))) {
	case SummaryAuto:
		return SummaryAuto
	case SummaryConcise:
		return SummaryConcise
	case SummaryDetailed:
		return SummaryDetailed
	default:
		return ""
	}
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
var chatValidate = validator.New()

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest is the canonical, normalized shape of an inbound chat turn.
//
// # Description
//
// A ChatRequest is produced once per inbound HTTP call by
// NormalizeChatRequest and is immutable afterwards; it is discarded when the
// request completes. Handlers and services must only ever see normalized
// requests, so downstream code can rely on the invariants below without
// re-checking.
//
// # Invariants
//
//   - Message is non-empty after trimming.
//   - KMin <= K <= KMax.
//   - ReasoningEffort is one of minimal|low|medium|high.
//
// # Fields
//
//   - Message: The user's question, trimmed.
//   - K: Number of documents to retrieve when the tool fires.
//   - ToolCallingEnabled: Whether the retrieval tool decision phase runs.
//     Defaults to true; only an explicit JSON false disables it.
//   - ReasoningEffort: Validated effort level, silent-fallback to minimal.
//   - Summary: Optional answer-style preference; empty when unset/unknown.
//   - OCREnabled: Include extracted page text in the model context.
//   - OCRIncludeImages: Also include cropped region images from OCR data.
type ChatRequest struct {
	Message            string            `json:"message" validate:"required"`
	K                  int               `json:"k" validate:"min=1,max=25"`
	ToolCallingEnabled bool              `json:"toolCallingEnabled"`
	ReasoningEffort    ReasoningEffort   `json:"reasoningEffort" validate:"oneof=minimal low medium high"`
	Summary            SummaryPreference `json:"summary,omitempty"`
	OCREnabled         bool              `json:"ocrEnabled"`
	OCRIncludeImages   bool              `json:"ocrIncludeImages"`
}

// Validate re-checks the normalized invariants via validator tags.
//
// NormalizeChatRequest already guarantees these hold; Validate exists as a
// second line of defense for requests constructed programmatically (tests,
// internal callers).
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Normalization
// =============================================================================

// rawChatRequest mirrors the untyped inbound body. Every field is decoded
// loosely so that wrong-typed values degrade to defaults instead of failing
// the whole bind.
type rawChatRequest struct {
	Message            any `json:"message"`
	K                  any `json:"k"`
	ToolCallingEnabled any `json:"toolCallingEnabled"`
	ReasoningEffort    any `json:"reasoningEffort"`
	Reasoning          struct {
		Effort any `json:"effort"`
	} `json:"reasoning"`
	Summary          any `json:"summary"`
	OCREnabled       any `json:"ocrEnabled"`
	OCRIncludeImages any `json:"ocrIncludeImages"`
}

// NormalizeChatRequest validates and canonicalizes an untyped request body.
//
// # Description
//
// The only hard requirement is a non-empty message; everything else is
// coerced to a sane default rather than rejected:
//
//   - message: must be a string that is non-empty after trimming, else
//     ErrMessageRequired.
//   - k: defaults to KDefault when absent or not a finite number, then
//     clamps into [KMin, KMax].
//   - toolCallingEnabled: true unless the body carries an explicit false.
//   - reasoning.effort: whitelist-validated, silent fallback to minimal.
//   - summary: kept only when it names a known preference.
//   - ocrEnabled / ocrIncludeImages: false unless an actual boolean.
//
// # Inputs
//
//   - body: Raw JSON request body.
//
// # Outputs
//
//   - *ChatRequest: The normalized request. Nil on error.
//   - error: ErrMessageRequired for a blank message, or a JSON syntax error
//     for an unparseable body. Both map to HTTP 400.
//
// # Assumptions
//
//   - The function is pure: no side effects, no request state.
func NormalizeChatRequest(body []byte) (*ChatRequest, error) {
	var raw rawChatRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, err
		}
	}

	message, _ := raw.Message.(string)
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrMessageRequired
	}

	req := &ChatRequest{
		Message:            message,
		K:                  normalizeK(raw.K),
		ToolCallingEnabled: normalizeToolCalling(raw.ToolCallingEnabled),
		ReasoningEffort:    normalizeEffort(raw.Reasoning.Effort, raw.ReasoningEffort),
		OCREnabled:         normalizeBool(raw.OCREnabled),
		OCRIncludeImages:   normalizeBool(raw.OCRIncludeImages),
	}
	if s, ok := raw.Summary.(string); ok {
		req.Summary = ParseSummaryPreference(s)
	}

	return req, nil
}

// normalizeK coerces the inbound k value to a clamped document count.
// encoding/json decodes every JSON number as float64; anything that is not
// a finite number falls back to KDefault before clamping.
func normalizeK(v any) int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return KDefault
	}
	return ClampK(int(f))
}

// ClampK bounds a document count into [KMin, KMax].
func ClampK(k int) int {
	if k < KMin {
		return KMin
	}
	if k > KMax {
		return KMax
	}
	return k
}

// normalizeToolCalling defaults to true; only an explicit JSON false
// disables the retrieval tool decision phase.
func normalizeToolCalling(v any) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// normalizeBool defaults feature flags to false when absent or non-boolean.
func normalizeBool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// normalizeEffort applies the silent-fallback whitelist to the effort value.
// The nested reasoning.effort field wins over the flat reasoningEffort one
// when both are present.
func normalizeEffort(nested, flat any) ReasoningEffort {
	if s, ok := nested.(string); ok && strings.TrimSpace(s) != "" {
		return ParseReasoningEffort(s)
	}
	s, _ := flat.(string)
	return ParseReasoningEffort(s)
}
