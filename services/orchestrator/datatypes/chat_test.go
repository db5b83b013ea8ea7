// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"testing"
)

// =============================================================================
// ChatRequest Normalization Tests
// =============================================================================

func TestNormalizeChatRequest_Defaults(t *testing.T) {
	req, err := NormalizeChatRequest([]byte(`{"message": "hello"}`))
	if err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	if req.Message != "hello" {
		t.Errorf("expected message 'hello', got %q", req.Message)
	}
	if req.K != KDefault {
		t.Errorf("expected default k=%d, got %d", KDefault, req.K)
	}
	if !req.ToolCallingEnabled {
		t.Error("expected tool calling enabled by default")
	}
	if req.ReasoningEffort != ReasoningEffortMinimal {
		t.Errorf("expected default effort %q, got %q", ReasoningEffortMinimal, req.ReasoningEffort)
	}
	if req.OCREnabled {
		t.Error("expected OCR disabled by default")
	}
	if req.OCRIncludeImages {
		t.Error("expected OCR region images disabled by default")
	}
}

func TestNormalizeChatRequest_MissingMessage(t *testing.T) {
	for _, body := range []string{`{}`, `{"message": ""}`, `{"message": "   "}`, `{"message": 42}`} {
		if _, err := NormalizeChatRequest([]byte(body)); !errors.Is(err, ErrMessageRequired) {
			t.Errorf("body %s: expected ErrMessageRequired, got %v", body, err)
		}
	}
}

func TestNormalizeChatRequest_KClamping(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"below_min", `{"message": "q", "k": 0}`, KMin},
		{"negative", `{"message": "q", "k": -3}`, KMin},
		{"above_max", `{"message": "q", "k": 999}`, KMax},
		{"in_range", `{"message": "q", "k": 7}`, 7},
		{"absent", `{"message": "q"}`, KDefault},
		{"non_numeric", `{"message": "q", "k": "many"}`, KDefault},
		{"fractional", `{"message": "q", "k": 7.9}`, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := NormalizeChatRequest([]byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.K != tc.want {
				t.Errorf("expected k=%d, got %d", tc.want, req.K)
			}
		})
	}
}

func TestNormalizeChatRequest_ToolCalling(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"absent_defaults_on", `{"message": "q"}`, true},
		{"explicit_true", `{"message": "q", "toolCallingEnabled": true}`, true},
		{"explicit_false", `{"message": "q", "toolCallingEnabled": false}`, false},
		{"non_bool_defaults_on", `{"message": "q", "toolCallingEnabled": "no"}`, true},
		{"null_defaults_on", `{"message": "q", "toolCallingEnabled": null}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := NormalizeChatRequest([]byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.ToolCallingEnabled != tc.want {
				t.Errorf("expected toolCallingEnabled=%v, got %v", tc.want, req.ToolCallingEnabled)
			}
		})
	}
}

func TestNormalizeChatRequest_ReasoningEffort(t *testing.T) {
	cases := []struct {
		name string
		body string
		want ReasoningEffort
	}{
		{"flat_field", `{"message": "q", "reasoningEffort": "high"}`, ReasoningEffortHigh},
		{"nested_field", `{"message": "q", "reasoning": {"effort": "medium"}}`, ReasoningEffortMedium},
		{"unknown_falls_back", `{"message": "q", "reasoningEffort": "extreme"}`, ReasoningEffortMinimal},
		{"non_string_falls_back", `{"message": "q", "reasoningEffort": 3}`, ReasoningEffortMinimal},
		{"absent", `{"message": "q"}`, ReasoningEffortMinimal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := NormalizeChatRequest([]byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.ReasoningEffort != tc.want {
				t.Errorf("expected effort %q, got %q", tc.want, req.ReasoningEffort)
			}
		})
	}
}

func TestNormalizeChatRequest_OCRFlags(t *testing.T) {
	req, err := NormalizeChatRequest([]byte(`{"message": "q", "ocrEnabled": true, "ocrIncludeImages": true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !req.OCREnabled || !req.OCRIncludeImages {
		t.Errorf("expected both OCR flags on, got enabled=%v includeImages=%v",
			req.OCREnabled, req.OCRIncludeImages)
	}

	// Non-bool values stay off.
	req, err = NormalizeChatRequest([]byte(`{"message": "q", "ocrEnabled": "yes"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.OCREnabled {
		t.Error("expected non-bool ocrEnabled to stay off")
	}
}

func TestNormalizeChatRequest_InvalidJSON(t *testing.T) {
	if _, err := NormalizeChatRequest([]byte(`{"message":`)); err == nil {
		t.Error("expected error for malformed JSON, got nil")
	}
}

func TestClampK(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, KMin}, {-5, KMin}, {1, 1}, {13, 13}, {25, 25}, {26, KMax}, {1000, KMax},
	}
	for _, tc := range cases {
		if got := ClampK(tc.in); got != tc.want {
			t.Errorf("ClampK(%d): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}

func TestChatRequest_Validate(t *testing.T) {
	req := &ChatRequest{Message: "hello", K: 5, ReasoningEffort: ReasoningEffortLow}
	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}

	req = &ChatRequest{Message: "", K: 5, ReasoningEffort: ReasoningEffortLow}
	if err := req.Validate(); err == nil {
		t.Error("expected error for empty message, got nil")
	}

	req = &ChatRequest{Message: "hello", K: 40, ReasoningEffort: ReasoningEffortLow}
	if err := req.Validate(); err == nil {
		t.Error("expected error for out-of-range k, got nil")
	}
}

// =============================================================================
// Parse Helper Tests
// =============================================================================

func TestParseReasoningEffort(t *testing.T) {
	cases := []struct {
		in   string
		want ReasoningEffort
	}{
		{"minimal", ReasoningEffortMinimal},
		{"low", ReasoningEffortLow},
		{"medium", ReasoningEffortMedium},
		{"high", ReasoningEffortHigh},
		{"", ReasoningEffortMinimal},
		{"HIGH", ReasoningEffortMinimal},
		{"turbo", ReasoningEffortMinimal},
	}
	for _, tc := range cases {
		if got := ParseReasoningEffort(tc.in); got != tc.want {
			t.Errorf("ParseReasoningEffort(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestParseSummaryPreference(t *testing.T) {
	cases := []struct {
		in   string
		want SummaryPreference
	}{
		{"auto", SummaryAuto},
		{"concise", SummaryConcise},
		{"detailed", SummaryDetailed},
		{"", SummaryPreference("")},
		{"verbose", SummaryPreference("")},
	}
	for _, tc := range cases {
		if got := ParseSummaryPreference(tc.in); got != tc.want {
			t.Errorf("ParseSummaryPreference(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
