// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the retrieval document model returned by the search
// backend. Documents are owned by the retrieval response for the lifetime
// of one chat turn; they are never mutated, only projected into content
// parts by the content assembler.
package datatypes

import "fmt"

// =============================================================================
// Retrieved Documents
// =============================================================================

// RetrievedDocument is one hit from the document search backend.
//
// # Description
//
// The search backend scores page images against the query. Each hit carries
// a page image URL, a human-readable label for citation, the similarity
// score, an opaque payload that may embed inline OCR data, and optionally a
// URL to a companion JSON file holding the extracted page text.
//
// # Fields
//
//   - ImageURL: Page image location. Nil when the backend stores no image.
//   - Label: Citation label (e.g. "report.pdf - page 12"). Nil when unknown.
//   - Score: Similarity score. Nil when the backend omits scoring.
//   - Payload: Backend metadata. May embed inline OCR under "ocr" (or at the
//     top level): markdown, text, raw_text, regions[].
//   - JSONURL: Companion JSON with extracted text, fetched only when the
//     payload carries no inline OCR.
type RetrievedDocument struct {
	ImageURL *string        `json:"image_url"`
	Label    *string        `json:"label"`
	Score    *float64       `json:"score"`
	Payload  map[string]any `json:"payload"`
	JSONURL  *string        `json:"json_url"`
}

// DisplayLabel returns the citation label for the document at position idx,
// falling back to a positional name when the backend supplied none.
func (d RetrievedDocument) DisplayLabel(idx int) string {
	if d.Label != nil && *d.Label != "" {
		return *d.Label
	}
	return fmt.Sprintf("Document %d", idx+1)
}

// ocrObject locates the inline OCR container inside the payload.
//
// Backends either nest OCR data under payload["ocr"] or flatten the fields
// onto the payload itself; both layouts are accepted.
func (d RetrievedDocument) ocrObject() map[string]any {
	if d.Payload == nil {
		return nil
	}
	if nested, ok := d.Payload["ocr"].(map[string]any); ok {
		return nested
	}
	return d.Payload
}

// ocrString reads a string field from the inline OCR container.
func (d RetrievedDocument) ocrString(key string) string {
	obj := d.ocrObject()
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

// InlineMarkdown returns the inline OCR markdown rendering, if present.
func (d RetrievedDocument) InlineMarkdown() string { return d.ocrString("markdown") }

// InlineText returns the inline OCR plain-text rendering, if present.
func (d RetrievedDocument) InlineText() string { return d.ocrString("text") }

// InlineRawText returns the inline OCR raw text, if present.
func (d RetrievedDocument) InlineRawText() string { return d.ocrString("raw_text") }

// Regions returns the OCR sub-regions embedded in the payload, if any.
//
// Each region is an opaque map; see OCRRegion for the accessor that
// interprets the common fields.
func (d RetrievedDocument) Regions() []OCRRegion {
	obj := d.ocrObject()
	if obj == nil {
		return nil
	}
	raw, ok := obj["regions"].([]any)
	if !ok {
		return nil
	}
	regions := make([]OCRRegion, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			regions = append(regions, OCRRegion(m))
		}
	}
	return regions
}

// =============================================================================
// OCR Regions
// =============================================================================

// OCRRegion is one figure/diagram/chart/table sub-region extracted from a
// page by the OCR pipeline.
type OCRRegion map[string]any

// Label returns the region classification (e.g. "figure", "table").
// Backends use either "type" or "label" for this field.
func (r OCRRegion) Label() string {
	if s, ok := r["type"].(string); ok && s != "" {
		return s
	}
	s, _ := r["label"].(string)
	return s
}

// CropURL returns the URL of the cropped region image, if the backend
// materialized one. Checked keys, in order: image_url, url, crop_url.
func (r OCRRegion) CropURL() string {
	for _, key := range []string{"image_url", "url", "crop_url"} {
		if s, ok := r[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// =============================================================================
// Companion OCR Document
// =============================================================================

// OCRDocument is the shape of the companion JSON file referenced by
// RetrievedDocument.JSONURL. Text resolution priority inside the file
// matches the inline priority: markdown > text > raw_text.
type OCRDocument struct {
	Markdown string `json:"markdown"`
	Text     string `json:"text"`
	RawText  string `json:"raw_text"`
}

// BestText returns the highest-priority non-empty rendering.
func (o OCRDocument) BestText() string {
	if o.Markdown != "" {
		return o.Markdown
	}
	if o.Text != "" {
		return o.Text
	}
	return o.RawText
}

// =============================================================================
// Stream Payloads
// =============================================================================

// KbImagesData is the payload of the kb.images stream frame: the documents
// the model consulted for this turn, in retrieval order.
type KbImagesData struct {
	Items []RetrievedDocument `json:"items"`
}
