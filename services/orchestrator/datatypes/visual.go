// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Visual Interpretability
// =============================================================================

var visualValidate = validator.New()

// HeatmapRequest asks the interpretability backend to score a query against
// a single page image and return per-patch similarity values.
type HeatmapRequest struct {
	Query    string `json:"query" validate:"required"`
	ImageURL string `json:"image_url" validate:"required,url"`

	// Strategy selects how raw similarity values are mapped onto the
	// display range. Unknown values fall back to percentile scaling.
	Strategy string `json:"strategy,omitempty"`
}

// Validate checks required fields on the request.
func (r *HeatmapRequest) Validate() error {
	return visualValidate.Struct(r)
}

// HeatmapResponse carries the raw patch grid from the backend plus the
// normalized display bounds computed server-side.
type HeatmapResponse struct {
	Rows   int            `json:"rows"`
	Cols   int            `json:"cols"`
	Values []float64      `json:"values"`
	Bounds [2]float64     `json:"bounds"`
	Image  string         `json:"image,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// SimilarityMapRequest asks the interpretability backend for a token-level
// similarity map over an uploaded image. The image travels as multipart
// form data, so only the scalar fields appear here.
type SimilarityMapRequest struct {
	Query string `json:"query" validate:"required"`
	Token string `json:"token,omitempty"`
}

// Validate checks required fields on the request.
func (r *SimilarityMapRequest) Validate() error {
	return visualValidate.Struct(r)
}
