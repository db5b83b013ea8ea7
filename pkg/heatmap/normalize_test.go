// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package heatmap

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalize_Empty(t *testing.T) {
	b := Normalize(nil, StrategyMinMax)
	if b.Min != 0 || b.Max != 1 {
		t.Errorf("expected [0, 1] for empty input, got [%v, %v]", b.Min, b.Max)
	}
}

func TestNormalize_MinMax(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	b := Normalize(values, StrategyMinMax)
	if b.Min != 1 || b.Max != 9 {
		t.Errorf("expected [1, 9], got [%v, %v]", b.Min, b.Max)
	}
}

func TestNormalize_ConstantInput(t *testing.T) {
	values := []float64{5, 5, 5, 5}
	for _, s := range []Strategy{StrategyMinMax, StrategyPercentile, StrategyRobust, StrategyZScore, StrategyMAD} {
		b := Normalize(values, s)
		if b.Min >= b.Max {
			t.Errorf("strategy %s: degenerate bounds [%v, %v] not widened", s, b.Min, b.Max)
		}
	}
}

func TestNormalize_PercentileClipsTails(t *testing.T) {
	// 1..100: the 2nd/98th percentiles sit strictly inside the full range.
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	b := Normalize(values, StrategyPercentile)
	if b.Min <= 1 || b.Max >= 100 {
		t.Errorf("expected tails clipped inside (1, 100), got [%v, %v]", b.Min, b.Max)
	}
	if !almostEqual(b.Min, 2.98) {
		t.Errorf("expected lower bound 2.98, got %v", b.Min)
	}
	if !almostEqual(b.Max, 98.02) {
		t.Errorf("expected upper bound 98.02, got %v", b.Max)
	}
}

func TestNormalize_RobustIsTighterThanPercentile(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	p := Normalize(values, StrategyPercentile)
	r := Normalize(values, StrategyRobust)
	if r.Min <= p.Min || r.Max >= p.Max {
		t.Errorf("expected robust [%v, %v] strictly inside percentile [%v, %v]",
			r.Min, r.Max, p.Min, p.Max)
	}
}

func TestNormalize_ZScore(t *testing.T) {
	// Symmetric data: mean 0, std 1.
	values := []float64{-1, -1, 1, 1}
	b := Normalize(values, StrategyZScore)
	if !almostEqual(b.Min, -3) || !almostEqual(b.Max, 3) {
		t.Errorf("expected [-3, 3], got [%v, %v]", b.Min, b.Max)
	}
}

func TestNormalize_MADIgnoresOutlier(t *testing.T) {
	// A single extreme outlier must not blow up the display window the
	// way it does for minmax.
	values := []float64{1, 1, 1, 1, 100}
	mad := Normalize(values, StrategyMAD)
	mm := Normalize(values, StrategyMinMax)
	if mad.Max >= mm.Max {
		t.Errorf("expected MAD upper bound %v below minmax upper bound %v", mad.Max, mm.Max)
	}
	// Median 1, MAD 0 widened to a unit interval around 1.
	if !almostEqual(mad.Min, 0.5) || !almostEqual(mad.Max, 1.5) {
		t.Errorf("expected widened [0.5, 1.5], got [%v, %v]", mad.Min, mad.Max)
	}
}

func TestNormalize_UnknownStrategyFallsBack(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	unknown := Normalize(values, Strategy("fancy"))
	pct := Normalize(values, StrategyPercentile)
	if unknown != pct {
		t.Errorf("expected unknown strategy to match percentile %+v, got %+v", pct, unknown)
	}
}

func TestNormalize_InputNotMutated(t *testing.T) {
	values := []float64{9, 1, 5}
	Normalize(values, StrategyPercentile)
	if values[0] != 9 || values[1] != 1 || values[2] != 5 {
		t.Errorf("input slice mutated: %v", values)
	}
}

func TestNormalizeWithOptions_CustomPercentiles(t *testing.T) {
	values := make([]float64, 101)
	for i := range values {
		values[i] = float64(i)
	}
	opts := DefaultOptions()
	opts.LowerPercentile = 10
	opts.UpperPercentile = 90
	b := NormalizeWithOptions(values, StrategyPercentile, opts)
	if !almostEqual(b.Min, 10) || !almostEqual(b.Max, 90) {
		t.Errorf("expected [10, 90], got [%v, %v]", b.Min, b.Max)
	}
}

func TestBounds_Scale(t *testing.T) {
	b := Bounds{Min: 10, Max: 20}
	cases := []struct{ in, want float64 }{
		{10, 0}, {15, 0.5}, {20, 1}, {5, 0}, {25, 1},
	}
	for _, tc := range cases {
		if got := b.Scale(tc.in); !almostEqual(got, tc.want) {
			t.Errorf("Scale(%v): expected %v, got %v", tc.in, tc.want, got)
		}
	}
}
