// Copyright (C) 2026 Athrael Soju
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package heatmap computes display bounds for similarity heatmap overlays.
//
// The interpretability backend returns raw patch similarity scores whose
// scale varies wildly between queries. Rendering them directly produces
// washed-out or saturated overlays, so the scores are remapped onto a
// display range chosen by a normalization strategy. The strategies trade
// outlier robustness against contrast:
//
//   - minmax: full observed range, maximum contrast, zero robustness.
//   - percentile: clips the extreme tails (default).
//   - robust: interquartile range, strongest outlier suppression.
//   - zscore: mean plus/minus a multiple of the standard deviation.
//   - mad: median plus/minus a multiple of the scaled median absolute
//     deviation.
//
// All strategies are pure functions over a copy of the input; the caller's
// slice is never reordered or mutated.
package heatmap

import (
	"math"
	"sort"
)

// =============================================================================
// Strategies
// =============================================================================

// Strategy names a bounds computation. Unknown strategies fall back to
// StrategyPercentile; see Normalize.
type Strategy string

const (
	StrategyMinMax     Strategy = "minmax"
	StrategyPercentile Strategy = "percentile"
	StrategyRobust     Strategy = "robust"
	StrategyZScore     Strategy = "zscore"
	StrategyMAD        Strategy = "mad"
)

// DefaultStrategy is used when the caller names no strategy.
const DefaultStrategy = StrategyPercentile

// madScale converts a median absolute deviation into a standard deviation
// estimate under a normality assumption.
const madScale = 1.4826

// =============================================================================
// Options
// =============================================================================

// Options tunes the strategy parameters. The zero value is not useful;
// start from DefaultOptions.
type Options struct {
	// LowerPercentile and UpperPercentile bound the percentile strategy,
	// expressed in [0, 100].
	LowerPercentile float64
	UpperPercentile float64

	// RobustLower and RobustUpper bound the robust strategy.
	RobustLower float64
	RobustUpper float64

	// ZScoreMultiplier widens the zscore window around the mean.
	ZScoreMultiplier float64

	// MADMultiplier widens the mad window around the median.
	MADMultiplier float64
}

// DefaultOptions returns the stock strategy parameters.
func DefaultOptions() Options {
	return Options{
		LowerPercentile:  2,
		UpperPercentile:  98,
		RobustLower:      25,
		RobustUpper:      75,
		ZScoreMultiplier: 3,
		MADMultiplier:    3,
	}
}

// =============================================================================
// Bounds
// =============================================================================

// Bounds is the display range [Min, Max] that raw similarity values are
// mapped onto. Min < Max always holds for bounds produced by this package.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Normalize computes display bounds for values using the named strategy
// with default parameters. Unknown strategy names use DefaultStrategy.
func Normalize(values []float64, strategy Strategy) Bounds {
	return NormalizeWithOptions(values, strategy, DefaultOptions())
}

// NormalizeWithOptions computes display bounds with caller-tuned parameters.
//
// # Edge cases
//
//   - Empty input yields Bounds{0, 1}.
//   - A degenerate result (Min >= Max, as with constant input) is widened
//     to a unit interval centered on the computed point so division by the
//     range is always safe downstream.
func NormalizeWithOptions(values []float64, strategy Strategy, opts Options) Bounds {
	if len(values) == 0 {
		return Bounds{Min: 0, Max: 1}
	}

	var b Bounds
	switch strategy {
	case StrategyMinMax:
		b = minMaxBounds(values)
	case StrategyRobust:
		b = percentileBounds(values, opts.RobustLower, opts.RobustUpper)
	case StrategyZScore:
		b = zScoreBounds(values, opts.ZScoreMultiplier)
	case StrategyMAD:
		b = madBounds(values, opts.MADMultiplier)
	case StrategyPercentile:
		b = percentileBounds(values, opts.LowerPercentile, opts.UpperPercentile)
	default:
		b = percentileBounds(values, opts.LowerPercentile, opts.UpperPercentile)
	}

	if b.Min >= b.Max {
		mid := b.Min
		b = Bounds{Min: mid - 0.5, Max: mid + 0.5}
	}
	return b
}

// Scale maps a raw value into [0, 1] under the bounds, clipping overflow.
func (b Bounds) Scale(v float64) float64 {
	scaled := (v - b.Min) / (b.Max - b.Min)
	return math.Min(1, math.Max(0, scaled))
}

// =============================================================================
// Strategy Implementations
// =============================================================================

func minMaxBounds(values []float64) Bounds {
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return Bounds{Min: min, Max: max}
}

func percentileBounds(values []float64, lower, upper float64) Bounds {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return Bounds{
		Min: percentile(sorted, lower),
		Max: percentile(sorted, upper),
	}
}

// percentile computes the p-th percentile of sorted data using linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi > len(sorted)-1 {
		hi = len(sorted) - 1
	}
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func zScoreBounds(values []float64, multiplier float64) Bounds {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	std := math.Sqrt(variance)

	return Bounds{Min: mean - multiplier*std, Max: mean + multiplier*std}
}

func madBounds(values []float64, multiplier float64) Bounds {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	med := median(sorted)

	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	sort.Float64s(deviations)
	mad := median(deviations)

	window := multiplier * madScale * mad
	return Bounds{Min: med - window, Max: med + window}
}

// median of already sorted data.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
