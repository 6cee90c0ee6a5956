// Package indicator provides deterministic technical indicator calculations
// over finite ordered series: moving averages, exponential averages, the
// MACD trend-oscillator triple and the KDJ stochastic oscillator.
//
// All functions are total: every input length is valid. Output slices are
// aligned index-for-index with the input; indices inside an indicator's
// warm-up span carry NaN as the undefined marker.
package indicator

import "math"

// undefined marks output indices with insufficient history.
func undefined() float64 { return math.NaN() }

// IsDefined reports whether an indicator value is outside the warm-up span.
func IsDefined(v float64) bool {
	return !math.IsNaN(v)
}
