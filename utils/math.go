// utils/math.go
package utils

import "math"

const Epsilon = 1e-9

// FloatEquals compares two floating-point numbers for near-equality. The
// threshold trigger's == and != comparators go through this instead of raw
// equality.
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// ClampUnit clamps a capacity factor into [0, 1].
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
