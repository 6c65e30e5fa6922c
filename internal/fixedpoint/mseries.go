package fixedpoint

import "math"

// M-Series controllers accumulate in 17.15, trading fraction bits of the
// A-Series 8.24 accumulator for integer headroom.
const scale17_15 = 1 << 15

// DoubleToFixed17_15 converts an accumulator value to the 17.15 format.
func DoubleToFixed17_15(d float64) int32 {
	return saturateInt32(math.Trunc(d * scale17_15))
}

// Fixed17_15ToDouble returns the exact value of a 17.15 code.
func Fixed17_15ToDouble(i int32) float64 {
	return float64(i) / scale17_15
}
