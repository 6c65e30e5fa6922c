package fixedpoint

import "math"

// A-Series register formats.
const (
	scale1_15 = 1 << 15
	scale4_9  = 1 << 9
	scale8_24 = 1 << 24

	minCode1_15 = math.MinInt16
	maxCode1_15 = math.MaxInt16

	// 4.9 weights use 13 of the 16 container bits.
	minCode4_9 = -0x1000
	maxCode4_9 = 0x0FFF

	minDouble1_15 = -1.0
	maxDouble1_15 = float64(maxCode1_15) / scale1_15 // 0.999969482421875

	minDouble4_9 = -8.0
	maxDouble4_9 = float64(maxCode4_9) / scale4_9 // 7.998046875
)

// DoubleToFixed1_15 converts an activation to the 1.15 register format.
// The fraction is truncated toward zero and out-of-range inputs saturate.
// NaN saturates to the maximum code.
func DoubleToFixed1_15(d float64) int16 {
	if d <= minDouble1_15 {
		return minCode1_15
	}
	if d >= maxDouble1_15 || math.IsNaN(d) {
		return maxCode1_15
	}
	return int16(clamp(math.Trunc(d*scale1_15), minCode1_15, maxCode1_15))
}

// Fixed1_15ToDouble returns the exact value of a 1.15 code.
func Fixed1_15ToDouble(i int16) float64 {
	return float64(i) / scale1_15
}

// DoubleToFixed4_9 converts a weight to the 4.9 register format.
func DoubleToFixed4_9(d float64) int16 {
	if d < minDouble4_9 {
		return minCode4_9
	}
	if d > maxDouble4_9 || math.IsNaN(d) {
		return maxCode4_9
	}
	return int16(math.Trunc(d * scale4_9))
}

// Fixed4_9ToDouble returns the value of a 4.9 code. Codes outside the 13-bit
// range map to the maximum weight in both directions, matching the firmware
// tooling. Use Fixed4_9ToDoubleSaturating for the symmetric behavior.
func Fixed4_9ToDouble(i int16) float64 {
	if i < minCode4_9 || i > maxCode4_9 {
		return maxDouble4_9
	}
	return float64(i) / scale4_9
}

// Fixed4_9ToDoubleSaturating is Fixed4_9ToDouble with codes below the range
// mapping to the minimum weight instead of the maximum.
func Fixed4_9ToDoubleSaturating(i int16) float64 {
	if i < minCode4_9 {
		return minDouble4_9
	}
	if i > maxCode4_9 {
		return maxDouble4_9
	}
	return float64(i) / scale4_9
}

// MapToFixed4_9Precision returns d as it would read back after being written
// to a 4.9 weight register, without producing the code.
func MapToFixed4_9Precision(d float64) float64 {
	if math.IsNaN(d) {
		return maxDouble4_9
	}
	d = clamp(d, minDouble4_9, maxDouble4_9)
	return math.Trunc(d*scale4_9) / scale4_9
}

// Beyond this magnitude repeated subtraction of a register span stops being
// exact, so the fold count is no longer refined.
const multipartExactLimit = 1 << 44

// MapToFixed4_9MultipartPrecision models a weight spread over several 4.9
// registers: every register but the last holds a full-range value and the
// last one holds the quantized remainder.
//
// The fold count is computed directly instead of subtracting one register at
// a time; below multipartExactLimit both give the same bits.
func MapToFixed4_9MultipartPrecision(d float64) float64 {
	switch {
	case math.IsNaN(d):
		return maxDouble4_9
	case math.IsInf(d, 0):
		return d
	}

	var rest float64
	if d < minDouble4_9 {
		n := foldCount(d, minDouble4_9, func(v float64) bool { return v < minDouble4_9 })
		rest = n * minDouble4_9
		d -= rest
	} else if d > maxDouble4_9 {
		n := foldCount(d, maxDouble4_9, func(v float64) bool { return v > maxDouble4_9 })
		rest = n * maxDouble4_9
		d -= rest
	}
	return math.Trunc(d*scale4_9)/scale4_9 + rest
}

// foldCount returns the number of times span must be subtracted from d until
// outside reports false.
func foldCount(d, span float64, outside func(float64) bool) float64 {
	n := math.Ceil(d/span) - 1
	if n < 1 {
		n = 1
	}
	if math.Abs(d) >= multipartExactLimit {
		return n
	}
	for outside(d - n*span) {
		n++
	}
	for n > 1 && !outside(d-(n-1)*span) {
		n--
	}
	return n
}

// DoubleToFixed8_24 converts an accumulator value to the 8.24 format.
func DoubleToFixed8_24(d float64) int32 {
	return saturateInt32(math.Trunc(d * scale8_24))
}

// Fixed8_24ToDouble returns the exact value of an 8.24 code.
func Fixed8_24ToDouble(i int32) float64 {
	return float64(i) / scale8_24
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// saturateInt32 clamps a truncated product to the int32 range before the
// cast, so the conversion never depends on platform float-to-int behavior.
func saturateInt32(v float64) int32 {
	if math.IsNaN(v) || v >= math.MaxInt32 {
		return math.MaxInt32
	}
	if v <= math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
