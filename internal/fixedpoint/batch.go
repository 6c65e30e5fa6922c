package fixedpoint

import "math"

// EncodeSlice performs dst[i] = f.Encode(src[i]) and returns how many
// values saturated. dst must be at least as long as src.
func EncodeSlice(f Format, dst []int32, src []float64) int {
	lo, hi := f.Min(), f.Max()
	saturated := 0
	for i, d := range src {
		dst[i] = encodeCode(f, d)
		if !(d >= lo && d <= hi) {
			saturated++
		}
	}
	return saturated
}

// DecodeSlice performs dst[i] = f.Decode(src[i]).
func DecodeSlice(f Format, dst []float64, src []int32) {
	i := 0
	for ; i <= len(src)-4; i += 4 {
		dst[i] = f.Decode(src[i])
		dst[i+1] = f.Decode(src[i+1])
		dst[i+2] = f.Decode(src[i+2])
		dst[i+3] = f.Decode(src[i+3])
	}
	for ; i < len(src); i++ {
		dst[i] = f.Decode(src[i])
	}
}

// QuantizeSlice performs dst[i] = f.Quantize(src[i]) and returns how many
// values saturated.
func QuantizeSlice(f Format, dst, src []float64) int {
	saturated := 0
	for i, d := range src {
		q, sat := f.Quantize(d)
		dst[i] = q
		if sat {
			saturated++
		}
	}
	return saturated
}

// MultipartSlice performs dst[i] = MapToFixed4_9MultipartPrecision(src[i]).
func MultipartSlice(dst, src []float64) {
	i := 0
	for ; i <= len(src)-4; i += 4 {
		dst[i] = MapToFixed4_9MultipartPrecision(src[i])
		dst[i+1] = MapToFixed4_9MultipartPrecision(src[i+1])
		dst[i+2] = MapToFixed4_9MultipartPrecision(src[i+2])
		dst[i+3] = MapToFixed4_9MultipartPrecision(src[i+3])
	}
	for ; i < len(src); i++ {
		dst[i] = MapToFixed4_9MultipartPrecision(src[i])
	}
}

// TanhSlice performs dst[i] = TanhApprox(src[i]).
func TanhSlice(dst, src []float64) {
	i := 0
	for ; i <= len(src)-4; i += 4 {
		dst[i] = TanhApprox(src[i])
		dst[i+1] = TanhApprox(src[i+1])
		dst[i+2] = TanhApprox(src[i+2])
		dst[i+3] = TanhApprox(src[i+3])
	}
	for ; i < len(src); i++ {
		dst[i] = TanhApprox(src[i])
	}
}

// MultipartRegisters returns how many 4.9 registers a weight of value d
// occupies under MapToFixed4_9MultipartPrecision. Non-finite values report 0
// and magnitudes past the exact fold range report math.MaxInt.
func MultipartRegisters(d float64) int {
	switch {
	case math.IsNaN(d) || math.IsInf(d, 0):
		return 0
	case math.Abs(d) >= multipartExactLimit:
		return math.MaxInt
	case d < minDouble4_9:
		return int(foldCount(d, minDouble4_9, func(v float64) bool { return v < minDouble4_9 })) + 1
	case d > maxDouble4_9:
		return int(foldCount(d, maxDouble4_9, func(v float64) bool { return v > maxDouble4_9 })) + 1
	}
	return 1
}

func encodeCode(f Format, d float64) int32 {
	switch f {
	case Format1_15:
		return int32(DoubleToFixed1_15(d))
	case Format4_9:
		return int32(DoubleToFixed4_9(d))
	case Format8_24:
		return DoubleToFixed8_24(d)
	case Format17_15:
		return DoubleToFixed17_15(d)
	}
	return 0
}

// MultipartCodes returns the 4.9 codes of the registers a weight of value d
// occupies under MapToFixed4_9MultipartPrecision: one full-range code per
// fold, then the remainder. It returns nil for values MultipartRegisters
// reports as 0 or math.MaxInt.
func MultipartCodes(d float64) []int16 {
	n := MultipartRegisters(d)
	if n == 0 || n == math.MaxInt {
		return nil
	}
	codes := make([]int16, n)
	var (
		fill int16
		span float64
	)
	switch {
	case d < minDouble4_9:
		fill, span = minCode4_9, minDouble4_9
	case d > maxDouble4_9:
		fill, span = maxCode4_9, maxDouble4_9
	}
	for i := 0; i < n-1; i++ {
		codes[i] = fill
	}
	codes[n-1] = DoubleToFixed4_9(d - float64(n-1)*span)
	return codes
}
