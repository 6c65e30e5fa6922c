package fixedpoint

// tanhMaxIndex is the last table segment; inputs beyond 41/8 saturate.
const tanhMaxIndex = 40

// tanhBases holds tanh(k/8) in 1.15. tanhDeltas holds the 1.15 rise from
// segment k to segment k+1, scaled so that a 16-bit position inside the
// segment interpolates linearly.
var (
	tanhBases = [tanhMaxIndex + 1]int16{
		0, 4075, 8025, 11743, 15143, 18173, 20813, 23066,
		24956, 26519, 27797, 28830, 29660, 30322, 30847, 31262,
		31589, 31846, 32048, 32206, 32329, 32426, 32501, 32560,
		32606, 32642, 32670, 32691, 32708, 32721, 32732, 32740,
		32746, 32751, 32755, 32758, 32760, 32762, 32763, 32764,
		32765,
	}
	tanhDeltas = [tanhMaxIndex + 1]int16{
		4075, 3950, 3718, 3400, 3030, 2640, 2253, 1890,
		1563, 1278, 1033, 830, 662, 525, 415, 327,
		257, 202, 158, 123, 97, 75, 59, 46,
		36, 28, 21, 17, 13, 11, 8, 6,
		5, 4, 3, 2, 2, 1, 1, 1,
		1,
	}
)

// TanhApprox evaluates the A-Series firmware tanh: the activation is taken
// to 8.24, looked up in a 0.125-spaced table with linear interpolation and
// returned from 1.15. The result matches the controller bit for bit,
// including its error against the true tanh.
func TanhApprox(activation float64) float64 {
	return Fixed1_15ToDouble(TanhApproxFixed(DoubleToFixed8_24(activation)))
}

// TanhApproxFixed maps an 8.24 code to the 1.15 tanh code.
func TanhApproxFixed(code int32) int16 {
	negative := code < 0
	// Unsigned so that |MinInt32| does not wrap back to a negative index.
	abs := uint32(code)
	if negative {
		abs = -abs
	}

	shifted := abs >> 5
	index := shifted >> 16

	var result int32
	if index > tanhMaxIndex {
		result = 0x7FFFFFFF
	} else {
		delta := int32(shifted & 0xFFFF)
		result = int32(tanhBases[index])<<16 + delta*int32(tanhDeltas[index])
	}

	out := int16(result >> 16)
	if negative {
		out = -out
	}
	return out
}
