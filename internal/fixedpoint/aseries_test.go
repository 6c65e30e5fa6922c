package fixedpoint

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoubleToFixed1_15_Saturation(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{-1.0, -32768},
		{-15.0, -32768},
		{1.0, 32767},
		{100.0, 32767},
		{0.999969482421875, 32767},
		{0, 0},
		{0.5, 16384},
		{-0.123456, -4045}, // truncated toward zero, not rounded
		{math.Inf(1), 32767},
		{math.Inf(-1), -32768},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DoubleToFixed1_15(tt.in), "DoubleToFixed1_15(%v)", tt.in)
	}
}

func TestFixed1_15_RoundTrip(t *testing.T) {
	for i := math.MinInt16; i <= math.MaxInt16; i++ {
		code := int16(i)
		if got := DoubleToFixed1_15(Fixed1_15ToDouble(code)); got != code {
			t.Fatalf("round trip of %d gave %d", code, got)
		}
	}
}

func TestFixed1_15ToDouble(t *testing.T) {
	assert.Equal(t, -1.0, Fixed1_15ToDouble(-32768))
	assert.Equal(t, 0.999969482421875, Fixed1_15ToDouble(32767))
	assert.Equal(t, 0.5, Fixed1_15ToDouble(0x4000))
}

func TestFixed4_9_Literals(t *testing.T) {
	assert.Equal(t, int16(-4096), DoubleToFixed4_9(-8.0))
	assert.Equal(t, int16(4095), DoubleToFixed4_9(8.0))
	assert.Equal(t, int16(-4096), DoubleToFixed4_9(-1000))
	assert.Equal(t, int16(-153), DoubleToFixed4_9(-0.3))
	assert.Equal(t, int16(4095), DoubleToFixed4_9(7.998046875))

	assert.Equal(t, -8.0, Fixed4_9ToDouble(-4096))
	assert.Equal(t, 7.998046875, Fixed4_9ToDouble(4095))
	assert.Equal(t, 1.0, Fixed4_9ToDouble(512))
}

func TestFixed4_9ToDouble_OutOfRangeCodes(t *testing.T) {
	// Both directions fall back to the maximum weight.
	assert.Equal(t, 7.998046875, Fixed4_9ToDouble(4096))
	assert.Equal(t, 7.998046875, Fixed4_9ToDouble(-4097))
	assert.Equal(t, 7.998046875, Fixed4_9ToDouble(math.MinInt16))

	assert.Equal(t, 7.998046875, Fixed4_9ToDoubleSaturating(4096))
	assert.Equal(t, -8.0, Fixed4_9ToDoubleSaturating(-4097))
	assert.Equal(t, -8.0, Fixed4_9ToDoubleSaturating(math.MinInt16))
	assert.Equal(t, -0.5, Fixed4_9ToDoubleSaturating(-256))
}

func TestFixed4_9_RoundTrip(t *testing.T) {
	for i := minCode4_9; i <= maxCode4_9; i++ {
		code := int16(i)
		require.Equal(t, code, DoubleToFixed4_9(Fixed4_9ToDouble(code)))
	}
}

func TestMapToFixed4_9Precision(t *testing.T) {
	assert.Equal(t, 3.140625, MapToFixed4_9Precision(3.14159))
	assert.Equal(t, 7.998046875, MapToFixed4_9Precision(9))
	assert.Equal(t, -8.0, MapToFixed4_9Precision(-9))
	assert.Equal(t, -0.298828125, MapToFixed4_9Precision(-0.3))

	// Already representable values are left alone.
	for _, v := range []float64{0, 1.5, -7.25, 7.998046875, -8} {
		assert.Equal(t, v, MapToFixed4_9Precision(v))
	}
}

// multipartLoop folds one register at a time, the way the register
// allocator walks a weight.
func multipartLoop(d float64) float64 {
	var rest float64
	for d < minDouble4_9 {
		rest += minDouble4_9
		d -= minDouble4_9
	}
	for d > maxDouble4_9 {
		rest += maxDouble4_9
		d -= maxDouble4_9
	}
	return math.Trunc(d*scale4_9)/scale4_9 + rest
}

func TestMapToFixed4_9MultipartPrecision(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{20.0, 20.0},
		{-20.0, -20.0},
		{100.5, 100.5},
		{-1000.3, -1000.298828125},
		{12345.678, 12345.677734375},
		{8.0, 8.0},
		{-8.5, -8.5},
		{3.14159, 3.140625},
	}
	for _, tt := range tests {
		got := MapToFixed4_9MultipartPrecision(tt.in)
		assert.Equal(t, tt.want, got, "MapToFixed4_9MultipartPrecision(%v)", tt.in)
		assert.Equal(t, multipartLoop(tt.in), got, "loop mismatch for %v", tt.in)
	}
}

func TestMapToFixed4_9MultipartPrecision_MatchesLoop(t *testing.T) {
	for x := -2000.0; x <= 2000.0; x += 0.7 {
		require.Equal(t, multipartLoop(x), MapToFixed4_9MultipartPrecision(x), "x=%v", x)
	}
	for _, x := range []float64{1e6 + 0.1, -1e6 - 0.1, 123456789.123, -987654321.5} {
		require.Equal(t, multipartLoop(x), MapToFixed4_9MultipartPrecision(x), "x=%v", x)
	}
}

func TestMapToFixed4_9MultipartPrecision_HugeMagnitude(t *testing.T) {
	// Must return instead of folding one register at a time.
	got := MapToFixed4_9MultipartPrecision(1e300)
	assert.False(t, math.IsNaN(got))
	assert.InEpsilon(t, 1e300, got, 1e-9)
	assert.Equal(t, math.Inf(1), MapToFixed4_9MultipartPrecision(math.Inf(1)))
	assert.Equal(t, math.Inf(-1), MapToFixed4_9MultipartPrecision(math.Inf(-1)))
}

func TestFixed8_24(t *testing.T) {
	assert.Equal(t, int32(math.MaxInt32), DoubleToFixed8_24(128.0))
	assert.Equal(t, int32(math.MinInt32), DoubleToFixed8_24(-128.0))
	assert.Equal(t, int32(math.MinInt32), DoubleToFixed8_24(-1e12))
	assert.Equal(t, int32(55364812), DoubleToFixed8_24(3.3))
	assert.Equal(t, int32(1<<24), DoubleToFixed8_24(1.0))

	assert.InDelta(t, 18.204444408416748, Fixed8_24ToDouble(0x12345678), 1e-15)
	assert.Equal(t, -128.0, Fixed8_24ToDouble(math.MinInt32))
}

func TestFixed8_24_RoundTrip(t *testing.T) {
	codes := []int32{math.MinInt32, -1, 0, 1, 0x12345678, math.MaxInt32, -55364812}
	for _, c := range codes {
		assert.Equal(t, c, DoubleToFixed8_24(Fixed8_24ToDouble(c)))
	}
}
