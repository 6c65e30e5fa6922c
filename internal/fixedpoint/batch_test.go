package fixedpoint

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeSlice(t *testing.T) {
	src := []float64{-2, -1, -0.5, 0, 0.25, 0.5, 0.999969482421875, 3}
	codes := make([]int32, len(src))

	saturated := EncodeSlice(Format1_15, codes, src)
	assert.Equal(t, 2, saturated)
	assert.Equal(t, []int32{-32768, -32768, -16384, 0, 8192, 16384, 32767, 32767}, codes)

	out := make([]float64, len(codes))
	DecodeSlice(Format1_15, out, codes)
	assert.Equal(t, []float64{-1, -1, -0.5, 0, 0.25, 0.5, 0.999969482421875, 0.999969482421875}, out)
}

func TestQuantizeSlice(t *testing.T) {
	src := []float64{3.14159, -0.3, 9, -9, math.NaN()}
	dst := make([]float64, len(src))
	saturated := QuantizeSlice(Format4_9, dst, src)
	assert.Equal(t, 3, saturated)
	assert.Equal(t, []float64{3.140625, -0.298828125, 7.998046875, -8, 7.998046875}, dst)
}

func TestMultipartSlice(t *testing.T) {
	src := []float64{20, -20, 100.5, -1000.3, 12345.678}
	dst := make([]float64, len(src))
	MultipartSlice(dst, src)
	for i, v := range src {
		assert.Equal(t, multipartLoop(v), dst[i], "index %d", i)
	}
}

func TestTanhSlice(t *testing.T) {
	src := []float64{-1, -0.7, 0, 0.3, 1, 2.5, 5.2}
	dst := make([]float64, len(src))
	TanhSlice(dst, src)
	for i, v := range src {
		assert.Equal(t, TanhApprox(v), dst[i])
	}
}

func TestMultipartRegisters(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0, 1},
		{7.998046875, 1},
		{-8, 1},
		{8, 2},
		{20, 3},
		{-16, 2},
		{-16.5, 3},
		{math.NaN(), 0},
		{1e300, math.MaxInt},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MultipartRegisters(tt.in), "MultipartRegisters(%v)", tt.in)
	}
}

func TestMultipartCodes(t *testing.T) {
	tests := []struct {
		in   float64
		want []int16
	}{
		{0.5, []int16{256}},
		{-8, []int16{-4096}},
		{8, []int16{4095, 1}},
		{10, []int16{4095, 1025}},
		{-20, []int16{-4096, -4096, -2048}},
		{math.NaN(), nil},
		{math.Inf(1), nil},
		{1e300, nil},
	}
	for _, tt := range tests {
		got := MultipartCodes(tt.in)
		assert.Equal(t, tt.want, got, "MultipartCodes(%v)", tt.in)
		if got == nil {
			continue
		}
		assert.Len(t, got, MultipartRegisters(tt.in))

		// The registers read back to the multipart value.
		sum := 0.0
		for _, c := range got {
			sum += Fixed4_9ToDouble(c)
		}
		assert.Equal(t, MapToFixed4_9MultipartPrecision(tt.in), sum, "sum for %v", tt.in)
	}
}

func TestConcurrentCallers(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < 10000; i++ {
				x := float64((i*seed)%2000-1000) / 100
				want := TanhApprox(x)
				if got := TanhApprox(x); got != want {
					t.Errorf("TanhApprox(%v) unstable: %v != %v", x, got, want)
					return
				}
			}
		}(g + 1)
	}
	wg.Wait()
}

func BenchmarkEncodeSlice(b *testing.B) {
	src := make([]float64, 128)
	for i := range src {
		src[i] = float64(i-64) / 64
	}
	dst := make([]int32, len(src))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		EncodeSlice(Format1_15, dst, src)
	}
}

func BenchmarkTanhSlice(b *testing.B) {
	src := make([]float64, 128)
	for i := range src {
		src[i] = float64(i-64) / 16
	}
	dst := make([]float64, len(src))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		TanhSlice(dst, src)
	}
}
