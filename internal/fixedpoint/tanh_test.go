package fixedpoint

import (
	"math"
	"testing"
)

func TestTanhApproxFixed_TableLiterals(t *testing.T) {
	// code = index<<21 | position<<5
	tests := []struct {
		name string
		code int32
		want int16
	}{
		{"index 0 midpoint", 0<<21 | 0x8000<<5, 2037},
		{"index 3 midpoint", 3<<21 | 0x8000<<5, 13443},
		{"index 8 base", 8 << 21, 24956},
		{"index 12 segment end", 12<<21 | 0xFFFF<<5, 30321},
		{"index 17 quarter", 17<<21 | 0x4000<<5, 31896},
		{"index 25 three quarters", 25<<21 | 0xC000<<5, 32663},
		{"index 40 segment end", 40<<21 | 0xFFFF<<5, 32765},
		{"index 41 saturates", 41 << 21, 32767},
		{"negative index 3 midpoint", -(3<<21 | 0x8000<<5), -13443},
		{"max code", math.MaxInt32, 32767},
		{"min code", math.MinInt32, -32767},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TanhApproxFixed(tt.code); got != tt.want {
				t.Errorf("TanhApproxFixed(%#x) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestTanhApprox_Literals(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0.0625, 2037},
		{0.3, 9512},
		{1.0, 24956},
		{-1.0, -24956},
		{2.5, 32329},
		{-0.7, -19756},
		{3.3, 32678},
		{4.99, 32764},
		{5.2, 32767},
		{-128, -32767},
	}
	for _, tt := range tests {
		want := Fixed1_15ToDouble(tt.want)
		if got := TanhApprox(tt.in); got != want {
			t.Errorf("TanhApprox(%v) = %v, want %v", tt.in, got, want)
		}
	}
}

func TestTanhApprox_Accuracy(t *testing.T) {
	const tol = 0.005
	for i := -500; i <= 500; i++ {
		x := float64(i) * 0.01
		got := TanhApprox(x)
		if diff := math.Abs(got - math.Tanh(x)); diff > tol {
			t.Errorf("TanhApprox(%v) = %v, tanh = %v (diff %v)", x, got, math.Tanh(x), diff)
		}
	}
}

func TestTanhApprox_Monotonic(t *testing.T) {
	prev := TanhApprox(-10)
	for x := -10.0; x <= 10.0; x += 1.0 / 1024 {
		got := TanhApprox(x)
		if got < prev {
			t.Fatalf("TanhApprox decreased at %v: %v < %v", x, got, prev)
		}
		prev = got
	}
}

func TestTanhApproxFixed_MonotonicOverCodes(t *testing.T) {
	// Every segment boundary and a stride through each segment.
	prev := TanhApproxFixed(-(42 << 21))
	for code := int32(-(42 << 21)); code <= 42<<21; code += 1 << 9 {
		got := TanhApproxFixed(code)
		if got < prev {
			t.Fatalf("TanhApproxFixed decreased at %#x: %d < %d", code, got, prev)
		}
		prev = got
	}
}

func TestTanhApprox_Range(t *testing.T) {
	for _, x := range []float64{-1e9, -128, -5.125, 0, 5.125, 128, 1e9} {
		got := TanhApprox(x)
		if got < -1 || got >= 1 {
			t.Errorf("TanhApprox(%v) = %v outside [-1, 1)", x, got)
		}
	}
}

func TestTanhTables(t *testing.T) {
	for k := 0; k < tanhMaxIndex; k++ {
		if tanhBases[k]+tanhDeltas[k] != tanhBases[k+1] {
			t.Errorf("segment %d does not meet segment %d", k, k+1)
		}
	}
	if int(tanhBases[tanhMaxIndex])+int(tanhDeltas[tanhMaxIndex]) > math.MaxInt16 {
		t.Errorf("last segment overshoots 1.15 range")
	}
}

func BenchmarkTanhApprox(b *testing.B) {
	x := 0.5
	for i := 0; i < b.N; i++ {
		TanhApprox(x)
	}
}

func BenchmarkTanhStd(b *testing.B) {
	x := 0.5
	for i := 0; i < b.N; i++ {
		math.Tanh(x)
	}
}
