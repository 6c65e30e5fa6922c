// Package weights converts raw float32 weight dumps into 4.9 register images.
package weights

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
)

// ErrTruncated is returned when a weight file does not hold a whole number
// of float32 values.
var ErrTruncated = errors.New("truncated weight file")

// ErrNotRepresentable is returned when a weight has no multipart register
// image.
var ErrNotRepresentable = errors.New("weight has no register image")

// MaxImageRegisters bounds the size of a multipart register image.
const MaxImageRegisters = 1 << 26

// ReadFloat32 reads little-endian float32 values until EOF.
func ReadFloat32(r io.Reader) ([]float64, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(raw)%4)
	}

	f32s := make([]float32, len(raw)/4)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, f32s); err != nil {
		return nil, err
	}
	data := make([]float64, len(f32s))
	for i, v := range f32s {
		data[i] = float64(v)
	}
	return data, nil
}

// LoadFile reads a raw float32 weight file.
func LoadFile(path string) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := ReadFloat32(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	log.Debug().Str("path", path).Int("weights", len(data)).Msg("Loaded weight file")
	return data, nil
}

// WriteCodes writes a register image of little-endian int16 codes.
func WriteCodes(w io.Writer, codes []int16) error {
	return binary.Write(w, binary.LittleEndian, codes)
}

// Image returns the register image of weights. Without multipart it is one
// saturated code per weight. With multipart every weight contributes the
// codes of all its registers, in order; non-finite weights and images larger
// than MaxImageRegisters are rejected.
func Image(weights []float64, multipart bool) ([]int16, error) {
	if !multipart {
		codes := make([]int16, len(weights))
		for i, w := range weights {
			codes[i] = fixedpoint.DoubleToFixed4_9(w)
		}
		return codes, nil
	}

	total := 0
	for i, w := range weights {
		n := fixedpoint.MultipartRegisters(w)
		if n == 0 || n == math.MaxInt {
			return nil, fmt.Errorf("%w: weight %d is %v", ErrNotRepresentable, i, w)
		}
		total = addRegisters(total, n)
		if total > MaxImageRegisters {
			return nil, fmt.Errorf("%w: image exceeds %d registers", ErrNotRepresentable, MaxImageRegisters)
		}
	}
	codes := make([]int16, 0, total)
	for _, w := range weights {
		codes = append(codes, fixedpoint.MultipartCodes(w)...)
	}
	return codes, nil
}

// Summary is the result of quantizing a weight vector.
type Summary struct {
	Weights   []float64 // values as the hardware reads them back
	Codes     []int16   // single-register 4.9 codes
	Saturated int
	Registers int // 4.9 registers needed to hold every weight
	MaxError  float64
}

// Quantize maps weights to 4.9 precision. With multipart set, weights outside
// the register range are spread over several registers instead of clipping.
func Quantize(weights []float64, multipart bool) Summary {
	s := Summary{
		Weights: make([]float64, len(weights)),
		Codes:   make([]int16, len(weights)),
	}
	for i, w := range weights {
		s.Codes[i] = fixedpoint.DoubleToFixed4_9(w)

		if multipart {
			s.Weights[i] = fixedpoint.MapToFixed4_9MultipartPrecision(w)
			s.Registers = addRegisters(s.Registers, fixedpoint.MultipartRegisters(w))
			if math.IsNaN(w) || math.IsInf(w, 0) {
				s.Saturated++
			}
		} else {
			s.Weights[i] = fixedpoint.MapToFixed4_9Precision(w)
			s.Registers++
			if !(w >= fixedpoint.Format4_9.Min() && w <= fixedpoint.Format4_9.Max()) {
				s.Saturated++
			}
		}

		if e := math.Abs(s.Weights[i] - w); e > s.MaxError && !math.IsNaN(e) && !math.IsInf(e, 0) {
			s.MaxError = e
		}
	}
	return s
}

func addRegisters(total, n int) int {
	if n > math.MaxInt-total {
		return math.MaxInt
	}
	return total + n
}
