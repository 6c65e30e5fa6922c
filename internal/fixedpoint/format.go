// Package fixedpoint reproduces the register arithmetic of the A-Series and
// M-Series neuromorphic controllers: saturating conversions between float64
// and the 1.15, 4.9, 8.24 and 17.15 fixed-point formats, and the firmware
// tanh lookup table.
//
// Every conversion is total. Out-of-range and non-finite inputs saturate; NaN
// saturates toward the maximum.
package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// ErrUnknownFormat is returned by ParseFormat for names it does not know.
var ErrUnknownFormat = errors.New("unknown fixed-point format")

// Series identifies the controller family a format belongs to.
type Series uint8

const (
	ASeries Series = iota + 1
	MSeries
)

func (s Series) String() string {
	switch s {
	case ASeries:
		return "A-Series"
	case MSeries:
		return "M-Series"
	default:
		return "unknown"
	}
}

// Format is one of the register formats.
type Format uint8

const (
	Format1_15 Format = iota + 1
	Format4_9
	Format8_24
	Format17_15
)

// Formats lists every supported format.
var Formats = []Format{Format1_15, Format4_9, Format8_24, Format17_15}

// Descriptor describes the bit layout and range of a format.
type Descriptor struct {
	Name      string
	Series    Series
	TotalBits int // register width
	IntBits   int // integer bits including sign
	FracBits  int
	MinCode   int32
	MaxCode   int32
}

var descriptors = map[Format]Descriptor{
	Format1_15:  {Name: "1.15", Series: ASeries, TotalBits: 16, IntBits: 1, FracBits: 15, MinCode: minCode1_15, MaxCode: maxCode1_15},
	Format4_9:   {Name: "4.9", Series: ASeries, TotalBits: 16, IntBits: 4, FracBits: 9, MinCode: minCode4_9, MaxCode: maxCode4_9},
	Format8_24:  {Name: "8.24", Series: ASeries, TotalBits: 32, IntBits: 8, FracBits: 24, MinCode: math.MinInt32, MaxCode: math.MaxInt32},
	Format17_15: {Name: "17.15", Series: MSeries, TotalBits: 32, IntBits: 17, FracBits: 15, MinCode: math.MinInt32, MaxCode: math.MaxInt32},
}

// Descriptor returns the layout of f. Unknown formats return the zero value.
func (f Format) Descriptor() Descriptor {
	return descriptors[f]
}

func (f Format) String() string {
	if d, ok := descriptors[f]; ok {
		return d.Name
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	_, ok := descriptors[f]
	return ok
}

// Min returns the smallest representable value.
func (f Format) Min() float64 {
	return f.Decode(f.Descriptor().MinCode)
}

// Max returns the largest representable value.
func (f Format) Max() float64 {
	return f.Decode(f.Descriptor().MaxCode)
}

// Resolution returns the value of one code step.
func (f Format) Resolution() float64 {
	return math.Ldexp(1, -f.Descriptor().FracBits)
}

// Encode converts d to a code of format f. saturated reports whether d lay
// outside the representable range or was NaN.
func (f Format) Encode(d float64) (code int32, saturated bool) {
	return encodeCode(f, d), !(d >= f.Min() && d <= f.Max())
}

// Decode converts a code of format f to its value. Codes of 16-bit formats
// that do not fit the register saturate to the int16 range first; they never
// wrap.
func (f Format) Decode(code int32) float64 {
	switch f {
	case Format1_15:
		return Fixed1_15ToDouble(registerCode(code))
	case Format4_9:
		return Fixed4_9ToDouble(registerCode(code))
	case Format8_24:
		return Fixed8_24ToDouble(code)
	case Format17_15:
		return Fixed17_15ToDouble(code)
	}
	return 0
}

// ValidCode reports whether code lies in the range of format f.
func (f Format) ValidCode(code int32) bool {
	d, ok := descriptors[f]
	return ok && code >= d.MinCode && code <= d.MaxCode
}

// registerCode clamps code to the width of a 16-bit register.
func registerCode(code int32) int16 {
	if code > math.MaxInt16 {
		return math.MaxInt16
	}
	if code < math.MinInt16 {
		return math.MinInt16
	}
	return int16(code)
}

// Quantize returns d at the precision of format f.
func (f Format) Quantize(d float64) (float64, bool) {
	if f == Format4_9 {
		return MapToFixed4_9Precision(d), !(d >= minDouble4_9 && d <= maxDouble4_9)
	}
	code, saturated := f.Encode(d)
	return f.Decode(code), saturated
}

// ParseFormat resolves a format name such as "1.15", "Q4.9", "q8_24" or
// "fixed_17_15".
func ParseFormat(s string) (Format, error) {
	name := strings.TrimSpace(cases.Fold().String(s))
	name = strings.TrimPrefix(name, "fixed")
	name = strings.TrimPrefix(name, "q")
	name = strings.Trim(name, "_-")
	name = strings.ReplaceAll(name, "_", ".")
	for _, f := range Formats {
		if descriptors[f].Name == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}
