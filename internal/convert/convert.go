package convert

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
)

var (
	ErrUnsupportedOp = errors.New("unsupported operation")
	ErrEmptyRequest  = errors.New("empty request")
)

// Op selects what a Converter does with a batch.
type Op string

const (
	OpEncode    Op = "encode"    // value -> code
	OpDecode    Op = "decode"    // code -> value
	OpQuantize  Op = "quantize"  // value -> value at format precision
	OpMultipart Op = "multipart" // value -> value spread over 4.9 registers
	OpTanh      Op = "tanh"      // activation -> firmware tanh
)

// Ops lists every operation.
var Ops = []Op{OpEncode, OpDecode, OpQuantize, OpMultipart, OpTanh}

// ParseOp resolves an operation name.
func ParseOp(s string) (Op, error) {
	op := Op(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Ops {
		if op == known {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedOp, s)
}

// Request is a batch of values (or codes, for OpDecode) to convert.
type Request struct {
	Format fixedpoint.Format
	Op     Op
	Values []float64
	Codes  []int32
}

// Result holds one output row per input. Codes is filled for OpEncode and
// OpDecode, Values for every op.
type Result struct {
	Format    fixedpoint.Format
	Op        Op
	Inputs    []float64
	Codes     []int32
	Values    []float64
	Flags     []bool // per-row saturation
	Saturated int
}

// Len returns the number of rows.
func (r *Result) Len() int {
	return len(r.Values)
}

// DefaultChunkSize is the number of values processed between cancellation
// checks.
const DefaultChunkSize = 4096

// Converter runs batches through the fixed-point codec and records metrics.
// It is safe for concurrent use.
type Converter struct {
	chunkSize int
}

// New creates a Converter. chunkSize <= 0 selects DefaultChunkSize.
func New(chunkSize int) *Converter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Converter{chunkSize: chunkSize}
}

// Validate checks that req can be processed.
func Validate(req Request) error {
	if !req.Format.Valid() {
		return fmt.Errorf("%w: format %s", ErrUnsupportedOp, req.Format)
	}
	switch req.Op {
	case OpDecode:
		if len(req.Codes) == 0 {
			return fmt.Errorf("%w: decode needs codes", ErrEmptyRequest)
		}
		return nil
	case OpMultipart:
		if req.Format != fixedpoint.Format4_9 {
			return fmt.Errorf("%w: multipart is only defined for 4.9, got %s", ErrUnsupportedOp, req.Format)
		}
	case OpEncode, OpQuantize, OpTanh:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedOp, req.Op)
	}
	if len(req.Values) == 0 {
		return fmt.Errorf("%w: %s needs values", ErrEmptyRequest, req.Op)
	}
	return nil
}

// Convert processes req. The batch is worked through in chunks and the
// context is checked between chunks.
func (c *Converter) Convert(ctx context.Context, req Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	start := time.Now()

	n := len(req.Values)
	if req.Op == OpDecode {
		n = len(req.Codes)
	}
	res := &Result{
		Format: req.Format,
		Op:     req.Op,
		Inputs: make([]float64, n),
		Values: make([]float64, n),
		Flags:  make([]bool, n),
	}
	if req.Op == OpEncode || req.Op == OpDecode {
		res.Codes = make([]int32, n)
	}

	for lo := 0; lo < n; lo += c.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+c.chunkSize, n)
		res.Saturated += c.convertChunk(req, res, lo, hi)
	}

	labels := []string{req.Format.String(), string(req.Op)}
	valuesConverted.WithLabelValues(labels...).Add(float64(n))
	saturations.WithLabelValues(labels...).Add(float64(res.Saturated))
	convertDuration.WithLabelValues(string(req.Op)).Observe(time.Since(start).Seconds())

	log.Debug().
		Str("format", req.Format.String()).
		Str("op", string(req.Op)).
		Int("count", n).
		Int("saturated", res.Saturated).
		Dur("elapsed", time.Since(start)).
		Msg("Converted batch")

	return res, nil
}

func (c *Converter) convertChunk(req Request, res *Result, lo, hi int) int {
	f := req.Format
	values := res.Values[lo:hi]
	flags := res.Flags[lo:hi]

	if req.Op == OpDecode {
		codes := req.Codes[lo:hi]
		copy(res.Codes[lo:hi], codes)
		fixedpoint.DecodeSlice(f, values, codes)
		for i, code := range codes {
			res.Inputs[lo+i] = float64(code)
			flags[i] = !f.ValidCode(code)
		}
		return countTrue(flags)
	}

	in := req.Values[lo:hi]
	copy(res.Inputs[lo:hi], in)

	switch req.Op {
	case OpEncode:
		codes := res.Codes[lo:hi]
		fixedpoint.EncodeSlice(f, codes, in)
		fixedpoint.DecodeSlice(f, values, codes)
		markOutside(flags, in, f.Min(), f.Max())
	case OpQuantize:
		fixedpoint.QuantizeSlice(f, values, in)
		markOutside(flags, in, f.Min(), f.Max())
	case OpMultipart:
		fixedpoint.MultipartSlice(values, in)
		for i, v := range in {
			flags[i] = math.IsNaN(v)
		}
	case OpTanh:
		fixedpoint.TanhSlice(values, in)
		for i, v := range in {
			flags[i] = !(v > -tanhSaturation && v < tanhSaturation)
		}
	}
	return countTrue(flags)
}

// tanhSaturation is where the firmware table runs out and the output pins
// at full scale.
const tanhSaturation = 41.0 / 8

// markOutside flags values outside [lo, hi]. NaN is always outside.
func markOutside(flags []bool, in []float64, lo, hi float64) {
	for i, v := range in {
		flags[i] = !(v >= lo && v <= hi)
	}
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
