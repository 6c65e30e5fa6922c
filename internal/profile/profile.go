// Package profile measures the error the controller's number formats and
// tanh table introduce relative to float64 arithmetic.
package profile

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-fixpoint/internal/fixedpoint"
)

// MaxSamples bounds the size of a single report.
const MaxSamples = 1 << 20

// ErrInvalidRange is returned for sweeps that are empty, unbounded or too
// large.
var ErrInvalidRange = errors.New("invalid sample range")

// Kind names what a report measures.
type Kind string

const (
	KindTanh         Kind = "tanh"
	KindQuantization Kind = "quantization"
)

// Sample is one point of a sweep.
type Sample struct {
	Input     float64 `csv:"input"`
	Approx    float64 `csv:"approx"`
	Exact     float64 `csv:"exact"`
	Error     float64 `csv:"error"`
	Saturated bool    `csv:"saturated"`
}

// Report summarizes a sweep.
type Report struct {
	Kind         Kind
	Format       fixedpoint.Format
	Samples      []Sample
	MaxAbsError  float64
	MeanAbsError float64
	StdDevError  float64
	Saturated    int
	Monotonic    bool
}

// Tanh samples TanhApprox against math.Tanh over [min, max].
func Tanh(min, max, step float64) (*Report, error) {
	inputs, err := sweep(min, max, step)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, len(inputs))
	for i, x := range inputs {
		approx := fixedpoint.TanhApprox(x)
		exact := math.Tanh(x)
		samples[i] = Sample{
			Input:     x,
			Approx:    approx,
			Exact:     exact,
			Error:     approx - exact,
			Saturated: math.Abs(x) >= 41.0/8,
		}
	}
	return summarize(KindTanh, fixedpoint.Format1_15, samples), nil
}

// Quantization samples f.Quantize against the identity over [min, max].
func Quantization(f fixedpoint.Format, min, max, step float64) (*Report, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("%w: %s", fixedpoint.ErrUnknownFormat, f)
	}
	inputs, err := sweep(min, max, step)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, len(inputs))
	for i, x := range inputs {
		q, sat := f.Quantize(x)
		samples[i] = Sample{
			Input:     x,
			Approx:    q,
			Exact:     x,
			Error:     q - x,
			Saturated: sat,
		}
	}
	return summarize(KindQuantization, f, samples), nil
}

// SampleCount returns the number of points a sweep over [min, max] takes.
func SampleCount(min, max, step float64) (int, error) {
	for _, v := range []float64{min, max, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: non-finite bound", ErrInvalidRange)
		}
	}
	if step <= 0 {
		return 0, fmt.Errorf("%w: step %v must be positive", ErrInvalidRange, step)
	}
	if min > max {
		return 0, fmt.Errorf("%w: min %v > max %v", ErrInvalidRange, min, max)
	}
	n := math.Floor((max-min)/step) + 1
	if n > MaxSamples {
		return 0, fmt.Errorf("%w: %v samples exceeds %d", ErrInvalidRange, n, MaxSamples)
	}
	return int(n), nil
}

// sweep returns min, min+step, ... up to and including max. Points are
// computed by multiplication so rounding does not accumulate.
func sweep(min, max, step float64) ([]float64, error) {
	n, err := SampleCount(min, max, step)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	return out, nil
}

func summarize(kind Kind, f fixedpoint.Format, samples []Sample) *Report {
	r := &Report{
		Kind:      kind,
		Format:    f,
		Samples:   samples,
		Monotonic: true,
	}

	errs := make([]float64, len(samples))
	abs := make([]float64, len(samples))
	for i, s := range samples {
		errs[i] = s.Error
		abs[i] = math.Abs(s.Error)
		if s.Saturated {
			r.Saturated++
		}
		if i > 0 && s.Approx < samples[i-1].Approx {
			r.Monotonic = false
		}
	}

	r.MaxAbsError = floats.Max(abs)
	r.MeanAbsError = stat.Mean(abs, nil)
	if len(errs) > 1 {
		r.StdDevError = stat.StdDev(errs, nil)
	}
	return r
}

// WriteCSV writes one row per sample with a header.
func (r *Report) WriteCSV(w io.Writer) error {
	if err := gocsv.Marshal(r.Samples, w); err != nil {
		return fmt.Errorf("writing %s profile: %w", r.Kind, err)
	}
	return nil
}
