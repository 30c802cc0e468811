package sobel

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// ExactTolerance applies to clamped 8-bit output: any difference fails.
	ExactTolerance = 0.0
	// FloatTolerance applies to unclamped float64 output.
	FloatTolerance = 1e-6
)

// ErrDimensionMismatch is returned when two gradients of different shapes are compared.
var ErrDimensionMismatch = errors.New("sobel: gradient dimensions differ")

// Mode selects the output representation of a run.
type Mode string

const (
	ModeClamped Mode = "clamped"
	ModeFloat   Mode = "float"
)

// ParseMode accepts "clamped" (or "u8") and "float" (or "f64").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "clamped", "u8", "uint8":
		return ModeClamped, nil
	case "float", "f64", "float64":
		return ModeFloat, nil
	}
	return "", fmt.Errorf("sobel: unknown mode %q (want clamped or float)", s)
}

// Tolerance is the pass threshold for comparisons in this representation.
func (m Mode) Tolerance() float64 {
	if m == ModeFloat {
		return FloatTolerance
	}
	return ExactTolerance
}

// Verdict is the outcome of comparing two gradients.
type Verdict struct {
	MaxDeviation float64
	Tolerance    float64
	Pass         bool
}

func (v Verdict) String() string {
	if v.Pass {
		return fmt.Sprintf("PASS: outputs match (max deviation %g, tolerance %g)",
			v.MaxDeviation, v.Tolerance)
	}
	return fmt.Sprintf("FAIL: outputs differ (max deviation %g, tolerance %g)",
		v.MaxDeviation, v.Tolerance)
}

// MaxDeviation returns the largest absolute per-cell difference between a and b.
func MaxDeviation[T Sample](a, b *Gradient[T]) (float64, error) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		return 0, fmt.Errorf("%w: %dx%d vs %dx%d", ErrDimensionMismatch, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	var dev float64
	for i := range a.Pix {
		d := math.Abs(float64(a.Pix[i]) - float64(b.Pix[i]))
		if d > dev || math.IsNaN(d) {
			dev = d
		}
	}
	return dev, nil
}

// Compare checks b against the reference a. It passes when the buffers are
// identical or the deviation is below tolerance.
func Compare[T Sample](a, b *Gradient[T], tolerance float64) (Verdict, error) {
	dev, err := MaxDeviation(a, b)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{
		MaxDeviation: dev,
		Tolerance:    tolerance,
		Pass:         dev == 0 || dev < tolerance,
	}, nil
}

// Result carries both outputs of an equivalence check.
type Result[T Sample] struct {
	Reference     *Gradient[T]
	Parallel      *Gradient[T]
	ReferenceTime time.Duration
	ParallelTime  time.Duration
	Verdict       Verdict
}

// Speedup is the reference time divided by the parallel time.
func (r *Result[T]) Speedup() float64 {
	if r.ParallelTime <= 0 {
		return 0
	}
	return r.ReferenceTime.Seconds() / r.ParallelTime.Seconds()
}

// Check runs the sequential reference and then s over the same input and
// compares the two outputs. The runs are not overlapped so their timings are
// comparable.
func Check[T Sample](src *Intensity, mag Magnitude[T], tolerance float64, s Strategy) (*Result[T], error) {
	res := &Result[T]{}

	start := time.Now()
	res.Reference = Filter(src, mag, Sequential{})
	res.ReferenceTime = time.Since(start)

	start = time.Now()
	res.Parallel = Filter(src, mag, s)
	res.ParallelTime = time.Since(start)

	v, err := Compare(res.Reference, res.Parallel, tolerance)
	if err != nil {
		return nil, err
	}
	res.Verdict = v
	logger().Info("sobel: equivalence check",
		"strategy", s.Name(), "rows", src.Rows, "cols", src.Cols,
		"max_deviation", v.MaxDeviation, "pass", v.Pass)
	return res, nil
}
