// Package filter provides interchangeable 1-D smoothers over (time, value)
// pairs. Inputs need not be sorted or evenly spaced; every filter sorts the
// pairs by time before doing anything else and returns values aligned to the
// (possibly resampled) output times.
package filter

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

var (
	// ErrShapeMismatch is returned when times and values differ in length or are empty
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInvalidParameter is returned for malformed filter configuration
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInsufficientData is returned when a series is too short for the filter
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUnknownMethod is returned for an unrecognised method name
	ErrUnknownMethod = errors.New("unknown smoothing method")
)

// Method names a smoothing algorithm
type Method string

const (
	MethodSavitzkyGolay Method = "savitzky_golay"
	MethodKalman        Method = "kalman"
	MethodSpline        Method = "spline"
	MethodTWF           Method = "twf"
)

// Methods lists the supported methods
var Methods = []Method{MethodSavitzkyGolay, MethodKalman, MethodSpline, MethodTWF}

// ParseMethod validates a configured method name
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Params holds the tunables of every method. Each method reads only its own fields.
type Params struct {
	// Interpolate gap-fills to a one second cadence before filtering
	// (Savitzky-Golay, Kalman) or resamples the fit to integer seconds (spline).
	Interpolate bool

	SavGolWindow int // odd window length
	SavGolOrder  int // polynomial order, < SavGolWindow-1
	SavGolDeriv  int // derivative order, 0 smooths

	KalmanQ float64 // process variance
	KalmanR float64 // measurement variance

	SplineSigma  float64 // std of the variance estimation kernel, in samples
	SplineKernel int     // odd kernel length, in samples

	TWFWindow int // number of filtered history samples blended into each output
}

// DefaultParams returns the parameters used when nothing is configured
func DefaultParams() Params {
	return Params{
		SavGolWindow: 11,
		SavGolOrder:  2,
		KalmanQ:      1e-7,
		KalmanR:      1e-5,
		SplineSigma:  3,
		SplineKernel: 25,
		TWFWindow:    10,
	}
}

// Validate checks the parameters that method m uses
func (p Params) Validate(m Method) error {
	switch m {
	case MethodSavitzkyGolay:
		if p.SavGolWindow < 1 || p.SavGolWindow%2 != 1 {
			return fmt.Errorf("%w: window size must be a positive odd number, got %d", ErrInvalidParameter, p.SavGolWindow)
		}
		if p.SavGolOrder < 0 || p.SavGolOrder >= p.SavGolWindow-1 {
			return fmt.Errorf("%w: order %d must be in [0, window size - 1)", ErrInvalidParameter, p.SavGolOrder)
		}
		if p.SavGolDeriv < 0 || p.SavGolDeriv > p.SavGolOrder {
			return fmt.Errorf("%w: derivative %d must be in [0, order]", ErrInvalidParameter, p.SavGolDeriv)
		}
	case MethodKalman:
		if p.KalmanQ < 0 || math.IsNaN(p.KalmanQ) {
			return fmt.Errorf("%w: process variance must be >= 0, got %g", ErrInvalidParameter, p.KalmanQ)
		}
		if !(p.KalmanR > 0) {
			return fmt.Errorf("%w: measurement variance must be > 0, got %g", ErrInvalidParameter, p.KalmanR)
		}
	case MethodSpline:
		if !(p.SplineSigma > 0) {
			return fmt.Errorf("%w: spline kernel sigma must be > 0, got %g", ErrInvalidParameter, p.SplineSigma)
		}
		if p.SplineKernel < 1 || p.SplineKernel%2 != 1 {
			return fmt.Errorf("%w: spline kernel length must be a positive odd number, got %d", ErrInvalidParameter, p.SplineKernel)
		}
	case MethodTWF:
		if p.TWFWindow < 2 {
			return fmt.Errorf("%w: twf window must be >= 2, got %d", ErrInvalidParameter, p.TWFWindow)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, m)
	}
	return nil
}

// Filter smooths a series and returns the output times and values
type Filter func(times, values []float64) ([]float64, []float64, error)

// New validates p for method m and returns the bound filter
func New(m Method, p Params) (Filter, error) {
	if err := p.Validate(m); err != nil {
		return nil, err
	}

	switch m {
	case MethodSavitzkyGolay:
		return newSavitzkyGolay(p)
	case MethodKalman:
		return newKalman(p), nil
	case MethodSpline:
		return newSpline(p), nil
	case MethodTWF:
		return newTWF(p), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
}

// Apply is a one-shot New followed by a call
func Apply(m Method, p Params, times, values []float64) ([]float64, []float64, error) {
	f, err := New(m, p)
	if err != nil {
		return nil, nil, err
	}
	return f(times, values)
}

func checkShape(times, values []float64) error {
	if len(times) != len(values) {
		return fmt.Errorf("%w: %d times, %d values", ErrShapeMismatch, len(times), len(values))
	}
	if len(times) == 0 {
		return fmt.Errorf("%w: empty series", ErrShapeMismatch)
	}
	return nil
}

// SortPairs returns copies of times and values ordered by time. Ties keep their input order.
func SortPairs(times, values []float64) ([]float64, []float64) {
	idx := make([]int, len(times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return times[idx[a]] < times[idx[b]] })

	ts := make([]float64, len(idx))
	vs := make([]float64, len(idx))
	for i, j := range idx {
		ts[i] = times[j]
		vs[i] = values[j]
	}
	return ts, vs
}

// dropMissing removes pairs whose value is NaN
func dropMissing(times, values []float64) ([]float64, []float64) {
	ts := make([]float64, 0, len(times))
	vs := make([]float64, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		ts = append(ts, times[i])
		vs = append(vs, v)
	}
	return ts, vs
}

// mergeDuplicates averages values that share a timestamp. Input must be sorted.
func mergeDuplicates(times, values []float64) ([]float64, []float64) {
	ts := make([]float64, 0, len(times))
	vs := make([]float64, 0, len(values))
	for i := 0; i < len(times); {
		j := i
		sum := 0.0
		for j < len(times) && times[j] == times[i] {
			sum += values[j]
			j++
		}
		ts = append(ts, times[i])
		vs = append(vs, sum/float64(j-i))
		i = j
	}
	return ts, vs
}

// FillGaps resamples a series to a one second cadence from floor(first) to
// floor(last), carrying the last known value forward into every gap.
func FillGaps(times, values []float64) ([]float64, []float64, error) {
	if err := checkShape(times, values); err != nil {
		return nil, nil, err
	}
	ts, vs := SortPairs(times, values)

	start := math.Floor(ts[0])
	end := math.Floor(ts[len(ts)-1])
	n := int(end-start) + 1

	outT := make([]float64, n)
	outV := make([]float64, n)
	j := 0
	last := vs[0]
	for i := 0; i < n; i++ {
		x := start + float64(i)
		for j < len(ts) && ts[j] <= x {
			last = vs[j]
			j++
		}
		outT[i] = x
		outV[i] = last
	}
	return outT, outV, nil
}

// Evaluate linearly interpolates a smoothed series at the given times.
// Times outside the series take the nearest end value. xs must be sorted;
// repeated xs are averaged first.
func Evaluate(xs, ys, at []float64) ([]float64, error) {
	if err := checkShape(xs, ys); err != nil {
		return nil, err
	}
	xs, ys = dropMissing(xs, ys)
	out := make([]float64, len(at))
	if len(xs) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out, nil
	}

	xs, ys = mergeDuplicates(xs, ys)
	if len(xs) == 1 {
		for i := range out {
			out[i] = ys[0]
		}
		return out, nil
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("failed to fit interpolant: %w", err)
	}
	for i, x := range at {
		switch {
		case x <= xs[0]:
			out[i] = ys[0]
		case x >= xs[len(xs)-1]:
			out[i] = ys[len(ys)-1]
		default:
			out[i] = pl.Predict(x)
		}
	}
	return out, nil
}
