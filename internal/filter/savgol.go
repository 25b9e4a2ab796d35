package filter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// savgolCoefficients returns the convolution weights of a Savitzky-Golay
// filter: row deriv of the pseudo-inverse of the Vandermonde design matrix
// over the window offsets -half..half.
func savgolCoefficients(window, order, deriv int) ([]float64, error) {
	half := (window - 1) / 2
	cols := order + 1

	b := mat.NewDense(window, cols, nil)
	for r := 0; r < window; r++ {
		k := float64(r - half)
		for c := 0; c < cols; c++ {
			b.Set(r, c, math.Pow(k, float64(c)))
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(b, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: design matrix factorisation failed for window %d, order %d", ErrInvalidParameter, window, order)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sv := svd.Values(nil)

	// pinv = V * diag(1/s) * U^T, singular values below the numpy cutoff are dropped
	cutoff := 1e-15 * sv[0]
	coeffs := make([]float64, window)
	for j, s := range sv {
		if s <= cutoff {
			continue
		}
		f := v.At(deriv, j) / s
		for r := 0; r < window; r++ {
			coeffs[r] += f * u.At(r, j)
		}
	}
	return coeffs, nil
}

func newSavitzkyGolay(p Params) (Filter, error) {
	coeffs, err := savgolCoefficients(p.SavGolWindow, p.SavGolOrder, p.SavGolDeriv)
	if err != nil {
		return nil, err
	}
	half := (p.SavGolWindow - 1) / 2
	interpolate := p.Interpolate

	return func(times, values []float64) ([]float64, []float64, error) {
		if err := checkShape(times, values); err != nil {
			return nil, nil, err
		}

		ts, ys := SortPairs(times, values)
		ts, ys = dropMissing(ts, ys)
		if len(ts) == 0 {
			return nil, nil, fmt.Errorf("%w: no known values", ErrInsufficientData)
		}
		if interpolate {
			var err error
			if ts, ys, err = FillGaps(ts, ys); err != nil {
				return nil, nil, err
			}
		}
		if len(ys) <= half {
			return nil, nil, fmt.Errorf("%w: %d samples, savitzky-golay window %d needs at least %d",
				ErrInsufficientData, len(ys), 2*half+1, half+1)
		}

		padded := reflectResiduals(ys, half)
		out := make([]float64, len(ys))
		for i := range out {
			acc := 0.0
			for k, c := range coeffs {
				acc += c * padded[i+k]
			}
			out[i] = acc
		}
		return ts, out, nil
	}, nil
}

// reflectResiduals pads y with half samples at each end, mirroring the
// distance of the neighbouring samples from the end value:
// first = y0 - |y[1..half] reversed - y0|, last = yn + |y[n-half-1..n-1] reversed - yn|.
func reflectResiduals(y []float64, half int) []float64 {
	n := len(y)
	out := make([]float64, 0, n+2*half)

	y0 := y[0]
	for k := half; k >= 1; k-- {
		out = append(out, y0-math.Abs(y[k]-y0))
	}
	out = append(out, y...)

	yn := y[n-1]
	for k := 1; k <= half; k++ {
		out = append(out, yn+math.Abs(y[n-1-k]-yn))
	}
	return out
}
