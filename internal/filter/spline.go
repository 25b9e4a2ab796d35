package filter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/lapack/lapack64"
)

const (
	// log10 search range of the roughness penalty, relative to the mean weight
	minLogLambda = -6.0
	maxLogLambda = 9.0
	lambdaSteps  = 60
)

// gaussianWindow returns a normalised Gaussian window of the given odd length
func gaussianWindow(size int, sigma float64) []float64 {
	w := make([]float64, size)
	c := float64(size-1) / 2
	for i := range w {
		n := float64(i) - c
		w[i] = math.Exp(-n * n / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// reflectIndex maps i into [0, n) mirroring about the half-sample edges (d c b a | a b c d | d c b a)
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	m := 2 * n
	i = ((i % m) + m) % m
	if i >= n {
		i = m - 1 - i
	}
	return i
}

// convolveReflect applies a symmetric odd-length kernel with reflected edges
func convolveReflect(x, kernel []float64) []float64 {
	n := len(x)
	c := len(kernel) / 2
	out := make([]float64, n)
	for i := range out {
		acc := 0.0
		for j, k := range kernel {
			acc += k * x[reflectIndex(i+j-c, n)]
		}
		out[i] = acc
	}
	return out
}

// kernelStats estimates the local mean and variance of y with a Gaussian kernel.
// Zero variances are clamped to 1.
func kernelStats(y []float64, size int, sigma float64) (avg, variance []float64) {
	kernel := gaussianWindow(size, sigma)
	avg = convolveReflect(y, kernel)

	sq := make([]float64, len(y))
	for i := range y {
		d := y[i] - avg[i]
		sq[i] = d * d
	}
	variance = convolveReflect(sq, kernel)
	for i, v := range variance {
		if v == 0 {
			variance[i] = 1
		}
	}
	return avg, variance
}

// whittaker minimises sum w_i (y_i - f_i)^2 + lambda * sum (D2 f)^2 where D2
// is the second divided difference on the x grid, scaled by the mean spacing.
// x must be strictly increasing with at least three points.
func whittaker(x, y, w []float64, lambda float64) ([]float64, error) {
	n := len(x)
	const k = 2
	data := make([]float64, n*(k+1))
	rhs := make([]float64, n)
	for i := 0; i < n; i++ {
		data[i*(k+1)] = w[i]
		rhs[i] = w[i] * y[i]
	}

	hbar := (x[n-1] - x[0]) / float64(n-1)
	for r := 1; r < n-1; r++ {
		h1 := (x[r] - x[r-1]) / hbar
		h2 := (x[r+1] - x[r]) / hbar
		d := [3]float64{
			2 / (h1 * (h1 + h2)),
			-2 / (h1 * h2),
			2 / (h2 * (h1 + h2)),
		}
		cols := [3]int{r - 1, r, r + 1}
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				i, j := cols[a], cols[b]
				data[i*(k+1)+(j-i)] += lambda * d[a] * d[b]
			}
		}
	}

	// banded factorisation without a condition estimate, linear in n
	t, ok := lapack64.Pbtrf(blas64.SymmetricBand{Uplo: blas.Upper, N: n, K: k, Stride: k + 1, Data: data})
	if !ok {
		return nil, fmt.Errorf("smoothing system is not positive definite (lambda %g)", lambda)
	}
	lapack64.Pbtrs(t, blas64.General{Rows: n, Cols: 1, Stride: 1, Data: rhs})
	for _, v := range rhs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("failed to solve smoothing system (lambda %g)", lambda)
		}
	}
	return rhs, nil
}

// smoothingFit picks the smoothest fit whose weighted residual
// sum w_i (y_i - f_i)^2 stays within the number of points, the default
// smoothing condition of a weighted smoothing spline.
func smoothingFit(x, y, w []float64) ([]float64, error) {
	n := len(x)
	if n < 3 {
		out := make([]float64, n)
		copy(out, y)
		return out, nil
	}

	// constants lie in the penalty null space, fitting around the weighted
	// mean keeps large offsets out of the ill-conditioned solve
	mean := floats.Dot(w, y) / floats.Sum(w)
	yc := make([]float64, n)
	for i := range y {
		yc[i] = y[i] - mean
	}

	budget := float64(n)
	scale := floats.Sum(w) / float64(n)
	fitAt := func(logLambda float64) ([]float64, bool) {
		f, err := whittaker(x, yc, w, scale*math.Pow(10, logLambda))
		if err != nil {
			return nil, false
		}
		s := 0.0
		for i := range f {
			d := yc[i] - f[i]
			s += w[i] * d * d
		}
		return f, s <= budget
	}
	uncenter := func(f []float64) []float64 {
		for i := range f {
			f[i] += mean
		}
		return f
	}

	if f, ok := fitAt(maxLogLambda); ok {
		return uncenter(f), nil
	}

	best, err := whittaker(x, yc, w, scale*math.Pow(10, minLogLambda))
	if err != nil {
		return nil, err
	}

	lo, hi := minLogLambda, maxLogLambda
	for step := 0; step < lambdaSteps; step++ {
		mid := (lo + hi) / 2
		if f, ok := fitAt(mid); ok {
			lo = mid
			best = f
		} else {
			hi = mid
		}
	}
	return uncenter(best), nil
}

func newSpline(p Params) Filter {
	size, sigma := p.SplineKernel, p.SplineSigma
	resample := p.Interpolate

	return func(times, values []float64) ([]float64, []float64, error) {
		if err := checkShape(times, values); err != nil {
			return nil, nil, err
		}

		ts, ys := SortPairs(times, values)
		ts, ys = dropMissing(ts, ys)
		if len(ts) == 0 {
			return nil, nil, fmt.Errorf("%w: no known values", ErrInsufficientData)
		}
		ts, ys = mergeDuplicates(ts, ys)

		_, variance := kernelStats(ys, size, sigma)
		w := make([]float64, len(variance))
		for i, v := range variance {
			w[i] = 1 / v
		}

		fit, err := smoothingFit(ts, ys, w)
		if err != nil {
			return nil, nil, err
		}
		if !resample {
			return ts, fit, nil
		}

		first, last := math.Ceil(ts[0]), math.Floor(ts[len(ts)-1])
		if last < first {
			return ts, fit, nil
		}
		grid := make([]float64, int(last-first)+1)
		for i := range grid {
			grid[i] = first + float64(i)
		}
		dense, err := Evaluate(ts, fit, grid)
		if err != nil {
			return nil, nil, err
		}
		return grid, dense, nil
	}
}
