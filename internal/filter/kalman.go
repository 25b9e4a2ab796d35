package filter

import (
	"fmt"
	"math"
)

// KalmanPass runs a scalar random walk Kalman filter over z and returns the
// a posteriori estimates and error covariances. The estimate is seeded with
// the first known measurement and P[0] = 1. Missing (NaN) measurements only
// run the time update.
func KalmanPass(z []float64, q, r float64) (est, errCov []float64) {
	n := len(z)
	est = make([]float64, n)
	errCov = make([]float64, n)
	if n == 0 {
		return est, errCov
	}

	seed := math.NaN()
	for _, v := range z {
		if !math.IsNaN(v) {
			seed = v
			break
		}
	}
	est[0] = seed
	errCov[0] = 1.0

	for k := 1; k < n; k++ {
		// time update
		prior := est[k-1]
		priorErr := errCov[k-1] + q

		if math.IsNaN(z[k]) {
			est[k] = prior
			errCov[k] = priorErr
			continue
		}

		// measurement update
		gain := priorErr / (priorErr + r)
		est[k] = prior + gain*(z[k]-prior)
		errCov[k] = (1 - gain) * priorErr
	}
	return est, errCov
}

func newKalman(p Params) Filter {
	q, r := p.KalmanQ, p.KalmanR
	interpolate := p.Interpolate

	return func(times, values []float64) ([]float64, []float64, error) {
		if err := checkShape(times, values); err != nil {
			return nil, nil, err
		}

		ts, ys := SortPairs(times, values)
		if interpolate {
			ts, ys = dropMissing(ts, ys)
			if len(ts) == 0 {
				return nil, nil, fmt.Errorf("%w: no known values", ErrInsufficientData)
			}
			var err error
			if ts, ys, err = FillGaps(ts, ys); err != nil {
				return nil, nil, err
			}
		}

		est, _ := KalmanPass(ys, q, r)
		return ts, est, nil
	}
}
