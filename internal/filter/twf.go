package filter

import "math"

// minTWFGap floors the time distance used for inverse-time weights so that
// repeated timestamps do not divide by zero.
const minTWFGap = 1e-3

func newTWF(p Params) Filter {
	window := p.TWFWindow

	return func(times, values []float64) ([]float64, []float64, error) {
		if err := checkShape(times, values); err != nil {
			return nil, nil, err
		}

		ts, ys := SortPairs(times, values)
		return ts, timeWeighted(ts, ys, window), nil
	}
}

// timeWeighted is a causal filter. Each output is the mean of the raw value and
// the 1/dt weighted average of up to window previous filtered values. The first
// two samples pass through. A missing raw value takes the weighted history alone.
func timeWeighted(ts, ys []float64, window int) []float64 {
	out := make([]float64, len(ys))
	copy(out, ys)

	for i := 2; i < len(ys); i++ {
		num, den := 0.0, 0.0
		for j := max(0, i-window); j < i; j++ {
			if math.IsNaN(out[j]) {
				continue
			}
			w := 1 / math.Max(ts[i]-ts[j], minTWFGap)
			num += w * out[j]
			den += w
		}

		switch {
		case den == 0:
			out[i] = ys[i]
		case math.IsNaN(ys[i]):
			out[i] = num / den
		default:
			out[i] = (num/den + ys[i]) / 2
		}
	}
	return out
}
