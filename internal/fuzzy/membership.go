package fuzzy

import "math"

// MembershipFunc maps a crisp value to a degree of truth in [0, 1]
type MembershipFunc func(x float64) float64

// Gaussian is exp(-(x-mean)^2 / (2 sigma^2))
func Gaussian(mean, sigma float64) MembershipFunc {
	return func(x float64) float64 {
		d := x - mean
		return math.Exp(-d * d / (2 * sigma * sigma))
	}
}

// ZShaped is 1 below a, 0 above b, with a smooth quadratic falling edge between
func ZShaped(a, b float64) MembershipFunc {
	mid := (a + b) / 2
	return func(x float64) float64 {
		switch {
		case x <= a:
			return 1
		case x <= mid:
			r := (x - a) / (b - a)
			return 1 - 2*r*r
		case x <= b:
			r := (x - b) / (b - a)
			return 2 * r * r
		default:
			return 0
		}
	}
}

// SShaped is 0 below a, 1 above b, with a smooth quadratic rising edge between
func SShaped(a, b float64) MembershipFunc {
	mid := (a + b) / 2
	return func(x float64) float64 {
		switch {
		case x <= a:
			return 0
		case x <= mid:
			r := (x - a) / (b - a)
			return 2 * r * r
		case x <= b:
			r := (x - b) / (b - a)
			return 1 - 2*r*r
		default:
			return 1
		}
	}
}
