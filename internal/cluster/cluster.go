// Package cluster holds the feature scaling and density clustering used to
// split report streams into flights and labelled flights into segments.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Noise is the label of points that belong to no cluster
const Noise = -1

// ErrInvalidParameter is returned for a non-positive radius or minimum size
var ErrInvalidParameter = errors.New("invalid clustering parameter")

// MinMaxScaler maps [DataMin, DataMax] linearly onto [Lo, Hi]
type MinMaxScaler struct {
	DataMin float64
	DataMax float64
	Lo      float64
	Hi      float64

	scale  float64
	offset float64
}

// FitMinMax learns the data range of values. A constant (or empty) input is
// treated as having unit range so that it maps to Lo.
func FitMinMax(values []float64, lo, hi float64) MinMaxScaler {
	s := MinMaxScaler{Lo: lo, Hi: hi}
	if len(values) > 0 {
		s.DataMin = floats.Min(values)
		s.DataMax = floats.Max(values)
	}

	span := s.DataMax - s.DataMin
	if span == 0 {
		span = 1
	}
	s.scale = (hi - lo) / span
	s.offset = lo - s.DataMin*s.scale
	return s
}

// Scale is the factor applied to one unit of the input
func (s MinMaxScaler) Scale() float64 { return s.scale }

// Transform scales one value
func (s MinMaxScaler) Transform(x float64) float64 { return x*s.scale + s.offset }

// TransformAll scales every value into a new slice
func (s MinMaxScaler) TransformAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = s.Transform(v)
	}
	return out
}

// DBSCAN labels points by density: a point with at least minSamples points
// (itself included) within Euclidean distance eps is a core point, clusters
// grow from core points through their neighbourhoods, and everything not
// reached is Noise. Cluster ids are assigned in order of the lowest index
// core point, and a border point reachable from two clusters joins the first.
func DBSCAN(points [][]float64, eps float64, minSamples int) ([]int, error) {
	if !(eps > 0) || math.IsInf(eps, 0) {
		return nil, fmt.Errorf("%w: eps must be positive, got %g", ErrInvalidParameter, eps)
	}
	if minSamples < 1 {
		return nil, fmt.Errorf("%w: min samples must be >= 1, got %d", ErrInvalidParameter, minSamples)
	}

	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n == 0 {
		return labels, nil
	}

	dim := len(points[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: points have no features", ErrInvalidParameter)
	}
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("%w: point %d has %d features, want %d", ErrInvalidParameter, i, len(p), dim)
		}
	}

	idx := newIndex(points, eps)
	core := make([]bool, n)
	for i := range points {
		core[i] = idx.count(i) >= minSamples
	}

	next := 0
	var stack []int
	for i := range points {
		if labels[i] != Noise || !core[i] {
			continue
		}
		// points are labelled as they are queued so each enters the stack once
		labels[i] = next
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !core[p] {
				continue
			}
			idx.each(p, func(q int) {
				if labels[q] == Noise {
					labels[q] = next
					stack = append(stack, q)
				}
			})
		}
		next++
	}
	return labels, nil
}

// Groups returns the member indexes of every cluster, ordered by cluster id,
// and the number of noise points
func Groups(labels []int) ([][]int, int) {
	var groups [][]int
	noise := 0
	for i, l := range labels {
		if l == Noise {
			noise++
			continue
		}
		for len(groups) <= l {
			groups = append(groups, nil)
		}
		groups[l] = append(groups[l], i)
	}
	return groups, noise
}

// index answers radius queries by scanning a window of the points sorted on
// the first feature, which is the only feature in the common time-only case
type index struct {
	points [][]float64
	eps    float64
	order  []int
	keys   []float64
}

func newIndex(points [][]float64, eps float64) *index {
	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return points[order[a]][0] < points[order[b]][0] })

	keys := make([]float64, len(order))
	for k, i := range order {
		keys[k] = points[i][0]
	}
	return &index{points: points, eps: eps, order: order, keys: keys}
}

func (x *index) each(i int, fn func(j int)) {
	p := x.points[i]
	lo := sort.SearchFloat64s(x.keys, p[0]-x.eps)
	for k := lo; k < len(x.keys) && x.keys[k] <= p[0]+x.eps; k++ {
		j := x.order[k]
		if floats.Distance(p, x.points[j], 2) <= x.eps {
			fn(j)
		}
	}
}

func (x *index) count(i int) int {
	c := 0
	x.each(i, func(int) { c++ })
	return c
}
