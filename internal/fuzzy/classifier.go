// Package fuzzy classifies a trajectory into flight phases with a fixed
// fuzzy rule base evaluated over non-overlapping time windows.
package fuzzy

import (
	"fmt"
	"math"
	"sort"

	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/filter"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrShapeMismatch is the filter sentinel, so one errors.Is covers both layers
	ErrShapeMismatch = filter.ErrShapeMismatch
	// ErrInsufficientData is returned when an input has no known values
	ErrInsufficientData = filter.ErrInsufficientData
)

// Options configures a Classifier
type Options struct {
	WindowSeconds float64
	Method        filter.Method
	Params        filter.Params
}

// DefaultOptions returns 60 second windows smoothed by the spline filter
func DefaultOptions() Options {
	return Options{
		WindowSeconds: 60,
		Method:        filter.MethodSpline,
		Params:        filter.DefaultParams(),
	}
}

// Classifier labels trajectories. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	rb     *RuleBase
	window float64
	smooth filter.Filter
}

// NewClassifier binds a rule base to a window size and a smoothing filter
func NewClassifier(rb *RuleBase, opts Options) (*Classifier, error) {
	if rb == nil {
		return nil, fmt.Errorf("%w: nil rule base", filter.ErrInvalidParameter)
	}
	if !(opts.WindowSeconds > 0) || math.IsInf(opts.WindowSeconds, 0) {
		return nil, fmt.Errorf("%w: window must be a positive number of seconds, got %g",
			filter.ErrInvalidParameter, opts.WindowSeconds)
	}
	smooth, err := filter.New(opts.Method, opts.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s filter: %w", opts.Method, err)
	}
	return &Classifier{rb: rb, window: opts.WindowSeconds, smooth: smooth}, nil
}

// Window describes one classified time window. Indexes refer to the samples
// in time order.
type Window struct {
	Index         int        `json:"index"`
	Start         float64    `json:"start"`
	End           float64    `json:"end"`
	FirstIndex    int        `json:"first_index"`
	LastIndex     int        `json:"last_index"`
	Phase         adsb.Phase `json:"phase"`
	State         float64    `json:"state"`
	Activation    float64    `json:"activation"`
	ActivationSum float64    `json:"activation_sum"`
}

// Ambiguous reports whether the summed rule activation is below threshold
func (w Window) Ambiguous(threshold float64) bool {
	return w.ActivationSum < threshold
}

// Classification holds one label per input sample, in input order, and the
// windows that produced them in time order
type Classification struct {
	Labels  []adsb.Phase `json:"labels"`
	Windows []Window     `json:"windows"`
}

// Classify smooths altitude, speed and vertical rate, partitions the samples
// into windows of elapsed time and labels every sample with its window's phase.
// Samples need not be sorted; speed may contain NaN for unknown values.
func (c *Classifier) Classify(times, alt, spd, roc []float64) (*Classification, error) {
	n := len(times)
	if n == 0 || len(alt) != n || len(spd) != n || len(roc) != n {
		return nil, fmt.Errorf("%w: %d times, %d altitudes, %d speeds, %d vertical rates",
			ErrShapeMismatch, n, len(alt), len(spd), len(roc))
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return times[order[a]] < times[order[b]] })

	t0 := times[order[0]]
	elapsed := make([]float64, n)
	for k, i := range order {
		elapsed[k] = times[i] - t0
	}

	var inputs [numInputs][]float64
	for _, in := range []struct {
		v    *Variable
		vals []float64
	}{
		{c.rb.Altitude, alt},
		{c.rb.Speed, spd},
		{c.rb.VerticalRate, roc},
	} {
		raw := make([]float64, n)
		for k, i := range order {
			raw[k] = in.vals[i]
		}
		smoothed, err := c.smoothAt(elapsed, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to smooth %s: %w", in.v.Name, err)
		}
		inputs[in.v.Input] = smoothed
	}

	out := &Classification{Labels: make([]adsb.Phase, n)}
	for i := range out.Labels {
		out.Labels[i] = adsb.PhaseUnknown
	}

	for first := 0; first < n; {
		idx := c.windowIndex(elapsed[first])
		last := first
		for last+1 < n && c.windowIndex(elapsed[last+1]) == idx {
			last++
		}

		var mean Inputs
		for in := range mean {
			mean[in] = stat.Mean(inputs[in][first:last+1], nil)
		}
		inf := c.rb.Infer(mean)

		for k := first; k <= last; k++ {
			out.Labels[order[k]] = inf.Phase
		}
		out.Windows = append(out.Windows, Window{
			Index:         idx,
			Start:         t0 + elapsed[first],
			End:           t0 + elapsed[last],
			FirstIndex:    first,
			LastIndex:     last,
			Phase:         inf.Phase,
			State:         inf.State,
			Activation:    inf.Peak,
			ActivationSum: inf.ActivationSum,
		})
		first = last + 1
	}
	return out, nil
}

// ClassifyFlight classifies the reports of f, which are already time ordered
func (c *Classifier) ClassifyFlight(f adsb.Flight) (*Classification, error) {
	return c.Classify(f.Times(), f.Altitudes(), f.Speeds(), f.VerticalRates())
}

func (c *Classifier) windowIndex(elapsed float64) int {
	return int(math.Floor(elapsed / c.window))
}

// smoothAt filters one input and reads the smoothed curve back at the sample times
func (c *Classifier) smoothAt(ts, raw []float64) ([]float64, error) {
	known := 0
	for _, v := range raw {
		if !math.IsNaN(v) {
			known++
		}
	}
	if known == 0 {
		return nil, fmt.Errorf("%w: no known values", ErrInsufficientData)
	}

	st, sv, err := c.smooth(ts, raw)
	if err != nil {
		return nil, err
	}
	out, err := filter.Evaluate(st, sv, ts)
	if err != nil {
		return nil, err
	}
	for _, v := range out {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("%w: smoothed series has no known values", ErrInsufficientData)
		}
	}
	return out, nil
}
