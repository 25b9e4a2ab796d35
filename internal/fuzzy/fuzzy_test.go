package fuzzy

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/filter"
)

type series struct {
	times, alt, spd, roc []float64
}

func steady(n int, step, alt, spd, roc float64) series {
	var s series
	for i := 0; i < n; i++ {
		s.times = append(s.times, float64(i)*step)
		s.alt = append(s.alt, alt)
		s.spd = append(s.spd, spd)
		s.roc = append(s.roc, roc)
	}
	return s
}

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(NewRuleBase(), DefaultOptions())
	require.NoError(t, err)
	return c
}

func TestMembershipFunctions(t *testing.T) {
	z := ZShaped(0, 200)
	assert.Equal(t, 1.0, z(-5))
	assert.InDelta(t, 0.875, z(50), 1e-12)
	assert.InDelta(t, 0.5, z(100), 1e-12)
	assert.Equal(t, 0.0, z(200))
	assert.Equal(t, 0.0, z(1000))

	s := SShaped(10, 1000)
	assert.Equal(t, 0.0, s(10))
	assert.InDelta(t, 0.5, s(505), 1e-12)
	assert.Equal(t, 1.0, s(1000))

	g := Gaussian(200, 100)
	assert.Equal(t, 1.0, g(200))
	assert.InDelta(t, math.Exp(-0.5), g(300), 1e-12)
}

func TestRuleBaseDefinition(t *testing.T) {
	rb := NewRuleBase()

	assert.Equal(t, []string{"ground", "low", "high"}, rb.Altitude.SetNames())
	assert.Equal(t, []string{"zero", "positive", "negative"}, rb.VerticalRate.SetNames())
	assert.Equal(t, []string{"high", "medium", "low"}, rb.Speed.SetNames())

	rules := rb.Rules()
	require.Len(t, rules, 5)
	phases := make([]adsb.Phase, len(rules))
	for i, r := range rules {
		phases[i] = r.Phase
		assert.Len(t, r.Terms, 3)
	}
	assert.Equal(t, []adsb.Phase{
		adsb.PhaseGround, adsb.PhaseClimb, adsb.PhaseDescend, adsb.PhaseCruise, adsb.PhaseLevel,
	}, phases)

	_, ok := rb.Altitude.Degree("very_high", 1000)
	assert.False(t, ok)
}

func TestRuleBaseClampsInputs(t *testing.T) {
	rb := NewRuleBase()
	got := rb.Clamp(Inputs{50000, 1000, -9000})
	assert.Equal(t, Inputs{39999, 599, -4000}, got)

	got = rb.Clamp(Inputs{-300, -20, 9000})
	assert.Equal(t, Inputs{0, 0, 3999.9}, got)
}

func TestInfer(t *testing.T) {
	rb := NewRuleBase()

	tests := []struct {
		name string
		in   Inputs
		want adsb.Phase
	}{
		{"cruise", Inputs{35000, 480, 0}, adsb.PhaseCruise},
		{"ground", Inputs{50, 0, 0}, adsb.PhaseGround},
		{"climb", Inputs{10000, 200, 1500}, adsb.PhaseClimb},
		{"descend", Inputs{10000, 200, -1500}, adsb.PhaseDescend},
		{"level", Inputs{10000, 200, 0}, adsb.PhaseLevel},
		{"saturated cruise", Inputs{45000, 480, 0}, adsb.PhaseCruise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := rb.Infer(tt.in)
			assert.Equal(t, tt.want, inf.Phase)
			assert.Greater(t, inf.Peak, 0.0)
			assert.Len(t, inf.Activations, 5)
		})
	}

	cruise := rb.Infer(Inputs{35000, 480, 0})
	assert.InDelta(t, math.Exp(-0.72), cruise.Activations[3], 1e-9)
	assert.InDelta(t, math.Exp(-0.72), cruise.Peak, 1e-9)
}

func TestDefuzzification(t *testing.T) {
	rb := NewRuleBase()

	// no activation anywhere: every state point ties, the largest wins
	state := largestOfMaximum(rb.states, make([]float64, len(rb.states)))
	assert.InDelta(t, 5.99, state, 1e-9)
	assert.Equal(t, adsb.PhaseUnknown, crispPhase(state))

	assert.Equal(t, adsb.PhaseGround, crispPhase(0.2))
	assert.Equal(t, adsb.PhaseCruise, crispPhase(4.12))
	assert.Equal(t, adsb.PhaseCruise, crispPhase(4.5))
	assert.Equal(t, adsb.PhaseUnknown, crispPhase(9))
}

func TestClassifyCruise(t *testing.T) {
	c := newTestClassifier(t)
	s := steady(300, 1, 35000, 480, 0)

	res, err := c.Classify(s.times, s.alt, s.spd, s.roc)
	require.NoError(t, err)
	require.Len(t, res.Labels, 300)
	for i, l := range res.Labels {
		assert.Equal(t, adsb.PhaseCruise, l, "sample %d", i)
	}
	require.Len(t, res.Windows, 5)
	for i, w := range res.Windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, adsb.PhaseCruise, w.Phase)
		assert.False(t, w.Ambiguous(0.1))
	}
}

func TestClassifyGround(t *testing.T) {
	c := newTestClassifier(t)
	s := steady(180, 2, 50, 0, 0)

	res, err := c.Classify(s.times, s.alt, s.spd, s.roc)
	require.NoError(t, err)
	for i, l := range res.Labels {
		assert.Equal(t, adsb.PhaseGround, l, "sample %d", i)
	}
}

func TestClassifyUnsortedInput(t *testing.T) {
	c := newTestClassifier(t)
	s := steady(240, 1, 35000, 480, 0)

	// reverse, labels must still line up with the input order
	n := len(s.times)
	for i := 0; i < n/2; i++ {
		j := n - 1 - i
		s.times[i], s.times[j] = s.times[j], s.times[i]
	}
	s.alt[0] = 9000 // now the last sample in time

	res, err := c.Classify(s.times, s.alt, s.spd, s.roc)
	require.NoError(t, err)
	assert.Equal(t, adsb.PhaseCruise, res.Labels[0])
	assert.Equal(t, adsb.PhaseCruise, res.Labels[n-1])
	require.Len(t, res.Windows, 4)
	assert.Equal(t, 0, res.Windows[0].FirstIndex)
	assert.Equal(t, 59, res.Windows[0].LastIndex)
	assert.Equal(t, 239.0, res.Windows[3].End)
}

func TestClassifyWindows(t *testing.T) {
	c := newTestClassifier(t)

	t.Run("empty windows are skipped", func(t *testing.T) {
		times := []float64{1000, 1010, 1130, 1135}
		res, err := c.Classify(times,
			[]float64{35000, 35000, 35000, 35000},
			[]float64{480, 480, 480, 480},
			[]float64{0, 0, 0, 0})
		require.NoError(t, err)
		require.Len(t, res.Windows, 2)
		assert.Equal(t, 0, res.Windows[0].Index)
		assert.Equal(t, 2, res.Windows[1].Index)
		assert.Equal(t, 1130.0, res.Windows[1].Start)
		assert.Equal(t, 1135.0, res.Windows[1].End)
	})

	t.Run("last window is labelled", func(t *testing.T) {
		s := steady(121, 1, 35000, 480, 0)
		res, err := c.Classify(s.times, s.alt, s.spd, s.roc)
		require.NoError(t, err)
		require.Len(t, res.Windows, 3)
		last := res.Windows[2]
		assert.Equal(t, 120, last.FirstIndex)
		assert.Equal(t, 120, last.LastIndex)
		assert.Equal(t, adsb.PhaseCruise, res.Labels[120])
	})
}

func TestClassifyMissingSpeed(t *testing.T) {
	c := newTestClassifier(t)
	s := steady(120, 1, 35000, 480, 0)
	for i := range s.spd {
		if i%2 == 1 {
			s.spd[i] = math.NaN()
		}
	}

	res, err := c.Classify(s.times, s.alt, s.spd, s.roc)
	require.NoError(t, err)
	for _, l := range res.Labels {
		assert.Equal(t, adsb.PhaseCruise, l)
	}

	for i := range s.spd {
		s.spd[i] = math.NaN()
	}
	_, err = c.Classify(s.times, s.alt, s.spd, s.roc)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestClassifyShapeMismatch(t *testing.T) {
	c := newTestClassifier(t)

	_, err := c.Classify([]float64{0, 1}, []float64{0, 1}, []float64{0}, []float64{0, 1})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.ErrorIs(t, err, filter.ErrShapeMismatch)

	_, err = c.Classify(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewClassifierOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.WindowSeconds = 0
	_, err := NewClassifier(NewRuleBase(), opts)
	assert.ErrorIs(t, err, filter.ErrInvalidParameter)

	opts = DefaultOptions()
	opts.Method = filter.Method("median")
	_, err = NewClassifier(NewRuleBase(), opts)
	assert.ErrorIs(t, err, filter.ErrUnknownMethod)

	_, err = NewClassifier(nil, DefaultOptions())
	assert.ErrorIs(t, err, filter.ErrInvalidParameter)

	for _, m := range filter.Methods {
		opts = DefaultOptions()
		opts.Method = m
		c, err := NewClassifier(NewRuleBase(), opts)
		require.NoError(t, err, m)

		s := steady(180, 1, 35000, 480, 0)
		res, err := c.Classify(s.times, s.alt, s.spd, s.roc)
		require.NoError(t, err, m)
		assert.Equal(t, adsb.PhaseCruise, res.Labels[90], m)
	}
}

func TestClassifierSharedAcrossGoroutines(t *testing.T) {
	c := newTestClassifier(t)
	s := steady(180, 1, 50, 0, 0)

	want, err := c.Classify(s.times, s.alt, s.spd, s.roc)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Classification, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Classify(s.times, s.alt, s.spd, s.roc)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}
