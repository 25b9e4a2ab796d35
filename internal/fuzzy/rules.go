package fuzzy

import (
	"math"

	"github.com/yegors/flightphase/internal/adsb"
	"gonum.org/v1/gonum/floats"
)

// Input selects one of the crisp classifier inputs
type Input int

const (
	InputAltitude Input = iota
	InputSpeed
	InputVerticalRate
	numInputs
)

// Inputs holds one crisp value per Input
type Inputs [numInputs]float64

// Set is a named fuzzy set of a variable
type Set struct {
	Name string
	Fn   MembershipFunc
}

// Variable is a named input axis with a bounded domain and its fuzzy sets
type Variable struct {
	Name  string
	Input Input
	Min   float64
	Max   float64
	sets  []Set
}

func newVariable(name string, in Input, lo, hi float64, sets ...Set) *Variable {
	return &Variable{Name: name, Input: in, Min: lo, Max: hi, sets: sets}
}

// Clamp saturates x into the variable's domain
func (v *Variable) Clamp(x float64) float64 {
	return math.Min(math.Max(x, v.Min), v.Max)
}

// Degree returns the membership of x in the named set
func (v *Variable) Degree(set string, x float64) (float64, bool) {
	for _, s := range v.sets {
		if s.Name == set {
			return s.Fn(x), true
		}
	}
	return 0, false
}

// SetNames lists the variable's fuzzy sets in definition order
func (v *Variable) SetNames() []string {
	names := make([]string, len(v.sets))
	for i, s := range v.sets {
		names[i] = s.Name
	}
	return names
}

// Term is one antecedent of a rule: "variable is set"
type Term struct {
	Variable *Variable
	Set      string
	fn       MembershipFunc
}

// Rule activates the output state of Phase with the minimum of its terms
type Rule struct {
	Phase adsb.Phase
	Terms []Term
}

// Activation evaluates the rule against clamped inputs
func (r Rule) Activation(in Inputs) float64 {
	a := 1.0
	for _, t := range r.Terms {
		a = math.Min(a, t.fn(in[t.Variable.Input]))
	}
	return a
}

const (
	stateStep  = 0.01
	stateCount = 600 // state axis covers [0, 6)
	stateSigma = 0.1
)

// RuleBase is the fixed inference engine: the three input variables, the
// five phase rules and the precomputed output state memberships. It is built
// once and never mutated, so one instance can serve concurrent classifiers.
type RuleBase struct {
	Altitude     *Variable
	Speed        *Variable
	VerticalRate *Variable

	rules   []Rule
	states  []float64
	stateMF [][]float64 // per rule, membership of every state axis point
}

// NewRuleBase builds the phase rule base
func NewRuleBase() *RuleBase {
	alt := newVariable("altitude", InputAltitude, 0, 39999,
		Set{"ground", ZShaped(0, 200)},
		Set{"low", Gaussian(10000, 5000)},
		Set{"high", Gaussian(35000, 20000)},
	)
	roc := newVariable("vertical_rate", InputVerticalRate, -4000, 3999.9,
		Set{"zero", Gaussian(0, 100)},
		Set{"positive", SShaped(10, 1000)},
		Set{"negative", ZShaped(-1000, -10)},
	)
	spd := newVariable("speed", InputSpeed, 0, 599,
		Set{"high", Gaussian(600, 100)},
		Set{"medium", Gaussian(200, 100)},
		Set{"low", Gaussian(0, 50)},
	)

	rb := &RuleBase{Altitude: alt, Speed: spd, VerticalRate: roc}
	rb.rules = []Rule{
		{adsb.PhaseGround, []Term{term(alt, "ground"), term(roc, "zero"), term(spd, "low")}},
		{adsb.PhaseClimb, []Term{term(alt, "low"), term(roc, "positive"), term(spd, "medium")}},
		{adsb.PhaseDescend, []Term{term(alt, "low"), term(roc, "negative"), term(spd, "medium")}},
		{adsb.PhaseCruise, []Term{term(alt, "high"), term(roc, "zero"), term(spd, "high")}},
		{adsb.PhaseLevel, []Term{term(alt, "low"), term(roc, "zero"), term(spd, "medium")}},
	}

	rb.states = make([]float64, stateCount)
	for i := range rb.states {
		rb.states[i] = float64(i) * stateStep
	}
	rb.stateMF = make([][]float64, len(rb.rules))
	for i, r := range rb.rules {
		mf := Gaussian(float64(r.Phase), stateSigma)
		row := make([]float64, stateCount)
		for j, x := range rb.states {
			row[j] = mf(x)
		}
		rb.stateMF[i] = row
	}
	return rb
}

// term resolves a set of v; an unknown set name is a programming error
func term(v *Variable, set string) Term {
	for _, s := range v.sets {
		if s.Name == set {
			return Term{Variable: v, Set: set, fn: s.Fn}
		}
	}
	panic("fuzzy: variable " + v.Name + " has no set " + set)
}

// Rules returns a copy of the rule list
func (rb *RuleBase) Rules() []Rule {
	out := make([]Rule, len(rb.rules))
	copy(out, rb.rules)
	return out
}

// Clamp saturates every input into its variable's domain
func (rb *RuleBase) Clamp(in Inputs) Inputs {
	for _, v := range []*Variable{rb.Altitude, rb.Speed, rb.VerticalRate} {
		in[v.Input] = v.Clamp(in[v.Input])
	}
	return in
}

// Inference is the outcome of one evaluation of the rule base
type Inference struct {
	Phase         adsb.Phase
	State         float64 // defuzzified value on the state axis
	Activations   []float64
	Peak          float64 // maximum of the aggregated output set
	ActivationSum float64
}

// Infer clamps the inputs, fires every rule, aggregates the clipped output
// states by pointwise maximum and defuzzifies by largest of maximum.
func (rb *RuleBase) Infer(in Inputs) Inference {
	in = rb.Clamp(in)

	acts := make([]float64, len(rb.rules))
	for i, r := range rb.rules {
		acts[i] = r.Activation(in)
	}

	agg := make([]float64, stateCount)
	for i, a := range acts {
		for j, m := range rb.stateMF[i] {
			agg[j] = math.Max(agg[j], math.Min(a, m))
		}
	}

	state := largestOfMaximum(rb.states, agg)
	return Inference{
		Phase:         crispPhase(state),
		State:         state,
		Activations:   acts,
		Peak:          floats.Max(agg),
		ActivationSum: floats.Sum(acts),
	}
}

// largestOfMaximum returns the largest x whose membership equals the maximum
func largestOfMaximum(xs, mu []float64) float64 {
	peak := floats.Max(mu)
	best := xs[0]
	for i, m := range mu {
		if m == peak {
			best = xs[i]
		}
	}
	return best
}

// crispPhase rounds a state value half to even and clamps it to a phase id
func crispPhase(state float64) adsb.Phase {
	id := int(math.RoundToEven(state))
	id = min(max(id, int(adsb.PhaseGround)), int(adsb.PhaseUnknown))
	return adsb.Phase(id)
}
