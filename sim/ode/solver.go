// Package ode integrates systems of ordinary differential equations with an adaptive
// explicit Dormand-Prince 5(4) method that switches to a linearly implicit
// Rosenbrock 2(3) method when the problem turns stiff.
package ode

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Func evaluates dy/dt at (t, y) into dydt. It must not retain y or dydt.
type Func func(t float64, y, dydt []float64)

// ErrStepTooSmall is returned when the step size underflows while trying to satisfy
// the tolerances, usually because the state became non-finite.
var ErrStepTooSmall = errors.New("ode: step size too small")

// ErrTooManySteps is returned when one Integrate call exceeds Options.MaxSteps.
var ErrTooManySteps = errors.New("ode: too many steps")

// Method identifies the integration scheme in use.
type Method int

const (
	Explicit Method = iota // Dormand-Prince 5(4)
	Implicit               // Rosenbrock 2(3)
)

func (m Method) String() string {
	switch m {
	case Explicit:
		return "dopri5"
	case Implicit:
		return "ros23"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// Options configures a Solver. Zero fields take the defaults of DefaultOptions.
type Options struct {
	RelTol float64
	AbsTol float64
	// MaxStep caps the internal step; zero means no cap beyond the interval.
	MaxStep float64
	// InitialStep is the first trial step; zero lets the solver choose.
	InitialStep float64
	// MaxSteps bounds the internal steps of one Integrate call.
	MaxSteps int
	// StiffThreshold is the number of consecutive stiff indications that switches
	// the solver to the implicit method.
	StiffThreshold int
	// ImplicitSteps is how many implicit steps are taken before the explicit method
	// is tried again. After an implicit stint that could not step further than the
	// explicit method, it is also how many explicit steps pass before stiffness is
	// counted again.
	ImplicitSteps int
	// ExplicitOnly disables the switch to the implicit method.
	ExplicitOnly bool
}

// DefaultOptions returns tolerances suited to the physiological model.
func DefaultOptions() Options {
	return Options{
		RelTol:         1e-6,
		AbsTol:         1e-8,
		MaxSteps:       100000,
		StiffThreshold: 15,
		ImplicitSteps:  500,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RelTol <= 0 {
		o.RelTol = d.RelTol
	}
	if o.AbsTol <= 0 {
		o.AbsTol = d.AbsTol
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.StiffThreshold <= 0 {
		o.StiffThreshold = d.StiffThreshold
	}
	if o.ImplicitSteps <= 0 {
		o.ImplicitSteps = d.ImplicitSteps
	}
	return o
}

// Stats counts the work done by a Solver since creation or the last Reset.
type Stats struct {
	Accepted    int
	Rejected    int
	Evaluations int
	Jacobians   int
	Switches    int
}

// Solver integrates a fixed-size system. The step size and the stiffness state
// carry over between Integrate calls so that a caller stepping in short fixed
// intervals does not restart the step-size search each time.
//
// Not safe for concurrent use.
type Solver struct {
	f    Func
	n    int
	opts Options

	h      float64
	method Method

	stiffHits    int
	nonStiffHits int
	implicitLeft int
	// explicitStep is the explicit step proposal at the last switch to Implicit.
	explicitStep float64
	holdoff      int

	stats Stats

	dp  dopriWork
	ros rosenbrockWork
}

// NewSolver creates a solver for an n-dimensional system.
func NewSolver(n int, f Func, opts Options) *Solver {
	s := &Solver{f: f, n: n, opts: opts.withDefaults()}
	s.dp = newDopriWork(n)
	s.ros = newRosenbrockWork(n)
	s.h = s.opts.InitialStep
	return s
}

// Method returns the scheme that will be used for the next step.
func (s *Solver) Method() Method { return s.method }

// Stats returns the work counters.
func (s *Solver) Stats() Stats { return s.stats }

// StepHint returns the step size the next Integrate call will start from.
func (s *Solver) StepHint() float64 { return s.h }

// Snapshot is the adaptive state a Solver carries from one Integrate call to the
// next. Restoring it on a fresh solver reproduces the same step sequence.
type Snapshot struct {
	Step         float64 `yaml:"step"`
	Method       Method  `yaml:"method"`
	StiffHits    int     `yaml:"stiff_hits"`
	NonStiffHits int     `yaml:"non_stiff_hits"`
	ImplicitLeft int     `yaml:"implicit_left"`
	ExplicitStep float64 `yaml:"explicit_step"`
	Holdoff      int     `yaml:"holdoff"`
}

// Snapshot captures the adaptive state.
func (s *Solver) Snapshot() Snapshot {
	return Snapshot{
		Step:         s.h,
		Method:       s.method,
		StiffHits:    s.stiffHits,
		NonStiffHits: s.nonStiffHits,
		ImplicitLeft: s.implicitLeft,
		ExplicitStep: s.explicitStep,
		Holdoff:      s.holdoff,
	}
}

// Restore resumes from a snapshot taken on a solver for the same system.
func (s *Solver) Restore(snap Snapshot) {
	s.h = snap.Step
	s.method = snap.Method
	s.stiffHits = snap.StiffHits
	s.nonStiffHits = snap.NonStiffHits
	s.implicitLeft = snap.ImplicitLeft
	s.explicitStep = snap.ExplicitStep
	s.holdoff = snap.Holdoff
}

// Reset clears the step hint, the stiffness state and the counters.
func (s *Solver) Reset() {
	s.h = s.opts.InitialStep
	s.method = Explicit
	s.stiffHits, s.nonStiffHits, s.implicitLeft = 0, 0, 0
	s.explicitStep, s.holdoff = 0, 0
	s.stats = Stats{}
}

func (s *Solver) eval(t float64, y, dydt []float64) {
	s.stats.Evaluations++
	s.f(t, y, dydt)
}

// Integrate advances y in place from t0 to t1.
func (s *Solver) Integrate(t0, t1 float64, y []float64) error {
	if len(y) != s.n {
		return fmt.Errorf("ode: state has %d entries, solver expects %d", len(y), s.n)
	}
	span := t1 - t0
	if span <= 0 {
		return nil
	}
	if s.h <= 0 {
		s.h = s.initialStep(t0, y, span)
	}
	t := t0
	// reuse reports whether the derivative (and for the implicit method the
	// Jacobian) at the current (t, y) is still held from the previous attempt.
	reuse := false
	for steps := 0; t < t1; steps++ {
		if steps >= s.opts.MaxSteps {
			return ErrTooManySteps
		}
		h := math.Min(s.h, t1-t)
		if s.opts.MaxStep > 0 {
			h = math.Min(h, s.opts.MaxStep)
		}
		if h <= 1e-14*math.Max(1, math.Abs(t)) {
			return ErrStepTooSmall
		}

		var accepted bool
		var next float64
		switch s.method {
		case Implicit:
			accepted, next = s.rosenbrockStep(t, h, y, reuse)
		default:
			accepted, next = s.dopriStep(t, h, y, reuse)
		}
		if !accepted {
			s.stats.Rejected++
			s.h = next
			reuse = true
			continue
		}
		s.stats.Accepted++
		if t+h >= t1 {
			t = t1
		} else {
			t += h
		}
		// A step shortened to land on t1 only informs the next step if it asked to
		// be shorter still.
		if h == s.h || next < h {
			s.h = next
		}
		prev := s.method
		s.updateMethod()
		// Only the explicit method ends a step holding the derivative at the new point.
		reuse = prev == Explicit && s.method == Explicit
	}
	return nil
}

// updateMethod applies the switching policy after an accepted step.
func (s *Solver) updateMethod() {
	switch s.method {
	case Explicit:
		if s.holdoff > 0 {
			s.holdoff--
			s.stiffHits = 0
			return
		}
		if !s.opts.ExplicitOnly && s.stiffHits >= s.opts.StiffThreshold {
			s.method = Implicit
			s.implicitLeft = s.opts.ImplicitSteps
			s.explicitStep = s.h
			s.stiffHits, s.nonStiffHits = 0, 0
			s.stats.Switches++
		}
	case Implicit:
		s.implicitLeft--
		if s.h < s.explicitStep {
			// Stiffness does not pay here; go back and stop counting for a while.
			s.method = Explicit
			s.h = s.explicitStep
			s.holdoff = s.opts.ImplicitSteps
			s.stats.Switches++
			return
		}
		if s.implicitLeft <= 0 {
			s.method = Explicit
			s.stats.Switches++
		}
	}
}

// errorNorm is the RMS of err scaled by the mixed tolerance at y0 and y1.
func (s *Solver) errorNorm(err, y0, y1 []float64) float64 {
	var sum float64
	for i := range err {
		sc := s.opts.AbsTol + s.opts.RelTol*math.Max(math.Abs(y0[i]), math.Abs(y1[i]))
		r := err[i] / sc
		sum += r * r
	}
	norm := math.Sqrt(sum / float64(len(err)))
	if math.IsNaN(norm) {
		return math.Inf(1)
	}
	return norm
}

// initialStep follows Hairer's heuristic: a step such that an explicit Euler step
// changes y by about the tolerance.
func (s *Solver) initialStep(t float64, y []float64, span float64) float64 {
	f0 := make([]float64, s.n)
	s.eval(t, y, f0)
	sc := make([]float64, s.n)
	for i := range y {
		sc[i] = s.opts.AbsTol + s.opts.RelTol*math.Abs(y[i])
	}
	d0 := scaledRMS(y, sc)
	d1 := scaledRMS(f0, sc)
	h0 := 1e-6
	if d0 > 1e-5 && d1 > 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, span)
	y1 := make([]float64, s.n)
	floats.AddScaledTo(y1, y, h0, f0)
	f1 := make([]float64, s.n)
	s.eval(t+h0, y1, f1)
	floats.Sub(f1, f0)
	d2 := scaledRMS(f1, sc) / h0
	h1 := math.Max(1e-6, h0*1e-3)
	if m := math.Max(d1, d2); m > 1e-15 {
		h1 = math.Pow(0.01/m, 1.0/5)
	}
	return math.Min(math.Min(100*h0, h1), span)
}

func scaledRMS(v, sc []float64) float64 {
	var sum float64
	for i := range v {
		r := v[i] / sc[i]
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(v)))
}

// stepFactor returns the step multiplier for a given error norm and method order.
func stepFactor(norm float64, order int) float64 {
	const safety, minFactor, maxFactor = 0.9, 0.2, 5.0
	if norm == 0 {
		return maxFactor
	}
	if math.IsInf(norm, 1) {
		return minFactor
	}
	f := safety * math.Pow(norm, -1/float64(order))
	return math.Max(minFactor, math.Min(maxFactor, f))
}
