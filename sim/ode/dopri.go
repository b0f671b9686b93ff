package ode

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Dormand-Prince 5(4) tableau.
var (
	dpC = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dpA = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	// dpE is the difference between the fifth and fourth order weights.
	dpE = [7]float64{
		71.0 / 57600, 0, -71.0 / 16695, 71.0 / 1920, -17253.0 / 339200, 22.0 / 525, -1.0 / 40,
	}
)

// stiffnessBound is the largest stable h·|λ| Hairer uses for DOPRI5's test.
const stiffnessBound = 3.25

type dopriWork struct {
	k    [7][]float64
	ytmp []float64
	y6   []float64
	ynew []float64
	yerr []float64
}

func newDopriWork(n int) dopriWork {
	w := dopriWork{
		ytmp: make([]float64, n),
		y6:   make([]float64, n),
		ynew: make([]float64, n),
		yerr: make([]float64, n),
	}
	for i := range w.k {
		w.k[i] = make([]float64, n)
	}
	return w
}

// dopriStep attempts one step of size h. On acceptance y is advanced and k[0] holds
// the derivative at the new point. It returns the proposed next step either way.
func (s *Solver) dopriStep(t, h float64, y []float64, reuse bool) (bool, float64) {
	w := &s.dp
	if !reuse {
		s.eval(t, y, w.k[0])
	}
	for stage := 1; stage < 7; stage++ {
		copy(w.ytmp, y)
		for j := 0; j < stage; j++ {
			if a := dpA[stage][j]; a != 0 {
				floats.AddScaled(w.ytmp, h*a, w.k[j])
			}
		}
		if stage == 5 {
			copy(w.y6, w.ytmp)
		}
		if stage == 6 {
			copy(w.ynew, w.ytmp)
		}
		s.eval(t+dpC[stage]*h, w.ytmp, w.k[stage])
	}

	for i := range w.yerr {
		w.yerr[i] = 0
	}
	for j := 0; j < 7; j++ {
		if e := dpE[j]; e != 0 {
			floats.AddScaled(w.yerr, h*e, w.k[j])
		}
	}
	norm := s.errorNorm(w.yerr, y, w.ynew)
	next := h * stepFactor(norm, 5)
	if norm > 1 {
		return false, math.Min(next, h)
	}

	s.detectStiffness(h)
	copy(y, w.ynew)
	// First same as last: the seventh stage is the derivative at the new point.
	w.k[0], w.k[6] = w.k[6], w.k[0]
	return true, next
}

// detectStiffness estimates h·|λ| from the last two stages, which are evaluated at
// the same time, and counts consecutive estimates beyond the stability boundary.
func (s *Solver) detectStiffness(h float64) {
	w := &s.dp
	num := floats.Distance(w.k[6], w.k[5], 2)
	den := floats.Distance(w.ynew, w.y6, 2)
	if den <= 0 {
		return
	}
	if h*num/den > stiffnessBound {
		s.nonStiffHits = 0
		s.stiffHits++
		return
	}
	s.nonStiffHits++
	if s.nonStiffHits >= 6 {
		s.stiffHits = 0
	}
}
