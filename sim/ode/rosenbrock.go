package ode

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Coefficients of the Shampine-Reichelt Rosenbrock 2(3) pair. rosD makes the
// second-order solution L-stable.
var (
	rosD   = 1 / (2 + math.Sqrt2)
	rosE32 = 6 + math.Sqrt2
)

type rosenbrockWork struct {
	f0, f1, f2 []float64
	ft         []float64
	k1, k2, k3 []float64
	rhs        []float64
	ytmp       []float64
	ynew       []float64
	yerr       []float64
	jac        *mat.Dense
	w          *mat.Dense
	lu         mat.LU
}

func newRosenbrockWork(n int) rosenbrockWork {
	return rosenbrockWork{
		f0:   make([]float64, n),
		f1:   make([]float64, n),
		f2:   make([]float64, n),
		ft:   make([]float64, n),
		k1:   make([]float64, n),
		k2:   make([]float64, n),
		k3:   make([]float64, n),
		rhs:  make([]float64, n),
		ytmp: make([]float64, n),
		ynew: make([]float64, n),
		yerr: make([]float64, n),
		jac:  mat.NewDense(n, n, nil),
		w:    mat.NewDense(n, n, nil),
	}
}

// jacobian approximates df/dy and df/dt at (t, y) by forward differences, using f0
// as f(t, y).
func (s *Solver) jacobian(t float64, y []float64) {
	w := &s.ros
	s.stats.Jacobians++
	sqrtEps := math.Sqrt(2.220446049250313e-16)
	copy(w.ytmp, y)
	for j := 0; j < s.n; j++ {
		d := sqrtEps * math.Max(math.Abs(y[j]), 1)
		w.ytmp[j] = y[j] + d
		s.eval(t, w.ytmp, w.f1)
		w.ytmp[j] = y[j]
		for i := 0; i < s.n; i++ {
			w.jac.Set(i, j, (w.f1[i]-w.f0[i])/d)
		}
	}
	dt := sqrtEps * math.Max(math.Abs(t), 1)
	s.eval(t+dt, y, w.ft)
	floats.Sub(w.ft, w.f0)
	floats.Scale(1/dt, w.ft)
}

// solve writes W⁻¹·b into dst using the factorized iteration matrix.
func (s *Solver) solve(dst, b []float64) error {
	w := &s.ros
	return w.lu.SolveVecTo(mat.NewVecDense(s.n, dst), false, mat.NewVecDense(s.n, b))
}

// rosenbrockStep attempts one step of the Rosenbrock 2(3) pair. With W = I - d·h·J
// and T = d·h·∂f/∂t:
//
//	W·k1 = f(t, y) + T
//	W·(k2 - k1) = f(t + h/2, y + h/2·k1) - k1
//	y' = y + h·k2
//	W·k3 = f(t+h, y') - e32·(k2 - f1) - 2·(k1 - f0) + T
//
// The local error of the second-order solution is h/6·(k1 - 2·k2 + k3). Every
// stage passes through W⁻¹, so the estimate is damped on stiff components.
func (s *Solver) rosenbrockStep(t, h float64, y []float64, reuse bool) (bool, float64) {
	w := &s.ros
	if !reuse {
		s.eval(t, y, w.f0)
		s.jacobian(t, y)
	}
	dh := rosD * h
	w.w.Scale(-dh, w.jac)
	for i := 0; i < s.n; i++ {
		w.w.Set(i, i, w.w.At(i, i)+1)
	}
	w.lu.Factorize(w.w)

	floats.AddScaledTo(w.rhs, w.f0, dh, w.ft)
	if err := s.solve(w.k1, w.rhs); err != nil {
		return false, h / 2
	}

	floats.AddScaledTo(w.ytmp, y, 0.5*h, w.k1)
	s.eval(t+0.5*h, w.ytmp, w.f1)
	floats.SubTo(w.rhs, w.f1, w.k1)
	if err := s.solve(w.k2, w.rhs); err != nil {
		return false, h / 2
	}
	floats.Add(w.k2, w.k1)

	floats.AddScaledTo(w.ynew, y, h, w.k2)
	s.eval(t+h, w.ynew, w.f2)
	for i := 0; i < s.n; i++ {
		w.rhs[i] = w.f2[i] - rosE32*(w.k2[i]-w.f1[i]) - 2*(w.k1[i]-w.f0[i]) + dh*w.ft[i]
	}
	if err := s.solve(w.k3, w.rhs); err != nil {
		return false, h / 2
	}

	for i := 0; i < s.n; i++ {
		w.yerr[i] = h / 6 * (w.k1[i] - 2*w.k2[i] + w.k3[i])
	}
	norm := s.errorNorm(w.yerr, y, w.ynew)
	next := h * stepFactor(norm, 3)
	if norm > 1 {
		return false, math.Min(next, h)
	}
	copy(y, w.ynew)
	return true, next
}
