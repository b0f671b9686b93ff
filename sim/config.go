package sim

import "fmt"

// OutputConfig groups vitals output parameters.
type OutputConfig struct {
	Interval float64 // simulated seconds between pushed vitals frames (default 1)
	Window   float64 // rolling-average window in simulated seconds (default 5)
}

// PacingConfig groups wall-clock pacing parameters.
type PacingConfig struct {
	RealTimeFactor float64 // simulated seconds per wall second; 0 runs unpaced
}

// SolverConfig groups integrator settings.
type SolverConfig struct {
	RelTol       float64 // relative tolerance (default 1e-6)
	AbsTol       float64 // absolute tolerance (default 1e-8)
	ExplicitOnly bool    // never switch to the implicit method on stiffness
}

// EngineConfig groups the run options of an Engine. The physiology itself, including
// the integration step, comes from the parameter store.
type EngineConfig struct {
	Output  OutputConfig
	Pacing  PacingConfig
	Solver  SolverConfig
	Horizon float64 // simulated seconds to run; 0 runs until stopped
	Seed    int64   // seed for the stochastic vitals (temperature noise)
}

// DefaultEngineConfig returns unpaced output every simulated second averaged over
// five seconds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Output: OutputConfig{Interval: 1, Window: 5},
		Solver: SolverConfig{RelTol: 1e-6, AbsTol: 1e-8},
	}
}

// Validate checks that all fields are usable.
func (c EngineConfig) Validate() error {
	if c.Output.Interval <= 0 {
		return fmt.Errorf("output interval must be positive, got %g", c.Output.Interval)
	}
	if c.Output.Window <= 0 {
		return fmt.Errorf("vitals window must be positive, got %g", c.Output.Window)
	}
	if c.Pacing.RealTimeFactor < 0 {
		return fmt.Errorf("real-time factor must be non-negative, got %g", c.Pacing.RealTimeFactor)
	}
	if c.Solver.RelTol < 0 || c.Solver.AbsTol < 0 {
		return fmt.Errorf("solver tolerances must be non-negative, got rtol=%g atol=%g", c.Solver.RelTol, c.Solver.AbsTol)
	}
	if c.Horizon < 0 {
		return fmt.Errorf("horizon must be non-negative, got %g", c.Horizon)
	}
	return nil
}
