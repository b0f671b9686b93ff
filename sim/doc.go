// Package sim provides the physiological simulation engine of physiosim: a
// lumped-parameter model of circulation, respiration, gas exchange and their
// autonomic control, stepped in simulated time.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - state.go: the state vector layout and how blood volume is distributed
//   - model.go: the coupled right-hand side and the physiological readout
//   - simulator.go: the Engine step (commands, events, integration, vitals push)
//
// The subsystems each own one file: elastance.go (heart and vessels),
// respiration.go (lung mechanics and breathing drive), gas.go (O2 and CO2 transport),
// baroreflex.go and chemoreflex.go (the two control loops), cycle.go (beat and breath
// clocks) and delay.go (the reflex transport delays).
//
// # Architecture
//
// The sim package holds the model and the engine; supporting packages live below it:
//   - sim/ode/: adaptive ODE integration with automatic stiffness switching
//   - sim/alarm/: hysteretic threshold alarms over pushed vitals
//   - sim/trace/: recording of vitals frames and alarm events
//   - sim/publish/: vitals and alarm fan-out over NATS, WebSocket and Prometheus
//
// # Parameters
//
// All physiology comes from a Store of named "<category>.<key>" parameters loaded
// from a patient Profile. Scheduled events and control commands change parameters
// only between integration steps; subsystems re-read their cached values when the
// store's generation moves.
//
// # Key Interfaces
//
//   - Sink: receives each pushed Vitals frame
//   - ode.Func: the right-hand side handed to the solver
package sim
