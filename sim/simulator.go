// sim/simulator.go
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physiosim/physiosim/sim/ode"
)

// EngineState is the lifecycle position of an Engine.
type EngineState int32

const (
	StateIdle EngineState = iota
	StateRunning
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("EngineState(%d)", int32(s))
}

// ErrRunning is returned by operations that need the engine paused.
var ErrRunning = errors.New("engine is running")

// Delay line names, also used as checkpoint keys.
const (
	delayArterial    = "arterial_pressure"
	delaySympathetic = "sympathetic"
	delayVagal       = "vagal"
	delayCO2         = "alveolar_co2"
	delayO2          = "alveolar_o2"
)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithSinks registers vitals sinks.
func WithSinks(sinks ...Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithModes sets the initial operating modes.
func WithModes(m Modes) Option {
	return func(e *Engine) { e.modes = m }
}

// WithClock replaces the wall clock used to timestamp vitals frames.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithEvents schedules events from the start of the run.
func WithEvents(events ...ScheduledEvent) Option {
	return func(e *Engine) { e.schedule = append(e.schedule, events...) }
}

// command is a control request queued for the next step boundary.
type command struct {
	desc  string
	apply func(*Engine) error
}

// Engine advances the coupled physiology in fixed steps, applies scheduled events
// and control commands between steps, and pushes vitals frames to its sinks.
//
// Control methods may be called from any goroutine. They are queued and take effect
// at the start of the next step, so the parameter store and the modes never change
// while the solver is integrating.
type Engine struct {
	cfg   EngineConfig
	store *Store
	names []string // sorted parameter names, fixed at construction

	model  *model
	solver *ode.Solver
	x      []float64
	t      float64
	dt     float64
	tbv    float64 // blood volume the compartments currently hold
	steps  int64

	heart  CycleClock
	breath BreathCycle
	delays map[string]*DelayBuffer
	modes  Modes
	ctx    stepContext

	events   pendingEvents
	schedule []ScheduledEvent // events as first scheduled, re-queued by Reset
	initial  Modes

	vitals      *VitalsWindow
	last        Observation
	temperature float64
	lastOutput  float64
	rng         *PartitionedRNG
	sinks       []Sink
	now         func() time.Time

	state atomic.Int32
	stop  atomic.Bool

	// stepMu serializes steps with readers of the engine state.
	stepMu sync.Mutex
	// mu guards commands.
	mu       sync.Mutex
	commands []command
}

// NewEngine validates the store and the run options and builds an Idle engine with
// the state initialized from the store.
func NewEngine(store *Store, cfg EngineConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	m, err := newModel(store)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		store: store,
		names: store.Names(),
		model: m,
		modes: DefaultModes(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.initial = e.modes
	for i := range e.schedule {
		if err := e.schedule[i].Validate(); err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	if err := e.initialize(); err != nil {
		return nil, err
	}
	return e, nil
}

// initialize resets time, state, clocks, delay lines and outputs from the store.
func (e *Engine) initialize() error {
	m := e.model
	r := reader{s: e.store}
	x := make([]float64, StateSize)
	x[xPACO2] = r.get(pInitPACO2)
	x[xPAO2] = r.get(pInitPAO2)
	x[xStisCO2] = r.get(pInitStisCO2)
	x[xScapCO2] = r.get(pInitScapCO2)
	x[xStisO2] = r.get(pInitStisO2)
	x[xScapO2] = r.get(pInitScapO2)
	x[xFDO2] = r.get(pInitFDO2)
	x[xFDCO2] = r.get(pInitFDCO2)
	if r.err != nil {
		return r.err
	}
	distributeVolume(&m.cv, m.misc.tbv, x[xVolume:xVolume+numCompartments])

	fes, fev := m.baro.baselines(m.baro.abpN)
	x[xPset] = m.baro.abpN
	x[xBaroP] = m.baro.abpN
	x[xFes] = fes
	x[xFev] = fev
	x[xChemoCO2] = m.chemo.centralDrive(x[xPACO2])
	x[xChemoO2] = m.chemo.peripheralDrive(x[xPAO2])

	e.x = x
	e.t = 0
	e.steps = 0
	e.lastOutput = 0
	e.dt = m.misc.step
	e.tbv = m.misc.tbv

	e.heart = newCycleClock(0, 60/m.cv.heartRate(0))
	rr, ie, amp := m.resp.breathShape(e.modes.Ventilation, 0, 0)
	e.breath = newBreathCycle(0, rr, ie, amp)
	e.delays = map[string]*DelayBuffer{
		delayArterial:    NewDelayBuffer(m.baro.delayP, e.dt, m.baro.abpN),
		delaySympathetic: NewDelayBuffer(m.baro.delayEs, e.dt, fes),
		delayVagal:       NewDelayBuffer(m.baro.delayEv, e.dt, fev),
		delayCO2:         NewDelayBuffer(m.chemo.delay, e.dt, x[xPACO2]),
		delayO2:          NewDelayBuffer(m.chemo.delay, e.dt, x[xPAO2]),
	}

	e.events = pendingEvents{}
	for _, ev := range e.schedule {
		ev.Parameters = append([]ParameterChange(nil), ev.Parameters...)
		e.events.push(&ev)
	}

	e.vitals = NewVitalsWindow(e.cfg.Output.Window, e.dt)
	e.rng = NewPartitionedRNG(e.cfg.Seed)
	e.solver = e.newSolver()
	e.prepare()
	e.temperature = m.misc.temperature
	e.last = m.observe(0, e.x, &e.ctx)
	return nil
}

func (e *Engine) newSolver() *ode.Solver {
	return ode.NewSolver(StateSize, e.rhs, ode.Options{
		RelTol:       e.cfg.Solver.RelTol,
		AbsTol:       e.cfg.Solver.AbsTol,
		MaxStep:      e.dt,
		ExplicitOnly: e.cfg.Solver.ExplicitOnly,
	})
}

func (e *Engine) rhs(t float64, y, dydt []float64) {
	e.model.derivatives(t, y, dydt, &e.ctx)
}

// Run steps the engine until Stop is called, ctx is done or the horizon is reached.
// With a positive real-time factor each step is paced against the wall clock. Run
// returns ErrNotIdle unless the engine is Idle, and the integration error if the
// solver fails. The engine is Stopped afterwards.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}
	logrus.Infof("[t=%.3fs] Engine running (step %gs, horizon %gs, real-time factor %g)",
		e.Time(), e.dt, e.cfg.Horizon, e.cfg.Pacing.RealTimeFactor)
	defer func() {
		e.state.Store(int32(StateStopped))
		logrus.Infof("[t=%.3fs] Engine stopped", e.Time())
	}()

	for !e.stop.Load() && ctx.Err() == nil {
		if e.cfg.Horizon > 0 && e.Time() >= e.cfg.Horizon-cycleEpsilon {
			break
		}
		started := time.Now()
		if err := e.Step(); err != nil {
			logrus.Errorf("[t=%.3fs] Simulation halted: %v", e.Time(), err)
			return err
		}
		e.pace(ctx, started)
	}
	return nil
}

// pace sleeps off the remainder of the step's wall-clock budget.
func (e *Engine) pace(ctx context.Context, started time.Time) {
	if e.cfg.Pacing.RealTimeFactor <= 0 {
		return
	}
	budget := time.Duration(e.dt / e.cfg.Pacing.RealTimeFactor * float64(time.Second))
	wait := budget - time.Since(started)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Stop ends Run after the step in progress. An Idle engine becomes Stopped.
func (e *Engine) Stop() {
	e.stop.Store(true)
	e.state.CompareAndSwap(int32(StateIdle), int32(StateStopped))
}

// Reset returns a paused engine to Idle with the parameters at their load-time values,
// the initial modes and the original event schedule.
func (e *Engine) Reset() error {
	if e.State() == StateRunning {
		return ErrRunning
	}
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	e.mu.Lock()
	e.commands = nil
	e.mu.Unlock()
	if err := e.store.Restore(); err != nil {
		return err
	}
	if _, err := e.model.refresh(e.store); err != nil {
		return err
	}
	e.modes = e.initial
	if err := e.initialize(); err != nil {
		return err
	}
	e.stop.Store(false)
	e.state.Store(int32(StateIdle))
	logrus.Infof("Engine reset")
	return nil
}

// State reports the lifecycle state.
func (e *Engine) State() EngineState {
	return EngineState(e.state.Load())
}

// Step advances the simulation by one integration step.
func (e *Engine) Step() error {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.step()
}

func (e *Engine) step() error {
	e.applyCommands()
	e.applyEvents()
	if err := e.syncParameters(); err != nil {
		return err
	}
	e.prepare()

	t1 := e.t + e.dt
	method := e.solver.Method()
	if err := e.solver.Integrate(e.t, t1, e.x); err != nil {
		return fmt.Errorf("integrating [%g, %g]: %w", e.t, t1, err)
	}
	if m := e.solver.Method(); m != method {
		logrus.Debugf("[t=%.3fs] Solver switched %s -> %s", t1, method, m)
	}
	e.t = t1
	e.steps++
	e.record()
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.Tracef("[t=%.3fs] step %d: ABP=%.1f HR=%.1f SpO2=%.1f", e.t, e.steps,
			e.last.ArterialPressure, e.last.HeartRate, e.last.SpO2)
	}
	return nil
}

// applyCommands runs the control requests queued since the last step.
func (e *Engine) applyCommands() {
	e.mu.Lock()
	cmds := e.commands
	e.commands = nil
	e.mu.Unlock()
	for _, c := range cmds {
		if err := c.apply(e); err != nil {
			logrus.Warnf("[t=%.3fs] Command %s rejected: %v", e.t, c.desc, err)
			continue
		}
		logrus.Debugf("[t=%.3fs] Applied %s", e.t, c.desc)
	}
}

// applyEvents fires every due event. A failing event is logged and dropped without
// touching the store; a repeating one is re-queued until its count is spent.
func (e *Engine) applyEvents() {
	for _, ev := range e.events.popDue(e.t) {
		if err := e.transact(func() error { return applyEvent(e.store, ev) }); err != nil {
			logrus.Warnf("[t=%.3fs] Dropping event %q: %v", e.t, ev.Type, err)
			continue
		}
		logrus.Infof("[t=%.3fs] Applied event %q", e.t, ev.Type)
		ev.LastEmission = e.t
		if ev.Count <= 1 {
			continue
		}
		ev.Count--
		e.events.push(ev)
	}
}

// transact applies a store mutation and rolls it back if the resulting parameter set
// no longer builds a valid model.
func (e *Engine) transact(mutate func() error) error {
	before := e.store.Snapshot()
	err := mutate()
	if err == nil {
		if _, err = e.model.refresh(e.store); err == nil {
			return nil
		}
	}
	for name, rec := range before {
		if cat, _, _ := splitName(name); derivedCategories[cat] || e.store.records[name].Value == rec.Value {
			continue
		}
		if rerr := e.store.Set(name, rec.Value); rerr != nil {
			return fmt.Errorf("%v; rollback failed: %w", err, rerr)
		}
	}
	if _, rerr := e.model.refresh(e.store); rerr != nil {
		return fmt.Errorf("%v; rollback failed: %w", err, rerr)
	}
	return err
}

// syncParameters carries parameter changes into the state: blood volume changes are
// distributed over the compartments and delay lines follow their delays and the step.
func (e *Engine) syncParameters() error {
	m := e.model
	if _, err := m.refresh(e.store); err != nil {
		return err
	}
	if d := m.misc.tbv - e.tbv; d != 0 {
		applied := addVolume(&m.cv, d, e.x[xVolume:xVolume+numCompartments])
		e.tbv = m.misc.tbv
		if applied != d {
			logrus.Warnf("[t=%.3fs] Blood volume change of %.1f mL limited to %.1f mL", e.t, d, applied)
		}
		logrus.Infof("[t=%.3fs] Blood volume changed by %.1f mL", e.t, applied)
	}
	if m.misc.step != e.dt {
		snap := e.solver.Snapshot()
		e.dt = m.misc.step
		e.solver = e.newSolver()
		e.solver.Restore(snap)
		e.vitals = NewVitalsWindow(e.cfg.Output.Window, e.dt)
		logrus.Infof("[t=%.3fs] Integration step changed to %gs", e.t, e.dt)
	}
	e.delays[delayArterial].Resize(m.baro.delayP, e.dt)
	e.delays[delaySympathetic].Resize(m.baro.delayEs, e.dt)
	e.delays[delayVagal].Resize(m.baro.delayEv, e.dt)
	e.delays[delayCO2].Resize(m.chemo.delay, e.dt)
	e.delays[delayO2].Resize(m.chemo.delay, e.dt)
	return nil
}

// prepare rolls the cycle clocks to e.t and freezes the per-step context.
func (e *Engine) prepare() {
	m := e.model
	e.heart.SetPeriod(60 / m.cv.heartRate(e.x[xDeltaHR]))
	e.heart.Advance(e.t)
	rr, ie, amp := m.resp.breathShape(e.modes.Ventilation, e.x[xDeltaRR], e.x[xDeltaPmus])
	e.breath.Stage(rr, ie, amp)
	if e.breath.Advance(e.t) && e.modes.Ventilation == VentSpontaneous {
		e.x[xPmus] = 0
	}
	e.ctx = e.stepContext()
}

func (e *Engine) stepContext() stepContext {
	abp := e.delays[delayArterial]
	return stepContext{
		modes:  e.modes,
		heart:  e.heart,
		breath: e.breath,
		baro: baroInputs{
			pressure: abp.Oldest(),
			slope:    abp.OldestSlope(),
			fes:      e.delays[delaySympathetic].Oldest(),
			fev:      e.delays[delayVagal].Oldest(),
		},
		chemo: chemoInputs{
			pCO2: e.delays[delayCO2].Oldest(),
			pO2:  e.delays[delayO2].Oldest(),
		},
	}
}

// record feeds the delay lines and the vitals window and pushes a frame when the
// output interval has elapsed.
func (e *Engine) record() {
	m := e.model
	o := m.observe(e.t, e.x, &e.ctx)
	e.last = o
	// The reflex senses the true aortic pressure, not the arterial-line reading.
	e.delays[delayArterial].Push(o.Pressures[cAorta])
	e.delays[delaySympathetic].Push(e.x[xFes])
	e.delays[delayVagal].Push(e.x[xFev])
	e.delays[delayCO2].Push(e.x[xPACO2])
	e.delays[delayO2].Push(e.x[xPAO2])

	e.temperature = bodyTemperature(e.t, m.misc.temperature, m.misc.temperatureNoise, e.rng.Normal(SubsystemTemperature))
	e.vitals.Add(o, e.temperature)

	if e.t-e.lastOutput >= e.cfg.Output.Interval-cycleEpsilon {
		e.lastOutput = e.t
		e.publish(e.frame())
	}
}

func (e *Engine) frame() Vitals {
	v := Vitals{
		Timestamp: e.now(),
		SimTime:   e.t,
		Averaged:  e.vitals.Averaged(),
		Raw:       rawVitals(e.last, e.temperature),
	}
	if e.modes.LeadOff {
		v.Invalid = map[string]bool{VitalHeartRate: true}
	}
	return v
}

func (e *Engine) publish(v Vitals) {
	for _, s := range e.sinks {
		if err := s.PublishVitals(v); err != nil {
			logrus.Warnf("[t=%.3fs] Vitals sink %T: %v", e.t, s, err)
		}
	}
}

func (e *Engine) enqueue(desc string, apply func(*Engine) error) {
	e.mu.Lock()
	e.commands = append(e.commands, command{desc: desc, apply: apply})
	e.mu.Unlock()
}

// Schedule validates ev and queues it. Its parameters are checked when it fires.
func (e *Engine) Schedule(ev ScheduledEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	ev.Parameters = append([]ParameterChange(nil), ev.Parameters...)
	e.enqueue(fmt.Sprintf("schedule %q", ev.Type), func(e *Engine) error {
		e.events.push(&ev)
		return nil
	})
	return nil
}

// SetParameter checks that name is a writable parameter and queues the assignment.
// Bare keys are resolved to their category. The value is clamped to the parameter's
// bounds when applied.
func (e *Engine) SetParameter(name string, v float64) error {
	full, err := resolveName(e.names, name)
	if err != nil {
		return err
	}
	cat, _, err := splitName(full)
	if err != nil {
		return err
	}
	if derivedCategories[cat] {
		return &ConfigurationError{Parameter: full, Reason: "derived parameters are read-only"}
	}
	if !e.known(full) {
		return missingParameter(full)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigurationError{Parameter: full, Reason: "value is not finite"}
	}
	e.enqueue(fmt.Sprintf("%s=%g", full, v), func(e *Engine) error {
		return e.transact(func() error { return e.store.Set(full, v) })
	})
	return nil
}

func (e *Engine) known(name string) bool {
	for _, n := range e.names {
		if n == name {
			return true
		}
	}
	return false
}

// SetVentilationMode switches the airway drive. The breath in progress is cut short
// and a new breath of the new mode starts at the next step.
func (e *Engine) SetVentilationMode(m VentilationMode) {
	e.enqueue("ventilation="+m.String(), func(e *Engine) error {
		if e.modes.Ventilation == m {
			return nil
		}
		e.modes.Ventilation = m
		rr, ie, amp := e.model.resp.breathShape(m, e.x[xDeltaRR], e.x[xDeltaPmus])
		e.breath = newBreathCycle(e.t, rr, ie, amp)
		e.x[xPmus] = 0
		return nil
	})
}

// SetBaroreflex opens or closes the baroreflex loop. Opening it clears the effector
// offsets.
func (e *Engine) SetBaroreflex(on bool) {
	e.enqueue(fmt.Sprintf("baroreflex=%t", on), func(e *Engine) error {
		e.modes.Baroreflex = on
		if !on {
			e.x[xDeltaHR], e.x[xDeltaR], e.x[xDeltaUV] = 0, 0, 0
		}
		return nil
	})
}

// SetChemoreflex opens or closes the chemoreflex loop. Opening it clears the
// respiratory offsets.
func (e *Engine) SetChemoreflex(on bool) {
	e.enqueue(fmt.Sprintf("chemoreflex=%t", on), func(e *Engine) error {
		e.modes.Chemoreflex = on
		if !on {
			e.x[xDeltaRR], e.x[xDeltaPmus] = 0, 0
		}
		return nil
	})
}

// SetBloodSampling toggles an arterial blood draw.
func (e *Engine) SetBloodSampling(on bool) {
	p := PerfusionNormal
	if on {
		p = PerfusionBloodSampling
	}
	e.enqueue("perfusion="+p.String(), func(e *Engine) error {
		e.modes.Perfusion = p
		return nil
	})
}

// SetLeadOff marks the ECG leads as detached or reattached.
func (e *Engine) SetLeadOff(on bool) {
	e.enqueue(fmt.Sprintf("lead_off=%t", on), func(e *Engine) error {
		e.modes.LeadOff = on
		return nil
	})
}

// AddSink registers a vitals sink. It must be called before Run.
func (e *Engine) AddSink(s Sink) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	e.sinks = append(e.sinks, s)
}

// Time returns the simulated time in seconds.
func (e *Engine) Time() float64 {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.t
}

// Steps returns the number of completed integration steps.
func (e *Engine) Steps() int64 {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.steps
}

// StateVector returns a copy of the state vector.
func (e *Engine) StateVector() []float64 {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return append([]float64(nil), e.x...)
}

// Observe returns the readout of the latest state.
func (e *Engine) Observe() Observation {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.last
}

// Modes returns the operating modes in effect.
func (e *Engine) Modes() Modes {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.modes
}

// Parameter returns the current value of a parameter, resolving bare keys.
func (e *Engine) Parameter(name string) (float64, error) {
	full, err := resolveName(e.names, name)
	if err != nil {
		return 0, err
	}
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.store.Get(full)
}

// PendingEvents returns the scheduled events that have not yet fired, in due order.
func (e *Engine) PendingEvents() []ScheduledEvent {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.events.snapshot()
}

// Vitals builds a frame from the current window without waiting for the output
// interval.
func (e *Engine) Vitals() Vitals {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.frame()
}

// SolverStats reports the integrator's counters.
func (e *Engine) SolverStats() ode.Stats {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	return e.solver.Stats()
}
