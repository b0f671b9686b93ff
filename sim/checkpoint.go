package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/physiosim/physiosim/sim/ode"
)

// ModeSnapshot is the serialized form of Modes.
type ModeSnapshot struct {
	Ventilation   string `yaml:"ventilation"`
	BloodSampling bool   `yaml:"blood_sampling"`
	Baroreflex    bool   `yaml:"baroreflex"`
	Chemoreflex   bool   `yaml:"chemoreflex"`
	LeadOff       bool   `yaml:"lead_off"`
}

func snapshotModes(m Modes) ModeSnapshot {
	return ModeSnapshot{
		Ventilation:   m.Ventilation.String(),
		BloodSampling: m.Perfusion == PerfusionBloodSampling,
		Baroreflex:    m.Baroreflex,
		Chemoreflex:   m.Chemoreflex,
		LeadOff:       m.LeadOff,
	}
}

func (ms ModeSnapshot) modes() (Modes, error) {
	v, err := ParseVentilationMode(ms.Ventilation)
	if err != nil {
		return Modes{}, err
	}
	m := Modes{Ventilation: v, Baroreflex: ms.Baroreflex, Chemoreflex: ms.Chemoreflex, LeadOff: ms.LeadOff}
	if ms.BloodSampling {
		m.Perfusion = PerfusionBloodSampling
	}
	return m, nil
}

// Checkpoint is everything needed to resume a run exactly where it was taken:
// resuming and stepping gives the same trajectory as never having stopped.
// Commands queued but not yet applied are not included.
type Checkpoint struct {
	Time       float64 `yaml:"time"`
	Steps      int64   `yaml:"steps"`
	LastOutput float64 `yaml:"last_output"`

	State      []float64            `yaml:"state"`
	Parameters map[string]Record    `yaml:"parameters"`
	Baselines  map[string]float64   `yaml:"baselines"`
	Modes      ModeSnapshot         `yaml:"modes"`
	Heart      CycleClock           `yaml:"heart"`
	Breath     BreathCycle          `yaml:"breath"`
	Delays     map[string][]float64 `yaml:"delays"`

	Events   []ScheduledEvent `yaml:"events"`
	Schedule []ScheduledEvent `yaml:"schedule,omitempty"`
	Initial  ModeSnapshot     `yaml:"initial_modes"`

	Solver           ode.Snapshot `yaml:"solver"`
	Seed             int64        `yaml:"seed"`
	TemperatureDraws int64        `yaml:"temperature_draws"`
}

// Checkpoint captures the engine between steps.
func (e *Engine) Checkpoint() *Checkpoint {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()
	cp := &Checkpoint{
		Time:             e.t,
		Steps:            e.steps,
		LastOutput:       e.lastOutput,
		State:            append([]float64(nil), e.x...),
		Parameters:       e.store.Snapshot(),
		Baselines:        e.store.Baselines(),
		Modes:            snapshotModes(e.modes),
		Heart:            e.heart,
		Breath:           e.breath,
		Delays:           make(map[string][]float64, len(e.delays)),
		Events:           e.events.snapshot(),
		Schedule:         append([]ScheduledEvent(nil), e.schedule...),
		Initial:          snapshotModes(e.initial),
		Solver:           e.solver.Snapshot(),
		Seed:             e.rng.Seed(),
		TemperatureDraws: e.rng.Draws(SubsystemTemperature),
	}
	for name, b := range e.delays {
		cp.Delays[name] = b.Values()
	}
	return cp
}

// RestoreEngine rebuilds an Idle engine from a checkpoint. cfg supplies the run
// options; its seed is replaced by the checkpoint's so the stochastic vitals continue
// the same sequence.
func RestoreEngine(cp *Checkpoint, cfg EngineConfig, opts ...Option) (*Engine, error) {
	if len(cp.State) != StateSize {
		return nil, fmt.Errorf("checkpoint state has %d values, want %d", len(cp.State), StateSize)
	}
	store, err := NewStore(cp.Parameters)
	if err != nil {
		return nil, fmt.Errorf("checkpoint parameters: %w", err)
	}
	store.restoreBaselines(cp.Baselines)
	modes, err := cp.Modes.modes()
	if err != nil {
		return nil, fmt.Errorf("checkpoint modes: %w", err)
	}
	initial, err := cp.Initial.modes()
	if err != nil {
		return nil, fmt.Errorf("checkpoint initial modes: %w", err)
	}

	cfg.Seed = cp.Seed
	opts = append([]Option{WithModes(initial), WithEvents(cp.Schedule...)}, opts...)
	e, err := NewEngine(store, cfg, opts...)
	if err != nil {
		return nil, err
	}

	e.t = cp.Time
	e.steps = cp.Steps
	e.lastOutput = cp.LastOutput
	copy(e.x, cp.State)
	e.modes = modes
	e.heart = cp.Heart
	e.breath = cp.Breath

	m := e.model
	delays := map[string]float64{
		delayArterial:    m.baro.delayP,
		delaySympathetic: m.baro.delayEs,
		delayVagal:       m.baro.delayEv,
		delayCO2:         m.chemo.delay,
		delayO2:          m.chemo.delay,
	}
	for name, d := range delays {
		values, ok := cp.Delays[name]
		if !ok {
			return nil, fmt.Errorf("checkpoint is missing delay line %q", name)
		}
		e.delays[name] = restoreDelayBuffer(d, e.dt, values)
	}

	e.events = pendingEvents{}
	for i := range cp.Events {
		ev := cp.Events[i]
		e.events.push(&ev)
	}
	e.solver.Restore(cp.Solver)
	e.rng.Skip(SubsystemTemperature, cp.TemperatureDraws)
	e.ctx = e.stepContext()
	e.last = m.observe(e.t, e.x, &e.ctx)
	return e, nil
}

// SaveCheckpoint writes cp as YAML.
func SaveCheckpoint(path string, cp *Checkpoint) error {
	data, err := yaml.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var cp Checkpoint
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cp); err != nil {
		return nil, fmt.Errorf("parsing checkpoint: %w", err)
	}
	return &cp, nil
}
