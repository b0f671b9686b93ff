package alarm

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Level identifies one alarm condition of a parameter.
type Level string

const (
	LevelLow          Level = "low"
	LevelHigh         Level = "high"
	LevelCriticalLow  Level = "critical_low"
	LevelCriticalHigh Level = "critical_high"
	LevelTechnical    Level = "technical"
)

// thresholdLevels are evaluated in this order, most severe low to most severe high.
var thresholdLevels = []Level{LevelCriticalLow, LevelLow, LevelHigh, LevelCriticalHigh}

// Priority ranks events for display.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

var levelPriority = map[Level]Priority{
	LevelLow:          PriorityMedium,
	LevelHigh:         PriorityMedium,
	LevelCriticalLow:  PriorityHigh,
	LevelCriticalHigh: PriorityHigh,
	LevelTechnical:    PriorityLow,
}

// Event is an activation (Active true) or resolution (Active false) of one level.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Parameter string    `json:"parameter"`
	Level     Level     `json:"level"`
	Active    bool      `json:"active"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
}

// Snapshot is one set of measurements to evaluate. Invalid marks parameters whose
// measurement is unavailable.
type Snapshot struct {
	Timestamp time.Time
	Values    map[string]float64
	Invalid   map[string]bool
}

// paramState is the per-parameter evaluation state.
type paramState struct {
	active   map[Level]bool
	last     float64
	hasValue bool
	dirty    bool
}

func newParamState() *paramState {
	return &paramState{active: make(map[Level]bool), dirty: true}
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistoryLimit bounds the retained event history (default 1000).
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.historyLimit = n }
}

// WithClock replaces the clock used for events raised outside Evaluate.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine tracks the alarm state of every configured parameter. It is safe for
// concurrent use; evaluation performs no I/O.
type Engine struct {
	mu           sync.Mutex
	cfg          Config
	state        map[string]*paramState
	activeEvents map[string]map[Level]Event // activation event per active level
	history      []Event
	historyLimit int
	now          func() time.Time
}

// NewEngine validates cfg and returns an engine with no active alarms.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:          cfg.clone(),
		state:        make(map[string]*paramState, len(cfg.Parameters)),
		activeEvents: make(map[string]map[Level]Event),
		historyLimit: 1000,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	for name := range cfg.Parameters {
		e.state[name] = newParamState()
	}
	return e, nil
}

// Evaluate compares the snapshot against the limits and returns the resulting
// transitions. Parameters whose value is unchanged since the last evaluation are
// skipped unless force is set or their configuration changed. Evaluating the same
// snapshot again never repeats an event.
func (e *Engine) Evaluate(snap Snapshot, force bool) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}
	var events []Event
	for _, name := range e.cfg.Names() {
		cfg := e.cfg.Parameters[name]
		if !cfg.Enabled {
			continue
		}
		st := e.state[name]
		if snap.Invalid[name] {
			// Threshold levels are held while the measurement is unavailable.
			if !st.active[LevelTechnical] {
				events = append(events, e.transition(name, LevelTechnical, true, st.last, ts))
			}
			continue
		}
		v, ok := snap.Values[name]
		if !ok {
			continue
		}
		if st.active[LevelTechnical] {
			events = append(events, e.transition(name, LevelTechnical, false, v, ts))
			st.dirty = true
		}
		if !force && !st.dirty && st.hasValue && v == st.last {
			continue
		}
		st.last, st.hasValue, st.dirty = v, true, false
		events = append(events, e.evaluateLevels(name, cfg, v, ts, false)...)
	}
	return events
}

// evaluateLevels applies the hysteresis rules to v. A level activates when v is
// beyond its bare limit and resolves once v is back inside by the hysteresis margin.
// With resolveOnly set no level is raised.
func (e *Engine) evaluateLevels(name string, cfg ParameterConfig, v float64, ts time.Time, resolveOnly bool) []Event {
	st := e.state[name]
	var events []Event
	for _, lvl := range thresholdLevels {
		var trip, reset bool
		switch lvl {
		case LevelCriticalLow:
			trip, reset = v < cfg.CriticalLow, v >= cfg.CriticalLow+cfg.Hysteresis
		case LevelLow:
			trip, reset = v < cfg.Lower, v >= cfg.Lower+cfg.Hysteresis
		case LevelHigh:
			trip, reset = v > cfg.Upper, v <= cfg.Upper-cfg.Hysteresis
		case LevelCriticalHigh:
			trip, reset = v > cfg.CriticalHigh, v <= cfg.CriticalHigh-cfg.Hysteresis
		}
		switch {
		case st.active[lvl] && reset:
			events = append(events, e.transition(name, lvl, false, v, ts))
		case !st.active[lvl] && trip && !resolveOnly:
			events = append(events, e.transition(name, lvl, true, v, ts))
		}
	}
	return events
}

// transition flips one level, records the event and logs it.
func (e *Engine) transition(name string, lvl Level, active bool, v float64, ts time.Time) Event {
	st := e.state[name]
	st.active[lvl] = active
	ev := Event{
		ID:        uuid.New(),
		Parameter: name,
		Level:     lvl,
		Active:    active,
		Value:     v,
		Timestamp: ts,
		Message:   message(name, lvl, active, v, e.cfg.Parameters[name]),
		Priority:  levelPriority[lvl],
	}
	if active {
		if e.activeEvents[name] == nil {
			e.activeEvents[name] = make(map[Level]Event)
		}
		e.activeEvents[name][lvl] = ev
	} else {
		delete(e.activeEvents[name], lvl)
	}
	logrus.Infof("[alarm] %s", ev.Message)
	e.history = append(e.history, ev)
	if e.historyLimit > 0 && len(e.history) > e.historyLimit {
		e.history = append([]Event(nil), e.history[len(e.history)-e.historyLimit:]...)
	}
	return ev
}

func message(name string, lvl Level, active bool, v float64, cfg ParameterConfig) string {
	unit := cfg.Unit
	if lvl == LevelTechnical {
		if active {
			return fmt.Sprintf("%s measurement unavailable", name)
		}
		return fmt.Sprintf("%s measurement restored (%.1f %s)", name, v, unit)
	}
	if !active {
		return fmt.Sprintf("%s %s resolved (%.1f %s)", name, lvl, v, unit)
	}
	var limit float64
	rel := "<"
	switch lvl {
	case LevelLow:
		limit = cfg.Lower
	case LevelCriticalLow:
		limit = cfg.CriticalLow
	case LevelHigh:
		limit, rel = cfg.Upper, ">"
	case LevelCriticalHigh:
		limit, rel = cfg.CriticalHigh, ">"
	}
	return fmt.Sprintf("%s %s (%.1f %s %s %.1f)", name, lvl, v, unit, rel, limit)
}

// SetConfig replaces the limits of one parameter. An invalid configuration is
// rejected and the previous one kept. Levels the new limits put back in range are
// resolved immediately from the last known value; the parameter is re-evaluated in
// full on the next Evaluate.
func (e *Engine) SetConfig(name string, pc ParameterConfig) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setConfig(name, pc)
}

func (e *Engine) setConfig(name string, pc ParameterConfig) ([]Event, error) {
	if err := pc.Validate(name); err != nil {
		logrus.Warnf("[alarm] rejected configuration: %v", err)
		return nil, err
	}
	e.cfg.Parameters[name] = pc
	st, ok := e.state[name]
	if !ok {
		st = newParamState()
		e.state[name] = st
	}
	st.dirty = true
	if !pc.Enabled {
		return e.resolveAll(name), nil
	}
	if !st.hasValue || st.active[LevelTechnical] {
		return nil, nil
	}
	return e.evaluateLevels(name, pc, st.last, e.now(), true), nil
}

// UpdateThreshold changes a single threshold field of a configured parameter.
func (e *Engine) UpdateThreshold(name, field string, v float64) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.cfg.Parameters[name]
	if !ok {
		return nil, &ConfigurationError{Parameter: name, Reason: "not configured"}
	}
	pc, err := pc.withField(field, v)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			ce.Parameter = name
		}
		return nil, err
	}
	return e.setConfig(name, pc)
}

// SetEnabled turns monitoring of a parameter on or off. Disabling resolves every
// active level.
func (e *Engine) SetEnabled(name string, enabled bool) ([]Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.cfg.Parameters[name]
	if !ok {
		return nil, &ConfigurationError{Parameter: name, Reason: "not configured"}
	}
	pc.Enabled = enabled
	return e.setConfig(name, pc)
}

func (e *Engine) resolveAll(name string) []Event {
	st := e.state[name]
	var events []Event
	for _, lvl := range append([]Level{LevelTechnical}, thresholdLevels...) {
		if st.active[lvl] {
			events = append(events, e.transition(name, lvl, false, st.last, e.now()))
		}
	}
	return events
}

// ApplyProfile replaces every parameter's limits with a built-in profile. Parameters
// the profile does not cover keep their configuration, and configured parameters keep
// their enabled flag.
func (e *Engine) ApplyProfile(name string) ([]Event, error) {
	p, err := Profile(name)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var events []Event
	for _, param := range p.Names() {
		pc := p.Parameters[param]
		if cur, ok := e.cfg.Parameters[param]; ok {
			pc.Enabled = cur.Enabled
		}
		evs, err := e.setConfig(param, pc)
		if err != nil {
			return events, err
		}
		events = append(events, evs...)
	}
	logrus.Infof("[alarm] applied %s profile", name)
	return events, nil
}

// Config returns a copy of the configuration in effect.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

// ActiveAlarms returns the activation events of every active level, highest priority
// first, then oldest first.
func (e *Engine) ActiveAlarms() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, levels := range e.activeEvents {
		for _, ev := range levels {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		if out[i].Parameter != out[j].Parameter {
			return out[i].Parameter < out[j].Parameter
		}
		return out[i].Level < out[j].Level
	})
	return out
}

// ActiveCount is the number of active levels across all parameters.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, levels := range e.activeEvents {
		n += len(levels)
	}
	return n
}

// History returns up to n of the most recent events, oldest first. n ≤ 0 returns all.
func (e *Engine) History(n int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	return append([]Event(nil), e.history[len(e.history)-n:]...)
}

// severity orders levels for Status.
var severity = map[Level]int{
	LevelLow:          1,
	LevelHigh:         1,
	LevelTechnical:    2,
	LevelCriticalLow:  3,
	LevelCriticalHigh: 3,
}

// Status returns the most severe active level of each parameter with any active.
func (e *Engine) Status() map[string]Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]Level)
	for name, st := range e.state {
		best := -1
		for lvl, on := range st.active {
			if on && severity[lvl] > best {
				best = severity[lvl]
				out[name] = lvl
			}
		}
	}
	return out
}

// IsActive reports whether the given level of a parameter is active.
func (e *Engine) IsActive(name string, lvl Level) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[name]
	return ok && st.active[lvl]
}

// LastValue returns the last evaluated value of a parameter.
func (e *Engine) LastValue(name string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[name]
	if !ok || !st.hasValue {
		return math.NaN(), false
	}
	return st.last, true
}
