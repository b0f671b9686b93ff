package trace

import (
	"sync"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

// TraceLevel controls what is recorded.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelAlarms records alarm events only.
	TraceLevelAlarms TraceLevel = "alarms"
	// TraceLevelVitals records alarm events and every pushed vitals frame.
	TraceLevelVitals TraceLevel = "vitals"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelAlarms: true,
	TraceLevelVitals: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level     TraceLevel
	MaxFrames int // oldest frames are dropped beyond this; 0 keeps all
}

// SimulationTrace collects vitals frames and alarm events during a run. It
// implements sim.Sink and alarm.Listener.
type SimulationTrace struct {
	Config TraceConfig

	mu     sync.Mutex
	frames []VitalsRecord
	alarms []AlarmRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{Config: config}
}

// RecordVitals appends a vitals frame when the level includes vitals.
func (st *SimulationTrace) RecordVitals(record VitalsRecord) {
	if st.Config.Level != TraceLevelVitals {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.frames = append(st.frames, record)
	if n := st.Config.MaxFrames; n > 0 && len(st.frames) > n {
		st.frames = append([]VitalsRecord(nil), st.frames[len(st.frames)-n:]...)
	}
}

// RecordAlarm appends an alarm event record unless tracing is off.
func (st *SimulationTrace) RecordAlarm(record AlarmRecord) {
	if st.Config.Level == TraceLevelNone || st.Config.Level == "" {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.alarms = append(st.alarms, record)
}

// PublishVitals implements sim.Sink.
func (st *SimulationTrace) PublishVitals(v sim.Vitals) error {
	st.RecordVitals(vitalsRecord(v))
	return nil
}

// PublishAlarm implements alarm.Listener.
func (st *SimulationTrace) PublishAlarm(ev alarm.Event) error {
	st.RecordAlarm(alarmRecord(ev))
	return nil
}

// Frames returns a copy of the recorded vitals frames.
func (st *SimulationTrace) Frames() []VitalsRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]VitalsRecord(nil), st.frames...)
}

// Alarms returns a copy of the recorded alarm events.
func (st *SimulationTrace) Alarms() []AlarmRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]AlarmRecord(nil), st.alarms...)
}
