package alarm

import (
	"github.com/sirupsen/logrus"

	"github.com/physiosim/physiosim/sim"
)

// Listener receives alarm events.
type Listener interface {
	PublishAlarm(Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event) error

func (f ListenerFunc) PublishAlarm(ev Event) error { return f(ev) }

// vitalParameters maps pushed vital names to monitored parameters.
var vitalParameters = map[string]string{
	sim.VitalHeartRate:   HeartRate,
	sim.VitalMAP:         MAP,
	sim.VitalSAP:         SAP,
	sim.VitalDAP:         DAP,
	sim.VitalSpO2:        SpO2,
	sim.VitalRR:          RespiratoryRate,
	sim.VitalEtCO2:       EtCO2,
	sim.VitalTemperature: Temperature,
}

// SnapshotFromVitals converts a vitals frame to an alarm snapshot.
func SnapshotFromVitals(v sim.Vitals) Snapshot {
	snap := Snapshot{
		Timestamp: v.Timestamp,
		Values:    make(map[string]float64, len(vitalParameters)),
		Invalid:   make(map[string]bool),
	}
	for vital, param := range vitalParameters {
		if v.Invalid[vital] {
			snap.Invalid[param] = true
			continue
		}
		if val, ok := v.Averaged[vital]; ok {
			snap.Values[param] = val
		}
	}
	return snap
}

// Sink evaluates every pushed vitals frame and forwards the resulting events.
type Sink struct {
	engine    *Engine
	listeners []Listener
}

// NewSink returns a sim.Sink that drives engine.
func NewSink(engine *Engine, listeners ...Listener) *Sink {
	return &Sink{engine: engine, listeners: listeners}
}

// AddListener registers another event receiver. Not safe to call while the
// simulation is running.
func (s *Sink) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Forward delivers events to every listener. Listener errors are logged.
func (s *Sink) Forward(events []Event) {
	for _, ev := range events {
		for _, l := range s.listeners {
			if err := l.PublishAlarm(ev); err != nil {
				logrus.Warnf("[alarm] listener failed for %s %s: %v", ev.Parameter, ev.Level, err)
			}
		}
	}
}

// PublishVitals implements sim.Sink.
func (s *Sink) PublishVitals(v sim.Vitals) error {
	s.Forward(s.engine.Evaluate(SnapshotFromVitals(v), false))
	return nil
}
