// Package trace records pushed vitals frames and alarm events for post-run analysis.
package trace

import (
	"time"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

// VitalsRecord captures one pushed vitals frame.
type VitalsRecord struct {
	Timestamp time.Time
	SimTime   float64
	Values    map[string]float64 // averaged vitals
	Invalid   map[string]bool    // vitals flagged unavailable (may be nil)
}

// AlarmRecord captures one alarm activation or resolution.
type AlarmRecord struct {
	ID        string
	Parameter string
	Level     alarm.Level
	Active    bool
	Value     float64
	Timestamp time.Time
	Priority  alarm.Priority
	Message   string
}

func vitalsRecord(v sim.Vitals) VitalsRecord {
	rec := VitalsRecord{
		Timestamp: v.Timestamp,
		SimTime:   v.SimTime,
		Values:    make(map[string]float64, len(v.Averaged)),
	}
	for k, x := range v.Averaged {
		rec.Values[k] = x
	}
	if len(v.Invalid) > 0 {
		rec.Invalid = make(map[string]bool, len(v.Invalid))
		for k, b := range v.Invalid {
			rec.Invalid[k] = b
		}
	}
	return rec
}

func alarmRecord(ev alarm.Event) AlarmRecord {
	return AlarmRecord{
		ID:        ev.ID.String(),
		Parameter: ev.Parameter,
		Level:     ev.Level,
		Active:    ev.Active,
		Value:     ev.Value,
		Timestamp: ev.Timestamp,
		Priority:  ev.Priority,
		Message:   ev.Message,
	}
}
