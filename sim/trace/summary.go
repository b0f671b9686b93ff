package trace

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/physiosim/physiosim/sim/alarm"
)

// VitalStats aggregates one vital over the recorded frames. Frames where the vital
// was flagged invalid are excluded.
type VitalStats struct {
	Samples int
	Mean    float64
	Min     float64
	Max     float64
}

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	Frames      int
	Duration    float64 // simulated seconds between first and last frame
	Vitals      map[string]VitalStats
	Activations map[alarm.Level]int // activation count per level
	Resolutions int
	ByParameter map[string]int // activation count per parameter
	StillActive int            // activations with no later resolution
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		Vitals:      make(map[string]VitalStats),
		Activations: make(map[alarm.Level]int),
		ByParameter: make(map[string]int),
	}
	if st == nil {
		return summary
	}
	frames, alarms := st.Frames(), st.Alarms()

	summary.Frames = len(frames)
	if len(frames) > 1 {
		summary.Duration = frames[len(frames)-1].SimTime - frames[0].SimTime
	}
	series := make(map[string][]float64)
	for _, f := range frames {
		for name, v := range f.Values {
			if f.Invalid[name] {
				continue
			}
			series[name] = append(series[name], v)
		}
	}
	for name, xs := range series {
		summary.Vitals[name] = VitalStats{
			Samples: len(xs),
			Mean:    stat.Mean(xs, nil),
			Min:     floats.Min(xs),
			Max:     floats.Max(xs),
		}
	}

	type key struct {
		param string
		level alarm.Level
	}
	open := make(map[key]bool)
	for _, a := range alarms {
		k := key{a.Parameter, a.Level}
		if a.Active {
			summary.Activations[a.Level]++
			summary.ByParameter[a.Parameter]++
			open[k] = true
			continue
		}
		summary.Resolutions++
		delete(open, k)
	}
	summary.StillActive = len(open)

	return summary
}
