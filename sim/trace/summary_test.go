package trace

import (
	"math"
	"testing"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)
	if summary.Frames != 0 || summary.Resolutions != 0 || summary.StillActive != 0 {
		t.Error("expected zero counts")
	}
	if len(summary.Vitals) != 0 || len(summary.Activations) != 0 {
		t.Error("expected empty maps")
	}
}

func TestSummarize_Vitals_MeanMinMax(t *testing.T) {
	// GIVEN three frames with known heart rates
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelVitals})
	_ = st.PublishVitals(frame(1, 60))
	_ = st.PublishVitals(frame(2, 90))
	_ = st.PublishVitals(frame(3, 75))

	// WHEN summarized
	summary := Summarize(st)

	// THEN the heart rate statistics match
	hr := summary.Vitals[sim.VitalHeartRate]
	if hr.Samples != 3 {
		t.Errorf("expected 3 samples, got %d", hr.Samples)
	}
	if math.Abs(hr.Mean-75) > 1e-9 {
		t.Errorf("expected mean 75, got %v", hr.Mean)
	}
	if hr.Min != 60 || hr.Max != 90 {
		t.Errorf("expected min 60 max 90, got %v %v", hr.Min, hr.Max)
	}
	if summary.Duration != 2 {
		t.Errorf("expected duration 2, got %v", summary.Duration)
	}
}

func TestSummarize_InvalidSamples_Excluded(t *testing.T) {
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelVitals})
	_ = st.PublishVitals(frame(1, 70))
	lead := frame(2, 0)
	lead.Invalid = map[string]bool{sim.VitalHeartRate: true}
	_ = st.PublishVitals(lead)

	hr := Summarize(st).Vitals[sim.VitalHeartRate]
	if hr.Samples != 1 || hr.Min != 70 {
		t.Errorf("expected the lead-off sample excluded, got %+v", hr)
	}
}

func TestSummarize_Alarms_CountsPerLevel(t *testing.T) {
	// GIVEN activations and one resolution
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelAlarms})
	_ = st.PublishAlarm(event(alarm.HeartRate, alarm.LevelHigh, true, 130))
	_ = st.PublishAlarm(event(alarm.HeartRate, alarm.LevelCriticalHigh, true, 160))
	_ = st.PublishAlarm(event(alarm.HeartRate, alarm.LevelCriticalHigh, false, 140))
	_ = st.PublishAlarm(event(alarm.SpO2, alarm.LevelLow, true, 90))

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts match
	if summary.Activations[alarm.LevelHigh] != 1 || summary.Activations[alarm.LevelCriticalHigh] != 1 {
		t.Errorf("unexpected activations: %v", summary.Activations)
	}
	if summary.Resolutions != 1 {
		t.Errorf("expected 1 resolution, got %d", summary.Resolutions)
	}
	if summary.ByParameter[alarm.HeartRate] != 2 || summary.ByParameter[alarm.SpO2] != 1 {
		t.Errorf("unexpected per-parameter counts: %v", summary.ByParameter)
	}
	if summary.StillActive != 2 {
		t.Errorf("expected 2 still active, got %d", summary.StillActive)
	}
}
