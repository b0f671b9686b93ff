package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func hrConfig() Config {
	return Config{Parameters: map[string]ParameterConfig{
		HeartRate: {Lower: 60, Upper: 100, CriticalLow: 40, CriticalHigh: 140, Hysteresis: 2, Enabled: true, Unit: "bpm"},
	}}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	return e
}

func hr(v float64) Snapshot {
	return Snapshot{Timestamp: t0, Values: map[string]float64{HeartRate: v}}
}

func levels(events []Event) []Level {
	out := make([]Level, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Level)
	}
	return out
}

func TestEvaluate_HysteresisBand_HoldsUntilMarginCleared(t *testing.T) {
	e := newTestEngine(t, hrConfig())

	events := e.Evaluate(hr(101), false)
	require.Len(t, events, 1)
	assert.Equal(t, LevelHigh, events[0].Level)
	assert.True(t, events[0].Active)
	assert.Equal(t, 101.0, events[0].Value)
	assert.Equal(t, PriorityMedium, events[0].Priority)

	assert.Empty(t, e.Evaluate(hr(99), false), "99 is inside the limit but within the hysteresis band")
	assert.True(t, e.IsActive(HeartRate, LevelHigh))

	events = e.Evaluate(hr(97), false)
	require.Len(t, events, 1)
	assert.Equal(t, LevelHigh, events[0].Level)
	assert.False(t, events[0].Active)
	assert.False(t, e.IsActive(HeartRate, LevelHigh))
}

func TestEvaluate_ExactlyAtResolutionBoundary_Resolves(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	e.Evaluate(hr(59), false)
	assert.Empty(t, e.Evaluate(hr(61), false))
	events := e.Evaluate(hr(62), false)
	require.Len(t, events, 1)
	assert.Equal(t, LevelLow, events[0].Level)
	assert.False(t, events[0].Active)
}

func TestEvaluate_AtBareLimit_DoesNotActivate(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	assert.Empty(t, e.Evaluate(hr(100), false))
	assert.Empty(t, e.Evaluate(hr(60), false))
}

func TestEvaluate_CriticalAndSoft_TrackedIndependently(t *testing.T) {
	e := newTestEngine(t, hrConfig())

	events := e.Evaluate(hr(150), false)
	assert.Equal(t, []Level{LevelHigh, LevelCriticalHigh}, levels(events))
	assert.Equal(t, PriorityHigh, events[1].Priority)
	assert.Equal(t, 2, e.ActiveCount())

	// Back under critical: only the critical level clears.
	events = e.Evaluate(hr(130), false)
	require.Len(t, events, 1)
	assert.Equal(t, LevelCriticalHigh, events[0].Level)
	assert.False(t, events[0].Active)
	assert.True(t, e.IsActive(HeartRate, LevelHigh))

	events = e.Evaluate(hr(80), false)
	assert.Equal(t, []Level{LevelHigh}, levels(events))
	assert.Zero(t, e.ActiveCount())
}

func TestEvaluate_SameSnapshotTwice_NoDuplicateEvents(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	require.Len(t, e.Evaluate(hr(110), false), 1)
	assert.Empty(t, e.Evaluate(hr(110), false))
	assert.Empty(t, e.Evaluate(hr(110), true), "a forced pass re-evaluates without repeating active levels")
	assert.Len(t, e.History(0), 1)
}

func TestEvaluate_DisabledParameter_Ignored(t *testing.T) {
	cfg := hrConfig()
	pc := cfg.Parameters[HeartRate]
	pc.Enabled = false
	cfg.Parameters[HeartRate] = pc
	e := newTestEngine(t, cfg)
	assert.Empty(t, e.Evaluate(hr(200), false))
}

func TestEvaluate_MissingValue_LeavesStateUntouched(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	e.Evaluate(hr(110), false)
	assert.Empty(t, e.Evaluate(Snapshot{Timestamp: t0, Values: map[string]float64{}}, true))
	assert.True(t, e.IsActive(HeartRate, LevelHigh))
}

func TestEvaluate_ZeroTimestamp_UsesClock(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	events := e.Evaluate(Snapshot{Values: map[string]float64{HeartRate: 120}}, false)
	require.Len(t, events, 1)
	assert.Equal(t, t0, events[0].Timestamp)
}

func TestEvaluate_InvalidMeasurement_RaisesTechnicalAndSuspendsThresholds(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	require.Len(t, e.Evaluate(hr(110), false), 1)

	invalid := Snapshot{Timestamp: t0, Values: map[string]float64{HeartRate: 0}, Invalid: map[string]bool{HeartRate: true}}
	events := e.Evaluate(invalid, false)
	require.Len(t, events, 1)
	assert.Equal(t, LevelTechnical, events[0].Level)
	assert.True(t, events[0].Active)
	assert.Equal(t, PriorityLow, events[0].Priority)
	assert.True(t, e.IsActive(HeartRate, LevelHigh), "threshold level is held while suspended")
	assert.Empty(t, e.Evaluate(invalid, true))

	// Validity returns with the value back in range.
	events = e.Evaluate(hr(80), false)
	assert.Equal(t, []Level{LevelTechnical, LevelHigh}, levels(events))
	for _, ev := range events {
		assert.False(t, ev.Active)
	}
}

func TestEvaluate_ValidityReturnsWithSameValue_ReevaluatesLevels(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	e.Evaluate(hr(110), false)
	e.Evaluate(Snapshot{Timestamp: t0, Invalid: map[string]bool{HeartRate: true}}, false)
	events := e.Evaluate(hr(110), false)
	assert.Equal(t, []Level{LevelTechnical}, levels(events))
	assert.True(t, e.IsActive(HeartRate, LevelHigh))
}

func TestSetConfig_WideningLimits_EmitsSyntheticResolution(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	e.Evaluate(hr(110), false)

	pc := e.Config().Parameters[HeartRate]
	pc.Upper = 120
	events, err := e.SetConfig(HeartRate, pc)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, LevelHigh, events[0].Level)
	assert.False(t, events[0].Active)
	assert.Equal(t, 110.0, events[0].Value)
	assert.Equal(t, t0, events[0].Timestamp)
}

func TestSetConfig_NarrowingLimits_ActivatesOnNextEvaluation(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	assert.Empty(t, e.Evaluate(hr(90), false))

	events, err := e.UpdateThreshold(HeartRate, FieldUpper, 85)
	require.NoError(t, err)
	assert.Empty(t, events, "a configuration change never raises immediately")

	events = e.Evaluate(hr(90), false)
	require.Len(t, events, 1)
	assert.Equal(t, LevelHigh, events[0].Level)
	assert.True(t, events[0].Active)
}

func TestSetConfig_Invalid_KeepsPreviousConfiguration(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	before := e.Config()

	_, err := e.UpdateThreshold(HeartRate, FieldLower, 120)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, HeartRate, ce.Parameter)
	assert.Equal(t, before, e.Config())

	_, err = e.UpdateThreshold(HeartRate, FieldHysteresis, -1)
	assert.Error(t, err)
	_, err = e.UpdateThreshold(HeartRate, "bogus", 1)
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, HeartRate, ce.Parameter)
	_, err = e.UpdateThreshold("Unknown", FieldLower, 1)
	assert.Error(t, err)
	assert.Equal(t, before, e.Config())
}

func TestSetEnabled_Disable_ResolvesEveryActiveLevel(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	e.Evaluate(hr(150), false)
	require.Equal(t, 2, e.ActiveCount())

	events, err := e.SetEnabled(HeartRate, false)
	require.NoError(t, err)
	assert.Equal(t, []Level{LevelHigh, LevelCriticalHigh}, levels(events))
	assert.Zero(t, e.ActiveCount())
	assert.Empty(t, e.Evaluate(hr(150), true))

	// Re-enabling re-evaluates the unchanged value.
	_, err = e.SetEnabled(HeartRate, true)
	require.NoError(t, err)
	assert.Len(t, e.Evaluate(hr(150), false), 2)
}

func TestSetEnabled_DuringTechnical_ResolvesTechnical(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	e.Evaluate(Snapshot{Timestamp: t0, Invalid: map[string]bool{HeartRate: true}}, false)
	events, err := e.SetEnabled(HeartRate, false)
	require.NoError(t, err)
	assert.Equal(t, []Level{LevelTechnical}, levels(events))
}

func TestApplyProfile_Neonatal_ResolvesOutOfAdultRange(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	events := e.Evaluate(Snapshot{Timestamp: t0, Values: map[string]float64{HeartRate: 140}}, false)
	assert.Equal(t, []Level{LevelHigh}, levels(events))

	events, err := e.ApplyProfile(ProfileNeonatal)
	require.NoError(t, err)
	assert.Equal(t, []Level{LevelHigh}, levels(events))
	assert.False(t, events[0].Active)
	assert.Equal(t, 100.0, e.Config().Parameters[HeartRate].Lower)

	_, err = e.ApplyProfile("martian")
	assert.Error(t, err)
}

func TestApplyProfile_DisabledParameter_StaysDisabled(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	_, err := e.SetEnabled(HeartRate, false)
	require.NoError(t, err)

	_, err = e.ApplyProfile(ProfilePediatric)
	require.NoError(t, err)

	cfg := e.Config().Parameters
	assert.False(t, cfg[HeartRate].Enabled)
	assert.True(t, cfg[SpO2].Enabled)
	assert.Empty(t, e.Evaluate(Snapshot{Timestamp: t0, Values: map[string]float64{HeartRate: 250}}, false))
}

func TestActiveAlarms_OrderedByPriority(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	e.Evaluate(Snapshot{Timestamp: t0, Values: map[string]float64{HeartRate: 130}}, false)
	e.Evaluate(Snapshot{Timestamp: t0.Add(time.Second), Values: map[string]float64{SpO2: 80}}, false)

	active := e.ActiveAlarms()
	require.Len(t, active, 3)
	assert.Equal(t, SpO2, active[0].Parameter)
	assert.Equal(t, LevelCriticalLow, active[0].Level)
	assert.Equal(t, HeartRate, active[1].Parameter)
	assert.Equal(t, SpO2, active[2].Parameter)

	status := e.Status()
	assert.Equal(t, LevelHigh, status[HeartRate])
	assert.Equal(t, LevelCriticalLow, status[SpO2])
	assert.NotContains(t, status, MAP)
}

func TestHistory_Limit_KeepsMostRecent(t *testing.T) {
	e, err := NewEngine(hrConfig(), WithHistoryLimit(3))
	require.NoError(t, err)
	for _, v := range []float64{110, 80, 110, 80, 110} {
		e.Evaluate(hr(v), false)
	}
	h := e.History(0)
	require.Len(t, h, 3)
	assert.True(t, h[0].Active)
	assert.False(t, h[1].Active)
	assert.True(t, h[2].Active)
	assert.Len(t, e.History(1), 1)
	assert.NotEqual(t, h[0].ID, h[2].ID)
}

func TestLastValue(t *testing.T) {
	e := newTestEngine(t, hrConfig())
	_, ok := e.LastValue(HeartRate)
	assert.False(t, ok)
	e.Evaluate(hr(72), false)
	v, ok := e.LastValue(HeartRate)
	assert.True(t, ok)
	assert.Equal(t, 72.0, v)
}

func TestNewEngine_InvalidConfig_Rejected(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
	cfg := hrConfig()
	pc := cfg.Parameters[HeartRate]
	pc.CriticalHigh = 90
	cfg.Parameters[HeartRate] = pc
	_, err = NewEngine(cfg)
	assert.Error(t, err)
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "Priority(9)", Priority(9).String())
}
