package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hrEvent(changeType ChangeType, action ChangeAction, value float64) ScheduledEvent {
	return ScheduledEvent{
		Type:         "hr_change",
		TimeUnit:     Seconds,
		TimeInterval: 1,
		Count:        1,
		Parameters:   []ParameterChange{{Name: "HR_n", Type: changeType, Action: action, Value: value}},
	}
}

func TestChangeValue_AllCombinations(t *testing.T) {
	tests := []struct {
		name   string
		change ParameterChange
		want   float64
	}{
		{"relative set is percent of baseline", ParameterChange{Type: Relative, Action: Set, Value: 90}, 63},
		{"absolute set replaces", ParameterChange{Type: Absolute, Action: Set, Value: 55}, 55},
		{"relative decay shrinks current", ParameterChange{Type: Relative, Action: Decay, Value: 10}, 72},
		{"absolute decay subtracts", ParameterChange{Type: Absolute, Action: Decay, Value: 5}, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, changeValue(tt.change, 80, 70), 1e-9)
		})
	}
}

func TestApplyEvent_RelativeSet_UsesBaseline(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Set(pHRn, 100))
	ev := hrEvent(Relative, Set, 90)

	require.NoError(t, applyEvent(s, &ev))

	hr, _ := s.Get(pHRn)
	assert.InDelta(t, 63, hr, 1e-9)
}

func TestApplyEvent_UnknownParameter_StoreUntouched(t *testing.T) {
	s := testStore(t)
	gen := s.Generation()
	ev := hrEvent(Absolute, Set, 80)
	ev.Parameters = append(ev.Parameters, ParameterChange{Name: "no_such_param", Type: Absolute, Action: Set, Value: 1})

	err := applyEvent(s, &ev)

	var evErr *EventApplicationError
	require.ErrorAs(t, err, &evErr)
	assert.Equal(t, "no_such_param", evErr.Parameter)
	assert.Equal(t, gen, s.Generation(), "no change applied")
	hr, _ := s.Get(pHRn)
	assert.Equal(t, 70.0, hr)
}

func TestApplyEvent_DerivedParameter_Rejected(t *testing.T) {
	s := testStore(t)
	ev := hrEvent(Absolute, Set, 1)
	ev.Parameters[0].Name = pDerivedKO2

	assert.Error(t, applyEvent(s, &ev))
}

func TestScheduledEvent_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScheduledEvent)
	}{
		{"unknown unit", func(e *ScheduledEvent) { e.TimeUnit = "fortnight" }},
		{"negative interval", func(e *ScheduledEvent) { e.TimeInterval = -1 }},
		{"no parameters", func(e *ScheduledEvent) { e.Parameters = nil }},
		{"unsupported action", func(e *ScheduledEvent) { e.Parameters[0].Action = "ramp" }},
		{"unknown type", func(e *ScheduledEvent) { e.Parameters[0].Type = "percent" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := hrEvent(Relative, Set, 90)
			tt.mutate(&ev)
			var evErr *EventApplicationError
			assert.ErrorAs(t, ev.Validate(), &evErr)
		})
	}
}

func TestScheduledEvent_Interval_ScalesUnit(t *testing.T) {
	ev := ScheduledEvent{TimeUnit: Minutes, TimeInterval: 2, LastEmission: 30}

	assert.Equal(t, 120.0, ev.Interval())
	assert.Equal(t, 150.0, ev.DueAt())
}

func TestPendingEvents_PopDue_OrderedByDueTimeThenInsertion(t *testing.T) {
	var p pendingEvents
	late := &ScheduledEvent{Type: "late", TimeInterval: 5}
	first := &ScheduledEvent{Type: "first", TimeInterval: 2}
	second := &ScheduledEvent{Type: "second", TimeInterval: 2}
	p.push(late)
	p.push(first)
	p.push(second)

	due := p.popDue(3)

	require.Len(t, due, 2)
	assert.Equal(t, "first", due[0].Type)
	assert.Equal(t, "second", due[1].Type)
	assert.Equal(t, 1, p.len())
	assert.Equal(t, "late", p.snapshot()[0].Type)
}

func TestLoadEvents_StrictYAML(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "events.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
events:
  - event_type: hemorrhage
    time_unit: min
    time_interval: 1
    event_count: 3
    parameters:
      - {name: misc_constants.TBV, type: absolute, action: decay, value: 250}
`), 0644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
events:
  - event_type: typo
    time_intervall: 1
`), 0644))

	events, err := LoadEvents(good)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Count)
	assert.Equal(t, 60.0, events[0].Interval())

	_, err = LoadEvents(bad)
	assert.Error(t, err)
}
