package trace

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Vitals_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	v := frame(2.5, 71.25)
	v.Invalid = map[string]bool{sim.VitalHeartRate: true}
	require.NoError(t, s.PublishVitals(frame(1, 70)))
	require.NoError(t, s.PublishVitals(v))

	got, err := s.LoadVitals(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].SimTime)
	assert.Nil(t, got[0].Invalid)
	assert.Equal(t, 71.25, got[1].Values[sim.VitalHeartRate])
	assert.True(t, got[1].Invalid[sim.VitalHeartRate])
	assert.True(t, v.Timestamp.Equal(got[1].Timestamp))
}

func TestSQLiteStore_Alarms_FilterByParameter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PublishAlarm(event(alarm.HeartRate, alarm.LevelHigh, true, 130)))
	require.NoError(t, s.PublishAlarm(event(alarm.SpO2, alarm.LevelLow, true, 88)))
	require.NoError(t, s.PublishAlarm(event(alarm.HeartRate, alarm.LevelHigh, false, 95)))

	all, err := s.LoadAlarms(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	hr, err := s.LoadAlarms(ctx, alarm.HeartRate)
	require.NoError(t, err)
	require.Len(t, hr, 2)
	assert.True(t, hr[0].Active)
	assert.False(t, hr[1].Active)
	assert.Equal(t, alarm.LevelHigh, hr[1].Level)
	assert.Equal(t, alarm.PriorityMedium, hr[1].Priority)
	assert.Equal(t, 95.0, hr[1].Value)
}

func TestSQLiteStore_DuplicateEventID_Rejected(t *testing.T) {
	s := openTestStore(t)
	ev := event(alarm.HeartRate, alarm.LevelHigh, true, 130)
	require.NoError(t, s.PublishAlarm(ev))
	assert.Error(t, s.PublishAlarm(ev))
}

func TestSQLiteStore_SaveTrace_WritesEverything(t *testing.T) {
	s := openTestStore(t)
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelVitals})
	_ = st.PublishVitals(frame(1, 70))
	_ = st.PublishVitals(frame(2, 71))
	_ = st.PublishAlarm(event(alarm.MAP, alarm.LevelLow, true, 60))

	require.NoError(t, s.SaveTrace(context.Background(), st))
	frames, err := s.LoadVitals(context.Background())
	require.NoError(t, err)
	assert.Len(t, frames, 2)
	alarms, err := s.LoadAlarms(context.Background(), alarm.MAP)
	require.NoError(t, err)
	assert.Len(t, alarms, 1)
}

func TestSQLiteStore_Reopen_KeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.PublishVitals(frame(1, 70)))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	frames, err := s.LoadVitals(context.Background())
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestSQLiteStore_CanceledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SaveVitals(ctx, VitalsRecord{}), context.Canceled)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	assert.Error(t, err)
}
