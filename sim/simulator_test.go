package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physiosim/physiosim/sim/internal/testutil"
	"github.com/physiosim/physiosim/sim/ode"
)

// frameRecorder is a Sink that keeps every frame.
type frameRecorder struct {
	mu     sync.Mutex
	frames []Vitals
}

func (r *frameRecorder) PublishVitals(v Vitals) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, v)
	return nil
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestNewEngine_InitialState(t *testing.T) {
	e := testEngine(t)

	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 0.0, e.Time())
	x := e.StateVector()
	assert.InDelta(t, 5150, sumVolumes(x), 1e-9)
	assert.Equal(t, 93.0, x[xPset])
	assert.Equal(t, 0.0, x[xDeltaHR])
}

func TestNewEngine_InvalidConfig_Rejected(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Output.Interval = 0

	_, err := NewEngine(testStore(t), cfg)

	assert.Error(t, err)
}

func TestEngine_Step_ConservesBloodVolume(t *testing.T) {
	e := testEngine(t)

	stepFor(t, e, 5)

	assert.InDelta(t, 5150, sumVolumes(e.StateVector()), 1e-3)
	assert.Equal(t, int64(500), e.Steps())
	for i, v := range e.StateVector() {
		assert.False(t, math.IsNaN(v), "state %s is NaN", StateNames[i])
	}
}

func TestEngine_Run_StopsAtHorizon(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Horizon = 1
	e, err := NewEngine(testStore(t), cfg)
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background()))

	assert.InDelta(t, 1.0, e.Time(), 1e-9)
	assert.Equal(t, StateStopped, e.State())
	assert.ErrorIs(t, e.Run(context.Background()), ErrNotIdle)
}

func TestEngine_Stop_FromSink(t *testing.T) {
	var e *Engine
	e = testEngine(t, WithSinks(SinkFunc(func(v Vitals) error {
		e.Stop()
		return nil
	})))

	require.NoError(t, e.Run(context.Background()))

	assert.InDelta(t, 1.0, e.Time(), 1e-9, "stopped after the first frame")
	assert.Equal(t, StateStopped, e.State())
}

func TestEngine_Run_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := testEngine(t, WithSinks(SinkFunc(func(v Vitals) error {
		if v.SimTime >= 2-1e-9 {
			cancel()
		}
		return nil
	})))

	require.NoError(t, e.Run(ctx))

	assert.InDelta(t, 2.0, e.Time(), 1e-9)
}

func TestEngine_Run_Paced(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Horizon = 0.2
	cfg.Pacing.RealTimeFactor = 2
	e, err := NewEngine(testStore(t), cfg)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, e.Run(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestEngine_Stop_IdleBecomesStopped(t *testing.T) {
	e := testEngine(t)

	e.Stop()

	assert.Equal(t, StateStopped, e.State())
	assert.ErrorIs(t, e.Run(context.Background()), ErrNotIdle)
}

func TestEngine_Run_StopRequestedBeforeLoop_Honored(t *testing.T) {
	e := testEngine(t)

	// GIVEN a stop request that lands as Run takes over the Idle engine
	e.stop.Store(true)

	// WHEN Run starts
	require.NoError(t, e.Run(context.Background()))

	// THEN no step is taken
	assert.Equal(t, int64(0), e.Steps())
	assert.Equal(t, StateStopped, e.State())
}

func TestEngine_Reset_RestoresInitialConditions(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.Horizon = 0.5
	e, err := NewEngine(testStore(t), cfg)
	require.NoError(t, err)
	require.NoError(t, e.SetParameter("HR_n", 90))
	e.SetBaroreflex(false)
	require.NoError(t, e.Run(context.Background()))

	require.NoError(t, e.Reset())

	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 0.0, e.Time())
	hr, err := e.Parameter("HR_n")
	require.NoError(t, err)
	assert.Equal(t, 70.0, hr)
	assert.True(t, e.Modes().Baroreflex)
	assert.NoError(t, e.Run(context.Background()))
}

func TestEngine_Event_OneShotRelative_AppliedOnceAndRemoved(t *testing.T) {
	e := testEngine(t, WithEvents(hrEvent(Relative, Decay, 10)))

	stepFor(t, e, 3)

	hr, err := e.Parameter("HR_n")
	require.NoError(t, err)
	assert.InDelta(t, 63, hr, 1e-9)
	assert.Empty(t, e.PendingEvents())
}

func TestEngine_Event_Repeating_FiresCountTimes(t *testing.T) {
	ev := hrEvent(Absolute, Decay, 5)
	ev.Count = 3
	e := testEngine(t, WithEvents(ev))

	stepFor(t, e, 1.5)
	hr, _ := e.Parameter("HR_n")
	assert.InDelta(t, 65, hr, 1e-9)
	require.Len(t, e.PendingEvents(), 1)
	assert.Equal(t, 2, e.PendingEvents()[0].Count)

	stepFor(t, e, 3)
	hr, _ = e.Parameter("HR_n")
	assert.InDelta(t, 55, hr, 1e-9)
	assert.Empty(t, e.PendingEvents())
}

func TestEngine_Event_Bad_DroppedAndSimulationContinues(t *testing.T) {
	bad := hrEvent(Absolute, Set, 1)
	bad.Parameters[0].Name = "no_such_param"
	e := testEngine(t, WithEvents(bad))

	stepFor(t, e, 2)

	assert.Empty(t, e.PendingEvents())
	assert.InDelta(t, 2.0, e.Time(), 1e-9)
}

func TestEngine_Event_InvalidModel_RolledBack(t *testing.T) {
	ev := ScheduledEvent{
		Type:         "bad_constant",
		TimeInterval: 0.5,
		Parameters:   []ParameterChange{{Name: pTauHR, Type: Absolute, Action: Set, Value: 0}},
	}
	e := testEngine(t, WithEvents(ev))

	stepFor(t, e, 1)

	tau, err := e.Parameter(pTauHR)
	require.NoError(t, err)
	assert.Equal(t, 2.0, tau)
}

func TestEngine_SetParameter_ValidatedImmediately(t *testing.T) {
	e := testEngine(t)

	assert.ErrorIs(t, e.SetParameter("no_such_param", 1), ErrUnknownParameter)
	assert.ErrorIs(t, e.SetParameter("cardio_parameters.E_nope", 1), ErrUnknownParameter)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, e.SetParameter(pDerivedKO2, 1), &cfgErr)
	assert.ErrorAs(t, e.SetParameter(pHRn, math.NaN()), &cfgErr)
}

func TestEngine_SetParameter_AppliedAtNextStep(t *testing.T) {
	e := testEngine(t)

	require.NoError(t, e.SetParameter(ParamHeartRateSet, 85))
	before, _ := e.Parameter(ParamHeartRateSet)
	require.NoError(t, e.Step())
	after, _ := e.Parameter(ParamHeartRateSet)

	assert.Equal(t, 70.0, before)
	assert.Equal(t, 85.0, after)
}

func TestEngine_SetParameter_BloodVolume_Redistributed(t *testing.T) {
	e := testEngine(t)

	require.NoError(t, e.SetParameter(ParamTotalBloodVolume, 4650))
	stepFor(t, e, 1)

	assert.InDelta(t, 4650, sumVolumes(e.StateVector()), 1e-3)
}

func TestEngine_SetParameter_HemorrhageThenTransfusion_TracksTotal(t *testing.T) {
	e := testEngine(t)

	require.NoError(t, e.SetParameter(ParamTotalBloodVolume, 4000))
	stepFor(t, e, 0.5)
	require.NoError(t, e.SetParameter(ParamTotalBloodVolume, 5000))
	stepFor(t, e, 0.5)

	assert.InDelta(t, 5000, sumVolumes(e.StateVector()), 1e-3)
	assert.InDelta(t, e.tbv, sumVolumes(e.StateVector()), 1e-3)
}

func TestEngine_SetParameter_Step_ResizesDelays(t *testing.T) {
	e := testEngine(t)

	require.NoError(t, e.SetParameter(ParamStep, 0.02))
	require.NoError(t, e.Step())

	assert.InDelta(t, 0.02, e.Time(), 1e-12)
	assert.Equal(t, 25, e.delays[delayArterial].Len())
}

func TestEngine_Baroreflex_Disabled_OffsetsStayZero(t *testing.T) {
	e := testEngine(t)
	e.SetBaroreflex(false)
	require.NoError(t, e.SetParameter(ParamTotalBloodVolume, 4150))

	stepFor(t, e, 10)

	x := e.StateVector()
	assert.InDelta(t, 0, x[xDeltaHR], 1e-12)
	assert.InDelta(t, 0, x[xDeltaR], 1e-12)
	assert.InDelta(t, 0, x[xDeltaUV], 1e-12)
	assert.InDelta(t, 70, e.Observe().HeartRate, 1e-9)
}

func TestEngine_Baroreflex_Hemorrhage_RaisesHeartRate(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.SetParameter(ParamTotalBloodVolume, 4150))

	stepFor(t, e, 20)

	assert.Greater(t, e.Observe().HeartRate, 70.0)
}

func TestEngine_Chemoreflex_Disabled_KeepsBaselineRate(t *testing.T) {
	e := testEngine(t)
	e.SetChemoreflex(false)
	require.NoError(t, e.SetParameter(ParamFiO2, 0.21))

	stepFor(t, e, 12)

	x := e.StateVector()
	assert.InDelta(t, 0, x[xDeltaRR], 1e-12)
	assert.InDelta(t, 0, x[xDeltaPmus], 1e-12)
	assert.InDelta(t, 12, e.Observe().RespiratoryRate, 1e-9)
}

func TestEngine_Sinks_OnePerOutputInterval(t *testing.T) {
	rec := &frameRecorder{}
	e := testEngine(t, WithSinks(rec))

	stepFor(t, e, 3)

	require.Equal(t, 3, rec.count())
	for i, f := range rec.frames {
		assert.InDelta(t, float64(i+1), f.SimTime, 1e-9)
		assert.Len(t, f.Averaged, len(VitalNames))
		assert.Contains(t, f.Raw, RawArterialPressure)
	}
}

func TestEngine_SinkError_DoesNotStop(t *testing.T) {
	e := testEngine(t, WithSinks(SinkFunc(func(Vitals) error { return errors.New("down") })))

	stepFor(t, e, 2)

	assert.InDelta(t, 2.0, e.Time(), 1e-9)
}

func TestEngine_LeadOff_MarksHeartRateInvalid(t *testing.T) {
	rec := &frameRecorder{}
	e := testEngine(t, WithSinks(rec))
	e.SetLeadOff(true)

	stepFor(t, e, 1)

	require.Equal(t, 1, rec.count())
	assert.False(t, rec.frames[0].Valid(VitalHeartRate))
	assert.True(t, rec.frames[0].Valid(VitalMAP))
}

func TestEngine_BloodSampling_FixedArterialReading(t *testing.T) {
	e := testEngine(t)
	e.SetBloodSampling(true)

	require.NoError(t, e.Step())

	assert.Equal(t, 300.0, e.Observe().ArterialPressure)
	assert.Less(t, e.Observe().Pressures[cAorta], 300.0)

	e.SetBloodSampling(false)
	require.NoError(t, e.Step())
	assert.Equal(t, e.Observe().Pressures[cAorta], e.Observe().ArterialPressure)
}

func TestEngine_PressureControl_SquareAirwayPressure(t *testing.T) {
	e := testEngine(t)
	e.SetVentilationMode(VentPressureControlled)

	seen := map[float64]bool{}
	for i := 0; i < 500; i++ {
		require.NoError(t, e.Step())
		seen[e.Observe().AirwayPressure] = true
	}

	assert.Equal(t, map[float64]bool{5: true, 20: true}, seen)
	assert.InDelta(t, 14, e.Observe().RespiratoryRate, 1e-9)
}

func TestEngine_StiffSwitching_NoMoreStepsThanExplicitOnly(t *testing.T) {
	run := func(explicitOnly bool) ode.Stats {
		cfg := DefaultEngineConfig()
		cfg.Solver.ExplicitOnly = explicitOnly
		e, err := NewEngine(testStore(t), cfg)
		require.NoError(t, err)
		e.SetVentilationMode(VentPressureControlled)
		stepFor(t, e, 10)
		return e.SolverStats()
	}
	explicitOnly := run(true)
	switching := run(false)

	require.Zero(t, explicitOnly.Switches)
	// Step sequences diverge after the first switch, so allow a sliver of noise.
	assert.LessOrEqual(t, switching.Accepted, explicitOnly.Accepted+explicitOnly.Accepted/100,
		"switching: %+v, explicit only: %+v", switching, explicitOnly)
}

func TestEngine_Temperature_DeterministicForSeed(t *testing.T) {
	a := testEngine(t)
	b := testEngine(t)

	stepFor(t, a, 1)
	stepFor(t, b, 1)

	assert.Equal(t, a.Vitals().Raw[RawTemperature], b.Vitals().Raw[RawTemperature])
}

func TestEngine_HealthyAdult_SettlesWithinReferenceRanges(t *testing.T) {
	ref := testutil.LoadReferenceRanges(t).Profile(t, "healthy-adult")
	e := testEngine(t)

	stepFor(t, e, ref.SettleSeconds)

	v := e.Vitals()
	for name, r := range ref.Vitals {
		testutil.AssertInRange(t, name, r, v.Averaged[name])
	}
}
