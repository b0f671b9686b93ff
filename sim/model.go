package sim

import "math"

// miscParams caches run-level constants.
type miscParams struct {
	step             float64
	tbv              float64
	temperature      float64
	temperatureNoise float64
	samplingPressure float64
}

func (mp *miscParams) refresh(s *Store) error {
	r := reader{s: s}
	mp.step = r.get(pStep)
	mp.tbv = r.get(pTBV)
	mp.temperature = r.get(pTemperature)
	mp.temperatureNoise = r.get(pTemperatureNoise)
	mp.samplingPressure = r.get(pSamplingPressure)
	if r.err != nil {
		return r.err
	}
	if mp.step <= 0 {
		return &ConfigurationError{Parameter: pStep, Reason: "integration step must be positive"}
	}
	if mp.tbv <= 0 {
		return &ConfigurationError{Parameter: pTBV, Reason: "total blood volume must be positive"}
	}
	return nil
}

// model is the coupled right-hand side with its parameter caches. The caches are
// rebuilt when the store's generation moves past the one they were read at.
type model struct {
	gen uint64

	cv    cardioParams
	resp  respParams
	gas   gasParams
	baro  baroParams
	chemo chemoParams
	misc  miscParams
}

func newModel(s *Store) (*model, error) {
	m := &model{}
	if _, err := m.refresh(s); err != nil {
		return nil, err
	}
	return m, nil
}

// refresh rebuilds every cache when the store changed and reports whether it did.
func (m *model) refresh(s *Store) (bool, error) {
	if m.gen != 0 && m.gen == s.Generation() {
		return false, nil
	}
	for _, r := range []interface{ refresh(*Store) error }{
		&m.cv, &m.resp, &m.gas, &m.baro, &m.chemo, &m.misc,
	} {
		if err := r.refresh(s); err != nil {
			return false, err
		}
	}
	m.gen = s.Generation()
	return true, nil
}

// stepContext holds everything the right-hand side needs that is constant over one
// integration step: modes, the cycle clocks and the delayed reflex signals.
type stepContext struct {
	modes  Modes
	heart  CycleClock
	breath BreathCycle
	baro   baroInputs
	chemo  chemoInputs
}

// drive returns the airway-opening pressure and the muscle pressure rate at t.
func (m *model) drive(t float64, sc *stepContext) (pao, dPmus float64) {
	phase, period, ie, amp := sc.breath.At(t)
	if sc.modes.Ventilation == VentSpontaneous {
		return 0, musclePressureRate(phase, period, ie, amp, m.resp.expFrac)
	}
	return ventilatorPressure(phase, period, ie, m.resp.peep, amp), 0
}

// derivatives evaluates the full state derivative: elastance and volumes give
// pressures and flows, flows drive gas exchange, and pressures and gases feed the
// reflexes.
func (m *model) derivatives(t float64, x, dx []float64, sc *stepContext) {
	phase, period := sc.heart.At(t)
	var c circulation
	m.cv.circulate(x, m.cv.chamberElastances(phase, period), &c)
	volumeDerivatives(&c.F, dx)

	pao, dPmus := m.drive(t, sc)
	m.resp.mechanicsDerivatives(x, pao, dPmus, dx)
	dx[xPmus] = dPmus

	mouth, alveolar := m.resp.airflow(x, pao)
	pulmonary := math.Max(c.F[cPulArt], 0) / 1000
	systemic := m.gas.systemicFlow(c.F[cSysArt], sc.modes.Perfusion)
	m.gas.gasDerivatives(x, mouth, alveolar, pulmonary, systemic, dx)

	m.baro.baroDerivatives(x, sc.baro, sc.modes.Baroreflex, dx)
	m.chemo.chemoDerivatives(x, sc.chemo, sc.modes.Chemoreflex, dx)
}

// Observation is the instantaneous physiological readout of one state.
type Observation struct {
	Time             float64
	Pressures        [numCompartments]float64 // mmHg
	Flows            [numCompartments]float64 // mL/s
	Elastances       Elastances
	HeartRate        float64 // beats/min
	RespiratoryRate  float64 // breaths/min
	ArterialPressure float64 // aortic pressure as read by the arterial line, mmHg
	SpO2             float64 // %
	CO2              float64 // CO2 partial pressure at the mouth, mmHg
	MusclePressure   float64 // cmH2O
	AirwayPressure   float64 // cmH2O
}

// observe derives the readout at t from x.
func (m *model) observe(t float64, x []float64, sc *stepContext) Observation {
	phase, period := sc.heart.At(t)
	el := m.cv.chamberElastances(phase, period)
	var c circulation
	m.cv.circulate(x, el, &c)
	pao, _ := m.drive(t, sc)

	o := Observation{
		Time:             t,
		Pressures:        c.P,
		Flows:            c.F,
		Elastances:       el,
		HeartRate:        c.HR,
		ArterialPressure: c.P[cAorta],
		SpO2:             m.gas.saturation(x),
		CO2:              endTidalCO2(x),
		MusclePressure:   x[xPmus],
		AirwayPressure:   pao,
	}
	_, breathPeriod, _, _ := sc.breath.At(t)
	o.RespiratoryRate = 60 / breathPeriod
	if sc.modes.Perfusion == PerfusionBloodSampling {
		o.ArterialPressure = m.misc.samplingPressure
	}
	return o
}
