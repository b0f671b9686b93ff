package sim

import "math"

// mmHgPerCmH2O converts pleural pressure into the circulation's units.
const mmHgPerCmH2O = 0.7356

// intrathoracic compartments see pleural pressure added to their transmural pressure.
var intrathoracic = [numCompartments]bool{
	cAorta: true, cVenaCava: true, cRA: true, cRV: true,
	cPulArt: true, cPulVen: true, cLA: true, cLV: true,
}

// cardioParams is the cached cardiovascular parameter set.
type cardioParams struct {
	e, emax, r, uv [numCompartments]float64

	hrN, hrMin, hrMax float64
	rN, uvN           float64
}

func (cv *cardioParams) refresh(s *Store) error {
	r := reader{s: s}
	for c := 0; c < numCompartments; c++ {
		cv.e[c] = r.get(elastanceName(c))
		cv.r[c] = r.get(resistanceName(c))
		cv.uv[c] = r.get(unstressedName(c))
	}
	for _, c := range chambers {
		cv.emax[c] = r.get(elastanceMaxName(c))
	}
	cv.hrN = r.get(pHRn)
	cv.hrMin = r.get(pHRMin)
	cv.hrMax = r.get(pHRMax)
	cv.rN = r.get(pRn)
	cv.uvN = r.get(pUVn)
	if r.err != nil {
		return r.err
	}
	for c := 0; c < numCompartments; c++ {
		if cv.e[c] <= 0 {
			return &ConfigurationError{Parameter: elastanceName(c), Reason: "elastance must be positive"}
		}
		if cv.r[c] <= 0 {
			return &ConfigurationError{Parameter: resistanceName(c), Reason: "resistance must be positive"}
		}
	}
	if cv.hrMin <= 0 || cv.hrMin > cv.hrMax {
		return &ConfigurationError{Parameter: pHRMin, Reason: "heart rate bounds must satisfy 0 < HR_min <= HR_max"}
	}
	return nil
}

// heartRate applies the baroreflex offset to the nominal rate.
func (cv *cardioParams) heartRate(deltaHR float64) float64 {
	return clampFloat(cv.hrN+deltaHR, cv.hrMin, cv.hrMax)
}

// Chamber activation windows as a function of the heart period (s).
func atrialSystole(hp float64) float64      { return 0.03 + 0.09*hp }
func ventricularSystole(hp float64) float64 { return 0.16 + 0.2*hp }

const atrioventricularDelay = 0.01

// activation returns the atrial and ventricular activation (0..1) at phase within a
// cycle of the given period. Outside the systolic windows both are zero.
func activation(phase, period float64) (atrial, ventricular float64) {
	tas := atrialSystole(period)
	tvs := ventricularSystole(period)
	if phase >= 0 && phase <= tas {
		atrial = math.Sin(math.Pi * phase / tas)
	}
	vs := tas + atrioventricularDelay
	if phase > vs && phase <= vs+tvs {
		ventricular = math.Sin(math.Pi * (phase - vs) / tvs)
	}
	return atrial, ventricular
}

// Elastances holds the instantaneous chamber elastances (mmHg/mL).
type Elastances struct {
	LA, RA, LV, RV float64
}

// chamberElastances ramps each chamber from its diastolic to its end-systolic
// elastance with the activation of its cycle window.
func (cv *cardioParams) chamberElastances(phase, period float64) Elastances {
	a, v := activation(phase, period)
	ramp := func(c int, act float64) float64 {
		return cv.e[c] + (cv.emax[c]-cv.e[c])*act
	}
	return Elastances{
		LA: ramp(cLA, a),
		RA: ramp(cRA, a),
		LV: ramp(cLV, v),
		RV: ramp(cRV, v),
	}
}

// circulation holds the pressures (mmHg) and outflows (mL/s) of every compartment.
// Flow F[i] leaves compartment i for i+1; F[cLV] is the aortic valve flow.
type circulation struct {
	P  [numCompartments]float64
	F  [numCompartments]float64
	HR float64
}

// valve behavior of each compartment's outflow.
const (
	valveNone      = iota // passive resistance, flow in both directions
	valveLeaky            // backflow through ten times the forward resistance
	valveCompetent        // no backflow
)

var outflowValve = [numCompartments]int{
	cVenaCava: valveLeaky,
	cRA:       valveCompetent,
	cRV:       valveCompetent,
	cPulVen:   valveLeaky,
	cLA:       valveCompetent,
	cLV:       valveCompetent,
}

// resistive compartments are scaled by the baroreflex peripheral resistance factor.
var baroResistive = [numCompartments]bool{cAorta: true, cSysArt: true, cSysVen: true}

// venousReservoir compartments have their unstressed volume scaled by the baroreflex.
var venousReservoir = [numCompartments]bool{cSysVen: true, cVenaCava: true}

// circulate computes pressures and flows from the volumes in x. Chamber elastances
// come from el, pleural pressure from the mechanics states, and the reflex offsets
// from the baroreflex states.
func (cv *cardioParams) circulate(x []float64, el Elastances, out *circulation) {
	pth := x[xPpl] * mmHgPerCmH2O
	rScale := cv.rN + x[xDeltaR]
	uvScale := cv.uvN + x[xDeltaUV]
	for c := 0; c < numCompartments; c++ {
		e := cv.e[c]
		switch c {
		case cLA:
			e = el.LA
		case cRA:
			e = el.RA
		case cLV:
			e = el.LV
		case cRV:
			e = el.RV
		}
		uv := cv.uv[c]
		if venousReservoir[c] {
			uv *= uvScale
		}
		p := e * (x[xVolume+c] - uv)
		if intrathoracic[c] {
			p += pth
		}
		out.P[c] = p
	}
	for c := 0; c < numCompartments; c++ {
		next := (c + 1) % numCompartments
		r := cv.r[c]
		if baroResistive[c] {
			r *= rScale
		}
		dp := out.P[c] - out.P[next]
		switch {
		case dp >= 0 || outflowValve[c] == valveNone:
			out.F[c] = dp / r
		case outflowValve[c] == valveLeaky:
			out.F[c] = dp / (10 * r)
		default:
			out.F[c] = 0
		}
	}
	out.HR = cv.heartRate(x[xDeltaHR])
}

// volumeDerivatives is inflow minus outflow for each compartment.
func volumeDerivatives(f *[numCompartments]float64, dx []float64) {
	for c := 0; c < numCompartments; c++ {
		prev := (c + numCompartments - 1) % numCompartments
		dx[xVolume+c] = f[prev] - f[c]
	}
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
