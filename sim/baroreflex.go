package sim

import "math"

// baroParams caches the baroreflex afferent, efferent and effector parameters.
type baroParams struct {
	abpN, tauSet float64
	tz, tp       float64

	fabMin, fabMax, ka       float64
	fesInf, fes0, kes        float64
	fesMin, fesMax           float64
	fev0, fevInf, kev, fab0  float64
	tauEs, tauEv             float64
	delayP, delayEs, delayEv float64

	gHRs, gHRv, tauHR float64
	gR, tauR          float64
	gUV, tauUV        float64
}

func (bp *baroParams) refresh(s *Store) error {
	r := reader{s: s}
	bp.abpN = r.get(pABPn)
	bp.tauSet = r.get(pTauSetpoint)
	bp.tz = r.get(pBaroTz)
	bp.tp = r.get(pBaroTp)
	bp.fabMin = r.get(pFabMin)
	bp.fabMax = r.get(pFabMax)
	bp.ka = r.get(pKa)
	bp.fesInf = r.get(pFesInf)
	bp.fes0 = r.get(pFes0)
	bp.kes = r.get(pKes)
	bp.fesMin = r.get(pFesMin)
	bp.fesMax = r.get(pFesMax)
	bp.fev0 = r.get(pFev0)
	bp.fevInf = r.get(pFevInf)
	bp.kev = r.get(pKev)
	bp.fab0 = r.get(pFab0)
	bp.tauEs = r.get(pTauEs)
	bp.tauEv = r.get(pTauEv)
	bp.delayP = r.get(pDelayBaro)
	bp.delayEs = r.get(pDelayEs)
	bp.delayEv = r.get(pDelayEv)
	bp.gHRs = r.get(pGHRs)
	bp.gHRv = r.get(pGHRv)
	bp.tauHR = r.get(pTauHR)
	bp.gR = r.get(pGR)
	bp.tauR = r.get(pTauR)
	bp.gUV = r.get(pGUV)
	bp.tauUV = r.get(pTauUV)
	if r.err != nil {
		return r.err
	}
	for name, v := range map[string]float64{
		pTauSetpoint: bp.tauSet, pBaroTp: bp.tp, pKa: bp.ka, pKev: bp.kev,
		pTauEs: bp.tauEs, pTauEv: bp.tauEv,
		pTauHR: bp.tauHR, pTauR: bp.tauR, pTauUV: bp.tauUV,
	} {
		if v <= 0 {
			return &ConfigurationError{Parameter: name, Reason: "must be positive"}
		}
	}
	if bp.fesMin > bp.fesMax {
		return &ConfigurationError{Parameter: pFesMin, Reason: "fes_min exceeds fes_max"}
	}
	return nil
}

// afferent is the carotid sinus firing rate (spikes/s) for a filtered pressure,
// a sigmoid centred on the set-point.
func (bp *baroParams) afferent(p, pset float64) float64 {
	e := math.Exp(clampFloat((p-pset)/bp.ka, -50, 50))
	return (bp.fabMin + bp.fabMax*e) / (1 + e)
}

// sympathetic is the efferent sympathetic firing rate, a decaying exponential of the
// afferent rate bounded to [fes_min, fes_max].
func (bp *baroParams) sympathetic(fab float64) float64 {
	fes := bp.fesInf + (bp.fes0-bp.fesInf)*math.Exp(-bp.kes*fab)
	return clampFloat(fes, bp.fesMin, bp.fesMax)
}

// vagal is the efferent vagal firing rate, rising sigmoidally with the afferent rate.
func (bp *baroParams) vagal(fab float64) float64 {
	e := math.Exp(clampFloat((fab-bp.fab0)/bp.kev, -50, 50))
	return (bp.fev0 + bp.fevInf*e) / (1 + e)
}

// baselines are the efferent rates at zero pressure error.
func (bp *baroParams) baselines(pset float64) (fes, fev float64) {
	fab := bp.afferent(pset, pset)
	return bp.sympathetic(fab), bp.vagal(fab)
}

// baroInputs are the delayed signals held constant over one step.
type baroInputs struct {
	pressure, slope float64 // delayed arterial pressure and its rate
	fes, fev        float64 // delayed filtered efferent rates
}

// baroDerivatives writes the six baroreflex derivatives: the lead-lag afferent filter,
// the two efferent low-pass filters and the three effector offsets. When the loop is
// open the offsets are held at zero and only the filters and set-point evolve.
func (bp *baroParams) baroDerivatives(x []float64, in baroInputs, enabled bool, dx []float64) {
	pset := x[xPset]
	dx[xPset] = (bp.abpN - pset) / bp.tauSet

	dx[xBaroP] = (in.pressure + bp.tz*in.slope - x[xBaroP]) / bp.tp
	fab := bp.afferent(x[xBaroP], pset)
	dx[xFes] = (bp.sympathetic(fab) - x[xFes]) / bp.tauEs
	dx[xFev] = (bp.vagal(fab) - x[xFev]) / bp.tauEv

	if !enabled {
		dx[xDeltaHR], dx[xDeltaR], dx[xDeltaUV] = 0, 0, 0
		return
	}
	fesB, fevB := bp.baselines(pset)
	sigmaHR := bp.gHRs*(in.fes-fesB) + bp.gHRv*(in.fev-fevB)
	sigmaR := bp.gR * (in.fes - fesB)
	sigmaUV := bp.gUV * (in.fes - fesB)
	dx[xDeltaHR] = (sigmaHR - x[xDeltaHR]) / bp.tauHR
	dx[xDeltaR] = (sigmaR - x[xDeltaR]) / bp.tauR
	dx[xDeltaUV] = (sigmaUV - x[xDeltaUV]) / bp.tauUV
}
