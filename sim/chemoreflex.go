package sim

import "math"

// maxHypoxicExponent bounds the peripheral O2 drive so a collapsed PaO2 cannot
// overflow the exponential.
const maxHypoxicExponent = 5.0

// chemoParams caches the chemoreflex parameters.
type chemoParams struct {
	paCO2n, paO2Thr float64
	delay, tau      float64
	gcF, gcA        float64
	goF, goA        float64
	kO2Drive        float64
	tauF, tauA      float64
}

func (cp *chemoParams) refresh(s *Store) error {
	r := reader{s: s}
	cp.paCO2n = r.get(pPaCO2n)
	cp.paO2Thr = r.get(pPaO2Thr)
	cp.delay = r.get(pDelayChemo)
	cp.tau = r.get(pTauChemo)
	cp.gcF = r.get(pGcF)
	cp.gcA = r.get(pGcA)
	cp.goF = r.get(pGoF)
	cp.goA = r.get(pGoA)
	cp.kO2Drive = r.get(pKO2Drive)
	cp.tauF = r.get(pTauF)
	cp.tauA = r.get(pTauA)
	if r.err != nil {
		return r.err
	}
	for name, v := range map[string]float64{
		pTauChemo: cp.tau, pKO2Drive: cp.kO2Drive, pTauF: cp.tauF, pTauA: cp.tauA,
	} {
		if v <= 0 {
			return &ConfigurationError{Parameter: name, Reason: "must be positive"}
		}
	}
	return nil
}

// centralDrive is linear in the CO2 error above the set-point.
func (cp *chemoParams) centralDrive(pCO2 float64) float64 {
	return pCO2 - cp.paCO2n
}

// peripheralDrive is zero at or above the hypoxic threshold and grows exponentially
// below it, near-linearly for small deficits.
func (cp *chemoParams) peripheralDrive(pO2 float64) float64 {
	if pO2 >= cp.paO2Thr {
		return 0
	}
	return math.Exp(math.Min((cp.paO2Thr-pO2)/cp.kO2Drive, maxHypoxicExponent)) - 1
}

// chemoInputs are the delayed alveolar partial pressures held constant over one step.
type chemoInputs struct {
	pCO2, pO2 float64
}

// chemoDerivatives writes the filtered drives and the respiratory-rate and
// muscle-pressure offsets. When the loop is open the offsets stay at zero and
// breathing follows its configured baseline.
func (cp *chemoParams) chemoDerivatives(x []float64, in chemoInputs, enabled bool, dx []float64) {
	dx[xChemoCO2] = (cp.centralDrive(in.pCO2) - x[xChemoCO2]) / cp.tau
	dx[xChemoO2] = (cp.peripheralDrive(in.pO2) - x[xChemoO2]) / cp.tau
	if !enabled {
		dx[xDeltaRR], dx[xDeltaPmus] = 0, 0
		return
	}
	rate := cp.gcF*x[xChemoCO2] + cp.goF*x[xChemoO2]
	amplitude := cp.gcA*x[xChemoCO2] + cp.goA*x[xChemoO2]
	dx[xDeltaRR] = (rate - x[xDeltaRR]) / cp.tauF
	dx[xDeltaPmus] = (amplitude - x[xDeltaPmus]) / cp.tauA
}
