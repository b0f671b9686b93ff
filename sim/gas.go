package sim

import "math"

// Water-vapor-corrected barometric pressure (mmHg) relating gas fractions to
// partial pressures, and the conversion from blood content flux to alveolar pressure
// rate at body temperature (mmHg·L per L of gas).
const (
	dryBarometric = 713.0
	bloodGasBTPS  = 863.0
)

// gasParams caches the gas exchange parameters, including the derived ones.
type gasParams struct {
	fiO2, fiCO2 float64
	vD, vA      float64

	kCO2, cCO2 float64 // CO2 dissociation: c = kCO2·p + cCO2
	capO2, kO2 float64 // O2 dissociation: c = capO2·(1 - exp(-kO2·p))²

	shunt              float64
	paCO2Min, paO2Max  float64
	dsCO2, dsO2        float64
	vTisCO2, vCapCO2   float64
	vTisO2, vCapO2     float64
	mTisCO2, mCapCO2   float64
	mTisO2, mCapO2     float64
	samplingFlowFactor float64
}

func (g *gasParams) refresh(s *Store) error {
	r := reader{s: s}
	g.fiO2 = r.get(pGasFIO2)
	g.fiCO2 = r.get(pGasFICO2)
	g.vD = r.get(pGasVD)
	g.vA = r.get(pGasVA)
	g.kCO2 = r.get(pGasKCO2)
	g.cCO2 = r.get(pGasKcCO2)
	g.capO2 = r.get(pDerivedKO2)
	g.kO2 = r.get(pGasKcO2)
	g.shunt = r.get(pGasShunt)
	g.paCO2Min = r.get(pGasPaCO2Min)
	g.paO2Max = r.get(pGasPaO2Max)
	g.dsCO2 = r.get(pGasDSCO2)
	g.dsO2 = r.get(pGasDSO2)
	g.vTisCO2 = r.get(pGasVStisCO2)
	g.vCapCO2 = r.get(pGasVScapCO2)
	g.vTisO2 = r.get(pGasVStisO2)
	g.vCapO2 = r.get(pGasVScapO2)
	g.mTisCO2 = r.get(pDerivedMTisCO2)
	g.mCapCO2 = r.get(pDerivedMCapCO2)
	g.mTisO2 = r.get(pDerivedMTisO2)
	g.mCapO2 = r.get(pDerivedMCapO2)
	g.samplingFlowFactor = r.get(pSamplingFlow)
	if r.err != nil {
		return r.err
	}
	for name, v := range map[string]float64{
		pGasVD: g.vD, pGasVA: g.vA,
		pGasVStisCO2: g.vTisCO2, pGasVScapCO2: g.vCapCO2,
		pGasVStisO2: g.vTisO2, pGasVScapO2: g.vCapO2,
		pGasPaCO2Min: g.paCO2Min,
	} {
		if v <= 0 {
			return &ConfigurationError{Parameter: name, Reason: "must be positive"}
		}
	}
	if g.shunt < 0 || g.shunt >= 1 {
		return &ConfigurationError{Parameter: pGasShunt, Reason: "must be within [0, 1)"}
	}
	return nil
}

// arterialCO2 is the CO2 content (L/L) at partial pressure p. p is floored at the
// physiologic minimum before use.
func (g *gasParams) arterialCO2(p float64) float64 {
	return g.kCO2*math.Max(p, g.paCO2Min) + g.cCO2
}

// arterialO2 is the O2 content (L/L) at partial pressure p, clamped to [0, PaO2_max].
func (g *gasParams) arterialO2(p float64) float64 {
	p = clampFloat(p, 0, g.paO2Max)
	s := 1 - math.Exp(-g.kO2*p)
	return g.capO2 * s * s
}

// saturation is the oxygen saturation (%) of arterial blood after venous admixture
// through the shunt.
func (g *gasParams) saturation(x []float64) float64 {
	if g.capO2 <= 0 {
		return 0
	}
	mixed := (1-g.shunt)*g.arterialO2(x[xPAO2]) + g.shunt*x[xScapO2]
	return clampFloat(100*mixed/g.capO2, 0, 100)
}

// endTidalCO2 is the CO2 partial pressure (mmHg) of the gas at the mouth.
func endTidalCO2(x []float64) float64 {
	return x[xFDCO2] * dryBarometric
}

// gasDerivatives writes the dead-space, alveolar, tissue and capillary derivatives.
// mouth and alveolar are airflows (L/s), pulmonary and systemic are blood flows (L/s).
// Inspiration is decided by the direction of flow at the mouth: inspired gas fills
// the dead space and dead-space gas is carried into the alveoli; on expiration
// alveolar gas washes the dead space out.
func (g *gasParams) gasDerivatives(x []float64, mouth, alveolar, pulmonary, systemic float64, dx []float64) {
	fdO2, fdCO2 := x[xFDO2], x[xFDCO2]
	paCO2, paO2 := x[xPACO2], x[xPAO2]

	caCO2 := g.arterialCO2(paCO2)
	caO2 := g.arterialO2(paO2)
	// Mixed venous blood returning to the lungs is taken from the systemic capillaries.
	cvCO2 := x[xScapCO2]
	cvO2 := x[xScapO2]

	perfusion := bloodGasBTPS * pulmonary * (1 - g.shunt)
	if mouth > 0 {
		dx[xFDO2] = mouth * (g.fiO2 - fdO2) / g.vD
		dx[xFDCO2] = mouth * (g.fiCO2 - fdCO2) / g.vD
		inflow := math.Max(alveolar, 0)
		dx[xPACO2] = (perfusion*(cvCO2-caCO2) + inflow*(fdCO2*dryBarometric-paCO2)) / g.vA
		dx[xPAO2] = (perfusion*(cvO2-caO2) + inflow*(fdO2*dryBarometric-paO2)) / g.vA
	} else {
		outflow := math.Max(-alveolar, 0)
		dx[xFDO2] = outflow * (paO2/dryBarometric - fdO2) / g.vD
		dx[xFDCO2] = outflow * (paCO2/dryBarometric - fdCO2) / g.vD
		dx[xPACO2] = perfusion * (cvCO2 - caCO2) / g.vA
		dx[xPAO2] = perfusion * (cvO2 - caO2) / g.vA
	}

	tisCO2, capCO2 := x[xStisCO2], x[xScapCO2]
	tisO2, capO2 := x[xStisO2], x[xScapO2]
	dx[xStisCO2] = (g.mTisCO2 - g.dsCO2*(tisCO2-capCO2)) / g.vTisCO2
	dx[xScapCO2] = (systemic*(caCO2-capCO2) + g.dsCO2*(tisCO2-capCO2) + g.mCapCO2) / g.vCapCO2
	dx[xStisO2] = (g.mTisO2 - g.dsO2*(tisO2-capO2)) / g.vTisO2
	dx[xScapO2] = (systemic*(caO2-capO2) + g.dsO2*(tisO2-capO2) + g.mCapO2) / g.vCapO2
}

// systemicFlow converts the systemic arterial outflow (mL/s) to tissue blood flow
// (L/s) for the perfusion regime.
func (g *gasParams) systemicFlow(f float64, mode PerfusionMode) float64 {
	q := math.Max(f, 0) / 1000
	if mode == PerfusionBloodSampling {
		q *= g.samplingFlowFactor
	}
	return q
}
