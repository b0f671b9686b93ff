package sim

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Number of respiratory mechanics states and inputs.
const (
	mechStates = 5
	mechInputs = 3
)

// respParams caches the respiratory mechanics network and the breathing drive settings.
type respParams struct {
	cl, rml, ctr, rlt, cb, rtb, cA, rbA, ccw float64

	// A and B of dx/dt = A·x + B·u over the states [PL, Ptr, Pb, PA, Ppl] and the
	// inputs u = [P_ao, dPpl/dt, dPmus/dt].
	a, b *mat.Dense

	rr0, rrMin, rrMax  float64
	pmus0, ie, expFrac float64

	ventRR, ventIE, peep, pInsp, vt float64
}

func (rp *respParams) refresh(s *Store) error {
	r := reader{s: s}
	rp.cl = r.get(pCl)
	rp.rml = r.get(pRml)
	rp.ctr = r.get(pCtr)
	rp.rlt = r.get(pRlt)
	rp.cb = r.get(pCb)
	rp.rtb = r.get(pRtb)
	rp.cA = r.get(pCA)
	rp.rbA = r.get(pRbA)
	rp.ccw = r.get(pCcw)
	rp.rr0 = r.get(pRR0)
	rp.rrMin = r.get(pRRMin)
	rp.rrMax = r.get(pRRMax)
	rp.pmus0 = r.get(pPmus0)
	rp.ie = r.get(pIERatio)
	rp.expFrac = r.get(pExpFrac)
	rp.ventRR = r.get(pVentRR)
	rp.ventIE = r.get(pVentIE)
	rp.peep = r.get(pVentPEEP)
	rp.pInsp = r.get(pVentPins)
	rp.vt = r.get(pVentVT)
	if r.err != nil {
		return r.err
	}
	for name, v := range map[string]float64{
		pCl: rp.cl, pRml: rp.rml, pCtr: rp.ctr, pRlt: rp.rlt, pCb: rp.cb,
		pRtb: rp.rtb, pCA: rp.cA, pRbA: rp.rbA, pCcw: rp.ccw,
		pRR0: rp.rr0, pRRMin: rp.rrMin, pIERatio: rp.ie, pExpFrac: rp.expFrac,
		pVentRR: rp.ventRR, pVentIE: rp.ventIE,
	} {
		if v <= 0 {
			return &ConfigurationError{Parameter: name, Reason: "must be positive"}
		}
	}
	if rp.rrMin > rp.rrMax {
		return &ConfigurationError{Parameter: pRRMin, Reason: "RR_min exceeds RR_max"}
	}
	rp.a, rp.b = mechanicsMatrices(rp)
	return nil
}

// mechanicsMatrices builds the linear state-space model of the airway tree.
// Larynx, trachea, bronchi and alveoli are RC segments in series from the airway
// opening; the trachea, bronchi and alveoli are enclosed by the pleura, whose pressure
// follows lung recoil through the chest wall plus the muscle pressure.
func mechanicsMatrices(rp *respParams) (*mat.Dense, *mat.Dense) {
	a := mat.NewDense(mechStates, mechStates, []float64{
		-1/(rp.cl*rp.rml) - 1/(rp.rlt*rp.cl), 1 / (rp.rlt * rp.cl), 0, 0, 0,
		1 / (rp.rlt * rp.ctr), -1/(rp.ctr*rp.rlt) - 1/(rp.rtb*rp.ctr), 1 / (rp.rtb * rp.ctr), 0, 0,
		0, 1 / (rp.rtb * rp.cb), -1/(rp.cb*rp.rtb) - 1/(rp.rbA*rp.cb), 1 / (rp.rbA * rp.cb), 0,
		0, 0, 1 / (rp.rbA * rp.cA), -1 / (rp.cA * rp.rbA), 0,
		1 / (rp.rlt * rp.ccw), -1 / (rp.ccw * rp.rlt), 0, 0, 0,
	})
	b := mat.NewDense(mechStates, mechInputs, []float64{
		1 / (rp.rml * rp.cl), 0, 0,
		0, 1, 0,
		0, 1, 0,
		0, 1, 0,
		0, 0, 1,
	})
	return a, b
}

// mechanicsDerivatives writes dx/dt for the mechanics states given the airway-opening
// pressure and the muscle pressure rate.
func (rp *respParams) mechanicsDerivatives(x []float64, pao, dPmus float64, dx []float64) {
	state := mat.NewVecDense(mechStates, x[xPL:xPL+mechStates])
	// Pleural pressure rate is needed as an input to the enclosed segments.
	dPpl := mat.Dot(rp.a.RowView(xPpl-xPL), state) + dPmus
	u := mat.NewVecDense(mechInputs, []float64{pao, dPpl, dPmus})

	out := mat.NewVecDense(mechStates, dx[xPL:xPL+mechStates])
	var drive mat.VecDense
	drive.MulVec(rp.b, u)
	out.MulVec(rp.a, state)
	out.AddVec(out, &drive)
}

// airflow returns the flow through the mouth and into the alveoli (L/s).
func (rp *respParams) airflow(x []float64, pao float64) (mouth, alveolar float64) {
	mouth = (pao - x[xPL]) / rp.rml
	alveolar = (x[xPb] - x[xPA]) / rp.rbA
	return mouth, alveolar
}

// respiratoryRate applies the chemoreflex offset to the nominal rate.
func (rp *respParams) respiratoryRate(deltaRR float64) float64 {
	return clampFloat(rp.rr0+deltaRR, rp.rrMin, rp.rrMax)
}

// breathShape returns the rate, I:E ratio and amplitude of the next breath for the
// ventilation mode in effect.
func (rp *respParams) breathShape(mode VentilationMode, deltaRR, deltaPmus float64) (rr, ie, amp float64) {
	switch mode {
	case VentPressureControlled:
		return rp.ventRR, rp.ventIE, rp.pInsp
	case VentVolumeControlled:
		return rp.ventRR, rp.ventIE, rp.vt / rp.totalCompliance()
	default:
		return rp.respiratoryRate(deltaRR), rp.ie, rp.pmus0 + deltaPmus
	}
}

// totalCompliance is alveolar and chest-wall compliance in series (L/cmH2O).
func (rp *respParams) totalCompliance() float64 {
	return rp.cA * rp.ccw / (rp.cA + rp.ccw)
}

// ventilatorPressure is a square wave: PEEP plus drive during inspiration, PEEP
// during expiration.
func ventilatorPressure(phase, period, ie, peep, drive float64) float64 {
	if phase <= inspiratoryTime(period, ie) {
		return peep + drive
	}
	return peep
}

// musclePressure is the spontaneous respiratory muscle pressure at phase within a
// breath: a parabola reaching pmin at end inspiration, then an exponential recovery
// that returns exactly to zero at the end of the breath. expFrac sets the recovery
// time constant as a fraction of expiratory time.
func musclePressure(phase, period, ie, pmin, expFrac float64) float64 {
	ti := inspiratoryTime(period, ie)
	te := period - ti
	if phase <= ti {
		return pmin * (period*phase - phase*phase) / (ti * te)
	}
	tau := te * expFrac
	decay := math.Exp(-te / tau)
	return pmin * (math.Exp(-(phase-ti)/tau) - decay) / (1 - decay)
}

// musclePressureRate is the time derivative of musclePressure. Integrating either
// branch from the I:E boundary starts from the same pressure, pmin.
func musclePressureRate(phase, period, ie, pmin, expFrac float64) float64 {
	ti := inspiratoryTime(period, ie)
	te := period - ti
	if phase <= ti {
		return -2*pmin*phase/(ti*te) + pmin*period/(ti*te)
	}
	tau := te * expFrac
	return -pmin / (tau * (1 - math.Exp(-te/tau))) * math.Exp(-(phase-ti)/tau)
}
