package sim

// State vector layout. The order is fixed for the process lifetime; checkpoints store
// the vector positionally.
const (
	// xVolume is the first of numCompartments compartment volumes (mL).
	xVolume = 0

	// Respiratory mechanics (cmH2O): larynx, trachea, bronchi, alveoli, pleura.
	xPL  = 10
	xPtr = 11
	xPb  = 12
	xPA  = 13
	xPpl = 14

	// Gas exchange: dead-space fractions, alveolar partial pressures (mmHg),
	// systemic tissue and capillary contents (L/L).
	xFDO2    = 15
	xFDCO2   = 16
	xPACO2   = 17
	xPAO2    = 18
	xStisCO2 = 19
	xScapCO2 = 20
	xStisO2  = 21
	xScapO2  = 22

	// Baroreflex: filtered afferent pressure, filtered sympathetic and vagal
	// discharge, then the heart-rate, resistance and unstressed-volume offsets.
	xBaroP   = 23
	xFes     = 24
	xFev     = 25
	xDeltaHR = 26
	xDeltaR  = 27
	xDeltaUV = 28

	// Chemoreflex: filtered central CO2 and peripheral O2 drives, then the
	// respiratory-rate and muscle-pressure offsets.
	xChemoCO2  = 29
	xChemoO2   = 30
	xDeltaRR   = 31
	xDeltaPmus = 32

	// Muscle pressure (cmH2O) and the slow arterial pressure set-point (mmHg).
	xPmus = 33
	xPset = 34

	StateSize = 35
)

// StateNames labels each state vector entry, used in traces and checkpoints.
var StateNames = [StateSize]string{
	"V_ao", "V_sa", "V_sv", "V_vc", "V_ra", "V_rv", "V_pa", "V_pv", "V_la", "V_lv",
	"P_L", "P_tr", "P_b", "P_A", "P_pl",
	"FD_O2", "FD_CO2", "p_A_CO2", "p_A_O2",
	"c_Stis_CO2", "c_Scap_CO2", "c_Stis_O2", "c_Scap_O2",
	"baro_P", "baro_fes", "baro_fev", "delta_HR", "delta_R", "delta_UV",
	"chemo_CO2", "chemo_O2", "delta_RR", "delta_Pmus",
	"P_mus", "P_set",
}

// distributeVolume spreads total across the compartments: each starts at its
// unstressed volume and the stressed remainder is split in proportion to compliance.
// Chambers use their diastolic elastance. The result sums exactly to total.
func distributeVolume(cv *cardioParams, total float64, v []float64) {
	var uvSum, compSum float64
	for c := 0; c < numCompartments; c++ {
		uvSum += cv.uv[c]
		compSum += 1 / cv.e[c]
	}
	stressed := total - uvSum
	var sum float64
	for c := 0; c < numCompartments; c++ {
		v[c] = cv.uv[c] + stressed*(1/cv.e[c])/compSum
		sum += v[c]
	}
	// Absorb rounding in the largest reservoir.
	v[cSysVen] += total - sum
}

// addVolume distributes a change in total blood volume across the compartments in
// proportion to compliance, keeping every volume non-negative. Whatever an emptied
// compartment cannot give up is taken from the ones still holding volume. It returns
// the change actually applied, which is short of delta only when every compartment
// is empty.
func addVolume(cv *cardioParams, delta float64, v []float64) float64 {
	remaining := delta
	for pass := 0; pass < numCompartments && remaining != 0; pass++ {
		var compSum float64
		for c := 0; c < numCompartments; c++ {
			if remaining > 0 || v[c] > 0 {
				compSum += 1 / cv.e[c]
			}
		}
		if compSum == 0 {
			break
		}
		share := remaining
		remaining = 0
		for c := 0; c < numCompartments; c++ {
			if share < 0 && v[c] <= 0 {
				continue
			}
			v[c] += share * (1 / cv.e[c]) / compSum
			if v[c] < 0 {
				remaining += v[c]
				v[c] = 0
			}
		}
	}
	return delta - remaining
}

// sumVolumes returns the total circulating volume in x.
func sumVolumes(x []float64) float64 {
	var s float64
	for c := 0; c < numCompartments; c++ {
		s += x[xVolume+c]
	}
	return s
}
