package sim

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Compartment indices of the cardiovascular model, in circulation order.
const (
	cAorta = iota
	cSysArt
	cSysVen
	cVenaCava
	cRA
	cRV
	cPulArt
	cPulVen
	cLA
	cLV
	numCompartments
)

// compartmentKeys name each compartment in parameter keys, e.g. "cardio_parameters.E_lv".
var compartmentKeys = [numCompartments]string{"ao", "sa", "sv", "vc", "ra", "rv", "pa", "pv", "la", "lv"}

// chambers have time-varying elastance.
var chambers = []int{cRA, cRV, cLA, cLV}

func elastanceName(c int) string    { return CategoryCardio + ".E_" + compartmentKeys[c] }
func elastanceMaxName(c int) string { return CategoryCardio + ".Emax_" + compartmentKeys[c] }
func resistanceName(c int) string   { return CategoryCardio + ".R_" + compartmentKeys[c] }
func unstressedName(c int) string   { return CategoryCardio + ".UV_" + compartmentKeys[c] }

// Parameter names read by the subsystems.
const (
	pHRn         = CategoryCardioControl + ".HR_n"
	pHRMin       = CategoryCardioControl + ".HR_min"
	pHRMax       = CategoryCardioControl + ".HR_max"
	pRn          = CategoryCardioControl + ".R_n"
	pUVn         = CategoryCardioControl + ".UV_n"
	pABPn        = CategoryCardioControl + ".ABP_n"
	pTauSetpoint = CategoryCardioControl + ".tau_setpoint"
	pBaroTz      = CategoryCardioControl + ".tz"
	pBaroTp      = CategoryCardioControl + ".tp"
	pFabMin      = CategoryCardioControl + ".fab_min"
	pFabMax      = CategoryCardioControl + ".fab_max"
	pKa          = CategoryCardioControl + ".ka"
	pFesInf      = CategoryCardioControl + ".fes_inf"
	pFes0        = CategoryCardioControl + ".fes_0"
	pKes         = CategoryCardioControl + ".kes"
	pFesMin      = CategoryCardioControl + ".fes_min"
	pFesMax      = CategoryCardioControl + ".fes_max"
	pFev0        = CategoryCardioControl + ".fev_0"
	pFevInf      = CategoryCardioControl + ".fev_inf"
	pKev         = CategoryCardioControl + ".kev"
	pFab0        = CategoryCardioControl + ".fab_0"
	pTauEs       = CategoryCardioControl + ".tau_es"
	pTauEv       = CategoryCardioControl + ".tau_ev"
	pDelayBaro   = CategoryCardioControl + ".D_baro"
	pDelayEs     = CategoryCardioControl + ".D_es"
	pDelayEv     = CategoryCardioControl + ".D_ev"
	pGHRs        = CategoryCardioControl + ".G_hr_s"
	pGHRv        = CategoryCardioControl + ".G_hr_v"
	pTauHR       = CategoryCardioControl + ".tau_hr"
	pGR          = CategoryCardioControl + ".G_r"
	pTauR        = CategoryCardioControl + ".tau_r"
	pGUV         = CategoryCardioControl + ".G_uv"
	pTauUV       = CategoryCardioControl + ".tau_uv"

	pCl       = CategoryRespiratory + ".C_l"
	pRml      = CategoryRespiratory + ".R_ml"
	pCtr      = CategoryRespiratory + ".C_tr"
	pRlt      = CategoryRespiratory + ".R_lt"
	pCb       = CategoryRespiratory + ".C_b"
	pRtb      = CategoryRespiratory + ".R_tb"
	pCA       = CategoryRespiratory + ".C_A"
	pRbA      = CategoryRespiratory + ".R_bA"
	pCcw      = CategoryRespiratory + ".C_cw"
	pVentRR   = CategoryRespiratory + ".vent_RR"
	pVentIE   = CategoryRespiratory + ".vent_IE"
	pVentPEEP = CategoryRespiratory + ".vent_PEEP"
	pVentPins = CategoryRespiratory + ".vent_P_insp"
	pVentVT   = CategoryRespiratory + ".vent_VT"

	pRR0        = CategoryRespControl + ".RR_0"
	pRRMin      = CategoryRespControl + ".RR_min"
	pRRMax      = CategoryRespControl + ".RR_max"
	pPmus0      = CategoryRespControl + ".Pmus_0"
	pIERatio    = CategoryRespControl + ".IE_ratio"
	pExpFrac    = CategoryRespControl + ".exp_time_fraction"
	pPaCO2n     = CategoryRespControl + ".PaCO2_n"
	pPaO2Thr    = CategoryRespControl + ".PaO2_thr"
	pDelayChemo = CategoryRespControl + ".D_chemo"
	pTauChemo   = CategoryRespControl + ".tau_chemo"
	pGcF        = CategoryRespControl + ".Gc_f"
	pGcA        = CategoryRespControl + ".Gc_A"
	pGoF        = CategoryRespControl + ".Go_f"
	pGoA        = CategoryRespControl + ".Go_A"
	pKO2Drive   = CategoryRespControl + ".k_O2_drive"
	pTauF       = CategoryRespControl + ".tau_f"
	pTauA       = CategoryRespControl + ".tau_A"

	pGasFIO2           = CategoryGasExchange + ".FI_O2"
	pGasFICO2          = CategoryGasExchange + ".FI_CO2"
	pGasVD             = CategoryGasExchange + ".V_D"
	pGasVA             = CategoryGasExchange + ".V_A"
	pGasHb             = CategoryGasExchange + ".Hb"
	pGasVCO2           = CategoryGasExchange + ".VCO2"
	pGasVO2            = CategoryGasExchange + ".VO2"
	pGasTissueFraction = CategoryGasExchange + ".tissue_fraction"
	pGasKCO2           = CategoryGasExchange + ".K_CO2"
	pGasKcCO2          = CategoryGasExchange + ".k_CO2"
	pGasKcO2           = CategoryGasExchange + ".k_O2"
	pGasShunt          = CategoryGasExchange + ".sh"
	pGasPaCO2Min       = CategoryGasExchange + ".PaCO2_min"
	pGasPaO2Max        = CategoryGasExchange + ".PaO2_max"
	pGasDSCO2          = CategoryGasExchange + ".D_S_CO2"
	pGasDSO2           = CategoryGasExchange + ".D_S_O2"
	pGasVStisCO2       = CategoryGasExchange + ".V_Stis_CO2"
	pGasVScapCO2       = CategoryGasExchange + ".V_Scap_CO2"
	pGasVStisO2        = CategoryGasExchange + ".V_Stis_O2"
	pGasVScapO2        = CategoryGasExchange + ".V_Scap_O2"

	pInitPACO2   = CategoryInitial + ".p_A_CO2"
	pInitPAO2    = CategoryInitial + ".p_A_O2"
	pInitStisCO2 = CategoryInitial + ".c_Stis_CO2"
	pInitScapCO2 = CategoryInitial + ".c_Scap_CO2"
	pInitStisO2  = CategoryInitial + ".c_Stis_O2"
	pInitScapO2  = CategoryInitial + ".c_Scap_O2"
	pInitFDO2    = CategoryInitial + ".FD_O2"
	pInitFDCO2   = CategoryInitial + ".FD_CO2"

	pStep             = CategoryMisc + ".T"
	pTBV              = CategoryMisc + ".TBV"
	pTemperature      = CategoryMisc + ".temperature"
	pTemperatureNoise = CategoryMisc + ".temperature_noise"
	pSamplingPressure = CategoryMisc + ".sampling_pressure"
	pSamplingFlow     = CategoryMisc + ".sampling_flow_fraction"
)

// Exported names of the runtime controls exposed to operators.
const (
	ParamFiO2             = pGasFIO2
	ParamTotalBloodVolume = pTBV
	ParamHeartRateSet     = pHRn
	ParamMAPSet           = pABPn
	ParamRespRateSet      = pRR0
	ParamTemperature      = pTemperature
	ParamStep             = pStep
)

// ModeSpec is the optional initial mode section of a profile.
type ModeSpec struct {
	Ventilation string `yaml:"ventilation,omitempty"`
	Baroreflex  *bool  `yaml:"baroreflex,omitempty"`
	Chemoreflex *bool  `yaml:"chemoreflex,omitempty"`
}

// Profile is a patient parameterization, partitioned by category.
// Loaded from YAML via LoadProfile(path).
type Profile struct {
	PatientID  string                       `yaml:"patient_id"`
	Parameters map[string]map[string]Record `yaml:"parameters"`
	Modes      ModeSpec                     `yaml:"modes,omitempty"`
}

// LoadProfile reads and parses a YAML profile.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	var p Profile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parsing profile %s", path), Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// WriteProfile serializes p to path as YAML.
func WriteProfile(path string, p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing profile: %w", err)
	}
	return nil
}

// Validate checks categories and mode names. Presence of individual parameters is
// checked when the engine is built.
func (p *Profile) Validate() error {
	if len(p.Parameters) == 0 {
		return &ConfigurationError{Reason: "profile has no parameters"}
	}
	for cat := range p.Parameters {
		if !validCategories[cat] {
			return &ConfigurationError{Parameter: cat, Reason: "unknown category", Err: ErrUnknownParameter}
		}
		if derivedCategories[cat] {
			return &ConfigurationError{Parameter: cat, Reason: "derived parameters are computed, not loaded"}
		}
	}
	if _, err := ParseVentilationMode(p.Modes.Ventilation); err != nil {
		return &ConfigurationError{Parameter: "modes.ventilation", Reason: err.Error()}
	}
	return nil
}

// Records flattens the profile into dotted names.
func (p *Profile) Records() map[string]Record {
	out := make(map[string]Record)
	for cat, params := range p.Parameters {
		for key, rec := range params {
			out[cat+"."+key] = rec
		}
	}
	return out
}

// Store builds the parameter store for this profile.
func (p *Profile) Store() (*Store, error) {
	return NewStore(p.Records())
}

// InitialModes resolves the profile's mode section over DefaultModes.
func (p *Profile) InitialModes() (Modes, error) {
	m := DefaultModes()
	v, err := ParseVentilationMode(p.Modes.Ventilation)
	if err != nil {
		return m, err
	}
	m.Ventilation = v
	if p.Modes.Baroreflex != nil {
		m.Baroreflex = *p.Modes.Baroreflex
	}
	if p.Modes.Chemoreflex != nil {
		m.Chemoreflex = *p.Modes.Chemoreflex
	}
	return m, nil
}

// Categories returns the profile's categories in sorted order.
func (p *Profile) Categories() []string {
	cats := make([]string, 0, len(p.Parameters))
	for c := range p.Parameters {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func bounded(v, lo, hi float64) Record {
	return Record{Value: v, Min: &lo, Max: &hi}
}

// DefaultProfile returns a healthy adult at rest. Units: mmHg, mL, s for the
// circulation; cmH2O, L, s for the airways; L/L for blood gas contents.
func DefaultProfile() *Profile {
	cardio := map[string]Record{}
	elastance := [numCompartments]float64{2.0, 1.0, 0.012, 0.05, 0.05, 0.05, 0.3, 0.1, 0.1, 0.08}
	resistance := [numCompartments]float64{0.05, 1.0, 0.05, 0.005, 0.003, 0.003, 0.085, 0.01, 0.002, 0.003}
	unstressed := [numCompartments]float64{120, 480, 2300, 300, 25, 40, 90, 490, 25, 30}
	for c := 0; c < numCompartments; c++ {
		key := compartmentKeys[c]
		cardio["E_"+key] = Record{Value: elastance[c]}
		cardio["R_"+key] = Record{Value: resistance[c]}
		cardio["UV_"+key] = Record{Value: unstressed[c]}
	}
	cardio["Emax_ra"] = Record{Value: 0.15}
	cardio["Emax_rv"] = Record{Value: 0.8}
	cardio["Emax_la"] = Record{Value: 0.25}
	cardio["Emax_lv"] = Record{Value: 3.0}

	return &Profile{
		PatientID: "healthy-adult",
		Parameters: map[string]map[string]Record{
			CategoryCardio: cardio,
			CategoryCardioControl: {
				"HR_n": bounded(70, 30, 180), "HR_min": {Value: 20}, "HR_max": {Value: 200},
				"R_n": {Value: 1.0}, "UV_n": {Value: 1.0},
				"ABP_n": bounded(93, 40, 160), "tau_setpoint": {Value: 5},
				"tz": {Value: 6.37}, "tp": {Value: 2.076},
				"fab_min": {Value: 2.52}, "fab_max": {Value: 47.78}, "ka": {Value: 11.758},
				"fes_inf": {Value: 2.1}, "fes_0": {Value: 16.11}, "kes": {Value: 0.0675},
				"fes_min": {Value: 1.0}, "fes_max": {Value: 60},
				"fev_0": {Value: 3.2}, "fev_inf": {Value: 6.3}, "kev": {Value: 7.06}, "fab_0": {Value: 25},
				"tau_es": {Value: 1.0}, "tau_ev": {Value: 0.5},
				"D_baro": {Value: 0.5}, "D_es": {Value: 2.0}, "D_ev": {Value: 0.2},
				"G_hr_s": {Value: 3.0}, "G_hr_v": {Value: -4.0}, "tau_hr": {Value: 2.0},
				"G_r": {Value: 0.03}, "tau_r": {Value: 6.0},
				"G_uv": {Value: -0.02}, "tau_uv": {Value: 20.0},
			},
			CategoryRespiratory: {
				"C_l": {Value: 0.00127}, "R_ml": {Value: 1.021},
				"C_tr": {Value: 0.00238}, "R_lt": {Value: 0.3369},
				"C_b": {Value: 0.0131}, "R_tb": {Value: 0.3063},
				"C_A": {Value: 0.2}, "R_bA": {Value: 0.0817},
				"C_cw": {Value: 0.2445},
				"vent_RR": bounded(14, 4, 40), "vent_IE": {Value: 0.5},
				"vent_PEEP": {Value: 5}, "vent_P_insp": {Value: 15}, "vent_VT": {Value: 0.5},
			},
			CategoryRespControl: {
				"RR_0": bounded(12, 4, 40), "RR_min": {Value: 4}, "RR_max": {Value: 40},
				"Pmus_0": {Value: -5}, "IE_ratio": {Value: 0.6}, "exp_time_fraction": {Value: 0.2},
				"PaCO2_n": {Value: 40}, "PaO2_thr": {Value: 80},
				"D_chemo": {Value: 7.0}, "tau_chemo": {Value: 2.0},
				"Gc_f": {Value: 0.1}, "Gc_A": {Value: -0.06},
				"Go_f": {Value: 0.15}, "Go_A": {Value: -0.05}, "k_O2_drive": {Value: 10},
				"tau_f": {Value: 10}, "tau_A": {Value: 8},
			},
			CategoryGasExchange: {
				"FI_O2": bounded(0.21, 0.21, 1.0), "FI_CO2": {Value: 0},
				"V_D": {Value: 0.15}, "V_A": {Value: 2.5},
				"Hb": {Value: 15}, "VCO2": {Value: 0.2}, "VO2": {Value: 0.25}, "tissue_fraction": {Value: 0.9},
				"K_CO2": {Value: 0.0057}, "k_CO2": {Value: 0.224}, "k_O2": {Value: 0.046},
				"sh": {Value: 0.02}, "PaCO2_min": {Value: 10}, "PaO2_max": {Value: 700},
				"D_S_CO2": {Value: 0.05}, "D_S_O2": {Value: 0.1},
				"V_Stis_CO2": {Value: 15}, "V_Scap_CO2": {Value: 0.25},
				"V_Stis_O2": {Value: 6}, "V_Scap_O2": {Value: 0.25},
			},
			CategoryInitial: {
				"p_A_CO2": {Value: 40}, "p_A_O2": {Value: 100},
				"c_Stis_CO2": {Value: 0.55}, "c_Scap_CO2": {Value: 0.49},
				"c_Stis_O2": {Value: 0.10}, "c_Scap_O2": {Value: 0.145},
				"FD_O2": {Value: 0.21}, "FD_CO2": {Value: 0},
			},
			CategoryMisc: {
				"T": bounded(0.01, 0.001, 0.1), "TBV": bounded(5150, 3000, 8000),
				"temperature": bounded(37.0, 30, 43), "temperature_noise": {Value: 0.02},
				"sampling_pressure": {Value: 300}, "sampling_flow_fraction": {Value: 0.05},
			},
		},
	}
}
