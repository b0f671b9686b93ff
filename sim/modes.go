package sim

import "fmt"

// VentilationMode selects the airway-opening pressure source.
type VentilationMode int

const (
	// VentSpontaneous drives the lungs with the respiratory muscle pressure waveform.
	VentSpontaneous VentilationMode = iota
	// VentVolumeControlled applies a square wave sized to deliver the target tidal volume.
	VentVolumeControlled
	// VentPressureControlled applies a square wave at the configured inspiratory pressure.
	VentPressureControlled
)

var ventilationModeNames = map[VentilationMode]string{
	VentSpontaneous:        "spontaneous",
	VentVolumeControlled:   "vcv",
	VentPressureControlled: "pcv",
}

func (m VentilationMode) String() string {
	if s, ok := ventilationModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("VentilationMode(%d)", int(m))
}

// ParseVentilationMode accepts "spontaneous", "vcv" or "pcv". Empty means spontaneous.
func ParseVentilationMode(s string) (VentilationMode, error) {
	if s == "" {
		return VentSpontaneous, nil
	}
	for m, name := range ventilationModeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown ventilation mode %q; valid: spontaneous, vcv, pcv", s)
}

// PerfusionMode is the regime of systemic tissue flow and the arterial line reading.
type PerfusionMode int

const (
	PerfusionNormal PerfusionMode = iota
	// PerfusionBloodSampling models an arterial draw: tissue flow collapses and the
	// arterial line reads a fixed extreme.
	PerfusionBloodSampling
)

func (m PerfusionMode) String() string {
	switch m {
	case PerfusionNormal:
		return "normal"
	case PerfusionBloodSampling:
		return "blood-sampling"
	}
	return fmt.Sprintf("PerfusionMode(%d)", int(m))
}

// Modes groups the discrete operating switches. They are dispatched once per step and
// changed only between steps.
type Modes struct {
	Ventilation VentilationMode
	Perfusion   PerfusionMode
	Baroreflex  bool
	Chemoreflex bool
	// LeadOff marks the heart-rate measurement invalid.
	LeadOff bool
}

// DefaultModes is spontaneous breathing with both reflex loops closed.
func DefaultModes() Modes {
	return Modes{
		Ventilation: VentSpontaneous,
		Perfusion:   PerfusionNormal,
		Baroreflex:  true,
		Chemoreflex: true,
	}
}
