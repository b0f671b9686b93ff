package alarm

import (
	"fmt"
	"sort"
)

// Patient profile names.
const (
	ProfileAdult     = "adult"
	ProfilePediatric = "pediatric"
	ProfileNeonatal  = "neonatal"
)

func limits(lower, upper, critLow, critHigh, hyst float64, unit string) ParameterConfig {
	return ParameterConfig{
		Lower:        lower,
		Upper:        upper,
		CriticalLow:  critLow,
		CriticalHigh: critHigh,
		Hysteresis:   hyst,
		Enabled:      true,
		Unit:         unit,
	}
}

// profiles holds the built-in limit sets.
var profiles = map[string]Config{
	ProfileAdult: {Parameters: map[string]ParameterConfig{
		HeartRate:       limits(50, 120, 40, 150, 2, "bpm"),
		MAP:             limits(65, 110, 50, 130, 2, "mmHg"),
		SAP:             limits(90, 160, 70, 200, 3, "mmHg"),
		DAP:             limits(50, 90, 40, 110, 2, "mmHg"),
		SpO2:            limits(92, 100, 85, 100, 1, "%"),
		RespiratoryRate: limits(8, 25, 5, 35, 1, "/min"),
		EtCO2:           limits(30, 45, 20, 60, 2, "mmHg"),
		Temperature:     limits(36, 38, 35, 39.5, 0.2, "°C"),
	}},
	ProfilePediatric: {Parameters: map[string]ParameterConfig{
		HeartRate:       limits(70, 140, 55, 180, 3, "bpm"),
		MAP:             limits(55, 95, 45, 115, 2, "mmHg"),
		SAP:             limits(85, 130, 70, 150, 3, "mmHg"),
		DAP:             limits(45, 80, 35, 95, 2, "mmHg"),
		SpO2:            limits(93, 100, 88, 100, 1, "%"),
		RespiratoryRate: limits(15, 35, 10, 45, 2, "/min"),
		EtCO2:           limits(30, 45, 20, 60, 2, "mmHg"),
		Temperature:     limits(36, 38, 35, 39.5, 0.2, "°C"),
	}},
	ProfileNeonatal: {Parameters: map[string]ParameterConfig{
		HeartRate:       limits(100, 180, 80, 200, 3, "bpm"),
		MAP:             limits(35, 60, 28, 70, 2, "mmHg"),
		SAP:             limits(50, 80, 40, 95, 2, "mmHg"),
		DAP:             limits(25, 50, 20, 60, 2, "mmHg"),
		SpO2:            limits(90, 98, 85, 100, 1, "%"),
		RespiratoryRate: limits(30, 60, 20, 70, 2, "/min"),
		EtCO2:           limits(30, 45, 20, 55, 2, "mmHg"),
		Temperature:     limits(36.5, 37.5, 35.5, 38.5, 0.1, "°C"),
	}},
}

// Profile returns a copy of the named built-in limit set.
func Profile(name string) (Config, error) {
	c, ok := profiles[name]
	if !ok {
		return Config{}, &ConfigurationError{Reason: fmt.Sprintf("unknown profile %q; valid: %v", name, ProfileNames())}
	}
	return c.clone(), nil
}

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultConfig is the adult profile.
func DefaultConfig() Config {
	c, _ := Profile(ProfileAdult)
	return c
}
