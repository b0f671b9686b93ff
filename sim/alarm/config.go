// Package alarm evaluates vitals against per-parameter limits with hysteresis and
// reports activation and resolution events.
package alarm

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Monitored parameter names.
const (
	HeartRate       = "HeartRate"
	MAP             = "MAP"
	SAP             = "SAP"
	DAP             = "DAP"
	SpO2            = "SpO2"
	RespiratoryRate = "RespiratoryRate"
	EtCO2           = "EtCO2"
	Temperature     = "Temperature"
)

// Threshold field names accepted by UpdateThreshold.
const (
	FieldLower        = "lower"
	FieldUpper        = "upper"
	FieldCriticalLow  = "critical_low"
	FieldCriticalHigh = "critical_high"
	FieldHysteresis   = "hysteresis"
)

// ParameterConfig holds the limits of one parameter. A value below Lower or above
// Upper raises the soft alarm; CriticalLow and CriticalHigh bound it further out.
// A raised level clears only once the value is Hysteresis inside its limit.
type ParameterConfig struct {
	Lower        float64 `yaml:"lower"`
	Upper        float64 `yaml:"upper"`
	CriticalLow  float64 `yaml:"critical_low"`
	CriticalHigh float64 `yaml:"critical_high"`
	Hysteresis   float64 `yaml:"hysteresis"`
	Enabled      bool    `yaml:"enabled"`
	Unit         string  `yaml:"unit,omitempty"`
}

// Validate checks limit ordering: critical_low ≤ lower ≤ upper ≤ critical_high and a
// non-negative hysteresis.
func (c ParameterConfig) Validate(param string) error {
	for field, v := range map[string]float64{
		FieldLower: c.Lower, FieldUpper: c.Upper,
		FieldCriticalLow: c.CriticalLow, FieldCriticalHigh: c.CriticalHigh,
		FieldHysteresis: c.Hysteresis,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigurationError{Parameter: param, Reason: fmt.Sprintf("%s is not finite", field)}
		}
	}
	if c.Lower > c.Upper {
		return &ConfigurationError{Parameter: param, Reason: fmt.Sprintf("lower %g exceeds upper %g", c.Lower, c.Upper)}
	}
	if c.CriticalLow > c.Lower {
		return &ConfigurationError{Parameter: param, Reason: fmt.Sprintf("critical_low %g exceeds lower %g", c.CriticalLow, c.Lower)}
	}
	if c.CriticalHigh < c.Upper {
		return &ConfigurationError{Parameter: param, Reason: fmt.Sprintf("critical_high %g is below upper %g", c.CriticalHigh, c.Upper)}
	}
	if c.Hysteresis < 0 {
		return &ConfigurationError{Parameter: param, Reason: fmt.Sprintf("hysteresis must be non-negative, got %g", c.Hysteresis)}
	}
	return nil
}

// withField returns a copy of c with one threshold field replaced.
func (c ParameterConfig) withField(field string, v float64) (ParameterConfig, error) {
	switch field {
	case FieldLower:
		c.Lower = v
	case FieldUpper:
		c.Upper = v
	case FieldCriticalLow:
		c.CriticalLow = v
	case FieldCriticalHigh:
		c.CriticalHigh = v
	case FieldHysteresis:
		c.Hysteresis = v
	default:
		return c, &ConfigurationError{Reason: fmt.Sprintf("unknown threshold field %q", field)}
	}
	return c, nil
}

// Config is the full alarm configuration.
type Config struct {
	Parameters map[string]ParameterConfig `yaml:"parameters"`
}

// Validate checks every parameter.
func (c Config) Validate() error {
	if len(c.Parameters) == 0 {
		return &ConfigurationError{Reason: "no parameters configured"}
	}
	for _, name := range c.Names() {
		if err := c.Parameters[name].Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the configured parameters in sorted order.
func (c Config) Names() []string {
	names := make([]string, 0, len(c.Parameters))
	for n := range c.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c Config) clone() Config {
	out := Config{Parameters: make(map[string]ParameterConfig, len(c.Parameters))}
	for n, p := range c.Parameters {
		out.Parameters[n] = p
	}
	return out
}

// LoadConfig reads an alarm configuration from YAML.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading alarm config: %w", err)
	}
	var c Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parsing alarm config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SaveConfig writes c as YAML.
func SaveConfig(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding alarm config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing alarm config: %w", err)
	}
	return nil
}
