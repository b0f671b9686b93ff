package sim

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Parameter categories. A parameter name is "<category>.<key>".
const (
	CategoryCardio        = "cardio_parameters"
	CategoryCardioControl = "cardio_control_params"
	CategoryRespiratory   = "respiratory_params"
	CategoryRespControl   = "respiratory_control_params"
	CategoryGasExchange   = "gas_exchange_params"
	CategoryDerivedGas    = "derived_gas_exchange_params"
	CategoryInitial       = "initial_conditions"
	CategoryMisc          = "misc_constants"
)

// validCategories is the registry of accepted name prefixes.
var validCategories = map[string]bool{
	CategoryCardio:        true,
	CategoryCardioControl: true,
	CategoryRespiratory:   true,
	CategoryRespControl:   true,
	CategoryGasExchange:   true,
	CategoryDerivedGas:    true,
	CategoryInitial:       true,
	CategoryMisc:          true,
}

// derivedCategories hold values computed from primaries; they are read-only.
var derivedCategories = map[string]bool{
	CategoryDerivedGas: true,
}

// Record is one parameter entry. Max and Min are optional bounds applied on Set.
type Record struct {
	Value float64  `yaml:"value"`
	Max   *float64 `yaml:"max,omitempty"`
	Min   *float64 `yaml:"min,omitempty"`
}

func (r Record) clamp(v float64) float64 {
	if r.Min != nil && v < *r.Min {
		v = *r.Min
	}
	if r.Max != nil && v > *r.Max {
		v = *r.Max
	}
	return v
}

// Store is the resolved parameter configuration. Only the engine mutates it, and only
// between integration steps. Every mutation bumps the generation counter so that
// subsystems holding cached copies can detect staleness.
type Store struct {
	records  map[string]Record
	baseline map[string]float64
	gen      uint64
}

// NewStore builds a store from primary records and computes the derived parameters.
// Supplied values for derived names are ignored and recomputed.
func NewStore(records map[string]Record) (*Store, error) {
	s := &Store{
		records:  make(map[string]Record, len(records)+8),
		baseline: make(map[string]float64, len(records)),
		gen:      1,
	}
	for name, rec := range records {
		cat, _, err := splitName(name)
		if err != nil {
			return nil, err
		}
		if derivedCategories[cat] {
			continue
		}
		if math.IsNaN(rec.Value) || math.IsInf(rec.Value, 0) {
			return nil, &ConfigurationError{Parameter: name, Reason: "value is not finite"}
		}
		if rec.Min != nil && rec.Max != nil && *rec.Min > *rec.Max {
			return nil, &ConfigurationError{Parameter: name, Reason: fmt.Sprintf("min %g exceeds max %g", *rec.Min, *rec.Max)}
		}
		s.records[name] = rec
		s.baseline[name] = rec.Value
	}
	if err := s.derive(); err != nil {
		return nil, err
	}
	return s, nil
}

// restoreBaselines overrides load-time baselines, used when resuming from a checkpoint.
func (s *Store) restoreBaselines(b map[string]float64) {
	for name, v := range b {
		if _, ok := s.records[name]; ok {
			s.baseline[name] = v
		}
	}
}

func splitName(name string) (string, string, error) {
	cat, key, ok := strings.Cut(name, ".")
	if !ok || key == "" {
		return "", "", &ConfigurationError{Parameter: name, Reason: "name must be <category>.<key>"}
	}
	if !validCategories[cat] {
		return "", "", &ConfigurationError{Parameter: name, Reason: fmt.Sprintf("unknown category %q", cat), Err: ErrUnknownParameter}
	}
	return cat, key, nil
}

// Get returns the current value or a ConfigurationError naming the absent parameter.
func (s *Store) Get(name string) (float64, error) {
	rec, ok := s.records[name]
	if !ok {
		return 0, missingParameter(name)
	}
	return rec.Value, nil
}

// Has reports whether name is present.
func (s *Store) Has(name string) bool {
	_, ok := s.records[name]
	return ok
}

// Resolve expands a bare key such as "HR_n" to its dotted name when exactly one
// category holds it. Dotted names are returned unchanged.
func (s *Store) Resolve(name string) (string, error) {
	return resolveName(s.Names(), name)
}

// resolveName resolves name against a sorted list of dotted names.
func resolveName(names []string, name string) (string, error) {
	if strings.Contains(name, ".") {
		return name, nil
	}
	var found []string
	for _, full := range names {
		if _, key, _ := strings.Cut(full, "."); key == name {
			found = append(found, full)
		}
	}
	switch len(found) {
	case 0:
		return "", missingParameter(name)
	case 1:
		return found[0], nil
	}
	return "", &ConfigurationError{Parameter: name, Reason: fmt.Sprintf("ambiguous key, matches %s", strings.Join(found, ", "))}
}

// Record returns the full record for name.
func (s *Store) Record(name string) (Record, bool) {
	rec, ok := s.records[name]
	return rec, ok
}

// MustHave returns an error for the first absent name.
func (s *Store) MustHave(names ...string) error {
	for _, n := range names {
		if !s.Has(n) {
			return missingParameter(n)
		}
	}
	return nil
}

// Baseline returns the value the parameter had when the store was loaded.
func (s *Store) Baseline(name string) (float64, error) {
	v, ok := s.baseline[name]
	if !ok {
		return 0, missingParameter(name)
	}
	return v, nil
}

// Set assigns a primary parameter, clamped to its bounds. Unknown names and derived
// names are rejected. Derived parameters are recomputed afterwards.
func (s *Store) Set(name string, v float64) error {
	cat, _, err := splitName(name)
	if err != nil {
		return err
	}
	if derivedCategories[cat] {
		return &ConfigurationError{Parameter: name, Reason: "derived parameters are read-only"}
	}
	rec, ok := s.records[name]
	if !ok {
		return missingParameter(name)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ConfigurationError{Parameter: name, Reason: "value is not finite"}
	}
	rec.Value = rec.clamp(v)
	s.records[name] = rec
	s.gen++
	return s.derive()
}

// Restore returns every primary to its load-time value.
func (s *Store) Restore() error {
	changed := false
	for name, b := range s.baseline {
		rec := s.records[name]
		if rec.Value != b {
			rec.Value = b
			s.records[name] = rec
			changed = true
		}
	}
	if !changed {
		return nil
	}
	s.gen++
	return s.derive()
}

// Generation is bumped on every mutation.
func (s *Store) Generation() uint64 { return s.gen }

// Names returns all parameter names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.records))
	for n := range s.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot copies every record, primaries and derived.
func (s *Store) Snapshot() map[string]Record {
	out := make(map[string]Record, len(s.records))
	for n, r := range s.records {
		out[n] = r
	}
	return out
}

// Baselines copies the load-time values of the primaries.
func (s *Store) Baselines() map[string]float64 {
	out := make(map[string]float64, len(s.baseline))
	for n, v := range s.baseline {
		out[n] = v
	}
	return out
}

// Derived parameter names.
const (
	pDerivedKO2     = CategoryDerivedGas + ".K_O2"
	pDerivedMTisCO2 = CategoryDerivedGas + ".M_tis_CO2"
	pDerivedMCapCO2 = CategoryDerivedGas + ".M_cap_CO2"
	pDerivedMTisO2  = CategoryDerivedGas + ".M_tis_O2"
	pDerivedMCapO2  = CategoryDerivedGas + ".M_cap_O2"
)

// derive recomputes the derived gas-exchange parameters from their primaries:
// oxygen capacity from hemoglobin, and the tissue/capillary split of whole-body CO2
// production and O2 consumption converted from L/min to L/s.
func (s *Store) derive() error {
	hb, err := s.Get(pGasHb)
	if err != nil {
		return err
	}
	vco2, err := s.Get(pGasVCO2)
	if err != nil {
		return err
	}
	vo2, err := s.Get(pGasVO2)
	if err != nil {
		return err
	}
	fTis, err := s.Get(pGasTissueFraction)
	if err != nil {
		return err
	}
	if fTis < 0 || fTis > 1 {
		return &ConfigurationError{Parameter: pGasTissueFraction, Reason: "must be within [0, 1]"}
	}
	co2 := vco2 / 60
	o2 := vo2 / 60
	s.records[pDerivedKO2] = Record{Value: 1.34e-2 * hb}
	s.records[pDerivedMTisCO2] = Record{Value: co2 * fTis}
	s.records[pDerivedMCapCO2] = Record{Value: co2 * (1 - fTis)}
	s.records[pDerivedMTisO2] = Record{Value: -o2 * fTis}
	s.records[pDerivedMCapO2] = Record{Value: -o2 * (1 - fTis)}
	return nil
}

// reader collects the first lookup error so subsystem refreshes can read many values
// and check once.
type reader struct {
	s   *Store
	err error
}

func (r *reader) get(name string) float64 {
	if r.err != nil {
		return 0
	}
	v, err := r.s.Get(name)
	if err != nil {
		r.err = err
	}
	return v
}
