package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultProfile_BuildsEngine(t *testing.T) {
	p := DefaultProfile()
	require.NoError(t, p.Validate())

	s, err := p.Store()
	require.NoError(t, err)
	_, err = NewEngine(s, DefaultEngineConfig())
	assert.NoError(t, err)
}

func TestProfile_WriteLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patient.yaml")
	want := DefaultProfile()
	require.NoError(t, WriteProfile(path, want))

	got, err := LoadProfile(path)

	require.NoError(t, err)
	assert.Equal(t, want.PatientID, got.PatientID)
	assert.Equal(t, want.Records(), got.Records())
}

func TestLoadProfile_UnknownField_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patient.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
patient_id: typo
parameters:
  misc_constants:
    T: {value: 0.01}
tempo: fast
`), 0644))

	_, err := LoadProfile(path)

	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadProfile_DerivedCategory_Rejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patient.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
patient_id: derived
parameters:
  derived_gas_exchange_params:
    K_O2: {value: 0.2}
`), 0644))

	_, err := LoadProfile(path)

	assert.Error(t, err)
}

func TestProfile_MissingParameter_EngineNamesIt(t *testing.T) {
	p := DefaultProfile()
	delete(p.Parameters[CategoryCardio], "E_lv")
	s, err := p.Store()
	require.NoError(t, err)

	_, err = NewEngine(s, DefaultEngineConfig())

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, elastanceName(cLV), cfgErr.Parameter)
}

func TestProfile_InitialModes(t *testing.T) {
	off := false
	p := DefaultProfile()
	p.Modes = ModeSpec{Ventilation: "pcv", Chemoreflex: &off}

	m, err := p.InitialModes()

	require.NoError(t, err)
	assert.Equal(t, VentPressureControlled, m.Ventilation)
	assert.True(t, m.Baroreflex)
	assert.False(t, m.Chemoreflex)
}

func TestProfile_Validate_UnknownVentilationMode(t *testing.T) {
	p := DefaultProfile()
	p.Modes.Ventilation = "hfov"

	assert.Error(t, p.Validate())
}
