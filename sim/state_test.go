package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistributeVolume_SumsToTotal(t *testing.T) {
	m := testModel(t)
	for _, tbv := range []float64{4500, 5150, 8000} {
		v := make([]float64, numCompartments)
		distributeVolume(&m.cv, tbv, v)

		assert.InDelta(t, tbv, sumVolumes(v), 1e-9)
		for c, vol := range v {
			assert.GreaterOrEqual(t, vol, m.cv.uv[c], "compartment %s below unstressed volume", compartmentKeys[c])
		}
	}
}

func TestAddVolume_ShiftsTotalByDelta(t *testing.T) {
	m := testModel(t)
	v := make([]float64, numCompartments)
	distributeVolume(&m.cv, 5000, v)

	addVolume(&m.cv, -500, v)

	assert.InDelta(t, 4500, sumVolumes(v), 1e-9)
}

func TestAddVolume_NeverNegative(t *testing.T) {
	m := testModel(t)
	v := make([]float64, numCompartments)
	distributeVolume(&m.cv, 4500, v)

	addVolume(&m.cv, -10000, v)

	for _, vol := range v {
		assert.GreaterOrEqual(t, vol, 0.0)
	}
}

func TestAddVolume_ClampedCompartments_RemainderFromOthers(t *testing.T) {
	m := testModel(t)
	v := make([]float64, numCompartments)
	for c := range v {
		v[c] = 1
	}
	v[cSysVen] = 3000
	before := sumVolumes(v)

	applied := addVolume(&m.cv, -1000, v)

	assert.Equal(t, -1000.0, applied)
	assert.InDelta(t, before-1000, sumVolumes(v), 1e-9)
	for _, vol := range v {
		assert.GreaterOrEqual(t, vol, 0.0)
	}
}

func TestAddVolume_MoreThanHeld_EmptiesAndReportsShortfall(t *testing.T) {
	m := testModel(t)
	v := make([]float64, numCompartments)
	distributeVolume(&m.cv, 4500, v)

	applied := addVolume(&m.cv, -10000, v)

	assert.InDelta(t, -4500, applied, 1e-9)
	assert.InDelta(t, 0, sumVolumes(v), 1e-9)
}

func TestStateNames_Complete(t *testing.T) {
	seen := map[string]bool{}
	for i, n := range StateNames {
		assert.NotEmpty(t, n, "state %d unnamed", i)
		assert.False(t, seen[n], "duplicate state name %q", n)
		seen[n] = true
	}
}
