package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testStore builds a store from the default profile.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := DefaultProfile().Store()
	require.NoError(t, err)
	return s
}

// testEngine builds an unpaced engine over the default profile.
func testEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(testStore(t), DefaultEngineConfig(), opts...)
	require.NoError(t, err)
	return e
}

// stepFor advances e by the given simulated seconds.
func stepFor(t *testing.T, e *Engine, seconds float64) {
	t.Helper()
	n := int(seconds/e.dt + 0.5)
	for i := 0; i < n; i++ {
		require.NoError(t, e.Step())
	}
}

// testModel builds a model with fresh caches from the default profile.
func testModel(t *testing.T) *model {
	t.Helper()
	m, err := newModel(testStore(t))
	require.NoError(t, err)
	return m
}
