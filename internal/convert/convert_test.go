package convert

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKtoF(t *testing.T) {
	assert.InDelta(t, 32.0, KtoF(273.15), 1e-9)
	assert.InDelta(t, 212.0, KtoF(373.15), 1e-9)
}

func TestMpsToMph(t *testing.T) {
	assert.InDelta(t, 2.2369362920544, MpsToMph(1), 1e-9)
}

func TestMToIn(t *testing.T) {
	assert.InDelta(t, 39.3700787401575, MToIn(1), 1e-9)
}

func TestKgm2ToIn(t *testing.T) {
	assert.InDelta(t, 1.0, Kgm2ToIn(25.4), 1e-9)
}

func TestLookupPrefersConversionID(t *testing.T) {
	f, ok := Lookup("mps_to_mph", "k_to_f")
	assert.True(t, ok)
	assert.InDelta(t, 2.2369362920544, f(1), 1e-9)
}

func TestLookupFallsBackToVarKey(t *testing.T) {
	f, ok := Lookup("", "m_to_in")
	assert.True(t, ok)
	assert.InDelta(t, 39.3700787401575, f(1), 1e-9)
}

func TestLookupUnknownReturnsFalse(t *testing.T) {
	f, ok := Lookup("nonsense", "also-nonsense")
	assert.False(t, ok)
	assert.Nil(t, f)
}

func TestApplyLeavesNaNUntouched(t *testing.T) {
	data := []float32{1, float32(math.NaN()), 3}
	out := Apply(KtoF, data)
	assert.True(t, math.IsNaN(float64(out[1])))
	assert.InDelta(t, KtoF(1), float64(out[0]), 1e-6)
}

func TestApplyNilFuncIsIdentity(t *testing.T) {
	data := []float32{1, 2, 3}
	out := Apply(nil, data)
	assert.Equal(t, data, out)
}
