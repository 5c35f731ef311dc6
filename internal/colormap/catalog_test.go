package colormap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogHasExpectedEntries(t *testing.T) {
	cat := DefaultCatalog()
	for _, id := range []string{"tmp2m", "wspd10m", "refc", "qpf6h", "radar_ptype"} {
		spec, ok := cat.Get(id)
		require.Truef(t, ok, "missing color map %q", id)
		assert.Equal(t, id, spec.ID)
	}
}

func TestDefaultCatalogAppliesTmp2mContinuous(t *testing.T) {
	cat := DefaultCatalog()
	result, err := cat.Apply("tmp2m", []float32{-20, 32, 110}, 3, 1)
	require.NoError(t, err)
	assert.Len(t, result.RGBA, 3)
}

func TestDefaultCatalogAppliesRadarPtypeIndexed(t *testing.T) {
	cat := DefaultCatalog()
	result, err := cat.Apply("radar_ptype", []float32{0, 1, 2, 3, 4}, 5, 1)
	require.NoError(t, err)
	require.Len(t, result.RGBA, 5)
	assert.Equal(t, byte(0), result.RGBA[0].A)
}

func TestDefaultCatalogUnknownID(t *testing.T) {
	cat := DefaultCatalog()
	_, err := cat.Apply("does-not-exist", nil, 0, 0)
	assert.Error(t, err)
}
