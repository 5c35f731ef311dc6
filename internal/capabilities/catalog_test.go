package capabilities_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/colormap"
	"github.com/wxgrid/nwxserve/internal/convert"
	"github.com/wxgrid/nwxserve/internal/derive"
)

func TestDefaultRegistryHasHRRRAndGFS(t *testing.T) {
	reg := DefaultRegistry()
	models := reg.ListModels()
	require.Len(t, models, 2)

	hrrr, err := reg.GetModel("hrrr")
	require.NoError(t, err)
	assert.Equal(t, "conus", hrrr.CanonicalRegion)
	assert.Contains(t, hrrr.VariableCatalog, "wspd10m")
	assert.Contains(t, hrrr.VariableCatalog, "radar_ptype")

	gfs, err := reg.GetModel("gfs")
	require.NoError(t, err)
	assert.Equal(t, "global", gfs.CanonicalRegion)
	assert.Contains(t, gfs.VariableCatalog, "qpf6h")
}

// Every ConversionID/DeriveStrategyID the default catalog references must
// resolve in the packages that actually implement them, so a capability
// never points at a strategy that doesn't exist.
func TestDefaultRegistryReferencesResolveToRealStrategies(t *testing.T) {
	reg := DefaultRegistry()
	cmaps := colormap.DefaultCatalog()
	for _, model := range reg.ListModels() {
		for key, v := range model.VariableCatalog {
			if v.ConversionID != "" {
				_, ok := convert.Lookup(v.ConversionID, v.VarKey)
				assert.Truef(t, ok, "%s/%s: conversion %q not registered", model.ModelID, key, v.ConversionID)
			}
			if v.DeriveStrategyID != "" {
				_, ok := derive.Lookup(v.DeriveStrategyID)
				assert.Truef(t, ok, "%s/%s: derive strategy %q not registered", model.ModelID, key, v.DeriveStrategyID)
			}
			if v.ColorMapID != "" {
				_, ok := cmaps.Get(v.ColorMapID)
				assert.Truef(t, ok, "%s/%s: color map %q not registered", model.ModelID, key, v.ColorMapID)
			}
		}
	}
}

func TestDefaultRegistryGridParamsResolve(t *testing.T) {
	reg := DefaultRegistry()
	mpp, err := reg.GridParams("hrrr", "pnw")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, mpp)
}
