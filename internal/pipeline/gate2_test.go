package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/colormap"
)

func rgbaGrid(n int, valid int, r1, r2 uint8) []colormap.RGBA {
	out := make([]colormap.RGBA, n)
	for i := 0; i < n; i++ {
		if i < valid {
			r := r1
			if i%2 == 0 {
				r = r2
			}
			out[i] = colormap.RGBA{R: r, G: r, B: r, A: 255}
		} else {
			out[i] = colormap.RGBA{A: 0}
		}
	}
	return out
}

func TestGate2AcceptsHealthyFrame(t *testing.T) {
	rgba := rgbaGrid(100, 100, 10, 20)
	value := make([]float32, 100)
	for i := range value {
		value[i] = float32(i)
	}
	v, w := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindContinuous})
	assert.Empty(t, v)
	assert.Empty(t, w)
}

func TestGate2RejectsLowAlphaCoverage(t *testing.T) {
	rgba := rgbaGrid(1000, 1, 10, 20) // 0.1% valid, below default 5%
	value := make([]float32, 1000)
	v, _ := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindContinuous})
	assert.NotEmpty(t, v)
}

func TestGate2RelaxesAlphaThresholdForCategoricalPtype(t *testing.T) {
	rgba := rgbaGrid(1000, 3, 10, 20) // 0.3%, above the 0.2% categorical threshold
	value := make([]float32, 1000)
	for i := range value {
		value[i] = float32(i)
	}
	v, _ := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindIndexed, CategoricalPtype: true})
	assert.Empty(t, v)
}

func TestGate2AllowsZeroCoverageForDryFrame(t *testing.T) {
	rgba := make([]colormap.RGBA, 100) // all transparent
	value := make([]float32, 100)
	for i := range value {
		value[i] = 0 // dry: a flat, fully valid zero field
	}
	v, _ := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindContinuous, AllowDryFrame: true})
	assert.Empty(t, v)
}

func TestGate2RejectsFlatBands(t *testing.T) {
	rgba := rgbaGrid(100, 100, 5, 5) // same value everywhere: only 1 distinct value
	value := make([]float32, 100)
	for i := range value {
		value[i] = float32(i)
	}
	v, _ := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindContinuous})
	assert.NotEmpty(t, v)
}

func TestGate2RejectsExcessiveNodataFraction(t *testing.T) {
	rgba := rgbaGrid(100, 100, 10, 20)
	value := make([]float32, 100)
	for i := range value {
		value[i] = float32(math.NaN())
	}
	value[0], value[1] = 1, 2
	v, _ := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindContinuous})
	assert.NotEmpty(t, v)
}

func TestGate2RejectsMinEqualsMax(t *testing.T) {
	rgba := rgbaGrid(100, 100, 10, 20)
	value := make([]float32, 100)
	for i := range value {
		value[i] = 5
	}
	v, _ := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindContinuous})
	assert.NotEmpty(t, v)
}

func TestGate2WarnsOnOutOfRangePhysicalValues(t *testing.T) {
	rgba := rgbaGrid(100, 100, 10, 20)
	value := make([]float32, 100)
	for i := range value {
		value[i] = float32(i)
	}
	value[0] = 1000 // way outside declared range
	min, max := 0.0, 70.0
	v, w := gate2(gate2Input{RGBA: rgba, Value: value, Kind: capabilities.KindContinuous, DeclaredMin: &min, DeclaredMax: &max})
	assert.Empty(t, v) // warning only, not a hard rejection
	assert.NotEmpty(t, w)
}
