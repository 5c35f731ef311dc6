package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgrid/nwxserve/internal/artifact"
	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/cogvalidate"
	"github.com/wxgrid/nwxserve/internal/colormap"
	"github.com/wxgrid/nwxserve/internal/fetch"
	"github.com/wxgrid/nwxserve/internal/grid"
)

func testRegistry() *capabilities.Registry {
	return capabilities.NewRegistry(capabilities.ModelCapability{
		ModelID:         "hrrr",
		ProductCode:     "hrrr",
		CanonicalRegion: "conus",
		TargetMetersPerPixel: map[string]float64{"conus": 3000},
		VariableCatalog: map[string]capabilities.VariableCapability{
			"temp2m": {
				VarKey: "temp2m", Kind: capabilities.KindContinuous,
				Units: "F", ConversionID: "k_to_f", ColorMapID: "temp",
				Primary:   true,
				Selectors: capabilities.Selectors{Patterns: []string{":TMP:2 m above ground:"}},
			},
			"wspd10m": {
				VarKey: "wspd10m", Kind: capabilities.KindContinuous,
				Units: "mph", ConversionID: "mps_to_mph", ColorMapID: "wind",
				Derived: true, DeriveStrategyID: "wspd10m",
				Selectors: capabilities.Selectors{Patterns: []string{":UGRD:10 m above ground:", ":VGRD:10 m above ground:"}},
			},
		},
	})
}

func testCatalog() *colormap.Catalog {
	return colormap.NewCatalog(
		colormap.NamedSpec{ID: "temp", Kind: colormap.SpecContinuous, Continuous: colormap.ContinuousSpec{
			Min: -20, Max: 110, Colors: []colormap.RGBA{{0, 0, 255, 255}, {255, 0, 0, 255}},
		}},
		colormap.NamedSpec{ID: "wind", Kind: colormap.SpecContinuous, Continuous: colormap.ContinuousSpec{
			Min: 0, Max: 80, Colors: []colormap.RGBA{{0, 0, 255, 255}, {255, 0, 0, 255}},
		}},
	)
}

func gridFixture() (grid.Affine, int, int) {
	grid.RegisterExtent("hrrr", "conus", grid.BBox{West: 0, South: 0, East: 6000, North: 6000})
	aff, height, width, err := grid.AffineAndShape(grid.BBox{West: 0, South: 0, East: 6000, North: 6000}, 3000)
	if err != nil {
		panic(err)
	}
	return aff, height, width
}

type fakeFetcher struct {
	decoded map[string]fetch.Decoded
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Decoded, error) {
	if f.err != nil {
		return fetch.Decoded{}, f.err
	}
	d, ok := f.decoded[req.Pattern]
	if !ok {
		return fetch.Decoded{}, assert.AnError
	}
	return d, nil
}

type fakeEncoder struct {
	rgbaPaths, valPaths []string
	rgbaErr, valErr     error
}

func (f *fakeEncoder) WriteRGBACOG(ctx context.Context, opts artifact.WriteRGBACOGOptions) (cogvalidate.Result, error) {
	if f.rgbaErr != nil {
		return cogvalidate.Result{}, f.rgbaErr
	}
	f.rgbaPaths = append(f.rgbaPaths, opts.Path)
	return cogvalidate.Result{}, nil
}

func (f *fakeEncoder) WriteValueCOG(ctx context.Context, opts artifact.WriteValueCOGOptions) (cogvalidate.Result, error) {
	if f.valErr != nil {
		return cogvalidate.Result{}, f.valErr
	}
	f.valPaths = append(f.valPaths, opts.Path)
	return cogvalidate.Result{}, nil
}

func constDecoded(v float32, n int, aff grid.Affine, w, h int) fetch.Decoded {
	data := make([]float32, n)
	for i := range data {
		data[i] = v + float32(i%3) // a little variety so Gate 2's distinct-value check passes
	}
	return fetch.Decoded{Data: data, Width: w, Height: h, CRS: grid.EPSG3857, Affine: aff}
}

func TestBuildFramePrimaryVariableSucceeds(t *testing.T) {
	aff, h, w := gridFixture()
	fetcher := &fakeFetcher{decoded: map[string]fetch.Decoded{
		":TMP:2 m above ground:": constDecoded(290, w*h, aff, w, h),
	}}
	enc := &fakeEncoder{}
	deps := Deps{
		Registry: testRegistry(), ColorMaps: testCatalog(),
		Fetcher: fetcher, Encoder: enc, DataRoot: t.TempDir(),
	}

	dir, ok, err := BuildFrame(context.Background(), deps, Request{Model: "hrrr", Run: "20260115_00z", VarKey: "temp2m", FH: 6})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, dir)
	assert.Len(t, enc.rgbaPaths, 1)
	assert.Len(t, enc.valPaths, 1)
}

func TestBuildFrameDerivedVariableFetchesComponents(t *testing.T) {
	aff, h, w := gridFixture()
	fetcher := &fakeFetcher{decoded: map[string]fetch.Decoded{
		":UGRD:10 m above ground:": constDecoded(3, w*h, aff, w, h),
		":VGRD:10 m above ground:": constDecoded(4, w*h, aff, w, h),
	}}
	enc := &fakeEncoder{}
	deps := Deps{
		Registry: testRegistry(), ColorMaps: testCatalog(),
		Fetcher: fetcher, Encoder: enc, DataRoot: t.TempDir(),
	}

	_, ok, err := BuildFrame(context.Background(), deps, Request{Model: "hrrr", Run: "20260115_00z", VarKey: "wspd10m", FH: 3})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBuildFrameUnknownModelFails(t *testing.T) {
	deps := Deps{Registry: testRegistry(), ColorMaps: testCatalog(), Fetcher: &fakeFetcher{}, Encoder: &fakeEncoder{}, DataRoot: t.TempDir()}
	_, ok, err := BuildFrame(context.Background(), deps, Request{Model: "nope", Run: "20260115_00z", VarKey: "temp2m", FH: 0})
	require.Error(t, err)
	assert.False(t, ok)
}

func TestBuildFrameInvalidRunIDFails(t *testing.T) {
	deps := Deps{Registry: testRegistry(), ColorMaps: testCatalog(), Fetcher: &fakeFetcher{}, Encoder: &fakeEncoder{}, DataRoot: t.TempDir()}
	_, ok, err := BuildFrame(context.Background(), deps, Request{Model: "hrrr", Run: "not-a-run", VarKey: "temp2m", FH: 0})
	require.Error(t, err)
	assert.False(t, ok)
}

func TestBuildFrameFetchFailurePropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: assert.AnError}
	deps := Deps{Registry: testRegistry(), ColorMaps: testCatalog(), Fetcher: fetcher, Encoder: &fakeEncoder{}, DataRoot: t.TempDir()}
	_, ok, err := BuildFrame(context.Background(), deps, Request{Model: "hrrr", Run: "20260115_00z", VarKey: "temp2m", FH: 0})
	require.Error(t, err)
	assert.False(t, ok)
}

func TestBuildFrameRollsBackRGBAWhenValueCOGFails(t *testing.T) {
	aff, h, w := gridFixture()
	fetcher := &fakeFetcher{decoded: map[string]fetch.Decoded{
		":TMP:2 m above ground:": constDecoded(290, w*h, aff, w, h),
	}}
	enc := &fakeEncoder{valErr: assert.AnError}
	deps := Deps{Registry: testRegistry(), ColorMaps: testCatalog(), Fetcher: fetcher, Encoder: enc, DataRoot: t.TempDir()}

	_, ok, err := BuildFrame(context.Background(), deps, Request{Model: "hrrr", Run: "20260115_00z", VarKey: "temp2m", FH: 0})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Len(t, enc.rgbaPaths, 1) // write was attempted before rollback
}
