package grid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/wxerr"
)

func testRegistry() *capabilities.Registry {
	return capabilities.NewRegistry(capabilities.ModelCapability{
		ModelID:         "hrrr",
		CanonicalRegion: "conus",
		TargetMetersPerPixel: map[string]float64{
			"conus": 3000,
		},
		RegionAliases: map[string]string{
			"pnw": "conus",
		},
	})
}

func TestGridParamsUnknownCoverage(t *testing.T) {
	reg := testRegistry()
	_, _, err := GridParams(reg, "hrrr", "alaska")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wxerr.ErrUnknownCoverage))
}

func TestGridParamsUnconfiguredExtent(t *testing.T) {
	reg := testRegistry()
	_, _, err := GridParams(reg, "hrrr", "conus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, wxerr.ErrUnknownCoverage))
}

func TestGridParamsResolvesAliasAndExtent(t *testing.T) {
	reg := testRegistry()
	RegisterExtent("hrrr", "conus", BBox{West: -3e6, South: -2e6, East: 3e6, North: 2e6})
	defer delete(regionExtents, "hrrr/conus")

	bbox, mpp, err := GridParams(reg, "hrrr", "pnw")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, mpp)
	assert.Equal(t, BBox{West: -3e6, South: -2e6, East: 3e6, North: 2e6}, bbox)
}

func TestAffineAndShapeSnapsOutward(t *testing.T) {
	bbox := BBox{West: -100.5, South: -50.2, East: 100.3, North: 50.9}
	aff, height, width, err := AffineAndShape(bbox, 10)
	require.NoError(t, err)

	assert.Equal(t, -110.0, aff.OriginX()) // west snaps down to a multiple of 10
	assert.InDelta(t, 60.0, aff.OriginY(), 10) // north snaps up to a multiple of 10

	// invariant from spec: width*m >= east-west, height*m >= north-south
	assert.GreaterOrEqual(t, float64(width)*10, bbox.East-aff.OriginX())
	assert.GreaterOrEqual(t, float64(height)*10, aff.OriginY()-bbox.South)

	// west/north land on integer multiples of meters
	assert.Equal(t, 0.0, mod(aff.OriginX(), 10))
	assert.Equal(t, 0.0, mod(aff.OriginY(), 10))
}

func mod(v, m float64) float64 {
	q := float64(int(v / m))
	return v - q*m
}

func TestAffineAndShapeRejectsDegenerateBBox(t *testing.T) {
	_, _, _, err := AffineAndShape(BBox{West: 10, East: 5, South: 0, North: 10}, 10)
	assert.Error(t, err)
}

func TestAffineAndShapeRejectsNonPositiveMeters(t *testing.T) {
	_, _, _, err := AffineAndShape(BBox{West: 0, East: 10, South: 0, North: 10}, 0)
	assert.Error(t, err)
}

func TestResamplingFor(t *testing.T) {
	assert.Equal(t, ResamplingNearest, ResamplingFor(capabilities.KindDiscrete))
	assert.Equal(t, ResamplingNearest, ResamplingFor(capabilities.KindIndexed))
	assert.Equal(t, ResamplingBilinear, ResamplingFor(capabilities.KindContinuous))
	assert.Equal(t, ResamplingBilinear, ResamplingFor(capabilities.VariableKind("unknown")))
}

func TestWarnUnknownKindOnceLogsOnlyFirstHit(t *testing.T) {
	defer delete(unknownKindHits, "hrrr/mystery")
	ctx := context.Background()

	WarnUnknownKindOnce(ctx, "hrrr", "mystery", capabilities.VariableKind("unknown"))
	WarnUnknownKindOnce(ctx, "hrrr", "mystery", capabilities.VariableKind("unknown"))
	WarnUnknownKindOnce(ctx, "hrrr", "mystery", capabilities.VariableKind("unknown"))

	assert.Equal(t, 3, unknownKindHits["hrrr/mystery"])
}

func TestWarnUnknownKindOnceIgnoresKnownKinds(t *testing.T) {
	ctx := context.Background()
	WarnUnknownKindOnce(ctx, "hrrr", "tmp2m", capabilities.KindContinuous)
	_, tracked := unknownKindHits["hrrr/tmp2m"]
	assert.False(t, tracked)
}

func TestAffineEqual(t *testing.T) {
	a := Affine{0, 10, 0, 100, 0, -10}
	b := Affine{0.0000001, 10, 0, 100, 0, -10}
	c := Affine{1, 10, 0, 100, 0, -10}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestLonLatToWebMercatorOriginIsZero(t *testing.T) {
	x, y := LonLatToWebMercator(0, 0)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
}

func TestLonLatToWebMercatorClampsExtremeLatitude(t *testing.T) {
	_, y1 := LonLatToWebMercator(0, 89)
	_, y2 := LonLatToWebMercator(0, 85.0511287798)
	assert.InDelta(t, y1, y2, 1e-3)
}

func TestRowColInsideAndOutside(t *testing.T) {
	a := Affine{0, 10, 0, 100, 0, -10}
	row, col, ok := RowCol(a, 20, 10, 55, 45)
	require.True(t, ok)
	assert.Equal(t, 5, row)
	assert.Equal(t, 5, col)

	_, _, ok = RowCol(a, 20, 10, -5, 45)
	assert.False(t, ok)
	_, _, ok = RowCol(a, 20, 10, 55, 150)
	assert.False(t, ok)
}

func TestTileBoundsZoomZeroCoversWholeWorld(t *testing.T) {
	b := TileBounds(0, 0, 0)
	circumference := 2 * 3.14159265358979 * earthRadiusMeters
	assert.InDelta(t, -circumference/2, b.West, 1)
	assert.InDelta(t, circumference/2, b.North, 1)
	assert.InDelta(t, circumference/2, b.East, 1)
	assert.InDelta(t, -circumference/2, b.South, 1)
}

func TestTileBoundsSubdividesAtHigherZoom(t *testing.T) {
	whole := TileBounds(0, 0, 0)
	nw := TileBounds(1, 0, 0)
	assert.InDelta(t, whole.West, nw.West, 1)
	assert.InDelta(t, whole.North, nw.North, 1)
	assert.InDelta(t, (whole.West+whole.East)/2, nw.East, 1)
	assert.InDelta(t, (whole.South+whole.North)/2, nw.South, 1)
}
