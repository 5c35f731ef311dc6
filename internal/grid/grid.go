// Package grid implements spec.md section 4.1: fixed per-(model, region)
// target extents in EPSG:3857, pixel-aligned affine transforms, and
// reprojection of source arrays onto that grid. Reprojection is delegated
// to GDAL's warp API through github.com/airbusgeo/godal, grounded on the
// teacher's cmd/mcog/mcog.go and cmd/pcogger/parallel-cogger.go dataset
// handling (godal.Open, in-memory VRT, Translate/Warp plumbing).
package grid

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/wxerr"
	"github.com/wxgrid/nwxserve/internal/wxlog"
)

// EPSG3857 is the canonical target spatial reference for every published frame.
const EPSG3857 = "EPSG:3857"

// BBox is an EPSG:3857 bounding box in meters.
type BBox struct {
	West, South, East, North float64
}

// Affine is a georeferencing transform in GDAL's 6-coefficient convention:
// Xgeo = A[0] + col*A[1] + row*A[2]; Ygeo = A[3] + col*A[4] + row*A[5].
type Affine [6]float64

// OriginX reports the affine's west edge.
func (a Affine) OriginX() float64 { return a[0] }

// OriginY reports the affine's north edge.
func (a Affine) OriginY() float64 { return a[3] }

// PixelWidth reports the affine's east-west pixel size (positive).
func (a Affine) PixelWidth() float64 { return a[1] }

// PixelHeight reports the affine's north-south pixel size (positive,
// despite GDAL's row-coefficient convention carrying a negative sign).
func (a Affine) PixelHeight() float64 { return -a[5] }

// Equal reports whether two affines match within a small epsilon, used by
// callers enforcing spec.md section 8's "identical affine across variables"
// invariant.
func (a Affine) Equal(b Affine) bool {
	const eps = 1e-6
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// Resampling selects the GDAL resampling algorithm used by Warp.
type Resampling string

const (
	ResamplingNearest  Resampling = "near"
	ResamplingBilinear Resampling = "bilinear"
)

// ResamplingFor picks nearest for discrete/indexed kinds and bilinear for
// continuous kinds, defaulting unknown kinds to bilinear (spec.md 4.1).
// This function stays pure; callers on the unknown-kind path are expected
// to also call WarnUnknownKindOnce, which owns the one-shot logging.
func ResamplingFor(kind capabilities.VariableKind) Resampling {
	switch kind {
	case capabilities.KindDiscrete, capabilities.KindIndexed:
		return ResamplingNearest
	case capabilities.KindContinuous:
		return ResamplingBilinear
	default:
		return ResamplingBilinear
	}
}

// unknownKindHits tracks how many times a given (model, var) has fallen
// through ResamplingFor's default branch, mirroring render_resampling.py's
// module-level `_warned_unknown_kind` set plus its hit counter.
var (
	unknownKindMu   sync.Mutex
	unknownKindHits = map[string]int{}
)

// WarnUnknownKindOnce logs a one-shot structured warning the first time a
// (modelID, varKey) pair resolves to an unrecognized VariableKind and falls
// through ResamplingFor's bilinear default (spec.md section 4.1: "Unknown
// kinds default to bilinear with a one-shot structured warning"). Safe to
// call on every frame; only the first hit per pair actually logs, matching
// render_resampling.py's resampling_name_for_kind.
func WarnUnknownKindOnce(ctx context.Context, modelID, varKey string, kind capabilities.VariableKind) {
	switch kind {
	case capabilities.KindContinuous, capabilities.KindDiscrete, capabilities.KindIndexed:
		return
	}

	key := modelID + "/" + varKey
	unknownKindMu.Lock()
	unknownKindHits[key]++
	hits := unknownKindHits[key]
	unknownKindMu.Unlock()
	if hits != 1 {
		return
	}
	wxlog.Sugar(ctx).Warnw("unknown variable kind, defaulting resampling to bilinear",
		"model", modelID, "var", varKey, "kind", kind)
}

// earthRadiusMeters is the spherical Web Mercator radius used by every
// EPSG:3857 tile server (same constant as the OSM/Google tile schemes).
const earthRadiusMeters = 6378137.0

// LonLatToWebMercator projects a WGS84 (lon, lat) point to EPSG:3857
// meters, clamping latitude to the projection's valid range (±85.0511)
// before projecting (spec.md section 4.9's /sample endpoint).
func LonLatToWebMercator(lon, lat float64) (x, y float64) {
	const maxLat = 85.0511287798
	if lat > maxLat {
		lat = maxLat
	}
	if lat < -maxLat {
		lat = -maxLat
	}
	x = lon * math.Pi / 180 * earthRadiusMeters
	y = math.Log(math.Tan(math.Pi/4+lat*math.Pi/360)) * earthRadiusMeters
	return x, y
}

// RowCol maps an EPSG:3857 point to the pixel row/col addressed by a
// (affine, width, height) grid, reporting ok=false when the point falls
// outside the raster.
func RowCol(a Affine, width, height int, x, y float64) (row, col int, ok bool) {
	col = int(math.Floor((x - a.OriginX()) / a.PixelWidth()))
	row = int(math.Floor((a.OriginY() - y) / a.PixelHeight()))
	if col < 0 || col >= width || row < 0 || row >= height {
		return 0, 0, false
	}
	return row, col, true
}

// TileBounds returns the EPSG:3857 bounding box of standard slippy-map tile
// (z, x, y), used by the Read API's /tiles endpoint to warp a window of the
// published RGBA raster onto the requested tile.
func TileBounds(z, x, y int) BBox {
	n := math.Exp2(float64(z))
	circumference := 2 * math.Pi * earthRadiusMeters
	tileSize := circumference / n
	west := -circumference/2 + float64(x)*tileSize
	north := circumference/2 - float64(y)*tileSize
	return BBox{West: west, South: north - tileSize, East: west + tileSize, North: north}
}

// GridParams resolves (model, region) to its fixed target bbox and
// meters-per-pixel, failing with wxerr.ErrUnknownCoverage when unconfigured
// (spec.md section 4.1).
func GridParams(reg *capabilities.Registry, modelID, region string) (BBox, float64, error) {
	m, err := reg.GetModel(modelID)
	if err != nil {
		return BBox{}, 0, err
	}
	canon, err := reg.NormalizeRegion(modelID, region)
	if err != nil {
		return BBox{}, 0, err
	}
	mpp, ok := m.TargetMetersPerPixel[canon]
	if !ok {
		return BBox{}, 0, fmt.Errorf("model %q region %q: %w", modelID, region, wxerr.ErrUnknownCoverage)
	}
	bbox, ok := regionExtents[modelID+"/"+canon]
	if !ok {
		return BBox{}, 0, fmt.Errorf("model %q region %q: %w", modelID, region, wxerr.ErrUnknownCoverage)
	}
	return bbox, mpp, nil
}

// regionExtents holds the fixed EPSG:3857 bounding box for each configured
// (model, canonical region) pair. Populated by RegisterExtent at process
// startup, mirroring the capability registry's own construct-then-freeze
// lifecycle.
var regionExtents = map[string]BBox{}

// RegisterExtent fixes the EPSG:3857 bbox for a (model, canonical region)
// pair. Intended to be called during wiring, before any GridParams/warp
// call; not safe for concurrent use with readers.
func RegisterExtent(modelID, canonicalRegion string, bbox BBox) {
	regionExtents[modelID+"/"+canonicalRegion] = bbox
}

// AffineAndShape snaps bbox outward to integer multiples of meters and
// returns the resulting affine plus raster shape (spec.md section 4.1 and
// section 8's invariant: width*meters >= east-west, height*meters >=
// north-south, with west/north landing exactly on multiples of meters).
func AffineAndShape(bbox BBox, meters float64) (Affine, int, int, error) {
	if meters <= 0 {
		return Affine{}, 0, 0, fmt.Errorf("grid: meters-per-pixel must be positive, got %g", meters)
	}
	if bbox.East <= bbox.West || bbox.North <= bbox.South {
		return Affine{}, 0, 0, fmt.Errorf("grid: degenerate bbox %+v", bbox)
	}

	west := math.Floor(bbox.West/meters) * meters
	north := math.Ceil(bbox.North/meters) * meters
	width := int(math.Ceil((bbox.East - west) / meters))
	height := int(math.Ceil((north - bbox.South) / meters))
	if width <= 0 || height <= 0 {
		return Affine{}, 0, 0, fmt.Errorf("grid: non-positive shape (%d, %d) for bbox %+v at %g m", width, height, bbox, meters)
	}

	aff := Affine{west, meters, 0, north, 0, -meters}
	return aff, height, width, nil
}

// WarpInput bundles a source array with its georeferencing, as returned by
// the Fetch Adapter or a derive strategy.
type WarpInput struct {
	Data       []float32
	Width      int
	Height     int
	SrcWKT     string // WKT or "EPSG:n" spatial reference of the source array
	SrcAffine  Affine
	SrcNodata  float64 // NaN when the source carries no nodata sentinel
	HasNodata  bool
}

// WarpOutput is a reprojected array on the canonical target grid.
type WarpOutput struct {
	Data   []float32
	Width  int
	Height int
	Affine Affine
}

// Warp reprojects src onto the target (dstAffine, width, height) grid in
// EPSG:3857, using an in-memory MEM source dataset and an in-memory MEM
// destination dataset (no filesystem I/O), grounded on the teacher's
// in-memory godal.Open/Translate/BuildVRT usage in cmd/mcog/mcog.go.
// Warp is pure: identical inputs yield identical float32 output data
// (spec.md section 4.1's purity invariant) because GDAL's warp kernel is
// itself deterministic for a fixed algorithm and grid.
func Warp(ctx context.Context, src WarpInput, dstAffine Affine, dstWidth, dstHeight int, resampling Resampling, dstNodata float64) (WarpOutput, error) {
	if len(src.Data) != src.Width*src.Height {
		return WarpOutput{}, fmt.Errorf("grid: source data length %d does not match %dx%d", len(src.Data), src.Width, src.Height)
	}

	srcDS, err := godal.Create(godal.Memory, "", 1, godal.Float32, src.Width, src.Height)
	if err != nil {
		return WarpOutput{}, fmt.Errorf("grid: create source mem dataset: %w", err)
	}
	defer srcDS.Close()

	if err := srcDS.SetProjection(src.SrcWKT); err != nil {
		return WarpOutput{}, fmt.Errorf("grid: set source projection: %w", err)
	}
	if err := srcDS.SetGeoTransform(src.SrcAffine); err != nil {
		return WarpOutput{}, fmt.Errorf("grid: set source geotransform: %w", err)
	}
	srcBand := srcDS.Bands()[0]
	if src.HasNodata {
		if err := srcBand.SetNoData(src.SrcNodata); err != nil {
			return WarpOutput{}, fmt.Errorf("grid: set source nodata: %w", err)
		}
	}
	if err := srcBand.Write(0, 0, src.Data, src.Width, src.Height); err != nil {
		return WarpOutput{}, fmt.Errorf("grid: write source band: %w", err)
	}

	// Destination extents/shape are expressed as gdalwarp-style switches
	// rather than built by hand on a second dataset, mirroring mcog.go's
	// gdal_translate(switches) idiom: let GDAL's own warp kernel own the
	// output dataset lifecycle.
	west := dstAffine.OriginX()
	north := dstAffine.OriginY()
	south := north - float64(dstHeight)*dstAffine.PixelHeight()
	east := west + float64(dstWidth)*dstAffine.PixelWidth()

	switches := []string{
		"-t_srs", EPSG3857,
		"-te", fmt.Sprintf("%g", west), fmt.Sprintf("%g", south), fmt.Sprintf("%g", east), fmt.Sprintf("%g", north),
		"-ts", fmt.Sprintf("%d", dstWidth), fmt.Sprintf("%d", dstHeight),
		"-r", string(resampling),
		"-dstnodata", fmt.Sprintf("%g", dstNodata),
	}
	if src.HasNodata {
		switches = append(switches, "-srcnodata", fmt.Sprintf("%g", src.SrcNodata))
	}

	dstDS, err := srcDS.Warp("", switches, godal.Memory)
	if err != nil {
		return WarpOutput{}, fmt.Errorf("grid: warp: %w", err)
	}
	defer dstDS.Close()

	out := make([]float32, dstWidth*dstHeight)
	if err := dstDS.Bands()[0].Read(0, 0, out, dstWidth, dstHeight); err != nil {
		return WarpOutput{}, fmt.Errorf("grid: read warped band: %w", err)
	}

	return WarpOutput{Data: out, Width: dstWidth, Height: dstHeight, Affine: dstAffine}, nil
}
