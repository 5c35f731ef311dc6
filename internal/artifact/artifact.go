// Package artifact implements spec.md section 4.3: writing validated COG
// files from in-memory pixel arrays. Raster creation uses godal the same
// way the teacher's cmd/mcog/mcog.go does (Create an in-memory dataset,
// Translate it to a file), while the COG-specific pyramid/compression work
// is expressed as gdal_translate/gdaladdo/gdalbuildvrt subprocess calls per
// spec.md section 9's subprocess-boundary design note, captured through
// internal/gdalproc. The just-written file is then checked by
// internal/cogvalidate (Gate 1).
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/cogvalidate"
	"github.com/wxgrid/nwxserve/internal/gdalproc"
	"github.com/wxgrid/nwxserve/internal/grid"
)

// Kind mirrors cogvalidate.Kind for callers that only import this package.
type Kind = cogvalidate.Kind

const (
	KindRGBA  = cogvalidate.KindRGBA
	KindValue = cogvalidate.KindValue
)

const (
	blockSize    = 512
	tiffCompress = "DEFLATE"
)

var overviewLevels = []int{2, 4, 8, 16}

// creationOptions returns the locked COG creation-option set, matching the
// teacher's mcog.go map-of-NAME=VALUE idiom, with COPY_SRC_OVERVIEWS added
// so the final translate inherits pre-built per-band-group overview
// pyramids instead of rebuilding one pyramid in a single pass.
func creationOptions() map[string]string {
	return map[string]string{
		"TILED":               "YES",
		"BLOCKXSIZE":          fmt.Sprintf("%d", blockSize),
		"BLOCKYSIZE":          fmt.Sprintf("%d", blockSize),
		"COMPRESS":            tiffCompress,
		"COPY_SRC_OVERVIEWS":  "YES",
	}
}

// Encoder writes validated COGs. It bundles a gdalproc.Runner so tests can
// substitute a fake without a real GDAL install.
type Encoder struct {
	Runner  gdalproc.Runner
	WorkDir string // scratch directory for intermediate files; defaults to os.TempDir()
}

func (e Encoder) workDir() string {
	if e.WorkDir != "" {
		return e.WorkDir
	}
	return os.TempDir()
}

func (e Encoder) runner() gdalproc.Runner {
	if e.Runner != nil {
		return e.Runner
	}
	return gdalproc.ExecRunner{}
}

// writeRawTIFF creates an in-memory godal dataset from bandData (one slice
// per band, in row-major pixel order) and translates it to an uncompressed,
// untiled GeoTIFF at path — the same Create-then-Translate sequence the
// teacher's mcog.go uses for format conversion, here producing the scratch
// input the subprocess COG pipeline operates on.
func writeRawTIFF(path string, bandData [][]float64, dtype godal.DataType, width, height int, affine grid.Affine, nodata float64, hasNodata bool) error {
	ds, err := godal.Create(godal.Memory, "", len(bandData), dtype, width, height)
	if err != nil {
		return fmt.Errorf("artifact: create mem dataset: %w", err)
	}
	defer ds.Close()

	if err := ds.SetProjection(grid.EPSG3857); err != nil {
		return fmt.Errorf("artifact: set projection: %w", err)
	}
	if err := ds.SetGeoTransform(affine); err != nil {
		return fmt.Errorf("artifact: set geotransform: %w", err)
	}

	bands := ds.Bands()
	for i, data := range bandData {
		if hasNodata {
			if err := bands[i].SetNoData(nodata); err != nil {
				return fmt.Errorf("artifact: set band %d nodata: %w", i+1, err)
			}
		}
		if err := bands[i].Write(0, 0, data, width, height); err != nil {
			return fmt.Errorf("artifact: write band %d: %w", i+1, err)
		}
	}

	out, err := ds.Translate(path, nil, godal.GTiff)
	if err != nil {
		return fmt.Errorf("artifact: translate raw tiff: %w", err)
	}
	return out.Close()
}

func float32ToFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

// deBandRGBA splits interleaved RGBA into four separate per-band planes.
func deBandRGBA(rgba []byte, width, height int) [][]float64 {
	n := width * height
	bands := make([][]float64, 4)
	for b := range bands {
		bands[b] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		bands[0][i] = float64(rgba[i*4+0])
		bands[1][i] = float64(rgba[i*4+1])
		bands[2][i] = float64(rgba[i*4+2])
		bands[3][i] = float64(rgba[i*4+3])
	}
	return bands
}

func tmpName(workDir, suffix string) string {
	return filepath.Join(workDir, fmt.Sprintf("nwxserve-%s%s", uuid.NewString(), suffix))
}

func cleanup(paths ...string) {
	for _, p := range paths {
		if p != "" {
			os.Remove(p)
		}
	}
}

// promote renames tmpPath to finalPath, overwriting any existing file, per
// spec.md section 9's atomic-promotion design note.
func promote(tmpPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("artifact: mkdir: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("artifact: promote: %w", err)
	}
	return nil
}

// WriteRGBACOGOptions parameterizes WriteRGBACOG.
type WriteRGBACOGOptions struct {
	RGBA       []byte // interleaved R,G,B,A uint8, len == 4*Width*Height
	Width      int
	Height     int
	Affine     grid.Affine
	Kind       capabilities.VariableKind
	Path       string
	GridMeters float64
}

// WriteRGBACOG validates shape and writes a 4-band COG, applying the
// contract-locked overview resampling policy from spec.md section 4.3:
// continuous variables get average-resampled RGB bands and a
// nearest-resampled alpha band via a two-pass build; discrete/indexed
// variables get nearest overviews on every band in one pass.
func (e Encoder) WriteRGBACOG(ctx context.Context, opts WriteRGBACOGOptions) (cogvalidate.Result, error) {
	if len(opts.RGBA) != 4*opts.Width*opts.Height {
		return cogvalidate.Result{}, fmt.Errorf("artifact: rgba length %d does not match 4*%d*%d", len(opts.RGBA), opts.Width, opts.Height)
	}

	work := e.workDir()
	raw := tmpName(work, ".tif")
	bands := deBandRGBA(opts.RGBA, opts.Width, opts.Height)
	if err := writeRawTIFF(raw, bands, godal.Byte, opts.Width, opts.Height, opts.Affine, 0, false); err != nil {
		return cogvalidate.Result{}, err
	}
	defer cleanup(raw)

	final := tmpName(work, ".tif")
	r := e.runner()

	if opts.Kind == capabilities.KindContinuous {
		rgbFile := tmpName(work, "-rgb.tif")
		alphaFile := tmpName(work, "-alpha.tif")
		defer cleanup(rgbFile, alphaFile)

		if err := gdalproc.Translate(ctx, r, gdalproc.TranslateOptions{
			Src: raw, Dst: rgbFile, ExtraSwitches: []string{"-b", "1", "-b", "2", "-b", "3"},
		}); err != nil {
			return cogvalidate.Result{}, err
		}
		if err := gdalproc.Translate(ctx, r, gdalproc.TranslateOptions{
			Src: raw, Dst: alphaFile, ExtraSwitches: []string{"-b", "4"},
		}); err != nil {
			return cogvalidate.Result{}, err
		}
		if err := gdalproc.AddOverviews(ctx, r, gdalproc.AddOverviewsOptions{
			Path: rgbFile, Resampling: gdalproc.ResamplingAverage, Levels: overviewLevels,
		}); err != nil {
			return cogvalidate.Result{}, err
		}
		if err := gdalproc.AddOverviews(ctx, r, gdalproc.AddOverviewsOptions{
			Path: alphaFile, Resampling: gdalproc.ResamplingNearest, Levels: overviewLevels,
		}); err != nil {
			return cogvalidate.Result{}, err
		}

		stack := tmpName(work, "-stack.vrt")
		defer cleanup(stack)
		if err := gdalproc.BuildVRT(ctx, r, gdalproc.BuildVRTOptions{
			Dst: stack, Sources: []string{rgbFile, alphaFile}, Separate: true,
		}); err != nil {
			return cogvalidate.Result{}, err
		}
		if err := gdalproc.Translate(ctx, r, gdalproc.TranslateOptions{
			Src: stack, Dst: final, CreationOptions: creationOptions(),
		}); err != nil {
			return cogvalidate.Result{}, err
		}
	} else {
		if err := gdalproc.AddOverviews(ctx, r, gdalproc.AddOverviewsOptions{
			Path: raw, Resampling: gdalproc.ResamplingNearest, Levels: overviewLevels,
		}); err != nil {
			return cogvalidate.Result{}, err
		}
		if err := gdalproc.Translate(ctx, r, gdalproc.TranslateOptions{
			Src: raw, Dst: final, CreationOptions: creationOptions(),
		}); err != nil {
			return cogvalidate.Result{}, err
		}
	}
	defer cleanup(final)

	f, err := os.Open(final)
	if err != nil {
		return cogvalidate.Result{}, fmt.Errorf("artifact: reopen for validation: %w", err)
	}
	res, viol := cogvalidate.Validate(f, cogvalidate.ValidateOptions{
		Kind:           cogvalidate.KindRGBA,
		ExpectedMeters: opts.GridMeters,
	})
	f.Close()
	if len(viol) > 0 {
		return cogvalidate.Result{}, fmt.Errorf("artifact: gate 1 rejected %s: %v", opts.Path, viol)
	}

	if err := promote(final, opts.Path); err != nil {
		return cogvalidate.Result{}, err
	}
	return res, nil
}

// WriteValueCOGOptions parameterizes WriteValueCOG.
type WriteValueCOGOptions struct {
	Values           []float32
	Width, Height    int
	Affine           grid.Affine
	Nodata           float64
	Path             string
	GridMeters       float64
	DownsampleFactor int
}

// WriteValueCOG writes a single-band float32 COG with nearest overviews.
// When DownsampleFactor > 1, the array is first reprojected with nearest
// resampling onto a coarser grid (meters scaled by the factor), matching
// spec.md section 4.3's downsample contract.
func (e Encoder) WriteValueCOG(ctx context.Context, opts WriteValueCOGOptions) (cogvalidate.Result, error) {
	values := opts.Values
	width, height := opts.Width, opts.Height
	affine := opts.Affine

	if opts.DownsampleFactor > 1 {
		coarseMeters := opts.GridMeters * float64(opts.DownsampleFactor)
		bbox := grid.BBox{
			West:  affine.OriginX(),
			North: affine.OriginY(),
			East:  affine.OriginX() + float64(width)*affine.PixelWidth(),
			South: affine.OriginY() - float64(height)*affine.PixelHeight(),
		}
		dstAffine, dstHeight, dstWidth, err := grid.AffineAndShape(bbox, coarseMeters)
		if err != nil {
			return cogvalidate.Result{}, fmt.Errorf("artifact: downsample shape: %w", err)
		}
		warped, err := grid.Warp(ctx, grid.WarpInput{
			Data: values, Width: width, Height: height,
			SrcWKT: grid.EPSG3857, SrcAffine: affine,
			SrcNodata: opts.Nodata, HasNodata: true,
		}, dstAffine, dstWidth, dstHeight, grid.ResamplingNearest, opts.Nodata)
		if err != nil {
			return cogvalidate.Result{}, fmt.Errorf("artifact: downsample warp: %w", err)
		}
		values, width, height, affine = warped.Data, warped.Width, warped.Height, warped.Affine
	}

	work := e.workDir()
	raw := tmpName(work, ".tif")
	if err := writeRawTIFF(raw, [][]float64{float32ToFloat64(values)}, godal.Float32, width, height, affine, opts.Nodata, true); err != nil {
		return cogvalidate.Result{}, err
	}
	defer cleanup(raw)

	r := e.runner()
	if err := gdalproc.AddOverviews(ctx, r, gdalproc.AddOverviewsOptions{
		Path: raw, Resampling: gdalproc.ResamplingNearest, Levels: overviewLevels,
	}); err != nil {
		return cogvalidate.Result{}, err
	}

	final := tmpName(work, ".tif")
	defer cleanup(final)
	if err := gdalproc.Translate(ctx, r, gdalproc.TranslateOptions{
		Src: raw, Dst: final, CreationOptions: creationOptions(),
	}); err != nil {
		return cogvalidate.Result{}, err
	}

	f, err := os.Open(final)
	if err != nil {
		return cogvalidate.Result{}, fmt.Errorf("artifact: reopen for validation: %w", err)
	}
	res, viol := cogvalidate.Validate(f, cogvalidate.ValidateOptions{
		Kind:             cogvalidate.KindValue,
		ExpectedMeters:   opts.GridMeters,
		DownsampleFactor: opts.DownsampleFactor,
	})
	f.Close()
	if len(viol) > 0 {
		return cogvalidate.Result{}, fmt.Errorf("artifact: gate 1 rejected %s: %v", opts.Path, viol)
	}

	if err := promote(final, opts.Path); err != nil {
		return cogvalidate.Result{}, err
	}
	return res, nil
}
