// Package pipeline implements spec.md section 4.7's Build Pipeline: resolve
// a capability, fetch or derive its source array, warp it onto the
// canonical grid, smooth and colorize it, encode the RGBA and value COGs,
// run Gate 2, optionally extract a contour, and write the frame sidecar.
// BuildFrame only ever writes into staging/ — promoting a run as a whole,
// updating its manifest, and flipping LATEST.json belong to
// internal/scheduler. Display smoothing (displaysmooth.go) only affects the
// RGBA colorize path; the value COG always encodes the raw warped values.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/wxgrid/nwxserve/internal/artifact"
	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/cogvalidate"
	"github.com/wxgrid/nwxserve/internal/colormap"
	"github.com/wxgrid/nwxserve/internal/convert"
	"github.com/wxgrid/nwxserve/internal/derive"
	"github.com/wxgrid/nwxserve/internal/fetch"
	"github.com/wxgrid/nwxserve/internal/gdalproc"
	"github.com/wxgrid/nwxserve/internal/grid"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/manifest"
	"github.com/wxgrid/nwxserve/internal/wxerr"
)

// Fetcher is the narrow slice of fetch.Adapter BuildFrame needs, letting
// tests substitute a fake without a real Decoder/Mirror stack.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (fetch.Decoded, error)
}

// Encoder is the narrow slice of artifact.Encoder BuildFrame needs.
// artifact.Encoder satisfies this directly; tests substitute a fake.
type Encoder interface {
	WriteRGBACOG(ctx context.Context, opts artifact.WriteRGBACOGOptions) (cogvalidate.Result, error)
	WriteValueCOG(ctx context.Context, opts artifact.WriteValueCOGOptions) (cogvalidate.Result, error)
}

// Deps bundles BuildFrame's collaborators. ContourRunner is optional: a nil
// Runner skips contour extraction for every variable, regardless of its
// contour_key/contour_interval hints.
type Deps struct {
	Registry      *capabilities.Registry
	ColorMaps     *colormap.Catalog
	Fetcher       Fetcher
	Encoder       Encoder
	ContourRunner gdalproc.Runner
	DataRoot      string
}

// Request identifies one frame to build.
type Request struct {
	Model  string
	Run    string
	VarKey string
	FH     int
}

// boundFetcher narrows a Fetcher to derive.ComponentFetcher by fixing
// (model, product, run_time), so a derive strategy only varies (pattern, fh).
type boundFetcher struct {
	fetcher Fetcher
	model   string
	product string
	runTime time.Time
}

func (b boundFetcher) FetchComponent(ctx context.Context, pattern string, fh int) (fetch.Decoded, error) {
	return b.fetcher.Fetch(ctx, fetch.Request{
		Model:        b.model,
		Product:      b.product,
		Pattern:      pattern,
		RunTime:      b.runTime,
		ForecastHour: fh,
	})
}

// sourceArray is the common shape BuildFrame needs regardless of whether it
// came from a primary fetch or a derive strategy.
type sourceArray struct {
	Data   []float32
	Width  int
	Height int
	CRS    string
	Affine grid.Affine
}

func resolveSource(ctx context.Context, deps Deps, modelCap capabilities.ModelCapability, varCap capabilities.VariableCapability, runTime time.Time, fh int) (sourceArray, error) {
	if varCap.Derived && varCap.DeriveStrategyID != "" {
		strategy, ok := derive.Lookup(varCap.DeriveStrategyID)
		if !ok {
			return sourceArray{}, fmt.Errorf("pipeline: unknown derive_strategy_id %q: %w", varCap.DeriveStrategyID, wxerr.ErrHardFailure)
		}
		bf := boundFetcher{fetcher: deps.Fetcher, model: modelCap.ModelID, product: modelCap.ProductCode, runTime: runTime}
		out, err := strategy(ctx, bf, varCap, fh)
		if err != nil {
			return sourceArray{}, err
		}
		return sourceArray{Data: out.Data, Width: out.Width, Height: out.Height, CRS: out.CRS, Affine: out.Affine}, nil
	}

	if len(varCap.Selectors.Patterns) == 0 {
		return sourceArray{}, fmt.Errorf("pipeline: variable %q declares no search patterns: %w", varCap.VarKey, wxerr.ErrHardFailure)
	}
	d, err := deps.Fetcher.Fetch(ctx, fetch.Request{
		Model:        modelCap.ModelID,
		Product:      modelCap.ProductCode,
		Pattern:      varCap.Selectors.Patterns[0],
		RunTime:      runTime,
		ForecastHour: fh,
	})
	if err != nil {
		return sourceArray{}, err
	}
	conv, _ := convert.Lookup(varCap.ConversionID, varCap.VarKey)
	data := convert.Apply(conv, d.Data)
	return sourceArray{Data: data, Width: d.Width, Height: d.Height, CRS: d.CRS, Affine: d.Affine}, nil
}

func hintInt(hints map[string]string, key string, fallback int) int {
	s, ok := hints[key]
	if !ok {
		return fallback
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func isCategoricalPtype(v capabilities.VariableCapability) bool {
	return v.Kind == capabilities.KindIndexed && (v.DeriveStrategyID == "radar_ptype_combo" || v.DeriveStrategyID == "precip_ptype_blend")
}

// declaredRange reports a continuous variable's colormap-declared [min, max]
// display range, used by Gate 2's plausibility warning.
func declaredRange(cm *colormap.Catalog, colorMapID string, kind capabilities.VariableKind) (*float64, *float64) {
	if kind != capabilities.KindContinuous {
		return nil, nil
	}
	spec, ok := cm.Get(colorMapID)
	if !ok || spec.Kind != colormap.SpecContinuous {
		return nil, nil
	}
	lo, hi := spec.Continuous.Min, spec.Continuous.Max
	return &lo, &hi
}

// flattenRGBA interleaves colormap.RGBA into the R,G,B,A uint8 byte layout
// artifact.WriteRGBACOGOptions expects.
func flattenRGBA(px []colormap.RGBA) []byte {
	out := make([]byte, 4*len(px))
	for i, c := range px {
		out[i*4+0] = c.R
		out[i*4+1] = c.G
		out[i*4+2] = c.B
		out[i*4+3] = c.A
	}
	return out
}

// BuildFrame builds one (model, run, var, fh) frame into staging/, returning
// the variable's staging directory on success. A Gate 2 rejection returns a
// non-nil error wrapping wxerr.ErrValidationRejected; this frame's staged
// RGBA and value COGs are removed before returning.
func BuildFrame(ctx context.Context, deps Deps, req Request) (string, bool, error) {
	modelCap, err := deps.Registry.GetModel(req.Model)
	if err != nil {
		return "", false, err
	}
	varCap, err := deps.Registry.GetVariable(req.Model, req.VarKey)
	if err != nil {
		return "", false, err
	}
	runTime, err := layout.ParseRunID(req.Run)
	if err != nil {
		return "", false, err
	}

	bbox, metersPerPixel, err := grid.GridParams(deps.Registry, req.Model, modelCap.CanonicalRegion)
	if err != nil {
		return "", false, err
	}
	dstAffine, height, width, err := grid.AffineAndShape(bbox, metersPerPixel)
	if err != nil {
		return "", false, err
	}

	src, err := resolveSource(ctx, deps, modelCap, varCap, runTime, req.FH)
	if err != nil {
		return "", false, err
	}

	grid.WarnUnknownKindOnce(ctx, req.Model, req.VarKey, varCap.Kind)
	resampling := grid.ResamplingFor(varCap.Kind)
	warped, err := grid.Warp(ctx, grid.WarpInput{
		Data: src.Data, Width: src.Width, Height: src.Height,
		SrcWKT: src.CRS, SrcAffine: src.Affine,
		SrcNodata: math.NaN(), HasNodata: true,
	}, dstAffine, width, height, resampling, math.NaN())
	if err != nil {
		return "", false, fmt.Errorf("pipeline: warp: %w", err)
	}

	displayData := prepareDisplayDataForColorize(warped.Data, width, height, varCap.Kind, req.Model, varCap.DisplaySmoothingSigma)
	result, err := deps.ColorMaps.Apply(varCap.ColorMapID, displayData, width, height)
	if err != nil {
		return "", false, err
	}

	runDir := layout.StagingRunDir(deps.DataRoot, req.Model, req.Run)
	varDir := layout.VariableDir(runDir, req.VarKey)
	rgbaPath := layout.FramePath(varDir, req.FH, "rgba.cog.tif")
	valPath := layout.FramePath(varDir, req.FH, "val.cog.tif")

	if _, err := deps.Encoder.WriteRGBACOG(ctx, artifact.WriteRGBACOGOptions{
		RGBA: flattenRGBA(result.RGBA), Width: width, Height: height,
		Affine: dstAffine, Kind: varCap.Kind, Path: rgbaPath, GridMeters: metersPerPixel,
	}); err != nil {
		return "", false, err
	}

	downsample := hintInt(varCap.Selectors.Hints, "hover_value_downsample_factor", 1)
	if _, err := deps.Encoder.WriteValueCOG(ctx, artifact.WriteValueCOGOptions{
		Values: warped.Data, Width: width, Height: height, Affine: dstAffine,
		Nodata: math.NaN(), Path: valPath, GridMeters: metersPerPixel, DownsampleFactor: downsample,
	}); err != nil {
		os.Remove(rgbaPath)
		return "", false, err
	}

	declMin, declMax := declaredRange(deps.ColorMaps, varCap.ColorMapID, varCap.Kind)
	violations, _ := gate2(gate2Input{
		RGBA: result.RGBA, Value: warped.Data, Kind: varCap.Kind,
		CategoricalPtype: isCategoricalPtype(varCap), AllowDryFrame: varCap.AllowDryFrame,
		DeclaredMin: declMin, DeclaredMax: declMax,
	})
	if len(violations) > 0 {
		os.Remove(rgbaPath)
		os.Remove(valPath)
		return "", false, fmt.Errorf("pipeline: %s/%s fh%d: %w: %v", req.Model, req.VarKey, req.FH, wxerr.ErrValidationRejected, violations)
	}

	contours, err := maybeBuildContours(ctx, deps, varCap, varDir, valPath, req.FH)
	if err != nil {
		os.Remove(rgbaPath)
		os.Remove(valPath)
		return "", false, err
	}

	sidecar := manifest.FrameSidecar{
		Model:                      req.Model,
		Run:                        req.Run,
		Var:                        req.VarKey,
		FH:                         req.FH,
		ValidTime:                  runTime.Add(time.Duration(req.FH) * time.Hour),
		Units:                      varCap.Units,
		Kind:                       string(varCap.Kind),
		Min:                        result.Min,
		Max:                        result.Max,
		Legend:                     result.Legend,
		HoverValueDownsampleFactor: downsample,
		Contours:                   contours,
	}
	data, err := sidecar.Marshal()
	if err != nil {
		return "", false, err
	}
	if err := layout.WriteFileAtomic(layout.FramePath(varDir, req.FH, "json"), data); err != nil {
		return "", false, err
	}

	return varDir, true, nil
}

// maybeBuildContours extracts a vector contour from the just-written value
// COG when the variable declares contour_key/contour_interval hints
// (SPEC_FULL.md section 12's supplemental contour feature). Absent either
// hint, or a nil Deps.ContourRunner, this is a no-op. The value COG is
// already reprojected to EPSG:3857 (internal/artifact writes it there), so
// the contour's declared SRS matches without any further reprojection.
func maybeBuildContours(ctx context.Context, deps Deps, varCap capabilities.VariableCapability, varDir, valPath string, fh int) (map[string]manifest.ContourRef, error) {
	if deps.ContourRunner == nil {
		return nil, nil
	}
	key, ok := varCap.Selectors.Hints["contour_key"]
	if !ok || key == "" {
		return nil, nil
	}
	interval := hintFloat(varCap.Selectors.Hints, "contour_interval", 0)
	if interval <= 0 {
		return nil, nil
	}

	dst := layout.ContourPath(varDir, fh, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: contour dir: %w", err)
	}
	if err := gdalproc.Contour(ctx, deps.ContourRunner, gdalproc.ContourOptions{
		Src: valPath, Dst: dst, Interval: interval, AttrName: "level",
	}); err != nil {
		return nil, fmt.Errorf("pipeline: contour: %w", err)
	}

	return map[string]manifest.ContourRef{
		key: {Format: "geojson", Path: dst, SRS: grid.EPSG3857, Level: interval},
	}, nil
}

func hintFloat(hints map[string]string, key string, fallback float64) float64 {
	s, ok := hints[key]
	if !ok {
		return fallback
	}
	var v float64
	if _, err := fmt.Sscanf(s, "%g", &v); err != nil {
		return fallback
	}
	return v
}
