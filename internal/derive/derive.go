// Package derive implements spec.md section 4.6's Derive Strategies: each
// strategy composes one or more component GRIB fetches into a single
// source-grid array, ready for the Build Pipeline's warp step. Grounded
// directly on spec.md since the teacher repo has no analogous domain
// derivation code; numeric helpers are stdlib math only, same justification
// as internal/colormap.
package derive

import (
	"context"
	"fmt"
	"math"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/convert"
	"github.com/wxgrid/nwxserve/internal/fetch"
	"github.com/wxgrid/nwxserve/internal/grid"
)

// ComponentFetcher fetches one named pattern at one forecast hour, already
// bound to a (model, product, run_time) by the caller. It is the Build
// Pipeline's narrowing of fetch.Adapter.Fetch for derive-strategy use.
type ComponentFetcher interface {
	FetchComponent(ctx context.Context, pattern string, fh int) (fetch.Decoded, error)
}

// Output is one derived field in its source grid, handed to the Build
// Pipeline's warp step (spec.md section 4.6).
type Output struct {
	Data   []float32
	Width  int
	Height int
	CRS    string
	Affine grid.Affine
}

// Strategy computes one derived variable's Output for forecast hour fh.
type Strategy func(ctx context.Context, cf ComponentFetcher, v capabilities.VariableCapability, fh int) (Output, error)

var registry = map[string]Strategy{
	"wspd10m":                         WindSpeed10m,
	"precip_total_cumulative":         PrecipTotalCumulative,
	"snowfall_total_10to1_cumulative": SnowfallCumulative,
	"radar_ptype_combo":               RadarPtypeCombo,
	"precip_ptype_blend":              PrecipPtypeBlend,
}

// Lookup resolves a derive_strategy_id to its Strategy.
func Lookup(deriveStrategyID string) (Strategy, bool) {
	s, ok := registry[deriveStrategyID]
	return s, ok
}

func fromDecoded(d fetch.Decoded) Output {
	return Output{Data: d.Data, Width: d.Width, Height: d.Height, CRS: d.CRS, Affine: d.Affine}
}

// requireMatch enforces spec.md section 4.6's "every strategy must preserve
// the source grid of its first component fetch — later-component fetches
// must match shape or the strategy fails."
func requireMatch(first, next fetch.Decoded) error {
	if next.Width != first.Width || next.Height != first.Height {
		return fmt.Errorf("derive: component shape %dx%d does not match source grid %dx%d", next.Width, next.Height, first.Width, first.Height)
	}
	return nil
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

// WindSpeed10m implements the wspd10m strategy.
func WindSpeed10m(ctx context.Context, cf ComponentFetcher, v capabilities.VariableCapability, fh int) (Output, error) {
	conv, _ := convert.Lookup(v.ConversionID, v.VarKey)
	if conv == nil {
		conv = convert.MpsToMph
	}

	if pattern, ok := v.Selectors.Hints["speed_component"]; ok && pattern != "" {
		d, err := cf.FetchComponent(ctx, pattern, fh)
		if err != nil {
			return Output{}, fmt.Errorf("derive: wspd10m: speed_component: %w", err)
		}
		out := fromDecoded(d)
		out.Data = convert.Apply(conv, out.Data)
		return out, nil
	}

	if len(v.Selectors.Patterns) < 2 {
		return Output{}, fmt.Errorf("derive: wspd10m: need u and v patterns, got %d", len(v.Selectors.Patterns))
	}
	u, err := cf.FetchComponent(ctx, v.Selectors.Patterns[0], fh)
	if err != nil {
		return Output{}, fmt.Errorf("derive: wspd10m: u component: %w", err)
	}
	vc, err := cf.FetchComponent(ctx, v.Selectors.Patterns[1], fh)
	if err != nil {
		return Output{}, fmt.Errorf("derive: wspd10m: v component: %w", err)
	}
	if err := requireMatch(u, vc); err != nil {
		return Output{}, fmt.Errorf("derive: wspd10m: %w", err)
	}

	speed := make([]float32, len(u.Data))
	for i := range speed {
		speed[i] = float32(math.Hypot(float64(u.Data[i]), float64(vc.Data[i])))
	}
	speed = convert.Apply(conv, speed)
	return Output{Data: speed, Width: u.Width, Height: u.Height, CRS: u.CRS, Affine: u.Affine}, nil
}

// stepEndpoints returns the sequence of step-endpoint forecast hours up to
// and including fh, honoring an optional coarser cadence after
// transitionFH (spec.md section 4.6's precip_total_cumulative parameters).
func stepEndpoints(fh, stepHours, transitionFH, stepHoursAfter int) []int {
	if stepHours <= 0 {
		stepHours = 1
	}
	var out []int
	cur := stepHours
	for cur <= fh {
		out = append(out, cur)
		if transitionFH > 0 && cur >= transitionFH && stepHoursAfter > 0 {
			cur += stepHoursAfter
		} else {
			cur += stepHours
		}
	}
	return out
}

func cadenceParams(hints map[string]string) (stepHours, transitionFH, stepHoursAfter int) {
	return hintInt(hints, "step_hours", 1), hintInt(hints, "step_transition_fh", 0), hintInt(hints, "step_hours_after_fh", 0)
}

// PrecipTotalCumulative implements the precip_total_cumulative strategy.
func PrecipTotalCumulative(ctx context.Context, cf ComponentFetcher, v capabilities.VariableCapability, fh int) (Output, error) {
	if len(v.Selectors.Patterns) < 1 {
		return Output{}, fmt.Errorf("derive: precip_total_cumulative: need an APCP pattern")
	}
	stepHours, transitionFH, stepHoursAfter := cadenceParams(v.Selectors.Hints)
	endpoints := stepEndpoints(fh, stepHours, transitionFH, stepHoursAfter)
	if len(endpoints) == 0 {
		return Output{}, fmt.Errorf("derive: precip_total_cumulative: no steps at or before fh%d", fh)
	}

	var first fetch.Decoded
	var sum []float64
	var everValid []bool
	for i, ep := range endpoints {
		d, err := cf.FetchComponent(ctx, v.Selectors.Patterns[0], ep)
		if err != nil {
			return Output{}, fmt.Errorf("derive: precip_total_cumulative: step fh%d: %w", ep, err)
		}
		if i == 0 {
			first = d
			sum = make([]float64, len(d.Data))
			everValid = make([]bool, len(d.Data))
		} else if err := requireMatch(first, d); err != nil {
			return Output{}, fmt.Errorf("derive: precip_total_cumulative: %w", err)
		}
		for p, val := range d.Data {
			fv := float64(val)
			if math.IsNaN(fv) || fv < 0 {
				continue
			}
			sum[p] += fv
			everValid[p] = true
		}
	}

	conv, _ := convert.Lookup(v.ConversionID, v.VarKey)
	if conv == nil {
		conv = convert.Kgm2ToIn
	}
	out := make([]float32, len(sum))
	for p := range out {
		if !everValid[p] {
			out[p] = float32(math.NaN())
			continue
		}
		out[p] = float32(conv(sum[p]))
	}
	return Output{Data: out, Width: first.Width, Height: first.Height, CRS: first.CRS, Affine: first.Affine}, nil
}

const defaultSnowLiquidRatio = 10.0
const defaultSnowMaskThreshold = 0.5
const defaultMinStepLWEKgm2 = 0.0

// SnowfallCumulative implements the snowfall_total_10to1_cumulative strategy.
func SnowfallCumulative(ctx context.Context, cf ComponentFetcher, v capabilities.VariableCapability, fh int) (Output, error) {
	if len(v.Selectors.Patterns) < 2 {
		return Output{}, fmt.Errorf("derive: snowfall_total_10to1_cumulative: need APCP and csnow patterns")
	}
	stepHours, transitionFH, stepHoursAfter := cadenceParams(v.Selectors.Hints)
	endpoints := stepEndpoints(fh, stepHours, transitionFH, stepHoursAfter)
	if len(endpoints) == 0 {
		return Output{}, fmt.Errorf("derive: snowfall_total_10to1_cumulative: no steps at or before fh%d", fh)
	}
	threshold := hintFloat(v.Selectors.Hints, "snow_mask_threshold", defaultSnowMaskThreshold)
	minStep := hintFloat(v.Selectors.Hints, "min_step_lwe_kgm2", defaultMinStepLWEKgm2)
	slr := hintFloat(v.Selectors.Hints, "snow_liquid_ratio", defaultSnowLiquidRatio)

	var first fetch.Decoded
	var sum []float64
	var everValidCategorical []bool
	for i, ep := range endpoints {
		apcp, err := cf.FetchComponent(ctx, v.Selectors.Patterns[0], ep)
		if err != nil {
			return Output{}, fmt.Errorf("derive: snowfall_total_10to1_cumulative: step fh%d APCP: %w", ep, err)
		}
		csnow, err := cf.FetchComponent(ctx, v.Selectors.Patterns[1], ep)
		if err != nil {
			return Output{}, fmt.Errorf("derive: snowfall_total_10to1_cumulative: step fh%d csnow: %w", ep, err)
		}
		if i == 0 {
			first = apcp
			sum = make([]float64, len(apcp.Data))
			everValidCategorical = make([]bool, len(apcp.Data))
		} else if err := requireMatch(first, apcp); err != nil {
			return Output{}, fmt.Errorf("derive: snowfall_total_10to1_cumulative: %w", err)
		}
		if err := requireMatch(first, csnow); err != nil {
			return Output{}, fmt.Errorf("derive: snowfall_total_10to1_cumulative: %w", err)
		}

		for p := range sum {
			mask := float64(csnow.Data[p])
			if math.IsNaN(mask) || mask < 0 || mask > 1 {
				continue // out-of-range sentinel: categorical reading invalid
			}
			everValidCategorical[p] = true
			if mask < threshold {
				continue
			}
			lwe := float64(apcp.Data[p])
			if math.IsNaN(lwe) || lwe < minStep {
				continue
			}
			sum[p] += lwe
		}
	}

	out := make([]float32, len(sum))
	for p := range out {
		if !everValidCategorical[p] {
			out[p] = float32(math.NaN())
			continue
		}
		out[p] = float32(convert.Kgm2ToIn(sum[p]) * slr)
	}
	return Output{Data: out, Width: first.Width, Height: first.Height, CRS: first.CRS, Affine: first.Affine}, nil
}

// ptypeCategories is the fixed {rain, snow, sleet, frzr} ordering used by
// radar_ptype_combo and precip_ptype_blend's component patterns (index 1..4
// following the lead measurement in index 0).
var ptypeCategories = []string{"rain", "snow", "sleet", "frzr"}

type categoryBin struct {
	offset int
	count  int
}

var defaultBins = map[string]categoryBin{
	"rain":  {offset: 0, count: 64},
	"snow":  {offset: 64, count: 64},
	"sleet": {offset: 128, count: 64},
	"frzr":  {offset: 192, count: 64},
}

func binFor(hints map[string]string, category string) categoryBin {
	b := defaultBins[category]
	b.offset = hintInt(hints, "bin_"+category+"_offset", b.offset)
	b.count = hintInt(hints, "bin_"+category+"_count", b.count)
	return b
}

// argmaxCategory returns the index (into values) of the largest finite
// value, or -1 if none are finite and positive. Ties resolve to the first
// (lowest-index) candidate, matching spec.md section 4.6's "tie -> rain"
// wording for {rain, snow, sleet, frzr} ordering.
func argmaxCategory(values []float64) int {
	best := -1
	bestVal := math.Inf(-1)
	for i, v := range values {
		if math.IsNaN(v) || v <= 0 {
			continue
		}
		if v > bestVal {
			bestVal = v
			best = i
		}
	}
	return best
}

// reassignFrzr implements "for frzr pixels that coexist with rain or snow,
// reassign to rain or snow by whichever mask is larger (tie -> rain)".
// rain and snow are indices 0 and 1 of values; frzr is index 3.
func reassignFrzr(dominant int, values []float64) int {
	const rain, snow, frzrIdx = 0, 1, 3
	if dominant != frzrIdx {
		return dominant
	}
	rainVal, snowVal := values[rain], values[snow]
	hasRain := !math.IsNaN(rainVal) && rainVal > 0
	hasSnow := !math.IsNaN(snowVal) && snowVal > 0
	switch {
	case hasRain && hasSnow:
		if snowVal > rainVal {
			return snow
		}
		return rain
	case hasRain:
		return rain
	case hasSnow:
		return snow
	default:
		return frzrIdx
	}
}

func binIndex(norm float64, b categoryBin) float32 {
	if b.count <= 1 {
		return float32(b.offset)
	}
	idx := b.offset + int(math.Round(norm*float64(b.count-1)))
	return float32(idx)
}

const defaultMinVisibleDBZ = 10.0
const reflectivityFullScaleDBZ = 70.0

// RadarPtypeCombo implements the radar_ptype_combo strategy.
func RadarPtypeCombo(ctx context.Context, cf ComponentFetcher, v capabilities.VariableCapability, fh int) (Output, error) {
	if len(v.Selectors.Patterns) < 5 {
		return Output{}, fmt.Errorf("derive: radar_ptype_combo: need reflectivity + 4 categorical patterns, got %d", len(v.Selectors.Patterns))
	}
	minVisible := hintFloat(v.Selectors.Hints, "min_visible_dbz", defaultMinVisibleDBZ)

	refl, err := cf.FetchComponent(ctx, v.Selectors.Patterns[0], fh)
	if err != nil {
		return Output{}, fmt.Errorf("derive: radar_ptype_combo: reflectivity: %w", err)
	}
	masks := make([]fetch.Decoded, len(ptypeCategories))
	for i, cat := range ptypeCategories {
		m, err := cf.FetchComponent(ctx, v.Selectors.Patterns[i+1], fh)
		if err != nil {
			return Output{}, fmt.Errorf("derive: radar_ptype_combo: %s mask: %w", cat, err)
		}
		if err := requireMatch(refl, m); err != nil {
			return Output{}, fmt.Errorf("derive: radar_ptype_combo: %w", err)
		}
		masks[i] = m
	}

	out := make([]float32, len(refl.Data))
	values := make([]float64, len(ptypeCategories))
	for p := range out {
		dbz := float64(refl.Data[p])
		if math.IsNaN(dbz) || dbz < minVisible {
			out[p] = float32(math.NaN())
			continue
		}
		for i := range masks {
			values[i] = float64(masks[i].Data[p])
		}
		dominant := argmaxCategory(values)
		if dominant < 0 {
			out[p] = float32(math.NaN())
			continue
		}
		dominant = reassignFrzr(dominant, values)
		norm := math.Min(dbz/reflectivityFullScaleDBZ, 1.0)
		out[p] = binIndex(norm, binFor(v.Selectors.Hints, ptypeCategories[dominant]))
	}
	return Output{Data: out, Width: refl.Width, Height: refl.Height, CRS: refl.CRS, Affine: refl.Affine}, nil
}

const defaultMaxRateInHr = 2.0
const secondsPerHour = 3600.0

// PrecipPtypeBlend implements the precip_ptype_blend strategy.
func PrecipPtypeBlend(ctx context.Context, cf ComponentFetcher, v capabilities.VariableCapability, fh int) (Output, error) {
	if len(v.Selectors.Patterns) < 5 {
		return Output{}, fmt.Errorf("derive: precip_ptype_blend: need rate + 4 categorical patterns, got %d", len(v.Selectors.Patterns))
	}
	maxRate := hintFloat(v.Selectors.Hints, "max_rate_inhr", defaultMaxRateInHr)

	rate, err := cf.FetchComponent(ctx, v.Selectors.Patterns[0], fh)
	if err != nil {
		return Output{}, fmt.Errorf("derive: precip_ptype_blend: rate: %w", err)
	}
	masks := make([]fetch.Decoded, len(ptypeCategories))
	for i, cat := range ptypeCategories {
		m, err := cf.FetchComponent(ctx, v.Selectors.Patterns[i+1], fh)
		if err != nil {
			return Output{}, fmt.Errorf("derive: precip_ptype_blend: %s mask: %w", cat, err)
		}
		if err := requireMatch(rate, m); err != nil {
			return Output{}, fmt.Errorf("derive: precip_ptype_blend: %w", err)
		}
		masks[i] = m
	}

	out := make([]float32, len(rate.Data))
	values := make([]float64, len(ptypeCategories))
	for p := range out {
		kgm2s := float64(rate.Data[p])
		if math.IsNaN(kgm2s) || kgm2s <= 0 {
			out[p] = float32(math.NaN())
			continue
		}
		mmPerS := kgm2s // 1 kg/m^2/s of liquid water == 1 mm/s depth rate
		inPerHr := mmPerS * secondsPerHour / 25.4 // mm/s -> mm/hr -> in/hr

		for i := range masks {
			values[i] = float64(masks[i].Data[p])
		}
		dominant := argmaxCategory(values)
		if dominant < 0 {
			out[p] = float32(math.NaN())
			continue
		}
		dominant = reassignFrzr(dominant, values)
		norm := math.Min(inPerHr/maxRate, 1.0)
		out[p] = binIndex(norm, binFor(v.Selectors.Hints, ptypeCategories[dominant]))
	}
	return Output{Data: out, Width: rate.Width, Height: rate.Height, CRS: rate.CRS, Affine: rate.Affine}, nil
}
