package pipeline

import (
	"fmt"
	"math"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/colormap"
)

const (
	defaultAlphaCoverageThreshold      = 0.05
	categoricalPtypeAlphaThreshold     = 0.002
	defaultValueNodataFractionMax      = 0.95
	categoricalPtypeValueNodataFracMax = 0.998
	physicalRangeSlack                = 0.20
)

// gate2Input bundles everything Gate 2 (spec.md section 4.7) needs, built
// entirely from the in-memory arrays the pipeline already produced — no
// re-read from disk.
type gate2Input struct {
	RGBA              []colormap.RGBA
	Value             []float32
	Kind              capabilities.VariableKind
	CategoricalPtype  bool
	AllowDryFrame     bool
	DeclaredMin       *float64
	DeclaredMax       *float64
}

// gate2 runs spec.md section 4.7's joint RGBA/value pixel-sanity checks.
// It returns hard violations (any of which rejects the frame) and
// non-fatal warnings (range-plausibility only).
func gate2(in gate2Input) (violations, warnings []string) {
	if len(in.RGBA) == 0 {
		return []string{"gate2: empty RGBA raster"}, nil
	}

	alphaThreshold := defaultAlphaCoverageThreshold
	if in.CategoricalPtype {
		alphaThreshold = categoricalPtypeAlphaThreshold
	}
	if in.AllowDryFrame {
		alphaThreshold = 0
	}

	validCount := 0
	var bandSets [3]map[uint8]struct{}
	for i := range bandSets {
		bandSets[i] = map[uint8]struct{}{}
	}
	for _, px := range in.RGBA {
		if px.A != 255 {
			continue
		}
		validCount++
		bandSets[0][px.R] = struct{}{}
		bandSets[1][px.G] = struct{}{}
		bandSets[2][px.B] = struct{}{}
	}
	coverage := float64(validCount) / float64(len(in.RGBA))
	if coverage < alphaThreshold {
		violations = append(violations, fmt.Sprintf("alpha coverage %.4f below threshold %.4f", coverage, alphaThreshold))
	}
	if !in.AllowDryFrame {
		for i, set := range bandSets {
			if len(set) < 2 {
				violations = append(violations, fmt.Sprintf("band %d has fewer than 2 distinct values where alpha is valid", i+1))
			}
		}
	}

	nodataThreshold := defaultValueNodataFractionMax
	if in.CategoricalPtype {
		nodataThreshold = categoricalPtypeValueNodataFracMax
	}
	nanCount := 0
	vmin, vmax := math.Inf(1), math.Inf(-1)
	for _, v := range in.Value {
		fv := float64(v)
		if math.IsNaN(fv) {
			nanCount++
			continue
		}
		if fv < vmin {
			vmin = fv
		}
		if fv > vmax {
			vmax = fv
		}
	}
	if len(in.Value) > 0 {
		nodataFraction := float64(nanCount) / float64(len(in.Value))
		if nodataFraction > nodataThreshold {
			violations = append(violations, fmt.Sprintf("value raster nodata fraction %.4f exceeds threshold %.4f", nodataFraction, nodataThreshold))
		}
	}
	if !in.AllowDryFrame && nanCount < len(in.Value) && vmin == vmax {
		violations = append(violations, "value raster min equals max")
	}

	if in.Kind == capabilities.KindContinuous && in.DeclaredMin != nil && in.DeclaredMax != nil && nanCount < len(in.Value) {
		span := *in.DeclaredMax - *in.DeclaredMin
		lo := *in.DeclaredMin - physicalRangeSlack*span
		hi := *in.DeclaredMax + physicalRangeSlack*span
		if vmin < lo || vmax > hi {
			warnings = append(warnings, fmt.Sprintf("observed range [%.3f,%.3f] outside declared range +/-20%% [%.3f,%.3f]", vmin, vmax, lo, hi))
		}
	}

	return violations, warnings
}
