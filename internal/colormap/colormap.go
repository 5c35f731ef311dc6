// Package colormap implements spec.md section 4.2: mapping a float32 field
// to a 4-band RGBA raster via continuous-ramp, discrete-binned, or
// pre-indexed palettes. Pure arithmetic over slices — no pack repo carries
// a per-pixel LUT/colormap library, so this stays on stdlib math (see
// DESIGN.md).
package colormap

import "math"

// RGBA is a single 8-bit-per-channel color.
type RGBA struct {
	R, G, B, A uint8
}

// Kind mirrors capabilities.VariableKind without importing it, to keep this
// package dependency-free; callers convert at the boundary.
type Kind string

const (
	KindContinuous Kind = "continuous"
	KindDiscrete   Kind = "discrete"
	KindIndexed    Kind = "indexed"
)

// ContinuousSpec describes a continuous colormap: either explicit
// value->color anchors (possibly irregularly spaced) or an evenly-spaced
// ramp across [Min, Max]. Anchors take precedence when non-empty.
type ContinuousSpec struct {
	Min, Max              float64
	Anchors               []Anchor // optional: explicit value->color stops
	Colors                []RGBA   // optional: evenly-spaced ramp across [Min,Max]
	TransparentBelowMin   bool
}

// Anchor is one value->color stop for a continuous ramp.
type Anchor struct {
	Value float64
	Color RGBA
}

// DiscreteSpec describes a discrete, binned colormap: breaks must be sorted
// ascending. len(Colors) is either len(Breaks) or len(Breaks)-1.
type DiscreteSpec struct {
	Breaks              []float64
	Colors              []RGBA
	TransparentBelowMin bool // values below Breaks[0] are transparent only when true; when false (the zero value) they take Colors[0]
}

// IndexedSpec describes a pre-indexed palette: the input float value is
// already an integer palette index.
type IndexedSpec struct {
	Colors         []RGBA
	TransparentZero bool
}

// Legend is the sidecar fragment describing how a frame was colorized
// (spec.md section 4.2 / section 6 sidecar "legend" field).
type Legend struct {
	Type  string           `json:"type"` // "gradient" | "discrete"
	Stops [][2]interface{} `json:"stops"`
}

// Result is the output of applying a colormap to a field.
type Result struct {
	RGBA   []RGBA // row-major, len == width*height
	Min    *float64
	Max    *float64
	Legend Legend
}

// ApplyContinuous builds a 256-entry RGBA LUT and samples it per pixel
// (spec.md section 4.2). NaN input pixels get alpha=0. The LUT is built
// once per call; repeated calls with identical inputs are idempotent and
// pure, satisfying spec.md section 8's color-map invariant.
func ApplyContinuous(data []float32, width, height int, spec ContinuousSpec) Result {
	lut := buildContinuousLUT(spec)
	out := make([]RGBA, len(data))
	var minV, maxV float64
	haveFinite := false
	span := spec.Max - spec.Min

	for i, v := range data {
		fv := float64(v)
		if math.IsNaN(fv) {
			out[i] = RGBA{}
			continue
		}
		if !haveFinite || fv < minV {
			minV = fv
		}
		if !haveFinite || fv > maxV {
			maxV = fv
		}
		haveFinite = true

		if spec.TransparentBelowMin && fv < spec.Min {
			out[i] = RGBA{}
			continue
		}
		idx := 0
		if span != 0 {
			idx = clampIndex(int(math.Round((fv - spec.Min) / span * 255)))
		}
		c := lut[idx]
		c.A = 255
		out[i] = c
	}

	res := Result{RGBA: out, Legend: Legend{Type: "gradient"}}
	if haveFinite {
		res.Min = &minV
		res.Max = &maxV
	}
	res.Legend.Stops = continuousStops(spec)
	return res
}

func buildContinuousLUT(spec ContinuousSpec) [256]RGBA {
	var lut [256]RGBA
	if len(spec.Anchors) > 0 {
		anchors := append([]Anchor(nil), spec.Anchors...)
		for i := range lut {
			v := spec.Min + (spec.Max-spec.Min)*float64(i)/255
			lut[i] = interpolateAnchors(anchors, v)
		}
		return lut
	}
	colors := spec.Colors
	if len(colors) == 0 {
		return lut
	}
	if len(colors) == 1 {
		for i := range lut {
			lut[i] = colors[0]
		}
		return lut
	}
	n := len(colors) - 1
	for i := range lut {
		t := float64(i) / 255 * float64(n)
		lo := int(math.Floor(t))
		if lo >= n {
			lo = n - 1
		}
		hi := lo + 1
		frac := t - float64(lo)
		lut[i] = lerpColor(colors[lo], colors[hi], frac)
	}
	return lut
}

func interpolateAnchors(anchors []Anchor, v float64) RGBA {
	if v <= anchors[0].Value {
		return anchors[0].Color
	}
	last := anchors[len(anchors)-1]
	if v >= last.Value {
		return last.Color
	}
	for i := 0; i < len(anchors)-1; i++ {
		a, b := anchors[i], anchors[i+1]
		if v >= a.Value && v <= b.Value {
			span := b.Value - a.Value
			if span == 0 {
				return a.Color
			}
			frac := (v - a.Value) / span
			return lerpColor(a.Color, b.Color, frac)
		}
	}
	return last.Color
}

func lerpColor(a, b RGBA, t float64) RGBA {
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 255}
}

func clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i > 255 {
		return 255
	}
	return i
}

func continuousStops(spec ContinuousSpec) [][2]interface{} {
	if len(spec.Anchors) > 0 {
		out := make([][2]interface{}, len(spec.Anchors))
		for i, a := range spec.Anchors {
			out[i] = [2]interface{}{a.Value, hexColor(a.Color)}
		}
		return out
	}
	out := make([][2]interface{}, len(spec.Colors))
	n := len(spec.Colors)
	for i, c := range spec.Colors {
		var v float64
		if n > 1 {
			v = spec.Min + (spec.Max-spec.Min)*float64(i)/float64(n-1)
		} else {
			v = spec.Min
		}
		out[i] = [2]interface{}{v, hexColor(c)}
	}
	return out
}

func hexColor(c RGBA) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 7)
	b[0] = '#'
	put := func(off int, v uint8) {
		b[off] = hexDigits[v>>4]
		b[off+1] = hexDigits[v&0xf]
	}
	put(1, c.R)
	put(3, c.G)
	put(5, c.B)
	return string(b)
}

// ApplyDiscrete bins each finite value into digitize(v, breaks)-1, clamped
// to [0, len(colors)-1] (spec.md section 4.2, right-open bins per section 8).
func ApplyDiscrete(data []float32, spec DiscreteSpec) Result {
	out := make([]RGBA, len(data))
	var minV, maxV float64
	haveFinite := false

	for i, v := range data {
		fv := float64(v)
		if math.IsNaN(fv) {
			out[i] = RGBA{}
			continue
		}
		if !haveFinite || fv < minV {
			minV = fv
		}
		if !haveFinite || fv > maxV {
			maxV = fv
		}
		haveFinite = true

		if len(spec.Breaks) == 0 || fv < spec.Breaks[0] {
			if spec.TransparentBelowMin {
				out[i] = RGBA{}
				continue
			}
		}
		idx := digitize(fv, spec.Breaks) - 1
		if idx < 0 {
			idx = 0
		}
		if idx > len(spec.Colors)-1 {
			idx = len(spec.Colors) - 1
		}
		c := spec.Colors[idx]
		c.A = 255
		out[i] = c
	}

	res := Result{RGBA: out, Legend: Legend{Type: "discrete"}}
	if haveFinite {
		res.Min = &minV
		res.Max = &maxV
	}
	for i, b := range spec.Breaks {
		if i < len(spec.Colors) {
			res.Legend.Stops = append(res.Legend.Stops, [2]interface{}{b, hexColor(spec.Colors[i])})
		}
	}
	return res
}

// digitize returns the insertion index of v in sorted breaks, right-open:
// digitize(a_i, breaks) == i+1 so that ApplyDiscrete's idx-1 yields i for a
// value exactly equal to a breakpoint (spec.md section 8).
func digitize(v float64, breaks []float64) int {
	lo, hi := 0, len(breaks)
	for lo < hi {
		mid := (lo + hi) / 2
		if breaks[mid] <= v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ApplyIndexed rounds and clamps an integer-in-float input to a palette
// index (spec.md section 4.2).
func ApplyIndexed(data []float32, spec IndexedSpec) Result {
	out := make([]RGBA, len(data))
	for i, v := range data {
		fv := float64(v)
		if math.IsNaN(fv) {
			out[i] = RGBA{}
			continue
		}
		idx := int(math.Round(fv))
		if idx < 0 {
			idx = 0
		}
		if idx > len(spec.Colors)-1 {
			idx = len(spec.Colors) - 1
		}
		if spec.TransparentZero && idx == 0 {
			out[i] = RGBA{}
			continue
		}
		c := spec.Colors[idx]
		c.A = 255
		out[i] = c
	}
	res := Result{RGBA: out, Legend: Legend{Type: "discrete"}}
	for i, c := range spec.Colors {
		res.Legend.Stops = append(res.Legend.Stops, [2]interface{}{i, hexColor(c)})
	}
	return res
}
