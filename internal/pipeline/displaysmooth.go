package pipeline

import (
	"math"

	"github.com/wxgrid/nwxserve/internal/capabilities"
)

// gfsModelID is the one model original_source's display-smoothing gate
// special-cases: GFS's continuous fields are already coarse enough (25km
// native grid) that a further blur only softens legitimate gradients, so
// GFS skips the pass entirely regardless of a declared sigma.
const gfsModelID = "gfs"

// prepareDisplayDataForColorize returns the array BuildFrame hands to
// colormap.Catalog.Apply, separate from the raw warped values written to
// the value COG. Continuous variables get a Gaussian blur controlled by
// varCap.DisplaySmoothingSigma before colorization, for every model except
// GFS; discrete/indexed variables and a non-positive sigma pass through
// unchanged. Grounded on
// original_source/backend/tests/test_pipeline_display_smoothing.py's three
// fixtures (GFS continuous skips, non-GFS continuous smooths, discrete/
// indexed always passes through).
func prepareDisplayDataForColorize(data []float32, width, height int, kind capabilities.VariableKind, modelID string, sigma float64) []float32 {
	if kind != capabilities.KindContinuous {
		return data
	}
	if modelID == gfsModelID {
		return data
	}
	if sigma <= 0 {
		return data
	}
	return gaussianBlur(data, width, height, sigma)
}

// gaussianBlur applies a separable Gaussian blur over a row-major float32
// grid, treating NaN pixels as nodata: they never contribute to a
// neighbor's weighted sum, and they remain NaN in the output. No ecosystem
// image/numeric library in the pack implements a NaN-aware Gaussian blur
// over a raw []float32 grid (see DESIGN.md), so this is a small stdlib
// separable convolution.
func gaussianBlur(data []float32, width, height int, sigma float64) []float32 {
	kernel := gaussianKernel(sigma)
	tmp := make([]float32, len(data))
	convolveHorizontal(data, tmp, width, height, kernel)
	out := make([]float32, len(data))
	convolveVertical(tmp, out, width, height, kernel)
	return out
}

// gaussianKernel builds a normalized 1-D kernel spanning +/-3 sigma,
// the conventional radius beyond which a Gaussian's weight is negligible.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func convolveHorizontal(src, dst []float32, width, height int, kernel []float64) {
	radius := len(kernel) / 2
	for y := 0; y < height; y++ {
		rowOff := y * width
		for x := 0; x < width; x++ {
			if math.IsNaN(float64(src[rowOff+x])) {
				dst[rowOff+x] = src[rowOff+x]
				continue
			}
			sum, weight := 0.0, 0.0
			for k := -radius; k <= radius; k++ {
				sx := x + k
				if sx < 0 || sx >= width {
					continue
				}
				v := src[rowOff+sx]
				if math.IsNaN(float64(v)) {
					continue
				}
				w := kernel[k+radius]
				sum += float64(v) * w
				weight += w
			}
			if weight == 0 {
				dst[rowOff+x] = src[rowOff+x]
				continue
			}
			dst[rowOff+x] = float32(sum / weight)
		}
	}
}

func convolveVertical(src, dst []float32, width, height int, kernel []float64) {
	radius := len(kernel) / 2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			if math.IsNaN(float64(src[idx])) {
				dst[idx] = src[idx]
				continue
			}
			sum, weight := 0.0, 0.0
			for k := -radius; k <= radius; k++ {
				sy := y + k
				if sy < 0 || sy >= height {
					continue
				}
				v := src[sy*width+x]
				if math.IsNaN(float64(v)) {
					continue
				}
				w := kernel[k+radius]
				sum += float64(v) * w
				weight += w
			}
			if weight == 0 {
				dst[idx] = src[idx]
				continue
			}
			dst[idx] = float32(sum / weight)
		}
	}
}
