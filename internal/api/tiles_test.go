package api

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wxgrid/nwxserve/internal/grid"
)

func TestClampInt(t *testing.T) {
	assert.Equal(t, 0, clampInt(-5, 0, 10))
	assert.Equal(t, 10, clampInt(50, 0, 10))
	assert.Equal(t, 5, clampInt(5, 0, 10))
}

func TestSourceWindowFullyInsideRaster(t *testing.T) {
	affine := grid.Affine{0, 1, 0, 100, 0, -1}
	x0, y0, w, h, ok := sourceWindow(affine, 100, 100, grid.BBox{West: 10, East: 20, North: 90, South: 80})
	assert.True(t, ok)
	assert.Equal(t, 10, x0)
	assert.Equal(t, 10, y0)
	assert.Equal(t, 10, w)
	assert.Equal(t, 10, h)
}

func TestSourceWindowClampsPartialOverlap(t *testing.T) {
	affine := grid.Affine{0, 1, 0, 100, 0, -1}
	x0, y0, w, h, ok := sourceWindow(affine, 100, 100, grid.BBox{West: -10, East: 10, North: 110, South: 90})
	assert.True(t, ok)
	assert.Equal(t, 0, x0)
	assert.Equal(t, 0, y0)
	assert.True(t, w > 0 && w <= 100)
	assert.True(t, h > 0 && h <= 100)
}

func TestSourceWindowNoOverlapReturnsFalse(t *testing.T) {
	affine := grid.Affine{0, 1, 0, 100, 0, -1}
	_, _, _, _, ok := sourceWindow(affine, 100, 100, grid.BBox{West: 1000, East: 1010, North: 90, South: 80})
	assert.False(t, ok)
}

func TestDrawBoundaryPaintsEdgePixelsOnly(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	drawBoundary(img)

	assert.Equal(t, debugBoundaryColor, img.RGBAAt(0, 0))
	assert.Equal(t, debugBoundaryColor, img.RGBAAt(3, 3))
	assert.Equal(t, debugBoundaryColor, img.RGBAAt(0, 2))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(2, 2))
}
