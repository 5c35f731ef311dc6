package api

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wxgrid/nwxserve/internal/grid"
	"github.com/wxgrid/nwxserve/internal/layout"
)

const tileSize = 512

var debugBoundaryColor = color.RGBA{R: 255, G: 0, B: 255, A: 255}

// handleTile implements GET /tiles/{model}/{run}/{var}/{fh}/{z}/{x}/{y}.png.
// Since every published frame already shares the model's fixed EPSG:3857
// grid (spec.md section 3's "Grid invariants"), no reprojection is needed:
// the tile's source pixel window is computed directly from the raster's
// affine and nearest-sampled into the output tile.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	runParam := chi.URLParam(r, "run")
	varParam := chi.URLParam(r, "var")

	fh, err := strconv.Atoi(chi.URLParam(r, "fh"))
	if err != nil {
		writeError(w, errBadRequest("fh must be an integer"))
		return
	}
	z, zerr := strconv.Atoi(chi.URLParam(r, "z"))
	x, xerr := strconv.Atoi(chi.URLParam(r, "x"))
	y, yerr := strconv.Atoi(chi.URLParam(r, "y"))
	if zerr != nil || xerr != nil || yerr != nil {
		writeError(w, errBadRequest("z/x/y must be integers"))
		return
	}

	model, err := s.Registry.GetModel(modelID)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.resolveRun(modelID, runParam)
	if err != nil {
		writeError(w, err)
		return
	}
	varKey, err := s.Registry.NormalizeVarKey(modelID, varParam)
	if err != nil {
		writeError(w, err)
		return
	}

	debugBoundaries := r.URL.Query().Get("debug_boundaries") == "1"

	img, err := s.renderTile(r.Context(), model.ModelID, model.CanonicalRegion, run, varKey, fh, z, x, y)
	if err != nil {
		writeError(w, err)
		return
	}
	if debugBoundaries {
		drawBoundary(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeError(w, err)
		return
	}

	if debugBoundaries {
		w.Header().Set("Cache-Control", cacheNoStore.header())
	} else {
		w.Header().Set("Cache-Control", tileCacheClass(runParam).header())
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// renderTile reads the overlapping pixel window of the published RGBA
// raster and nearest-samples it into a tileSize x tileSize RGBA image.
// Out-of-bounds or fully-masked tiles return fully transparent output
// (spec.md section 4.9).
func (s *Server) renderTile(ctx context.Context, modelID, region, run, varKey string, fh, z, x, y int) (*image.RGBA, error) {
	bbox, meters, err := grid.GridParams(s.Registry, modelID, region)
	if err != nil {
		return nil, err
	}
	affine, rasterH, rasterW, err := grid.AffineAndShape(bbox, meters)
	if err != nil {
		return nil, err
	}

	tileBBox := grid.TileBounds(z, x, y)
	img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))

	x0, y0, winW, winH, ok := sourceWindow(affine, rasterW, rasterH, tileBBox)
	if !ok {
		return img, nil // no overlap: fully transparent
	}

	path := layout.FramePath(layout.VariableDir(layout.PublishedRunDir(s.DataRoot, modelID, run), varKey), fh, "rgba.cog.tif")
	ds, err := s.Rasters.open(ctx, path)
	if err != nil {
		return img, nil // frame not built yet: fully transparent
	}
	bands := ds.Bands()
	if len(bands) < 4 {
		return img, nil
	}

	planes := make([][]float64, 4)
	for b := 0; b < 4; b++ {
		planes[b] = make([]float64, winW*winH)
		if err := bands[b].Read(x0, y0, planes[b], winW, winH); err != nil {
			return img, nil
		}
	}

	pixelSizeX := (tileBBox.East - tileBBox.West) / float64(tileSize)
	pixelSizeY := (tileBBox.North - tileBBox.South) / float64(tileSize)
	for ty := 0; ty < tileSize; ty++ {
		worldY := tileBBox.North - (float64(ty)+0.5)*pixelSizeY
		for tx := 0; tx < tileSize; tx++ {
			worldX := tileBBox.West + (float64(tx)+0.5)*pixelSizeX
			srcCol := int((worldX - affine.OriginX()) / affine.PixelWidth())
			srcRow := int((affine.OriginY() - worldY) / affine.PixelHeight())
			localCol := srcCol - x0
			localRow := srcRow - y0
			if localCol < 0 || localCol >= winW || localRow < 0 || localRow >= winH {
				continue // stays transparent (zero value)
			}
			idx := localRow*winW + localCol
			img.SetRGBA(tx, ty, color.RGBA{
				R: uint8(planes[0][idx]),
				G: uint8(planes[1][idx]),
				B: uint8(planes[2][idx]),
				A: uint8(planes[3][idx]),
			})
		}
	}
	return img, nil
}

// sourceWindow computes the raster pixel rectangle covering bbox, clamped
// to [0, width)x[0, height). ok is false when bbox doesn't overlap the
// raster at all.
func sourceWindow(affine grid.Affine, width, height int, bbox grid.BBox) (x0, y0, w, h int, ok bool) {
	colMin := int((bbox.West - affine.OriginX()) / affine.PixelWidth())
	colMax := int(math.Ceil((bbox.East-affine.OriginX())/affine.PixelWidth())) - 1
	rowMin := int((affine.OriginY() - bbox.North) / affine.PixelHeight())
	rowMax := int(math.Ceil((affine.OriginY()-bbox.South)/affine.PixelHeight())) - 1

	x0 = clampInt(colMin, 0, width-1)
	x1 := clampInt(colMax, 0, width-1)
	y0 = clampInt(rowMin, 0, height-1)
	y1 := clampInt(rowMax, 0, height-1)

	if colMax < 0 || colMin >= width || rowMax < 0 || rowMin >= height {
		return 0, 0, 0, 0, false
	}
	w = x1 - x0 + 1
	h = y1 - y0 + 1
	if w <= 0 || h <= 0 {
		return 0, 0, 0, 0, false
	}
	return x0, y0, w, h, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// drawBoundary paints a 1px border in a fixed debug color (SPEC_FULL.md
// section 12's debug_boundaries diagnostic, recovered from
// original_source/'s boundary-tile debug script).
func drawBoundary(img *image.RGBA) {
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		img.Set(x, b.Min.Y, debugBoundaryColor)
		img.Set(x, b.Max.Y-1, debugBoundaryColor)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		img.Set(b.Min.X, y, debugBoundaryColor)
		img.Set(b.Max.X-1, y, debugBoundaryColor)
	}
}
