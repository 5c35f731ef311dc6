package fetch

import (
	"fmt"
	"os"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"

	"github.com/wxgrid/nwxserve/internal/grid"
)

// GDALDecoder implements Decoder using GDAL's own GRIB driver rather than a
// hand-rolled GRIB2 parser: the subset bytes are spilled to a tmp file and
// opened with godal.Open, the same call shape internal/grid and cmd/mcog
// use for every other raster this module reads. pattern is unused here —
// mirror/subset requests already select a single message per call (spec.md
// section 4.5); it's accepted to satisfy the Decoder interface.
type GDALDecoder struct {
	// TmpDir is where subset bytes are staged before godal.Open; empty uses
	// os.TempDir().
	TmpDir string
}

// Decode implements Decoder.
func (d GDALDecoder) Decode(raw []byte, pattern string) (Decoded, error) {
	tmpDir := d.TmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	path := tmpDir + "/grib-" + uuid.NewString() + ".grib2"
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return Decoded{}, fmt.Errorf("fetch: stage grib subset: %w", err)
	}
	defer os.Remove(path)

	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return Decoded{}, fmt.Errorf("fetch: open grib subset (%s): %w", pattern, err)
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) == 0 {
		return Decoded{}, fmt.Errorf("fetch: grib subset (%s) has no bands", pattern)
	}
	st := ds.Structure()

	gt, err := ds.GeoTransform()
	if err != nil {
		return Decoded{}, fmt.Errorf("fetch: grib subset (%s) geotransform: %w", pattern, err)
	}

	data := make([]float32, st.SizeX*st.SizeY)
	if err := bands[0].Read(0, 0, data, st.SizeX, st.SizeY); err != nil {
		return Decoded{}, fmt.Errorf("fetch: read grib subset (%s): %w", pattern, err)
	}

	decoded := Decoded{
		Data:   data,
		Width:  st.SizeX,
		Height: st.SizeY,
		CRS:    ds.Projection(),
		Affine: grid.Affine(gt),
	}
	if nodata, ok := bands[0].NoData(); ok {
		decoded.HasNodata = true
		decoded.Nodata = nodata
	}
	if decoded.CRS == "" {
		// GRIB2 messages without an explicit grid definition default to
		// plain lat/lon, which is what NOAA's HRRR/GFS mirrors publish.
		decoded.CRS = "EPSG:4326"
	}
	return decoded, nil
}
