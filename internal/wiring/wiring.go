// Package wiring assembles the collaborators cmd/scheduler and
// cmd/buildframe both need from a config.Config: the capability registry,
// color-map catalog, fetch adapter, encoder, and pipeline.Deps. Kept as one
// package so the two binaries can't drift on how a Deps gets built,
// mirroring the teacher's single tiler-main.go PersistentPreRunE wiring
// storage/osio clients once for every subcommand.
package wiring

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"

	"github.com/wxgrid/nwxserve/internal/artifact"
	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/colormap"
	"github.com/wxgrid/nwxserve/internal/config"
	"github.com/wxgrid/nwxserve/internal/fetch"
	"github.com/wxgrid/nwxserve/internal/gdalproc"
	"github.com/wxgrid/nwxserve/internal/grid"
	"github.com/wxgrid/nwxserve/internal/pipeline"
)

// Bundle holds every long-lived collaborator built from a config.Config.
type Bundle struct {
	Config    config.Config
	Registry  *capabilities.Registry
	ColorMaps *colormap.Catalog
	Deps      pipeline.Deps
}

// Build constructs a Bundle: it registers the default model catalog and
// grid extents, assembles the GCS/HTTP mirror chain used by
// internal/fetch.Adapter, and wires an artifact.Encoder backed by
// gdalproc.ExecRunner. Called once per process by both cmd/scheduler and
// cmd/buildframe.
func Build(ctx context.Context, cfg config.Config) (Bundle, error) {
	reg := capabilities.DefaultRegistry()
	cmaps := colormap.DefaultCatalog()

	registerExtents()

	stcl, err := storage.NewClient(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("wiring: storage.NewClient: %w", err)
	}
	if err := registerGCSVSIHandler(ctx, stcl); err != nil {
		return Bundle{}, err
	}

	mirrors := []fetch.Mirror{
		fetch.NewGCSMirror("hrrr-gcs", stcl, "high-resolution-rapid-refresh", hrrrGCSKey),
		fetch.NewGCSMirror("gfs-gcs", stcl, "global-forecast-system", gfsGCSKey),
		fetch.NewHTTPMirror("hrrr-nomads", http.DefaultClient, hrrrNomadsURL),
		fetch.NewHTTPMirror("gfs-nomads", http.DefaultClient, gfsNomadsURL),
	}
	decoder := fetch.GDALDecoder{}
	adapter := fetch.NewAdapter(mirrors, decoder, cfg.SubsetRetries, cfg.RetrySleep)

	runner := gdalproc.ExecRunner{}
	enc := artifact.Encoder{Runner: runner}

	deps := pipeline.Deps{
		Registry:      reg,
		ColorMaps:     cmaps,
		Fetcher:       adapter,
		Encoder:       enc,
		ContourRunner: runner,
		DataRoot:      cfg.DataRoot,
	}

	return Bundle{Config: cfg, Registry: reg, ColorMaps: cmaps, Deps: deps}, nil
}

// registerExtents fixes the EPSG:3857 bbox for every (model, canonical
// region) pair internal/capabilities.DefaultRegistry declares. CONUS and
// global WGS84 extents are converted with grid.LonLatToWebMercator rather
// than hand-computed, so the bbox always matches that projection exactly.
func registerExtents() {
	conus := webMercatorBBox(-125, 24, -66, 50)
	global := webMercatorBBox(-180, -85.0511, 180, 85.0511)

	grid.RegisterExtent("hrrr", "conus", conus)
	grid.RegisterExtent("gfs", "global", global)
	grid.RegisterExtent("gfs", "conus", conus)
}

// registerGCSVSIHandler registers "gs://" as a GDAL virtual filesystem
// backed by osio's block-cached ranged reader, the same wiring
// cmd/tiler/tiler-main.go does before any godal.Open of a gs:// path. This
// lets cogvalidate or a future decoder open a NOAA mirror object directly
// (block-cached ranged reads) instead of always downloading the full
// object first, even though GDALDecoder's default path still stages bytes
// fetch.Adapter already downloaded.
func registerGCSVSIHandler(ctx context.Context, stcl *storage.Client) error {
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		return fmt.Errorf("wiring: gcs.Handle: %w", err)
	}
	adapter, err := osio.NewAdapter(gcsh, osio.BlockSize("512k"), osio.NumCachedBlocks(200))
	if err != nil {
		return fmt.Errorf("wiring: osio.NewAdapter: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", adapter); err != nil {
		return fmt.Errorf("wiring: register gs:// VSI handler: %w", err)
	}
	return nil
}

func webMercatorBBox(west, south, east, north float64) grid.BBox {
	x0, y0 := grid.LonLatToWebMercator(west, south)
	x1, y1 := grid.LonLatToWebMercator(east, north)
	return grid.BBox{West: x0, South: y0, East: x1, North: y1}
}

// hrrrGCSKey reproduces NOAA's public HRRR bucket layout:
// hrrr.YYYYMMDD/conus/hrrr.tHHz.wrfsfcfFF.grib2
func hrrrGCSKey(req fetch.Request) string {
	date := req.RunTime.Format("20060102")
	hour := req.RunTime.Format("15")
	return fmt.Sprintf("hrrr.%s/conus/hrrr.t%sz.wrfsfcf%02d.grib2", date, hour, req.ForecastHour)
}

// gfsGCSKey reproduces NOAA's public GFS bucket layout:
// gfs.YYYYMMDD/HH/atmos/gfs.tHHz.pgrb2.0p25.fFFF
func gfsGCSKey(req fetch.Request) string {
	date := req.RunTime.Format("20060102")
	hour := req.RunTime.Format("15")
	return fmt.Sprintf("gfs.%s/%s/atmos/gfs.t%sz.pgrb2.0p25.f%03d", date, hour, hour, req.ForecastHour)
}

// hrrrNomadsURL is the HTTP fallback mirror for hrrrGCSKey's object.
func hrrrNomadsURL(req fetch.Request) string {
	date := req.RunTime.Format("20060102")
	hour := req.RunTime.Format("15")
	return fmt.Sprintf("https://nomads.ncep.noaa.gov/pub/data/nccf/com/hrrr/prod/hrrr.%s/conus/hrrr.t%sz.wrfsfcf%02d.grib2", date, hour, req.ForecastHour)
}

// gfsNomadsURL is the HTTP fallback mirror for gfsGCSKey's object.
func gfsNomadsURL(req fetch.Request) string {
	date := req.RunTime.Format("20060102")
	hour := req.RunTime.Format("15")
	return fmt.Sprintf("https://nomads.ncep.noaa.gov/pub/data/nccf/com/gfs/prod/gfs.%s/%s/atmos/gfs.t%sz.pgrb2.0p25.f%03d", date, hour, hour, req.ForecastHour)
}
