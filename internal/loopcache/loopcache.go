// Package loopcache implements spec.md section 3's loop image cache and
// section 4.8 step 5's pregeneration: downsampled, quality-tiered WebP
// frames rendered from published RGBA COGs for fast animation playback.
// Rendering is another gdal_translate subprocess call (internal/gdalproc),
// consistent with spec.md section 9 treating encoder choice as an
// implementation detail outside the output contract. Tmp-then-rename
// promotion mirrors internal/artifact's promote idiom, generalized from a
// COG destination to a WebP one.
package loopcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/gdalproc"
	"github.com/wxgrid/nwxserve/internal/grid"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/wxlog"
)

// Tier selects one of the two quality/size presets spec.md section 3
// documents under `{model}/{run}/{var}/tier{0|1}/fhNNN.loop.webp`.
type Tier int

const (
	Tier0 Tier = 0 // higher quality, larger dimension
	Tier1 Tier = 1 // lower quality, smaller dimension
)

// TierConfig is one tier's WebP encode parameters.
type TierConfig struct {
	Quality int
	MaxDim  int
}

// Cache renders and serves loop WebPs under a dedicated root, separate from
// the main data root's published/staging/manifests tree.
type Cache struct {
	Root     string // loop cache root (config.LoopCacheRoot)
	DataRoot string // main data root, to locate published source COGs
	Registry *capabilities.Registry
	Runner   gdalproc.Runner
	Tier0    TierConfig
	Tier1    TierConfig
}

// New constructs a Cache.
func New(root, dataRoot string, reg *capabilities.Registry, runner gdalproc.Runner, tier0, tier1 TierConfig) *Cache {
	return &Cache{Root: root, DataRoot: dataRoot, Registry: reg, Runner: runner, Tier0: tier0, Tier1: tier1}
}

// Path returns where tier's cached WebP for (model, run, var, fh) lives.
func (c *Cache) Path(model, run, varKey string, fh int, tier Tier) string {
	return filepath.Join(c.Root, model, run, varKey, fmt.Sprintf("tier%d", tier), fmt.Sprintf("fh%03d.loop.webp", fh))
}

func (c *Cache) tierConfig(tier Tier) TierConfig {
	if tier == Tier1 {
		return c.Tier1
	}
	return c.Tier0
}

// Ensure serves the requested tier's WebP for one frame, rendering and
// caching it first if absent. On a tier-1 encode failure it falls back to
// tier 0 (spec.md section 4.9's `/loop.webp?tier=` endpoint contract).
func (c *Cache) Ensure(ctx context.Context, model, run, varKey string, fh int, tier Tier) (string, error) {
	dst := c.Path(model, run, varKey, fh, tier)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	v, err := c.Registry.GetVariable(model, varKey)
	if err != nil {
		return "", err
	}
	src := layout.FramePath(layout.VariableDir(layout.PublishedRunDir(c.DataRoot, model, run), varKey), fh, "rgba.cog.tif")

	grid.WarnUnknownKindOnce(ctx, model, varKey, v.Kind)
	if err := c.render(ctx, src, v.Kind, dst, tier); err != nil {
		if tier == Tier1 {
			return c.Ensure(ctx, model, run, varKey, fh, Tier0)
		}
		return "", err
	}
	return dst, nil
}

// Pregenerate implements spec.md section 4.8 step 5: for every published
// RGBA raster of varKeys not yet present in the loop cache, render both
// tiers, skipping any frame that's already cached. Per-frame failures are
// logged and skipped rather than aborting the whole run — pregeneration is
// a convenience, not a build-blocking step.
func (c *Cache) Pregenerate(ctx context.Context, model, run string, varKeys []string) error {
	for _, varKey := range varKeys {
		v, err := c.Registry.GetVariable(model, varKey)
		if err != nil {
			return err
		}
		varDir := layout.VariableDir(layout.PublishedRunDir(c.DataRoot, model, run), varKey)
		hours, err := rgbaFrameHours(varDir)
		if err != nil {
			continue // nothing published yet for this variable
		}
		grid.WarnUnknownKindOnce(ctx, model, varKey, v.Kind)
		for _, fh := range hours {
			src := layout.FramePath(varDir, fh, "rgba.cog.tif")
			for _, tier := range []Tier{Tier0, Tier1} {
				dst := c.Path(model, run, varKey, fh, tier)
				if _, statErr := os.Stat(dst); statErr == nil {
					continue
				}
				if renderErr := c.render(ctx, src, v.Kind, dst, tier); renderErr != nil {
					wxlog.Sugar(ctx).Warnw("loop pregeneration failed",
						"model", model, "run", run, "var", varKey, "fh", fh, "tier", tier, "err", renderErr)
				}
			}
		}
	}
	return nil
}

// render encodes src into a tmp sibling of dst, then renames into place.
func (c *Cache) render(ctx context.Context, src string, kind capabilities.VariableKind, dst string, tier Tier) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("loopcache: mkdir: %w", err)
	}
	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-"+uuid.NewString())

	cfg := c.tierConfig(tier)
	if err := gdalproc.EncodeWebP(ctx, c.Runner, gdalproc.WebPOptions{
		Src: src, Dst: tmp, Quality: cfg.Quality, MaxDim: cfg.MaxDim, Resampling: resamplingFor(kind),
	}); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("loopcache: promote %s: %w", dst, err)
	}
	return nil
}

// resamplingFor picks nearest for categorical rasters (discrete/indexed)
// and bilinear for continuous ones, matching internal/grid.ResamplingFor's
// kind-appropriate downsampling rule (spec.md section 4.8 step 5).
func resamplingFor(kind capabilities.VariableKind) gdalproc.Resampling {
	switch kind {
	case capabilities.KindDiscrete, capabilities.KindIndexed:
		return gdalproc.ResamplingNearest
	default:
		return gdalproc.ResamplingBilinear
	}
}

func rgbaFrameHours(varDir string) ([]int, error) {
	entries, err := os.ReadDir(varDir)
	if err != nil {
		return nil, err
	}
	var hours []int
	for _, e := range entries {
		var fh int
		if _, err := fmt.Sscanf(e.Name(), "fh%03d.rgba.cog.tif", &fh); err == nil {
			hours = append(hours, fh)
		}
	}
	sort.Ints(hours)
	return hours, nil
}
