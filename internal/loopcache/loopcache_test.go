package loopcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/layout"
)

type fakeRunner struct {
	calls      []string
	failSubstr string
}

func (f *fakeRunner) Run(_ context.Context, argv []string) ([]byte, []byte, error) {
	dst := argv[len(argv)-1]
	f.calls = append(f.calls, dst)
	if f.failSubstr != "" && strings.Contains(dst, f.failSubstr) {
		return nil, []byte("boom"), errors.New("exit status 1")
	}
	if err := os.WriteFile(dst, []byte("webp"), 0o644); err != nil {
		return nil, nil, err
	}
	return nil, nil, nil
}

func testCache(t *testing.T, r *fakeRunner) (*Cache, string) {
	dataRoot := t.TempDir()
	loopRoot := t.TempDir()
	reg := capabilities.NewRegistry(capabilities.ModelCapability{
		ModelID: "hrrr", ProductCode: "hrrr", CanonicalRegion: "conus",
		VariableCatalog: map[string]capabilities.VariableCapability{
			"temp2m": {VarKey: "temp2m", Kind: capabilities.KindContinuous, Primary: true},
			"ptype":  {VarKey: "ptype", Kind: capabilities.KindIndexed, Primary: true},
		},
	})
	c := New(loopRoot, dataRoot, reg, r, TierConfig{Quality: 80, MaxDim: 1024}, TierConfig{Quality: 55, MaxDim: 512})
	return c, dataRoot
}

func writePublishedRGBA(t *testing.T, dataRoot, model, run, varKey string, fh int) string {
	varDir := layout.VariableDir(layout.PublishedRunDir(dataRoot, model, run), varKey)
	require.NoError(t, os.MkdirAll(varDir, 0o755))
	path := layout.FramePath(varDir, fh, "rgba.cog.tif")
	require.NoError(t, os.WriteFile(path, []byte("cog"), 0o644))
	return path
}

func TestEnsureRendersThenCaches(t *testing.T) {
	r := &fakeRunner{}
	c, dataRoot := testCache(t, r)
	writePublishedRGBA(t, dataRoot, "hrrr", "20260115_00z", "temp2m", 3)

	path, err := c.Ensure(context.Background(), "hrrr", "20260115_00z", "temp2m", 3, Tier0)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Len(t, r.calls, 1)

	// second call hits the cache, no further render
	path2, err := c.Ensure(context.Background(), "hrrr", "20260115_00z", "temp2m", 3, Tier0)
	require.NoError(t, err)
	assert.Equal(t, path, path2)
	assert.Len(t, r.calls, 1)
}

func TestEnsureFallsBackFromTier1ToTier0(t *testing.T) {
	r := &fakeRunner{failSubstr: string(filepath.Separator) + "tier1" + string(filepath.Separator)}
	c, dataRoot := testCache(t, r)
	writePublishedRGBA(t, dataRoot, "hrrr", "20260115_00z", "temp2m", 0)

	path, err := c.Ensure(context.Background(), "hrrr", "20260115_00z", "temp2m", 0, Tier1)
	require.NoError(t, err)
	assert.Contains(t, path, "tier0")
	assert.FileExists(t, path)
}

func TestEnsureUnknownVariableFails(t *testing.T) {
	c, _ := testCache(t, &fakeRunner{})
	_, err := c.Ensure(context.Background(), "hrrr", "20260115_00z", "nope", 0, Tier0)
	require.Error(t, err)
}

func TestPregenerateSkipsAlreadyCachedTiers(t *testing.T) {
	r := &fakeRunner{}
	c, dataRoot := testCache(t, r)
	writePublishedRGBA(t, dataRoot, "hrrr", "20260115_00z", "temp2m", 0)
	writePublishedRGBA(t, dataRoot, "hrrr", "20260115_00z", "temp2m", 1)

	// pre-seed fh000's tier0 so Pregenerate must skip it
	seeded := c.Path("hrrr", "20260115_00z", "temp2m", 0, Tier0)
	require.NoError(t, os.MkdirAll(filepath.Dir(seeded), 0o755))
	require.NoError(t, os.WriteFile(seeded, []byte("already-cached"), 0o644))

	err := c.Pregenerate(context.Background(), "hrrr", "20260115_00z", []string{"temp2m"})
	require.NoError(t, err)

	// fh000/tier1, fh001/tier0, fh001/tier1 — three renders, fh000/tier0 skipped
	assert.Len(t, r.calls, 3)
	for _, tier := range []Tier{Tier0, Tier1} {
		for _, fh := range []int{0, 1} {
			assert.FileExists(t, c.Path("hrrr", "20260115_00z", "temp2m", fh, tier))
		}
	}
	seededData, err := os.ReadFile(seeded)
	require.NoError(t, err)
	assert.Equal(t, "already-cached", string(seededData)) // untouched, not re-rendered
}

func TestPregenerateSkipsVariableWithNoPublishedFrames(t *testing.T) {
	c, _ := testCache(t, &fakeRunner{})
	err := c.Pregenerate(context.Background(), "hrrr", "20260115_00z", []string{"temp2m"})
	require.NoError(t, err)
}

func TestRgbaFrameHoursParsesAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"fh003.rgba.cog.tif", "fh000.rgba.cog.tif", "fh001.rgba.cog.tif", "fh000.val.cog.tif", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	hours, err := rgbaFrameHours(dir)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, hours)
}

func TestResamplingForPicksNearestForCategorical(t *testing.T) {
	assert.Equal(t, "nearest", string(resamplingFor(capabilities.KindIndexed)))
	assert.Equal(t, "nearest", string(resamplingFor(capabilities.KindDiscrete)))
	assert.Equal(t, "bilinear", string(resamplingFor(capabilities.KindContinuous)))
}
