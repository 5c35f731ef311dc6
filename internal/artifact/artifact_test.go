package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeBandRGBASplitsPlanes(t *testing.T) {
	// two pixels: (1,2,3,4) and (10,20,30,40)
	rgba := []byte{1, 2, 3, 4, 10, 20, 30, 40}
	bands := deBandRGBA(rgba, 2, 1)
	require.Len(t, bands, 4)
	assert.Equal(t, []float64{1, 10}, bands[0])
	assert.Equal(t, []float64{2, 20}, bands[1])
	assert.Equal(t, []float64{3, 30}, bands[2])
	assert.Equal(t, []float64{4, 40}, bands[3])
}

func TestCreationOptionsLocksCOGContract(t *testing.T) {
	opts := creationOptions()
	assert.Equal(t, "YES", opts["TILED"])
	assert.Equal(t, "512", opts["BLOCKXSIZE"])
	assert.Equal(t, "512", opts["BLOCKYSIZE"])
	assert.Equal(t, "DEFLATE", opts["COMPRESS"])
	assert.Equal(t, "YES", opts["COPY_SRC_OVERVIEWS"])
}

func TestPromoteRenamesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	tmp := filepath.Join(dir, "scratch.tif")
	require.NoError(t, os.WriteFile(tmp, []byte("data"), 0o644))

	final := filepath.Join(dir, "nested", "frame.cog.tif")
	require.NoError(t, promote(tmp, final))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))
}

func TestPromoteOverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "frame.cog.tif")
	require.NoError(t, os.WriteFile(final, []byte("old"), 0o644))

	tmp := filepath.Join(dir, "scratch.tif")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o644))
	require.NoError(t, promote(tmp, final))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestTmpNameIsUniqueAndInWorkDir(t *testing.T) {
	a := tmpName("/tmp/work", ".tif")
	b := tmpName("/tmp/work", ".tif")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "/tmp/work", filepath.Dir(a))
}

func TestCleanupIgnoresEmptyAndMissingPaths(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.tif")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	cleanup("", present, filepath.Join(dir, "never-existed.tif"))

	_, err := os.Stat(present)
	assert.True(t, os.IsNotExist(err))
}
