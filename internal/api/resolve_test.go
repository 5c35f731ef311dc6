package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/manifest"
	"github.com/wxgrid/nwxserve/internal/wxerr"
)

func publishRunFixture(t *testing.T, root, model, run string) {
	t.Helper()
	runDir := layout.PublishedRunDir(root, model, run)
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	m := manifest.New(model, run)
	require.NoError(t, layout.WriteManifest(root, model, run, m, time.Now()))
}

func TestResolveRunLatestFallsBackToDirectoryScan(t *testing.T) {
	root := t.TempDir()
	publishRunFixture(t, root, "hrrr", "20260101_00z")
	publishRunFixture(t, root, "hrrr", "20260101_06z")

	s := &Server{Layout: layout.New(root)}
	run, err := s.resolveRun("hrrr", "latest")
	require.NoError(t, err)
	assert.Equal(t, "20260101_06z", run)
}

func TestResolveRunLatestErrorsWhenNoRunsPublished(t *testing.T) {
	s := &Server{Layout: layout.New(t.TempDir())}
	_, err := s.resolveRun("hrrr", "latest")
	assert.Error(t, err)
}

func TestResolveRunExplicitRunMustBePublished(t *testing.T) {
	root := t.TempDir()
	publishRunFixture(t, root, "hrrr", "20260101_00z")

	s := &Server{Layout: layout.New(root)}
	run, err := s.resolveRun("hrrr", "20260101_00z")
	require.NoError(t, err)
	assert.Equal(t, "20260101_00z", run)

	_, err = s.resolveRun("hrrr", "20260101_06z")
	assert.Error(t, err)
}

func TestResolveRunRejectsMalformedRunID(t *testing.T) {
	s := &Server{Layout: layout.New(t.TempDir())}
	_, err := s.resolveRun("hrrr", "not-a-run-id")
	assert.Error(t, err)
}

func TestWriteErrorUsesHTTPErrorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errNotFound("missing %s", "thing"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteErrorClassifiesWxerrSentinels(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, wxerr.ErrUnknownModel)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteErrorDefaultsToInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, errors.New("unclassified failure"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestVariableDirComposesUnderPublishedRunDir(t *testing.T) {
	// sanity check that the layout helpers this package relies on compose the
	// way the rest of the package expects.
	dir := layout.VariableDir(layout.PublishedRunDir("/data", "hrrr", "20260101_00z"), "t2m")
	assert.Equal(t, filepath.Join("/data", "published", "hrrr", "20260101_00z", "t2m"), dir)
}
