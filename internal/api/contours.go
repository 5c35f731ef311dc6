package api

import (
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/manifest"
)

// handleContour implements GET /{model}/{run}/{var}/{fh}/contours/{key}:
// look up contours[key].path in the frame sidecar and serve that GeoJSON
// file, 404 on a missing key or file (spec.md section 4.9).
func (s *Server) handleContour(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	runParam := chi.URLParam(r, "run")
	varParam := chi.URLParam(r, "var")
	key := chi.URLParam(r, "key")

	fh, err := strconv.Atoi(chi.URLParam(r, "fh"))
	if err != nil {
		writeError(w, errBadRequest("fh must be an integer"))
		return
	}
	if _, err := s.Registry.GetModel(modelID); err != nil {
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

	varDir := layout.VariableDir(layout.PublishedRunDir(s.DataRoot, modelID, run), varKey)
	sidecarPath := layout.FramePath(varDir, fh, "json")
	data, err := s.JSON.read(sidecarPath)
	if err != nil {
		writeError(w, errNotFound("frame %s/%s/%s/%d not found", modelID, run, varKey, fh))
		return
	}
	sc, err := manifest.UnmarshalFrameSidecar(data)
	if err != nil {
		writeError(w, errNotFound("sidecar unreadable"))
		return
	}
	ref, ok := sc.Contours[key]
	if !ok {
		writeError(w, errNotFound("no contour %q for %s/%s/%s/%d", key, modelID, run, varKey, fh))
		return
	}

	path := filepath.Join(varDir, filepath.FromSlash(ref.Path))
	w.Header().Set("Cache-Control", tileCacheClass(runParam).header())
	w.Header().Set("Content-Type", "application/geo+json")
	http.ServeFile(w, r, path)
}
