package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wxgrid/nwxserve/internal/grid"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/loopcache"
)

// loopManifestTier lists one tier's frame URLs.
type loopManifestTier struct {
	Quality int      `json:"quality"`
	MaxDim  int       `json:"max_dim"`
	Frames  []string `json:"frames"`
}

// loopManifestView is GET /{model}/{run}/{var}/loop-manifest's payload
// (spec.md section 4.9: "Bbox, projection, and per-tier frame URL lists").
type loopManifestView struct {
	Bbox       grid.BBox                   `json:"bbox"`
	Projection string                       `json:"projection"`
	Tiers      map[string]loopManifestTier `json:"tiers"`
}

// handleLoopManifest implements GET /{model}/{run}/{var}/loop-manifest.
func (s *Server) handleLoopManifest(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	runParam := chi.URLParam(r, "run")
	varParam := chi.URLParam(r, "var")

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
	bbox, _, err := grid.GridParams(s.Registry, modelID, model.CanonicalRegion)
	if err != nil {
		writeError(w, err)
		return
	}

	m, err := layout.ReadManifest(s.DataRoot, modelID, run)
	if err != nil {
		writeError(w, errNotFound("manifest not found for %s/%s", modelID, run))
		return
	}
	vm := m.Variables[varKey]

	view := loopManifestView{
		Bbox:       bbox,
		Projection: grid.EPSG3857,
		Tiers: map[string]loopManifestTier{
			"tier0": {Quality: s.Loop.Tier0.Quality, MaxDim: s.Loop.Tier0.MaxDim},
			"tier1": {Quality: s.Loop.Tier1.Quality, MaxDim: s.Loop.Tier1.MaxDim},
		},
	}
	tier0 := view.Tiers["tier0"]
	tier1 := view.Tiers["tier1"]
	for _, f := range vm.Frames {
		tier0.Frames = append(tier0.Frames, loopWebPURL(modelID, run, varKey, f.FH, 0))
		tier1.Frames = append(tier1.Frames, loopWebPURL(modelID, run, varKey, f.FH, 1))
	}
	view.Tiers["tier0"] = tier0
	view.Tiers["tier1"] = tier1

	body := mustMarshal(view)
	writeJSONCached(w, r, frameListCacheClass(m.Complete(), runParam), body)
}

// handleLoopWebP implements GET /{model}/{run}/{var}/{fh}/loop.webp?tier=0|1.
func (s *Server) handleLoopWebP(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	runParam := chi.URLParam(r, "run")
	varParam := chi.URLParam(r, "var")

	fh, err := strconv.Atoi(chi.URLParam(r, "fh"))
	if err != nil {
		writeError(w, errBadRequest("fh must be an integer"))
		return
	}
	tier := loopcache.Tier0
	if r.URL.Query().Get("tier") == "1" {
		tier = loopcache.Tier1
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

	path, err := s.Loop.Ensure(r.Context(), modelID, run, varKey, fh, tier)
	if err != nil {
		writeError(w, errNotFound("loop webp unavailable: %v", err))
		return
	}
	w.Header().Set("Cache-Control", tileCacheClass(runParam).header())
	http.ServeFile(w, r, path)
}
