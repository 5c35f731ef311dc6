package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/wxgrid/nwxserve/internal/layout"
)

// modelView is the /models endpoint's per-model projection (spec.md
// section 4.9: "{id, name, latest_run, published_runs}").
type modelView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	LatestRun      string   `json:"latest_run,omitempty"`
	PublishedRuns  []string `json:"published_runs"`
}

// handleModels implements GET /models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := s.Registry.ListModels()
	views := make([]modelView, 0, len(models))
	for _, m := range models {
		latest, _ := s.Layout.LatestRun(m.ModelID)
		views = append(views, modelView{
			ID:            m.ModelID,
			Name:          m.DisplayName,
			LatestRun:     latest,
			PublishedRuns: s.Layout.PublishedRuns(m.ModelID),
		})
	}
	body := mustMarshal(views)
	writeJSONCached(w, r, cacheDiscovery, body)
}

// handleCapabilities implements GET /capabilities.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	doc := s.Registry.Serialize(s.Layout)
	body := mustMarshal(doc)
	writeJSONCached(w, r, cacheDiscovery, body)
}

// handleRuns implements GET /{model}/runs: published runs newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	if _, err := s.Registry.GetModel(modelID); err != nil {
		writeError(w, err)
		return
	}
	runs := append([]string(nil), s.Layout.PublishedRuns(modelID)...)
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	body := mustMarshal(runs)
	writeJSONCached(w, r, cacheDiscovery, body)
}

// handleManifest implements GET /{model}/{run}/manifest.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	if _, err := s.Registry.GetModel(modelID); err != nil {
		writeError(w, err)
		return
	}
	run, err := s.resolveRun(modelID, chi.URLParam(r, "run"))
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.JSON.read(layout.ManifestPath(s.DataRoot, modelID, run))
	if err != nil {
		writeError(w, errNotFound("manifest not found for %s/%s", modelID, run))
		return
	}
	writeJSONCached(w, r, cacheDiscovery, data)
}

// handleVars implements GET /{model}/{run}/vars: registry order.
func (s *Server) handleVars(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	if _, err := s.Registry.GetModel(modelID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.resolveRun(modelID, chi.URLParam(r, "run")); err != nil {
		writeError(w, err)
		return
	}
	vars, err := s.Registry.OrderedVariables(modelID)
	if err != nil {
		writeError(w, err)
		return
	}
	keys := make([]string, 0, len(vars))
	for _, v := range vars {
		if v.Buildable() {
			keys = append(keys, v.VarKey)
		}
	}
	body := mustMarshal(keys)
	writeJSONCached(w, r, cacheDiscovery, body)
}

// frameView is one forecast hour's entry in /{model}/{run}/{var}/frames.
type frameView struct {
	FH                 int         `json:"fh"`
	HasCOG             bool        `json:"has_cog"`
	Run                string      `json:"run"`
	LoopWebPURL        string      `json:"loop_webp_url,omitempty"`
	LoopWebPTier0URL   string      `json:"loop_webp_tier0_url,omitempty"`
	LoopWebPTier1URL   string      `json:"loop_webp_tier1_url,omitempty"`
	Meta               interface{} `json:"meta"`
}

// handleFrames implements GET /{model}/{run}/{var}/frames.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	runParam := chi.URLParam(r, "run")
	varParam := chi.URLParam(r, "var")

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

	m, err := layout.ReadManifest(s.DataRoot, modelID, run)
	if err != nil {
		writeError(w, errNotFound("manifest not found for %s/%s", modelID, run))
		return
	}
	vm := m.Variables[varKey]

	varDir := layout.VariableDir(layout.PublishedRunDir(s.DataRoot, modelID, run), varKey)
	views := make([]frameView, 0, len(vm.Frames))
	for _, f := range vm.Frames {
		fv := frameView{FH: f.FH, Run: run, HasCOG: true}
		sidecarPath := layout.FramePath(varDir, f.FH, "json")
		if data, jerr := s.JSON.read(sidecarPath); jerr == nil {
			var raw interface{}
			if json.Unmarshal(data, &raw) == nil {
				fv.Meta = map[string]interface{}{"meta": raw}
			}
		}
		if fv.Meta == nil {
			fv.Meta = map[string]interface{}{"meta": nil}
		}
		fv.LoopWebPTier0URL = loopWebPURL(modelID, run, varKey, f.FH, 0)
		fv.LoopWebPTier1URL = loopWebPURL(modelID, run, varKey, f.FH, 1)
		fv.LoopWebPURL = fv.LoopWebPTier0URL
		views = append(views, fv)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].FH < views[j].FH })

	body := mustMarshal(views)
	writeJSONCached(w, r, frameListCacheClass(m.Complete(), runParam), body)
}

func loopWebPURL(model, run, varKey string, fh int, tier int) string {
	return "/" + model + "/" + run + "/" + varKey + "/" + itoa(fh) + "/loop.webp?tier=" + itoa(tier)
}
