package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/loopcache"
	"github.com/wxgrid/nwxserve/internal/wxlog"
)

// Config configures a Server, mirroring the spec.md section 6 environment
// variables that govern API-side caches and rate limiting.
type Config struct {
	DataRoot              string
	RasterCacheSize       int
	JSONCacheRecheck      time.Duration
	SampleCacheTTL        time.Duration
	SampleInflightWait    time.Duration
	SampleRateLimitWindow time.Duration
	SampleRateLimitMax    int
}

// Server holds the Read API's collaborators: the capability registry, the
// on-disk layout, the loop-WebP cache, and the process-local caches spec.md
// sections 4.9/5 describe.
type Server struct {
	Registry *capabilities.Registry
	Layout   *layout.Layout
	Loop     *loopcache.Cache
	DataRoot string

	Rasters *rasterCache
	JSON    *jsonFileCache
	Sample  *sampleCoordinator

	Now func() time.Time
}

// NewServer wires a Server from its collaborators and Config.
func NewServer(reg *capabilities.Registry, lay *layout.Layout, loop *loopcache.Cache, cfg Config) *Server {
	now := time.Now
	return &Server{
		Registry: reg,
		Layout:   lay,
		Loop:     loop,
		DataRoot: cfg.DataRoot,
		Rasters:  newRasterCache(cfg.RasterCacheSize),
		JSON:     newJSONFileCache(cfg.JSONCacheRecheck, now),
		Sample: newSampleCoordinator(
			cfg.SampleCacheTTL, cfg.SampleInflightWait,
			cfg.SampleRateLimitWindow, cfg.SampleRateLimitMax, now,
		),
		Now: now,
	}
}

// Router builds the chi route tree for every endpoint spec.md section 4.9
// documents, under the versioned prefix spec.md section 6 calls for.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v4", func(api chi.Router) {
		api.Get("/capabilities", s.handleCapabilities)
		api.Get("/models", s.handleModels)
		api.Get("/sample", s.handleSample)
		api.Get("/tiles/{model}/{run}/{var}/{fh}/{z}/{x}/{y}.png", s.handleTile)

		api.Route("/{model}", func(m chi.Router) {
			m.Get("/runs", s.handleRuns)
			m.Route("/{run}", func(run chi.Router) {
				run.Get("/manifest", s.handleManifest)
				run.Get("/vars", s.handleVars)
				run.Route("/{var}", func(v chi.Router) {
					v.Get("/frames", s.handleFrames)
					v.Get("/loop-manifest", s.handleLoopManifest)
					v.Route("/{fh}", func(fh chi.Router) {
						fh.Get("/loop.webp", s.handleLoopWebP)
						fh.Get("/contours/{key}", s.handleContour)
					})
				})
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := mustMarshal(map[string]interface{}{"ok": true, "data_root": s.DataRoot})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// corsMiddleware applies spec.md section 6's wire-protocol CORS policy:
// allow any origin, GET only, any header.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with structured fields, matching
// cmd/tiler/tiler-main.go's log.Logger(ctx).Sugar() idiom rather than a
// formatted access-log line.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		wxlog.Sugar(r.Context()).Debugw("http request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
	})
}
