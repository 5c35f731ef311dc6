package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wxgrid/nwxserve/internal/grid"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/manifest"
)

// rowColFor projects (lat, lon) to the model's fixed EPSG:3857 grid and
// returns the pixel it addresses. ok is false for out-of-bounds points
// (spec.md section 4.9: "If the pixel is out of bounds ... return
// noData=true").
func (s *Server) rowColFor(modelID string, lat, lon float64) (row, col int, ok bool, err error) {
	model, err := s.Registry.GetModel(modelID)
	if err != nil {
		return 0, 0, false, err
	}
	bbox, meters, err := grid.GridParams(s.Registry, modelID, model.CanonicalRegion)
	if err != nil {
		return 0, 0, false, err
	}
	affine, height, width, err := grid.AffineAndShape(bbox, meters)
	if err != nil {
		return 0, 0, false, err
	}
	x, y := grid.LonLatToWebMercator(lon, lat)
	row, col, ok = grid.RowCol(affine, width, height, x, y)
	return row, col, ok, nil
}

// sampleKey identifies one point query's cacheable unit of work (spec.md
// section 4.9: "sample results keyed by (model, run, var, fh, row, col)").
type sampleKey struct {
	model, run, varKey string
	fh, row, col       int
}

// sampleResult is what a sample query resolves to, cached and returned to
// callers regardless of whether they led or followed the single-flight.
type sampleResult struct {
	NoData    bool       `json:"noData"`
	Value     *float64   `json:"value"`
	Units     string     `json:"units,omitempty"`
	ValidTime *time.Time `json:"valid_time,omitempty"`
}

type sampleCacheEntry struct {
	result  sampleResult
	expires time.Time
}

type sampleWaiter struct {
	done   chan struct{}
	result sampleResult
	err    error
}

// sampleCoordinator owns the sample-result cache, the single-flight map of
// in-flight keys, and per-client rate limiters, all behind one mutex per
// spec.md section 5: "one mutex guards both maps."
type sampleCoordinator struct {
	mu       sync.Mutex
	results  map[sampleKey]sampleCacheEntry
	inflight map[sampleKey]*sampleWaiter
	limiters map[string]*rate.Limiter

	ttl          time.Duration
	inflightWait time.Duration
	limitWindow  time.Duration
	limitMax     int
	now          func() time.Time
}

func newSampleCoordinator(ttl, inflightWait, limitWindow time.Duration, limitMax int, now func() time.Time) *sampleCoordinator {
	if now == nil {
		now = time.Now
	}
	return &sampleCoordinator{
		results:      map[sampleKey]sampleCacheEntry{},
		inflight:     map[sampleKey]*sampleWaiter{},
		limiters:     map[string]*rate.Limiter{},
		ttl:          ttl,
		inflightWait: inflightWait,
		limitWindow:  limitWindow,
		limitMax:     limitMax,
		now:          now,
	}
}

// allow applies clientKey's token bucket, returning the delay the caller
// should report via Retry-After when the budget is exceeded.
func (sc *sampleCoordinator) allow(clientKey string) (ok bool, retryAfter time.Duration) {
	sc.mu.Lock()
	lim, found := sc.limiters[clientKey]
	if !found {
		perSec := float64(sc.limitMax) / sc.limitWindow.Seconds()
		lim = rate.NewLimiter(rate.Limit(perSec), sc.limitMax)
		sc.limiters[clientKey] = lim
	}
	sc.mu.Unlock()

	res := lim.Reserve()
	if !res.OK() {
		return false, sc.limitWindow
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// resolve serves key from cache, or becomes the single-flight leader and
// runs compute, or waits on an in-flight leader up to inflightWait before
// falling through to compute independently (spec.md section 4.9: "followers
// either receive the leader's payload ... or fall through to compute
// themselves").
func (sc *sampleCoordinator) resolve(key sampleKey, compute func() (sampleResult, error)) (sampleResult, error) {
	sc.mu.Lock()
	if entry, ok := sc.results[key]; ok && sc.now().Before(entry.expires) {
		sc.mu.Unlock()
		return entry.result, nil
	}
	if w, ok := sc.inflight[key]; ok {
		sc.mu.Unlock()
		select {
		case <-w.done:
			return w.result, w.err
		case <-time.After(sc.inflightWait):
			return compute()
		}
	}
	w := &sampleWaiter{done: make(chan struct{})}
	sc.inflight[key] = w
	sc.mu.Unlock()

	result, err := compute()
	w.result, w.err = result, err
	close(w.done)

	sc.mu.Lock()
	delete(sc.inflight, key)
	if err == nil {
		sc.results[key] = sampleCacheEntry{result: result, expires: sc.now().Add(sc.ttl)}
	}
	sc.mu.Unlock()
	return result, err
}

// handleSample implements GET /sample?model&run&var&fh&lat&lon.
func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	clientKey := clientKeyFor(r)
	if ok, retryAfter := s.Sample.allow(clientKey); !ok {
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
		http.Error(w, fmt.Sprintf(`{"error":"rate limited","retryAfterSec":%.0f}`, retryAfter.Seconds()), http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	modelID := q.Get("model")
	runParam := q.Get("run")
	varParam := q.Get("var")
	fhStr := q.Get("fh")
	latStr := q.Get("lat")
	lonStr := q.Get("lon")

	fh, err := strconv.Atoi(fhStr)
	if err != nil {
		writeError(w, errBadRequest("fh must be an integer"))
		return
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		writeError(w, errBadRequest("lat must be a float"))
		return
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		writeError(w, errBadRequest("lon must be a float"))
		return
	}

	if _, err := s.Registry.GetModel(modelID); err != nil {
		writeError(w, err)
		return
	}
	varKey, err := s.Registry.NormalizeVarKey(modelID, varParam)
	if err != nil {
		writeError(w, err)
		return
	}
	run, err := s.resolveRun(modelID, runParam)
	if err != nil {
		writeError(w, err)
		return
	}

	valuePath := layout.FramePath(layout.VariableDir(layout.PublishedRunDir(s.DataRoot, modelID, run), varKey), fh, "val.cog.tif")
	row, col, inBounds, rerr := s.rowColFor(modelID, lat, lon)
	if rerr != nil {
		writeError(w, rerr)
		return
	}

	key := sampleKey{model: modelID, run: run, varKey: varKey, fh: fh, row: row, col: col}
	result, serr := s.Sample.resolve(key, func() (sampleResult, error) {
		return s.computeSample(r.Context(), valuePath, row, col, inBounds, modelID, run, varKey, fh)
	})
	if serr != nil {
		writeError(w, serr)
		return
	}

	body, merr := json.Marshal(result)
	if merr != nil {
		writeError(w, merr)
		return
	}
	w.Header().Set("Cache-Control", sampleCacheControl(result.NoData))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) computeSample(ctx context.Context, valuePath string, row, col int, inBounds bool, modelID, run, varKey string, fh int) (sampleResult, error) {
	if !inBounds {
		return sampleResult{NoData: true}, nil
	}

	ds, err := s.Rasters.open(ctx, valuePath)
	if err != nil {
		return sampleResult{NoData: true}, nil
	}
	bands := ds.Bands()
	if len(bands) == 0 {
		return sampleResult{NoData: true}, nil
	}
	buf := make([]float64, 1)
	if err := bands[0].Read(col, row, buf, 1, 1); err != nil {
		return sampleResult{NoData: true}, nil
	}
	v := buf[0]
	if v != v { // NaN
		return sampleResult{NoData: true}, nil
	}

	rounded := roundTo1(v)
	result := sampleResult{NoData: false, Value: &rounded}

	sidecarPath := layout.FramePath(layout.VariableDir(layout.PublishedRunDir(s.DataRoot, modelID, run), varKey), fh, "json")
	if data, jerr := s.JSON.read(sidecarPath); jerr == nil {
		if sc, perr := manifest.UnmarshalFrameSidecar(data); perr == nil {
			result.Units = sc.Units
			vt := sc.ValidTime
			result.ValidTime = &vt
		}
	}
	return result, nil
}

func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clientKeyFor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
