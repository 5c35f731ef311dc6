// Package fetch implements spec.md section 4.5: download one GRIB subset
// per call and present it as a 2-D float32 array with source CRS and
// affine, distinguishing transient upstream unavailability from hard
// failure. The GRIB-subset wire protocol itself is out of scope (spec.md
// section 1 treats fetch_variable as a pluggable collaborator); this
// package owns the mirror-ordering/retry policy and the nodata/absurd-value
// sanitation, and delegates byte decoding to an injected Decoder.
//
// The GCS mirror is grounded directly on the teacher's cmd/tiler/tiler-main.go
// wiring (storage.NewClient, object reads), generalized from "read a whole
// COG for tiling" to "download one GRIB subset object."
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"cloud.google.com/go/storage"

	"github.com/wxgrid/nwxserve/internal/grid"
	"github.com/wxgrid/nwxserve/internal/wxerr"
)

const absurdMagnitude = 1e12

// Decoded is one decoded GRIB message's array payload, before nodata
// sanitation.
type Decoded struct {
	Data      []float32
	Width     int
	Height    int
	CRS       string
	Affine    grid.Affine
	Nodata    float64
	HasNodata bool
}

// Decoder turns one raw GRIB subset's bytes into a Decoded array, matched
// against pattern to pick the right message when a subset carries more than
// one. Production wiring injects the project's actual GRIB reader here;
// this package never parses GRIB itself.
type Decoder interface {
	Decode(raw []byte, pattern string) (Decoded, error)
}

// Request identifies one fetchable subset.
type Request struct {
	Model     string
	Product   string
	Pattern   string
	RunTime   time.Time
	ForecastHour int
}

// Mirror is one upstream source of GRIB subsets. Implementations report
// transient unavailability (not yet published, object vanished) distinctly
// from hard failures (network error, malformed response) by wrapping
// wxerr.ErrTransientUnavailable / wxerr.ErrHardFailure.
type Mirror interface {
	Name() string
	// Available performs a cheap pre-download inventory check (e.g. HEAD
	// request or object-metadata read) to avoid a futile subset download.
	// Returning (false, nil) means "not ready yet", not an error.
	Available(ctx context.Context, req Request) (bool, error)
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// Adapter tries each configured mirror in order, with bounded retries and
// inter-attempt sleep, then decodes and sanitizes the result.
type Adapter struct {
	Mirrors      []Mirror
	Decoder      Decoder
	Retries      int
	RetrySleep   time.Duration
	sleep        func(time.Duration) // overridable in tests
}

// NewAdapter builds an Adapter with the standard time.Sleep backing.
func NewAdapter(mirrors []Mirror, decoder Decoder, retries int, retrySleep time.Duration) *Adapter {
	return &Adapter{Mirrors: mirrors, Decoder: decoder, Retries: retries, RetrySleep: retrySleep, sleep: time.Sleep}
}

// Fetch produces one (array, crs, affine) triple for req, trying every
// mirror in order before declaring transient unavailability. A hard failure
// from any single mirror does not short-circuit the remaining mirrors —
// only the final outcome across all mirrors determines the returned error
// kind, preferring HardFailure when any mirror demonstrated a decode/shape
// problem so callers don't keep silently deferring to next poll.
func (a *Adapter) Fetch(ctx context.Context, req Request) (Decoded, error) {
	if len(a.Mirrors) == 0 {
		return Decoded{}, fmt.Errorf("fetch: no mirrors configured: %w", wxerr.ErrHardFailure)
	}
	sleep := a.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var sawHardFailure error
	for _, m := range a.Mirrors {
		var lastErr error
		for attempt := 0; attempt <= a.Retries; attempt++ {
			if attempt > 0 {
				sleep(a.RetrySleep)
			}
			if err := ctx.Err(); err != nil {
				return Decoded{}, err
			}

			ready, err := m.Available(ctx, req)
			if err != nil {
				lastErr = err
				continue
			}
			if !ready {
				lastErr = fmt.Errorf("fetch: %s: subset not yet available: %w", m.Name(), wxerr.ErrTransientUnavailable)
				continue
			}

			raw, err := m.Fetch(ctx, req)
			if err != nil {
				lastErr = err
				continue
			}
			if len(raw) == 0 {
				lastErr = fmt.Errorf("fetch: %s: empty download: %w", m.Name(), wxerr.ErrTransientUnavailable)
				continue
			}

			decoded, err := a.Decoder.Decode(raw, req.Pattern)
			if err != nil {
				lastErr = fmt.Errorf("fetch: %s: decode: %w", m.Name(), errJoinHard(err))
				break // decode failure on a mirror's own bytes won't improve with retries
			}
			if len(decoded.Data) != decoded.Width*decoded.Height {
				lastErr = fmt.Errorf("fetch: %s: shape mismatch: %w", m.Name(), wxerr.ErrHardFailure)
				break
			}

			sanitize(decoded)
			return decoded, nil
		}

		if lastErr != nil && !errors.Is(lastErr, wxerr.ErrTransientUnavailable) {
			sawHardFailure = lastErr
		}
	}

	if sawHardFailure != nil {
		return Decoded{}, sawHardFailure
	}
	return Decoded{}, fmt.Errorf("fetch: no mirror had %s/%s fh%d yet: %w", req.Model, req.Product, req.ForecastHour, wxerr.ErrTransientUnavailable)
}

func errJoinHard(err error) error {
	if errors.Is(err, wxerr.ErrHardFailure) || errors.Is(err, wxerr.ErrTransientUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", wxerr.ErrHardFailure, err)
}

// sanitize maps declared nodata and absurd-magnitude values to NaN in place
// (spec.md section 4.5).
func sanitize(d Decoded) {
	for i, v := range d.Data {
		fv := float64(v)
		if d.HasNodata && fv == d.Nodata {
			d.Data[i] = float32(math.NaN())
			continue
		}
		if math.Abs(fv) > absurdMagnitude {
			d.Data[i] = float32(math.NaN())
		}
	}
}

// GCSMirror reads GRIB subsets from Google Cloud Storage objects, grounded
// on the teacher's storage.NewClient wiring in cmd/tiler/tiler-main.go.
// KeyFunc builds the object path for a request; callers own bucket naming
// and path layout conventions per upstream.
type GCSMirror struct {
	name    string
	bucket  *storage.BucketHandle
	KeyFunc func(Request) string
}

// NewGCSMirror wraps a storage client's bucket handle as a Mirror.
func NewGCSMirror(name string, client *storage.Client, bucketName string, keyFunc func(Request) string) *GCSMirror {
	return &GCSMirror{name: name, bucket: client.Bucket(bucketName), KeyFunc: keyFunc}
}

// Name implements Mirror.
func (g *GCSMirror) Name() string { return g.name }

// Available implements Mirror via an object-metadata (stat) read.
func (g *GCSMirror) Available(ctx context.Context, req Request) (bool, error) {
	_, err := g.bucket.Object(g.KeyFunc(req)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("fetch: %s: stat: %w: %v", g.name, wxerr.ErrHardFailure, err)
	}
	return true, nil
}

// Fetch implements Mirror by downloading the full object.
func (g *GCSMirror) Fetch(ctx context.Context, req Request) ([]byte, error) {
	r, err := g.bucket.Object(g.KeyFunc(req)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("fetch: %s: %w", g.name, wxerr.ErrTransientUnavailable)
		}
		return nil, fmt.Errorf("fetch: %s: open reader: %w: %v", g.name, wxerr.ErrHardFailure, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: read: %w: %v", g.name, wxerr.ErrHardFailure, err)
	}
	return data, nil
}

// HTTPMirror reads GRIB subsets from an HTTP(S) upstream (e.g. NOMADS-style
// mirrors). URLFunc builds the request URL per subset.
type HTTPMirror struct {
	name    string
	client  *http.Client
	URLFunc func(Request) string
}

// NewHTTPMirror wraps an *http.Client as a Mirror.
func NewHTTPMirror(name string, client *http.Client, urlFunc func(Request) string) *HTTPMirror {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMirror{name: name, client: client, URLFunc: urlFunc}
}

// Name implements Mirror.
func (h *HTTPMirror) Name() string { return h.name }

// Available implements Mirror via a HEAD request.
func (h *HTTPMirror) Available(ctx context.Context, req Request) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, h.URLFunc(req), nil)
	if err != nil {
		return false, fmt.Errorf("fetch: %s: build head request: %w: %v", h.name, wxerr.ErrHardFailure, err)
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("fetch: %s: head: %w: %v", h.name, wxerr.ErrTransientUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("fetch: %s: head status %d: %w", h.name, resp.StatusCode, wxerr.ErrTransientUnavailable)
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("fetch: %s: head status %d: %w", h.name, resp.StatusCode, wxerr.ErrHardFailure)
	}
	return true, nil
}

// Fetch implements Mirror via a GET request.
func (h *HTTPMirror) Fetch(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URLFunc(req), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: build get request: %w: %v", h.name, wxerr.ErrHardFailure, err)
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: get: %w: %v", h.name, wxerr.ErrTransientUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("fetch: %s: %w", h.name, wxerr.ErrTransientUnavailable)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("fetch: %s: status %d: %w", h.name, resp.StatusCode, wxerr.ErrTransientUnavailable)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetch: %s: status %d: %w", h.name, resp.StatusCode, wxerr.ErrHardFailure)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: %s: read body: %w: %v", h.name, wxerr.ErrHardFailure, err)
	}
	return data, nil
}
