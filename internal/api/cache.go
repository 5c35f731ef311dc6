package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// cacheClass names one of spec.md section 4.9's Cache-Control policy
// buckets.
type cacheClass int

const (
	cacheRegionPresets    cacheClass = iota // 5 min
	cacheDiscovery                          // models/manifests/vars/discovery: 60s
	cacheFramesIncomplete                   // frames list, latest or incomplete run: 60s
	cacheImmutableYear                      // historical complete run / tile / loop webp: 1 year
	cacheNoStore                            // debug diagnostics: never cached
)

func (c cacheClass) header() string {
	switch c {
	case cacheRegionPresets:
		return "public, max-age=300"
	case cacheDiscovery:
		return "public, max-age=60"
	case cacheFramesIncomplete:
		return "public, max-age=60"
	case cacheImmutableYear:
		return "public, max-age=31536000, immutable"
	case cacheNoStore:
		return "no-store"
	default:
		return "no-store"
	}
}

// etagFor computes a strong ETag over body: a short hash over the
// stringified payload, per spec.md section 4.9.
func etagFor(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:])[:16] + `"`
}

// writeCached sets Cache-Control and ETag, honors If-None-Match with a 304,
// and otherwise writes body with the given content type.
func writeCached(w http.ResponseWriter, r *http.Request, class cacheClass, contentType string, body []byte) {
	etag := etagFor(body)
	w.Header().Set("Cache-Control", class.header())
	w.Header().Set("ETag", etag)
	if inm := r.Header.Get("If-None-Match"); inm != "" && (inm == "*" || inm == etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeJSONCached marshals v is already done by the caller; this just
// applies the shared cache/etag/conditional-GET policy to a JSON body.
func writeJSONCached(w http.ResponseWriter, r *http.Request, class cacheClass, body []byte) {
	writeCached(w, r, class, "application/json", body)
}

// sampleCacheControl picks the sample endpoint's private, data-dependent
// policy (spec.md section 4.9: "private with short max-age when no-data,
// longer (~1 day) when resolved").
func sampleCacheControl(noData bool) string {
	if noData {
		return "private, max-age=5"
	}
	return "private, max-age=86400"
}

func frameListCacheClass(complete bool, run string) cacheClass {
	if !complete || run == "latest" {
		return cacheFramesIncomplete
	}
	return cacheImmutableYear
}

func tileCacheClass(run string) cacheClass {
	if run == "latest" {
		return cacheFramesIncomplete
	}
	return cacheImmutableYear
}
