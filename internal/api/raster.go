// Package api implements spec.md section 4.9: the read-only HTTP surface
// over the published tree. Handlers never read staging/. Route wiring
// follows go-chi/chi's typed-handler idiom (enrichment from the
// jordigilh-kubernaut pack repo; the teacher carries no HTTP surface of its
// own), while raster access reuses internal/grid's godal.Open/Warp idiom
// and internal/gdalproc's subprocess boundary for on-demand loop encoding.
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"
	lru "github.com/hashicorp/golang-lru"
)

// rasterHandle wraps an opened godal.Dataset with the path it was opened
// from, so eviction can close it exactly once.
type rasterHandle struct {
	path string
	ds   *godal.Dataset
}

// rasterCache is the open-raster handle LRU spec.md section 4.9 and 5
// describe: keyed by path, bounded to ~16 entries, one mutex covering
// lookup/insert/evict so a concurrent miss never double-opens or
// double-closes a handle (spec.md section 5's "closed handles are released
// under the lock to avoid double-close").
type rasterCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newRasterCache(size int) *rasterCache {
	if size <= 0 {
		size = 16
	}
	c, err := lru.NewWithEvict(size, func(_, value interface{}) {
		if h, ok := value.(*rasterHandle); ok {
			h.ds.Close()
		}
	})
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(fmt.Sprintf("api: raster cache: %v", err))
	}
	return &rasterCache{cache: c}
}

// open returns an open dataset for path, opening and caching it on a miss.
func (rc *rasterCache) open(_ context.Context, path string) (*godal.Dataset, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if v, ok := rc.cache.Get(path); ok {
		return v.(*rasterHandle).ds, nil
	}
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("api: open raster %s: %w", path, err)
	}
	rc.cache.Add(path, &rasterHandle{path: path, ds: ds})
	return ds, nil
}

// purge closes and evicts every cached handle, used by tests and graceful
// shutdown.
func (rc *rasterCache) purge() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache.Purge()
}
