package api

import (
	"os"
	"sync"
	"time"
)

// jsonCacheEntry is one path's cached content plus the bookkeeping needed
// to decide when to re-stat and re-read it.
type jsonCacheEntry struct {
	mtime       time.Time
	lastChecked time.Time
	payload     []byte
}

// jsonFileCache implements spec.md section 5's JSON content cache: entries
// keyed by path, validated against file modification time, re-stat'd only
// after a configurable recheck interval elapses. The mutex covers lookup
// and the recheck decision; the actual stat/read happens outside the lock
// (spec.md section 5: "re-stats the file and, on change, re-parses without
// holding the lock during I/O").
type jsonFileCache struct {
	mu      sync.Mutex
	entries map[string]*jsonCacheEntry
	recheck time.Duration
	now     func() time.Time
}

func newJSONFileCache(recheck time.Duration, now func() time.Time) *jsonFileCache {
	if now == nil {
		now = time.Now
	}
	return &jsonFileCache{entries: map[string]*jsonCacheEntry{}, recheck: recheck, now: now}
}

// read returns path's contents, serving a cached copy when the recheck
// window hasn't elapsed or the file's mtime is unchanged.
func (c *jsonFileCache) read(path string) ([]byte, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[path]
	if ok && now.Sub(entry.lastChecked) < c.recheck {
		payload := entry.payload
		c.mu.Unlock()
		return payload, nil
	}
	c.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if ok && entry.mtime.Equal(info.ModTime()) {
		entry.lastChecked = now
		payload := entry.payload
		c.mu.Unlock()
		return payload, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[path] = &jsonCacheEntry{mtime: info.ModTime(), lastChecked: now, payload: data}
	c.mu.Unlock()
	return data, nil
}
