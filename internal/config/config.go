// Package config binds the environment variables from spec.md section 6 to
// a typed Config, following the teacher's cmd/tiler/tiler-main.go idiom of
// package-level vars set from flags with env-var-backed defaults rather than
// a config-loading library (no pack repo outside a different-era fork in
// spatialmodel-inmap uses one).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// Config holds every environment-configurable knob the scheduler, build
// pipeline, and API recognize.
type Config struct {
	DataRoot      string
	LoopCacheRoot string

	Workers   int
	KeepRuns  int
	ProbeVar  string

	PollSecondsComplete   time.Duration
	PollSecondsIncomplete time.Duration

	UpstreamPriority []string
	SubsetRetries    int
	RetrySleep       time.Duration

	SampleCacheTTL        time.Duration
	SampleInflightWait    time.Duration
	SampleRateLimitWindow time.Duration
	SampleRateLimitMax    int

	LoopWebPTier0Quality int
	LoopWebPTier0MaxDim  int
	LoopWebPTier1Quality int
	LoopWebPTier1MaxDim  int

	JSONCacheRecheck time.Duration

	// ExtraGDALSwitches holds additional gdal_translate/gdaladdo flags
	// parsed from GDAL_EXTRA_SWITCHES, matching mcog.go's
	// shellwords.Parse(mainSwitches) idiom.
	ExtraGDALSwitches []string
}

// Default returns a Config populated with the spec's documented defaults,
// suitable as a base before applying environment overrides.
func Default() Config {
	return Config{
		DataRoot:              "/var/lib/nwxserve/data",
		LoopCacheRoot:         "/var/lib/nwxserve/loopcache",
		Workers:               4,
		KeepRuns:              6,
		ProbeVar:              "",
		PollSecondsComplete:   5 * time.Minute,
		PollSecondsIncomplete: 20 * time.Second,
		UpstreamPriority:      nil,
		SubsetRetries:         3,
		RetrySleep:            5 * time.Second,
		SampleCacheTTL:        10 * time.Second,
		SampleInflightWait:    200 * time.Millisecond,
		SampleRateLimitWindow: time.Second,
		SampleRateLimitMax:    10,
		LoopWebPTier0Quality:  80,
		LoopWebPTier0MaxDim:   1024,
		LoopWebPTier1Quality:  55,
		LoopWebPTier1MaxDim:   512,
		JSONCacheRecheck:      2 * time.Second,
	}
}

// FromEnv applies recognized environment variables on top of cfg, returning
// the updated value. Malformed numeric/duration values are reported as an
// error rather than silently ignored, since these feed scheduler and API
// resource caps.
func FromEnv(cfg Config) (Config, error) {
	var errs []string
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	ints := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = n
		}
	}
	secs := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", name, err))
				return
			}
			*dst = time.Duration(n * float64(time.Second))
		}
	}

	str("DATA_ROOT", &cfg.DataRoot)
	str("LOOP_CACHE_ROOT", &cfg.LoopCacheRoot)
	ints("WORKERS", &cfg.Workers)
	secs("POLL_SECONDS", &cfg.PollSecondsComplete)
	ints("KEEP_RUNS", &cfg.KeepRuns)
	str("PROBE_VAR", &cfg.ProbeVar)

	if v, ok := os.LookupEnv("UPSTREAM_PRIORITY"); ok {
		cfg.UpstreamPriority = splitCSV(v)
	}
	ints("SUBSET_RETRIES", &cfg.SubsetRetries)
	secs("RETRY_SLEEP_SECONDS", &cfg.RetrySleep)

	secs("SAMPLE_CACHE_TTL_SECONDS", &cfg.SampleCacheTTL)
	secs("SAMPLE_INFLIGHT_WAIT_SECONDS", &cfg.SampleInflightWait)
	secs("SAMPLE_RATE_LIMIT_WINDOW_SECONDS", &cfg.SampleRateLimitWindow)
	ints("SAMPLE_RATE_LIMIT_MAX_REQUESTS", &cfg.SampleRateLimitMax)

	ints("LOOP_WEBP_TIER0_QUALITY", &cfg.LoopWebPTier0Quality)
	ints("LOOP_WEBP_TIER0_MAX_DIM", &cfg.LoopWebPTier0MaxDim)
	ints("LOOP_WEBP_TIER1_QUALITY", &cfg.LoopWebPTier1Quality)
	ints("LOOP_WEBP_TIER1_MAX_DIM", &cfg.LoopWebPTier1MaxDim)

	secs("JSON_CACHE_RECHECK_SECONDS", &cfg.JSONCacheRecheck)

	if v, ok := os.LookupEnv("GDAL_EXTRA_SWITCHES"); ok {
		args, err := shellwords.Parse(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("GDAL_EXTRA_SWITCHES: %v", err))
		} else {
			cfg.ExtraGDALSwitches = args
		}
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
