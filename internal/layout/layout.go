// Package layout implements the on-disk directory model of spec.md sections
// 3, 5, and 9: published/staging/manifests trees, atomic whole-run
// promotion, the LATEST.json pointer, and run-retention pruning. It
// generalizes the teacher's internal/tilerfs single-COG tmp-then-rename
// idiom (also reused directly in internal/artifact.promote) to whole run
// directories.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wxgrid/nwxserve/internal/manifest"
	"github.com/wxgrid/nwxserve/internal/wxerr"
)

const runIDLayout = "20060102_15z"

// ParseRunID validates and parses a run identifier (spec.md section 3:
// "YYYYMMDD_HHz", lexicographic order equal to chronological order).
func ParseRunID(runID string) (time.Time, error) {
	t, err := time.Parse(runIDLayout, runID)
	if err != nil {
		return time.Time{}, fmt.Errorf("layout: run id %q: %w", runID, wxerr.ErrInvalidRunID)
	}
	return t, nil
}

// FormatRunID renders t (converted to UTC) as a run identifier.
func FormatRunID(t time.Time) string {
	return t.UTC().Format(runIDLayout)
}

// PublishedRunDir is the final, promoted directory for (model, run).
func PublishedRunDir(dataRoot, model, run string) string {
	return filepath.Join(dataRoot, "published", model, run)
}

// StagingRunDir is where a run's frames are built before promotion.
func StagingRunDir(dataRoot, model, run string) string {
	return filepath.Join(dataRoot, "staging", model, run)
}

// VariableDir is one variable's subdirectory within a run directory.
func VariableDir(runDir, varKey string) string {
	return filepath.Join(runDir, varKey)
}

// FramePath is one forecast-hour artifact's path within a variable directory.
func FramePath(varDir string, fh int, ext string) string {
	return filepath.Join(varDir, fmt.Sprintf("fh%03d.%s", fh, ext))
}

// ContourPath is an optional per-frame contour artifact's path.
func ContourPath(varDir string, fh int, key string) string {
	return filepath.Join(varDir, "contours", fmt.Sprintf("fh%03d.%s.geojson", fh, key))
}

// ManifestPath is a run's manifest document path.
func ManifestPath(dataRoot, model, run string) string {
	return filepath.Join(dataRoot, "manifests", model, run+".json")
}

// LatestPath is a model's LATEST.json pointer path.
func LatestPath(dataRoot, model string) string {
	return filepath.Join(dataRoot, "published", model, "LATEST.json")
}

// WriteFileAtomic writes data to path via a tmp sibling then rename, so
// readers never observe a partially written file (spec.md section 9). Used
// for manifest/LATEST.json writes here and for frame sidecar JSON by
// internal/pipeline.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeJSONAtomic(path string, data []byte) error {
	return WriteFileAtomic(path, data)
}

// PromoteRun atomically replaces published/{model}/{run} with the contents
// of staging/{model}/{run} (spec.md section 5: "the published/{model}/{run}
// directory name only exists after a successful rename from a tmp
// sibling"). A pre-existing published directory (rebuild/overwrite case) is
// moved aside and removed only after the new directory is in place.
func PromoteRun(dataRoot, model, run string) error {
	staging := StagingRunDir(dataRoot, model, run)
	published := PublishedRunDir(dataRoot, model, run)
	if err := os.MkdirAll(filepath.Dir(published), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(published); err == nil {
		backup := published + ".superseded-" + uuid.NewString()
		if err := os.Rename(published, backup); err != nil {
			return fmt.Errorf("layout: move aside existing %s: %w", published, err)
		}
		defer os.RemoveAll(backup)
	}
	if err := os.Rename(staging, published); err != nil {
		return fmt.Errorf("layout: promote %s: %w", staging, err)
	}
	return nil
}

// WriteManifest atomically writes m to its run's manifest path.
func WriteManifest(dataRoot, model, run string, m *manifest.RunManifest, now time.Time) error {
	data, err := m.Marshal(now)
	if err != nil {
		return err
	}
	return writeJSONAtomic(ManifestPath(dataRoot, model, run), data)
}

// ReadManifest reads and parses a run's manifest document.
func ReadManifest(dataRoot, model, run string) (*manifest.RunManifest, error) {
	data, err := os.ReadFile(ManifestPath(dataRoot, model, run))
	if err != nil {
		return nil, err
	}
	return manifest.Unmarshal(data)
}

// WriteLatest atomically writes the LATEST.json pointer for model. Spec.md
// section 5's ordering guarantee ("LATEST.json updates occur after
// promotion and after manifest write") is the caller's responsibility to
// sequence; this function only performs the atomic write itself.
func WriteLatest(dataRoot, model string, p manifest.LatestPointer) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	return writeJSONAtomic(LatestPath(dataRoot, model), data)
}

// Layout implements capabilities.AvailabilityLookup against a data root,
// and drives retention pruning.
type Layout struct {
	DataRoot string
}

// New returns a Layout rooted at dataRoot.
func New(dataRoot string) *Layout {
	return &Layout{DataRoot: dataRoot}
}

// PublishedRuns lists model's promoted run directories, oldest first
// (run ids sort lexicographically equal to chronologically per spec.md
// section 3). Non-run-id entries (stray files, superseded backups) are
// skipped rather than erroring.
func (l *Layout) PublishedRuns(modelID string) []string {
	dir := filepath.Join(l.DataRoot, "published", modelID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var runs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := ParseRunID(e.Name()); err != nil {
			continue
		}
		runs = append(runs, e.Name())
	}
	sort.Strings(runs)
	return runs
}

// LatestRun implements capabilities.AvailabilityLookup. It trusts
// LATEST.json only if its run_id is well-formed and both the published
// directory and manifest exist; otherwise it falls back to a directory scan
// (spec.md section 5: "readers that observe LATEST.json must still validate
// that the referenced directory and manifest exist — if not, they must fall
// back to directory scan").
func (l *Layout) LatestRun(modelID string) (string, bool) {
	data, err := os.ReadFile(LatestPath(l.DataRoot, modelID))
	if err == nil {
		if p, perr := manifest.UnmarshalLatestPointer(data); perr == nil {
			if _, rerr := ParseRunID(p.RunID); rerr == nil {
				if _, serr := os.Stat(PublishedRunDir(l.DataRoot, modelID, p.RunID)); serr == nil {
					if _, merr := os.Stat(ManifestPath(l.DataRoot, modelID, p.RunID)); merr == nil {
						return p.RunID, true
					}
				}
			}
		}
	}
	runs := l.PublishedRuns(modelID)
	if len(runs) == 0 {
		return "", false
	}
	return runs[len(runs)-1], true
}

// PruneRuns deletes published run directories and manifests beyond the
// newest keepRuns (spec.md section 3's "deleted only by retention (keep
// newest K runs)"). keepRuns <= 0 disables pruning.
func (l *Layout) PruneRuns(modelID string, keepRuns int) error {
	if keepRuns <= 0 {
		return nil
	}
	runs := l.PublishedRuns(modelID)
	if len(runs) <= keepRuns {
		return nil
	}
	for _, run := range runs[:len(runs)-keepRuns] {
		if err := os.RemoveAll(PublishedRunDir(l.DataRoot, modelID, run)); err != nil {
			return fmt.Errorf("layout: prune %s/%s: %w", modelID, run, err)
		}
		_ = os.Remove(ManifestPath(l.DataRoot, modelID, run))
	}
	return nil
}
