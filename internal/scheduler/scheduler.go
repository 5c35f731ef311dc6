// Package scheduler implements spec.md section 4.8: a per-model poll loop
// that resolves the target upstream cycle, plans each variable's
// forecast-hour schedule, catches up the build in rounds with a bounded
// worker pool, promotes the staging run when a primary variable clears an
// early forecast hour, writes the run manifest and LATEST.json pointer, and
// prunes retained runs. Per spec.md section 9, it turns the teacher's
// broad-exception "submit to a worker pool, check err" idiom into a small
// closed set of outcomes per (variable, forecast hour): built, blocked, or
// not-yet-attempted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tbonfort/gobs"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/fetch"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/manifest"
	"github.com/wxgrid/nwxserve/internal/pipeline"
	"github.com/wxgrid/nwxserve/internal/wxerr"
	"github.com/wxgrid/nwxserve/internal/wxlog"
)

// LoopPregenerator renders the loop-WebP tiers for a run's freshly built
// frames. internal/loopcache implements this; a nil Scheduler.Loop skips
// step 5 entirely.
type LoopPregenerator interface {
	Pregenerate(ctx context.Context, model, run string, varKeys []string) error
}

// Builder produces one frame's artifacts. Production wiring binds this to
// pipeline.BuildFrame against a fixed Deps; tests substitute a fake so
// catch-up rounds can be exercised without GDAL or a real upstream mirror.
type Builder func(ctx context.Context, req pipeline.Request) (dir string, ok bool, err error)

// Config is one model's scheduling policy (spec.md section 4.8's
// Configuration record).
type Config struct {
	Model        string
	VarsToBuild  []string // empty means every buildable variable, registry order
	PrimaryVars  []string // promotion triggers once any of these clears PromotionSet
	PromotionSet []int    // forecast hours checked for promotion readiness; default {0,1,2}
	DefaultMaxFH int      // horizon used when a variable's Constraint.MaxFH is unset (0)

	WorkerCount int
	KeepRuns    int

	ProbeVar string // overrides the model's run_discovery probe variable when non-empty

	PollComplete   time.Duration
	PollIncomplete time.Duration

	Once        bool
	ExplicitRun string // bypasses run discovery entirely
}

// Scheduler drives one model's poll loop.
type Scheduler struct {
	Config Config
	Deps   pipeline.Deps
	Loop   LoopPregenerator // optional; nil skips loop pregeneration

	// Now is overridable in tests; nil uses time.Now.
	Now func() time.Time

	build Builder
}

// New constructs a Scheduler, applying spec-documented defaults to any
// zero-valued Config field.
func New(cfg Config, deps pipeline.Deps) *Scheduler {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.DefaultMaxFH <= 0 {
		cfg.DefaultMaxFH = 48
	}
	if len(cfg.PromotionSet) == 0 {
		cfg.PromotionSet = []int{0, 1, 2}
	}
	if cfg.PollComplete <= 0 {
		cfg.PollComplete = 5 * time.Minute
	}
	if cfg.PollIncomplete <= 0 {
		cfg.PollIncomplete = 20 * time.Second
	}
	s := &Scheduler{Config: cfg, Deps: deps}
	s.build = func(ctx context.Context, req pipeline.Request) (string, bool, error) {
		return pipeline.BuildFrame(ctx, s.Deps, req)
	}
	return s
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run loops runOnce until ctx is cancelled or Config.Once or
// Config.ExplicitRun is set (either stops it after one iteration), sleeping
// poll_seconds_complete after a complete run and the shorter incomplete
// interval otherwise (spec.md section 4.8 step 7).
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		complete, err := s.runOnce(ctx)
		if err != nil {
			wxlog.Sugar(ctx).Errorw("scheduler iteration failed", "model", s.Config.Model, "err", err)
		}
		if s.Config.Once || s.Config.ExplicitRun != "" {
			return err
		}
		wait := s.Config.PollIncomplete
		if complete {
			wait = s.Config.PollComplete
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runOnce executes one full poll iteration and reports whether the target
// run is complete (spec.md section 3: every variable's available_frames
// reached its expected_frames).
func (s *Scheduler) runOnce(ctx context.Context) (bool, error) {
	model, err := s.Deps.Registry.GetModel(s.Config.Model)
	if err != nil {
		return false, err
	}

	runID, runTime, err := s.resolveRun(ctx, model)
	if err != nil {
		return false, fmt.Errorf("scheduler: resolve run for %s: %w", s.Config.Model, err)
	}

	vars, err := s.targetVariables(model)
	if err != nil {
		return false, err
	}
	if len(vars) == 0 {
		return false, fmt.Errorf("scheduler: model %s has no buildable variables to schedule", s.Config.Model)
	}

	runDir := layout.StagingRunDir(s.Deps.DataRoot, s.Config.Model, runID)
	schedules := make(map[string][]int, len(vars))
	built := make(map[string][]int, len(vars))
	for _, v := range vars {
		sched := scheduleForVariable(v, s.Config.DefaultMaxFH)
		schedules[v.VarKey] = sched
		built[v.VarKey] = builtHours(layout.VariableDir(runDir, v.VarKey), sched)
	}

	result := s.catchUp(ctx, runID, vars, schedules, built)

	if promotionReady(result.Built, s.Config.PrimaryVars, s.Config.PromotionSet) {
		if err := s.promote(model, runID, runTime, vars, schedules, result.Built); err != nil {
			return false, err
		}
		if err := s.pregenerateLoops(ctx, runID, vars, result.Built); err != nil {
			wxlog.Sugar(ctx).Warnw("loop pregeneration failed", "model", s.Config.Model, "run", runID, "err", err)
		}
	}

	if err := layout.New(s.Deps.DataRoot).PruneRuns(s.Config.Model, s.Config.KeepRuns); err != nil {
		wxlog.Sugar(ctx).Warnw("retention prune failed", "model", s.Config.Model, "err", err)
	}

	return allComplete(schedules, result.Built), nil
}

// CatchUpResult reports, per variable, every forecast hour attempted this
// iteration, every hour actually built, and whether the variable blocked.
type CatchUpResult struct {
	Attempts map[string][]int
	Built    map[string][]int
	Blocked  map[string]bool
}

// catchUp implements spec.md section 4.8 step 3: repeatedly submit each
// still-progressing variable's first missing forecast hour to a bounded
// worker pool, blocking any variable whose build fails, until every
// variable is either complete or blocked, or a round makes zero progress.
func (s *Scheduler) catchUp(ctx context.Context, runID string, vars []capabilities.VariableCapability, schedules map[string][]int, built map[string][]int) CatchUpResult {
	blocked := map[string]bool{}
	attempts := map[string][]int{}
	pool := gobs.NewPool(s.Config.WorkerCount)

	type job struct {
		varKey string
		fh     int
	}

	for {
		var jobs []job
		for _, v := range vars {
			if blocked[v.VarKey] {
				continue
			}
			fh, ok := firstMissingFH(schedules[v.VarKey], built[v.VarKey])
			if !ok {
				continue
			}
			jobs = append(jobs, job{v.VarKey, fh})
		}
		if len(jobs) == 0 {
			break
		}

		batch := pool.Batch()
		errs := make(map[string]error, len(jobs))
		var mu sync.Mutex
		for _, j := range jobs {
			j := j
			batch.Submit(func() error {
				_, _, err := s.build(ctx, pipeline.Request{Model: s.Config.Model, Run: runID, VarKey: j.varKey, FH: j.fh})
				mu.Lock()
				errs[j.varKey] = err
				mu.Unlock()
				return err
			})
		}
		_ = batch.Wait() // per-job outcomes already captured in errs; aggregate error carries no extra information here

		progressed := false
		for _, j := range jobs {
			attempts[j.varKey] = append(attempts[j.varKey], j.fh)
			if err := errs[j.varKey]; err != nil {
				wxlog.Sugar(ctx).Infow("variable blocked", "model", s.Config.Model, "run", runID, "var", j.varKey, "fh", j.fh, "err", err)
				blocked[j.varKey] = true
				continue
			}
			built[j.varKey] = append(built[j.varKey], j.fh)
			progressed = true
		}
		if !progressed {
			break
		}
	}

	return CatchUpResult{Attempts: attempts, Built: built, Blocked: blocked}
}

// promote implements spec.md section 4.8 step 4: rename staging into
// published, then write the manifest, then the latest pointer — that order,
// per internal/layout.WriteLatest's documented sequencing contract.
func (s *Scheduler) promote(model capabilities.ModelCapability, runID string, runTime time.Time, vars []capabilities.VariableCapability, schedules, built map[string][]int) error {
	dataRoot := s.Deps.DataRoot
	m := manifest.New(s.Config.Model, runID)
	for _, v := range vars {
		m.SetExpected(v.VarKey, string(v.Kind), v.Units, len(schedules[v.VarKey]))
		for _, fh := range built[v.VarKey] {
			vt := runTime.Add(time.Duration(fh) * time.Hour)
			m.RecordFrame(v.VarKey, fh, &vt)
		}
	}

	if err := layout.PromoteRun(dataRoot, s.Config.Model, runID); err != nil {
		return fmt.Errorf("scheduler: promote %s/%s: %w", s.Config.Model, runID, err)
	}

	now := s.now()
	if err := layout.WriteManifest(dataRoot, s.Config.Model, runID, m, now); err != nil {
		return fmt.Errorf("scheduler: write manifest %s/%s: %w", s.Config.Model, runID, err)
	}
	pointer := manifest.LatestPointer{RunID: runID, CycleUTC: runTime, UpdatedUTC: now, Source: model.ProductCode}
	if err := layout.WriteLatest(dataRoot, s.Config.Model, pointer); err != nil {
		return fmt.Errorf("scheduler: write latest %s: %w", s.Config.Model, err)
	}
	return nil
}

func (s *Scheduler) pregenerateLoops(ctx context.Context, runID string, vars []capabilities.VariableCapability, built map[string][]int) error {
	if s.Loop == nil {
		return nil
	}
	keys := make([]string, 0, len(vars))
	for _, v := range vars {
		if len(built[v.VarKey]) > 0 {
			keys = append(keys, v.VarKey)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return s.Loop.Pregenerate(ctx, s.Config.Model, runID, keys)
}

// resolveRun implements spec.md section 4.8 step 1.
func (s *Scheduler) resolveRun(ctx context.Context, model capabilities.ModelCapability) (string, time.Time, error) {
	if s.Config.ExplicitRun != "" {
		t, err := layout.ParseRunID(s.Config.ExplicitRun)
		if err != nil {
			return "", time.Time{}, err
		}
		return s.Config.ExplicitRun, t, nil
	}

	cadence := model.RunDiscovery.CadenceHours
	if cadence <= 0 {
		cadence = 6
	}
	now := s.now().UTC()
	latest := alignToCadence(now, cadence)

	if model.RunDiscovery.ProbeEnabled {
		varKey := s.probeVarKey(model)
		pattern, err := s.Deps.Registry.ProbePattern(s.Config.Model, varKey)
		if err == nil {
			attempts := model.RunDiscovery.ProbeAttempts
			if attempts <= 0 {
				attempts = 1
			}
			candidate := latest
			for i := 0; i < attempts; i++ {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return "", time.Time{}, ctxErr
				}
				ok, perr := s.probe(ctx, model, pattern, candidate)
				if perr != nil {
					return "", time.Time{}, perr
				}
				if ok {
					return layout.FormatRunID(candidate), candidate, nil
				}
				candidate = candidate.Add(-time.Duration(cadence) * time.Hour)
			}
		}
	}

	fallback := alignToCadence(now.Add(-time.Duration(model.RunDiscovery.FallbackLagHours)*time.Hour), cadence)
	return layout.FormatRunID(fallback), fallback, nil
}

func (s *Scheduler) probeVarKey(model capabilities.ModelCapability) string {
	if s.Config.ProbeVar != "" {
		return s.Config.ProbeVar
	}
	return model.RunDiscovery.ProbeVarKey
}

// probe reports whether runTime's cycle is already available upstream by
// attempting the probe variable's fh0 fetch. A transient-unavailable error
// means "not yet"; any other error propagates so resolveRun doesn't spin on
// a persistently broken mirror.
func (s *Scheduler) probe(ctx context.Context, model capabilities.ModelCapability, pattern string, runTime time.Time) (bool, error) {
	_, err := s.Deps.Fetcher.Fetch(ctx, fetch.Request{
		Model: s.Config.Model, Product: model.ProductCode, Pattern: pattern, RunTime: runTime, ForecastHour: 0,
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, wxerr.ErrTransientUnavailable) {
		return false, nil
	}
	return false, err
}

func alignToCadence(t time.Time, cadenceHours int) time.Time {
	if cadenceHours <= 0 {
		cadenceHours = 1
	}
	h := (t.Hour() / cadenceHours) * cadenceHours
	return time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, time.UTC)
}

// targetVariables resolves Config.VarsToBuild (if set) or every buildable
// variable in registry order (spec.md section 4.8's "vars_to_build
// (optional, defaults to all buildable)").
func (s *Scheduler) targetVariables(model capabilities.ModelCapability) ([]capabilities.VariableCapability, error) {
	if len(s.Config.VarsToBuild) > 0 {
		out := make([]capabilities.VariableCapability, 0, len(s.Config.VarsToBuild))
		for _, key := range s.Config.VarsToBuild {
			v, err := s.Deps.Registry.GetVariable(s.Config.Model, key)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	all, err := s.Deps.Registry.OrderedVariables(model.ModelID)
	if err != nil {
		return nil, err
	}
	out := make([]capabilities.VariableCapability, 0, len(all))
	for _, v := range all {
		if v.Buildable() {
			out = append(out, v)
		}
	}
	return out, nil
}

// scheduleForVariable computes v's per-cycle forecast-hour schedule (spec.md
// section 4.8 step 2): every fh_step-th hour (hint, default 1) starting at
// Constraint.MinFH through Constraint.MaxFH inclusive, substituting
// defaultMaxFH when MaxFH is unset (0, "no declared upper bound").
func scheduleForVariable(v capabilities.VariableCapability, defaultMaxFH int) []int {
	step := hintInt(v.Selectors.Hints, "fh_step", 1)
	if step <= 0 {
		step = 1
	}
	max := v.Constraint.MaxFH
	if max <= 0 {
		max = defaultMaxFH
	}
	var out []int
	for fh := v.Constraint.MinFH; fh <= max; fh += step {
		out = append(out, fh)
	}
	return out
}

func hintInt(hints map[string]string, key string, fallback int) int {
	s, ok := hints[key]
	if !ok {
		return fallback
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

// builtHours stats each scheduled hour's sidecar file, the last file
// BuildFrame writes for a frame, so its presence is proof the frame's three
// artifacts are all in place.
func builtHours(varDir string, schedule []int) []int {
	var out []int
	for _, fh := range schedule {
		if _, err := os.Stat(layout.FramePath(varDir, fh, "json")); err == nil {
			out = append(out, fh)
		}
	}
	return out
}

func firstMissingFH(schedule, built []int) (int, bool) {
	have := make(map[int]bool, len(built))
	for _, h := range built {
		have[h] = true
	}
	for _, fh := range schedule {
		if !have[fh] {
			return fh, true
		}
	}
	return 0, false
}

// promotionReady implements spec.md section 4.8 step 4's trigger: any
// primary variable has built at least one hour in the promotion set.
func promotionReady(built map[string][]int, primaryVars []string, promotionSet []int) bool {
	for _, pv := range primaryVars {
		for _, h := range built[pv] {
			for _, p := range promotionSet {
				if h == p {
					return true
				}
			}
		}
	}
	return false
}

// allComplete reports spec.md section 3's run-complete predicate: every
// scheduled variable has built every hour in its schedule, and at least one
// variable is scheduled.
func allComplete(schedules, built map[string][]int) bool {
	if len(schedules) == 0 {
		return false
	}
	for k, sched := range schedules {
		if len(sched) == 0 {
			return false
		}
		if len(built[k]) < len(sched) {
			return false
		}
	}
	return true
}
