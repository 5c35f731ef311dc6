package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxgrid/nwxserve/internal/capabilities"
	"github.com/wxgrid/nwxserve/internal/fetch"
	"github.com/wxgrid/nwxserve/internal/pipeline"
	"github.com/wxgrid/nwxserve/internal/wxerr"
)

func tmp2mRegistry() *capabilities.Registry {
	return capabilities.NewRegistry(capabilities.ModelCapability{
		ModelID:         "hrrr",
		ProductCode:     "hrrr",
		CanonicalRegion: "conus",
		RunDiscovery: capabilities.RunDiscovery{
			ProbeVarKey:      "tmp2m",
			ProbeEnabled:     true,
			CadenceHours:     6,
			ProbeAttempts:    2,
			FallbackLagHours: 6,
		},
		VariableCatalog: map[string]capabilities.VariableCapability{
			"tmp2m": {
				VarKey: "tmp2m", Kind: capabilities.KindContinuous, Primary: true,
				Constraint: capabilities.Constraint{MinFH: 0, MaxFH: 4},
				Selectors:  capabilities.Selectors{Patterns: []string{":TMP:2 m above ground:"}},
			},
		},
	})
}

// TestCatchUpReproducesSequentialCatchUpExample is spec.md's own worked
// example: forecast hours [0,1,2,3,4], fh=4 transient-unavailable.
func TestCatchUpReproducesSequentialCatchUpExample(t *testing.T) {
	reg := tmp2mRegistry()
	deps := pipeline.Deps{Registry: reg, DataRoot: t.TempDir()}
	s := New(Config{Model: "hrrr", PrimaryVars: []string{"tmp2m"}}, deps)

	var calls []int
	s.build = func(ctx context.Context, req pipeline.Request) (string, bool, error) {
		calls = append(calls, req.FH)
		if req.FH == 4 {
			return "", false, fmt.Errorf("fetch: %w", wxerr.ErrTransientUnavailable)
		}
		return "", true, nil
	}

	model, err := reg.GetModel("hrrr")
	require.NoError(t, err)
	vars, err := s.targetVariables(model)
	require.NoError(t, err)
	require.Len(t, vars, 1)

	schedules := map[string][]int{}
	built := map[string][]int{}
	for _, v := range vars {
		schedules[v.VarKey] = scheduleForVariable(v, s.Config.DefaultMaxFH)
		built[v.VarKey] = nil
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, schedules["tmp2m"])

	result := s.catchUp(context.Background(), "20260115_00z", vars, schedules, built)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, result.Attempts["tmp2m"])
	assert.Equal(t, []int{0, 1, 2, 3}, result.Built["tmp2m"])
	assert.Len(t, result.Built["tmp2m"], 4)
	assert.Equal(t, 5, len(schedules["tmp2m"]))
	assert.True(t, result.Blocked["tmp2m"])
	assert.Equal(t, []int{0, 1, 2, 3, 4}, calls)
}

func TestScheduleForVariableRespectsMinMaxFH(t *testing.T) {
	v := capabilities.VariableCapability{Constraint: capabilities.Constraint{MinFH: 2, MaxFH: 6}}
	assert.Equal(t, []int{2, 3, 4, 5, 6}, scheduleForVariable(v, 48))
}

func TestScheduleForVariableUsesDefaultHorizonWhenMaxFHUnset(t *testing.T) {
	v := capabilities.VariableCapability{Constraint: capabilities.Constraint{MinFH: 0, MaxFH: 0}}
	sched := scheduleForVariable(v, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, sched)
}

func TestScheduleForVariableHonorsFHStepHint(t *testing.T) {
	v := capabilities.VariableCapability{
		Constraint: capabilities.Constraint{MinFH: 0, MaxFH: 12},
		Selectors:  capabilities.Selectors{Hints: map[string]string{"fh_step": "3"}},
	}
	assert.Equal(t, []int{0, 3, 6, 9, 12}, scheduleForVariable(v, 48))
}

func TestPromotionReadyWhenPrimaryClearsAnEarlyHour(t *testing.T) {
	built := map[string][]int{"tmp2m": {3, 4, 5}}
	assert.False(t, promotionReady(built, []string{"tmp2m"}, []int{0, 1, 2}))

	built["tmp2m"] = append(built["tmp2m"], 2)
	assert.True(t, promotionReady(built, []string{"tmp2m"}, []int{0, 1, 2}))
}

func TestPromotionNotReadyWithoutAnyPrimaryVariable(t *testing.T) {
	built := map[string][]int{"other": {0, 1, 2}}
	assert.False(t, promotionReady(built, []string{"tmp2m"}, []int{0, 1, 2}))
}

func TestFirstMissingFH(t *testing.T) {
	fh, ok := firstMissingFH([]int{0, 1, 2, 3}, []int{0, 1})
	require.True(t, ok)
	assert.Equal(t, 2, fh)

	_, ok = firstMissingFH([]int{0, 1}, []int{0, 1})
	assert.False(t, ok)
}

func TestAllComplete(t *testing.T) {
	schedules := map[string][]int{"a": {0, 1}, "b": {0}}
	assert.False(t, allComplete(schedules, map[string][]int{"a": {0}, "b": {0}}))
	assert.True(t, allComplete(schedules, map[string][]int{"a": {0, 1}, "b": {0}}))
}

func TestAlignToCadence(t *testing.T) {
	got := alignToCadence(time.Date(2026, 1, 15, 13, 45, 0, 0, time.UTC), 6)
	assert.Equal(t, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), got)
}

type fakeProbeFetcher struct {
	okAt map[time.Time]bool
}

func (f *fakeProbeFetcher) Fetch(ctx context.Context, req fetch.Request) (fetch.Decoded, error) {
	if f.okAt[req.RunTime] {
		return fetch.Decoded{Data: []float32{1}, Width: 1, Height: 1}, nil
	}
	return fetch.Decoded{}, fmt.Errorf("probe: %w", wxerr.ErrTransientUnavailable)
}

func TestResolveRunUsesExplicitRun(t *testing.T) {
	reg := tmp2mRegistry()
	deps := pipeline.Deps{Registry: reg, Fetcher: &fakeProbeFetcher{}, DataRoot: t.TempDir()}
	s := New(Config{Model: "hrrr", ExplicitRun: "20260115_00z"}, deps)

	model, err := reg.GetModel("hrrr")
	require.NoError(t, err)
	run, runTime, err := s.resolveRun(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, "20260115_00z", run)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), runTime)
}

func TestResolveRunFindsCandidateViaProbe(t *testing.T) {
	reg := tmp2mRegistry()
	now := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)
	probeTarget := time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC) // one cadence step before the aligned 12z

	fetcher := &fakeProbeFetcher{okAt: map[time.Time]bool{probeTarget: true}}
	deps := pipeline.Deps{Registry: reg, Fetcher: fetcher, DataRoot: t.TempDir()}
	s := New(Config{Model: "hrrr"}, deps)
	s.Now = func() time.Time { return now }

	model, err := reg.GetModel("hrrr")
	require.NoError(t, err)
	run, runTime, err := s.resolveRun(context.Background(), model)
	require.NoError(t, err)
	assert.Equal(t, "20260115_06z", run)
	assert.Equal(t, probeTarget, runTime)
}

func TestResolveRunFallsBackWhenAllProbesMiss(t *testing.T) {
	reg := tmp2mRegistry()
	now := time.Date(2026, 1, 15, 13, 0, 0, 0, time.UTC)
	fetcher := &fakeProbeFetcher{okAt: map[time.Time]bool{}}
	deps := pipeline.Deps{Registry: reg, Fetcher: fetcher, DataRoot: t.TempDir()}
	s := New(Config{Model: "hrrr"}, deps)
	s.Now = func() time.Time { return now }

	model, err := reg.GetModel("hrrr")
	require.NoError(t, err)
	run, runTime, err := s.resolveRun(context.Background(), model)
	require.NoError(t, err)
	// fallback: now (13:00) - 6h lag = 07:00, aligned down to cadence 6 -> 06:00
	assert.Equal(t, "20260115_06z", run)
	assert.Equal(t, time.Date(2026, 1, 15, 6, 0, 0, 0, time.UTC), runTime)
}

func TestTargetVariablesFiltersToBuildable(t *testing.T) {
	reg := capabilities.NewRegistry(capabilities.ModelCapability{
		ModelID: "hrrr", ProductCode: "hrrr", CanonicalRegion: "conus",
		VariableCatalog: map[string]capabilities.VariableCapability{
			"tmp2m":      {VarKey: "tmp2m", Primary: true, Order: 1},
			"unbuilable": {VarKey: "unbuilable", Order: 2},
		},
	})
	deps := pipeline.Deps{Registry: reg, DataRoot: t.TempDir()}
	s := New(Config{Model: "hrrr"}, deps)

	model, err := reg.GetModel("hrrr")
	require.NoError(t, err)
	vars, err := s.targetVariables(model)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "tmp2m", vars[0].VarKey)
}
