// Package capabilities holds the typed model/variable catalog described in
// spec.md sections 3 and 4.4: immutable value records keyed by string,
// resolved through the registry on every call rather than linked by parent
// pointer (spec.md section 9's "cyclic / nested structures" design note).
package capabilities

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wxgrid/nwxserve/internal/wxerr"
)

// VariableKind is the shape of values a variable's pixels hold.
type VariableKind string

const (
	KindContinuous VariableKind = "continuous"
	KindDiscrete   VariableKind = "discrete"
	KindIndexed    VariableKind = "indexed"
)

// Selectors describes how to fetch the GRIB messages a variable needs.
type Selectors struct {
	Patterns  []string          // ordered GRIB search patterns
	FilterKey map[string]string // GRIB filter-key constraints (e.g. typeOfLevel)
	Hints     map[string]string // free-form hints for derive-strategy wiring
}

// Constraint bounds which forecast hours are buildable for a variable.
type Constraint struct {
	MinFH int
	MaxFH int // 0 means "no declared upper bound"
}

// VariableCapability is the immutable per-variable record (spec.md section 3).
type VariableCapability struct {
	VarKey            string
	DisplayName       string
	Kind              VariableKind
	Units             string
	ConversionID      string
	ColorMapID        string
	DeriveStrategyID  string
	Selectors         Selectors
	Primary           bool
	Derived           bool
	DefaultFH         *int
	Order             int
	Constraint        Constraint
	AllowDryFrame     bool
	Aliases           []string
	// DisplaySmoothingSigma is the Gaussian sigma (in pixels) applied to a
	// continuous variable's warped field before colorization, softening
	// quantization banding on the served RGBA without touching the value
	// COG. Zero disables smoothing. Ignored for discrete/indexed kinds.
	DisplaySmoothingSigma float64
}

// Buildable reports whether this variable can ever be produced: at least
// one of Primary or Derived must hold (spec.md section 3).
func (v VariableCapability) Buildable() bool {
	return v.Primary || v.Derived
}

// RunDiscovery configures how a model's Scheduler finds the latest upstream cycle.
type RunDiscovery struct {
	ProbeVarKey       string
	ProbeEnabled      bool
	CadenceHours      int
	ProbeAttempts     int
	FallbackLagHours  int
}

// ModelCapability is the immutable per-model record (spec.md section 3).
type ModelCapability struct {
	ModelID          string
	DisplayName      string
	ProductCode      string
	CanonicalRegion  string
	TargetMetersPerPixel map[string]float64 // keyed by region
	RunDiscovery     RunDiscovery
	DefaultSelections map[string]string
	VariableCatalog  map[string]VariableCapability
	RegionAliases    map[string]string // historical region alias -> canonical region, e.g. "pnw" -> "conus"
}

// Registry is the read-only, process-wide capability catalog. It is built
// once at startup (NewRegistry) and never mutated afterward.
type Registry struct {
	models map[string]ModelCapability
	order  []string // model ids sorted ascending, used for deterministic serialization
}

// NewRegistry constructs a Registry from the given models, indexed by ModelID.
// Models must have unique, non-empty ModelIDs or construction panics: this is
// a programming error in the capability catalog wiring, not a runtime condition.
func NewRegistry(models ...ModelCapability) *Registry {
	r := &Registry{models: make(map[string]ModelCapability, len(models))}
	for _, m := range models {
		if m.ModelID == "" {
			panic("capabilities: model with empty ModelID")
		}
		if _, exists := r.models[m.ModelID]; exists {
			panic(fmt.Sprintf("capabilities: duplicate model id %q", m.ModelID))
		}
		r.models[m.ModelID] = m
		r.order = append(r.order, m.ModelID)
	}
	sort.Strings(r.order)
	return r
}

// ListModels returns all configured models in a deterministic (sorted by id) order.
func (r *Registry) ListModels() []ModelCapability {
	out := make([]ModelCapability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// GetModel resolves model_id to its capability record.
func (r *Registry) GetModel(modelID string) (ModelCapability, error) {
	m, ok := r.models[modelID]
	if !ok {
		return ModelCapability{}, fmt.Errorf("model %q: %w", modelID, wxerr.ErrUnknownModel)
	}
	return m, nil
}

// GetVariable resolves (model_id, var_key) to its capability record.
func (r *Registry) GetVariable(modelID, varKey string) (VariableCapability, error) {
	m, err := r.GetModel(modelID)
	if err != nil {
		return VariableCapability{}, err
	}
	v, ok := m.VariableCatalog[varKey]
	if !ok {
		return VariableCapability{}, fmt.Errorf("variable %q on model %q: %w", varKey, modelID, wxerr.ErrUnknownVariable)
	}
	return v, nil
}

// OrderedVariables returns all of modelID's variables (buildable or not)
// sorted by their
// declared display Order, then by var_key for ties (spec.md section 4.9's
// /{model}/{run}/vars endpoint: "registry order").
func (r *Registry) OrderedVariables(modelID string) ([]VariableCapability, error) {
	m, err := r.GetModel(modelID)
	if err != nil {
		return nil, err
	}
	out := make([]VariableCapability, 0, len(m.VariableCatalog))
	for _, v := range m.VariableCatalog {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].VarKey < out[j].VarKey
	})
	return out, nil
}

// NormalizeVarKey resolves raw case-insensitively: the lowercased key is
// returned when it is itself a known var_key; otherwise the model's
// declared alias table is searched.
func (r *Registry) NormalizeVarKey(modelID, raw string) (string, error) {
	m, err := r.GetModel(modelID)
	if err != nil {
		return "", err
	}
	lraw := strings.ToLower(raw)
	if _, ok := m.VariableCatalog[lraw]; ok {
		return lraw, nil
	}
	for key, v := range m.VariableCatalog {
		for _, alias := range v.Aliases {
			if strings.EqualFold(alias, raw) {
				return key, nil
			}
		}
	}
	return "", fmt.Errorf("variable alias %q on model %q: %w", raw, modelID, wxerr.ErrUnknownVariable)
}

// ProbePattern returns the first search pattern for a variable, used by the
// scheduler's run-discovery probe.
func (r *Registry) ProbePattern(modelID, varKey string) (string, error) {
	v, err := r.GetVariable(modelID, varKey)
	if err != nil {
		return "", err
	}
	if len(v.Selectors.Patterns) == 0 {
		return "", fmt.Errorf("variable %q on model %q declares no search patterns: %w", varKey, modelID, wxerr.ErrUnknownVariable)
	}
	return v.Selectors.Patterns[0], nil
}

// NormalizeRegion maps a historical region alias (e.g. "pnw") to its
// canonical region for modelID, per the Open Question decision in DESIGN.md:
// only "conus" is a canonical coverage; "pnw" is flattened to it.
func (r *Registry) NormalizeRegion(modelID, region string) (string, error) {
	m, err := r.GetModel(modelID)
	if err != nil {
		return "", err
	}
	if canon, ok := m.RegionAliases[region]; ok {
		return canon, nil
	}
	return region, nil
}

// GridParams reports the meters-per-pixel target for (modelID, region),
// failing with ErrUnknownCoverage if the pair isn't configured (spec.md 4.1).
func (r *Registry) GridParams(modelID, region string) (float64, error) {
	m, err := r.GetModel(modelID)
	if err != nil {
		return 0, err
	}
	canon, err := r.NormalizeRegion(modelID, region)
	if err != nil {
		return 0, err
	}
	mpp, ok := m.TargetMetersPerPixel[canon]
	if !ok {
		return 0, fmt.Errorf("model %q region %q: %w", modelID, region, wxerr.ErrUnknownCoverage)
	}
	return mpp, nil
}
