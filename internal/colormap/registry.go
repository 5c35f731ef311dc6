package colormap

import "fmt"

// SpecKind tags which of the three spec shapes a NamedSpec carries.
type SpecKind string

const (
	SpecContinuous SpecKind = "continuous"
	SpecDiscrete   SpecKind = "discrete"
	SpecIndexed    SpecKind = "indexed"
)

// NamedSpec is one color_map_id's immutable spec (spec.md section 3's
// "Color-map spec... keyed by color_map_id"). Only the field matching Kind
// is meaningful.
type NamedSpec struct {
	ID         string
	Kind       SpecKind
	Continuous ContinuousSpec
	Discrete   DiscreteSpec
	Indexed    IndexedSpec
}

// Catalog is the immutable, process-wide color-map catalog, resolved by
// color_map_id the same way internal/capabilities.Registry resolves models.
type Catalog struct {
	specs map[string]NamedSpec
}

// NewCatalog builds a Catalog from the given specs, indexed by ID. Specs
// must have unique, non-empty IDs or construction panics: a programming
// error in catalog wiring, not a runtime condition.
func NewCatalog(specs ...NamedSpec) *Catalog {
	c := &Catalog{specs: make(map[string]NamedSpec, len(specs))}
	for _, s := range specs {
		if s.ID == "" {
			panic("colormap: spec with empty ID")
		}
		if _, exists := c.specs[s.ID]; exists {
			panic(fmt.Sprintf("colormap: duplicate color_map_id %q", s.ID))
		}
		c.specs[s.ID] = s
	}
	return c
}

// Get resolves a color_map_id to its NamedSpec.
func (c *Catalog) Get(colorMapID string) (NamedSpec, bool) {
	s, ok := c.specs[colorMapID]
	return s, ok
}

// Apply resolves colorMapID and runs the matching Apply* function over data.
func (c *Catalog) Apply(colorMapID string, data []float32, width, height int) (Result, error) {
	s, ok := c.specs[colorMapID]
	if !ok {
		return Result{}, fmt.Errorf("colormap: unknown color_map_id %q", colorMapID)
	}
	switch s.Kind {
	case SpecContinuous:
		return ApplyContinuous(data, width, height, s.Continuous), nil
	case SpecDiscrete:
		return ApplyDiscrete(data, s.Discrete), nil
	case SpecIndexed:
		return ApplyIndexed(data, s.Indexed), nil
	default:
		return Result{}, fmt.Errorf("colormap: color_map_id %q has unrecognized kind %q", colorMapID, s.Kind)
	}
}
