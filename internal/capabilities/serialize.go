package capabilities

import "sort"

// ContractVersion is embedded in every serialized payload this package emits.
const ContractVersion = "3.0"

// VariableView is the JSON-facing projection of a VariableCapability.
type VariableView struct {
	DisplayName      string `json:"display_name"`
	Kind             string `json:"kind"`
	Units            string `json:"units,omitempty"`
	ConversionID     string `json:"conversion_id,omitempty"`
	ColorMapID       string `json:"color_map_id,omitempty"`
	DeriveStrategyID string `json:"derive_strategy_id,omitempty"`
	Primary          bool   `json:"primary"`
	Derived          bool   `json:"derived"`
	Buildable        bool   `json:"buildable"`
	DefaultFH        *int   `json:"default_fh,omitempty"`
	Order            int    `json:"order"`
}

// ModelView is the JSON-facing projection of a ModelCapability.
type ModelView struct {
	DisplayName string                   `json:"display_name"`
	ProductCode string                   `json:"product_code"`
	Region      string                   `json:"canonical_region"`
	Variables   map[string]VariableView  `json:"variables"`
}

// Availability reports a model's published-run state for serialization.
type Availability struct {
	LatestRun      string   `json:"latest_run,omitempty"`
	PublishedRuns  []string `json:"published_runs"`
}

// Document is the full capabilities payload the Read API's /capabilities
// endpoint serves (spec.md section 4.4).
type Document struct {
	ContractVersion string                   `json:"contract_version"`
	SupportedModels []string                 `json:"supported_models"`
	ModelCatalog    map[string]ModelView     `json:"model_catalog"`
	Availability    map[string]Availability  `json:"availability"`
}

// AvailabilityLookup resolves a model's latest run and published-run list;
// implemented by internal/layout so this package stays I/O-free.
type AvailabilityLookup interface {
	LatestRun(modelID string) (string, bool)
	PublishedRuns(modelID string) []string
}

// Serialize flattens the registry into a deterministic Document. Map
// iteration order never leaks into the JSON because SupportedModels is
// sorted and every nested map is addressed by stable string keys that
// encoding/json itself sorts when marshaling map[string]T.
func (r *Registry) Serialize(avail AvailabilityLookup) Document {
	doc := Document{
		ContractVersion: ContractVersion,
		ModelCatalog:    make(map[string]ModelView, len(r.models)),
		Availability:    make(map[string]Availability, len(r.models)),
	}
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	doc.SupportedModels = ids

	for _, id := range ids {
		m := r.models[id]
		mv := ModelView{
			DisplayName: m.DisplayName,
			ProductCode: m.ProductCode,
			Region:      m.CanonicalRegion,
			Variables:   make(map[string]VariableView, len(m.VariableCatalog)),
		}
		for key, v := range m.VariableCatalog {
			mv.Variables[key] = VariableView{
				DisplayName:      v.DisplayName,
				Kind:             string(v.Kind),
				Units:            v.Units,
				ConversionID:     v.ConversionID,
				ColorMapID:       v.ColorMapID,
				DeriveStrategyID: v.DeriveStrategyID,
				Primary:          v.Primary,
				Derived:          v.Derived,
				Buildable:        v.Buildable(),
				DefaultFH:        v.DefaultFH,
				Order:            v.Order,
			}
		}
		doc.ModelCatalog[id] = mv

		av := Availability{PublishedRuns: []string{}}
		if avail != nil {
			if latest, ok := avail.LatestRun(id); ok {
				av.LatestRun = latest
			}
			av.PublishedRuns = avail.PublishedRuns(id)
		}
		doc.Availability[id] = av
	}
	return doc
}
