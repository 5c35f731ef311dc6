// Package manifest defines the JSON-facing shapes written alongside built
// frames: the per-run manifest, the LATEST.json pointer, and the per-frame
// sidecar (spec.md sections 3 and 6). It is pure marshal/unmarshal/validate
// logic; atomic filesystem writes live in internal/layout.
package manifest

import (
	"encoding/json"
	"time"

	"github.com/wxgrid/nwxserve/internal/colormap"
)

// ContractVersion is embedded in every manifest/sidecar this package emits,
// matching internal/capabilities.ContractVersion.
const ContractVersion = "3.0"

// FrameRef is one built forecast hour within a run manifest's variable entry.
type FrameRef struct {
	FH        int        `json:"fh"`
	ValidTime *time.Time `json:"valid_time,omitempty"`
}

// VariableManifest tracks one variable's build progress within a run.
type VariableManifest struct {
	Kind            string     `json:"kind"`
	Units           string     `json:"units,omitempty"`
	ExpectedFrames  int        `json:"expected_frames"`
	AvailableFrames int        `json:"available_frames"`
	Frames          []FrameRef `json:"frames"`
}

// RunManifest is the per-(model,run) JSON document (spec.md section 3).
type RunManifest struct {
	ContractVersion string                      `json:"contract_version"`
	Model           string                      `json:"model"`
	Run             string                      `json:"run"`
	Variables       map[string]VariableManifest `json:"variables"`
	LastUpdated     time.Time                   `json:"last_updated"`
}

// New builds an empty manifest for (model, run).
func New(model, run string) *RunManifest {
	return &RunManifest{
		ContractVersion: ContractVersion,
		Model:           model,
		Run:             run,
		Variables:       map[string]VariableManifest{},
	}
}

// SetExpected declares how many frames varKey should eventually have,
// creating the entry if absent without disturbing frames already recorded.
func (m *RunManifest) SetExpected(varKey, kind, units string, expectedFrames int) {
	v := m.Variables[varKey]
	v.Kind = kind
	v.Units = units
	v.ExpectedFrames = expectedFrames
	m.Variables[varKey] = v
}

// RecordFrame marks forecast hour fh built for varKey, keeping Frames sorted
// by fh and AvailableFrames consistent with len(Frames). Recording the same
// fh twice is a no-op (idempotent rebuilds don't inflate the count).
func (m *RunManifest) RecordFrame(varKey string, fh int, validTime *time.Time) {
	v := m.Variables[varKey]
	for _, f := range v.Frames {
		if f.FH == fh {
			return
		}
	}
	v.Frames = append(v.Frames, FrameRef{FH: fh, ValidTime: validTime})
	sortFrames(v.Frames)
	v.AvailableFrames = len(v.Frames)
	m.Variables[varKey] = v
}

func sortFrames(frames []FrameRef) {
	for i := 1; i < len(frames); i++ {
		for j := i; j > 0 && frames[j].FH < frames[j-1].FH; j-- {
			frames[j], frames[j-1] = frames[j-1], frames[j]
		}
	}
}

// Complete reports whether every declared variable has reached its expected
// frame count, and at least one variable is declared (spec.md section 3: "A
// run is complete iff every variable's available_frames >= expected_frames
// >= 1 and every expected_frames > 0").
func (m *RunManifest) Complete() bool {
	if len(m.Variables) == 0 {
		return false
	}
	for _, v := range m.Variables {
		if v.ExpectedFrames <= 0 {
			return false
		}
		if v.AvailableFrames < v.ExpectedFrames {
			return false
		}
	}
	return true
}

// Marshal renders m as indented JSON, stamping LastUpdated to now.
func (m *RunManifest) Marshal(now time.Time) ([]byte, error) {
	m.LastUpdated = now
	return json.MarshalIndent(m, "", "  ")
}

// Unmarshal parses a run manifest document.
func Unmarshal(data []byte) (*RunManifest, error) {
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LatestPointer is the per-model LATEST.json document (spec.md sections 3
// and 6).
type LatestPointer struct {
	RunID      string    `json:"run_id"`
	CycleUTC   time.Time `json:"cycle_utc"`
	UpdatedUTC time.Time `json:"updated_utc"`
	Source     string    `json:"source"`
}

// Marshal renders p as indented JSON.
func (p LatestPointer) Marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// UnmarshalLatestPointer parses a LATEST.json document.
func UnmarshalLatestPointer(data []byte) (LatestPointer, error) {
	var p LatestPointer
	err := json.Unmarshal(data, &p)
	return p, err
}

// ContourRef points at an auxiliary contour artifact produced alongside a
// frame (spec.md section 6's "contours" sidecar field).
type ContourRef struct {
	Format string  `json:"format"`
	Path   string  `json:"path"`
	SRS    string  `json:"srs"`
	Level  float64 `json:"level"`
}

// FrameSidecar is the per-frame fhNNN.json document (spec.md section 6).
type FrameSidecar struct {
	ContractVersion            string                 `json:"contract_version"`
	Model                      string                 `json:"model"`
	Run                        string                 `json:"run"`
	Var                        string                 `json:"var"`
	FH                         int                    `json:"fh"`
	ValidTime                  time.Time              `json:"valid_time"`
	Units                      string                 `json:"units,omitempty"`
	Kind                       string                 `json:"kind"`
	Min                        *float64               `json:"min"`
	Max                        *float64               `json:"max"`
	Legend                     colormap.Legend        `json:"legend"`
	HoverValueDownsampleFactor int                    `json:"hover_value_downsample_factor,omitempty"`
	PtypeOrder                 []string               `json:"ptype_order,omitempty"`
	PtypeBreaks                map[string]interface{} `json:"ptype_breaks,omitempty"`
	PtypeLevels                map[string]interface{} `json:"ptype_levels,omitempty"`
	Contours                   map[string]ContourRef  `json:"contours,omitempty"`
}

// Marshal renders s as indented JSON, stamping ContractVersion.
func (s FrameSidecar) Marshal() ([]byte, error) {
	s.ContractVersion = ContractVersion
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalFrameSidecar parses a fhNNN.json document.
func UnmarshalFrameSidecar(data []byte) (FrameSidecar, error) {
	var s FrameSidecar
	err := json.Unmarshal(data, &s)
	return s, err
}
