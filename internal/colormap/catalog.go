package colormap

// DefaultCatalog builds the color_map_id entries cmd/scheduler and
// cmd/buildframe wire against by default: a ramp per continuous variable
// and indexed palettes for the categorical precip-type variables, matching
// the variable set internal/capabilities.DefaultRegistry declares.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		NamedSpec{ID: "tmp2m", Kind: SpecContinuous, Continuous: ContinuousSpec{
			Min: -20, Max: 110,
			Anchors: []Anchor{
				{Value: -20, Color: RGBA{97, 0, 173, 255}},
				{Value: 0, Color: RGBA{0, 40, 200, 255}},
				{Value: 32, Color: RGBA{0, 170, 230, 255}},
				{Value: 60, Color: RGBA{0, 200, 90, 255}},
				{Value: 80, Color: RGBA{240, 220, 0, 255}},
				{Value: 100, Color: RGBA{220, 40, 20, 255}},
				{Value: 110, Color: RGBA{140, 0, 0, 255}},
			},
		}},
		NamedSpec{ID: "wspd10m", Kind: SpecContinuous, Continuous: ContinuousSpec{
			Min: 0, Max: 80,
			Colors: []RGBA{{235, 245, 255, 255}, {60, 140, 230, 255}, {20, 60, 160, 255}},
			TransparentBelowMin: true,
		}},
		NamedSpec{ID: "refc", Kind: SpecDiscrete, Discrete: DiscreteSpec{
			Breaks: []float64{5, 20, 30, 40, 50, 60, 70},
			Colors: []RGBA{
				{4, 233, 231, 255},
				{1, 159, 244, 255},
				{3, 0, 244, 255},
				{2, 253, 2, 255},
				{255, 233, 3, 255},
				{255, 145, 0, 255},
				{255, 0, 0, 255},
			},
			TransparentBelowMin: true,
		}},
		NamedSpec{ID: "qpf6h", Kind: SpecContinuous, Continuous: ContinuousSpec{
			Min: 0, Max: 4,
			Colors:              []RGBA{{200, 255, 200, 255}, {0, 150, 0, 255}, {0, 0, 180, 255}},
			TransparentBelowMin: true,
		}},
		NamedSpec{ID: "radar_ptype", Kind: SpecIndexed, Indexed: IndexedSpec{
			// index order: none, rain, snow, sleet, freezing rain
			Colors:          []RGBA{{0, 0, 0, 0}, {0, 200, 0, 255}, {200, 200, 255, 255}, {200, 0, 200, 255}, {255, 0, 0, 255}},
			TransparentZero: true,
		}},
	)
}
