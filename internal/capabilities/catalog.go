package capabilities

// defaultDisplaySmoothingSigma is the Gaussian sigma (pixels) applied to
// continuous variables' display data before colorization, grounded on
// original_source's `_prepare_display_data_for_colorize` test fixtures
// (`display_smoothing_sigma: 0.8`). GFS skips this regardless of the value
// declared here — see internal/pipeline's display-smoothing gate.
const defaultDisplaySmoothingSigma = 0.8

// DefaultRegistry builds the HRRR and GFS model catalogs cmd/scheduler and
// cmd/buildframe wire against by default, grounded directly on
// original_source's app/models/hrrr.py and app/models/gfs.py plugin
// definitions. Deployments that need a different catalog construct their
// own Registry with NewRegistry instead of calling this.
func DefaultRegistry() *Registry {
	return NewRegistry(hrrrModel(), gfsModel())
}

func hrrrModel() ModelCapability {
	fh0 := 0
	return ModelCapability{
		ModelID:         "hrrr",
		DisplayName:     "HRRR",
		ProductCode:     "sfc",
		CanonicalRegion: "conus",
		TargetMetersPerPixel: map[string]float64{
			"conus": 3000,
		},
		RegionAliases: map[string]string{
			"pnw": "conus",
		},
		RunDiscovery: RunDiscovery{
			ProbeVarKey:      "tmp2m",
			ProbeEnabled:     true,
			CadenceHours:     1,
			ProbeAttempts:    6,
			FallbackLagHours: 2,
		},
		DefaultSelections: map[string]string{
			"region": "conus",
		},
		VariableCatalog: map[string]VariableCapability{
			"tmp2m": {
				VarKey:      "tmp2m",
				DisplayName: "2m Temp",
				Kind:        KindContinuous,
				Units:       "degF",
				ConversionID: "k_to_f",
				ColorMapID:  "tmp2m",
				Primary:     true,
				DefaultFH:   &fh0,
				Order:       0,
				DisplaySmoothingSigma: defaultDisplaySmoothingSigma,
				Selectors: Selectors{
					Patterns: []string{":TMP:2 m above ground:"},
					FilterKey: map[string]string{
						"shortName":   "2t",
						"typeOfLevel": "heightAboveGround",
						"level":       "2",
					},
					Hints: map[string]string{"upstream_var": "t2m"},
				},
				Aliases: []string{"t2m", "2t"},
			},
			"10u": {
				VarKey:      "10u",
				DisplayName: "10m U Wind",
				Kind:        KindContinuous,
				Units:       "mps",
				Order:       1,
				DisplaySmoothingSigma: defaultDisplaySmoothingSigma,
				Selectors: Selectors{
					Patterns: []string{":UGRD:10 m above ground:"},
					FilterKey: map[string]string{
						"shortName":   "10u",
						"typeOfLevel": "heightAboveGround",
						"level":       "10",
					},
					Hints: map[string]string{"upstream_var": "10u"},
				},
			},
			"10v": {
				VarKey:      "10v",
				DisplayName: "10m V Wind",
				Kind:        KindContinuous,
				Units:       "mps",
				Order:       2,
				DisplaySmoothingSigma: defaultDisplaySmoothingSigma,
				Selectors: Selectors{
					Patterns: []string{":VGRD:10 m above ground:"},
					FilterKey: map[string]string{
						"shortName":   "10v",
						"typeOfLevel": "heightAboveGround",
						"level":       "10",
					},
					Hints: map[string]string{"upstream_var": "10v"},
				},
			},
			"wspd10m": {
				VarKey:           "wspd10m",
				DisplayName:      "10m Wind Speed",
				Kind:             KindContinuous,
				Units:            "mph",
				ConversionID:     "mps_to_mph",
				ColorMapID:       "wspd10m",
				DeriveStrategyID: "wspd10m",
				Derived:          true,
				Order:            3,
				DisplaySmoothingSigma: defaultDisplaySmoothingSigma,
				Selectors: Selectors{
					Patterns: []string{":UGRD:10 m above ground:", ":VGRD:10 m above ground:"},
					Hints:    map[string]string{"u_component": "10u", "v_component": "10v"},
				},
			},
			"refc": {
				VarKey:      "refc",
				DisplayName: "Composite Reflectivity",
				Kind:        KindContinuous,
				Units:       "dBZ",
				ColorMapID:  "refc",
				Order:       4,
				DisplaySmoothingSigma: defaultDisplaySmoothingSigma,
				Selectors: Selectors{
					Patterns:  []string{":REFC:"},
					FilterKey: map[string]string{"shortName": "refc"},
					Hints:     map[string]string{"upstream_var": "refc"},
				},
				Aliases: []string{"cref"},
			},
			"crain": {
				VarKey:      "crain",
				DisplayName: "Categorical Rain",
				Kind:        KindIndexed,
				AllowDryFrame: true,
				Order:       5,
				Selectors: Selectors{
					Patterns:  []string{":CRAIN:surface:"},
					FilterKey: map[string]string{"shortName": "crain", "typeOfLevel": "surface"},
					Hints:     map[string]string{"upstream_var": "crain"},
				},
			},
			"csnow": {
				VarKey:      "csnow",
				DisplayName: "Categorical Snow",
				Kind:        KindIndexed,
				AllowDryFrame: true,
				Order:       6,
				Selectors: Selectors{
					Patterns:  []string{":CSNOW:surface:"},
					FilterKey: map[string]string{"shortName": "csnow", "typeOfLevel": "surface"},
					Hints:     map[string]string{"upstream_var": "csnow"},
				},
			},
			"cicep": {
				VarKey:      "cicep",
				DisplayName: "Categorical Sleet",
				Kind:        KindIndexed,
				AllowDryFrame: true,
				Order:       7,
				Selectors: Selectors{
					Patterns:  []string{":CICEP:surface:"},
					FilterKey: map[string]string{"shortName": "cicep", "typeOfLevel": "surface"},
					Hints:     map[string]string{"upstream_var": "cicep"},
				},
			},
			"cfrzr": {
				VarKey:      "cfrzr",
				DisplayName: "Categorical Freezing Rain",
				Kind:        KindIndexed,
				AllowDryFrame: true,
				Order:       8,
				Selectors: Selectors{
					Patterns:  []string{":CFRZR:surface:"},
					FilterKey: map[string]string{"shortName": "cfrzr", "typeOfLevel": "surface"},
					Hints:     map[string]string{"upstream_var": "cfrzr"},
				},
			},
			"radar_ptype": {
				VarKey:           "radar_ptype",
				DisplayName:      "Composite Reflectivity + P-Type",
				Kind:             KindIndexed,
				ColorMapID:       "radar_ptype",
				DeriveStrategyID: "radar_ptype_combo",
				Derived:          true,
				Order:            9,
				Selectors: Selectors{
					Patterns: []string{":REFC:", ":CRAIN:surface:", ":CSNOW:surface:", ":CICEP:surface:", ":CFRZR:surface:"},
					Hints: map[string]string{
						"refl_component":  "refc",
						"rain_component":  "crain",
						"snow_component":  "csnow",
						"sleet_component": "cicep",
						"frzr_component":  "cfrzr",
					},
				},
			},
		},
	}
}

func gfsModel() ModelCapability {
	return ModelCapability{
		ModelID:         "gfs",
		DisplayName:     "GFS",
		ProductCode:     "pgrb2",
		CanonicalRegion: "global",
		TargetMetersPerPixel: map[string]float64{
			"global": 25000,
			"conus":  25000,
		},
		RunDiscovery: RunDiscovery{
			ProbeVarKey:      "tmp2m",
			ProbeEnabled:     true,
			CadenceHours:     6,
			ProbeAttempts:    4,
			FallbackLagHours: 4,
		},
		DefaultSelections: map[string]string{
			"region": "global",
		},
		VariableCatalog: map[string]VariableCapability{
			"tmp2m": {
				VarKey:       "tmp2m",
				DisplayName:  "2m Temp",
				Kind:         KindContinuous,
				Units:        "degF",
				ConversionID: "k_to_f",
				ColorMapID:   "tmp2m",
				Primary:      true,
				Order:        0,
				DisplaySmoothingSigma: defaultDisplaySmoothingSigma,
				Selectors: Selectors{
					Patterns:  []string{":TMP:2 m above ground:"},
					FilterKey: map[string]string{"shortName": "2t", "typeOfLevel": "heightAboveGround", "level": "2"},
					Hints:     map[string]string{"upstream_var": "t2m"},
				},
				Aliases: []string{"t2m", "2t"},
			},
			"qpf6h": {
				VarKey:       "qpf6h",
				DisplayName:  "6hr QPF",
				Kind:         KindContinuous,
				Units:        "in",
				ConversionID: "kgm2_to_in",
				ColorMapID:   "qpf6h",
				Constraint:   Constraint{MinFH: 6},
				Order:        1,
				DisplaySmoothingSigma: defaultDisplaySmoothingSigma,
				Selectors: Selectors{
					Patterns:  []string{":APCP:surface:"},
					FilterKey: map[string]string{"shortName": "tp", "typeOfLevel": "surface"},
					Hints:     map[string]string{"upstream_var": "apcp"},
				},
			},
		},
	}
}
