// Package convert implements the unit-conversion registry referenced by
// spec.md section 4.7: variables name a conversion_id (falling back to
// var_key), resolved here to a pure per-pixel function. Pure numeric code,
// same justification as internal/colormap for staying on stdlib math.
package convert

import "math"

// Func converts one finite value from a variable's native unit to its
// display unit. Callers never invoke Func on NaN inputs directly; use Apply.
type Func func(float64) float64

const (
	mpsToMph  = 2.2369362920544
	inchesPerMeter = 39.3700787401575
	inchesPerMM    = 1.0 / 25.4
)

// KtoF converts Kelvin to Fahrenheit via Celsius (spec.md section 4.7's
// "K -> C -> F").
func KtoF(k float64) float64 { return (k-273.15)*9/5 + 32 }

// MpsToMph converts meters/second to miles/hour.
func MpsToMph(v float64) float64 { return v * mpsToMph }

// MToIn converts meters to inches.
func MToIn(v float64) float64 { return v * inchesPerMeter }

// Kgm2ToIn converts kg/m^2 of liquid-equivalent precipitation (1 kg/m^2 ==
// 1 mm depth) to inches.
func Kgm2ToIn(v float64) float64 { return v * inchesPerMM }

// Identity passes a value through unchanged; the zero value for variables
// whose conversion_id resolves to nothing.
func Identity(v float64) float64 { return v }

var registry = map[string]Func{
	"k_to_f":     KtoF,
	"mps_to_mph": MpsToMph,
	"m_to_in":    MToIn,
	"kgm2_to_in": Kgm2ToIn,
}

// Lookup resolves conversionID (preferred) or varKey to a Func, per spec.md
// section 4.7's "looked up by the variable's conversion_id (preferred) with
// fallback to variable-key." Returns false if neither resolves.
func Lookup(conversionID, varKey string) (Func, bool) {
	if conversionID != "" {
		if f, ok := registry[conversionID]; ok {
			return f, true
		}
	}
	if f, ok := registry[varKey]; ok {
		return f, true
	}
	return nil, false
}

// Apply runs f over every finite element of data, leaving NaNs untouched.
// A nil f is treated as Identity so callers can apply unconditionally.
func Apply(f Func, data []float32) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		if math.IsNaN(float64(v)) {
			out[i] = v
			continue
		}
		if f == nil {
			out[i] = v
			continue
		}
		out[i] = float32(f(float64(v)))
	}
	return out
}
