// Package formula computes PCI effort units and cost from task factors.
//
// Every function here is pure and total: out-of-range factors are accepted
// and produce a number. Range guidance is reported by (Factors).Advisories
// and never enforced.
package formula

import (
	"fmt"
	"math"
	"strings"
)

// Factors are the eleven inputs of the PCI formula.
type Factors struct {
	ISR  float64 `json:"ISR" yaml:"ISR"`   // initial scope rating
	CF   float64 `json:"CF" yaml:"CF"`     // complexity factor
	UXI  float64 `json:"UXI" yaml:"UXI"`   // UX intensity
	RCF  float64 `json:"RCF" yaml:"RCF"`   // risk & compliance factor
	AEP  float64 `json:"AEP" yaml:"AEP"`   // architecture/engineering points
	L    float64 `json:"L" yaml:"L"`       // leverage (reuse) deduction
	MLW  float64 `json:"MLW" yaml:"MLW"`   // multi-layer weight
	CGW  float64 `json:"CGW" yaml:"CGW"`   // cross-group weight
	RF   float64 `json:"RF" yaml:"RF"`     // regression factor
	S    float64 `json:"S" yaml:"S"`       // specialty
	GLRI float64 `json:"GLRI" yaml:"GLRI"` // governance/legal/regulatory index
}

// Names lists the factor names in canonical (export) order.
var Names = []string{"ISR", "CF", "UXI", "RCF", "AEP", "L", "MLW", "CGW", "RF", "S", "GLRI"}

// DefaultFactors returns the factors a new task starts with.
func DefaultFactors() Factors {
	return Factors{
		ISR: 1, CF: 1, UXI: 1,
		RCF: 1, AEP: 1, L: 0,
		MLW: 1, CGW: 1, RF: 1,
		S: 1, GLRI: 1,
	}
}

// CategoryGroups holds the four group totals of the formula.
type CategoryGroups struct {
	ScopeComplexity     float64 `json:"scopeComplexity"`
	RiskEngineering     float64 `json:"riskEngineering"`
	MultiLayer          float64 `json:"multiLayer"`
	SpecialtyGovernance float64 `json:"specialtyGovernance"`
}

// Total sums the groups left to right.
func (g CategoryGroups) Total() float64 {
	return g.ScopeComplexity + g.RiskEngineering + g.MultiLayer + g.SpecialtyGovernance
}

// Add returns the element-wise sum of g and o.
func (g CategoryGroups) Add(o CategoryGroups) CategoryGroups {
	return CategoryGroups{
		ScopeComplexity:     g.ScopeComplexity + o.ScopeComplexity,
		RiskEngineering:     g.RiskEngineering + o.RiskEngineering,
		MultiLayer:          g.MultiLayer + o.MultiLayer,
		SpecialtyGovernance: g.SpecialtyGovernance + o.SpecialtyGovernance,
	}
}

// Groups evaluates the four formula groups.
//
// The explicit float64 conversions round each product before the next
// operation so the compiler cannot fuse multiply-add; results stay
// bit-identical across architectures.
func Groups(f Factors) CategoryGroups {
	return CategoryGroups{
		ScopeComplexity:     float64(float64(f.ISR*f.CF) * f.UXI),
		RiskEngineering:     float64(f.RCF*f.AEP) - f.L,
		MultiLayer:          float64(float64(f.MLW*f.CGW) * f.RF),
		SpecialtyGovernance: float64(f.S * f.GLRI),
	}
}

// Compute returns the PCI units for f.
func Compute(f Factors) float64 {
	return Groups(f).Total()
}

// Cost converts units to money at rate (units × rate).
func Cost(units, rate float64) float64 {
	return units * rate
}

// Hours converts units to hours with the configured unit-to-hour ratio.
// It is informational and never feeds Cost.
func Hours(units, ratio float64) float64 {
	return units * ratio
}

// Values returns the factors in Names order.
func (f Factors) Values() []float64 {
	return []float64{f.ISR, f.CF, f.UXI, f.RCF, f.AEP, f.L, f.MLW, f.CGW, f.RF, f.S, f.GLRI}
}

func (f *Factors) field(name string) *float64 {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ISR":
		return &f.ISR
	case "CF":
		return &f.CF
	case "UXI":
		return &f.UXI
	case "RCF":
		return &f.RCF
	case "AEP":
		return &f.AEP
	case "L":
		return &f.L
	case "MLW":
		return &f.MLW
	case "CGW":
		return &f.CGW
	case "RF":
		return &f.RF
	case "S":
		return &f.S
	case "GLRI":
		return &f.GLRI
	}
	return nil
}

// Set assigns the named factor (case-insensitive).
func (f *Factors) Set(name string, v float64) error {
	p := f.field(name)
	if p == nil {
		return fmt.Errorf("unknown factor %q", name)
	}
	*p = v
	return nil
}

// Get returns the named factor.
func (f Factors) Get(name string) (float64, bool) {
	p := f.field(name)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Finite reports whether every factor is a finite number.
func (f Factors) Finite() bool {
	for _, v := range f.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FactorChange is one entry of a factor diff.
type FactorChange struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Diff returns the factors that differ between f and next, keyed by name.
func (f Factors) Diff(next Factors) map[string]FactorChange {
	out := make(map[string]FactorChange)
	a, b := f.Values(), next.Values()
	for i, name := range Names {
		if a[i] != b[i] {
			out[name] = FactorChange{From: a[i], To: b[i]}
		}
	}
	return out
}

// Advisories returns notices for values outside the domain guidance.
func (f Factors) Advisories() []string {
	var notes []string
	if f.ISR < 1 || f.ISR > 10 {
		notes = append(notes, fmt.Sprintf("ISR %.2f outside recommended range [1,10]", f.ISR))
	}
	multipliers := map[string]float64{
		"CF": f.CF, "UXI": f.UXI, "RCF": f.RCF, "AEP": f.AEP,
		"MLW": f.MLW, "CGW": f.CGW, "RF": f.RF, "S": f.S, "GLRI": f.GLRI,
	}
	for _, name := range Names {
		if v, ok := multipliers[name]; ok && v < 0 {
			notes = append(notes, fmt.Sprintf("%s %.2f is negative", name, v))
		}
	}
	return notes
}
