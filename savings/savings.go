// Package savings computes the savings breakdown for a set of tasks.
package savings

import (
	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

// VendorMarkup is applied to the internal rate when a task has no vendor rate.
const VendorMarkup = 1.3

// Breakdown is the derived savings view. It is never persisted.
type Breakdown struct {
	OriginalEstimate      float64 `json:"originalEstimate"`
	OptimizedEstimate     float64 `json:"optimizedEstimate"`
	AIVerificationSavings float64 `json:"aiVerificationSavings"`
	VendorRateSavings     float64 `json:"vendorRateSavings"`
	BudgetEfficiency      float64 `json:"budgetEfficiency"`
	ActualSpent           float64 `json:"actualSpent"`
	TotalSavings          float64 `json:"totalSavings"`
	EfficiencyPercentage  float64 `json:"efficiencyPercentage"`
}

// Compute derives the breakdown for tasks under s. Nil and deleted tasks
// are dropped before any sum is taken.
func Compute(tasks []*task.Task, s settings.Settings) Breakdown {
	var original, optimized, vendorCost, actual float64
	for _, t := range tasks {
		if t == nil || t.Deleted {
			continue
		}
		rate := t.EffectiveRate(s)
		verified := t.VerifiedUnits()

		original += formula.Cost(formula.Compute(t.Factors), rate)
		optimized += formula.Cost(verified, rate)

		vendorRate := float64(rate * VendorMarkup)
		if t.VendorRate != nil {
			vendorRate = *t.VendorRate
		}
		vendorCost += formula.Cost(verified, vendorRate)

		if t.ActualHours != nil {
			actual += float64(*t.ActualHours * rate)
		}
	}

	var b Breakdown
	b.OriginalEstimate = original
	b.OptimizedEstimate = optimized
	b.AIVerificationSavings = original - optimized
	b.VendorRateSavings = vendorCost - optimized
	b.ActualSpent = actual
	b.BudgetEfficiency = optimized - actual
	b.TotalSavings = b.AIVerificationSavings + b.VendorRateSavings + b.BudgetEfficiency
	if original > 0 {
		b.EfficiencyPercentage = b.TotalSavings / original * 100
	}
	return b
}
