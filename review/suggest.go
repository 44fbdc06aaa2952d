package review

import (
	"fmt"

	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

// Thresholds drive SuggestFlags.
type Thresholds struct {
	// LowAAS flags tasks whose accuracy score is positive but below this value.
	LowAAS float64 `json:"lowAAS" yaml:"low_aas"`
	// HighCost flags tasks whose estimated cost exceeds this amount.
	HighCost float64 `json:"highCost" yaml:"high_cost"`
}

// DefaultThresholds matches the low-accuracy cut-off used by the KPIs.
func DefaultThresholds() Thresholds {
	return Thresholds{LowAAS: 85, HighCost: 10000}
}

// SuggestFlags proposes flags for t without creating them.
func SuggestFlags(t *task.Task, s settings.Settings, th Thresholds) []NewFlag {
	if t == nil || t.Deleted {
		return nil
	}
	var out []NewFlag
	if t.AAS != nil && *t.AAS > 0 && *t.AAS < th.LowAAS {
		sev := SeverityLow
		switch {
		case *t.AAS < 50:
			sev = SeverityHigh
		case *t.AAS < 70:
			sev = SeverityMedium
		}
		out = append(out, NewFlag{
			TaskID:   t.ID,
			Category: CategoryLowAAS,
			Severity: sev,
			Notes:    fmt.Sprintf("accuracy score %.1f is below %.0f", *t.AAS, th.LowAAS),
		})
	}
	if th.HighCost > 0 {
		cost := formula.Cost(t.PCIUnits, t.EffectiveRate(s))
		if cost > th.HighCost {
			sev := SeverityHigh
			if cost > 2*th.HighCost {
				sev = SeverityCritical
			}
			out = append(out, NewFlag{
				TaskID:   t.ID,
				Category: CategoryHighCost,
				Severity: sev,
				Notes:    fmt.Sprintf("estimated cost %s exceeds %s", settings.FormatMoney(cost, s.Currency), settings.FormatMoney(th.HighCost, s.Currency)),
			})
		}
	}
	return out
}
