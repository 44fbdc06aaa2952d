package report

import (
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/task"
)

// LowAASThreshold is the exclusive upper bound of a low accuracy score.
const LowAASThreshold = 85.0

// KPIs is the headline snapshot.
type KPIs struct {
	TotalTasks   int     `json:"totalTasks"`
	TotalPCI     float64 `json:"totalPCI"`
	AverageAAS   float64 `json:"averageAAS"`
	ApprovalRate float64 `json:"approvalRate"`
	TotalLowAAS  int     `json:"totalLowAAS"`
	OpenFlags    int     `json:"openFlags"`
}

// KPIData wraps KPIs for the API response shape.
type KPIData struct {
	KPIs KPIs `json:"kpis"`
}

// ComputeKPIs derives the KPI snapshot from the live tasks and flags in snap.
func ComputeKPIs(snap Snapshot) KPIData {
	var k KPIs
	var approved, aasN int
	var aasSum float64
	live := make(map[string]bool, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if t == nil || t.Deleted {
			continue
		}
		live[t.ID] = true
		k.TotalTasks++
		k.TotalPCI += t.PCIUnits
		if t.AuditStatus == task.StatusApproved {
			approved++
		}
		if t.AAS != nil {
			aasSum += *t.AAS
			aasN++
			if *t.AAS > 0 && *t.AAS < LowAASThreshold {
				k.TotalLowAAS++
			}
		}
	}
	if aasN > 0 {
		k.AverageAAS = aasSum / float64(aasN)
	}
	if k.TotalTasks > 0 {
		k.ApprovalRate = float64(approved) / float64(k.TotalTasks) * 100
	}
	for _, f := range snap.Flags {
		if f != nil && f.Status == review.FlagOpen && live[f.TaskID] {
			k.OpenFlags++
		}
	}
	return KPIData{KPIs: k}
}
