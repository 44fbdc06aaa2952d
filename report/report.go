// Package report aggregates tasks, audit history and flags into reports,
// trend series and KPI snapshots. The aggregation functions are pure over
// a Snapshot; Aggregator loads snapshots from storage.
package report

import (
	"sort"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/savings"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

// RecentAuditLimit caps AuditMetrics.Recent.
const RecentAuditLimit = 10

// Snapshot is the input to every aggregation. Settings are read once per
// snapshot and never cached beyond it.
type Snapshot struct {
	Tasks    []*task.Task
	Audit    []*audit.Entry
	Flags    []*review.Flag
	Settings settings.Settings
}

// Filter narrows a report.
type Filter struct {
	StartDate    *time.Time        `json:"startDate,omitempty"`
	EndDate      *time.Time        `json:"endDate,omitempty"`
	Status       *task.AuditStatus `json:"status,omitempty"`
	IncludeAudit bool              `json:"includeAudit"`
}

// Validate rejects inverted windows and unknown statuses.
func (f Filter) Validate() error {
	const op = "report.filter"
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return apperr.Validation(op, "startDate %s is after endDate %s",
			f.StartDate.Format(time.RFC3339), f.EndDate.Format(time.RFC3339))
	}
	if f.Status != nil && !f.Status.Valid() {
		return apperr.Validation(op, "unknown status %q", *f.Status)
	}
	return nil
}

func (f Filter) inWindow(ts time.Time) bool {
	if f.StartDate != nil && ts.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && ts.After(*f.EndDate) {
		return false
	}
	return true
}

func (f Filter) matchTask(t *task.Task) bool {
	if t == nil || t.Deleted {
		return false
	}
	if f.Status != nil && t.AuditStatus != *f.Status {
		return false
	}
	return f.inWindow(t.CreatedAt)
}

// Summary holds the headline figures of a report.
type Summary struct {
	TotalTasks         int               `json:"totalTasks"`
	PendingTasks       int               `json:"pendingTasks"`
	ApprovedTasks      int               `json:"approvedTasks"`
	RejectedTasks      int               `json:"rejectedTasks"`
	TotalPCI           float64           `json:"totalPCI"`
	TotalVerifiedUnits float64           `json:"totalVerifiedUnits"`
	VerifiedCost       float64           `json:"verifiedCost"`
	AverageAAS         float64           `json:"averageAAS"`
	Currency           string            `json:"currency"`
	Savings            savings.Breakdown `json:"savings"`
}

// AuditMetrics summarises audit activity inside the report window.
type AuditMetrics struct {
	TotalEntries int            `json:"totalEntries"`
	ByAction     map[string]int `json:"byAction"`
	ByUser       map[string]int `json:"byUser"`
	Recent       []*audit.Entry `json:"recent"`
}

// TaskRow is one flattened task.
type TaskRow struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	PCIUnits        float64          `json:"pciUnits"`
	AIVerifiedUnits *float64         `json:"aiVerifiedUnits,omitempty"`
	AAS             *float64         `json:"aas,omitempty"`
	AuditStatus     task.AuditStatus `json:"auditStatus"`
	VerifiedCost    float64          `json:"verifiedCost"`
	EstimatedHours  float64          `json:"estimatedHours"`
}

// ReportData is the result of Generate.
type ReportData struct {
	Summary              Summary                `json:"summary"`
	CategoryDistribution formula.CategoryGroups `json:"categoryDistribution"`
	AuditMetrics         *AuditMetrics          `json:"auditMetrics,omitempty"`
	TaskBreakdown        []TaskRow              `json:"taskBreakdown"`
	GeneratedAt          time.Time              `json:"generatedAt"`
}

// FilterTasks returns the live tasks matching f, in input order.
func FilterTasks(tasks []*task.Task, f Filter) []*task.Task {
	out := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.matchTask(t) {
			out = append(out, t)
		}
	}
	return out
}

// Generate builds a report from snap. Tasks missing AI data still count
// toward totals; they are only left out of means.
func Generate(snap Snapshot, f Filter, now time.Time) ReportData {
	tasks := FilterTasks(snap.Tasks, f)
	s := snap.Settings

	r := ReportData{
		TaskBreakdown: make([]TaskRow, 0, len(tasks)),
		GeneratedAt:   now,
	}
	sum := &r.Summary
	sum.Currency = s.Currency

	var aasSum float64
	var aasN int
	for _, t := range tasks {
		sum.TotalTasks++
		switch t.AuditStatus {
		case task.StatusPending:
			sum.PendingTasks++
		case task.StatusApproved:
			sum.ApprovedTasks++
		case task.StatusRejected:
			sum.RejectedTasks++
		}
		sum.TotalPCI += t.PCIUnits
		sum.TotalVerifiedUnits += t.VerifiedUnits()
		if t.AAS != nil {
			aasSum += *t.AAS
			aasN++
		}

		r.CategoryDistribution = r.CategoryDistribution.Add(formula.Groups(t.Factors))

		row := TaskRow{
			ID:              t.ID,
			Name:            t.Name,
			PCIUnits:        t.PCIUnits,
			AIVerifiedUnits: t.AIVerifiedUnits,
			AAS:             t.AAS,
			AuditStatus:     t.AuditStatus,
			VerifiedCost:    formula.Cost(t.VerifiedUnits(), t.EffectiveRate(s)),
			EstimatedHours:  formula.Hours(t.PCIUnits, s.UnitToHourRatio),
		}
		sum.VerifiedCost += row.VerifiedCost
		r.TaskBreakdown = append(r.TaskBreakdown, row)
	}
	if aasN > 0 {
		sum.AverageAAS = aasSum / float64(aasN)
	}
	sum.Savings = savings.Compute(tasks, s)

	if f.IncludeAudit {
		r.AuditMetrics = auditMetrics(snap.Audit, f)
	}
	return r
}

func auditMetrics(entries []*audit.Entry, f Filter) *AuditMetrics {
	m := &AuditMetrics{
		ByAction: make(map[string]int),
		ByUser:   make(map[string]int),
		Recent:   []*audit.Entry{},
	}
	var window []*audit.Entry
	for _, e := range audit.Committed(entries) {
		if !f.inWindow(e.Timestamp) {
			continue
		}
		window = append(window, e)
		m.TotalEntries++
		m.ByAction[string(e.Action)]++
		m.ByUser[e.UserID]++
	}
	audit.Sort(window)
	for i := len(window) - 1; i >= 0 && len(m.Recent) < RecentAuditLimit; i-- {
		m.Recent = append(m.Recent, window[i])
	}
	return m
}

// sortedTasks returns tasks ordered by creation time then id.
func sortedTasks(tasks []*task.Task) []*task.Task {
	out := append([]*task.Task(nil), tasks...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
