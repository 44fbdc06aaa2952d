// Package task defines the cost-estimation task model, its persistence and
// the audited mutation service.
package task

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/settings"
)

// AuditStatus is the review state of a task.
type AuditStatus string

const (
	StatusPending  AuditStatus = "pending"
	StatusApproved AuditStatus = "approved"
	StatusRejected AuditStatus = "rejected"
)

// Statuses lists every status in display order.
var Statuses = []AuditStatus{StatusPending, StatusApproved, StatusRejected}

// Valid reports whether s is a known status.
func (s AuditStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s AuditStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (AuditStatus, error) {
	st := AuditStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", apperr.Validation("task.status", "unknown audit status %q", s)
	}
	return st, nil
}

// Task is one cost-estimation unit.
type Task struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Factors         formula.Factors `json:"factors"`
	PCIUnits        float64         `json:"pciUnits"`
	AIVerifiedUnits *float64        `json:"aiVerifiedUnits,omitempty"`
	AAS             *float64        `json:"aas,omitempty"`
	HourlyRate      *float64        `json:"hourlyRate,omitempty"`
	VendorRate      *float64        `json:"vendorRate,omitempty"`
	ActualHours     *float64        `json:"actualHours,omitempty"`
	AuditStatus     AuditStatus     `json:"auditStatus"`
	StatusReason    string          `json:"statusReason,omitempty"`
	ReviewedBy      string          `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewedAt,omitempty"`
	Deleted         bool            `json:"deleted,omitempty"`
	DeletedAt       *time.Time      `json:"deletedAt,omitempty"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Recompute refreshes the cached PCIUnits from the current factors.
func (t *Task) Recompute() {
	t.PCIUnits = formula.Compute(t.Factors)
}

// Stale reports whether PCIUnits no longer matches the factors.
func (t *Task) Stale() bool {
	return math.Float64bits(t.PCIUnits) != math.Float64bits(formula.Compute(t.Factors))
}

// VerifiedUnits returns AIVerifiedUnits, or 0 when unset.
func (t *Task) VerifiedUnits() float64 {
	if t.AIVerifiedUnits == nil {
		return 0
	}
	return *t.AIVerifiedUnits
}

// EffectiveRate resolves the hourly rate for t under s.
func (t *Task) EffectiveRate(s settings.Settings) float64 {
	return settings.ResolveRate(t.HourlyRate, s)
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.AIVerifiedUnits = clonePtr(t.AIVerifiedUnits)
	c.AAS = clonePtr(t.AAS)
	c.HourlyRate = clonePtr(t.HourlyRate)
	c.VendorRate = clonePtr(t.VendorRate)
	c.ActualHours = clonePtr(t.ActualHours)
	c.ReviewedAt = clonePtr(t.ReviewedAt)
	c.DeletedAt = clonePtr(t.DeletedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Validate checks the field invariants of t. It does not check staleness.
func (t *Task) Validate() error {
	const op = "task.validate"
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Validation(op, "name is required")
	}
	if !t.Factors.Finite() {
		return apperr.Validation(op, "factors must be finite numbers")
	}
	if !t.AuditStatus.Valid() {
		return apperr.Validation(op, "unknown audit status %q", t.AuditStatus)
	}
	if t.AAS != nil && !(*t.AAS >= 0 && *t.AAS <= 100) {
		return apperr.Validation(op, "aas must be within [0, 100], got %v", *t.AAS)
	}
	for name, v := range map[string]*float64{
		"aiVerifiedUnits": t.AIVerifiedUnits,
		"hourlyRate":      t.HourlyRate,
		"vendorRate":      t.VendorRate,
		"actualHours":     t.ActualHours,
	} {
		if v != nil && (!(*v >= 0) || math.IsInf(*v, 0)) {
			return apperr.Validation(op, "%s must be a non-negative number, got %v", name, *v)
		}
	}
	return nil
}

// Store persists tasks. Deleted tasks are tombstoned, never removed.
type Store interface {
	// Create persists a new task. The id must be unused.
	Create(ctx context.Context, t *Task) error

	// Get retrieves a task by ID, including tombstoned tasks.
	Get(ctx context.Context, id string) (*Task, error)

	// Update saves changes to an existing task.
	Update(ctx context.Context, t *Task) error

	// List returns tasks matching the given filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*Task, error)

	// Delete tombstones a task.
	Delete(ctx context.Context, id string, at time.Time) error
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status         *AuditStatus `json:"status,omitempty"`
	CreatedFrom    *time.Time   `json:"created_from,omitempty"` // inclusive
	CreatedTo      *time.Time   `json:"created_to,omitempty"`   // inclusive
	IncludeDeleted bool         `json:"include_deleted,omitempty"`
	Limit          int          `json:"limit,omitempty"`
	Offset         int          `json:"offset,omitempty"`
}

// Match reports whether t passes the filter, ignoring pagination.
func (f Filter) Match(t *Task) bool {
	if t.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.Status != nil && t.AuditStatus != *f.Status {
		return false
	}
	if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	return true
}
