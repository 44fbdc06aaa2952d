package task

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/internal/keylock"
)

// NewTask is the input to Create.
type NewTask struct {
	Name       string           `json:"name"`
	Factors    *formula.Factors `json:"factors,omitempty"`
	HourlyRate *float64         `json:"hourlyRate,omitempty"`
	VendorRate *float64         `json:"vendorRate,omitempty"`
}

// Verification carries externally produced AI results for a task.
type Verification struct {
	AIVerifiedUnits *float64         `json:"aiVerifiedUnits,omitempty"`
	AAS             *float64         `json:"aas,omitempty"`
	Factors         *formula.Factors `json:"factors,omitempty"`
}

// Patch edits descriptive fields, rate overrides and actuals. Clear* fields
// unset the corresponding override.
type Patch struct {
	Name             *string  `json:"name,omitempty"`
	HourlyRate       *float64 `json:"hourlyRate,omitempty"`
	VendorRate       *float64 `json:"vendorRate,omitempty"`
	ActualHours      *float64 `json:"actualHours,omitempty"`
	ClearHourlyRate  bool     `json:"clearHourlyRate,omitempty"`
	ClearVendorRate  bool     `json:"clearVendorRate,omitempty"`
	ClearActualHours bool     `json:"clearActualHours,omitempty"`
}

// Mutation is a change applied to one task under its lock.
type Mutation struct {
	Action   audit.Action
	Metadata map[string]string

	// Mutate edits t in place and returns the audit changes. A nil or empty
	// result means nothing changed and nothing is written. An error aborts
	// the mutation before any write.
	Mutate func(t *Task) (changes any, err error)
}

// Service is the only writer of tasks. Every mutation is audited before it
// is persisted; if the audit append fails the task is left untouched, and if
// the task write fails the audit entry is rolled back.
type Service struct {
	store    Store
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	locks    keylock.Set
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a task service.
func NewService(store Store, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recorder returns the audit recorder mutations go through.
func (s *Service) Recorder() *audit.Recorder { return s.recorder }

// Get returns a live task. Tombstoned tasks are reported as not found.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Deleted {
		return nil, apperr.NotFound("task.get", "task", id)
	}
	return t, nil
}

// List returns tasks matching filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Task, error) {
	return s.store.List(ctx, filter)
}

// Create adds a pending task. Missing factors start at their defaults.
func (s *Service) Create(ctx context.Context, userID string, in NewTask) (*Task, error) {
	now := s.now()
	t := &Task{
		ID:          s.newID(),
		Name:        strings.TrimSpace(in.Name),
		Factors:     formula.DefaultFactors(),
		HourlyRate:  clonePtr(in.HourlyRate),
		VendorRate:  clonePtr(in.VendorRate),
		AuditStatus: StatusPending,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Factors != nil {
		t.Factors = *in.Factors
	}
	t.Recompute()
	if err := t.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(t.ID)
	defer unlock()

	e, err := s.recorder.Record(ctx, userID, audit.ActionCreate, audit.EntityTask, t.ID, t, nil)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, t); err != nil {
		s.logger.Error("task write failed after audit", "task_id", t.ID, "err", err)
		_ = s.recorder.Rollback(ctx, e, err)
		return nil, err
	}
	s.logger.Info("task created", "task_id", t.ID, "user_id", userID, "pci_units", t.PCIUnits)
	return t, nil
}

// Apply runs m against task id and commits the result.
func (s *Service) Apply(ctx context.Context, userID, id string, m Mutation) (*Task, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	changes, err := m.Mutate(next)
	if err != nil {
		return nil, err
	}
	if isEmpty(changes) {
		return cur, nil
	}
	next.Recompute()
	next.UpdatedAt = s.now()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	e, err := s.recorder.Record(ctx, userID, m.Action, audit.EntityTask, id, changes, m.Metadata)
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, next); err != nil {
		s.logger.Error("task write failed after audit", "task_id", id, "action", m.Action, "err", err)
		_ = s.recorder.Rollback(ctx, e, err)
		return nil, err
	}
	s.logger.Info("task updated", "task_id", id, "user_id", userID, "action", m.Action)
	return next, nil
}

func isEmpty(changes any) bool {
	switch c := changes.(type) {
	case nil:
		return true
	case audit.FieldChanges:
		return len(c) == 0
	case map[string]any:
		return len(c) == 0
	}
	return false
}

// Now returns the service clock reading, for mutations that stamp times.
func (s *Service) Now() time.Time { return s.now() }

// UpdateFactors replaces the factors of a task and recomputes its units.
func (s *Service) UpdateFactors(ctx context.Context, userID, id string, f formula.Factors) (*Task, error) {
	return s.Apply(ctx, userID, id, Mutation{
		Action: audit.ActionUpdate,
		Mutate: func(t *Task) (any, error) {
			return setFactors(t, f), nil
		},
	})
}

// setFactors applies f to t and returns the factor and unit diff.
func setFactors(t *Task, f formula.Factors) map[string]any {
	diff := t.Factors.Diff(f)
	if len(diff) == 0 {
		return nil
	}
	before := t.PCIUnits
	t.Factors = f
	t.Recompute()
	return map[string]any{
		"factors":  diff,
		"pciUnits": audit.Change{From: before, To: t.PCIUnits},
	}
}

// ApplyVerification accepts AI-produced units, accuracy and optionally
// suggested factors.
func (s *Service) ApplyVerification(ctx context.Context, userID, id string, v Verification) (*Task, error) {
	if v.AIVerifiedUnits == nil && v.AAS == nil && v.Factors == nil {
		return nil, apperr.Validation("task.verify", "verification carries no values")
	}
	return s.Apply(ctx, userID, id, Mutation{
		Action:   audit.ActionUpdate,
		Metadata: map[string]string{"source": "ai"},
		Mutate: func(t *Task) (any, error) {
			changes := map[string]any{}
			if v.Factors != nil {
				if fc := setFactors(t, *v.Factors); fc != nil {
					for k, c := range fc {
						changes[k] = c
					}
				}
			}
			if v.AIVerifiedUnits != nil && !sameFloat(t.AIVerifiedUnits, v.AIVerifiedUnits) {
				changes["aiVerifiedUnits"] = audit.Change{From: deref(t.AIVerifiedUnits), To: *v.AIVerifiedUnits}
				t.AIVerifiedUnits = clonePtr(v.AIVerifiedUnits)
			}
			if v.AAS != nil && !sameFloat(t.AAS, v.AAS) {
				changes["aas"] = audit.Change{From: deref(t.AAS), To: *v.AAS}
				t.AAS = clonePtr(v.AAS)
			}
			return changes, nil
		},
	})
}

// Patch edits name, rate overrides and actual hours.
func (s *Service) Patch(ctx context.Context, userID, id string, p Patch) (*Task, error) {
	return s.Apply(ctx, userID, id, Mutation{
		Action: audit.ActionUpdate,
		Mutate: func(t *Task) (any, error) {
			changes := audit.FieldChanges{}
			if p.Name != nil {
				name := strings.TrimSpace(*p.Name)
				changes.Set("name", t.Name, name)
				t.Name = name
			}
			patchFloat(changes, "hourlyRate", &t.HourlyRate, p.HourlyRate, p.ClearHourlyRate)
			patchFloat(changes, "vendorRate", &t.VendorRate, p.VendorRate, p.ClearVendorRate)
			patchFloat(changes, "actualHours", &t.ActualHours, p.ActualHours, p.ClearActualHours)
			return changes, nil
		},
	})
}

func patchFloat(changes audit.FieldChanges, field string, dst **float64, v *float64, clear bool) {
	switch {
	case clear:
		changes.Set(field, deref(*dst), nil)
		*dst = nil
	case v != nil:
		changes.Set(field, deref(*dst), *v)
		*dst = clonePtr(v)
	}
}

// Delete tombstones a task. The task stays readable through the audit trail.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	meta := map[string]string{"name": t.Name}
	e, err := s.recorder.Record(ctx, userID, audit.ActionDelete, audit.EntityTask, id, t, meta)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, s.now()); err != nil {
		s.logger.Error("task delete failed after audit", "task_id", id, "err", err)
		_ = s.recorder.Rollback(ctx, e, err)
		return err
	}
	s.logger.Info("task deleted", "task_id", id, "user_id", userID)
	return nil
}

// deref returns *p, or nil when p is nil, for audit diffs.
func deref(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
