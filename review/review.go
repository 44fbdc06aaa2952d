// Package review implements the approval state machine for tasks and the
// flag and comment lifecycle. Every state change goes through the audit
// recorder before it is persisted.
package review

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/internal/keylock"
	"github.com/GoCodeAlone/pciledger/kv"
	"github.com/GoCodeAlone/pciledger/metrics"
	"github.com/GoCodeAlone/pciledger/task"
)

// CanTransition reports whether a task may move from one status to another.
// Only pending tasks can be decided; approved and rejected are terminal.
func CanTransition(from, to task.AuditStatus) bool {
	return from == task.StatusPending && (to == task.StatusApproved || to == task.StatusRejected)
}

// Service runs review actions.
type Service struct {
	tasks    *task.Service
	kv       kv.Store
	recorder *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	locks    keylock.Set
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides flag and comment id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a review service. Task transitions go through tasks;
// flags and comments are stored in store.
func NewService(tasks *task.Service, store kv.Store, recorder *audit.Recorder, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		tasks:    tasks,
		kv:       store,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    newOrderedID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newOrderedID returns a UUIDv7 so ids sort in creation order.
func newOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Approve moves a pending task to approved.
func (s *Service) Approve(ctx context.Context, userID, taskID, comment string) (*task.Task, error) {
	return s.transition(ctx, userID, taskID, task.StatusApproved, audit.ActionApprove, comment)
}

// Reject moves a pending task to rejected.
func (s *Service) Reject(ctx context.Context, userID, taskID, reason string) (*task.Task, error) {
	return s.transition(ctx, userID, taskID, task.StatusRejected, audit.ActionReject, reason)
}

func (s *Service) transition(ctx context.Context, userID, taskID string, to task.AuditStatus, action audit.Action, reason string) (*task.Task, error) {
	reason = strings.TrimSpace(reason)
	var meta map[string]string
	if reason != "" {
		meta = map[string]string{"reason": reason}
	}
	t, err := s.tasks.Apply(ctx, userID, taskID, task.Mutation{
		Action:   action,
		Metadata: meta,
		Mutate: func(t *task.Task) (any, error) {
			if !CanTransition(t.AuditStatus, to) {
				return nil, apperr.Conflict("review."+string(action),
					"task %s is %s and cannot become %s", t.ID, t.AuditStatus, to)
			}
			now := s.now()
			changes := audit.FieldChanges{}
			changes.Set("auditStatus", t.AuditStatus, to)
			changes.Set("statusReason", t.StatusReason, reason)
			t.AuditStatus = to
			t.StatusReason = reason
			t.ReviewedBy = userID
			t.ReviewedAt = &now
			return changes, nil
		},
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			s.metrics.TransitionRejected()
			s.logger.Warn("transition rejected", "task_id", taskID, "user_id", userID, "to", to, "err", err)
		}
		return nil, err
	}
	s.metrics.Transitioned(string(to))
	return t, nil
}

// MarkReviewed records that userID looked at a task without deciding it.
func (s *Service) MarkReviewed(ctx context.Context, userID, taskID, note string) (*audit.Entry, error) {
	t, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{"status": string(t.AuditStatus)}
	if note = strings.TrimSpace(note); note != "" {
		meta["note"] = note
	}
	return s.recorder.Record(ctx, userID, audit.ActionReview, audit.EntityTask, taskID, nil, meta)
}
