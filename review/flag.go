package review

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/kv"
)

// Category classifies why a task was flagged.
type Category string

const (
	CategoryLowAAS       Category = "LowAAS"
	CategoryHighCost     Category = "HighCost"
	CategoryUnclearScope Category = "UnclearScope"
	CategoryReviewNeeded Category = "ReviewNeeded"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryLowAAS, CategoryHighCost, CategoryUnclearScope, CategoryReviewNeeded:
		return true
	}
	return false
}

// Severity ranks a flag.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// FlagStatus is the lifecycle state of a flag. Resolved is terminal.
type FlagStatus string

const (
	FlagOpen     FlagStatus = "open"
	FlagResolved FlagStatus = "resolved"
)

// Note is an annotation added to an open flag.
type Note struct {
	UserID    string    `json:"userId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Flag is a review marker attached to a task.
type Flag struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	Category    Category   `json:"category"`
	Severity    Severity   `json:"severity"`
	Notes       string     `json:"notes"`
	Annotations []Note     `json:"annotations,omitempty"`
	Status      FlagStatus `json:"status"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	ResolvedBy  string     `json:"resolvedBy,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
}

// NewFlag is the input to CreateFlag.
type NewFlag struct {
	TaskID   string   `json:"taskId"`
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Notes    string   `json:"notes"`
}

// Validate checks the required fields.
func (n NewFlag) Validate() error {
	const op = "review.flag"
	if strings.TrimSpace(n.TaskID) == "" {
		return apperr.Validation(op, "taskId is required")
	}
	if !n.Category.Valid() {
		return apperr.Validation(op, "unknown category %q", n.Category)
	}
	if !n.Severity.Valid() {
		return apperr.Validation(op, "unknown severity %q", n.Severity)
	}
	if strings.TrimSpace(n.Notes) == "" {
		return apperr.Validation(op, "notes are required")
	}
	return nil
}

// FlagFilter selects flags for ListFlags.
type FlagFilter struct {
	TaskID string
	Status *FlagStatus
}

const flagPrefix = "flag:"

func flagKey(id string) string { return flagPrefix + id }

// CreateFlag opens a flag on an existing task.
func (s *Service) CreateFlag(ctx context.Context, userID string, in NewFlag) (*Flag, error) {
	in.Notes = strings.TrimSpace(in.Notes)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.tasks.Get(ctx, in.TaskID); err != nil {
		return nil, err
	}

	f := &Flag{
		ID:        s.newID(),
		TaskID:    in.TaskID,
		Category:  in.Category,
		Severity:  in.Severity,
		Notes:     in.Notes,
		Status:    FlagOpen,
		CreatedBy: userID,
		CreatedAt: s.now(),
	}
	meta := map[string]string{"event": "opened", "taskId": f.TaskID}
	e, err := s.recorder.Record(ctx, userID, audit.ActionFlag, audit.EntityFlag, f.ID, f, meta)
	if err != nil {
		return nil, err
	}
	if err := s.putFlag(ctx, f, true); err != nil {
		s.logger.Error("flag write failed after audit", "flag_id", f.ID, "err", err)
		_ = s.recorder.Rollback(ctx, e, err)
		return nil, err
	}
	s.metrics.FlagEvent("opened")
	s.logger.Info("flag opened", "flag_id", f.ID, "task_id", f.TaskID, "category", f.Category)
	return f, nil
}

// ResolveFlag closes an open flag. A resolved flag cannot be resolved again.
func (s *Service) ResolveFlag(ctx context.Context, userID, flagID, resolution string) (*Flag, error) {
	unlock := s.locks.Lock(flagKey(flagID))
	defer unlock()

	f, err := s.GetFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	if f.Status != FlagOpen {
		s.logger.Warn("flag already resolved", "flag_id", flagID, "user_id", userID)
		return nil, apperr.Conflict("review.resolve", "flag %s is already resolved", flagID)
	}

	now := s.now()
	resolution = strings.TrimSpace(resolution)
	changes := audit.FieldChanges{}
	changes.Set("status", f.Status, FlagResolved)
	changes.Set("resolution", f.Resolution, resolution)
	f.Status = FlagResolved
	f.ResolvedBy = userID
	f.ResolvedAt = &now
	f.Resolution = resolution

	meta := map[string]string{"event": "resolved", "taskId": f.TaskID}
	e, err := s.recorder.Record(ctx, userID, audit.ActionFlag, audit.EntityFlag, f.ID, changes, meta)
	if err != nil {
		return nil, err
	}
	if err := s.putFlag(ctx, f, false); err != nil {
		s.logger.Error("flag write failed after audit", "flag_id", f.ID, "err", err)
		_ = s.recorder.Rollback(ctx, e, err)
		return nil, err
	}
	s.metrics.FlagEvent("resolved")
	s.logger.Info("flag resolved", "flag_id", f.ID, "user_id", userID)
	return f, nil
}

// AnnotateFlag adds a note to an open flag.
func (s *Service) AnnotateFlag(ctx context.Context, userID, flagID, body string) (*Flag, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("review.annotate", "note body is required")
	}
	unlock := s.locks.Lock(flagKey(flagID))
	defer unlock()

	f, err := s.GetFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	if f.Status != FlagOpen {
		return nil, apperr.Conflict("review.annotate", "flag %s is resolved", flagID)
	}
	note := Note{UserID: userID, Body: body, CreatedAt: s.now()}
	f.Annotations = append(f.Annotations, note)

	meta := map[string]string{"event": "annotated", "taskId": f.TaskID}
	e, err := s.recorder.Record(ctx, userID, audit.ActionComment, audit.EntityFlag, f.ID, note, meta)
	if err != nil {
		return nil, err
	}
	if err := s.putFlag(ctx, f, false); err != nil {
		_ = s.recorder.Rollback(ctx, e, err)
		return nil, err
	}
	s.metrics.FlagEvent("annotated")
	return f, nil
}

// GetFlag returns a flag by id.
func (s *Service) GetFlag(ctx context.Context, flagID string) (*Flag, error) {
	data, err := s.kv.Get(ctx, flagKey(flagID))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("review.flag", "flag", flagID)
		}
		return nil, apperr.Storage("review.flag", err)
	}
	var f Flag
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apperr.Storage("review.flag", err)
	}
	return &f, nil
}

// ListFlags returns flags matching filter, oldest first.
func (s *Service) ListFlags(ctx context.Context, filter FlagFilter) ([]*Flag, error) {
	items, err := s.kv.ListByPrefix(ctx, flagPrefix)
	if err != nil {
		return nil, apperr.Storage("review.flags", err)
	}
	var out []*Flag
	for _, it := range items {
		var f Flag
		if err := json.Unmarshal(it.Value, &f); err != nil {
			return nil, apperr.Storage("review.flags", err)
		}
		if filter.TaskID != "" && f.TaskID != filter.TaskID {
			continue
		}
		if filter.Status != nil && f.Status != *filter.Status {
			continue
		}
		out = append(out, &f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// OpenFlagCount counts flags that are still open.
func (s *Service) OpenFlagCount(ctx context.Context) (int, error) {
	open := FlagOpen
	flags, err := s.ListFlags(ctx, FlagFilter{Status: &open})
	return len(flags), err
}

func (s *Service) putFlag(ctx context.Context, f *Flag, create bool) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal flag: %w", err)
	}
	if create {
		return apperr.Storage("review.flag", s.kv.Insert(ctx, flagKey(f.ID), data))
	}
	return apperr.Storage("review.flag", s.kv.Set(ctx, flagKey(f.ID), data))
}

// Comment is a free-text remark on a task. Comments are immutable.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

func commentKey(taskID, id string) string { return kv.Key("comment", taskID, id) }

// AddComment attaches a comment to a live task.
func (s *Service) AddComment(ctx context.Context, userID, taskID, body string) (*Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("review.comment", "comment body is required")
	}
	if _, err := s.tasks.Get(ctx, taskID); err != nil {
		return nil, err
	}
	c := &Comment{ID: s.newID(), TaskID: taskID, UserID: userID, Body: body, CreatedAt: s.now()}
	meta := map[string]string{"taskId": taskID}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal comment: %w", err)
	}
	e, err := s.recorder.Record(ctx, userID, audit.ActionComment, audit.EntityComment, c.ID, c, meta)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Insert(ctx, commentKey(taskID, c.ID), data); err != nil {
		s.logger.Error("comment write failed after audit", "task_id", taskID, "err", err)
		_ = s.recorder.Rollback(ctx, e, err)
		return nil, apperr.Storage("review.comment", err)
	}
	return c, nil
}

// ListComments returns a task's comments, oldest first.
func (s *Service) ListComments(ctx context.Context, taskID string) ([]*Comment, error) {
	items, err := s.kv.ListByPrefix(ctx, commentKey(taskID, ""))
	if err != nil {
		return nil, apperr.Storage("review.comments", err)
	}
	out := make([]*Comment, 0, len(items))
	for _, it := range items {
		var c Comment
		if err := json.Unmarshal(it.Value, &c); err != nil {
			return nil, apperr.Storage("review.comments", err)
		}
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
