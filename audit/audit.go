// Package audit records an append-only trail of every mutation in the ledger.
package audit

import (
	"context"
	"encoding/json"
	"reflect"
	"slices"
	"strings"
	"time"
)

// Action is what was done to an entity.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReview  Action = "review"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionFlag    Action = "flag"
	ActionComment Action = "comment"
)

// Actions lists every known action.
var Actions = []Action{
	ActionCreate, ActionUpdate, ActionDelete, ActionReview,
	ActionApprove, ActionReject, ActionFlag, ActionComment,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool { return slices.Contains(Actions, a) }

// EntityType is the kind of entity an entry refers to.
type EntityType string

const (
	EntityTask     EntityType = "task"
	EntitySettings EntityType = "settings"
	EntityComment  EntityType = "comment"
	EntityFlag     EntityType = "flag"
)

// EntityTypes lists every known entity type.
var EntityTypes = []EntityType{EntityTask, EntitySettings, EntityComment, EntityFlag}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool { return slices.Contains(EntityTypes, e) }

// Entry is one immutable audit fact.
type Entry struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userId"`
	Action     Action            `json:"action"`
	EntityType EntityType        `json:"entityType"`
	EntityID   string            `json:"entityId"`
	Changes    json.RawMessage   `json:"changes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Metadata marking a compensating entry. A compensating entry repeats the
// action of the entry it undoes and names it under MetaRolledBackOf.
const (
	MetaEvent        = "event"
	MetaRolledBackOf = "of"
	EventRolledBack  = "rolled_back"
)

// RollsBack returns the id of the entry e compensates, or "" when e is an
// ordinary entry.
func (e *Entry) RollsBack() string {
	if e.Metadata[MetaEvent] != EventRolledBack {
		return ""
	}
	return e.Metadata[MetaRolledBackOf]
}

// Committed drops compensating entries together with the entries they undo,
// leaving only mutations whose entity write succeeded.
func Committed(entries []*Entry) []*Entry {
	undone := make(map[string]bool)
	for _, e := range entries {
		if id := e.RollsBack(); id != "" {
			undone[id] = true
		}
	}
	if len(undone) == 0 {
		return entries
	}
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if undone[e.ID] || e.RollsBack() != "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Change describes one field transition inside Entry.Changes.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// FieldChanges maps field names to their transitions.
type FieldChanges map[string]Change

// Set records a change for field when from and to differ.
func (fc FieldChanges) Set(field string, from, to any) {
	if reflect.DeepEqual(from, to) {
		return
	}
	fc[field] = Change{From: from, To: to}
}

// Query narrows List results. Zero fields match everything.
type Query struct {
	Since      time.Time
	Until      time.Time
	EntityType EntityType
	EntityID   string
	UserID     string
	Action     Action
}

// Match reports whether e satisfies q. Since is inclusive, Until exclusive.
func (q Query) Match(e *Entry) bool {
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	if q.EntityType != "" && e.EntityType != q.EntityType {
		return false
	}
	if q.EntityID != "" && e.EntityID != q.EntityID {
		return false
	}
	if q.UserID != "" && e.UserID != q.UserID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	return true
}

// Store persists entries. There is deliberately no update or delete.
type Store interface {
	// Append persists a new entry. It fails if an entry with the same
	// user and id already exists.
	Append(ctx context.Context, e *Entry) error

	// Get returns the entry appended by userID with the given id.
	Get(ctx context.Context, userID, id string) (*Entry, error)

	// ListByEntity returns the entries for one entity, oldest first.
	ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*Entry, error)

	// ListByUser returns the entries made by userID, oldest first.
	ListByUser(ctx context.Context, userID string) ([]*Entry, error)

	// List returns the entries matching q, oldest first.
	List(ctx context.Context, q Query) ([]*Entry, error)
}

// Sort orders entries by timestamp, breaking ties by insertion id.
func Sort(entries []*Entry) {
	slices.SortStableFunc(entries, func(a, b *Entry) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
