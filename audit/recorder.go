package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/metrics"
)

// Subscriber is notified after an entry has been durably appended.
type Subscriber func(e Entry)

// Recorder stamps and appends audit entries. A mutation is committed only
// once Record has returned without error and the entity write that follows
// has succeeded; when that write fails the caller appends a compensating
// entry with Rollback.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() (string, error)

	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *Recorder) { r.newID = fn }
}

// NewRecorder creates a Recorder appending to store.
func NewRecorder(store Store, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  newEntryID,
		subs:   make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newEntryID returns a UUIDv7, whose string form sorts in creation order.
func newEntryID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Store returns the backing store for read access.
func (r *Recorder) Store() Store { return r.store }

// Subscribe registers fn for committed entries and returns an unsubscribe function.
func (r *Recorder) Subscribe(fn Subscriber) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Record appends one entry. changes is marshalled to JSON as-is (nil is omitted).
func (r *Recorder) Record(ctx context.Context, userID string, action Action, entityType EntityType, entityID string, changes any, metadata map[string]string) (*Entry, error) {
	const op = "audit.record"
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperr.Validation(op, "acting user id is required")
	}
	if !action.Valid() {
		return nil, apperr.Validation(op, "unknown action %q", action)
	}
	if !entityType.Valid() {
		return nil, apperr.Validation(op, "unknown entity type %q", entityType)
	}
	if entityID == "" {
		return nil, apperr.Validation(op, "entity id is required")
	}

	var raw json.RawMessage
	if changes != nil {
		b, err := json.Marshal(changes)
		if err != nil {
			return nil, apperr.Validation(op, "changes are not serialisable: %v", err)
		}
		raw = b
	}

	id, err := r.newID()
	if err != nil {
		return nil, fmt.Errorf("%s: generate id: %w", op, err)
	}
	e := &Entry{
		ID:         id,
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Changes:    raw,
		Metadata:   metadata,
		Timestamp:  r.now(),
	}

	if err := r.store.Append(ctx, e); err != nil {
		r.metrics.AuditFailed(string(action))
		r.logger.Error("audit append failed",
			"action", action, "entity_type", entityType, "entity_id", entityID, "err", err)
		return nil, err
	}
	r.metrics.AuditRecorded(string(action), string(entityType))

	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.RUnlock()
	for _, s := range subs {
		s(*e)
	}
	return e, nil
}

// Rollback appends the compensating entry for e after the entity write e
// audited failed with cause. It runs even when ctx is already cancelled.
func (r *Recorder) Rollback(ctx context.Context, e *Entry, cause error) error {
	meta := make(map[string]string, len(e.Metadata)+3)
	maps.Copy(meta, e.Metadata)
	meta[MetaEvent] = EventRolledBack
	meta[MetaRolledBackOf] = e.ID
	if cause != nil {
		meta["error"] = cause.Error()
	}
	if _, err := r.Record(context.WithoutCancel(ctx), e.UserID, e.Action, e.EntityType, e.EntityID, nil, meta); err != nil {
		r.logger.Error("audit rollback failed, entry left uncompensated",
			"entry_id", e.ID, "entity_id", e.EntityID, "cause", cause, "err", err)
		return err
	}
	r.logger.Warn("audit entry rolled back", "entry_id", e.ID, "action", e.Action, "entity_id", e.EntityID, "cause", cause)
	return nil
}
