package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/kv"
	"github.com/GoCodeAlone/pciledger/metrics"
)

// failingKV fails every Insert.
type failingKV struct{ kv.Store }

func (f failingKV) Insert(context.Context, string, []byte) error {
	return errors.New("disk full")
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func newRecorder(t *testing.T, opts ...Option) (*Recorder, *KVStore) {
	t.Helper()
	store := NewKVStore(kv.NewMemoryStore())
	return NewRecorder(store, nil, opts...), store
}

func TestRecord_AppendsEntry(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec, store := newRecorder(t, WithClock(fixedClock(ts)))

	changes := FieldChanges{}
	changes.Set("name", "old", "new")
	e, err := rec.Record(ctx, "alice", ActionUpdate, EntityTask, "t1", changes, map[string]string{"source": "test"})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, ts, e.Timestamp)
	assert.JSONEq(t, `{"name":{"from":"old","to":"new"}}`, string(e.Changes))

	got, err := store.Get(ctx, "alice", e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestRecord_Immutable(t *testing.T) {
	ctx := context.Background()
	rec, store := newRecorder(t)

	e, err := rec.Record(ctx, "alice", ActionCreate, EntityTask, "t1", map[string]any{"name": "x"}, nil)
	require.NoError(t, err)

	first, err := store.Get(ctx, "alice", e.ID)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := store.Get(ctx, "alice", e.ID)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// A second append with the same id must not replace the original.
	dup := *e
	dup.Action = ActionDelete
	err = store.Append(ctx, &dup)
	require.ErrorIs(t, err, apperr.ErrConflict)

	after, err := store.Get(ctx, "alice", e.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, after.Action)
}

func TestRecord_Validation(t *testing.T) {
	ctx := context.Background()
	rec, _ := newRecorder(t)

	tests := []struct {
		name   string
		user   string
		action Action
		entity EntityType
		id     string
	}{
		{"empty user", "  ", ActionCreate, EntityTask, "t1"},
		{"bad action", "u", Action("explode"), EntityTask, "t1"},
		{"bad entity", "u", ActionCreate, EntityType("project"), "t1"},
		{"empty entity id", "u", ActionCreate, EntityTask, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rec.Record(ctx, tt.user, tt.action, tt.entity, tt.id, nil, nil)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestRecord_StorageFailure(t *testing.T) {
	ctx := context.Background()
	_, m := metrics.NewRegistry()
	rec := NewRecorder(NewKVStore(failingKV{kv.NewMemoryStore()}), nil, WithMetrics(m))

	notified := false
	rec.Subscribe(func(Entry) { notified = true })

	e, err := rec.Record(ctx, "alice", ActionApprove, EntityTask, "t1", nil, nil)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	assert.False(t, notified, "subscribers must not see uncommitted entries")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditFailures.WithLabelValues("approve")))
}

func TestRecord_Subscribers(t *testing.T) {
	ctx := context.Background()
	rec, _ := newRecorder(t)

	var got []Entry
	unsub := rec.Subscribe(func(e Entry) { got = append(got, e) })

	_, err := rec.Record(ctx, "bob", ActionFlag, EntityFlag, "f1", nil, nil)
	require.NoError(t, err)
	unsub()
	_, err = rec.Record(ctx, "bob", ActionFlag, EntityFlag, "f2", nil, nil)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "f1", got[0].EntityID)
}

func TestListing(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec, store := newRecorder(t, WithClock(fixedClock(ts)))

	mustRecord := func(user string, action Action, et EntityType, id string) *Entry {
		t.Helper()
		e, err := rec.Record(ctx, user, action, et, id, nil, nil)
		require.NoError(t, err)
		return e
	}
	a := mustRecord("alice", ActionCreate, EntityTask, "t1")
	b := mustRecord("bob", ActionApprove, EntityTask, "t1")
	c := mustRecord("alice", ActionFlag, EntityFlag, "f1")
	mustRecord("alice:ops", ActionCreate, EntityTask, "t2")

	byEntity, err := store.ListByEntity(ctx, EntityTask, "t1")
	require.NoError(t, err)
	require.Len(t, byEntity, 2)
	// Same timestamp: insertion order via id.
	assert.Equal(t, a.ID, byEntity[0].ID)
	assert.Equal(t, b.ID, byEntity[1].ID)

	byUser, err := store.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, c.ID, byUser[1].ID)

	all, err := store.List(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	flags, err := store.List(ctx, Query{Action: ActionFlag})
	require.NoError(t, err)
	assert.Len(t, flags, 1)
}

func TestQuery_TimeWindow(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	q := Query{Since: base, Until: base.Add(24 * time.Hour)}
	assert.True(t, q.Match(&Entry{Timestamp: base}))
	assert.True(t, q.Match(&Entry{Timestamp: base.Add(23 * time.Hour)}))
	assert.False(t, q.Match(&Entry{Timestamp: base.Add(24 * time.Hour)}))
	assert.False(t, q.Match(&Entry{Timestamp: base.Add(-time.Second)}))
}

func TestSort_TimestampThenID(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{ID: "b", Timestamp: t0},
		{ID: "c", Timestamp: t0.Add(-time.Minute)},
		{ID: "a", Timestamp: t0},
	}
	Sort(entries)
	assert.Equal(t, []string{"c", "a", "b"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestRecord_ConcurrentAppendsAreUnique(t *testing.T) {
	ctx := context.Background()
	rec, store := newRecorder(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rec.Record(ctx, "alice", ActionUpdate, EntityTask, fmt.Sprintf("t%d", i), nil, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := store.ListByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, all, 50)
}

func TestRollback_CompensatesEntry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec, store := newRecorder(t)

	e, err := rec.Record(ctx, "alice", ActionApprove, EntityTask, "t1", nil, map[string]string{"reason": "ok"})
	require.NoError(t, err)
	cancel()
	require.NoError(t, rec.Rollback(ctx, e, errors.New("disk full")))

	entries, err := store.ListByEntity(context.Background(), EntityTask, "t1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	undo := entries[1]
	assert.Equal(t, ActionApprove, undo.Action)
	assert.Equal(t, "alice", undo.UserID)
	assert.Equal(t, e.ID, undo.RollsBack())
	assert.Equal(t, "disk full", undo.Metadata["error"])
	assert.Equal(t, "ok", undo.Metadata["reason"])
	assert.Empty(t, e.RollsBack())
	assert.NotContains(t, e.Metadata, MetaEvent, "original metadata is not modified")
}

func TestCommitted(t *testing.T) {
	kept := &Entry{ID: "1", Action: ActionCreate}
	undone := &Entry{ID: "2", Action: ActionApprove}
	undo := &Entry{ID: "3", Action: ActionApprove, Metadata: map[string]string{MetaEvent: EventRolledBack, MetaRolledBackOf: "2"}}
	flag := &Entry{ID: "4", Action: ActionFlag, Metadata: map[string]string{MetaEvent: "opened"}}

	got := Committed([]*Entry{kept, undone, undo, flag})
	assert.Equal(t, []*Entry{kept, flag}, got)

	all := []*Entry{kept, flag}
	assert.Equal(t, all, Committed(all))
}
