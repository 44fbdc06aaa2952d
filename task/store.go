package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/kv"
)

const keyPrefix = "task:"

// KVStore persists tasks as JSON documents under task:{id}.
type KVStore struct {
	kv kv.Store
}

// NewKVStore returns a task store backed by store.
func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{kv: store}
}

func taskKey(id string) string { return keyPrefix + id }

func (s *KVStore) put(ctx context.Context, op string, t *Task, create bool) error {
	if t.ID == "" {
		return apperr.Validation(op, "task id is required")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if t.Stale() {
		return apperr.Validation(op, "pciUnits %v is stale for the current factors", t.PCIUnits)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%s: marshal task: %w", op, err)
	}
	if create {
		err = s.kv.Insert(ctx, taskKey(t.ID), data)
	} else {
		err = s.kv.Set(ctx, taskKey(t.ID), data)
	}
	return apperr.Storage(op, err)
}

// Create persists a new task.
func (s *KVStore) Create(ctx context.Context, t *Task) error {
	return s.put(ctx, "task.create", t, true)
}

// Get retrieves a task by ID.
func (s *KVStore) Get(ctx context.Context, id string) (*Task, error) {
	data, err := s.kv.Get(ctx, taskKey(id))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("task.get", "task", id)
		}
		return nil, apperr.Storage("task.get", err)
	}
	return decode(data)
}

func decode(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, apperr.Storage("task.decode", err)
	}
	return &t, nil
}

// Update saves changes to an existing task.
func (s *KVStore) Update(ctx context.Context, t *Task) error {
	if _, err := s.Get(ctx, t.ID); err != nil {
		return err
	}
	return s.put(ctx, "task.update", t, false)
}

// List returns tasks matching the filter ordered by creation time.
func (s *KVStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	items, err := s.kv.ListByPrefix(ctx, keyPrefix)
	if err != nil {
		return nil, apperr.Storage("task.list", err)
	}
	var tasks []*Task
	for _, it := range items {
		t, err := decode(it.Value)
		if err != nil {
			return nil, err
		}
		if filter.Match(t) {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(tasks) {
			return nil, nil
		}
		tasks = tasks[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(tasks) {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

// Delete tombstones a task. Deleting an already deleted task is a no-op.
func (s *KVStore) Delete(ctx context.Context, id string, at time.Time) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Deleted {
		return nil
	}
	t.Deleted = true
	t.DeletedAt = &at
	t.UpdatedAt = at
	return s.put(ctx, "task.delete", t, false)
}
