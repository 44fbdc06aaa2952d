package kv

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/GoCodeAlone/pciledger/apperr"
)

// MemoryStore is a thread-safe in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, apperr.NotFound("kv.get", "key", key)
	}
	return slices.Clone(v), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = slices.Clone(value)
	return nil
}

func (m *MemoryStore) Insert(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[key]; exists {
		return apperr.Conflict("kv.insert", "key %q already exists", key)
	}
	m.items[key] = slices.Clone(value)
	return nil
}

func (m *MemoryStore) ListByPrefix(_ context.Context, prefix string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Item
	for k, v := range m.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Item{Key: k, Value: slices.Clone(v)})
		}
	}
	slices.SortFunc(out, func(a, b Item) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
