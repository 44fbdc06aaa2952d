package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/kv"
)

const keyPrefix = "audit"

// KVStore keeps entries in a kv.Store under audit:{userID}:{id}.
type KVStore struct {
	kv kv.Store
}

// NewKVStore wraps store.
func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{kv: store}
}

func entryKey(userID, id string) string {
	return kv.Key(keyPrefix, userID, id)
}

func (s *KVStore) Append(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if err := s.kv.Insert(ctx, entryKey(e.UserID, e.ID), data); err != nil {
		return apperr.Storage("audit.append", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, userID, id string) (*Entry, error) {
	data, err := s.kv.Get(ctx, entryKey(userID, id))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("audit.get", "audit entry", id)
		}
		return nil, apperr.Storage("audit.get", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, apperr.Storage("audit.get", fmt.Errorf("decode entry %s: %w", id, err))
	}
	return &e, nil
}

func (s *KVStore) ListByEntity(ctx context.Context, entityType EntityType, entityID string) ([]*Entry, error) {
	return s.List(ctx, Query{EntityType: entityType, EntityID: entityID})
}

func (s *KVStore) ListByUser(ctx context.Context, userID string) ([]*Entry, error) {
	// The prefix may also match user ids that extend this one with ':'; Match filters them.
	return s.scan(ctx, kv.Key(keyPrefix, userID)+":", Query{UserID: userID})
}

func (s *KVStore) List(ctx context.Context, q Query) ([]*Entry, error) {
	prefix := keyPrefix + ":"
	if q.UserID != "" {
		prefix = kv.Key(keyPrefix, q.UserID) + ":"
	}
	return s.scan(ctx, prefix, q)
}

func (s *KVStore) scan(ctx context.Context, prefix string, q Query) ([]*Entry, error) {
	items, err := s.kv.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, apperr.Storage("audit.list", err)
	}
	out := make([]*Entry, 0, len(items))
	for _, it := range items {
		var e Entry
		if err := json.Unmarshal(it.Value, &e); err != nil {
			return nil, apperr.Storage("audit.list", fmt.Errorf("decode %s: %w", it.Key, err))
		}
		if q.Match(&e) {
			out = append(out, &e)
		}
	}
	Sort(out)
	return out, nil
}
