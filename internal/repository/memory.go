package repository

import (
	"context"
	"sync"

	"rentsync/internal/domain"
)

// MemoryKVStore keeps values in process memory. It is the fallback when the
// primary store is unreachable and the backend for storage.driver=memory.
type MemoryKVStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{values: make(map[string][]byte)}
}

func (r *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	val, ok := r.values[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

func (r *MemoryKVStore) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = append([]byte(nil), value...)
	return nil
}
