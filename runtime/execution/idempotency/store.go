// Package idempotency implements the in-memory store the Execution
// Lifecycle Manager consults before dispatching an intent that carries an
// idempotency key, so that re-submitting the same key for a (tenant, intent
// type) pair returns the original result instead of re-executing (spec §3,
// §8 invariant 6).
package idempotency

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a process-local idempotency store, the default the
// Execution Lifecycle Manager falls back to when none is supplied. Values
// are opaque to the store; runtime/execution stores its own ExecutionResult
// here and type-asserts on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]any
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]any)}
}

func compositeKey(tenantID, intentType, key string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, intentType, key)
}

// Get returns the value previously Put under (tenantID, intentType, key).
func (s *MemoryStore) Get(_ context.Context, tenantID, intentType, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[compositeKey(tenantID, intentType, key)]
	return v, ok, nil
}

// Put records value under (tenantID, intentType, key).
func (s *MemoryStore) Put(_ context.Context, tenantID, intentType, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[compositeKey(tenantID, intentType, key)] = value
	return nil
}
