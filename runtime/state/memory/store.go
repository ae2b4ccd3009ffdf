// Package memory provides an in-memory state.KVBackend. Nothing selects it
// implicitly: callers such as tests and cmd/fabricd pass it to state.New.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/execfabric/fabric/runtime/state"
)

type entry struct {
	value    []byte
	expireAt time.Time
}

// Store is a concurrency-safe, in-memory state.KVBackend. Expired entries
// are purged lazily on access.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]entry), now: time.Now}
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expireAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expireAt.IsZero() && s.now().After(e.expireAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) ListKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, e := range s.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.expireAt.IsZero() && s.now().After(e.expireAt) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

var _ state.KVBackend = (*Store)(nil)
