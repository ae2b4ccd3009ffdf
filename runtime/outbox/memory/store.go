// Package inmem provides an in-memory outbox.Store. Nothing selects it
// implicitly: callers such as tests and cmd/fabricd pass it to outbox.New.
package inmem

import (
	"context"
	"sync"

	"github.com/execfabric/fabric/runtime/outbox"
)

// Store is an in-memory, concurrency-safe outbox.Store.
type Store struct {
	mu        sync.Mutex
	events    map[string][]outbox.Event
	published map[string]map[string]bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		events:    make(map[string][]outbox.Event),
		published: make(map[string]map[string]bool),
	}
}

func (s *Store) Append(_ context.Context, ev outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ExecutionID] = append(s.events[ev.ExecutionID], ev)
	return nil
}

func (s *Store) Events(_ context.Context, executionID string) ([]outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.events[executionID]))
	copy(out, s.events[executionID])
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, executionID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.published[executionID] == nil {
		s.published[executionID] = make(map[string]bool)
	}
	s.published[executionID][eventID] = true
	return nil
}

func (s *Store) PublishedIDs(_ context.Context, executionID string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.published[executionID]))
	for k, v := range s.published[executionID] {
		out[k] = v
	}
	return out, nil
}

var _ outbox.Store = (*Store)(nil)
