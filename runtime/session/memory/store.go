// Package inmem provides an in-memory implementation of session.Store,
// grounded on the teacher's runtime/agent/session/inmem store. Nothing
// selects it implicitly: callers such as tests and cmd/fabricd pass it to
// session.NewManager; runtime/session/mongo is the durable alternative.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/execfabric/fabric/runtime/session"
)

// Store is an in-memory, tenant-namespaced implementation of session.Store.
// Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	byNS map[string]map[string]session.Session // namespace -> sessionID -> Session
}

// New returns an empty Store.
func New() *Store {
	return &Store{byNS: make(map[string]map[string]session.Session)}
}

func namespace(tenantID string) string {
	if tenantID == "" {
		return session.AnonymousTenant
	}
	return tenantID
}

func (s *Store) Put(_ context.Context, sess session.Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	ns := namespace(sess.TenantID)

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byNS[ns]
	if !ok {
		bucket = make(map[string]session.Session)
		s.byNS[ns] = bucket
	}
	bucket[sess.ID] = clone(sess)
	return nil
}

func (s *Store) Get(_ context.Context, sessionID, tenantID string) (session.Session, error) {
	ns := namespace(tenantID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.byNS[ns]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	sess, ok := bucket[sessionID]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	return clone(sess), nil
}

func (s *Store) Delete(_ context.Context, sessionID, tenantID string) error {
	ns := namespace(tenantID)

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byNS[ns]
	if !ok {
		return nil
	}
	delete(bucket, sessionID)
	return nil
}

func (s *Store) Touch(_ context.Context, sessionID, tenantID string, at time.Time) error {
	ns := namespace(tenantID)

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byNS[ns]
	if !ok {
		return session.ErrSessionNotFound
	}
	sess, ok := bucket[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	sess.UpdatedAt = at.UTC()
	bucket[sessionID] = sess
	return nil
}

func clone(in session.Session) session.Session {
	out := in
	if in.ExecutionContract != nil {
		out.ExecutionContract = make(map[string]any, len(in.ExecutionContract))
		for k, v := range in.ExecutionContract {
			out.ExecutionContract[k] = v
		}
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	if in.UpgradedAt != nil {
		at := *in.UpgradedAt
		out.UpgradedAt = &at
	}
	return out
}
