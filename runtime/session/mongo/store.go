package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/execfabric/fabric/runtime/session"
	"github.com/execfabric/fabric/runtime/session/mongo/clients/mongo"
)

// Store implements session.Store by delegating to a Mongo client.
type Store struct {
	client mongo.Client
}

// NewStore builds a Store backed by client.
func NewStore(client mongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

func (s *Store) Put(ctx context.Context, sess session.Session) error {
	return s.client.Put(ctx, sess)
}

func (s *Store) Get(ctx context.Context, sessionID, tenantID string) (session.Session, error) {
	return s.client.Get(ctx, sessionID, tenantID)
}

func (s *Store) Delete(ctx context.Context, sessionID, tenantID string) error {
	return s.client.Delete(ctx, sessionID, tenantID)
}

func (s *Store) Touch(ctx context.Context, sessionID, tenantID string, at time.Time) error {
	return s.client.Touch(ctx, sessionID, tenantID, at)
}
