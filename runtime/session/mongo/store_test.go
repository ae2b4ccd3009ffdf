package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/session"
)

func TestNewStoreRequiresClient(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "client is required")
}

func TestStoreDelegatesToClient(t *testing.T) {
	fake := newFakeClient()
	store, err := NewStore(fake)
	require.NoError(t, err)

	now := time.Now().UTC()
	s := session.Session{ID: "sess-1", TenantID: "t1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Put(context.Background(), s))
	require.Equal(t, s, fake.puts["sess-1|t1"])

	fake.get = s
	got, err := store.Get(context.Background(), "sess-1", "t1")
	require.NoError(t, err)
	require.Equal(t, s, got)

	require.NoError(t, store.Touch(context.Background(), "sess-1", "t1", now))
	require.True(t, fake.touched)

	require.NoError(t, store.Delete(context.Background(), "sess-1", "t1"))
	require.True(t, fake.deleted)
}

type fakeClient struct {
	puts    map[string]session.Session
	get     session.Session
	touched bool
	deleted bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{puts: make(map[string]session.Session)}
}

func (f *fakeClient) Name() string               { return "fake" }
func (f *fakeClient) Ping(context.Context) error { return nil }

func (f *fakeClient) Put(_ context.Context, s session.Session) error {
	f.puts[s.ID+"|"+s.TenantID] = s
	return nil
}

func (f *fakeClient) Get(_ context.Context, sessionID, tenantID string) (session.Session, error) {
	return f.get, nil
}

func (f *fakeClient) Delete(_ context.Context, sessionID, tenantID string) error {
	f.deleted = true
	return nil
}

func (f *fakeClient) Touch(_ context.Context, sessionID, tenantID string, at time.Time) error {
	f.touched = true
	return nil
}
