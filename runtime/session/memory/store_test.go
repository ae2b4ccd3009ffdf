package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/session"
	inmem "github.com/execfabric/fabric/runtime/session/memory"
	"github.com/execfabric/fabric/runtime/wal"
	inmemwal "github.com/execfabric/fabric/runtime/wal/memory"
)

func newTestManager() (*session.Manager, *wal.WriteAheadLog) {
	w := wal.New(inmemwal.New(), inmemwal.New(), nil)
	return session.NewManager(inmem.New(), w, nil), w
}

func TestAnonymousUpgradeScenario(t *testing.T) {
	// Scenario S1: anonymous -> upgrade.
	ctx := context.Background()
	mgr, w := newTestManager()

	s, err := mgr.CreateAnonymousSession(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, s.TenantID)
	assert.True(t, s.Anonymous)

	upgraded, err := mgr.UpgradeSession(ctx, s.ID, "u1", "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", upgraded.TenantID)
	assert.Equal(t, "u1", upgraded.UserID)
	assert.False(t, upgraded.Anonymous)
	assert.Equal(t, s.ID, upgraded.ID)

	_, err = mgr.GetSession(ctx, s.ID, "")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	found, err := mgr.GetSession(ctx, s.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", found.TenantID)

	createdType := wal.EventSessionCreated
	created, err := w.GetEvents(ctx, session.AnonymousTenant, &createdType, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, s.ID, created[0].Payload["session_id"])

	upgradedType := wal.EventSessionUpgraded
	upgradedEvents, err := w.GetEvents(ctx, "t1", &upgradedType, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, upgradedEvents, 1)
	assert.Equal(t, s.ID, upgradedEvents[0].Payload["session_id"])
	assert.Equal(t, "u1", upgradedEvents[0].Payload["user_id"])
}

func TestReUpgradeRejected(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager()

	s, err := mgr.CreateAnonymousSession(ctx, nil, nil)
	require.NoError(t, err)
	_, err = mgr.UpgradeSession(ctx, s.ID, "u1", "t1", nil)
	require.NoError(t, err)

	_, err = mgr.UpgradeSession(ctx, s.ID, "u2", "t2", nil)
	assert.ErrorIs(t, err, session.ErrAlreadyUpgraded)
}

func TestCrossTenantIsolation(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager()

	s, err := mgr.CreateAuthenticatedSession(ctx, "t1", "u1", "", nil, nil)
	require.NoError(t, err)

	_, err = mgr.GetSession(ctx, s.ID, "t2")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
