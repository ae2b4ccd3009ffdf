package api_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/api"
	"github.com/execfabric/fabric/runtime/artifact"
	memartifact "github.com/execfabric/fabric/runtime/artifact/memory"
	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/intent"
	"github.com/execfabric/fabric/runtime/intentregistry"
	"github.com/execfabric/fabric/runtime/outbox"
	inmemoutbox "github.com/execfabric/fabric/runtime/outbox/memory"
	"github.com/execfabric/fabric/runtime/realm"
	"github.com/execfabric/fabric/runtime/session"
	inmemsession "github.com/execfabric/fabric/runtime/session/memory"
	"github.com/execfabric/fabric/runtime/state"
	memstate "github.com/execfabric/fabric/runtime/state/memory"
	"github.com/execfabric/fabric/runtime/wal"
	inmemwal "github.com/execfabric/fabric/runtime/wal/memory"
)

type echoRealm struct{}

func (echoRealm) Name() string             { return "echo" }
func (echoRealm) DeclareIntents() []string { return []string{"echo"} }
func (echoRealm) HandleIntent(_ context.Context, in intent.Intent, _ intentregistry.ExecutionContext) (realm.Result, error) {
	return realm.Result{Artifacts: map[string]any{"echo": in.Parameters["message"]}}, nil
}

func newService(t *testing.T) *api.Service {
	t.Helper()
	intents := intentregistry.New()
	realms := realm.New(intents)
	require.NoError(t, realms.RegisterRealm(echoRealm{}))

	w := wal.New(inmemwal.New(), inmemwal.New(), nil)
	ss := state.New(memstate.New(), memstate.New())
	ob := outbox.New(inmemoutbox.New(), nil)
	steward := execution.NewInMemorySteward(0, 0)

	mgr, err := execution.New(execution.Options{
		Intents: intents, WAL: w, State: ss, Outbox: ob, Steward: steward,
	})
	require.NoError(t, err)

	sessions := session.NewManager(inmemsession.New(), w, nil)
	plane, err := artifact.New(memartifact.NewRegistry(), memartifact.NewBlobStore(), nil)
	require.NoError(t, err)

	svc, err := api.New(api.Options{
		Sessions: sessions, Execution: mgr, Artifacts: plane, State: ss, Outbox: ob,
	})
	require.NoError(t, err)
	return svc
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := api.New(api.Options{})
	require.Error(t, err)
}

func TestCreateAnonymousSessionThenUpgrade(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	anon, err := svc.CreateSession(ctx, api.CreateSessionParams{})
	require.NoError(t, err)
	assert.True(t, anon.Anonymous)
	assert.Empty(t, anon.TenantID)

	upgraded, err := svc.UpgradeSession(ctx, api.UpgradeSessionParams{
		SessionID: anon.SessionID, UserID: "u1", TenantID: "t1",
	})
	require.NoError(t, err)
	assert.False(t, upgraded.Anonymous)
	assert.Equal(t, "t1", upgraded.TenantID)

	got, err := svc.GetSession(ctx, anon.SessionID, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestSubmitIntentAndGetExecutionStatus(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	result, err := svc.SubmitIntent(ctx, api.SubmitIntentParams{
		IntentType: "echo", TenantID: "t1", SessionID: "s1", SolutionID: "sol1",
		Parameters: map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "accepted", result.Status)
	require.NotEmpty(t, result.ExecutionID)

	status, err := svc.GetExecutionStatus(ctx, api.GetExecutionStatusParams{
		TenantID: "t1", ExecutionID: result.ExecutionID,
	})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", status.Status)
	assert.Equal(t, "hi", status.Artifacts["echo"])
}

func TestSubmitIntentUnknownTypeFailsAtStatus(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	result, err := svc.SubmitIntent(ctx, api.SubmitIntentParams{
		IntentType: "does-not-exist", TenantID: "t1", SessionID: "s1", SolutionID: "sol1",
	})
	require.NoError(t, err)
	assert.Equal(t, "accepted", result.Status)

	status, err := svc.GetExecutionStatus(ctx, api.GetExecutionStatusParams{
		TenantID: "t1", ExecutionID: result.ExecutionID,
	})
	require.NoError(t, err)
	assert.Equal(t, "failed", status.Status)
	assert.NotEmpty(t, status.Error)
}

func TestGetExecutionStatusIncludesResolvedArtifacts(t *testing.T) {
	intents := intentregistry.New()
	realms := realm.New(intents)
	require.NoError(t, realms.RegisterRealm(persistingRealm{}))

	w := wal.New(inmemwal.New(), inmemwal.New(), nil)
	ss := state.New(memstate.New(), memstate.New())
	ob := outbox.New(inmemoutbox.New(), nil)
	steward := execution.NewInMemorySteward(0, 0)
	plane, err := artifact.New(memartifact.NewRegistry(), memartifact.NewBlobStore(), nil)
	require.NoError(t, err)

	mgr, err := execution.New(execution.Options{
		Intents: intents, WAL: w, State: ss, Outbox: ob, Steward: steward, Artifacts: plane,
	})
	require.NoError(t, err)
	sessions := session.NewManager(inmemsession.New(), w, nil)
	svc, err := api.New(api.Options{Sessions: sessions, Execution: mgr, Artifacts: plane, State: ss, Outbox: ob})
	require.NoError(t, err)

	ctx := context.Background()
	result, err := svc.SubmitIntent(ctx, api.SubmitIntentParams{
		IntentType: "ingest-file", TenantID: "t1", SessionID: "s1", SolutionID: "sol1",
		Parameters: map[string]any{"content": "payload bytes"},
	})
	require.NoError(t, err)

	status, err := svc.GetExecutionStatus(ctx, api.GetExecutionStatusParams{
		TenantID: "t1", ExecutionID: result.ExecutionID, IncludeArtifacts: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "succeeded", status.Status)
	av, ok := status.Artifacts["summary"].(api.ArtifactView)
	require.True(t, ok)
	assert.Equal(t, []byte("payload bytes"), av.Payload)
}

type persistingRealm struct{}

func (persistingRealm) Name() string             { return "ingest" }
func (persistingRealm) DeclareIntents() []string { return []string{"ingest-file"} }
func (persistingRealm) HandleIntent(_ context.Context, in intent.Intent, _ intentregistry.ExecutionContext) (realm.Result, error) {
	return realm.Result{Artifacts: map[string]any{"summary": in.Parameters["content"]}}, nil
}
