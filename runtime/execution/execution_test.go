package execution_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/ferrors"
	"github.com/execfabric/fabric/runtime/intent"
	"github.com/execfabric/fabric/runtime/intentregistry"
	"github.com/execfabric/fabric/runtime/outbox"
	inmemoutbox "github.com/execfabric/fabric/runtime/outbox/memory"
	"github.com/execfabric/fabric/runtime/realm"
	"github.com/execfabric/fabric/runtime/state"
	memstate "github.com/execfabric/fabric/runtime/state/memory"
	"github.com/execfabric/fabric/runtime/wal"
	inmemwal "github.com/execfabric/fabric/runtime/wal/memory"
)

type harness struct {
	mgr     *execution.Manager
	intents *intentregistry.Registry
	steward *execution.InMemorySteward
}

func newHarness(t *testing.T) harness {
	t.Helper()
	intents := intentregistry.New()
	w := wal.New(inmemwal.New(), inmemwal.New(), nil)
	st := state.New(memstate.New(), memstate.New())
	ob := outbox.New(inmemoutbox.New(), nil)
	steward := execution.NewInMemorySteward(0, 0)

	mgr, err := execution.New(execution.Options{
		Intents: intents,
		WAL:     w,
		State:   st,
		Outbox:  ob,
		Steward: steward,
	})
	require.NoError(t, err)
	return harness{mgr: mgr, intents: intents, steward: steward}
}

func validIntent(t *testing.T, intentType string) intent.Intent {
	t.Helper()
	in, err := intent.Create(context.Background(), intent.CreateParams{
		Type: intentType, TenantID: "tenant-1", SessionID: "session-1", SolutionID: "solution-1",
	})
	require.NoError(t, err)
	return in
}

func TestExecuteDispatchesToHandlerAndCommits(t *testing.T) {
	h := newHarness(t)
	h.intents.RegisterIntent("greet", "greeter", func(_ context.Context, in intent.Intent, _ intentregistry.ExecutionContext) (any, error) {
		return realm.Result{Artifacts: map[string]any{"greeting": "hello"}}, nil
	})

	res, err := h.mgr.Execute(context.Background(), validIntent(t, "greet"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "hello", res.Artifacts["greeting"])
	assert.False(t, res.Replayed)

	exec, ok, err := h.mgr.GetExecution(context.Background(), "tenant-1", res.ExecutionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, execution.StatusSucceeded, exec.Status)
}

func TestExecuteNoHandlerFails(t *testing.T) {
	h := newHarness(t)
	res, err := h.mgr.Execute(context.Background(), validIntent(t, "unregistered"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no handler registered")
}

func TestExecuteHandlerErrorFails(t *testing.T) {
	h := newHarness(t)
	h.intents.RegisterIntent("boom", "realm-a", func(context.Context, intent.Intent, intentregistry.ExecutionContext) (any, error) {
		return nil, assertErr
	})
	res, err := h.mgr.Execute(context.Background(), validIntent(t, "boom"))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "handler")

	exec, ok, err := h.mgr.GetExecution(context.Background(), "tenant-1", res.ExecutionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, execution.StatusFailed, exec.Status)
}

func TestExecuteIdempotencyReplay(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.intents.RegisterIntent("ingest", "content", func(context.Context, intent.Intent, intentregistry.ExecutionContext) (any, error) {
		calls++
		return realm.Result{Artifacts: map[string]any{"n": calls}}, nil
	})

	in, err := intent.Create(context.Background(), intent.CreateParams{
		Type: "ingest", TenantID: "tenant-1", SessionID: "session-1", SolutionID: "solution-1",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	first, err := h.mgr.Execute(context.Background(), in)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := h.mgr.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)
	assert.Equal(t, 1, calls, "handler must not run twice for the same idempotency key")
}

func TestExecuteRejectsMissingFields(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Execute(context.Background(), intent.Intent{Type: "ingest-file", TenantID: "tenant-1"})
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.Validation, kind)
}

// TestExecuteRequiresDataStewardForIngestFile is scenario S6: constructing
// an Execution Lifecycle Manager without a reachable Data Steward for an
// intent type that requires a boundary contract surfaces the §8A marker.
func TestExecuteRequiresDataStewardForIngestFile(t *testing.T) {
	intents := intentregistry.New()
	w := wal.New(inmemwal.New(), inmemwal.New(), nil)
	st := state.New(memstate.New(), memstate.New())
	ob := outbox.New(inmemoutbox.New(), nil)

	mgr, err := execution.New(execution.Options{
		Intents: intents, WAL: w, State: st, Outbox: ob,
		Steward: failingSteward{},
	})
	require.NoError(t, err)

	_, err = mgr.Execute(context.Background(), validIntent(t, "ingest-file"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Platform contract §8A")
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := execution.New(execution.Options{})
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.Contract8A, kind)
}

type stubErr string

func (e stubErr) Error() string { return string(e) }

const assertErr = stubErr("handler exploded")

type failingSteward struct{}

func (failingSteward) AssignBoundaryContract(context.Context, intent.Intent) (execution.BoundaryContract, error) {
	return execution.BoundaryContract{}, stubErr("steward offline")
}
func (failingSteward) AcquireExecutionSlot(context.Context, string) error { return nil }
func (failingSteward) ReleaseExecutionSlot(string)                        {}
