package artifact_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/artifact"
	"github.com/execfabric/fabric/runtime/artifact/memory"
	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/ferrors"
)

func fixedTime() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func newPlane(t *testing.T) *artifact.Plane {
	t.Helper()
	p, err := artifact.New(memory.NewRegistry(), memory.NewBlobStore(), nil)
	require.NoError(t, err)
	return p
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := artifact.New(nil, memory.NewBlobStore(), nil)
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.Contract8A, kind)
}

func TestCreateArtifactDefaultsAndRoundTrips(t *testing.T) {
	p := newPlane(t)
	a, err := p.CreateArtifact(context.Background(), artifact.CreateParams{
		Type: "blueprint", TenantID: "t1", Payload: []byte("payload"),
	})
	require.NoError(t, err)
	assert.Equal(t, artifact.StateDraft, a.LifecycleState)
	assert.Equal(t, artifact.OwnerClient, a.Owner)
	assert.Equal(t, artifact.PurposeDelivery, a.Purpose)
	assert.Equal(t, 1, a.Version)
	assert.True(t, a.IsCurrentVersion)
	assert.Equal(t, a.ID, a.BaseArtifactID)

	got, payload, err := p.GetArtifact(context.Background(), "t1", a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, "payload", string(payload))
}

func TestTransitionLifecycleStateFollowsAllowedGraph(t *testing.T) {
	p := newPlane(t)
	a, err := p.CreateArtifact(context.Background(), artifact.CreateParams{Type: "sop", TenantID: "t1"})
	require.NoError(t, err)

	a, err = p.TransitionLifecycleState(context.Background(), "t1", a.ID, artifact.StateAccepted, "alice", "looks good")
	require.NoError(t, err)
	assert.Equal(t, artifact.StateAccepted, a.LifecycleState)
	require.Len(t, a.Transitions, 1)

	// same-state transition is idempotent
	a2, err := p.TransitionLifecycleState(context.Background(), "t1", a.ID, artifact.StateAccepted, "alice", "")
	require.NoError(t, err)
	assert.Len(t, a2.Transitions, 1)

	_, err = p.TransitionLifecycleState(context.Background(), "t1", a.ID, artifact.StateDraft, "alice", "")
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.LifecycleViolation, kind)
}

func TestCreateVersionFlipsCurrentFlag(t *testing.T) {
	p := newPlane(t)
	v1, err := p.CreateArtifact(context.Background(), artifact.CreateParams{Type: "roadmap", TenantID: "t1", Payload: []byte("v1")})
	require.NoError(t, err)

	v2, err := p.CreateVersion(context.Background(), "t1", v1.ID, []byte("v2"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, v1.ID, v2.ParentArtifactID)
	assert.True(t, v2.IsCurrentVersion)

	stale, _, err := p.GetArtifact(context.Background(), "t1", v1.ID, false)
	require.NoError(t, err)
	assert.False(t, stale.IsCurrentVersion)

	versions, err := p.ListVersions(context.Background(), "t1", v1.BaseArtifactID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestCreateArtifactRejectsDependencyCycle(t *testing.T) {
	p := newPlane(t)
	a, err := p.CreateArtifact(context.Background(), artifact.CreateParams{Type: "sop", TenantID: "t1"})
	require.NoError(t, err)
	b, err := p.CreateArtifact(context.Background(), artifact.CreateParams{
		Type: "sop", TenantID: "t1", SourceArtifactIDs: []string{a.ID},
	})
	require.NoError(t, err)

	_, err = p.CreateVersion(context.Background(), "t1", a.ID, []byte("v2"), nil, []string{b.ID})
	require.Error(t, err)
	kind, ok := ferrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.LifecycleViolation, kind)
}

func TestDeleteArtifactRefusesWithReverseDependents(t *testing.T) {
	p := newPlane(t)
	a, err := p.CreateArtifact(context.Background(), artifact.CreateParams{Type: "sop", TenantID: "t1"})
	require.NoError(t, err)
	_, err = p.CreateArtifact(context.Background(), artifact.CreateParams{
		Type: "workflow", TenantID: "t1", SourceArtifactIDs: []string{a.ID},
	})
	require.NoError(t, err)

	err = p.DeleteArtifact(context.Background(), "t1", a.ID, false)
	require.Error(t, err)

	require.NoError(t, p.DeleteArtifact(context.Background(), "t1", a.ID, true))
	_, _, err = p.GetArtifact(context.Background(), "t1", a.ID, false)
	require.Error(t, err)
}

func TestRegisterLineageAppends(t *testing.T) {
	p := newPlane(t)
	a, err := p.CreateArtifact(context.Background(), artifact.CreateParams{Type: "sop", TenantID: "t1"})
	require.NoError(t, err)

	require.NoError(t, p.RegisterLineage(context.Background(), "t1", a.ID, "execution-1"))
	require.NoError(t, p.RegisterLineage(context.Background(), "t1", a.ID, "execution-2"))

	got, _, err := p.GetArtifact(context.Background(), "t1", a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"execution-1", "execution-2"}, got.LineageExecutionIDs)
}

func TestPlaneImplementsExecutionArtifactPersister(t *testing.T) {
	p := newPlane(t)
	ref, err := p.Persist(context.Background(), execution.ArtifactParams{
		TenantID: "t1", SessionID: "s1", SolutionID: "sol1", ExecutionID: "e1", IntentID: "i1",
		Key: "summary", Value: "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	a, payload, err := p.GetArtifact(context.Background(), "t1", ref, true)
	require.NoError(t, err)
	assert.Equal(t, "summary", a.Type)
	assert.Equal(t, "hello", string(payload))
	assert.Equal(t, []string{"e1"}, a.LineageExecutionIDs)
}

func TestFromFileMetadataProducesFileTypeArtifact(t *testing.T) {
	a := artifact.FromFileMetadata("t1", "s1", "file-1", "report.pdf", "application/pdf", 1024, "abc123", fixedTime())
	assert.Equal(t, "file", a.Type)
	assert.Equal(t, "report.pdf", a.Metadata["ui_name"])
	assert.True(t, a.IsCurrentVersion)
}
