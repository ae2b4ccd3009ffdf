package content_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/intent"
	"github.com/execfabric/fabric/runtime/realm"
	"github.com/execfabric/fabric/runtime/state"
	memstate "github.com/execfabric/fabric/runtime/state/memory"

	"github.com/execfabric/fabric/realms/content"
)

func TestDeclareIntents(t *testing.T) {
	r := content.New()
	assert.Equal(t, "content", r.Name())
	assert.Equal(t, []string{content.IntentIngestFile}, r.DeclareIntents())
}

func TestHandleIntentStoresFileAndReturnsSummary(t *testing.T) {
	r := content.New()
	ss := state.New(memstate.New(), memstate.New())
	ec := execution.ExecutionContext{TenantID: "t1", SessionID: "s1", ExecutionID: "e1", State: ss}

	in := intent.Intent{
		ID: "i1", Type: content.IntentIngestFile, TenantID: "t1", SessionID: "s1",
		Parameters: map[string]any{"content": "hello world", "filename": "hi.txt", "mime_type": "text/plain"},
	}

	result, err := r.HandleIntent(context.Background(), in, ec)
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "file.ingested", result.Events[0].Type)

	fileID, ok := result.Artifacts["file"].(string)
	require.True(t, ok)
	require.NotEmpty(t, fileID)

	stored, ok, err := ss.GetFile(context.Background(), "t1", "s1", fileID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", string(stored))

	summary, ok := result.Artifacts["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi.txt", summary["ui_name"])
	assert.Equal(t, "text/plain", summary["mime_type"])
}

func TestHandleIntentRejectsMissingContent(t *testing.T) {
	r := content.New()
	ss := state.New(memstate.New(), memstate.New())
	ec := execution.ExecutionContext{TenantID: "t1", SessionID: "s1", State: ss}

	_, err := r.HandleIntent(context.Background(), intent.Intent{Type: content.IntentIngestFile}, ec)
	require.Error(t, err)
}

func TestHandleIntentRejectsWrongContextType(t *testing.T) {
	r := content.New()
	_, err := r.HandleIntent(context.Background(), intent.Intent{Type: content.IntentIngestFile}, "not-a-context")
	require.Error(t, err)
}

var _ realm.Realm = (*content.Realm)(nil)
