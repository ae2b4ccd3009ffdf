// Package content implements the fabric's file-ingestion domain service: a
// Realm (spec §4.3) that turns an "ingest-file" intent into a stored file
// plus a content-derived summary artifact. It is grounded on the original
// platform's content realm, trimmed to the ingestion path a complete
// reference implementation needs to exercise the State Surface's file
// storage end to end (scenario S2).
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/ferrors"
	"github.com/execfabric/fabric/runtime/intent"
	"github.com/execfabric/fabric/runtime/intentregistry"
	"github.com/execfabric/fabric/runtime/realm"
	"github.com/execfabric/fabric/runtime/state"
)

const (
	// IntentIngestFile is the only intent type this realm currently serves.
	// The original content realm declares two dozen; the rest (bulk
	// ingestion, lifecycle, search) are out of scope per spec.md's
	// Non-goals on multi-step workflows beyond a single execution.
	IntentIngestFile = "ingest-file"
	realmName        = "content"
)

// fileMetadata is the sidecar JSON written alongside file content, read
// back by runtime/api's retrieval fallback chain (SUPPLEMENTED FEATURES #1).
type fileMetadata struct {
	UIName      string `json:"ui_name"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// Realm implements runtime/realm.Realm for content operations.
type Realm struct{}

// New returns a content Realm.
func New() *Realm { return &Realm{} }

func (r *Realm) Name() string { return realmName }

func (r *Realm) DeclareIntents() []string { return []string{IntentIngestFile} }

// HandleIntent stores the intent's "content" and "filename"/"mime_type"
// parameters through the State Surface's file storage and returns a summary
// artifact describing the stored file (spec §4.3 Result contract: artifacts
// plus events, never direct mutation).
func (r *Realm) HandleIntent(ctx context.Context, in intent.Intent, ec intentregistry.ExecutionContext) (realm.Result, error) {
	execCtx, ok := ec.(execution.ExecutionContext)
	if !ok {
		return realm.Result{}, ferrors.New(ferrors.Validation, "content realm: unexpected execution context type %T", ec)
	}
	if execCtx.State == nil {
		return realm.Result{}, ferrors.Contract8A("state surface")
	}

	content, ok := stringParam(in.Parameters, "content")
	if !ok {
		return realm.Result{}, ferrors.New(ferrors.Validation, "ingest-file requires a non-empty %q parameter", "content")
	}
	filename, _ := stringParam(in.Parameters, "filename")
	mimeType, _ := stringParam(in.Parameters, "mime_type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	payload := []byte(content)
	fileID := clock.NewID("file")
	sum := sha256.Sum256(payload)

	if err := execCtx.State.StoreFile(ctx, execCtx.TenantID, execCtx.SessionID, fileID, payload, state.Metadata{}); err != nil {
		return realm.Result{}, ferrors.Wrap(ferrors.BackendUnavailable, err, "content realm: store file failed")
	}

	meta := fileMetadata{
		UIName:      filename,
		MimeType:    mimeType,
		Size:        int64(len(payload)),
		ContentHash: hex.EncodeToString(sum[:]),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return realm.Result{}, ferrors.Wrap(ferrors.Validation, err, "content realm: marshal file metadata failed")
	}
	if err := execCtx.State.SetFileMetadata(ctx, execCtx.TenantID, execCtx.SessionID, fileID, metaBytes, state.Metadata{}); err != nil {
		return realm.Result{}, ferrors.Wrap(ferrors.BackendUnavailable, err, "content realm: store file metadata failed")
	}

	summary := map[string]any{
		"file_id":      fileID,
		"ui_name":      filename,
		"mime_type":    mimeType,
		"size":         meta.Size,
		"content_hash": meta.ContentHash,
	}

	return realm.Result{
		Artifacts: map[string]any{"file": fileID, "summary": summary},
		Events: []realm.Event{
			{Type: "file.ingested", Data: map[string]any{"file_id": fileID, "execution_id": execCtx.ExecutionID}},
		},
	}, nil
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
