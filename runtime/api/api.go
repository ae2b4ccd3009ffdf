// Package api implements the fabric's public surface (spec §6): Session,
// Intent, Execution status, Artifact, and Health operations. It is the only
// thing a wire binding (httpapi, or any other transport) calls into —
// handlers marshal/unmarshal and route, nothing more.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/execfabric/fabric/runtime/artifact"
	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/ferrors"
	"github.com/execfabric/fabric/runtime/intent"
	"github.com/execfabric/fabric/runtime/outbox"
	"github.com/execfabric/fabric/runtime/session"
	"github.com/execfabric/fabric/runtime/state"
)

// Options configures a Service. Sessions, Execution, Artifacts, and State
// are required collaborators; Outbox is optional, in which case execution
// status responses simply omit events.
type Options struct {
	Sessions  *session.Manager
	Execution *execution.Manager
	Artifacts *artifact.Plane
	State     *state.Surface
	Outbox    *outbox.Outbox
	Clock     clock.Clock
}

// Service implements spec §6's external interfaces over the fabric's core
// components.
type Service struct {
	sessions  *session.Manager
	execution *execution.Manager
	artifacts *artifact.Plane
	state     *state.Surface
	outbox    *outbox.Outbox
	clock     clock.Clock
}

// New constructs a Service, rejecting a missing required collaborator with
// ferrors.Contract8A.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Sessions == nil:
		return nil, ferrors.Contract8A("session manager")
	case opts.Execution == nil:
		return nil, ferrors.Contract8A("execution manager")
	case opts.Artifacts == nil:
		return nil, ferrors.Contract8A("artifact plane")
	case opts.State == nil:
		return nil, ferrors.Contract8A("state surface")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System
	}
	return &Service{
		sessions:  opts.Sessions,
		execution: opts.Execution,
		artifacts: opts.Artifacts,
		state:     opts.State,
		outbox:    opts.Outbox,
		clock:     clk,
	}, nil
}

// SessionView is the wire shape of a Session (spec §6 "Session API").
type SessionView struct {
	SessionID string         `json:"session_id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Anonymous bool           `json:"anonymous"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toSessionView(s session.Session) SessionView {
	return SessionView{
		SessionID: s.ID, TenantID: s.TenantID, UserID: s.UserID, Anonymous: s.Anonymous,
		Metadata: s.Metadata, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt,
	}
}

// CreateSessionParams are the inputs to CreateSession. An empty TenantID
// creates an anonymous session; a non-empty one creates an authenticated
// session directly (spec §6 "POST /api/session/create").
type CreateSessionParams struct {
	TenantID          string
	UserID            string
	SessionID         string
	ExecutionContract map[string]any
	Metadata          map[string]any
}

// CreateSession creates an anonymous or authenticated session depending on
// whether params.TenantID is set.
func (s *Service) CreateSession(ctx context.Context, params CreateSessionParams) (SessionView, error) {
	if params.TenantID == "" {
		sess, err := s.sessions.CreateAnonymousSession(ctx, params.ExecutionContract, params.Metadata)
		if err != nil {
			return SessionView{}, err
		}
		return toSessionView(sess), nil
	}
	sess, err := s.sessions.CreateAuthenticatedSession(ctx, params.TenantID, params.UserID, params.SessionID,
		params.ExecutionContract, params.Metadata)
	if err != nil {
		return SessionView{}, err
	}
	return toSessionView(sess), nil
}

// UpgradeSessionParams are the inputs to UpgradeSession (spec §6 "POST
// /api/session/upgrade").
type UpgradeSessionParams struct {
	SessionID string
	UserID    string
	TenantID  string
	Metadata  map[string]any
}

// UpgradeSession binds an anonymous session to a tenant and user.
func (s *Service) UpgradeSession(ctx context.Context, params UpgradeSessionParams) (SessionView, error) {
	sess, err := s.sessions.UpgradeSession(ctx, params.SessionID, params.UserID, params.TenantID, params.Metadata)
	if err != nil {
		return SessionView{}, err
	}
	return toSessionView(sess), nil
}

// GetSession returns the session scoped to tenantID (spec §6 "GET
// /api/session/{session id}").
func (s *Service) GetSession(ctx context.Context, sessionID, tenantID string) (SessionView, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID, tenantID)
	if err != nil {
		return SessionView{}, err
	}
	return toSessionView(sess), nil
}

// SubmitIntentParams are the inputs to SubmitIntent (spec §6 "POST
// /api/intent/submit").
type SubmitIntentParams struct {
	IntentID       string
	IntentType     string
	TenantID       string
	SessionID      string
	SolutionID     string
	Parameters     map[string]any
	Metadata       map[string]any
	IdempotencyKey string
}

// SubmitIntentResult is what SubmitIntent returns.
type SubmitIntentResult struct {
	ExecutionID string    `json:"execution_id,omitempty"`
	IntentID    string    `json:"intent_id"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// SubmitIntent creates an Intent from params and runs it through the
// Execution Lifecycle Manager. A non-nil error means the intent was never
// accepted — the caller maps that to a 500 (spec §6). A handler failure
// still returns a nil error with Status "accepted": the failure surfaces at
// status retrieval, exactly as spec.md §6 describes.
func (s *Service) SubmitIntent(ctx context.Context, params SubmitIntentParams) (SubmitIntentResult, error) {
	now := s.clock.NowUTC()
	in, err := intent.Create(ctx, intent.CreateParams{
		ID: params.IntentID, Type: params.IntentType, TenantID: params.TenantID,
		SessionID: params.SessionID, SolutionID: params.SolutionID,
		Parameters: params.Parameters, Metadata: params.Metadata, IdempotencyKey: params.IdempotencyKey,
	})
	if err != nil {
		return SubmitIntentResult{}, err
	}
	result, err := s.execution.Execute(ctx, in)
	if err != nil {
		return SubmitIntentResult{IntentID: in.ID, Status: "failed", CreatedAt: now}, err
	}
	return SubmitIntentResult{
		ExecutionID: result.ExecutionID, IntentID: in.ID, Status: "accepted", CreatedAt: now,
	}, nil
}

// OutboxEventView is the wire shape of an outbox.Event.
type OutboxEventView struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionStatusView is the wire shape of an Execution (spec §6 "GET
// /api/execution/{execution id}/status").
type ExecutionStatusView struct {
	ExecutionID string            `json:"execution_id"`
	Status      string            `json:"status"`
	IntentID    string            `json:"intent_id"`
	Artifacts   map[string]any    `json:"artifacts,omitempty"`
	Events      []OutboxEventView `json:"events,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// GetExecutionStatusParams are the inputs to GetExecutionStatus.
type GetExecutionStatusParams struct {
	TenantID         string
	ExecutionID      string
	IncludeArtifacts bool
	IncludeVisuals   bool
}

// ErrExecutionNotFound is returned by GetExecutionStatus when no execution
// exists under the given (tenant, execution id) pair.
var ErrExecutionNotFound = errors.New("execution not found")

// GetExecutionStatus reads back a committed execution, resolving artifact
// references through the Artifact Plane when params.IncludeArtifacts is set
// (spec §6). Otherwise artifacts are returned as stored on the execution
// record: reference ids for persisted artifacts, inline values for the rest.
func (s *Service) GetExecutionStatus(ctx context.Context, params GetExecutionStatusParams) (ExecutionStatusView, error) {
	exec, ok, err := s.execution.GetExecution(ctx, params.TenantID, params.ExecutionID)
	if err != nil {
		return ExecutionStatusView{}, err
	}
	if !ok {
		return ExecutionStatusView{}, ferrors.Wrap(ferrors.Validation, ErrExecutionNotFound,
			"execution %q not found for tenant %q", params.ExecutionID, params.TenantID)
	}
	view := ExecutionStatusView{
		ExecutionID: exec.ID, Status: string(exec.Status), IntentID: exec.IntentID, Error: exec.Error,
	}
	if params.IncludeArtifacts {
		resolved := make(map[string]any, len(exec.Artifacts))
		for key, ref := range exec.Artifacts {
			id, ok := ref.(string)
			if !ok {
				resolved[key] = ref
				continue
			}
			av, err := s.GetArtifact(ctx, GetArtifactParams{
				TenantID: params.TenantID, ArtifactID: id, IncludeVisuals: params.IncludeVisuals,
			})
			if err != nil {
				resolved[key] = ref
				continue
			}
			resolved[key] = av
		}
		view.Artifacts = resolved
	} else {
		view.Artifacts = exec.Artifacts
	}
	if s.outbox != nil {
		if events, err := s.outbox.Events(ctx, exec.ID); err == nil {
			for _, ev := range events {
				view.Events = append(view.Events, OutboxEventView{EventID: ev.EventID, EventType: ev.EventType, Data: ev.Data})
			}
		}
	}
	return view, nil
}

// ArtifactView is the wire shape of an artifact.Artifact (spec §6 "GET
// /api/artifacts/{artifact id}"). An image artifact (metadata mime_type
// image/*) has its Payload omitted and StoragePath set instead unless the
// caller asked for visuals; other payloads are included. encoding/json
// renders a non-nil []byte as base64.
type ArtifactView struct {
	ArtifactID        string         `json:"artifact_id"`
	Type              string         `json:"type"`
	TenantID          string         `json:"tenant_id"`
	SessionID         string         `json:"session_id,omitempty"`
	SolutionID        string         `json:"solution_id,omitempty"`
	LifecycleState    string         `json:"lifecycle_state"`
	Owner             string         `json:"owner"`
	Purpose           string         `json:"purpose"`
	Version           int            `json:"version"`
	IsCurrentVersion  bool           `json:"is_current_version"`
	BaseArtifactID    string         `json:"base_artifact_id"`
	ParentArtifactID  string         `json:"parent_artifact_id,omitempty"`
	SourceArtifactIDs []string       `json:"source_artifact_ids,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	StoragePath       string         `json:"storage_path,omitempty"`
	Payload           []byte         `json:"payload,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func toArtifactView(a artifact.Artifact, payload []byte, includeVisuals bool) ArtifactView {
	v := ArtifactView{
		ArtifactID: a.ID, Type: a.Type, TenantID: a.TenantID, SessionID: a.SessionID, SolutionID: a.SolutionID,
		LifecycleState: string(a.LifecycleState), Owner: string(a.Owner), Purpose: string(a.Purpose),
		Version: a.Version, IsCurrentVersion: a.IsCurrentVersion, BaseArtifactID: a.BaseArtifactID,
		ParentArtifactID: a.ParentArtifactID, SourceArtifactIDs: a.SourceArtifactIDs, Metadata: a.Metadata,
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
	if isVisual(a) && !includeVisuals {
		v.StoragePath = a.StoragePath
		return v
	}
	v.Payload = payload
	return v
}

func isVisual(a artifact.Artifact) bool {
	mimeType, _ := a.Metadata["mime_type"].(string)
	return strings.HasPrefix(mimeType, "image/")
}

// GetArtifactParams are the inputs to GetArtifact. SessionID is optional and
// narrows the file-storage fallback step; the HTTP endpoint (spec §6) fills
// it from the optional session_id query parameter.
type GetArtifactParams struct {
	TenantID       string
	ArtifactID     string
	SessionID      string
	IncludeVisuals bool
}

// GetArtifact resolves artifactID through the unified retrieval chain
// (SUPPLEMENTED FEATURES #1): the Artifact Plane registry first, then the
// State Surface's file storage (normalized through artifact.FromFileMetadata
// so a file looks identical to a structured artifact), then a direct blob
// store lookup treating artifactID itself as a storage path.
func (s *Service) GetArtifact(ctx context.Context, params GetArtifactParams) (ArtifactView, error) {
	a, payload, err := s.artifacts.GetArtifact(ctx, params.TenantID, params.ArtifactID, true)
	if err == nil {
		return toArtifactView(a, payload, params.IncludeVisuals), nil
	}
	if !errors.Is(err, artifact.ErrNotFound) {
		return ArtifactView{}, err
	}

	if content, ok, ferr := s.state.GetFile(ctx, params.TenantID, params.SessionID, params.ArtifactID); ferr == nil && ok {
		var meta struct {
			UIName      string `json:"ui_name"`
			MimeType    string `json:"mime_type"`
			Size        int64  `json:"size"`
			ContentHash string `json:"content_hash"`
		}
		if raw, ok, _ := s.state.GetFileMetadata(ctx, params.TenantID, params.SessionID, params.ArtifactID); ok {
			_ = json.Unmarshal(raw, &meta)
		}
		fa := artifact.FromFileMetadata(params.TenantID, params.SessionID, params.ArtifactID,
			meta.UIName, meta.MimeType, meta.Size, meta.ContentHash, s.clock.NowUTC())
		if params.IncludeVisuals {
			return toArtifactView(fa, content, true), nil
		}
		return toArtifactView(fa, nil, false), nil
	}

	if content, derr := s.artifacts.GetBlobDirect(ctx, params.ArtifactID); derr == nil {
		fa := artifact.FromFileMetadata(params.TenantID, params.SessionID, params.ArtifactID, "", "", int64(len(content)), "", s.clock.NowUTC())
		return toArtifactView(fa, content, params.IncludeVisuals), nil
	}

	return ArtifactView{}, err
}

// GetVisual returns raw image bytes stored at visualPath (spec §6 "GET
// /api/artifacts/visual/{visual path}").
func (s *Service) GetVisual(ctx context.Context, tenantID, visualPath string) ([]byte, error) {
	return s.artifacts.GetBlobDirect(ctx, visualPath)
}
