// Package artifact implements the Artifact Plane (spec §4.8): the durable
// registry and payload store for everything a realm produces, from a
// generated blueprint to an uploaded file. Registry entries carry lifecycle
// state, versioning, and lineage; payload bytes live behind a separate
// BlobStore so the registry itself stays small and queryable.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/execution"
	"github.com/execfabric/fabric/runtime/ferrors"
)

// ErrNotFound is wrapped into every "artifact not found" error this package
// returns, so callers can detect the not-found case with errors.Is instead
// of string-matching (runtime/api's retrieval fallback chain relies on it).
var ErrNotFound = errors.New("artifact not found")

// LifecycleState is an artifact's position in its draft/accepted/obsolete
// lifecycle (spec §3 "Artifact", §4.8).
type LifecycleState string

const (
	StateDraft    LifecycleState = "draft"
	StateAccepted LifecycleState = "accepted"
	StateObsolete LifecycleState = "obsolete"
)

// Owner scopes who an artifact belongs to.
type Owner string

const (
	OwnerClient   Owner = "client"
	OwnerPlatform Owner = "platform"
	OwnerShared   Owner = "shared"
)

// Purpose classifies why an artifact exists.
type Purpose string

const (
	PurposeDecisionSupport Purpose = "decision-support"
	PurposeDelivery        Purpose = "delivery"
	PurposeGovernance      Purpose = "governance"
	PurposeLearning        Purpose = "learning"
)

// Transition records one lifecycle state change (spec §3).
type Transition struct {
	From      LifecycleState
	To        LifecycleState
	Timestamp time.Time
	Actor     string
	Reason    string
}

// Artifact is the Artifact Plane's registry entry (spec §3 "Artifact").
type Artifact struct {
	ID                 string
	Type               string
	TenantID           string
	SessionID          string
	SolutionID         string
	RealmName          string
	IntentType         string
	IntentID           string
	ExecutionID        string
	StoragePath        string
	Regenerable        bool
	RetentionPolicy    string
	Metadata           map[string]any
	LifecycleState     LifecycleState
	Owner              Owner
	Purpose            Purpose
	Transitions        []Transition
	Version            int
	BaseArtifactID     string // identifies a version chain; equals ID for v1
	ParentArtifactID   string
	IsCurrentVersion   bool
	SourceArtifactIDs  []string
	LineageExecutionIDs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CreateParams are the inputs to CreateArtifact.
type CreateParams struct {
	ID         string // optional, generated when empty
	Type       string
	TenantID   string
	SessionID  string
	SolutionID string
	RealmName  string
	IntentType string
	IntentID   string
	ExecutionID string
	Payload    []byte
	Metadata   map[string]any
	// LifecycleState, Owner, Purpose default to draft/client/delivery (spec
	// §4.8's create-artifact defaults).
	LifecycleState    LifecycleState
	Owner             Owner
	Purpose           Purpose
	SourceArtifactIDs []string
	Regenerable       bool
	RetentionPolicy   string
}

// Registry persists Artifact metadata, keyed by (tenant, artifact id). It is
// implemented by runtime/artifact/mongoregistry for production and
// runtime/artifact/memory for tests.
type Registry interface {
	Put(ctx context.Context, a Artifact) error
	Get(ctx context.Context, tenantID, artifactID string) (Artifact, bool, error)
	// List returns every artifact for tenantID matching every non-zero
	// field of filter.
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Artifact, error)
	// ListVersions returns every version in baseArtifactID's chain, sorted
	// ascending by version (spec.md §4.8 "List-versions", Open Question (b)).
	ListVersions(ctx context.Context, tenantID, baseArtifactID string) ([]Artifact, error)
	Delete(ctx context.Context, tenantID, artifactID string) error
}

// ListFilter narrows List results. Zero-valued fields are not
// applied as predicates.
type ListFilter struct {
	Type             string
	SessionID        string
	SolutionID       string
	LifecycleState   LifecycleState
	Owner            Owner
	Purpose          Purpose
	CurrentVersionOnly bool
}

// BlobStore persists artifact payload bytes, returning an opaque storage
// path Registry entries reference. Implemented by runtime/artifact/blob
// (GridFS) for production and runtime/artifact/memory for tests.
type BlobStore interface {
	Put(ctx context.Context, tenantID, artifactID string, payload []byte) (storagePath string, err error)
	Get(ctx context.Context, storagePath string) ([]byte, error)
	Delete(ctx context.Context, storagePath string) error
}

var allowedTransitions = map[LifecycleState]map[LifecycleState]bool{
	StateDraft:    {StateAccepted: true, StateObsolete: true},
	StateAccepted: {StateObsolete: true},
	StateObsolete: {},
}

// Plane implements spec §4.8's operations over a Registry and BlobStore.
// Both are required (§8A); there is no implicit in-memory fallback outside
// of tests wiring runtime/artifact/memory explicitly.
type Plane struct {
	registry Registry
	blobs    BlobStore
	clock    clock.Clock
}

// New constructs a Plane.
func New(registry Registry, blobs BlobStore, clk clock.Clock) (*Plane, error) {
	if registry == nil {
		return nil, ferrors.Contract8A("artifact registry")
	}
	if blobs == nil {
		return nil, ferrors.Contract8A("artifact blob store")
	}
	if clk == nil {
		clk = clock.System
	}
	return &Plane{registry: registry, blobs: blobs, clock: clk}, nil
}

// CreateArtifact persists payload, writes a v1 registry entry, and returns
// the artifact (spec §4.8 "create-artifact").
func (p *Plane) CreateArtifact(ctx context.Context, params CreateParams) (Artifact, error) {
	if params.Type == "" || params.TenantID == "" {
		return Artifact{}, ferrors.New(ferrors.Validation, "artifact type and tenant id are required")
	}
	if len(params.SourceArtifactIDs) > 0 {
		if err := p.rejectDependencyCycle(ctx, params.TenantID, "", params.SourceArtifactIDs); err != nil {
			return Artifact{}, err
		}
	}
	id := params.ID
	if id == "" {
		id = clock.NewID("artifact")
	}
	path, err := p.blobs.Put(ctx, params.TenantID, id, params.Payload)
	if err != nil {
		return Artifact{}, ferrors.Wrap(ferrors.BackendUnavailable, err, "artifact blob store write failed")
	}
	state := params.LifecycleState
	if state == "" {
		state = StateDraft
	}
	owner := params.Owner
	if owner == "" {
		owner = OwnerClient
	}
	purpose := params.Purpose
	if purpose == "" {
		purpose = PurposeDelivery
	}
	now := p.clock.NowUTC()
	a := Artifact{
		ID: id, Type: params.Type, TenantID: params.TenantID, SessionID: params.SessionID,
		SolutionID: params.SolutionID, RealmName: params.RealmName, IntentType: params.IntentType,
		IntentID: params.IntentID, ExecutionID: params.ExecutionID, StoragePath: path,
		Regenerable: params.Regenerable, RetentionPolicy: params.RetentionPolicy, Metadata: params.Metadata,
		LifecycleState: state, Owner: owner, Purpose: purpose, Version: 1, BaseArtifactID: id,
		IsCurrentVersion: true, SourceArtifactIDs: params.SourceArtifactIDs,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := p.registry.Put(ctx, a); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// GetArtifact returns the registry entry plus payload bytes when
// includePayload is true.
func (p *Plane) GetArtifact(ctx context.Context, tenantID, artifactID string, includePayload bool) (Artifact, []byte, error) {
	a, ok, err := p.registry.Get(ctx, tenantID, artifactID)
	if err != nil {
		return Artifact{}, nil, err
	}
	if !ok {
		return Artifact{}, nil, ferrors.Wrap(ferrors.Validation, ErrNotFound, "artifact %q not found for tenant %q", artifactID, tenantID)
	}
	if !includePayload {
		return a, nil, nil
	}
	payload, err := p.blobs.Get(ctx, a.StoragePath)
	if err != nil {
		return a, nil, ferrors.Wrap(ferrors.BackendUnavailable, err, "artifact blob store read failed")
	}
	return a, payload, nil
}

// GetBlobDirect reads storagePath straight out of the blob store, bypassing
// the registry entirely (SUPPLEMENTED FEATURES #1's last fallback step: a
// registry entry can be lost or never written while the payload still
// exists under a caller-known path).
func (p *Plane) GetBlobDirect(ctx context.Context, storagePath string) ([]byte, error) {
	return p.blobs.Get(ctx, storagePath)
}

// ListArtifacts returns every artifact for tenantID matching filter (spec
// §4.8 "list-artifacts").
func (p *Plane) ListArtifacts(ctx context.Context, tenantID string, filter ListFilter) ([]Artifact, error) {
	return p.registry.List(ctx, tenantID, filter)
}

// TransitionLifecycleState advances an artifact's lifecycle, rejecting any
// move not in {draft→accepted, draft→obsolete, accepted→obsolete}. A
// same-state transition is idempotent (spec §4.8).
func (p *Plane) TransitionLifecycleState(ctx context.Context, tenantID, artifactID string, to LifecycleState, by, reason string) (Artifact, error) {
	a, ok, err := p.registry.Get(ctx, tenantID, artifactID)
	if err != nil {
		return Artifact{}, err
	}
	if !ok {
		return Artifact{}, ferrors.Wrap(ferrors.Validation, ErrNotFound, "artifact %q not found for tenant %q", artifactID, tenantID)
	}
	if a.LifecycleState == to {
		return a, nil
	}
	if !allowedTransitions[a.LifecycleState][to] {
		return Artifact{}, ferrors.New(ferrors.LifecycleViolation, "illegal artifact lifecycle transition %s -> %s", a.LifecycleState, to)
	}
	now := p.clock.NowUTC()
	a.Transitions = append(a.Transitions, Transition{From: a.LifecycleState, To: to, Timestamp: now, Actor: by, Reason: reason})
	a.LifecycleState = to
	a.UpdatedAt = now
	if err := p.registry.Put(ctx, a); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// CreateVersion creates a new version of baseArtifactID: the new artifact's
// parent is the current version, version = parent.version + 1, and the
// parent's is-current-version flag flips to false (spec §4.8
// "Versioning"). A dependency on sourceArtifactIDs that would close a cycle
// back to the new artifact is rejected (SUPPLEMENTED FEATURES #4).
func (p *Plane) CreateVersion(ctx context.Context, tenantID, baseArtifactID string, payload []byte, metadata map[string]any, sourceArtifactIDs []string) (Artifact, error) {
	current, ok, err := p.registry.Get(ctx, tenantID, baseArtifactID)
	if err != nil {
		return Artifact{}, err
	}
	if !ok {
		return Artifact{}, ferrors.Wrap(ferrors.Validation, ErrNotFound, "artifact %q not found for tenant %q", baseArtifactID, tenantID)
	}
	if !current.IsCurrentVersion {
		return Artifact{}, ferrors.New(ferrors.LifecycleViolation, "artifact %q is not the current version", baseArtifactID)
	}
	if err := p.rejectDependencyCycle(ctx, tenantID, current.BaseArtifactID, sourceArtifactIDs); err != nil {
		return Artifact{}, err
	}
	newID := clock.NewID("artifact")
	path, err := p.blobs.Put(ctx, tenantID, newID, payload)
	if err != nil {
		return Artifact{}, ferrors.Wrap(ferrors.BackendUnavailable, err, "artifact blob store write failed")
	}
	now := p.clock.NowUTC()
	next := current
	next.ID = newID
	next.StoragePath = path
	next.Metadata = metadata
	next.Version = current.Version + 1
	next.ParentArtifactID = current.ID
	next.IsCurrentVersion = true
	next.SourceArtifactIDs = sourceArtifactIDs
	next.Transitions = nil
	next.LineageExecutionIDs = nil
	next.CreatedAt = now
	next.UpdatedAt = now
	if err := p.registry.Put(ctx, next); err != nil {
		return Artifact{}, err
	}
	current.IsCurrentVersion = false
	current.UpdatedAt = now
	if err := p.registry.Put(ctx, current); err != nil {
		return Artifact{}, err
	}
	return next, nil
}

// ListVersions returns baseArtifactID's full version chain, ascending by
// version number (Open Question (b) decision — see DESIGN.md).
func (p *Plane) ListVersions(ctx context.Context, tenantID, baseArtifactID string) ([]Artifact, error) {
	return p.registry.ListVersions(ctx, tenantID, baseArtifactID)
}

// GetArtifactDependencies returns artifactID's source artifact ids.
func (p *Plane) GetArtifactDependencies(ctx context.Context, tenantID, artifactID string) ([]string, error) {
	a, ok, err := p.registry.Get(ctx, tenantID, artifactID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ferrors.Wrap(ferrors.Validation, ErrNotFound, "artifact %q not found for tenant %q", artifactID, tenantID)
	}
	return a.SourceArtifactIDs, nil
}

// ValidateDependencies checks every id in sourceArtifactIDs exists for
// tenantID, returning the missing subset. Reverse dependents are not
// reported here; ReverseDependents returns them.
func (p *Plane) ValidateDependencies(ctx context.Context, tenantID string, sourceArtifactIDs []string) (missing []string, err error) {
	for _, id := range sourceArtifactIDs {
		if _, ok, err := p.registry.Get(ctx, tenantID, id); err != nil {
			return nil, err
		} else if !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ReverseDependents returns every artifact in tenantID whose
// SourceArtifactIDs contains artifactID (spec §4.8 "Validate-dependencies"'
// optional reverse-dependents return).
func (p *Plane) ReverseDependents(ctx context.Context, tenantID, artifactID string) ([]Artifact, error) {
	return p.reverseDependents(ctx, tenantID, artifactID)
}

// reverseDependents returns every artifact in tenantID whose
// SourceArtifactIDs contains artifactID.
func (p *Plane) reverseDependents(ctx context.Context, tenantID, artifactID string) ([]Artifact, error) {
	all, err := p.registry.List(ctx, tenantID, ListFilter{})
	if err != nil {
		return nil, err
	}
	var out []Artifact
	for _, a := range all {
		for _, src := range a.SourceArtifactIDs {
			if src == artifactID {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

// DeleteArtifact removes artifactID, refusing when other artifacts depend
// on it unless force is true (spec §4.8 "Dependencies").
func (p *Plane) DeleteArtifact(ctx context.Context, tenantID, artifactID string, force bool) error {
	if !force {
		dependents, err := p.reverseDependents(ctx, tenantID, artifactID)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			return ferrors.New(ferrors.LifecycleViolation, "artifact %q has %d reverse dependent(s); pass force to delete anyway", artifactID, len(dependents))
		}
	}
	a, ok, err := p.registry.Get(ctx, tenantID, artifactID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := p.blobs.Delete(ctx, a.StoragePath); err != nil {
		return ferrors.Wrap(ferrors.BackendUnavailable, err, "artifact blob store delete failed")
	}
	return p.registry.Delete(ctx, tenantID, artifactID)
}

// RegisterLineage appends executionID to artifactID's advisory lineage list
// (spec §4.8 "Register-lineage"). Lineage is advisory, not authoritative —
// the WAL plus SourceArtifactIDs remain authoritative.
func (p *Plane) RegisterLineage(ctx context.Context, tenantID, artifactID, executionID string) error {
	a, ok, err := p.registry.Get(ctx, tenantID, artifactID)
	if err != nil {
		return err
	}
	if !ok {
		return ferrors.Wrap(ferrors.Validation, ErrNotFound, "artifact %q not found for tenant %q", artifactID, tenantID)
	}
	a.LineageExecutionIDs = append(a.LineageExecutionIDs, executionID)
	a.UpdatedAt = p.clock.NowUTC()
	return p.registry.Put(ctx, a)
}

// rejectDependencyCycle walks sourceArtifactIDs upstream through their own
// SourceArtifactIDs and fails if it ever reaches newArtifactBaseID
// (SUPPLEMENTED FEATURES #4 — referenced only as a design note in the
// original spec, not algorithmically defined there).
func (p *Plane) rejectDependencyCycle(ctx context.Context, tenantID, newArtifactBaseID string, sourceArtifactIDs []string) error {
	if newArtifactBaseID == "" {
		return nil // a brand-new artifact (no base id yet) cannot already be an upstream dependency
	}
	visited := map[string]bool{}
	queue := append([]string{}, sourceArtifactIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == newArtifactBaseID {
			return ferrors.New(ferrors.LifecycleViolation, "source artifact %q would close a dependency cycle back to %q", id, newArtifactBaseID)
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		a, ok, err := p.registry.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		queue = append(queue, a.SourceArtifactIDs...)
	}
	return nil
}

// FromFileMetadata normalizes a stored file's metadata into the same
// Artifact shape structured artifacts use, with Type "file" (SUPPLEMENTED
// FEATURES #2 — mirrors the original's _format_file_as_artifact).
func FromFileMetadata(tenantID, sessionID, fileID, uiName, mimeType string, size int64, contentHash string, storedAt time.Time) Artifact {
	return Artifact{
		ID: fileID, Type: "file", TenantID: tenantID, SessionID: sessionID, BaseArtifactID: fileID,
		Version: 1, IsCurrentVersion: true, LifecycleState: StateAccepted, Owner: OwnerClient,
		Purpose: PurposeDelivery, StoragePath: fileID,
		Metadata: map[string]any{
			"ui_name": uiName, "mime_type": mimeType, "size": size, "content_hash": contentHash,
		},
		CreatedAt: storedAt, UpdatedAt: storedAt,
	}
}

// Persist adapts Plane to execution.ArtifactPersister: the Execution
// Lifecycle Manager calls this for every artifact a completed execution
// produces when the boundary contract requires materialization (spec §4.4
// step 7).
func (p *Plane) Persist(ctx context.Context, params execution.ArtifactParams) (string, error) {
	a, err := p.CreateArtifact(ctx, CreateParams{
		Type: params.Key, TenantID: params.TenantID, SessionID: params.SessionID, SolutionID: params.SolutionID,
		IntentID: params.IntentID, ExecutionID: params.ExecutionID,
		Payload:  encodeArtifactValue(params.Value),
		Metadata: map[string]any{"source_key": params.Key},
	})
	if err != nil {
		return "", err
	}
	if err := p.RegisterLineage(ctx, params.TenantID, a.ID, params.ExecutionID); err != nil {
		return "", err
	}
	return a.ID, nil
}

func encodeArtifactValue(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		if b, err := json.Marshal(v); err == nil {
			return b
		}
		return []byte(fmt.Sprintf("%v", v))
	}
}

var _ execution.ArtifactPersister = (*Plane)(nil)
