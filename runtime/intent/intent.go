// Package intent implements the fabric's Intent Model & Factory: the
// immutable unit of work a client submits for a realm to handle (spec §3
// "Intent", §4.1).
package intent

import (
	"context"

	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/ferrors"
)

// Intent is an immutable request for a realm to perform work. Once created,
// no field is ever mutated.
type Intent struct {
	// ID is globally unique and generated by Create unless the caller
	// supplies one explicitly (used for cross-system correlation).
	ID string
	// Type is the handler lookup key (runtime/intentregistry).
	Type string
	// TenantID, SessionID, SolutionID are all required.
	TenantID   string
	SessionID  string
	SolutionID string
	// Parameters is opaque to the factory; schema is the realm's
	// responsibility (spec §4.1).
	Parameters map[string]any
	Metadata   map[string]any
	// IdempotencyKey, when set, is preserved verbatim so the Execution
	// Lifecycle Manager can detect and replay a prior completion for the
	// same (tenant, type, key) instead of re-executing (spec §3).
	IdempotencyKey string
}

// CreateParams are the inputs to Create. ID and IdempotencyKey are optional;
// every other field is required.
type CreateParams struct {
	Type           string
	TenantID       string
	SessionID      string
	SolutionID     string
	Parameters     map[string]any
	Metadata       map[string]any
	ID             string
	IdempotencyKey string
}

// Create validates params and returns a new Intent, generating an id if one
// was not supplied. It rejects a missing tenant, session, solution, or
// intent type (spec §4.1) and never inspects Parameters.
func Create(_ context.Context, params CreateParams) (Intent, error) {
	switch {
	case params.Type == "":
		return Intent{}, ferrors.New(ferrors.Validation, "intent type is required")
	case params.TenantID == "":
		return Intent{}, ferrors.New(ferrors.Validation, "tenant id is required")
	case params.SessionID == "":
		return Intent{}, ferrors.New(ferrors.Validation, "session id is required")
	case params.SolutionID == "":
		return Intent{}, ferrors.New(ferrors.Validation, "solution id is required")
	}
	id := params.ID
	if id == "" {
		id = clock.NewID("intent")
	}
	return Intent{
		ID:             id,
		Type:           params.Type,
		TenantID:       params.TenantID,
		SessionID:      params.SessionID,
		SolutionID:     params.SolutionID,
		Parameters:     params.Parameters,
		Metadata:       params.Metadata,
		IdempotencyKey: params.IdempotencyKey,
	}, nil
}
