// Package execution implements the Execution Lifecycle Manager (spec §4.4):
// the fabric's "heart", turning a validated Intent into a committed
// Execution record by coordinating the Data Steward, the Write-Ahead Log,
// the State Surface, the Transactional Outbox, and whichever realm handlers
// declared the intent's type.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/execution/idempotency"
	"github.com/execfabric/fabric/runtime/ferrors"
	"github.com/execfabric/fabric/runtime/intent"
	"github.com/execfabric/fabric/runtime/intentregistry"
	"github.com/execfabric/fabric/runtime/outbox"
	"github.com/execfabric/fabric/runtime/realm"
	"github.com/execfabric/fabric/runtime/session"
	"github.com/execfabric/fabric/runtime/state"
	"github.com/execfabric/fabric/runtime/telemetry"
	"github.com/execfabric/fabric/runtime/wal"
)

// Status is an Execution's lifecycle state. Once Succeeded, Failed, or
// Cancelled it never changes again (spec §8 invariant "lifecycle
// acyclicity").
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Execution is the durable record an Execute call creates and commits
// (spec §3 "Execution").
type Execution struct {
	ID        string
	IntentID  string
	TenantID  string
	SessionID string
	Status    Status
	Artifacts map[string]any
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExecutionResult is what Execute returns to the caller (spec §4.4 step
// 13).
type ExecutionResult struct {
	ExecutionID string
	Success     bool
	Artifacts   map[string]any
	Error       string
	Metadata    map[string]any
	// Replayed is true when this result was found under the intent's
	// idempotency key rather than produced by running handlers.
	Replayed bool
}

// ExecutionContext is the concrete collaborator surface handed to realm
// handlers as an intentregistry.ExecutionContext (spec §4.4 step 6).
// It is passed by value; handlers type-assert the `any` they receive back
// to ExecutionContext.
type ExecutionContext struct {
	TenantID    string
	SessionID   string
	SolutionID  string
	IntentID    string
	ExecutionID string
	State       *state.Surface
	Clock       clock.Clock
}

// ArtifactParams describes one artifact a completed execution produced,
// handed to an ArtifactPersister when the boundary contract requires
// materialization (spec §4.4 step 7, §4.8).
type ArtifactParams struct {
	TenantID    string
	SessionID   string
	SolutionID  string
	ExecutionID string
	IntentID    string
	Key         string
	Value       any
	Contract    BoundaryContract
}

// ArtifactPersister is the Artifact Plane collaborator the Execution
// Lifecycle Manager calls to durably store an execution's artifacts,
// returning a reference id that replaces the inline value in the execution
// record (spec §4.4 step 7). Implemented by runtime/artifact.
type ArtifactPersister interface {
	Persist(ctx context.Context, p ArtifactParams) (ref string, err error)
}

// IdempotencyStore records completed results keyed by (tenant, intent type,
// idempotency key) so a resubmission can be answered without re-executing
// (spec §3, §8 invariant 6). Values are opaque; Execute stores and retrieves
// its own ExecutionResult.
type IdempotencyStore interface {
	Get(ctx context.Context, tenantID, intentType, key string) (any, bool, error)
	Put(ctx context.Context, tenantID, intentType, key string, value any) error
}

// Options configures a Manager. Intents, WAL, State, Outbox, and Steward are
// required collaborators (spec §4.4's "use-memory is opt-in" rule: there is
// no implicit default, construction fails with ferrors.Contract8A if any is
// nil). Sessions and Artifacts are optional — an execution whose boundary
// contract never requires persisted artifacts, or whose realm never touches
// session state, works without them. Idempotency, Clock, Logger, Metrics,
// and Tracer default to in-memory/no-op/system implementations.
type Options struct {
	Intents     *intentregistry.Registry
	WAL         *wal.WriteAheadLog
	State       *state.Surface
	Outbox      *outbox.Outbox
	Steward     DataSteward
	Sessions    *session.Manager
	Artifacts   ArtifactPersister
	Idempotency IdempotencyStore
	Clock       clock.Clock
	Logger      telemetry.Logger
	Metrics     telemetry.Metrics
	Tracer      telemetry.Tracer
}

// Manager implements spec §4.4's execute() algorithm.
type Manager struct {
	intents     *intentregistry.Registry
	wal         *wal.WriteAheadLog
	state       *state.Surface
	outbox      *outbox.Outbox
	steward     DataSteward
	sessions    *session.Manager
	artifacts   ArtifactPersister
	idempotency IdempotencyStore
	clock       clock.Clock
	logger      telemetry.Logger
	metrics     telemetry.Metrics
	tracer      telemetry.Tracer
}

// New constructs a Manager, rejecting a missing required collaborator with
// ferrors.Contract8A.
func New(opts Options) (*Manager, error) {
	switch {
	case opts.Intents == nil:
		return nil, ferrors.Contract8A("intent registry")
	case opts.WAL == nil:
		return nil, ferrors.Contract8A("write-ahead log")
	case opts.State == nil:
		return nil, ferrors.Contract8A("state surface")
	case opts.Outbox == nil:
		return nil, ferrors.Contract8A("outbox")
	case opts.Steward == nil:
		return nil, ferrors.Contract8A("data steward")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System
	}
	idem := opts.Idempotency
	if idem == nil {
		idem = idempotency.NewMemoryStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Manager{
		intents:     opts.Intents,
		wal:         opts.WAL,
		state:       opts.State,
		outbox:      opts.Outbox,
		steward:     opts.Steward,
		sessions:    opts.Sessions,
		artifacts:   opts.Artifacts,
		idempotency: idem,
		clock:       clk,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
	}, nil
}

// Execute runs the full lifecycle for in and returns its result (spec
// §4.4's 13-step algorithm). A non-nil error means the intent was never
// accepted (validation, an unreachable required Data Steward, or a
// concurrency-quota wait that timed out); a handler failure or cancellation
// instead comes back as a nil error with a failed/cancelled ExecutionResult,
// since the execution itself completed and still drained its outbox.
func (m *Manager) Execute(ctx context.Context, in intent.Intent) (ExecutionResult, error) {
	ctx, span := m.tracer.Start(ctx, telemetry.SpanExecute)
	defer span.End()

	if in.TenantID == "" || in.SessionID == "" || in.SolutionID == "" || in.Type == "" {
		return ExecutionResult{}, ferrors.New(ferrors.Validation, "intent missing required tenant, session, solution, or type")
	}

	if in.IdempotencyKey != "" {
		if cached, ok, err := m.idempotency.Get(ctx, in.TenantID, in.Type, in.IdempotencyKey); err != nil {
			return ExecutionResult{}, err
		} else if ok {
			res, ok := cached.(ExecutionResult)
			if !ok {
				return ExecutionResult{}, ferrors.New(ferrors.LifecycleViolation, "idempotency store returned an unexpected value type")
			}
			res.Replayed = true
			m.logger.Info(ctx, "idempotency replay", "tenant_id", in.TenantID, "intent_type", in.Type, "execution_id", res.ExecutionID)
			return res, nil
		}
	}

	contract, err := m.steward.AssignBoundaryContract(ctx, in)
	if err != nil {
		if RequiresContract(in.Type) {
			return ExecutionResult{}, ErrStewardUnavailable(in.Type, err)
		}
		contract = BoundaryContract{Materialize: Ephemeral, Visibility: VisibilityPlatform}
	}

	if err := m.steward.AcquireExecutionSlot(ctx, in.TenantID); err != nil {
		return ExecutionResult{}, ferrors.Wrap(ferrors.BackendUnavailable, err, "tenant %s concurrency quota unavailable", in.TenantID)
	}
	defer m.steward.ReleaseExecutionSlot(in.TenantID)

	if _, err := m.wal.Append(ctx, wal.EventIntentReceived, in.TenantID, map[string]any{
		"intent_id": in.ID, "intent_type": in.Type, "session_id": in.SessionID,
	}); err != nil {
		return ExecutionResult{}, err
	}

	now := m.clock.NowUTC()
	exec := Execution{
		ID: clock.NewID("execution"), IntentID: in.ID, TenantID: in.TenantID,
		SessionID: in.SessionID, Status: StatusPending, CreatedAt: now, UpdatedAt: now,
	}
	if err := m.saveExecution(ctx, exec); err != nil {
		return ExecutionResult{}, err
	}

	if _, err := m.wal.Append(ctx, wal.EventExecutionStarted, in.TenantID, map[string]any{
		"execution_id": exec.ID, "intent_id": in.ID,
	}); err != nil {
		return ExecutionResult{}, err
	}
	m.metrics.IncCounter(telemetry.MetricExecutionAccepted, 1, "intent_type", in.Type)
	exec.Status = StatusRunning
	exec.UpdatedAt = m.clock.NowUTC()
	if err := m.saveExecution(ctx, exec); err != nil {
		return ExecutionResult{}, err
	}

	bindings := m.intents.GetHandlers(in.Type)
	if len(bindings) == 0 {
		return m.fail(ctx, span, exec, in, "no handler registered for intent type %q", in.Type)
	}

	ec := ExecutionContext{
		TenantID: in.TenantID, SessionID: in.SessionID, SolutionID: in.SolutionID,
		IntentID: in.ID, ExecutionID: exec.ID, State: m.state, Clock: m.clock,
	}

	artifacts := map[string]any{}
	for _, b := range bindings {
		if cerr := ctx.Err(); cerr != nil {
			return m.cancel(ctx, span, exec, in, cerr)
		}
		out, err := b.Handler(ctx, in, ec)
		if err != nil {
			if _, werr := m.wal.Append(ctx, wal.EventStepFailed, in.TenantID, map[string]any{
				"execution_id": exec.ID, "realm": b.RealmName, "error": err.Error(),
			}); werr != nil {
				return ExecutionResult{}, werr
			}
			return m.fail(ctx, span, exec, in, "handler %q failed: %v", b.RealmName, err)
		}
		if res, ok := out.(realm.Result); ok {
			for k, v := range res.Artifacts {
				artifacts[k] = v
			}
			for _, ev := range res.Events {
				if _, err := m.outbox.Append(ctx, exec.ID, ev.Type, ev.Data); err != nil {
					return m.fail(ctx, span, exec, in, "outbox append failed: %v", err)
				}
			}
		} else if out != nil {
			artifacts[b.RealmName] = out
		}
		if _, err := m.wal.Append(ctx, wal.EventStepCompleted, in.TenantID, map[string]any{
			"execution_id": exec.ID, "realm": b.RealmName,
		}); err != nil {
			return ExecutionResult{}, err
		}
	}

	persisted, err := m.persistArtifacts(ctx, in, exec.ID, contract, artifacts)
	if err != nil {
		return m.fail(ctx, span, exec, in, "artifact persistence failed: %v", err)
	}

	exec.Status = StatusSucceeded
	exec.Artifacts = persisted
	exec.UpdatedAt = m.clock.NowUTC()
	if err := m.saveExecution(ctx, exec); err != nil {
		return ExecutionResult{}, err
	}
	if m.sessions != nil {
		if err := m.sessions.Touch(ctx, in.SessionID, in.TenantID); err != nil {
			m.logger.Warn(ctx, "session touch failed", "session_id", in.SessionID, "error", err)
		}
	}
	if _, err := m.wal.Append(ctx, wal.EventExecutionComplete, in.TenantID, map[string]any{
		"execution_id": exec.ID,
	}); err != nil {
		return ExecutionResult{}, err
	}
	if err := m.outbox.Drain(ctx, exec.ID); err != nil {
		m.logger.Warn(ctx, "outbox drain failed, events remain pending", "execution_id", exec.ID, "error", err)
	}
	m.metrics.IncCounter(telemetry.MetricExecutionSucceeded, 1, "intent_type", in.Type)

	result := ExecutionResult{ExecutionID: exec.ID, Success: true, Artifacts: persisted}
	if in.IdempotencyKey != "" {
		if err := m.idempotency.Put(ctx, in.TenantID, in.Type, in.IdempotencyKey, result); err != nil {
			return ExecutionResult{}, err
		}
	}
	return result, nil
}

// GetExecution reads back a previously committed Execution record.
func (m *Manager) GetExecution(ctx context.Context, tenantID, executionID string) (Execution, bool, error) {
	raw, ok, err := m.state.GetExecutionState(ctx, tenantID, executionID)
	if err != nil || !ok {
		return Execution{}, ok, err
	}
	var exec Execution
	if err := json.Unmarshal(raw, &exec); err != nil {
		return Execution{}, false, fmt.Errorf("decode execution state: %w", err)
	}
	return exec, true, nil
}

func (m *Manager) saveExecution(ctx context.Context, exec Execution) error {
	raw, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode execution state: %w", err)
	}
	return m.state.SetExecutionState(ctx, exec.TenantID, exec.ID, raw, state.Metadata{})
}

func (m *Manager) persistArtifacts(ctx context.Context, in intent.Intent, executionID string, contract BoundaryContract, artifacts map[string]any) (map[string]any, error) {
	if contract.Materialize != Persist || len(artifacts) == 0 {
		return artifacts, nil
	}
	if m.artifacts == nil {
		return nil, ferrors.Contract8A("artifact plane")
	}
	out := make(map[string]any, len(artifacts))
	for key, value := range artifacts {
		ref, err := m.artifacts.Persist(ctx, ArtifactParams{
			TenantID: in.TenantID, SessionID: in.SessionID, SolutionID: in.SolutionID,
			ExecutionID: executionID, IntentID: in.ID, Key: key, Value: value, Contract: contract,
		})
		if err != nil {
			return nil, err
		}
		out[key] = ref
	}
	return out, nil
}

func (m *Manager) fail(ctx context.Context, span telemetry.Span, exec Execution, in intent.Intent, format string, args ...any) (ExecutionResult, error) {
	msg := fmt.Sprintf(format, args...)
	exec.Status = StatusFailed
	exec.Error = msg
	exec.UpdatedAt = m.clock.NowUTC()
	if err := m.saveExecution(ctx, exec); err != nil {
		return ExecutionResult{}, err
	}
	if _, err := m.wal.Append(ctx, wal.EventExecutionFailed, in.TenantID, map[string]any{
		"execution_id": exec.ID, "error": msg,
	}); err != nil {
		return ExecutionResult{}, err
	}
	if err := m.outbox.Drain(ctx, exec.ID); err != nil {
		m.logger.Warn(ctx, "outbox drain failed after execution failure", "execution_id", exec.ID, "error", err)
	}
	m.metrics.IncCounter(telemetry.MetricExecutionFailed, 1, "intent_type", in.Type)
	span.RecordError(ferrors.New(ferrors.HandlerFailed, msg))
	return ExecutionResult{ExecutionID: exec.ID, Success: false, Error: msg}, nil
}

func (m *Manager) cancel(ctx context.Context, span telemetry.Span, exec Execution, in intent.Intent, cause error) (ExecutionResult, error) {
	msg := fmt.Sprintf("execution cancelled: %v", cause)
	exec.Status = StatusCancelled
	exec.Error = msg
	exec.UpdatedAt = m.clock.NowUTC()
	// Cancellation uses a detached context: the caller's ctx is already
	// done, but the record still needs to be committed and the outbox
	// still needs to drain (spec §5).
	commitCtx := context.WithoutCancel(ctx)
	if err := m.saveExecution(commitCtx, exec); err != nil {
		return ExecutionResult{}, err
	}
	if _, err := m.wal.Append(commitCtx, wal.EventExecutionFailed, in.TenantID, map[string]any{
		"execution_id": exec.ID, "error": msg, "cancelled": true,
	}); err != nil {
		return ExecutionResult{}, err
	}
	if err := m.outbox.Drain(commitCtx, exec.ID); err != nil {
		m.logger.Warn(commitCtx, "outbox drain failed after cancellation", "execution_id", exec.ID, "error", err)
	}
	m.metrics.IncCounter(telemetry.MetricExecutionCancelled, 1, "intent_type", in.Type)
	span.RecordError(ferrors.New(ferrors.HandlerFailed, msg))
	return ExecutionResult{ExecutionID: exec.ID, Success: false, Error: msg}, nil
}
