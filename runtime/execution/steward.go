package execution

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/execfabric/fabric/runtime/ferrors"
	"github.com/execfabric/fabric/runtime/intent"
)

// BoundaryContract describes how an execution's outputs are treated:
// whether they're kept at all, how long, and who can see them (spec §4.4
// step 2).
type BoundaryContract struct {
	// Materialize selects persist vs ephemeral output handling.
	Materialize MaterializationPolicy
	// Retention is a policy-defined string (e.g. "30d", "indefinite");
	// opaque to the Execution Lifecycle Manager.
	Retention string
	// Visibility scopes who may read the execution's artifacts.
	Visibility Visibility
}

// MaterializationPolicy selects whether an execution's artifacts persist.
type MaterializationPolicy string

const (
	Persist   MaterializationPolicy = "persist"
	Ephemeral MaterializationPolicy = "ephemeral"
)

// Visibility scopes artifact readability.
type Visibility string

const (
	VisibilityClient   Visibility = "client"
	VisibilityPlatform Visibility = "platform"
	VisibilityShared   Visibility = "shared"
)

// contractRequiredIntents names intent types the Data Steward must be able
// to reach; their absence on collaborator failure is a rejection rather
// than a silent default (spec §4.4 step 2).
var contractRequiredIntents = map[string]bool{
	"ingest-file": true,
}

// DataSteward is the external SDK collaborator consulted for boundary
// contracts and per-tenant concurrency quota. It is a Contract-§8A
// dependency: the Execution Lifecycle Manager requires one, with an
// explicit in-memory implementation for tests (spec §4.4, §5).
type DataSteward interface {
	// AssignBoundaryContract is idempotent on in.ID: repeated calls for the
	// same intent id return the same contract.
	AssignBoundaryContract(ctx context.Context, in intent.Intent) (BoundaryContract, error)
	// AcquireExecutionSlot blocks (respecting ctx) until tenantID has room
	// under its concurrent-execution quota, then reserves one slot.
	// ReleaseExecutionSlot returns it.
	AcquireExecutionSlot(ctx context.Context, tenantID string) error
	ReleaseExecutionSlot(tenantID string)
}

// InMemorySteward is a DataSteward for tests and single-process
// deployments. Concurrency is capped per tenant by a counting semaphore
// (one buffered channel slot per permitted execution); on top of that, a
// golang.org/x/time/rate limiter throttles how fast new executions may be
// *accepted* per tenant, smoothing bursts instead of admitting maxConcurrent
// requests in the same instant.
type InMemorySteward struct {
	mu          sync.Mutex
	slots       map[string]chan struct{}
	limiters    map[string]*rate.Limiter
	quota       int
	acceptRate  rate.Limit
	assigned    map[string]BoundaryContract
	contracts   map[string]BoundaryContract
}

// NewInMemorySteward returns a DataSteward enforcing maxConcurrent
// concurrent executions per tenant, admitted at up to acceptPerSecond new
// executions per second (burst maxConcurrent). maxConcurrent <= 0 means
// unbounded; acceptPerSecond <= 0 means no rate smoothing.
func NewInMemorySteward(maxConcurrent int, acceptPerSecond float64) *InMemorySteward {
	rl := rate.Inf
	if acceptPerSecond > 0 {
		rl = rate.Limit(acceptPerSecond)
	}
	return &InMemorySteward{
		slots:      make(map[string]chan struct{}),
		limiters:   make(map[string]*rate.Limiter),
		quota:      maxConcurrent,
		acceptRate: rl,
		assigned:   make(map[string]BoundaryContract),
		contracts:  defaultContracts(),
	}
}

func defaultContracts() map[string]BoundaryContract {
	return map[string]BoundaryContract{
		"ingest-file": {Materialize: Persist, Retention: "indefinite", Visibility: VisibilityClient},
	}
}

// AssignBoundaryContract returns a contract for in.Type, defaulting to an
// ephemeral/platform-visible contract for intent types with no explicit
// policy. Idempotent on in.ID.
func (s *InMemorySteward) AssignBoundaryContract(_ context.Context, in intent.Intent) (BoundaryContract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.assigned[in.ID]; ok {
		return c, nil
	}
	c, ok := s.contracts[in.Type]
	if !ok {
		c = BoundaryContract{Materialize: Ephemeral, Retention: "", Visibility: VisibilityPlatform}
	}
	s.assigned[in.ID] = c
	return c, nil
}

// AcquireExecutionSlot waits for the tenant's acceptance rate limiter, then
// blocks until a concurrency slot frees up, or ctx is done.
func (s *InMemorySteward) AcquireExecutionSlot(ctx context.Context, tenantID string) error {
	if err := s.limiterFor(tenantID).Wait(ctx); err != nil {
		return err
	}
	if s.quota <= 0 {
		return nil
	}
	select {
	case s.slotsFor(tenantID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseExecutionSlot returns a concurrency slot to tenantID.
func (s *InMemorySteward) ReleaseExecutionSlot(tenantID string) {
	if s.quota <= 0 {
		return
	}
	select {
	case <-s.slotsFor(tenantID):
	default:
	}
}

func (s *InMemorySteward) slotsFor(tenantID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.slots[tenantID]
	if !ok {
		ch = make(chan struct{}, s.quota)
		s.slots[tenantID] = ch
	}
	return ch
}

func (s *InMemorySteward) limiterFor(tenantID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[tenantID]
	if !ok {
		burst := s.quota
		if burst <= 0 {
			burst = 1
		}
		l = rate.NewLimiter(s.acceptRate, burst)
		s.limiters[tenantID] = l
	}
	return l
}

// RequiresContract reports whether intentType must have a reachable Data
// Steward (spec §4.4 step 2's "e.g., ingest-file").
func RequiresContract(intentType string) bool {
	return contractRequiredIntents[intentType]
}

// ErrStewardUnavailable wraps a DataSteward failure for an intent type that
// requires a contract, surfaced as Contract8A per spec §4.4 step 2.
func ErrStewardUnavailable(intentType string, cause error) error {
	return ferrors.Wrap(ferrors.Contract8A, cause, "data steward unavailable for required contract on intent type %q", intentType)
}
