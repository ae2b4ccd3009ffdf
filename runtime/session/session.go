// Package session defines the fabric's Session lifecycle: anonymous creation,
// authenticated creation, in-place anonymous-to-authenticated upgrade, and
// tenant-scoped lookup (spec §3 "Session", §4.9 "Session Manager").
package session

import (
	"context"
	"errors"
	"time"

	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/wal"
)

// AnonymousTenant is the placeholder tenant namespace an anonymous session's
// state is stored under before upgrade. It is never a real tenant id.
const AnonymousTenant = "__anonymous__"

type (
	// Session is the fabric's long-lived conversational container. Once a
	// session carries a non-empty TenantID that id is immutable; UpgradeSession
	// is the only mutation path from anonymous to authenticated.
	Session struct {
		// ID is globally unique and preserved across upgrade.
		ID string
		// TenantID is empty for anonymous sessions.
		TenantID string
		// UserID is empty until the session is authenticated.
		UserID string
		// ExecutionContract is opaque configuration handed to executions
		// created under this session (materialization policy hints, etc.).
		ExecutionContract map[string]any
		// Anonymous is true until UpgradeSession clears it.
		Anonymous bool
		// Metadata is arbitrary caller-supplied annotation.
		Metadata map[string]any
		CreatedAt time.Time
		UpdatedAt time.Time
		// UpgradedAt is set only once, by UpgradeSession.
		UpgradedAt *time.Time
	}

	// Store persists Session state, tenant-scoped per spec §4.5/§4.9. An
	// anonymous session lives under AnonymousTenant; Upgrade must copy it to
	// the real tenant namespace and purge the anonymous key.
	Store interface {
		// Put writes s under its current TenantID (AnonymousTenant if anonymous).
		Put(ctx context.Context, s Session) error
		// Get reads a session scoped to tenantID. tenantID="" means the
		// anonymous namespace. Cross-tenant lookups return ErrSessionNotFound,
		// which is the isolation guarantee (spec §5, §4.9).
		Get(ctx context.Context, sessionID, tenantID string) (Session, error)
		// Delete removes a session from tenantID's namespace (AnonymousTenant
		// for the anonymous case). Used by Upgrade to purge the old key.
		Delete(ctx context.Context, sessionID, tenantID string) error
		// Touch updates last-activity without rewriting the whole record.
		Touch(ctx context.Context, sessionID, tenantID string, at time.Time) error
	}
)

var (
	// ErrSessionNotFound indicates no session exists under the given (id, tenant) pair.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAlreadyUpgraded indicates UpgradeSession was called on a session that
	// is no longer anonymous; re-upgrade is rejected (spec §4.9).
	ErrAlreadyUpgraded = errors.New("session already upgraded")
)

// Manager implements spec §4.9's Session Manager operations over a Store.
type Manager struct {
	store Store
	wal   *wal.WriteAheadLog
	clock clock.Clock
}

// NewManager constructs a Manager. store must be non-nil; callers that want
// an in-memory fallback pass runtime/session/memory.New() explicitly
// (per spec §4.4's "use-memory is opt-in" rule there is no implicit default).
// w records session-created/session-upgraded WAL events (spec §4.9); pass
// runtime/wal/memory-backed runtime/wal.WriteAheadLog for an in-memory
// deployment, as cmd/fabricd does.
func NewManager(store Store, w *wal.WriteAheadLog, clk clock.Clock) *Manager {
	if clk == nil {
		clk = clock.System
	}
	return &Manager{store: store, wal: w, clock: clk}
}

// CreateAnonymousSession stores a new anonymous session and returns it. The
// WAL event is appended under AnonymousTenant since no real tenant exists
// yet (Append requires a non-empty tenant id).
func (m *Manager) CreateAnonymousSession(ctx context.Context, contract, metadata map[string]any) (Session, error) {
	now := m.clock.NowUTC()
	s := Session{
		ID:                clock.NewID("session"),
		Anonymous:         true,
		ExecutionContract: contract,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	if _, err := m.wal.Append(ctx, wal.EventSessionCreated, AnonymousTenant, map[string]any{
		"session_id": s.ID, "anonymous": true,
	}); err != nil {
		return Session{}, err
	}
	return s, nil
}

// CreateAuthenticatedSession stores a new tenant-scoped session from the
// start. sessionID, when non-empty, is used verbatim instead of generating
// one (spec §4.9).
func (m *Manager) CreateAuthenticatedSession(ctx context.Context, tenantID, userID, sessionID string, contract, metadata map[string]any) (Session, error) {
	now := m.clock.NowUTC()
	if sessionID == "" {
		sessionID = clock.NewID("session")
	}
	s := Session{
		ID:                sessionID,
		TenantID:          tenantID,
		UserID:            userID,
		ExecutionContract: contract,
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	if _, err := m.wal.Append(ctx, wal.EventSessionCreated, tenantID, map[string]any{
		"session_id": s.ID, "user_id": userID, "anonymous": false,
	}); err != nil {
		return Session{}, err
	}
	return s, nil
}

// UpgradeSession binds an existing anonymous session to a tenant and user,
// preserving the session id, then purges the anonymous key (spec §4.9).
// Re-upgrading an already-authenticated session returns ErrAlreadyUpgraded.
func (m *Manager) UpgradeSession(ctx context.Context, sessionID, userID, tenantID string, metadata map[string]any) (Session, error) {
	s, err := m.store.Get(ctx, sessionID, "")
	if err != nil {
		return Session{}, err
	}
	if !s.Anonymous {
		return Session{}, ErrAlreadyUpgraded
	}
	now := m.clock.NowUTC()
	s.TenantID = tenantID
	s.UserID = userID
	s.Anonymous = false
	s.UpdatedAt = now
	s.UpgradedAt = &now
	if metadata != nil {
		s.Metadata = metadata
	}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	if err := m.store.Delete(ctx, sessionID, ""); err != nil {
		return Session{}, err
	}
	if _, err := m.wal.Append(ctx, wal.EventSessionUpgraded, tenantID, map[string]any{
		"session_id": s.ID, "user_id": userID,
	}); err != nil {
		return Session{}, err
	}
	return s, nil
}

// GetSession returns the session scoped to tenantID ("" for anonymous).
// A cross-tenant lookup of an existing id returns ErrSessionNotFound — this
// IS the tenant isolation guarantee, not a bug (spec §4.9, §5).
func (m *Manager) GetSession(ctx context.Context, sessionID, tenantID string) (Session, error) {
	return m.store.Get(ctx, sessionID, tenantID)
}

// Touch updates last-activity for a session, called by the Execution
// Lifecycle Manager on commit (spec §4.4 step 10).
func (m *Manager) Touch(ctx context.Context, sessionID, tenantID string) error {
	return m.store.Touch(ctx, sessionID, tenantID, m.clock.NowUTC())
}
