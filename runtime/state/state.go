// Package state implements the fabric's tenant-scoped State Surface (spec
// §4.5): a key/value API that routes every call to a hot or durable backend
// (or both) according to per-call metadata, with hot reads consulted before
// durable ones and no automatic rehydration.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/execfabric/fabric/runtime/ferrors"
)

// Backend hints which tier a call targets.
type Backend string

const (
	Hot     Backend = "hot"
	Durable Backend = "durable"
)

// Strategy picks which backend(s) a write touches.
type Strategy string

const (
	// StrategyHot writes only to the hot backend.
	StrategyHot Strategy = "hot"
	// StrategyDurable writes only to the durable backend.
	StrategyDurable Strategy = "durable"
	// StrategyTiered writes to both; reads still check hot first.
	StrategyTiered Strategy = "tiered"
)

// Default TTLs per resource kind (spec §4.5).
const (
	DefaultExecutionTTL = time.Hour
	DefaultSessionTTL   = 24 * time.Hour
	DefaultFileTTL      = 24 * time.Hour
)

// Metadata carries the routing decision for a single call.
type Metadata struct {
	Strategy Strategy
	TTL      time.Duration
}

// KVBackend is the minimal interface a hot or durable key/value store
// implements. Keys are fully-qualified (already namespaced by the Surface).
type KVBackend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// ListKeys returns every key with the given prefix. Used by
	// list-executions (spec §4.5).
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Surface implements the State Surface's operations over a hot and a
// durable KVBackend. Either may be nil; a call whose Strategy targets a nil
// backend is a §8A failure (spec §4.4, §4.5). The Surface has no built-in
// in-memory fallback; callers pass runtime/state/memory stores explicitly.
type Surface struct {
	hot     KVBackend
	durable KVBackend
}

// New constructs a Surface. Passing a nil hot or durable backend is valid;
// calls that need the missing tier fail with ferrors.Contract8A.
func New(hot, durable KVBackend) *Surface {
	return &Surface{hot: hot, durable: durable}
}

// key builds the `<resource-kind>:<tenant id>:<resource id>` namespace
// (spec §4.5). Extra path segments (e.g. a file's session id) are appended
// in order.
func key(kind, tenantID string, parts ...string) string {
	k := fmt.Sprintf("%s:%s", kind, tenantID)
	for _, p := range parts {
		k = fmt.Sprintf("%s:%s", k, p)
	}
	return k
}

func (s *Surface) backendFor(b Backend) (KVBackend, error) {
	switch b {
	case Hot:
		if s.hot == nil {
			return nil, ferrors.Contract8A("state surface hot backend")
		}
		return s.hot, nil
	case Durable:
		if s.durable == nil {
			return nil, ferrors.Contract8A("state surface durable backend")
		}
		return s.durable, nil
	default:
		return nil, ferrors.New(ferrors.Validation, "unknown backend %q", b)
	}
}

// set writes value under key per md.Strategy.
func (s *Surface) set(ctx context.Context, key string, value []byte, md Metadata) error {
	switch md.Strategy {
	case StrategyHot:
		b, err := s.backendFor(Hot)
		if err != nil {
			return err
		}
		return b.Set(ctx, key, value, md.TTL)
	case StrategyDurable:
		b, err := s.backendFor(Durable)
		if err != nil {
			return err
		}
		return b.Set(ctx, key, value, 0)
	case StrategyTiered:
		hot, err := s.backendFor(Hot)
		if err != nil {
			return err
		}
		durable, err := s.backendFor(Durable)
		if err != nil {
			return err
		}
		if err := hot.Set(ctx, key, value, md.TTL); err != nil {
			return err
		}
		return durable.Set(ctx, key, value, 0)
	default:
		return ferrors.New(ferrors.Validation, "unknown strategy %q", md.Strategy)
	}
}

// get consults hot first, then durable on miss. Found-in-durable values are
// never rehydrated into hot (spec §4.5: a policy decision, not a contract).
func (s *Surface) get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.hot != nil {
		if v, ok, err := s.hot.Get(ctx, key); err != nil {
			return nil, false, err
		} else if ok {
			return v, true, nil
		}
	}
	if s.durable != nil {
		return s.durable.Get(ctx, key)
	}
	return nil, false, nil
}

// delete removes key from every backend it might live in.
func (s *Surface) delete(ctx context.Context, key string) error {
	if s.hot != nil {
		if err := s.hot.Delete(ctx, key); err != nil {
			return err
		}
	}
	if s.durable != nil {
		if err := s.durable.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// GetExecutionState reads execution:<tenant>:<id>.
func (s *Surface) GetExecutionState(ctx context.Context, tenantID, executionID string) ([]byte, bool, error) {
	return s.get(ctx, key("execution", tenantID, executionID))
}

// SetExecutionState writes execution:<tenant>:<id> per md (defaults to a
// tiered write with DefaultExecutionTTL when md is the zero value).
func (s *Surface) SetExecutionState(ctx context.Context, tenantID, executionID string, value []byte, md Metadata) error {
	return s.set(ctx, key("execution", tenantID, executionID), value, withExecutionDefaults(md))
}

// GetSessionState reads session:<tenant>:<id>.
func (s *Surface) GetSessionState(ctx context.Context, tenantID, sessionID string) ([]byte, bool, error) {
	return s.get(ctx, key("session", tenantID, sessionID))
}

// SetSessionState writes session:<tenant>:<id> per md.
func (s *Surface) SetSessionState(ctx context.Context, tenantID, sessionID string, value []byte, md Metadata) error {
	return s.set(ctx, key("session", tenantID, sessionID), value, withSessionDefaults(md))
}

// DeleteState removes a state entry of any resource kind.
func (s *Surface) DeleteState(ctx context.Context, kind, tenantID, resourceID string) error {
	return s.delete(ctx, key(kind, tenantID, resourceID))
}

// ListExecutions returns execution ids for tenantID. Backend selects which
// tier to scan; defaults to Hot.
func (s *Surface) ListExecutions(ctx context.Context, tenantID string, backend Backend) ([]string, error) {
	if backend == "" {
		backend = Hot
	}
	b, err := s.backendFor(backend)
	if err != nil {
		return nil, err
	}
	prefix := fmt.Sprintf("execution:%s:", tenantID)
	keys, err := b.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k[len(prefix):]
	}
	return ids, nil
}

// StoreFile writes file:<tenant>:<session>:<file id> per md.
func (s *Surface) StoreFile(ctx context.Context, tenantID, sessionID, fileID string, content []byte, md Metadata) error {
	return s.set(ctx, key("file", tenantID, sessionID, fileID), content, withFileDefaults(md))
}

// GetFile reads file:<tenant>:<session>:<file id>.
func (s *Surface) GetFile(ctx context.Context, tenantID, sessionID, fileID string) ([]byte, bool, error) {
	return s.get(ctx, key("file", tenantID, sessionID, fileID))
}

// GetFileMetadata reads fmeta:<tenant>:<session>:<file id>, a sidecar key
// holding the file's mime type, size, and content hash (caller-encoded).
func (s *Surface) GetFileMetadata(ctx context.Context, tenantID, sessionID, fileID string) ([]byte, bool, error) {
	return s.get(ctx, key("fmeta", tenantID, sessionID, fileID))
}

// SetFileMetadata writes the fmeta sidecar key alongside StoreFile.
func (s *Surface) SetFileMetadata(ctx context.Context, tenantID, sessionID, fileID string, value []byte, md Metadata) error {
	return s.set(ctx, key("fmeta", tenantID, sessionID, fileID), value, withFileDefaults(md))
}

// DeleteFile removes both the file content and its metadata sidecar.
func (s *Surface) DeleteFile(ctx context.Context, tenantID, sessionID, fileID string) error {
	if err := s.delete(ctx, key("file", tenantID, sessionID, fileID)); err != nil {
		return err
	}
	return s.delete(ctx, key("fmeta", tenantID, sessionID, fileID))
}

func withExecutionDefaults(md Metadata) Metadata {
	if md.Strategy == "" {
		md.Strategy = StrategyTiered
	}
	if md.TTL == 0 {
		md.TTL = DefaultExecutionTTL
	}
	return md
}

func withSessionDefaults(md Metadata) Metadata {
	if md.Strategy == "" {
		md.Strategy = StrategyTiered
	}
	if md.TTL == 0 {
		md.TTL = DefaultSessionTTL
	}
	return md
}

func withFileDefaults(md Metadata) Metadata {
	if md.Strategy == "" {
		md.Strategy = StrategyTiered
	}
	if md.TTL == 0 {
		md.TTL = DefaultFileTTL
	}
	return md
}
