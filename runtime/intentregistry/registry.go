// Package intentregistry maps intent types to the realm handlers that serve
// them (spec §4.2). Registration is expected at startup and occasionally at
// hot-reload; lookup takes only a shared read lock, so concurrent lookups do
// not block each other.
package intentregistry

import (
	"context"
	"sort"
	"sync"

	"github.com/execfabric/fabric/runtime/intent"
)

// ExecutionContext is the collaborator surface a handler gets to call back
// into the fabric (execution ids, the State Surface, the clock); handlers
// report artifacts and events through their return value. The Execution
// Lifecycle Manager supplies the concrete
// implementation; runtime/intentregistry only needs the name to describe the
// handler signature.
type ExecutionContext any

// Handler processes an Intent and returns a realm-defined result. Result
// shape is up to the realm; the Execution Lifecycle Manager merges it into
// the execution record's artifacts and events.
type Handler func(ctx context.Context, in intent.Intent, ec ExecutionContext) (any, error)

// Binding records one registered handler: which realm declared it, under
// what name, for which intent type.
type Binding struct {
	IntentType string
	RealmName  string
	Handler    Handler
}

// Registry is a concurrency-safe map from intent type to an ordered list of
// bindings. Multiple handlers per type are permitted and fan out in
// registration order (spec §4.2).
type Registry struct {
	mu       sync.RWMutex
	bindings map[string][]Binding
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{bindings: make(map[string][]Binding)}
}

// RegisterIntent appends a handler binding for intentType. Order of
// registration is the order of invocation at dispatch time.
func (r *Registry) RegisterIntent(intentType, realmName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[intentType] = append(r.bindings[intentType], Binding{
		IntentType: intentType,
		RealmName:  realmName,
		Handler:    h,
	})
}

// GetHandlers returns every binding registered for intentType, in
// registration order. The returned slice is a copy; callers may not mutate
// the registry through it.
func (r *Registry) GetHandlers(intentType string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	existing := r.bindings[intentType]
	out := make([]Binding, len(existing))
	copy(out, existing)
	return out
}

// UnregisterRealm removes every binding declared by realmName, across all
// intent types, pruning types left with no remaining handlers. Used by
// runtime/realm's Registry on realm deregistration.
func (r *Registry) UnregisterRealm(realmName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, bindings := range r.bindings {
		kept := bindings[:0]
		for _, b := range bindings {
			if b.RealmName != realmName {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			delete(r.bindings, t)
		} else {
			r.bindings[t] = kept
		}
	}
}

// ListIntents returns the set of registered intent types, sorted for
// deterministic output.
func (r *Registry) ListIntents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bindings))
	for t := range r.bindings {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
