// Package realm implements the Realm SDK contract and Realm Registry (spec
// §4.3): domain services declare the intent types they serve and a single
// handle-intent entry point; the registry validates the contract on
// registration and cascades registration into the Intent Registry.
package realm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/execfabric/fabric/runtime/intent"
	"github.com/execfabric/fabric/runtime/intentregistry"
)

// Result is what a realm's HandleIntent returns: artifacts produced and
// events to append to the outbox. Realms describe changes; they never
// mutate the Intent or context state directly (spec §4.3).
type Result struct {
	Artifacts map[string]any
	Events    []Event
}

// Event is a realm-described side effect to append to the per-execution
// outbox (spec §4.7).
type Event struct {
	Type string
	Data map[string]any
}

// Realm is the contract every domain service implements.
type Realm interface {
	// Name is the realm's unique identifier.
	Name() string
	// DeclareIntents lists the intent types this realm serves. Must be
	// non-empty; the registry rejects a realm that declares none.
	DeclareIntents() []string
	// HandleIntent processes in and returns a Result. ec is an
	// intentregistry.ExecutionContext; realms type-assert it to whatever
	// concrete context the Execution Lifecycle Manager supplies.
	HandleIntent(ctx context.Context, in intent.Intent, ec intentregistry.ExecutionContext) (Result, error)
}

var (
	// ErrNoIntentsDeclared rejects a realm that declares zero intent types.
	ErrNoIntentsDeclared = errors.New("realm declares no intents")
	// ErrAlreadyRegistered rejects registering a realm name twice.
	ErrAlreadyRegistered = errors.New("realm already registered")
	// ErrRealmNotFound is returned by Get/Deregister for an unknown name.
	ErrRealmNotFound = errors.New("realm not found")
)

// Registry tracks registered realms and cascades their declared intents
// into an intentregistry.Registry.
type Registry struct {
	mu       sync.RWMutex
	realms   map[string]Realm
	intents  *intentregistry.Registry
}

// New constructs a Registry that registers handlers into intents.
func New(intents *intentregistry.Registry) *Registry {
	return &Registry{realms: make(map[string]Realm), intents: intents}
}

// RegisterRealm validates r's contract (declares at least one intent, name
// not already taken), records it, then registers every declared intent type
// with the Intent Registry pointing at r.HandleIntent.
func (reg *Registry) RegisterRealm(r Realm) error {
	declared := r.DeclareIntents()
	if len(declared) == 0 {
		return ErrNoIntentsDeclared
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.realms[r.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, r.Name())
	}
	reg.realms[r.Name()] = r
	for _, t := range declared {
		reg.intents.RegisterIntent(t, r.Name(), adaptHandler(r))
	}
	return nil
}

// DeregisterRealm removes r and every intent binding it registered.
func (reg *Registry) DeregisterRealm(name string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.realms[name]; !exists {
		return fmt.Errorf("%w: %s", ErrRealmNotFound, name)
	}
	delete(reg.realms, name)
	reg.intents.UnregisterRealm(name)
	return nil
}

// GetRealm returns the realm registered under name.
func (reg *Registry) GetRealm(name string) (Realm, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.realms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRealmNotFound, name)
	}
	return r, nil
}

// ListRealms returns every registered realm name.
func (reg *Registry) ListRealms() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.realms))
	for name := range reg.realms {
		out = append(out, name)
	}
	return out
}

// adaptHandler fills missing "artifacts"/"events" defaults per the realm
// contract and bridges Realm.HandleIntent to intentregistry.Handler.
func adaptHandler(r Realm) intentregistry.Handler {
	return func(ctx context.Context, in intent.Intent, ec intentregistry.ExecutionContext) (any, error) {
		res, err := r.HandleIntent(ctx, in, ec)
		if err != nil {
			return nil, err
		}
		if res.Artifacts == nil {
			res.Artifacts = map[string]any{}
		}
		if res.Events == nil {
			res.Events = []Event{}
		}
		return res, nil
	}
}
