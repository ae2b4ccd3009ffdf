// Package memory provides in-memory artifact.Registry and artifact.BlobStore
// implementations. Nothing selects them implicitly: callers such as tests and
// cmd/fabricd pass them to artifact.New explicitly.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/execfabric/fabric/runtime/artifact"
	"github.com/execfabric/fabric/runtime/clock"
	"github.com/execfabric/fabric/runtime/ferrors"
)

// Registry is an in-memory, tenant-namespaced artifact.Registry.
type Registry struct {
	mu   sync.RWMutex
	byNS map[string]map[string]artifact.Artifact
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byNS: make(map[string]map[string]artifact.Artifact)}
}

func (r *Registry) Put(_ context.Context, a artifact.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.byNS[a.TenantID]
	if !ok {
		bucket = make(map[string]artifact.Artifact)
		r.byNS[a.TenantID] = bucket
	}
	bucket[a.ID] = a
	return nil
}

func (r *Registry) Get(_ context.Context, tenantID, artifactID string) (artifact.Artifact, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byNS[tenantID][artifactID]
	return a, ok, nil
}

func (r *Registry) List(_ context.Context, tenantID string, filter artifact.ListFilter) ([]artifact.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []artifact.Artifact
	for _, a := range r.byNS[tenantID] {
		if matches(a, filter) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) ListVersions(_ context.Context, tenantID, baseArtifactID string) ([]artifact.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []artifact.Artifact
	for _, a := range r.byNS[tenantID] {
		if a.BaseArtifactID == baseArtifactID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (r *Registry) Delete(_ context.Context, tenantID, artifactID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byNS[tenantID], artifactID)
	return nil
}

func matches(a artifact.Artifact, f artifact.ListFilter) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.SessionID != "" && a.SessionID != f.SessionID {
		return false
	}
	if f.SolutionID != "" && a.SolutionID != f.SolutionID {
		return false
	}
	if f.LifecycleState != "" && a.LifecycleState != f.LifecycleState {
		return false
	}
	if f.Owner != "" && a.Owner != f.Owner {
		return false
	}
	if f.Purpose != "" && a.Purpose != f.Purpose {
		return false
	}
	if f.CurrentVersionOnly && !a.IsCurrentVersion {
		return false
	}
	return true
}

// BlobStore is an in-memory artifact.BlobStore keyed by a generated storage
// path of the form tenant/artifact/blob id; paths are not derived from content.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func (b *BlobStore) Put(_ context.Context, tenantID, artifactID string, payload []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	path := tenantID + "/" + artifactID + "/" + clock.NewID("blob")
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.objects[path] = cp
	return path, nil
}

func (b *BlobStore) Get(_ context.Context, storagePath string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.objects[storagePath]
	if !ok {
		return nil, ferrors.New(ferrors.Validation, "no blob at storage path %q", storagePath)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (b *BlobStore) Delete(_ context.Context, storagePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, storagePath)
	return nil
}

var (
	_ artifact.Registry  = (*Registry)(nil)
	_ artifact.BlobStore = (*BlobStore)(nil)
)
