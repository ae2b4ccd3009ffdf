package mongoregistry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/execfabric/fabric/runtime/artifact"
)

func TestEnsureIndexesCreatesBothIndexes(t *testing.T) {
	coll := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), coll))
	require.Equal(t, 2, coll.indexCreated)
}

func TestPutGetDelete(t *testing.T) {
	r := &Registry{coll: newFakeCollection(), timeout: time.Second}
	ctx := context.Background()

	a := artifact.Artifact{TenantID: "t1", ID: "a1", Type: "sop", Version: 1}
	require.NoError(t, r.Put(ctx, a))

	got, ok, err := r.Get(ctx, "t1", "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sop", got.Type)

	require.NoError(t, r.Delete(ctx, "t1", "a1"))
	_, ok, err = r.Get(ctx, "t1", "a1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	r := &Registry{coll: newFakeCollection(), timeout: time.Second}
	_, ok, err := r.Get(context.Background(), "t1", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListFiltersByTenantAndType(t *testing.T) {
	r := &Registry{coll: newFakeCollection(), timeout: time.Second}
	ctx := context.Background()
	require.NoError(t, r.Put(ctx, artifact.Artifact{TenantID: "t1", ID: "a1", Type: "sop"}))
	require.NoError(t, r.Put(ctx, artifact.Artifact{TenantID: "t1", ID: "a2", Type: "workflow"}))
	require.NoError(t, r.Put(ctx, artifact.Artifact{TenantID: "t2", ID: "a3", Type: "sop"}))

	out, err := r.List(ctx, "t1", artifact.ListFilter{Type: "sop"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a1", out[0].ID)
}

func TestListVersionsReturnsSortedByVersion(t *testing.T) {
	r := &Registry{coll: newFakeCollection(), timeout: time.Second}
	ctx := context.Background()
	require.NoError(t, r.Put(ctx, artifact.Artifact{TenantID: "t1", ID: "a2", BaseArtifactID: "a1", Version: 2}))
	require.NoError(t, r.Put(ctx, artifact.Artifact{TenantID: "t1", ID: "a1", BaseArtifactID: "a1", Version: 1}))
	require.NoError(t, r.Put(ctx, artifact.Artifact{TenantID: "t1", ID: "a3", BaseArtifactID: "a1", Version: 3}))

	out, err := r.ListVersions(ctx, "t1", "a1")
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, 1, out[0].Version)
	require.Equal(t, 2, out[1].Version)
	require.Equal(t, 3, out[2].Version)
}

type fakeCollection struct {
	mu           sync.Mutex
	docs         map[string]artifact.Artifact
	indexCreated int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]artifact.Artifact)}
}

func docKey(tenantID, id string) string { return tenantID + "/" + id }

func filterFields(filter any) (tenantID, id, baseArtifactID, artifactType string) {
	m, ok := filter.(bson.M)
	if !ok {
		return "", "", "", ""
	}
	tenantID, _ = m["tenantid"].(string)
	id, _ = m["id"].(string)
	baseArtifactID, _ = m["baseartifactid"].(string)
	artifactType, _ = m["type"].(string)
	return
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	tenantID, id, _, _ := filterFields(filter)
	a, ok := c.docs[docKey(tenantID, id)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	cp := a
	return fakeSingleResult{doc: &cp}
}

func (c *fakeCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tenantID, _, baseArtifactID, artifactType := filterFields(filter)
	var matched []artifact.Artifact
	for _, a := range c.docs {
		if a.TenantID != tenantID {
			continue
		}
		if baseArtifactID != "" && a.BaseArtifactID != baseArtifactID {
			continue
		}
		if artifactType != "" && a.Type != artifactType {
			continue
		}
		matched = append(matched, a)
	}
	return &fakeCursor{docs: matched, idx: -1}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any,
	_ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tenantID, id, _, _ := filterFields(filter)
	up, ok := update.(bson.M)
	if !ok {
		return nil, errors.New("unsupported update")
	}
	a, ok := up["$set"].(artifact.Artifact)
	if !ok {
		return nil, errors.New("unsupported $set payload")
	}
	c.docs[docKey(tenantID, id)] = a
	return &mongodriver.UpdateResult{}, nil
}

func (c *fakeCollection) DeleteOne(_ context.Context, filter any) (*mongodriver.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tenantID, id, _, _ := filterFields(filter)
	delete(c.docs, docKey(tenantID, id))
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

type fakeIndexView struct {
	parent *int
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	*v.parent++
	return "artifact_idx", nil
}

type fakeSingleResult struct {
	doc *artifact.Artifact
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	typed, ok := val.(*artifact.Artifact)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = *r.doc
	return nil
}

type fakeCursor struct {
	docs []artifact.Artifact
	idx  int
}

func (c *fakeCursor) Next(context.Context) bool {
	c.idx++
	return c.idx < len(c.docs)
}

func (c *fakeCursor) Decode(val any) error {
	typed, ok := val.(*artifact.Artifact)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = c.docs[c.idx]
	return nil
}

func (c *fakeCursor) Err() error { return nil }
