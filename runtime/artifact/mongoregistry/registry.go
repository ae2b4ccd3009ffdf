// Package mongoregistry implements artifact.Registry over MongoDB, the
// Artifact Plane's durable metadata store (spec §4.8). The collection
// carries a unique (tenantid, id) index and a (tenantid, baseartifactid,
// version) index supporting ListVersions' full parent-chain walk (Open
// Question (b) decision, see DESIGN.md).
package mongoregistry

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/execfabric/fabric/runtime/artifact"
)

const (
	defaultCollection = "fabric_artifacts"
	defaultOpTimeout  = 5 * time.Second
	registryName      = "artifact-mongo"
)

// Options configures the Mongo artifact registry.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Registry is an artifact.Registry over a single Mongo collection.
type Registry struct {
	mongo   *mongodriver.Client
	coll    collection
	timeout time.Duration
}

// New returns a Registry, ensuring its indexes exist.
func New(opts Options) (*Registry, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &Registry{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

// Name identifies this registry to a health.Checker.
func (r *Registry) Name() string { return registryName }

// Ping reports the backing Mongo connection's health.
func (r *Registry) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return r.mongo.Ping(ctx, readpref.Primary())
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Registry) Put(ctx context.Context, a artifact.Artifact) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenantid": a.TenantID, "id": a.ID}
	update := bson.M{"$set": a}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (r *Registry) Get(ctx context.Context, tenantID, artifactID string) (artifact.Artifact, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	var a artifact.Artifact
	err := r.coll.FindOne(ctx, bson.M{"tenantid": tenantID, "id": artifactID}).Decode(&a)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return artifact.Artifact{}, false, nil
		}
		return artifact.Artifact{}, false, err
	}
	return a, true, nil
}

func (r *Registry) List(ctx context.Context, tenantID string, f artifact.ListFilter) ([]artifact.Artifact, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenantid": tenantID}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.SessionID != "" {
		filter["sessionid"] = f.SessionID
	}
	if f.SolutionID != "" {
		filter["solutionid"] = f.SolutionID
	}
	if f.LifecycleState != "" {
		filter["lifecyclestate"] = f.LifecycleState
	}
	if f.Owner != "" {
		filter["owner"] = f.Owner
	}
	if f.Purpose != "" {
		filter["purpose"] = f.Purpose
	}
	if f.CurrentVersionOnly {
		filter["iscurrentversion"] = true
	}
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cur)
}

func (r *Registry) ListVersions(ctx context.Context, tenantID, baseArtifactID string) ([]artifact.Artifact, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	cur, err := r.coll.Find(ctx, bson.M{"tenantid": tenantID, "baseartifactid": baseArtifactID})
	if err != nil {
		return nil, err
	}
	out, err := decodeAll(ctx, cur)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Version > out[j].Version; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

func (r *Registry) Delete(ctx context.Context, tenantID, artifactID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	_, err := r.coll.DeleteOne(ctx, bson.M{"tenantid": tenantID, "id": artifactID})
	return err
}

func decodeAll(ctx context.Context, cur cursor) ([]artifact.Artifact, error) {
	var out []artifact.Artifact
	for cur.Next(ctx) {
		var a artifact.Artifact
		if err := cur.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, cur.Err()
}

func ensureIndexes(ctx context.Context, coll collection) error {
	models := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "tenantid", Value: 1}, {Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "tenantid", Value: 1}, {Key: "baseartifactid", Value: 1}, {Key: "version", Value: 1}}},
	}
	for _, m := range models {
		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	DeleteOne(ctx context.Context, filter any) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}

var _ artifact.Registry = (*Registry)(nil)
