// Package mongo hosts the MongoDB client backing the durable session store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/execfabric/fabric/runtime/session"
)

const (
	defaultSessionsCollection = "fabric_sessions"
	defaultOpTimeout          = 5 * time.Second
	sessionClientName         = "session-mongo"
)

// Client exposes Mongo-backed operations matching session.Store, scoped by
// (session id, tenant namespace) exactly like session.Store requires.
type Client interface {
	health.Pinger

	Put(ctx context.Context, s session.Session) error
	Get(ctx context.Context, sessionID, tenantID string) (session.Session, error)
	Delete(ctx context.Context, sessionID, tenantID string) error
	Touch(ctx context.Context, sessionID, tenantID string, at time.Time) error
}

// Options configures the Mongo session client.
type Options struct {
	Client             *mongodriver.Client
	Database           string
	SessionsCollection string
	Timeout            time.Duration
}

type client struct {
	mongo    *mongodriver.Client
	sessions collection
	timeout  time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	sessionsCollection := opts.SessionsCollection
	if sessionsCollection == "" {
		sessionsCollection = defaultSessionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	sessColl := opts.Client.Database(opts.Database).Collection(sessionsCollection)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	sessWrapper := mongoCollection{coll: sessColl}
	if err := ensureIndexes(ctx, sessWrapper); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, sessions: sessWrapper, timeout: timeout}, nil
}

func (c *client) Name() string {
	return sessionClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func namespace(tenantID string) string {
	if tenantID == "" {
		return session.AnonymousTenant
	}
	return tenantID
}

func (c *client) Put(ctx context.Context, s session.Session) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	ns := namespace(s.TenantID)
	doc := fromSession(s)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": s.ID, "namespace": ns}
	update := bson.M{"$set": doc}
	_, err := c.sessions.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) Get(ctx context.Context, sessionID, tenantID string) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, errors.New("session id is required")
	}
	ns := namespace(tenantID)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID, "namespace": ns}
	var doc sessionDocument
	if err := c.sessions.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Session{}, session.ErrSessionNotFound
		}
		return session.Session{}, err
	}
	return doc.toSession(), nil
}

func (c *client) Delete(ctx context.Context, sessionID, tenantID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	ns := namespace(tenantID)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.sessions.DeleteOne(ctx, bson.M{"session_id": sessionID, "namespace": ns})
	return err
}

func (c *client) Touch(ctx context.Context, sessionID, tenantID string, at time.Time) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	ns := namespace(tenantID)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": sessionID, "namespace": ns}
	update := bson.M{"$set": bson.M{"updated_at": at.UTC()}}
	res, err := c.sessions.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res != nil && res.MatchedCount == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type sessionDocument struct {
	SessionID         string         `bson:"session_id"`
	Namespace         string         `bson:"namespace"`
	TenantID          string         `bson:"tenant_id,omitempty"`
	UserID            string         `bson:"user_id,omitempty"`
	ExecutionContract map[string]any `bson:"execution_contract,omitempty"`
	Anonymous         bool           `bson:"anonymous"`
	Metadata          map[string]any `bson:"metadata,omitempty"`
	CreatedAt         time.Time      `bson:"created_at"`
	UpdatedAt         time.Time      `bson:"updated_at"`
	UpgradedAt        *time.Time     `bson:"upgraded_at,omitempty"`
}

func fromSession(s session.Session) sessionDocument {
	return sessionDocument{
		SessionID:         s.ID,
		Namespace:         namespace(s.TenantID),
		TenantID:          s.TenantID,
		UserID:            s.UserID,
		ExecutionContract: cloneMap(s.ExecutionContract),
		Anonymous:         s.Anonymous,
		Metadata:          cloneMap(s.Metadata),
		CreatedAt:         s.CreatedAt.UTC(),
		UpdatedAt:         s.UpdatedAt.UTC(),
		UpgradedAt:        s.UpgradedAt,
	}
}

func (doc sessionDocument) toSession() session.Session {
	return session.Session{
		ID:                doc.SessionID,
		TenantID:          doc.TenantID,
		UserID:            doc.UserID,
		ExecutionContract: cloneMap(doc.ExecutionContract),
		Anonymous:         doc.Anonymous,
		Metadata:          cloneMap(doc.Metadata),
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
		UpgradedAt:        doc.UpgradedAt,
	}
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func ensureIndexes(ctx context.Context, sessionsColl collection) error {
	uniqueIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "namespace", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := sessionsColl.Indexes().CreateOne(ctx, uniqueIndex)
	return err
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
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

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
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

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
