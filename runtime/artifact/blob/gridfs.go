// Package blob implements artifact.BlobStore over MongoDB GridFS, the
// Artifact Plane's payload store for content too large to inline in a
// registry document (spec §4.8).
package blob

import (
	"context"
	"errors"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/execfabric/fabric/runtime/artifact"
	"github.com/execfabric/fabric/runtime/ferrors"
)

const defaultOpTimeout = 30 * time.Second

// Options configures the GridFS-backed BlobStore.
type Options struct {
	Database *mongodriver.Database
	Timeout  time.Duration
}

// Store is an artifact.BlobStore over a GridFS bucket. Storage paths are
// the GridFS file id's hex string; the upload filename is tenant/artifact
// for debuggability.
type Store struct {
	bucket  *mongodriver.GridFSBucket
	timeout time.Duration
}

// New returns a Store backed by db's default GridFS bucket.
func New(opts Options) (*Store, error) {
	if opts.Database == nil {
		return nil, errors.New("mongo database is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{bucket: opts.Database.GridFSBucket(), timeout: timeout}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Put uploads payload under a filename scoped to tenantID/artifactID and
// returns the GridFS file id's hex string as the storage path.
func (s *Store) Put(ctx context.Context, tenantID, artifactID string, payload []byte) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filename := tenantID + "/" + artifactID
	upload, err := s.bucket.OpenUploadStream(ctx, filename)
	if err != nil {
		return "", ferrors.Wrap(ferrors.BackendUnavailable, err, "gridfs open upload stream failed")
	}
	if _, err := upload.Write(payload); err != nil {
		_ = upload.Close()
		return "", ferrors.Wrap(ferrors.BackendUnavailable, err, "gridfs write failed")
	}
	if err := upload.Close(); err != nil {
		return "", ferrors.Wrap(ferrors.BackendUnavailable, err, "gridfs close upload stream failed")
	}
	hex, ok := objectIDHex(upload.FileID)
	if !ok {
		return "", ferrors.New(ferrors.BackendUnavailable, "gridfs returned a non-ObjectID file id")
	}
	return hex, nil
}

// objectIDHex extracts the hex string of a GridFS file id whose underlying
// value is a bson.ObjectID. Taking it as `any` keeps this working whether
// GridFSUploadStream.FileID is itself declared `any` or bson.ObjectID.
func objectIDHex(fileID any) (string, bool) {
	id, ok := fileID.(bson.ObjectID)
	if !ok {
		return "", false
	}
	return id.Hex(), true
}

// Get downloads the payload stored at storagePath.
func (s *Store) Get(ctx context.Context, storagePath string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	id, err := bson.ObjectIDFromHex(storagePath)
	if err != nil {
		return nil, ferrors.New(ferrors.Validation, "invalid gridfs storage path %q", storagePath)
	}
	download, err := s.bucket.OpenDownloadStream(ctx, id)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.BackendUnavailable, err, "gridfs open download stream failed")
	}
	defer download.Close()
	payload, err := io.ReadAll(download)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.BackendUnavailable, err, "gridfs read failed")
	}
	return payload, nil
}

// Delete removes the GridFS file at storagePath.
func (s *Store) Delete(ctx context.Context, storagePath string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	id, err := bson.ObjectIDFromHex(storagePath)
	if err != nil {
		return ferrors.New(ferrors.Validation, "invalid gridfs storage path %q", storagePath)
	}
	if err := s.bucket.Delete(ctx, id); err != nil {
		return ferrors.Wrap(ferrors.BackendUnavailable, err, "gridfs delete failed")
	}
	return nil
}

var _ artifact.BlobStore = (*Store)(nil)
