package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage archives raw tool payloads so any ranked result can be traced
// back to the exact source response, even after the in-memory run context
// is gone. Keys are slash-delimited paths under the run ID.
type Storage interface {
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type gcsStorage struct {
	bucket *storage.BucketHandle
}

// NewStorage opens a Cloud Storage backed archive over one bucket.
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucketName))
	}
	return &gcsStorage{bucket: client.Bucket(bucketName)}, nil
}

func (s *gcsStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return s.bucket.Object(key).NewWriter(ctx), nil
}

func (s *gcsStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read archived payload", goerr.V("key", key))
	}
	return r, nil
}
