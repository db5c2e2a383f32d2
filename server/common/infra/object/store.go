package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

// Location names one of the logical storage areas an object can live in.
type Location string

const (
	LocationStaging    Location = "staging"
	LocationPermanent  Location = "permanent"
	LocationDerivative Location = "derivative"
)

// Store is the capability surface the pipeline needs from object storage.
// Implementations map each Location to a concrete bucket.
type Store interface {
	Read(ctx context.Context, loc Location, key string) ([]byte, error)
	Write(ctx context.Context, loc Location, key string, data []byte, contentType string) error
	Copy(ctx context.Context, srcLoc Location, srcKey string, dstLoc Location, dstKey string) error
	Delete(ctx context.Context, loc Location, key string) error
	PresignPut(ctx context.Context, loc Location, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, loc Location, key string, ttl time.Duration) (string, error)
	BucketFor(loc Location) string
}

type Buckets struct {
	Staging    string
	Permanent  string
	Derivative string
}

type MinIOStore struct {
	client  *minio.Client
	buckets Buckets
}

func NewMinIOStore(client *minio.Client, buckets Buckets) *MinIOStore {
	return &MinIOStore{client: client, buckets: buckets}
}

func (s *MinIOStore) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.buckets.Staging, s.buckets.Permanent, s.buckets.Derivative} {
		if err := EnsureBucket(ctx, s.client, bucket); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", bucket, err)
		}
	}
	return nil
}

func (s *MinIOStore) BucketFor(loc Location) string {
	switch loc {
	case LocationStaging:
		return s.buckets.Staging
	case LocationPermanent:
		return s.buckets.Permanent
	case LocationDerivative:
		return s.buckets.Derivative
	}
	return ""
}

func (s *MinIOStore) Read(ctx context.Context, loc Location, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.BucketFor(loc), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *MinIOStore) Write(ctx context.Context, loc Location, key string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.BucketFor(loc), key, reader, int64(reader.Len()), minio.PutObjectOptions{ContentType: contentType})
	return err
}

func (s *MinIOStore) Copy(ctx context.Context, srcLoc Location, srcKey string, dstLoc Location, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.BucketFor(dstLoc), Object: dstKey},
		minio.CopySrcOptions{Bucket: s.BucketFor(srcLoc), Object: srcKey},
	)
	return err
}

func (s *MinIOStore) Delete(ctx context.Context, loc Location, key string) error {
	return s.client.RemoveObject(ctx, s.BucketFor(loc), key, minio.RemoveObjectOptions{})
}

func (s *MinIOStore) PresignPut(ctx context.Context, loc Location, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.BucketFor(loc), key, ttl)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *MinIOStore) PresignGet(ctx context.Context, loc Location, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.BucketFor(loc), key, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
