// Package minio implements store.BlobStore on any S3-compatible service
// through the MinIO client.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shineum/ses-forwarder/internal/store"
)

// Config holds the configuration for creating a Store.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Secure          bool
}

// Store keeps objects in a bucket of an S3-compatible service.
type Store struct {
	cl     *minio.Client
	bucket string
}

// New creates a Store. Endpoint is host[:port] without a scheme.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio: endpoint not set")
	}

	cl, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &Store{cl: cl, bucket: cfg.Bucket}, nil
}

// Put stores data under key, replacing any existing object.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.cl.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Get returns the object stored under key, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.cl.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrapGetErr(key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.wrapGetErr(key, err)
	}
	return data, nil
}

func (s *Store) wrapGetErr(key string, err error) error {
	if minio.ToErrorResponse(err).StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s/%s: %w", s.bucket, key, store.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s/%s: %w", s.bucket, key, err)
}

// List returns every key under prefix in lexical order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.cl.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", s.bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return "minio"
}
