// Package gcsstore publishes export archives to a Google Cloud Storage bucket.
package gcsstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"xdao.co/ekexport/storage"
)

// Config selects the bucket and optional emulator endpoint.
type Config struct {
	Bucket string
	Prefix string
	// Endpoint overrides the API endpoint, e.g. a fake-gcs-server emulator.
	// Authentication is disabled when it is set.
	Endpoint string
	// CacheControl is applied to new objects; CDNs in front of export
	// buckets honour it.
	CacheControl string
}

// Store implements storage.Store on a single GCS bucket.
type Store struct {
	client       *gcs.Client
	bucket       *gcs.BucketHandle
	bucketName   string
	prefix       string
	cacheControl string
}

var _ storage.Store = (*Store)(nil)

// New creates a client using application default credentials unless
// cfg.Endpoint is set.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcsstore: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: new client: %w", err)
	}
	return &Store{
		client:       client,
		bucket:       client.Bucket(cfg.Bucket),
		bucketName:   cfg.Bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		cacheControl: cfg.CacheControl,
	}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Put(ctx context.Context, name string, data []byte) (storage.Object, error) {
	if err := storage.CheckName(name); err != nil {
		return storage.Object{}, err
	}
	key := objectKey(s.prefix, name)

	// DoesNotExist makes the write fail with 412 instead of replacing an
	// existing object.
	w := s.bucket.Object(key).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = storage.ContentType(name)
	w.CacheControl = s.cacheControl
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return storage.Object{}, fmt.Errorf("gcsstore: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		if !isPreconditionFailed(err) {
			return storage.Object{}, fmt.Errorf("gcsstore: close %s: %w", key, err)
		}
		existing, rerr := s.read(ctx, key)
		if rerr != nil || !bytes.Equal(existing, data) {
			return storage.Object{}, storage.ErrImmutable
		}
	}
	return storage.NewObject(name, s.location(key), data)
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := storage.CheckName(name); err != nil {
		return nil, err
	}
	return s.read(ctx, objectKey(s.prefix, name))
}

func (s *Store) Has(ctx context.Context, name string) bool {
	if storage.CheckName(name) != nil {
		return false
	}
	_, err := s.bucket.Object(objectKey(s.prefix, name)).Attrs(ctx)
	return err == nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *Store) location(key string) string {
	return "gs://" + s.bucketName + "/" + key
}

func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
