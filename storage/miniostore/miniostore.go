// Package miniostore publishes export archives to an S3-compatible bucket.
package miniostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"xdao.co/ekexport/storage"
)

// Config holds the connection settings for an S3/MinIO endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseTLS    bool
	Bucket    string
	// Prefix is prepended to every object name.
	Prefix string
}

// Store implements storage.Store on a single bucket.
type Store struct {
	mc     *minio.Client
	bucket string
	prefix string
}

var _ storage.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("miniostore: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("miniostore: bucket is required")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, err
	}
	return &Store{mc: mc, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte) (storage.Object, error) {
	if err := storage.CheckName(name); err != nil {
		return storage.Object{}, err
	}
	key := objectKey(s.prefix, name)
	existing, err := s.read(ctx, key)
	switch {
	case err == nil:
		if !bytes.Equal(existing, data) {
			return storage.Object{}, storage.ErrImmutable
		}
		return storage.NewObject(name, s.location(key), data)
	case !storage.IsNotFound(err):
		return storage.Object{}, err
	}

	_, err = s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: storage.ContentType(name),
	})
	if err != nil {
		return storage.Object{}, fmt.Errorf("miniostore: put %s: %w", key, err)
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
	_, err := s.mc.StatObject(ctx, s.bucket, objectKey(s.prefix, name), minio.StatObjectOptions{})
	return err == nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.mc.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapErr(err)
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapErr(err)
	}
	return b, nil
}

func (s *Store) location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func mapErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return storage.ErrNotFound
	default:
		return err
	}
}
