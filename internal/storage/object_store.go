package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"nodevideo/internal/config"
)

const objectScheme = "s3://"

type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

func (s *ObjectStore) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, int64, error) {
	if size <= 0 {
		size = -1
	}
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", 0, fmt.Errorf("put object: %w", err)
	}
	return FormatObjectPath(s.cfg.Bucket, key), info.Size, nil
}

func (s *ObjectStore) Open(ctx context.Context, path string) (Blob, error) {
	bucket, key, err := ParseObjectPath(path)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapObjectError(err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, mapObjectError(err)
	}
	return &objectBlob{Object: obj, size: info.Size}, nil
}

func (s *ObjectStore) Stat(ctx context.Context, path string) (int64, error) {
	bucket, key, err := ParseObjectPath(path)
	if err != nil {
		return 0, err
	}
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, mapObjectError(err)
	}
	return info.Size, nil
}

func (s *ObjectStore) Remove(ctx context.Context, path string) error {
	bucket, key, err := ParseObjectPath(path)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapObjectError(err)
	}
	return nil
}

func FormatObjectPath(bucket, key string) string {
	return objectScheme + bucket + "/" + strings.TrimPrefix(key, "/")
}

func ParseObjectPath(path string) (bucket string, key string, err error) {
	if !strings.HasPrefix(path, objectScheme) {
		return "", "", ErrInvalidPath
	}
	rest := strings.TrimPrefix(path, objectScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrInvalidPath
	}
	return bucket, key, nil
}

func mapObjectError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrBlobNotFound, err)
	}
	return err
}

type objectBlob struct {
	*minio.Object
	size int64
}

func (b *objectBlob) Size() int64 {
	return b.size
}

var _ Store = (*ObjectStore)(nil)
