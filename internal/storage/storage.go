package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidPath  = errors.New("invalid blob path")
)

// Blob is an open media blob. ReadAt must be safe for concurrent use so a
// single handle can back independent section readers.
type Blob interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Blobs resolves stored file paths for readers of media content.
type Blobs interface {
	Open(ctx context.Context, path string) (Blob, error)
	Stat(ctx context.Context, path string) (int64, error)
	Remove(ctx context.Context, path string) error
}

// Store is a Blobs that also accepts new uploads.
type Store interface {
	Blobs
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) (path string, written int64, err error)
}

// Router dispatches paths to the object store ("s3://bucket/key") or the
// local filesystem, and sends new uploads to the configured primary store.
type Router struct {
	local   *LocalStore
	objects *ObjectStore
	primary Store
}

func NewRouter(local *LocalStore, objects *ObjectStore, primary Store) *Router {
	return &Router{local: local, objects: objects, primary: primary}
}

func (r *Router) pick(path string) (Blobs, error) {
	if strings.HasPrefix(path, objectScheme) {
		if r.objects == nil {
			return nil, ErrInvalidPath
		}
		return r.objects, nil
	}
	if r.local == nil {
		return nil, ErrInvalidPath
	}
	return r.local, nil
}

func (r *Router) Open(ctx context.Context, path string) (Blob, error) {
	s, err := r.pick(path)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, path)
}

func (r *Router) Stat(ctx context.Context, path string) (int64, error) {
	s, err := r.pick(path)
	if err != nil {
		return 0, err
	}
	return s.Stat(ctx, path)
}

func (r *Router) Remove(ctx context.Context, path string) error {
	s, err := r.pick(path)
	if err != nil {
		return err
	}
	return s.Remove(ctx, path)
}

func (r *Router) Save(ctx context.Context, key string, src io.Reader, size int64, contentType string) (string, int64, error) {
	if r.primary == nil {
		return "", 0, errors.New("no primary store configured")
	}
	return r.primary.Save(ctx, key, src, size, contentType)
}

var _ Store = (*Router)(nil)
