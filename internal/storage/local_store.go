package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Root() string {
	return s.root
}

// resolve maps a stored path back into the media root, rejecting anything
// that escapes it.
func (s *LocalStore) resolve(path string) (string, error) {
	if path == "" {
		return "", ErrInvalidPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	clean := filepath.Clean(path)
	rel, err := filepath.Rel(s.root, clean)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return clean, nil
}

func (s *LocalStore) Save(ctx context.Context, key string, r io.Reader, _ int64, _ string) (string, int64, error) {
	dst, err := s.resolve(key)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", 0, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", 0, fmt.Errorf("rename blob: %w", err)
	}
	return dst, written, nil
}

func (s *LocalStore) Open(_ context.Context, path string) (Blob, error) {
	p, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, mapFSError(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, mapFSError(err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrBlobNotFound
	}
	return &fileBlob{File: f, size: info.Size()}, nil
}

func (s *LocalStore) Stat(_ context.Context, path string) (int64, error) {
	p, err := s.resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, mapFSError(err)
	}
	if !info.Mode().IsRegular() {
		return 0, ErrBlobNotFound
	}
	return info.Size(), nil
}

func (s *LocalStore) Remove(_ context.Context, path string) error {
	p, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return mapFSError(err)
	}
	return nil
}

func mapFSError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrBlobNotFound, err)
	}
	return err
}

type fileBlob struct {
	*os.File
	size int64
}

func (b *fileBlob) Size() int64 {
	return b.size
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Store = (*LocalStore)(nil)
