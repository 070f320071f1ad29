// Package localfs stores export archives as plain files under a directory.
package localfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"xdao.co/ekexport/storage"
)

// Store is a local filesystem-backed storage.Store.
//
// Objects are written once with O_EXCL and never overwritten. Object names
// map directly to relative paths under the root.
type Store struct {
	root string
}

var _ storage.Store = (*Store)(nil)

// New constructs a filesystem store rooted at root. The directory will be created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) Put(ctx context.Context, name string, data []byte) (storage.Object, error) {
	if err := storage.CheckName(name); err != nil {
		return storage.Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return storage.Object{}, err
	}

	path := s.pathFor(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return storage.Object{}, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil {
				return storage.Object{}, fmt.Errorf("localfs: read existing %s: %w", name, rerr)
			}
			if !bytes.Equal(existing, data) {
				return storage.Object{}, storage.ErrImmutable
			}
			return storage.NewObject(name, path, data)
		}
		return storage.Object{}, err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return storage.Object{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return storage.Object{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return storage.Object{}, err
	}
	return storage.NewObject(name, path, data)
}

func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	if err := storage.CheckName(name); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.pathFor(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) Has(ctx context.Context, name string) bool {
	if storage.CheckName(name) != nil {
		return false
	}
	_, err := os.Stat(s.pathFor(name))
	return err == nil
}

func (s *Store) pathFor(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}
