package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docsift/docsift/internal/storage"
)

// LocalStore keeps blobs as files under a single directory.
type LocalStore struct {
	dir string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates the directory if needed and returns the store.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local blob store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

// path validates the key and resolves it under the root directory. Keys
// carrying separators or dot-dot segments are rejected so a crafted key
// can never escape the root.
func (s *LocalStore) path(key string) (string, error) {
	if key == "" ||
		strings.ContainsAny(key, `/\`) ||
		strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *LocalStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fetch %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return data, nil
}

func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("blob directory %s: %w", s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob path %s is not a directory", s.dir)
	}
	return nil
}

func (s *LocalStore) Kind() storage.StorageType {
	return storage.StorageLocal
}
