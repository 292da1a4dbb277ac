// Package blob stores and retrieves raw document bytes, either on the
// local filesystem or in an S3-compatible object store.
package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/storage"
)

// ErrNotFound signals that no blob exists under the requested key. It is
// distinct from transport failures, which are returned wrapped.
var ErrNotFound = errors.New("blob not found")

// Store is the narrow contract over a blob backend. Keys are flat names
// assigned at upload time; backends never interpret them as paths.
// Delete is idempotent: removing a missing key is not an error.
type Store interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Kind() storage.StorageType
}

// New builds the blob store selected by cfg.Kind.
func New(ctx context.Context, cfg config.BlobConfig, logger *observability.Logger) (Store, error) {
	switch cfg.Kind {
	case "local":
		return NewLocalStore(cfg.Local.Dir)
	case "s3":
		return NewS3Store(ctx, cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unknown blob store kind %q", cfg.Kind)
	}
}
