// Package blob defines remote blob storage for backup bundles.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob exists at the requested key.
var ErrNotFound = errors.New("blob not found")

// Storage stores opaque byte blobs addressed by key, e.g.
// backups/<userID>/<backupID>.json.
type Storage interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
}
